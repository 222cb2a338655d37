// Package media holds the audio helpers of the data file pages: downloaded
// blobs, a headless player state machine and waveform envelopes.
package media

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/logger"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/portal"
)

// ErrReleased is returned when a released blob is opened.
var ErrReleased = errors.NewStd("blob has been released")

// Downloader streams a binary endpoint. api.Client implements it.
type Downloader interface {
	Download(ctx context.Context, path string) (io.ReadCloser, string, error)
}

// Blob is a downloaded file held on local disk until released.
type Blob struct {
	path        string
	contentType string
	size        int64

	mu       sync.Mutex
	released bool
}

// NewBlob copies r into a temporary file.
func NewBlob(r io.Reader, contentType string) (*Blob, error) {
	f, err := os.CreateTemp("", "pam-blob-*")
	if err != nil {
		return nil, errors.New(err).
			Component("media").
			Category(errors.CategoryFileIO).
			Context("operation", "create_blob").
			Build()
	}
	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(f.Name())
		return nil, errors.New(err).
			Component("media").
			Category(errors.CategoryFileIO).
			Context("operation", "write_blob").
			Build()
	}
	return &Blob{path: f.Name(), contentType: contentType, size: n}, nil
}

// FetchBlob downloads a data file's audio into a Blob.
func FetchBlob(ctx context.Context, d Downloader, fileID int64) (*Blob, error) {
	body, contentType, err := d.Download(ctx, portal.DownloadPath(fileID))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := body.Close(); err != nil {
			logger.Global().Module("media").Debug("failed to close download body", logger.Error(err))
		}
	}()
	return NewBlob(body, contentType)
}

// Open returns a reader over the blob's contents.
func (b *Blob) Open() (*os.File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil, errors.New(ErrReleased).
			Component("media").
			Category(errors.CategoryState).
			Build()
	}
	f, err := os.Open(b.path)
	if err != nil {
		return nil, errors.New(err).
			Component("media").
			Category(errors.CategoryFileIO).
			Context("operation", "open_blob").
			Build()
	}
	return f, nil
}

// Release deletes the blob's file. It is safe to call more than once.
func (b *Blob) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil
	}
	b.released = true
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		return errors.New(err).
			Component("media").
			Category(errors.CategoryFileIO).
			Context("operation", "release_blob").
			Build()
	}
	return nil
}

// Released reports whether Release was called.
func (b *Blob) Released() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

func (b *Blob) Size() int64         { return b.size }
func (b *Blob) ContentType() string { return b.contentType }
