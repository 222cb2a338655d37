// Package upload registers local audio recordings with a deployment. The
// Wizard asks, file by file, whether each recording is new (with its
// recording date) or replaces a file the backend already knows, then submits
// everything in one multipart request.
package upload

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/logger"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/observability/metrics"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/querycache"
)

// RegisterPath is the backend endpoint receiving the upload.
const RegisterPath = "/api/datafile/register_audio_files/"

// DefaultRemotePath is the storage path reported for uploaded files.
const DefaultRemotePath = "/usr/src/proj_tabmon_NINA"

// recordingTimeLayout is RFC 3339 in UTC with millisecond precision.
const recordingTimeLayout = "2006-01-02T15:04:05.000Z"

// AllowedExtensions are the accepted audio file extensions.
var AllowedExtensions = []string{".wav", ".mp3", ".flac"}

var (
	// ErrCancelled is returned by every step after Cancel.
	ErrCancelled = errors.NewStd("upload cancelled")
	// ErrIncomplete is returned by Submit while files are still unanswered.
	ErrIncomplete = errors.NewStd("upload has unanswered files")
	// ErrNoPendingFile is returned when every file is already answered.
	ErrNoPendingFile = errors.NewStd("no file is waiting for an answer")
	// ErrSubmitted is returned when Submit already succeeded.
	ErrSubmitted = errors.NewStd("upload already submitted")
)

// Poster sends a multipart request. api.Client implements it.
type Poster interface {
	PostMultipart(ctx context.Context, path string, build func(*multipart.Writer) error, out any) (int, error)
}

// File is one local recording to upload. Open is called once per request
// attempt.
type File struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// LocalFile describes a file on disk.
func LocalFile(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, errors.New(err).
			Component("upload").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if info.IsDir() {
		return File{}, errors.ValidationError(path + " is a directory")
	}
	return File{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// Config wires a Wizard.
type Config struct {
	Poster Poster
	// Cache is settled after a successful upload. Optional.
	Cache      *querycache.Cache
	Metrics    *metrics.ClientMetrics
	RemotePath string
}

// answer is the user's choice for one file.
type answer struct {
	recordingDT time.Time
	existingID  int64
}

// Wizard collects one answer per file, then submits. Safe for concurrent use.
type Wizard struct {
	cfg  Config
	site string
	log  logger.Logger

	mu        sync.Mutex
	files     []File
	answers   []answer
	cancelled bool
	submitted bool
}

func validExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// NewWizard starts a wizard for files destined for site. Every file must have
// an allowed extension.
func NewWizard(cfg Config, site string, files []File) (*Wizard, error) {
	site = strings.TrimSpace(site)
	if site == "" {
		return nil, errors.ValidationError("site_name is required")
	}
	if len(files) == 0 {
		return nil, errors.ValidationError("no audio files provided")
	}
	for _, f := range files {
		if !validExtension(f.Name) {
			return nil, errors.New(errors.NewStd("unsupported audio file type: "+f.Name)).
				Component("upload").
				Category(errors.CategoryValidation).
				Context("allowed", strings.Join(AllowedExtensions, ",")).
				Build()
		}
		if f.Open == nil {
			return nil, errors.ValidationError("file " + f.Name + " has no content")
		}
	}
	if cfg.Poster == nil {
		return nil, errors.Newf("upload wizard requires a poster").
			Component("upload").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.RemotePath == "" {
		cfg.RemotePath = DefaultRemotePath
	}
	return &Wizard{
		cfg:   cfg,
		site:  site,
		files: append([]File(nil), files...),
		log:   logger.Global().Module("upload").With(logger.String("site", site)),
	}, nil
}

func stateError(err error) error {
	return errors.New(err).Component("upload").Category(errors.CategoryState).Build()
}

// Current returns the file awaiting an answer.
func (w *Wizard) Current() (File, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelled || len(w.answers) >= len(w.files) {
		return File{}, false
	}
	return w.files[len(w.answers)], true
}

// Remaining returns how many files still need an answer.
func (w *Wizard) Remaining() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelled {
		return 0
	}
	return len(w.files) - len(w.answers)
}

// Complete reports whether every file has been answered.
func (w *Wizard) Complete() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.cancelled && len(w.answers) == len(w.files)
}

func (w *Wizard) answer(a answer) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.cancelled:
		return stateError(ErrCancelled)
	case w.submitted:
		return stateError(ErrSubmitted)
	case len(w.answers) >= len(w.files):
		return stateError(ErrNoPendingFile)
	}
	w.answers = append(w.answers, a)
	return nil
}

// New registers the current file as a new recording made at recordedAt.
func (w *Wizard) New(recordedAt time.Time) error {
	if recordedAt.IsZero() {
		return errors.ValidationError("recording date is required")
	}
	return w.answer(answer{recordingDT: recordedAt})
}

// Existing marks the current file as an update of data file id.
func (w *Wizard) Existing(id int64) error {
	if id <= 0 {
		return errors.ValidationError("existing file id must be positive")
	}
	return w.answer(answer{existingID: id})
}

// Cancel discards every answer. The wizard cannot be used afterwards.
func (w *Wizard) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelled = true
	w.answers = nil
}

// audioFileEntry is one element of the audioFiles form field.
type audioFileEntry struct {
	ID          int64  `json:"id,omitempty"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"fileSize"`
	RecordingDT string `json:"recording_dt,omitempty"`
	Path        string `json:"path"`
	LocalPath   string `json:"local_path"`
	FileFormat  string `json:"file_format"`
}

func (w *Wizard) entries() []audioFileEntry {
	out := make([]audioFileEntry, len(w.files))
	for i, f := range w.files {
		a := w.answers[i]
		e := audioFileEntry{
			ID:         a.existingID,
			FileName:   f.Name,
			FileSize:   f.Size,
			Path:       w.cfg.RemotePath,
			FileFormat: strings.TrimPrefix(filepath.Ext(f.Name), "."),
		}
		if !a.recordingDT.IsZero() {
			e.RecordingDT = a.recordingDT.UTC().Format(recordingTimeLayout)
		}
		out[i] = e
	}
	return out
}

// Submit uploads every file in one request. It fails unless every file has
// been answered.
func (w *Wizard) Submit(ctx context.Context) (Result, error) {
	w.mu.Lock()
	switch {
	case w.cancelled:
		w.mu.Unlock()
		return Result{}, stateError(ErrCancelled)
	case w.submitted:
		w.mu.Unlock()
		return Result{}, stateError(ErrSubmitted)
	case len(w.answers) < len(w.files):
		w.mu.Unlock()
		return Result{}, stateError(ErrIncomplete)
	}
	files := w.files
	manifest, err := json.Marshal(w.entries())
	w.mu.Unlock()
	if err != nil {
		return Result{}, errors.New(err).Component("upload").Category(errors.CategoryValidation).Build()
	}

	build := func(mw *multipart.Writer) error {
		if err := mw.WriteField("audioFiles", string(manifest)); err != nil {
			return err
		}
		if err := mw.WriteField("site_name", w.site); err != nil {
			return err
		}
		for _, f := range files {
			if err := writeFilePart(mw, f); err != nil {
				return err
			}
		}
		return nil
	}

	var result Result
	start := time.Now()
	if _, err := w.cfg.Poster.PostMultipart(ctx, RegisterPath, build, &result); err != nil {
		w.cfg.Metrics.RecordUpload(metrics.ResultError, len(files))
		w.log.Error("upload failed",
			logger.Int("files", len(files)),
			logger.Error(err))
		return Result{}, err
	}

	w.mu.Lock()
	w.submitted = true
	w.mu.Unlock()

	w.cfg.Metrics.RecordUpload(metrics.ResultSuccess, len(files))
	w.log.Info("upload registered",
		logger.Int("files", len(files)),
		logger.Int("created", len(result.CreatedFiles)),
		logger.Int("errors", len(result.Errors)),
		logger.Duration("elapsed", time.Since(start)))
	if w.cfg.Cache != nil {
		w.cfg.Cache.Settle(ctx, querycache.MutationUploadFiles)
	}
	return result, nil
}

func writeFilePart(mw *multipart.Writer, f File) error {
	rc, err := f.Open()
	if err != nil {
		return errors.New(err).
			Component("upload").
			Category(errors.CategoryFileIO).
			Context("file", f.Name).
			Build()
	}
	defer rc.Close()

	part, err := mw.CreateFormFile("files", f.Name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, rc); err != nil {
		return errors.New(err).
			Component("upload").
			Category(errors.CategoryFileIO).
			Context("file", f.Name).
			Build()
	}
	return nil
}
