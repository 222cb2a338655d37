package media

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
)

// makeWAV encodes 16-bit PCM samples as a WAV file.
func makeWAV(t *testing.T, samples []int, sampleRate, channels int) []byte {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "*.wav")
	require.NoError(t, err)
	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           samples,
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: channels},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	return data
}

// quietThenLoud is one second of mono audio at 8 kHz.
func quietThenLoud(t *testing.T) []byte {
	t.Helper()
	samples := make([]int, 8000)
	for i := range samples {
		amp := 1000
		if i >= 4000 {
			amp = 20000
		}
		if i%2 == 1 {
			amp = -amp
		}
		samples[i] = amp
	}
	return makeWAV(t, samples, 8000, 1)
}

type fakeDownloader struct {
	mu    sync.Mutex
	files map[string][]byte
	paths []string
	err   error
}

func (d *fakeDownloader) Download(_ context.Context, path string) (io.ReadCloser, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paths = append(d.paths, path)
	if d.err != nil {
		return nil, "", d.err
	}
	data, ok := d.files[path]
	if !ok {
		return nil, "", errors.Newf("no such file").Category(errors.CategoryNotFound).Build()
	}
	return io.NopCloser(bytes.NewReader(data)), "audio/wav", nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestBlobReleaseIsIdempotent(t *testing.T) {
	b, err := NewBlob(bytes.NewReader([]byte("abc")), "audio/wav")
	require.NoError(t, err)
	assert.Equal(t, int64(3), b.Size())
	assert.Equal(t, "audio/wav", b.ContentType())

	f, err := b.Open()
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "abc", string(data))

	require.NoError(t, b.Release())
	require.NoError(t, b.Release())
	assert.True(t, b.Released())
	assert.NoFileExists(t, b.path)

	_, err = b.Open()
	require.ErrorIs(t, err, ErrReleased)
}

func TestWaveformOfWAV(t *testing.T) {
	b, err := NewBlob(bytes.NewReader(quietThenLoud(t)), "audio/wav")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Release() })

	peaks, info, err := Waveform(b, 4)
	require.NoError(t, err)
	require.Len(t, peaks, 4)
	assert.InDelta(t, 1000.0/20000.0, peaks[0], 1e-3)
	assert.InDelta(t, 1.0, peaks[3], 1e-6)

	assert.Equal(t, 8000, info.SampleRate)
	assert.Equal(t, 1, info.Channels)
	assert.Equal(t, 16, info.BitDepth)
	assert.Equal(t, int64(8000), info.Frames)
	assert.Equal(t, time.Second, info.Duration)

	probed, err := Probe(b)
	require.NoError(t, err)
	assert.Equal(t, 8000, probed.SampleRate)
	assert.Equal(t, time.Second, probed.Duration)
}

func TestWaveformRejectsUnsupportedInput(t *testing.T) {
	b, err := NewBlob(bytes.NewReader([]byte("ID3\x04 not audio we can decode")), "audio/mpeg")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Release() })

	_, _, err = Waveform(b, 10)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileParsing))

	_, _, err = Waveform(b, 0)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestRebucket(t *testing.T) {
	assert.Equal(t, []float32{0, 0, 0}, rebucket(nil, 3))
	assert.Equal(t, []float32{0.5, 1}, rebucket([]float32{0.1, 0.2, 0.3, 0.4}, 2))
	// Fewer blocks than buckets repeats blocks.
	assert.Equal(t, []float32{0.5, 0.5, 1, 1}, rebucket([]float32{0.25, 0.5}, 4))
}

func newTestPlayer(t *testing.T) (*Player, *fakeDownloader, *fakeClock) {
	t.Helper()
	wavData := quietThenLoud(t)
	d := &fakeDownloader{files: map[string][]byte{
		"/api/datafile/7/download/": wavData,
		"/api/datafile/8/download/": wavData,
	}}
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	p := NewPlayer(d, WithClock(clock.Now))
	t.Cleanup(func() { _ = p.Close() })
	return p, d, clock
}

func TestPlayerStateMachine(t *testing.T) {
	p, d, clock := newTestPlayer(t)
	assert.Equal(t, StateIdle, p.State())
	require.ErrorIs(t, p.Play(), ErrInvalidTransition)
	require.ErrorIs(t, p.Seek(time.Second), ErrInvalidTransition)

	require.NoError(t, p.Load(t.Context(), 7))
	assert.Equal(t, StateReady, p.State())
	assert.Equal(t, []string{"/api/datafile/7/download/"}, d.paths)
	assert.Equal(t, time.Second, p.Info().Duration)
	require.ErrorIs(t, p.Pause(), ErrInvalidTransition)

	require.NoError(t, p.Play())
	assert.Equal(t, StatePlaying, p.State())
	require.ErrorIs(t, p.Play(), ErrInvalidTransition)
	clock.Advance(300 * time.Millisecond)
	assert.Equal(t, 300*time.Millisecond, p.Position())

	require.NoError(t, p.Pause())
	clock.Advance(time.Minute)
	assert.Equal(t, 300*time.Millisecond, p.Position())

	require.NoError(t, p.Seek(5*time.Second))
	assert.Equal(t, time.Second, p.Position(), "seek clamps to the duration")

	// Playing from the end restarts.
	require.NoError(t, p.Play())
	assert.Equal(t, time.Duration(0), p.Position())
	clock.Advance(10 * time.Second)
	assert.Equal(t, time.Second, p.Position())

	blob := p.Blob()
	require.NotNil(t, blob)
	require.NoError(t, p.Stop())
	assert.Equal(t, StateIdle, p.State())
	assert.True(t, blob.Released())
	assert.Nil(t, p.Blob())
}

func TestPlayerLoadReleasesPreviousBlob(t *testing.T) {
	p, _, _ := newTestPlayer(t)

	require.NoError(t, p.Load(t.Context(), 7))
	first := p.Blob()
	require.NoError(t, p.Play())

	require.NoError(t, p.Load(t.Context(), 8))
	assert.True(t, first.Released())
	assert.Equal(t, StateReady, p.State())
	assert.Equal(t, int64(8), p.FileID())
	assert.Equal(t, time.Duration(0), p.Position())
}

func TestPlayerLoadFailureReturnsToIdle(t *testing.T) {
	p, _, _ := newTestPlayer(t)

	err := p.Load(t.Context(), 99)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, StateIdle, p.State())
	assert.Nil(t, p.Blob())
}

func TestClosedPlayerRejectsActions(t *testing.T) {
	p, _, _ := newTestPlayer(t)
	require.NoError(t, p.Load(t.Context(), 7))
	blob := p.Blob()

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, blob.Released())
	require.ErrorIs(t, p.Play(), ErrPlayerClosed)
	require.ErrorIs(t, p.Load(t.Context(), 7), ErrPlayerClosed)
	require.ErrorIs(t, p.Stop(), ErrPlayerClosed)
}
