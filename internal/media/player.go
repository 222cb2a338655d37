package media

import (
	"context"
	"sync"
	"time"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/logger"
)

// State is a player state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidTransition is returned for an action the current state does
	// not allow.
	ErrInvalidTransition = errors.NewStd("invalid player state transition")
	// ErrPlayerClosed is returned by every action after Close.
	ErrPlayerClosed = errors.NewStd("player is closed")
)

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithClock replaces time.Now as the player's time source.
func WithClock(now func() time.Time) PlayerOption {
	return func(p *Player) {
		p.now = now
	}
}

// Player tracks playback of one data file at a time. It produces no sound;
// position is derived from the clock.
type Player struct {
	downloader Downloader
	now        func() time.Time
	log        logger.Logger

	mu        sync.Mutex
	state     State
	closed    bool
	fileID    int64
	blob      *Blob
	info      AudioInfo
	offset    time.Duration
	startedAt time.Time
	loadSeq   uint64
}

// NewPlayer returns an idle player that loads through d.
func NewPlayer(d Downloader, opts ...PlayerOption) *Player {
	p := &Player{
		downloader: d,
		now:        time.Now,
		log:        logger.Global().Module("media"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Player) transitionError(action string) error {
	return errors.New(ErrInvalidTransition).
		Component("media").
		Category(errors.CategoryState).
		Context("action", action).
		Context("state", p.state.String()).
		Build()
}

func (p *Player) closedError() error {
	return errors.New(ErrPlayerClosed).
		Component("media").
		Category(errors.CategoryState).
		Build()
}

// Load fetches fileID and moves to Ready. Any previously held blob is
// released first. A newer Load supersedes one still in flight.
func (p *Player) Load(ctx context.Context, fileID int64) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return p.closedError()
	}
	p.releaseLocked()
	p.loadSeq++
	seq := p.loadSeq
	p.state = StateLoading
	p.fileID = fileID
	p.mu.Unlock()

	blob, err := FetchBlob(ctx, p.downloader, fileID)
	var info AudioInfo
	if err == nil {
		var probeErr error
		if info, probeErr = Probe(blob); probeErr != nil {
			p.log.Debug("audio header not readable, duration unknown",
				logger.Int64("file_id", fileID),
				logger.Error(probeErr))
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || seq != p.loadSeq {
		if blob != nil {
			_ = blob.Release()
		}
		if p.closed {
			return p.closedError()
		}
		return errors.New(context.Canceled).
			Component("media").
			Category(errors.CategoryCancellation).
			Context("reason", "superseded by a newer load").
			Build()
	}
	if err != nil {
		p.state = StateIdle
		return err
	}
	p.blob = blob
	p.info = info
	p.state = StateReady
	return nil
}

// Play starts or resumes playback.
func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return p.closedError()
	}
	if p.state != StateReady && p.state != StatePaused {
		return p.transitionError("play")
	}
	if p.info.Duration > 0 && p.offset >= p.info.Duration {
		p.offset = 0
	}
	p.startedAt = p.now()
	p.state = StatePlaying
	return nil
}

// Pause freezes the position.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return p.closedError()
	}
	if p.state != StatePlaying {
		return p.transitionError("pause")
	}
	p.offset = p.positionLocked()
	p.state = StatePaused
	return nil
}

// Seek moves the position, clamped to the file's duration when known.
func (p *Player) Seek(pos time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return p.closedError()
	}
	switch p.state {
	case StateReady, StatePlaying, StatePaused:
	default:
		return p.transitionError("seek")
	}
	p.offset = p.clampLocked(pos)
	if p.state == StatePlaying {
		p.startedAt = p.now()
	}
	return nil
}

// Stop releases the blob and returns to Idle.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return p.closedError()
	}
	p.loadSeq++
	return p.releaseLocked()
}

// Close stops the player for good.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.loadSeq++
	return p.releaseLocked()
}

func (p *Player) releaseLocked() error {
	var err error
	if p.blob != nil {
		err = p.blob.Release()
		p.blob = nil
	}
	p.state = StateIdle
	p.info = AudioInfo{}
	p.offset = 0
	p.startedAt = time.Time{}
	return err
}

func (p *Player) clampLocked(pos time.Duration) time.Duration {
	pos = max(pos, 0)
	if p.info.Duration > 0 {
		pos = min(pos, p.info.Duration)
	}
	return pos
}

func (p *Player) positionLocked() time.Duration {
	if p.state != StatePlaying {
		return p.offset
	}
	return p.clampLocked(p.offset + p.now().Sub(p.startedAt))
}

// Position returns the playback position.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

// State returns the current state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Info returns the loaded file's audio header.
func (p *Player) Info() AudioInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// Blob returns the loaded blob, or nil.
func (p *Player) Blob() *Blob {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blob
}

// FileID returns the id of the file last loaded.
func (p *Player) FileID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fileID
}
