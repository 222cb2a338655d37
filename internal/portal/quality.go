package portal

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/api"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/logger"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/querycache"
)

// DefaultPollInterval is how often a QualityWatcher refetches.
const DefaultPollInterval = 2 * time.Second

// CheckQuality starts a quality check for a data file. The backend runs it
// asynchronously; poll QualityStatus or use a QualityWatcher for the outcome.
func (s *Service) CheckQuality(ctx context.Context, id int64) error {
	if err := s.client.Post(ctx, datafilePath(id, "check_quality/"), nil, nil); err != nil {
		return err
	}
	s.log.Info("quality check requested", logger.Int64("file_id", id))
	s.cache.Settle(ctx, querycache.MutationCheckQuality)
	return nil
}

// CheckQualityBulk starts a quality check for every file of a deployment and
// returns how many files were queued.
func (s *Service) CheckQualityBulk(ctx context.Context, deploymentID int64) (int, error) {
	var resp struct {
		TotalFiles int `json:"total_files"`
	}
	path := "/api/deployment/" + strconv.FormatInt(deploymentID, 10) + "/check_quality_bulk/"
	if err := s.client.Post(ctx, path, nil, &resp); err != nil {
		return 0, err
	}
	s.log.Info("bulk quality check requested",
		logger.Int64("deployment_id", deploymentID),
		logger.Int("total_files", resp.TotalFiles))
	s.cache.Settle(ctx, querycache.MutationCheckQualityBulk)
	return resp.TotalFiles, nil
}

// QualityStatus returns the latest quality check state of a data file.
func (s *Service) QualityStatus(ctx context.Context, id int64) (QualityStatus, error) {
	return read[QualityStatus](ctx, s, QualityStatusKey(id), datafilePath(id, "quality_status/"))
}

// EventPublisher receives quality status transitions.
type EventPublisher interface {
	PublishQualityStatus(ctx context.Context, fileID int64, status QualityStatus) error
}

// WatchConfig tunes a QualityWatcher.
type WatchConfig struct {
	Interval  time.Duration
	Publisher EventPublisher
}

// QualityWatcher follows one file's quality status through a cache observer
// until the check completes or fails.
type QualityWatcher struct {
	fileID    int64
	interval  time.Duration
	publisher EventPublisher
	obs       *querycache.Observer[QualityStatus]
	log       logger.Logger

	mu      sync.Mutex
	last    string
	subs    map[int]func(QualityStatus)
	nextSub int
}

// WatchQuality returns a watcher for fileID. Nothing is fetched until Run.
func (s *Service) WatchQuality(fileID int64, cfg WatchConfig) *QualityWatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	obs := querycache.NewObserver(s.cache, QualityStatusKey(fileID),
		getter[QualityStatus](s, datafilePath(fileID, "quality_status/")),
		querycache.Options{Enabled: s.enabled, StaleTime: -1})
	return &QualityWatcher{
		fileID:    fileID,
		interval:  cfg.Interval,
		publisher: cfg.Publisher,
		obs:       obs,
		log:       s.log.With(logger.Int64("file_id", fileID)),
		subs:      make(map[int]func(QualityStatus)),
	}
}

// Subscribe registers fn for every status transition.
func (w *QualityWatcher) Subscribe(fn func(QualityStatus)) (unsubscribe func()) {
	w.mu.Lock()
	id := w.nextSub
	w.nextSub++
	w.subs[id] = fn
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
	}
}

// Run polls until the status is terminal or ctx ends, and returns the last
// status seen. Invalidations of the status key, e.g. by CheckQuality, are
// picked up between polls.
func (w *QualityWatcher) Run(ctx context.Context) (QualityStatus, error) {
	unsubscribe := w.obs.Subscribe(func(r querycache.Result[QualityStatus]) {
		if r.HasData && !r.IsPlaceholder {
			w.transition(ctx, r.Data)
		}
	})
	defer unsubscribe()
	defer w.obs.Close()

	if err := w.obs.Mount(ctx); err != nil {
		if api.IsAuthError(err) || ctx.Err() != nil {
			return w.obs.Result().Data, err
		}
		w.log.Debug("initial quality status fetch failed", logger.Error(err))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if res := w.obs.Result(); res.HasData && res.Data.Done() {
			return res.Data, nil
		}
		select {
		case <-ctx.Done():
			return w.obs.Result().Data, ctx.Err()
		case <-ticker.C:
			if err := w.obs.Refetch(ctx); err != nil {
				if api.IsAuthError(err) {
					return w.obs.Result().Data, err
				}
				w.log.Debug("quality status poll failed", logger.Error(err))
			}
		}
	}
}

func (w *QualityWatcher) transition(ctx context.Context, status QualityStatus) {
	w.mu.Lock()
	if status.Status == w.last {
		w.mu.Unlock()
		return
	}
	w.last = status.Status
	subs := make([]func(QualityStatus), 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()

	w.log.Debug("quality status changed", logger.String("status", status.Status))
	for _, fn := range subs {
		fn(status)
	}
	if w.publisher != nil {
		if err := w.publisher.PublishQualityStatus(ctx, w.fileID, status); err != nil {
			w.log.Warn("failed to publish quality status", logger.Error(err))
		}
	}
}
