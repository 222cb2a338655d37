// Package querycache is a keyed, deduplicating, invalidatable cache for
// backend reads, with observers that re-render when their entry changes.
//
// Every key carries a generation number. A fetch only commits if the
// generation it started under is still current, so a slow response can never
// overwrite data written after it started. Invalidate and SetQueryData bump
// the generation.
package querycache

import (
	"context"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/logger"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/observability/metrics"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultStaleTime    = 30 * time.Second
	DefaultGCTime       = 5 * time.Minute
	DefaultFetchTimeout = time.Minute
)

// Config configures a Cache.
type Config struct {
	StaleTime time.Duration
	GCTime    time.Duration
	// FetchTimeout bounds a shared fetch. Shared fetches do not stop when
	// one of their callers gives up.
	FetchTimeout time.Duration
	Dependencies DependencyTable
	Metrics      *metrics.ClientMetrics
}

// entry is one cached query result.
type entry struct {
	key         Key
	data        any
	hasData     bool
	err         error
	updatedAt   time.Time
	invalidated bool
}

// keyState tracks the generation of a key for as long as the cache has seen it.
type keyState struct {
	key Key
	gen uint64
}

// observer is the cache's view of a mounted Observer.
type observer interface {
	entryChanged(ks string)
	revalidate(ctx context.Context) error
}

// Cache holds query results. Safe for concurrent use.
type Cache struct {
	staleTime    time.Duration
	gcTime       time.Duration
	fetchTimeout time.Duration
	deps         DependencyTable
	metrics      *metrics.ClientMetrics
	log          logger.Logger

	mu        sync.Mutex
	store     *gocache.Cache
	keys      map[string]*keyState
	observers map[string]map[observer]struct{}

	group singleflight.Group
}

// New returns an empty Cache.
func New(cfg Config) *Cache {
	if cfg.StaleTime == 0 {
		cfg.StaleTime = DefaultStaleTime
	}
	if cfg.GCTime <= 0 {
		cfg.GCTime = DefaultGCTime
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Dependencies == nil {
		cfg.Dependencies = PortalDependencies()
	}
	return &Cache{
		staleTime:    cfg.StaleTime,
		gcTime:       cfg.GCTime,
		fetchTimeout: cfg.FetchTimeout,
		deps:         cfg.Dependencies,
		metrics:      cfg.Metrics,
		log:          logger.Global().Module("querycache"),
		store:        gocache.New(cfg.GCTime, cfg.GCTime),
		keys:         make(map[string]*keyState),
		observers:    make(map[string]map[observer]struct{}),
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.store.ItemCount()
}

// Clear drops every entry, e.g. after logout.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Flush()
	for _, st := range c.keys {
		st.gen++
	}
}

func (c *Cache) stateLocked(key Key, ks string) *keyState {
	st, ok := c.keys[ks]
	if !ok {
		st = &keyState{key: key}
		c.keys[ks] = st
	}
	return st
}

func (c *Cache) lookup(ks string) (*entry, bool) {
	v, ok := c.store.Get(ks)
	if !ok {
		return nil, false
	}
	e, ok := v.(*entry)
	return e, ok
}

// expirationLocked keeps observed entries alive; unobserved ones expire
// after GCTime.
func (c *Cache) expirationLocked(ks string) time.Duration {
	if len(c.observers[ks]) > 0 {
		return gocache.NoExpiration
	}
	return c.gcTime
}

func (c *Cache) isStale(e *entry, staleTime time.Duration) bool {
	if e.invalidated || !e.hasData {
		return true
	}
	if staleTime == 0 {
		staleTime = c.staleTime
	}
	return time.Since(e.updatedAt) >= staleTime
}

// fetch runs fn at most once per key and generation and commits the result
// if the generation is still current. The shared call runs on a context
// detached from any single caller and bounded by the fetch timeout; each
// caller stops waiting when its own ctx ends.
func (c *Cache) fetch(ctx context.Context, key Key, fn func(context.Context) (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ks := key.String()

	c.mu.Lock()
	gen := c.stateLocked(key, ks).gen
	c.mu.Unlock()

	flightKey := ks + "#" + strconv.FormatUint(gen, 10)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		data, err := fn(fctx)
		if err != nil && fctx.Err() != nil {
			// Timed out; leave the entry as it was.
			c.log.Warn("query fetch timed out",
				logger.String("key", ks),
				logger.Duration("timeout", c.fetchTimeout))
			return data, err
		}
		c.commit(key, ks, gen, data, err)
		return data, err
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			c.metrics.RecordCacheEvent(metrics.CacheDeduplicated)
		}
		return res.Val, res.Err
	}
}

func (c *Cache) commit(key Key, ks string, gen uint64, data any, fetchErr error) {
	c.mu.Lock()
	if c.stateLocked(key, ks).gen != gen {
		c.mu.Unlock()
		c.metrics.RecordCacheEvent(metrics.CacheStaleDropped)
		c.log.Debug("dropping superseded query result", logger.String("key", ks))
		return
	}

	e := &entry{key: key}
	if prev, ok := c.lookup(ks); ok {
		*e = *prev
	}
	if fetchErr != nil {
		// Keep the last good data next to the error.
		e.err = fetchErr
	} else {
		e.data = data
		e.hasData = true
		e.err = nil
		e.updatedAt = time.Now()
		e.invalidated = false
	}
	c.store.Set(ks, e, c.expirationLocked(ks))
	obs := c.observersLocked(ks)
	c.mu.Unlock()

	for _, o := range obs {
		o.entryChanged(ks)
	}
}

func (c *Cache) observersLocked(ks string) []observer {
	set := c.observers[ks]
	out := make([]observer, 0, len(set))
	for o := range set {
		out = append(out, o)
	}
	return out
}

func (c *Cache) register(o observer, ks string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.observers[ks]
	if !ok {
		set = make(map[observer]struct{})
		c.observers[ks] = set
	}
	set[o] = struct{}{}
	if e, ok := c.lookup(ks); ok {
		c.store.Set(ks, e, gocache.NoExpiration)
	}
}

func (c *Cache) unregister(o observer, ks string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.observers[ks]
	delete(set, o)
	if len(set) == 0 {
		delete(c.observers, ks)
		if e, ok := c.lookup(ks); ok {
			c.store.Set(ks, e, c.gcTime)
		}
	}
}

// snapshot returns a copy of the entry for ks.
func (c *Cache) snapshot(ks string) (entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookup(ks)
	if !ok {
		return entry{}, false
	}
	return *e, true
}

// Invalidate marks every entry under the given prefixes stale, bumps their
// generations and refetches the mounted observers of those entries. It
// returns once the refetches have finished.
func (c *Cache) Invalidate(ctx context.Context, prefixes ...Key) {
	var targets []observer

	c.mu.Lock()
	for ks, st := range c.keys {
		if !matchesAny(st.key, prefixes) {
			continue
		}
		st.gen++
		if e, ok := c.lookup(ks); ok {
			e.invalidated = true
			c.metrics.RecordCacheEvent(metrics.CacheInvalidated)
		}
		targets = append(targets, c.observersLocked(ks)...)
	}
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, o := range targets {
		g.Go(func() error {
			if err := o.revalidate(gctx); err != nil {
				c.log.Debug("refetch after invalidation failed", logger.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func matchesAny(key Key, prefixes []Key) bool {
	for _, p := range prefixes {
		if key.HasPrefix(p) {
			return true
		}
	}
	return false
}

// Fetch returns fresh cached data for key or fetches it, sharing the call
// with any concurrent fetch of the same key. Options.Enabled is ignored.
func Fetch[T any](ctx context.Context, c *Cache, key Key, fn func(context.Context) (T, error), opts Options) (T, error) {
	ks := key.String()
	if e, ok := c.snapshot(ks); ok && e.err == nil && !c.isStale(&e, opts.StaleTime) {
		if v, ok := e.data.(T); ok {
			c.metrics.RecordCacheEvent(metrics.CacheHit)
			return v, nil
		}
	}
	c.metrics.RecordCacheEvent(metrics.CacheMiss)

	v, err := c.fetch(ctx, key, func(ctx context.Context) (any, error) { return fn(ctx) })
	var zero T
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, nil
	}
	return out, nil
}

// GetQueryData returns the cached data for key, stale or not.
func GetQueryData[T any](c *Cache, key Key) (T, bool) {
	var zero T
	e, ok := c.snapshot(key.String())
	if !ok || !e.hasData {
		return zero, false
	}
	v, ok := e.data.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// SetQueryData writes updater's result as the entry for key and notifies its
// observers. Any fetch already in flight for key will not overwrite it.
func SetQueryData[T any](c *Cache, key Key, updater func(old T, exists bool) T) {
	ks := key.String()

	c.mu.Lock()
	var old T
	exists := false
	if e, ok := c.lookup(ks); ok && e.hasData {
		old, exists = e.data.(T)
	}
	c.stateLocked(key, ks).gen++
	c.store.Set(ks, &entry{
		key:       key,
		data:      updater(old, exists),
		hasData:   true,
		updatedAt: time.Now(),
	}, c.expirationLocked(ks))
	obs := c.observersLocked(ks)
	c.mu.Unlock()

	for _, o := range obs {
		o.entryChanged(ks)
	}
}
