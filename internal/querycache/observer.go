package querycache

import (
	"context"
	"sync"
	"time"
)

// RefetchPolicy decides whether mounting or focusing refetches cached data.
type RefetchPolicy int

const (
	// RefetchIfStale refetches only when the entry is stale or invalidated.
	RefetchIfStale RefetchPolicy = iota
	// RefetchAlways refetches even fresh data.
	RefetchAlways
	// RefetchNever serves cached data as is; a missing entry is still fetched.
	RefetchNever
)

// Options tune a query.
type Options struct {
	// Enabled gates fetching; nil means always enabled.
	Enabled func() bool
	// StaleTime overrides the cache default when non-zero.
	StaleTime      time.Duration
	RefetchOnMount RefetchPolicy
	RefetchOnFocus RefetchPolicy
	// KeepPreviousData shows the previous key's data as a placeholder while
	// a new key loads.
	KeepPreviousData bool
}

// Result is what an observer renders.
type Result[T any] struct {
	Data          T
	HasData       bool
	IsLoading     bool
	IsError       bool
	Err           error
	IsPlaceholder bool
	UpdatedAt     time.Time
}

// Observer follows one key at a time and re-renders when its entry changes.
type Observer[T any] struct {
	cache *Cache
	opts  Options

	mu       sync.Mutex
	key      Key
	ks       string
	fn       func(context.Context) (T, error)
	result   Result[T]
	mounted  bool
	closed   bool
	mountCtx context.Context
	subs     map[uint64]func(Result[T])
	nextSub  uint64
}

// NewObserver creates an unmounted observer.
func NewObserver[T any](c *Cache, key Key, fn func(context.Context) (T, error), opts Options) *Observer[T] {
	return &Observer[T]{
		cache: c,
		opts:  opts,
		key:   key,
		ks:    key.String(),
		fn:    fn,
		subs:  make(map[uint64]func(Result[T])),
	}
}

// Mount attaches the observer to the cache and loads its key according to
// RefetchOnMount. ctx bounds background refetches triggered by invalidation.
func (o *Observer[T]) Mount(ctx context.Context) error {
	o.mu.Lock()
	if o.closed || o.mounted {
		o.mu.Unlock()
		return nil
	}
	o.mounted = true
	o.mountCtx = ctx
	ks := o.ks
	o.mu.Unlock()

	o.cache.register(o, ks)
	o.syncFromCache(ks)
	return o.maybeFetch(ctx, o.opts.RefetchOnMount)
}

// Result returns the current render state.
func (o *Observer[T]) Result() Result[T] {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

// Key returns the key currently observed.
func (o *Observer[T]) Key() Key {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.key
}

// Refetch fetches the current key regardless of freshness.
func (o *Observer[T]) Refetch(ctx context.Context) error {
	if !o.enabled() {
		return nil
	}
	return o.run(ctx)
}

// Focus is the window-focus analog: it refetches according to RefetchOnFocus.
func (o *Observer[T]) Focus(ctx context.Context) error {
	o.mu.Lock()
	mounted := o.mounted && !o.closed
	o.mu.Unlock()
	if !mounted {
		return nil
	}
	return o.maybeFetch(ctx, o.opts.RefetchOnFocus)
}

// SetKey switches the observer to a new key. fn may be nil to keep the
// current fetch function.
func (o *Observer[T]) SetKey(ctx context.Context, key Key, fn func(context.Context) (T, error)) error {
	newKs := key.String()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	if fn != nil {
		o.fn = fn
	}
	oldKs := o.ks
	if newKs == oldKs {
		o.mu.Unlock()
		return nil
	}
	o.key, o.ks = key, newKs
	prev := o.result
	if o.opts.KeepPreviousData && prev.HasData {
		o.result = Result[T]{Data: prev.Data, HasData: true, IsPlaceholder: true, UpdatedAt: prev.UpdatedAt}
	} else {
		o.result = Result[T]{}
	}
	mounted := o.mounted
	o.mu.Unlock()

	if mounted {
		o.cache.unregister(o, oldKs)
		o.cache.register(o, newKs)
	}
	o.syncFromCache(newKs)
	if !mounted {
		return nil
	}
	return o.maybeFetch(ctx, o.opts.RefetchOnMount)
}

// Subscribe registers fn for every change of Result. The returned function
// removes it.
func (o *Observer[T]) Subscribe(fn func(Result[T])) (unsubscribe func()) {
	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	if !o.closed {
		o.subs[id] = fn
	}
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		delete(o.subs, id)
		o.mu.Unlock()
	}
}

// Close detaches the observer. It receives no further updates.
func (o *Observer[T]) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.subs = make(map[uint64]func(Result[T]))
	mounted, ks := o.mounted, o.ks
	o.mu.Unlock()

	if mounted {
		o.cache.unregister(o, ks)
	}
}

func (o *Observer[T]) enabled() bool {
	return o.opts.Enabled == nil || o.opts.Enabled()
}

func (o *Observer[T]) maybeFetch(ctx context.Context, policy RefetchPolicy) error {
	if !o.enabled() {
		return nil
	}
	o.mu.Lock()
	ks := o.ks
	o.mu.Unlock()

	e, ok := o.cache.snapshot(ks)
	switch {
	case !ok || !e.hasData:
	case policy == RefetchNever:
		return nil
	case policy == RefetchAlways:
	case !o.cache.isStale(&e, o.opts.StaleTime):
		return nil
	}
	return o.run(ctx)
}

func (o *Observer[T]) run(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	key, ks, fn := o.key, o.ks, o.fn
	o.result.IsLoading = true
	res, subs := o.result, o.subscribersLocked()
	o.mu.Unlock()
	notify(subs, res)

	_, err := o.cache.fetch(ctx, key, func(ctx context.Context) (any, error) { return fn(ctx) })

	o.mu.Lock()
	if o.ks == ks {
		o.result.IsLoading = false
	}
	o.mu.Unlock()
	o.syncFromCache(ks)
	return err
}

// revalidate is called by Invalidate for mounted observers.
func (o *Observer[T]) revalidate(ctx context.Context) error {
	o.mu.Lock()
	mountCtx := o.mountCtx
	o.mu.Unlock()
	if mountCtx != nil && mountCtx.Err() != nil {
		return nil
	}
	if !o.enabled() {
		return nil
	}
	return o.run(ctx)
}

// entryChanged is called by the cache after a commit for ks.
func (o *Observer[T]) entryChanged(ks string) {
	o.syncFromCache(ks)
}

func (o *Observer[T]) syncFromCache(ks string) {
	e, ok := o.cache.snapshot(ks)

	o.mu.Lock()
	if o.closed || o.ks != ks {
		o.mu.Unlock()
		return
	}
	if ok {
		if v, isT := e.data.(T); e.hasData && isT {
			o.result.Data = v
			o.result.HasData = true
			o.result.IsPlaceholder = false
			o.result.UpdatedAt = e.updatedAt
		}
		o.result.IsError = e.err != nil
		o.result.Err = e.err
	}
	res, subs := o.result, o.subscribersLocked()
	o.mu.Unlock()

	notify(subs, res)
}

func (o *Observer[T]) subscribersLocked() []func(Result[T]) {
	out := make([]func(Result[T]), 0, len(o.subs))
	for _, fn := range o.subs {
		out = append(out, fn)
	}
	return out
}

func notify[T any](subs []func(Result[T]), res Result[T]) {
	for _, fn := range subs {
		fn(res)
	}
}
