// Package metrics provides constants used across metric definitions.
package metrics

// Result labels.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Query cache event labels.
const (
	CacheHit          = "hit"
	CacheMiss         = "miss"
	CacheDeduplicated = "deduplicated"
	CacheStaleDropped = "stale_dropped"
	CacheInvalidated  = "invalidated"
)

// Histogram bucket parameters.
const (
	BucketStart5ms = 0.005
	BucketFactor2  = 2
	BucketCount12  = 12 // 5ms to ~10s
)
