// Package portal provides the page-level reads and mutations of the sensor
// portal: deployments, devices, data files, quality checks and observations.
//
// Reads are cache-backed queries keyed by their request parameters. Mutations
// are pessimistic: they settle their cache dependencies only after the backend
// accepted them, and leave cached data untouched on error.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/api"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/logger"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/querycache"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/session"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultPageSize = 100
	DefaultTaxonTTL = time.Hour
)

// Config wires a Service.
type Config struct {
	Client *api.Client
	Cache  *querycache.Cache
	// SiteNames records the device to site breadcrumb. Optional.
	SiteNames *session.SiteNames
	// Enabled gates every read, typically on an authenticated session.
	// nil means always enabled.
	Enabled  func() bool
	PageSize int
	TaxonTTL time.Duration
}

// Service is the portal's read and mutation surface. Safe for concurrent use.
type Service struct {
	client   *api.Client
	cache    *querycache.Cache
	sites    *session.SiteNames
	enabled  func() bool
	pageSize int

	taxa       *gocache.Cache
	taxonGroup singleflight.Group

	log logger.Logger
}

// NewService validates cfg and returns a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Client == nil || cfg.Cache == nil {
		return nil, errors.Newf("portal service requires an api client and a query cache").
			Component("portal").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.TaxonTTL <= 0 {
		cfg.TaxonTTL = DefaultTaxonTTL
	}
	return &Service{
		client:   cfg.Client,
		cache:    cfg.Cache,
		sites:    cfg.SiteNames,
		enabled:  cfg.Enabled,
		pageSize: cfg.PageSize,
		taxa:     gocache.New(cfg.TaxonTTL, 2*cfg.TaxonTTL),
		log:      logger.Global().Module("portal"),
	}, nil
}

// Cache returns the query cache backing the service.
func (s *Service) Cache() *querycache.Cache {
	return s.cache
}

// PageSize returns the default observation page size.
func (s *Service) PageSize() int {
	return s.pageSize
}

func (s *Service) queryOptions() querycache.Options {
	return querycache.Options{Enabled: s.enabled}
}

func (s *Service) checkEnabled() error {
	if s.enabled != nil && !s.enabled() {
		return api.NewAuthError(api.ErrNotLoggedIn)
	}
	return nil
}

// getter returns a fetch function decoding GET path into T.
func getter[T any](s *Service, path string) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		var out T
		err := s.client.Get(ctx, path, &out)
		return out, err
	}
}

// read serves key from the cache or fetches it with GET path.
func read[T any](ctx context.Context, s *Service, key querycache.Key, path string) (T, error) {
	if err := s.checkEnabled(); err != nil {
		var zero T
		return zero, err
	}
	return querycache.Fetch(ctx, s.cache, key, getter[T](s, path), s.queryOptions())
}

// list decodes either a bare JSON array or a paginated {"results": [...]}
// envelope.
type list[T any] []T

func (l *list[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var envelope struct {
		Results []T `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return err
	}
	*l = envelope.Results
	return nil
}

// readList is read for list endpoints.
func readList[T any](ctx context.Context, s *Service, key querycache.Key, path string) ([]T, error) {
	items, err := read[list[T]](ctx, s, key, path)
	if err != nil {
		return nil, err
	}
	return []T(items), nil
}

func requireField(value, name string) error {
	if value == "" {
		return errors.ValidationError(name + " is required")
	}
	return nil
}
