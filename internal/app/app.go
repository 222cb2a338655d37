// Package app assembles the client from its settings: logging, telemetry,
// metrics, the persisted session, the authenticated fetch layer, the query
// cache and the portal service. Commands build one App and close it on exit.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/api"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/auth"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/buildinfo"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/conf"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/httpclient"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/logger"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/mqtt"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/observability/metrics"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/portal"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/querycache"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/session"
)

const telemetryFlushTimeout = 2 * time.Second

// App holds the wired client components.
type App struct {
	Settings  *conf.Settings
	Build     *buildinfo.Context
	Registry  *prometheus.Registry
	Metrics   *metrics.ClientMetrics
	HTTP      *httpclient.Client
	Auth      *auth.Manager
	API       *api.Client
	Cache     *querycache.Cache
	Portal    *portal.Service
	SiteNames *session.SiteNames

	log         logger.Logger
	central     *logger.CentralLogger
	mqttFactory func(mqtt.Config, *metrics.ClientMetrics) mqtt.Client

	mu        sync.Mutex
	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

type options struct {
	storage          session.Storage
	newMQTT          func(mqtt.Config, *metrics.ClientMetrics) mqtt.Client
	keepGlobalLogger bool
}

// Option customises New.
type Option func(*options)

// WithStorage replaces the session storage selected by Session.Path.
func WithStorage(s session.Storage) Option {
	return func(o *options) {
		o.storage = s
	}
}

// WithMQTTClientFactory replaces the paho backed MQTT client.
func WithMQTTClientFactory(fn func(mqtt.Config, *metrics.ClientMetrics) mqtt.Client) Option {
	return func(o *options) {
		o.newMQTT = fn
	}
}

// WithGlobalLogger keeps the current global logger instead of building one
// from the logging settings.
func WithGlobalLogger() Option {
	return func(o *options) {
		o.keepGlobalLogger = true
	}
}

// New wires every component described by settings. The returned App must be
// closed.
func New(ctx context.Context, settings *conf.Settings, build *buildinfo.Context, opts ...Option) (*App, error) {
	if settings == nil {
		return nil, errors.Newf("app requires settings").
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
	o := options{newMQTT: mqtt.NewClient}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Settings: settings, Build: build}
	if err := a.setupLogging(o.keepGlobalLogger); err != nil {
		return nil, err
	}
	a.log = logger.Global().Module("app")

	if settings.Telemetry.Enabled {
		if err := errors.InitSentry(settings.Telemetry.DSN, build.Release()); err != nil {
			a.log.Warn("telemetry disabled", logger.Error(err))
		} else {
			a.closers = append(a.closers, func() error {
				errors.FlushTelemetry(telemetryFlushTimeout)
				return nil
			})
		}
	}

	if err := a.setupMetrics(); err != nil {
		_ = a.Close()
		return nil, err
	}

	storage := o.storage
	if storage == nil {
		var err error
		if storage, err = a.openStorage(); err != nil {
			_ = a.Close()
			return nil, err
		}
	}
	a.SiteNames = session.NewSiteNames(storage)

	a.HTTP = httpclient.New(&httpclient.Config{
		DefaultTimeout: settings.Backend.Timeout,
		UserAgent:      userAgent(settings, build),
		RateLimit:      settings.Backend.RateLimit,
		RateBurst:      settings.Backend.RateBurst,
	})
	a.closers = append(a.closers, func() error {
		a.HTTP.Close()
		return nil
	})

	manager, err := auth.NewManager(ctx, auth.Config{
		BaseURL: settings.Backend.BaseURL,
		HTTP:    a.HTTP,
		Store:   session.NewTokenStore(storage),
		Metrics: a.Metrics,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Auth = manager
	a.API = api.NewClient(settings.Backend.BaseURL, a.HTTP, manager, a.Metrics)

	a.Cache = querycache.New(querycache.Config{
		StaleTime: settings.Cache.StaleTime,
		GCTime:    settings.Cache.GCTime,
		Metrics:   a.Metrics,
	})

	// Logging out empties every cached page.
	unsubscribe := manager.Subscribe(func(ev auth.Event) {
		if ev.Type == auth.EventLogout {
			a.Cache.Clear()
		}
	})
	a.closers = append(a.closers, func() error {
		unsubscribe()
		return nil
	})

	a.Portal, err = portal.NewService(portal.Config{
		Client:    a.API,
		Cache:     a.Cache,
		SiteNames: a.SiteNames,
		Enabled:   manager.IsAuthenticated,
		PageSize:  settings.Observations.PageSize,
		TaxonTTL:  settings.Cache.TaxonTTL,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.mqttFactory = o.newMQTT
	a.log.Debug("client initialized",
		logger.String("backend", settings.Backend.BaseURL),
		logger.String("version", build.Version()),
		logger.Bool("authenticated", manager.IsAuthenticated()))
	return a, nil
}

func (a *App) setupLogging(keepGlobal bool) error {
	if keepGlobal {
		return nil
	}
	cfg := a.Settings.Logging
	if a.Settings.Debug {
		cfg.DefaultLevel = "debug"
	}
	central, err := logger.NewCentralLogger(&cfg)
	if err != nil {
		return errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
	logger.SetGlobal(central)
	a.central = central
	return nil
}

func (a *App) setupMetrics() error {
	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.NewClientMetrics(a.Registry)
	if err != nil {
		return errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Build()
	}
	a.Metrics = m
	return nil
}

// openStorage opens the sqlite session file, or keeps the session in memory
// when no path is configured.
func (a *App) openStorage() (session.Storage, error) {
	path := a.Settings.Session.Path
	if path == "" {
		a.log.Debug("session path not set, session will not survive a restart")
		return session.NewMemoryStorage(), nil
	}
	db, err := session.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	return db, nil
}

func userAgent(settings *conf.Settings, build *buildinfo.Context) string {
	if ua := settings.Backend.UserAgent; ua != "" && ua != buildinfo.Product {
		return ua
	}
	return build.UserAgent()
}
