package app

import (
	"context"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/dashboard"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/logger"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/media"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/mqtt"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/portal"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/upload"
)

// NewUploadWizard starts an upload of files to site.
func (a *App) NewUploadWizard(site string, files []upload.File) (*upload.Wizard, error) {
	return upload.NewWizard(upload.Config{
		Poster:     a.API,
		Cache:      a.Cache,
		Metrics:    a.Metrics,
		RemotePath: a.Settings.Upload.RemotePath,
	}, site, files)
}

// QualityPublisher connects to the configured broker and returns a publisher
// for quality transitions. It returns nil when MQTT is disabled. The
// connection is closed with the App.
func (a *App) QualityPublisher(ctx context.Context) (portal.EventPublisher, error) {
	if !a.Settings.MQTT.Enabled {
		return nil, nil
	}
	cfg := mqtt.ConfigFromSettings(a.Settings.MQTT)
	client := a.mqttFactory(cfg, a.Metrics)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	a.addCloser(func() error {
		client.Disconnect()
		return nil
	})
	return mqtt.NewQualityPublisher(client, cfg.Topic), nil
}

// WatchConfig returns the quality watch settings, publishing through pub
// when it is not nil.
func (a *App) WatchConfig(pub portal.EventPublisher) portal.WatchConfig {
	return portal.WatchConfig{
		Interval:  a.Settings.Quality.PollInterval,
		Publisher: pub,
	}
}

// Dashboard builds the `pam serve` server on top of the portal service.
func (a *App) Dashboard() (*dashboard.Server, error) {
	return dashboard.New(dashboard.ConfigFromSettings(a.Settings), a.Portal,
		dashboard.WithSession(a.Auth),
		dashboard.WithDownloader(a.API),
		dashboard.WithGatherer(a.Registry),
		dashboard.WithVersion(a.Build.Version()),
	)
}

// Player returns a media player that downloads through the authenticated
// client. The player is closed with the App.
func (a *App) Player() *media.Player {
	p := media.NewPlayer(a.API)
	a.addCloser(p.Close)
	return p
}

func (a *App) addCloser(fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

// Close releases everything New and the helpers opened, in reverse order.
// It is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		closers := a.closers
		a.closers = nil
		a.mu.Unlock()

		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		if a.central != nil {
			if err := a.central.Flush(); err != nil {
				errs = append(errs, err)
			}
		}
		a.closeErr = errors.Join(errs...)
		if a.closeErr != nil && a.log != nil {
			a.log.Warn("errors while shutting down", logger.Error(a.closeErr))
		}
	})
	return a.closeErr
}
