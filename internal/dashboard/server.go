package dashboard

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/api"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/auth"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/logger"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/media"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/portal"
)

// SessionStatus reports who is logged in. auth.Manager implements it.
type SessionStatus interface {
	IsAuthenticated() bool
	User() auth.User
}

// Server is the dashboard HTTP server.
type Server struct {
	echo    *echo.Echo
	config  *Config
	service *portal.Service
	log     logger.Logger

	session    SessionStatus
	downloader media.Downloader
	gatherer   prometheus.Gatherer
	version    string
	now        func() time.Time

	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithSession exposes the login state at /api/session.
func WithSession(s SessionStatus) ServerOption {
	return func(srv *Server) {
		srv.session = s
	}
}

// WithDownloader enables the waveform endpoint.
func WithDownloader(d media.Downloader) ServerOption {
	return func(srv *Server) {
		srv.downloader = d
	}
}

// WithGatherer serves g at /metrics.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(srv *Server) {
		srv.gatherer = g
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) ServerOption {
	return func(srv *Server) {
		srv.version = v
	}
}

// New creates a dashboard server for svc.
func New(cfg *Config, svc *portal.Service, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, errors.Newf("dashboard requires a portal service").
			Component("dashboard").
			Category(errors.CategoryConfiguration).
			Build()
	}

	s := &Server{
		config:    cfg,
		service:   svc,
		log:       logger.Global().Module("dashboard"),
		now:       time.Now,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = cfg.Debug
	s.echo.Server.ReadTimeout = cfg.ReadTimeout
	s.echo.Server.WriteTimeout = cfg.WriteTimeout
	s.echo.Server.IdleTimeout = cfg.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("dashboard initialized", logger.String("address", cfg.Address))
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestID())
	s.echo.Use(traceFromRequestID)
	s.echo.Use(newRequestLogger(s.log, skipProbes))
	s.echo.Use(echomw.BodyLimit(s.config.BodyLimit))
}

// traceFromRequestID carries the request id into the logger context so
// backend calls made for this request reuse it.
func traceFromRequestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Response().Header().Get(echo.HeaderXRequestID)
		if id != "" {
			req := c.Request()
			c.SetRequest(req.WithContext(logger.WithTraceID(req.Context(), id)))
		}
		return next(c)
	}
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	g := s.echo.Group("/api")
	g.GET("/session", s.getSession)

	g.GET("/deployments", s.listDeployments)
	g.GET("/deployments/:site", s.getDeployment)
	g.POST("/deployments/:id/check-quality", s.checkQualityBulk)

	g.GET("/devices", s.listDevices)
	g.GET("/devices/:id", s.getDevice)
	g.GET("/devices/:id/site", s.getDeviceSite)

	g.GET("/sites/:site/datafiles", s.listDataFiles)
	g.GET("/sites/:site/date-range", s.getDateRange)

	g.GET("/datafiles/:id", s.getDataFile)
	g.GET("/datafiles/:id/quality", s.getQualityStatus)
	g.POST("/datafiles/:id/check-quality", s.checkQuality)
	g.GET("/datafiles/:id/waveform", s.getWaveform)

	g.GET("/observations", s.listObservations)
	g.GET("/observations/export", s.exportObservations)
	g.DELETE("/observations/:id", s.deleteObservation)
}

func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"version":        s.version,
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      s.now().Format(time.RFC3339),
	})
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates a new error response with a fresh correlation id.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
}

// HandleError logs err and writes it as an ErrorResponse.
func (s *Server) HandleError(c echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)
	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Int("code", code),
		logger.String("path", c.Request().URL.Path),
		logger.String("method", c.Request().Method),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	log := s.log.WithContext(c.Request().Context())
	if code >= http.StatusInternalServerError {
		log.Error("request failed", fields...)
	} else {
		log.Debug("request rejected", fields...)
	}
	return c.JSON(code, resp)
}

// statusFor maps a client library error to the dashboard's HTTP status.
func statusFor(err error) int {
	switch {
	case api.IsAuthError(err):
		return http.StatusUnauthorized
	case errors.IsNotFound(err):
		return http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryValidation):
		return http.StatusBadRequest
	case errors.IsCategory(err, errors.CategoryState):
		return http.StatusConflict
	case errors.IsCategory(err, errors.CategoryTimeout):
		return http.StatusGatewayTimeout
	case api.IsNetworkError(err), api.StatusCode(err) != 0:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// fail writes err with the status derived from it.
func (s *Server) fail(c echo.Context, err error, message string) error {
	return s.HandleError(c, err, message, statusFor(err))
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("dashboard listening", logger.String("address", s.config.Address))
		if err := s.echo.Start(s.config.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return errors.New(err).
				Component("dashboard").
				Category(errors.CategoryNetwork).
				Context("address", s.config.Address).
				Build()
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.log.Error("error during dashboard shutdown", logger.Error(err))
		return err
	}
	<-errCh
	s.log.Info("dashboard shutdown complete")
	return nil
}
