// Package httpapi serves the classification agent and session history
// over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pulsecheck/internal/agent"
	"pulsecheck/internal/domain"
	"pulsecheck/internal/report"
	"pulsecheck/internal/storage/sqlite"
)

const userIDHeader = "X-User-ID"

// Classifier runs one agent turn.
type Classifier interface {
	Run(ctx context.Context, in domain.ClassificationInput) (agent.Outcome, error)
}

// Notifier receives finished reports. Optional.
type Notifier interface {
	PostReport(ctx context.Context, r report.Report) error
}

type Config struct {
	Addr         string
	TurnTimeout  time.Duration
	DedupeWindow time.Duration // 0 disables duplicate absorption
	TeamName     string
	Location     *time.Location
	ReportDir    string // finished reports are written here as .md and .eml when set
}

type Server struct {
	echo       *echo.Echo
	classifier Classifier
	store      *sqlite.Store
	notifier   Notifier
	dedupe     *gocache.Cache
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

func NewServer(classifier Classifier, store *sqlite.Store, notifier Notifier, logger *zap.Logger, cfg Config) (*Server, error) {
	if classifier == nil {
		return nil, errors.New("classifier cannot be nil")
	}
	if store == nil {
		return nil, errors.New("session store cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 2 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:       e,
		classifier: classifier,
		store:      store,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
	if cfg.DedupeWindow > 0 {
		s.dedupe = gocache.New(cfg.DedupeWindow, 2*cfg.DedupeWindow)
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")
	api.POST("/agent/classify", s.handleClassify)
	api.GET("/sessions", s.handleListSessions)
	api.GET("/sessions/:id", s.handleGetSession)
	api.PUT("/sessions/:id", s.handleUpdateSession)
	api.GET("/export", s.handleExport)
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, errorResponse{Error: msg})
}

// userID is set by the auth layer in front of this service.
func userID(c echo.Context) string {
	if id := c.Request().Header.Get(userIDHeader); id != "" {
		return id
	}
	return "anonymous"
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.cfg.Addr))
	return s.echo.Start(s.cfg.Addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
