// Package server exposes the engine's ops surface: health, Prometheus metrics,
// the last tick, the trade journal and operator actions.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Rajchodisetti/spx0dte/internal/engine"
	"github.com/Rajchodisetti/spx0dte/internal/observ"
)

const shutdownTimeout = 10 * time.Second

type Config struct {
	Addr               string
	SlackSigningSecret string
	SlackAllowedUsers  []string
}

type Server struct {
	echo *echo.Echo
	eng  *engine.Engine
	cfg  Config
	now  func() time.Time

	mu     sync.Mutex
	nonces map[string]time.Time
}

func New(eng *engine.Engine, cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, eng: eng, cfg: cfg, now: time.Now, nonces: map[string]time.Time{}}
	e.Use(recoverer(), requestLog())

	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(observ.Handler()))

	api := e.Group("/api")
	api.GET("/tick/last", s.lastTick)
	api.GET("/trades", s.listTrades)
	api.GET("/trades/:id", s.getTrade)
	api.POST("/trades/confirm", s.confirmTrade)
	api.POST("/trades/:id/close", s.closeTrade)

	if cfg.SlackSigningSecret != "" {
		e.POST("/slack/commands", s.slackCommand)
	}
	return s
}

// Handler is the routed echo instance, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		observ.Log("http_listen", map[string]any{"addr": s.cfg.Addr})
		if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(sctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	observ.Log("http_stopped", nil)
	return nil
}

func requestLog() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			route := c.Path()
			status := c.Response().Status
			observ.RecordDuration("http_request_duration", time.Since(start), map[string]string{"route": route})
			observ.IncCounter("http_requests_total", map[string]string{"route": route, "status": fmt.Sprint(status)})
			observ.Debug("http_request", map[string]any{
				"method":     c.Request().Method,
				"uri":        c.Request().RequestURI,
				"status":     status,
				"latency_ms": time.Since(start).Milliseconds(),
			})
			return nil
		}
	}
}

func recoverer() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					observ.Error("http_panic", fmt.Errorf("%v", r), map[string]any{"uri": c.Request().RequestURI})
					err = echo.NewHTTPError(http.StatusInternalServerError, "internal error")
				}
			}()
			return next(c)
		}
	}
}
