package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Rajchodisetti/spx0dte/internal/engine"
	"github.com/Rajchodisetti/spx0dte/internal/lifecycle"
	"github.com/Rajchodisetti/spx0dte/internal/observ"
)

type confirmRequest struct {
	Kind string `json:"kind"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) health(c echo.Context) error {
	body := map[string]any{
		"status":         "ok",
		"version":        observ.Version(),
		"uptime_seconds": int64(observ.Uptime().Seconds()),
	}
	if res, ok := s.eng.Last(); ok {
		body["last_tick"] = res.Timestamp
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) lastTick(c echo.Context) error {
	res, ok := s.eng.Last()
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody{Error: engine.ErrNoTick.Error()})
	}
	return c.JSON(http.StatusOK, res)
}

// listTrades accepts ?status=open,exit_pending; no filter lists everything.
func (s *Server) listTrades(c echo.Context) error {
	var statuses []lifecycle.Status
	if q := c.QueryParam("status"); q != "" {
		for _, v := range strings.Split(q, ",") {
			statuses = append(statuses, lifecycle.Status(strings.TrimSpace(v)))
		}
	}
	trades, err := s.eng.Machine().Trades(c.Request().Context(), statuses...)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, trades)
}

func (s *Server) getTrade(c echo.Context) error {
	t, err := s.eng.Machine().Trade(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) confirmTrade(c echo.Context) error {
	var req confirmRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid body"})
	}
	kind, ok := engine.ParseKind(req.Kind)
	if !ok {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "unknown strategy " + req.Kind})
	}
	t, err := s.eng.ConfirmEntry(c.Request().Context(), kind, s.now())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (s *Server) closeTrade(c echo.Context) error {
	t, err := s.eng.ManualClose(c.Request().Context(), c.Param("id"), s.now())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) fail(c echo.Context, err error) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		observ.Error("http_handler_failed", err, map[string]any{"route": c.Path()})
	}
	return c.JSON(status, errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrTradeNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrTradeClosed):
		return http.StatusConflict
	case errors.Is(err, engine.ErrNoTick), errors.Is(err, engine.ErrNoCandidate):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
