package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/spx0dte/internal/engine"
	"github.com/Rajchodisetti/spx0dte/internal/lifecycle"
	"github.com/Rajchodisetti/spx0dte/internal/market"
)

const secret = "shh"

var fixedNow = time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)

func newTestServer(t *testing.T, cfg Config) (*Server, *engine.Engine) {
	t.Helper()
	m := lifecycle.NewMachine(lifecycle.NewMemoryStore(), time.UTC)
	eng, err := engine.New(engine.Deps{Machine: m}, engine.DefaultSettings())
	require.NoError(t, err)
	s := New(eng, cfg)
	s.now = func() time.Time { return fixedNow }
	return s, eng
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	rec := do(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "uptime_seconds")

	rec = do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLastTick(t *testing.T) {
	s, eng := newTestServer(t, Config{})

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/tick/last", "").Code)

	res, err := eng.Tick(context.Background(), &market.Snapshot{Timestamp: fixedNow})
	require.NoError(t, err)

	rec := do(t, s, http.MethodGet, "/api/tick/last", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		TickID string `json:"tick_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, res.TickID, got.TickID)
}

func TestTradeRoutes(t *testing.T) {
	s, eng := newTestServer(t, Config{})
	ctx := context.Background()
	_, err := eng.Machine().AddTrade(ctx, lifecycle.StrategyIronCondor, fixedNow, lifecycle.Trade{})
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
	}{
		{"list all", http.MethodGet, "/api/trades", "", http.StatusOK},
		{"get one", http.MethodGet, "/api/trades/T00001", "", http.StatusOK},
		{"get missing", http.MethodGet, "/api/trades/T99999", "", http.StatusNotFound},
		{"confirm before tick", http.MethodPost, "/api/trades/confirm", `{"kind":"condor"}`, http.StatusConflict},
		{"confirm unknown kind", http.MethodPost, "/api/trades/confirm", `{"kind":"strangle"}`, http.StatusBadRequest},
		{"close missing", http.MethodPost, "/api/trades/T99999/close", "", http.StatusNotFound},
		{"close", http.MethodPost, "/api/trades/T00001/close", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}

	rec := do(t, s, http.MethodGet, "/api/trades?status=closed", "")
	var trades []lifecycle.Trade
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, lifecycle.StatusClosed, trades[0].Status)
	assert.Equal(t, engine.ManualCloseReason, trades[0].ClosedReason)

	rec = do(t, s, http.MethodGet, "/api/trades?status=open", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
	assert.Empty(t, trades)
}

func signedSlack(t *testing.T, s *Server, text string, ts time.Time, sign string) *httptest.ResponseRecorder {
	t.Helper()
	body := url.Values{"user_id": {"U1"}, "command": {"/spx"}, "text": {text}}.Encode()
	stamp := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(sign))
	mac.Write([]byte("v0:" + stamp + ":" + body))

	req := httptest.NewRequest(http.MethodPost, "/slack/commands", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", stamp)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSlackCommands(t *testing.T) {
	s, eng := newTestServer(t, Config{SlackSigningSecret: secret})
	_, err := eng.Machine().AddTrade(context.Background(), lifecycle.StrategyIronFly, fixedNow, lifecycle.Trade{})
	require.NoError(t, err)

	rec := signedSlack(t, s, "trades", fixedNow, secret)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp slashResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Text, "T00001 IRON_FLY open")

	rec = signedSlack(t, s, "close T00001", fixedNow.Add(time.Second), secret)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "in_channel", resp.ResponseType)
	assert.Contains(t, resp.Text, "closed T00001")

	rec = signedSlack(t, s, "status", fixedNow.Add(2*time.Second), secret)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "no tick yet", resp.Text)
}

func TestSlackRejects(t *testing.T) {
	s, _ := newTestServer(t, Config{SlackSigningSecret: secret})

	assert.Equal(t, http.StatusUnauthorized, signedSlack(t, s, "trades", fixedNow, "wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, signedSlack(t, s, "trades", fixedNow.Add(-10*time.Minute), secret).Code)

	require.Equal(t, http.StatusOK, signedSlack(t, s, "trades", fixedNow, secret).Code)
	assert.Equal(t, http.StatusUnauthorized, signedSlack(t, s, "trades", fixedNow, secret).Code, "replay")

	restricted, _ := newTestServer(t, Config{SlackSigningSecret: secret, SlackAllowedUsers: []string{"U2"}})
	rec := signedSlack(t, restricted, "trades", fixedNow, secret)
	var resp slashResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not authorized", resp.Text)

	open, _ := newTestServer(t, Config{})
	assert.NotEqual(t, http.StatusOK, signedSlack(t, open, "trades", fixedNow, secret).Code)
}
