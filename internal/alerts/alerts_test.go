package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/spx0dte/internal/exit"
	"github.com/Rajchodisetti/spx0dte/internal/lifecycle"
	"github.com/Rajchodisetti/spx0dte/internal/market"
	"github.com/Rajchodisetti/spx0dte/internal/risk"
	"github.com/Rajchodisetti/spx0dte/internal/strategy"
)

var f = market.Float

func noSleep(context.Context, time.Duration) error { return nil }

func testTelegram(url string) *TelegramSender {
	s := NewTelegramSender("tok", "42")
	s.BaseURL = url
	s.sleep = noSleep
	return s
}

func TestTelegramSend(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottok/sendMessage", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	require.NoError(t, testTelegram(srv.URL).Send(context.Background(), "hello"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "hello", got["text"])
	assert.Equal(t, "Markdown", got["parse_mode"])
	assert.Equal(t, true, got["disable_web_page_preview"])
}

func TestTelegramErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"api error", http.StatusOK, `{"ok": false, "description": "chat not found"}`, "chat not found"},
		{"api error without description", http.StatusOK, `{"ok": false}`, "Telegram API error"},
		{"bad json", http.StatusOK, `nope`, "invalid Telegram JSON response"},
		{"http error", http.StatusBadGateway, "  upstream down  ", "HTTP 502: upstream down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			err := testTelegram(srv.URL).Send(context.Background(), "x")
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}

	t.Run("missing credentials", func(t *testing.T) {
		err := NewTelegramSender("", "42").Send(context.Background(), "x")
		assert.EqualError(t, err, "missing TELEGRAM_BOT_TOKEN (or TELEGRAM_TOKEN)")
		err = NewTelegramSender("tok", "").Send(context.Background(), "x")
		assert.EqualError(t, err, "missing TELEGRAM_CHAT_ID")
	})
}

func TestTelegramRetriesRateLimit(t *testing.T) {
	var calls int32
	var slept []time.Duration
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"ok": false, "parameters": {"retry_after": 3}}`))
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	s := testTelegram(srv.URL)
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	require.NoError(t, s.Send(context.Background(), "x"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, slept)

	t.Run("gives up after max retries", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{}`))
		}))
		defer srv.Close()
		err := testTelegram(srv.URL).Send(context.Background(), "x")
		assert.EqualError(t, err, "rate limited (retry_after=1s)")
	})
}

func TestSlackSender(t *testing.T) {
	var got SlackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	s := NewSlackSender(srv.URL, "#spx")
	require.NoError(t, s.Send(context.Background(), "*🔔 EXIT ALERT*\nStrategy: Iron Condor\nReason: short\\_put"))
	assert.Equal(t, "#spx", got.Channel)
	assert.Equal(t, "🔔 EXIT ALERT", got.Text)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "danger", got.Attachments[0].Color)
	assert.Equal(t, "Strategy: Iron Condor\nReason: short_put", got.Attachments[0].Text)

	assert.Error(t, NewSlackSender("", "").Send(context.Background(), "x"))
}

type fakeSender struct {
	name string
	err  error
	sent []string
}

func (s *fakeSender) Name() string { return s.name }

func (s *fakeSender) Send(_ context.Context, text string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, text)
	return nil
}

func TestNotifier(t *testing.T) {
	ctx := context.Background()
	opts := Options{Enabled: true, DedupeFor: time.Minute}

	t.Run("disabled", func(t *testing.T) {
		n := NewNotifier(Options{}, &fakeSender{name: "a"})
		assert.ErrorIs(t, n.Notify(ctx, "entry", "x"), ErrDisabled)
		assert.ErrorIs(t, NewNotifier(opts).Notify(ctx, "entry", "x"), ErrDisabled)
	})

	t.Run("partial delivery succeeds", func(t *testing.T) {
		good, bad := &fakeSender{name: "good"}, &fakeSender{name: "bad", err: errors.New("boom")}
		n := NewNotifier(opts, bad, good)
		require.NoError(t, n.Notify(ctx, "entry", "ready"))
		assert.Equal(t, []string{"ready"}, good.sent)
	})

	t.Run("all senders failing is an error", func(t *testing.T) {
		n := NewNotifier(opts, &fakeSender{name: "bad", err: errors.New("boom")})
		err := n.Notify(ctx, "entry", "ready")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad: boom")

		// a failed send is not remembered, so a retry goes out
		n.senders = []Sender{&fakeSender{name: "good"}}
		assert.NoError(t, n.Notify(ctx, "entry", "ready"))
	})

	t.Run("dedupe window", func(t *testing.T) {
		s := &fakeSender{name: "a"}
		n := NewNotifier(opts, s)
		clock := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
		n.now = func() time.Time { return clock }

		require.NoError(t, n.Notify(ctx, "exit", "same"))
		assert.ErrorIs(t, n.Notify(ctx, "exit", "same"), ErrDuplicate)
		require.NoError(t, n.Notify(ctx, "entry", "same"), "kind is part of the key")

		clock = clock.Add(time.Minute)
		require.NoError(t, n.Notify(ctx, "exit", "same"))
		assert.Len(t, s.sent, 3)
	})
}

func TestFormatEntry(t *testing.T) {
	c := &strategy.Candidate{
		Kind:       strategy.KindDirectional,
		SpreadType: strategy.BullPutSpread,
		Legs: []strategy.Leg{
			{Action: strategy.Sell, Right: market.Put, Strike: 5975, Qty: 1, Delta: f(-0.22)},
			{Action: strategy.Buy, Right: market.Put, Strike: 5945, Qty: 1, Delta: f(-0.12)},
		},
		Width:         f(30),
		Credit:        2.1,
		MaxLossPoints: 27.9,
		PopDelta:      0.78,
	}
	now := time.Date(2026, 3, 2, 11, 30, 0, 0, market.ET)
	msg := FormatEntry(Entry{
		Candidate:    c,
		Now:          now,
		Spot:         f(6000),
		EMR:          f(20),
		VWAPDistance: f(4),
		RangePctEMR:  f(0.5),
		RiskScore:    "low",
	})

	lines := strings.Split(msg, "\n")
	assert.Equal(t, "*🟢 SPX 0DTE DIRECTIONAL CREDIT SPREAD (BULL PUT SPREAD) READY*", lines[0])
	assert.Contains(t, msg, "Time: 11:30:00 ET")
	assert.Contains(t, msg, "Sell 1 PUT 5975 (Δ -0.22)\nBuy 1 PUT 5945 (Δ -0.12)")
	assert.Contains(t, msg, "Width: 30\nCredit: 2.10")
	assert.Contains(t, msg, "POP: 78%")
	assert.Contains(t, msg, "15m Range/EM: 0.50 ✖")
	assert.Contains(t, msg, "VWAP Dist/EM: 0.20 ✔")
	assert.Contains(t, msg, "ATR(1m)/EMR: - -")
	assert.Contains(t, msg, "Risk Score: LOW")
	assert.Contains(t, msg, "Reason: Entry criteria met (NOT READY → READY).")
	assert.Equal(t, "_Generated 2026-03-02 11:30:00 ET | 2026-03-02 17:30:00 Paris | SPX 0DTE Dashboard_", lines[len(lines)-1])
}

func TestFormatExit(t *testing.T) {
	entry := time.Date(2026, 3, 2, 10, 15, 0, 0, market.ET)
	trade := lifecycle.Trade{
		ID:            "t1",
		Strategy:      lifecycle.StrategyCreditSpread,
		SpreadType:    "BEAR_CALL_SPREAD",
		EntryTimeET:   entry,
		InitialCredit: f(2),
		PopDelta:      f(0.8),
		ShortStrike:   f(6030), ShortRight: "CALL", ShortDelta: f(0.2),
		LongStrike: f(6060), LongRight: "CALL",
	}
	d := exit.Decision{
		ShouldExit:   true,
		Reasons:      []string{"Short strike buffer breached (short_call)", "Max hold"},
		CurrentDebit: f(2.5),
		ProfitPct:    f(-0.25),
	}
	msg := FormatExit(Exit{Trade: trade, Decision: d, Now: entry.Add(time.Hour), Spot: f(6021.5)})

	assert.True(t, strings.HasPrefix(msg, "*🔔 EXIT ALERT*\nStrategy: Credit Spread (Bear Call Spread)\n"))
	assert.Contains(t, msg, "Time: 11:15:00 ET\nParis: 17:15:00 Paris\nEntry: 10:15:00 ET\nSpot: 6021.50")
	assert.Contains(t, msg, "Sell 1 CALL 6030 (Δ +0.20)\nBuy 1 CALL 6060 (Δ -)")
	assert.Contains(t, msg, "Current Debit: 2.50\nProfit/Loss: -25%\nPOP: 80%")
	assert.Contains(t, msg, `Reason: Short strike buffer breached (short\_call)`)

	empty := FormatExit(Exit{Trade: lifecycle.Trade{Strategy: "IRON_CONDOR"}, Now: entry})
	assert.Contains(t, empty, "Strategy: Iron Condor")
	assert.Contains(t, empty, "Entry: -")
	assert.Contains(t, empty, "Reason: Exit condition triggered.")
}

func TestTradeLegs(t *testing.T) {
	condor := lifecycle.Trade{Strategy: "IRON_CONDOR", ShortPut: f(5950), LongPut: f(5900), ShortCall: f(6050), LongCall: f(6100)}
	assert.Equal(t, "🟢 LEGS:\nSell 1 PUT 5950 (Δ -)\nBuy 1 PUT 5900 (Δ -)\nSell 1 CALL 6050 (Δ -)\nBuy 1 CALL 6100 (Δ -)",
		FormatLegs(TradeLegs(condor)))

	bwb := lifecycle.Trade{Strategy: lifecycle.StrategyBWB, LongStrike: f(5900), ShortStrike: f(5875), FarLongStrike: f(5825.5)}
	assert.Equal(t, "🟢 LEGS:\nBuy 1 PUT 5900 (Δ -)\nSell 2 PUT 5875 (Δ -)\nBuy 1 PUT 5825.50 (Δ -)",
		FormatLegs(TradeLegs(bwb)))
}

func TestFormatLossLock(t *testing.T) {
	e := risk.NewExposure(risk.SleeveSettings{SleeveCapital: 10000, DailyRealizedPnL: -450}, nil)
	msg := FormatLossLock(time.Date(2026, 3, 2, 12, 0, 0, 0, market.ET), e, nil)
	assert.True(t, strings.HasPrefix(msg, "*🛑 SLEEVE DAILY LOSS LOCK*"))
	assert.Contains(t, msg, "Daily P&L: -450.00 (limit -400.00)")
	assert.Contains(t, msg, "Open Risk: $0 of $600")
}

func TestEscape(t *testing.T) {
	assert.Equal(t, `a\_b\*c\[d\`+"`"+`e\\f`, escape("a_b*c[d`e\\f"))
}
