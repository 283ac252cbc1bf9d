// Package app wires configuration into a running engine and supervises the
// tick loop and the ops server.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/Rajchodisetti/spx0dte/internal/alerts"
	"github.com/Rajchodisetti/spx0dte/internal/config"
	"github.com/Rajchodisetti/spx0dte/internal/engine"
	"github.com/Rajchodisetti/spx0dte/internal/execution"
	"github.com/Rajchodisetti/spx0dte/internal/lifecycle"
	"github.com/Rajchodisetti/spx0dte/internal/macro"
	"github.com/Rajchodisetti/spx0dte/internal/observ"
	"github.com/Rajchodisetti/spx0dte/internal/outbox"
	"github.com/Rajchodisetti/spx0dte/internal/regime"
	"github.com/Rajchodisetti/spx0dte/internal/risk"
)

const connectTimeout = 5 * time.Second

// App owns the engine and every connection opened to build it.
type App struct {
	Config config.Root
	Engine *engine.Engine
	Outbox *outbox.Outbox

	closers []func()
}

// New builds the lifecycle store, notifier, outbox and engine from cfg.
func New(ctx context.Context, cfg config.Root) (*App, error) {
	a := &App{Config: cfg}

	store, err := a.store(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	display := cfg.Display()

	ob, err := outbox.New(cfg.Outbox.Path, time.Duration(cfg.Outbox.DedupeWindowSecs)*time.Second)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("outbox: %w", err)
	}
	a.Outbox = ob

	eng, err := engine.New(engine.Deps{
		Machine:     lifecycle.NewMachine(store, display),
		Notifier:    a.notifier(),
		Outbox:      ob,
		VolDetector: regime.NewVolExpansionDetector(cfg.State.VolPath),
		Calendar:    macro.Load(cfg.Files.Macro),
	}, a.settings(display))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Engine = eng
	return a, nil
}

// Close releases store connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) store(ctx context.Context) (lifecycle.Store, error) {
	st := a.Config.State
	switch st.Backend {
	case "memory":
		return lifecycle.NewMemoryStore(), nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: st.RedisAddr, DB: st.RedisDB})
		pctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := rdb.Ping(pctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis: ping: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		return lifecycle.NewRedisStore(rdb, st.RedisKey), nil
	case "postgres":
		if st.PostgresDSN == "" {
			return nil, errors.New("postgres: dsn required")
		}
		pctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		pool, err := pgxpool.New(pctx, st.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres: connect: %w", err)
		}
		if err := pool.Ping(pctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres: ping: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		ps := lifecycle.NewPostgresStore(pool, st.PostgresID)
		if err := ps.EnsureSchema(pctx); err != nil {
			return nil, err
		}
		return ps, nil
	}
	return lifecycle.NewFileStore(st.Path), nil
}

func (a *App) notifier() *alerts.Notifier {
	c := a.Config.Alerts
	var senders []alerts.Sender
	if c.TelegramToken != "" && c.TelegramChatID != "" {
		senders = append(senders, alerts.NewTelegramSender(c.TelegramToken, c.TelegramChatID))
	}
	if c.SlackWebhookURL != "" {
		senders = append(senders, alerts.NewSlackSender(c.SlackWebhookURL, c.SlackChannel))
	}
	enabled := c.Enabled && len(senders) > 0
	if c.Enabled && !enabled {
		observ.Warn("alerts_no_channel", map[string]any{"detail": "no Telegram or Slack channel configured"})
	}
	names := make([]string, 0, len(senders))
	for _, s := range senders {
		names = append(names, s.Name())
	}
	observ.Log("alerts_init", map[string]any{"enabled": enabled, "channels": names})

	opts := alerts.DefaultOptions()
	opts.Enabled = enabled
	opts.RatePerMin = c.RatePerMin
	opts.Burst = c.Burst
	opts.DedupeFor = time.Duration(c.DedupeSecs) * time.Second
	return alerts.NewNotifier(opts, senders...)
}

// settings reads the tolerant JSON documents fresh; they are edited by hand
// between sessions.
func (a *App) settings(display *time.Location) engine.Settings {
	c := a.Config
	s := engine.DefaultSettings()
	s.Sleeve = risk.LoadSleeveSettings(c.Files.Sleeve)
	s.Execution = execution.LoadSettings(c.Files.Execution)
	s.BWB = config.LoadBWBSettings(c.Files.BWB)
	s.MultiDTE = config.LoadMultiDTESettings(c.Files.MultiDTE)
	s.Exit = c.Exit
	s.ReadyCooldown = c.Alerts.ReadyCooldown()
	s.ExitCooldown = c.Alerts.ExitCooldown()
	s.Display = display
	return s
}
