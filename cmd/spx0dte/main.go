package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Rajchodisetti/spx0dte/internal/app"
	"github.com/Rajchodisetti/spx0dte/internal/config"
	"github.com/Rajchodisetti/spx0dte/internal/observ"
)

var version = "dev"

func main() {
	var cfgPath string
	var once bool
	flag.StringVar(&cfgPath, "config", os.Getenv("SPX0DTE_CONFIG"), "YAML config path; empty uses defaults and environment")
	flag.BoolVar(&once, "once", false, "evaluate the snapshot once, print the result and exit")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if once {
		cfg.Mode = "once"
	}
	if err := observ.SetupLogging(cfg.Log, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	observ.SetVersion(version)
	observ.Log("startup", map[string]any{
		"version":       version,
		"mode":          cfg.Mode,
		"state_backend": cfg.State.Backend,
		"snapshot":      cfg.Snapshot.Path,
		"server":        cfg.Server.Enabled,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		observ.Error("startup_failed", err, nil)
		os.Exit(1)
	}
	defer a.Close()

	if cfg.Mode == "once" {
		res, err := a.Once(ctx)
		if err != nil {
			observ.Error("tick_failed", err, nil)
			os.Exit(1)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			observ.Error("encode_result", err, nil)
			os.Exit(1)
		}
		return
	}

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		observ.Error("run_failed", err, nil)
		a.Close()
		os.Exit(1)
	}
	observ.Log("shutdown", nil)
}
