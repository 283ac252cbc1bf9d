package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Rajchodisetti/spx0dte/internal/app"
	"github.com/Rajchodisetti/spx0dte/internal/config"
	"github.com/Rajchodisetti/spx0dte/internal/engine"
	"github.com/Rajchodisetti/spx0dte/internal/lifecycle"
	"github.com/Rajchodisetti/spx0dte/internal/observ"
)

const usage = `usage: trades [-config path] [-json] <command>

commands:
  list [open|exit_pending|closed ...]   list trades, all when no status is given
  confirm <strategy>                    evaluate the snapshot and record a fill of its candidate
  close <trade_id>                      close a trade manually
`

func main() {
	fs := flag.NewFlagSet("trades", flag.ExitOnError)
	cfgPath := fs.String("config", os.Getenv("SPX0DTE_CONFIG"), "YAML config path; empty uses defaults and environment")
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = fs.Parse(os.Args[1:])

	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}
	if err := run(*cfgPath, *asJSON, fs.Args(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "trades: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string, asJSON bool, args []string, out io.Writer) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	// Logs go to stderr so stdout stays parseable.
	cfg.Log.Format = "console"
	if err := observ.SetupLogging(cfg.Log, os.Stderr); err != nil {
		return err
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	switch cmd, rest := args[0], args[1:]; cmd {
	case "list":
		statuses := make([]lifecycle.Status, 0, len(rest))
		for _, s := range rest {
			statuses = append(statuses, lifecycle.Status(strings.ToLower(s)))
		}
		trades, err := a.Engine.Machine().Trades(ctx, statuses...)
		if err != nil {
			return err
		}
		return printTrades(out, trades, asJSON)
	case "confirm":
		if len(rest) == 0 {
			return fmt.Errorf("confirm needs a strategy")
		}
		kind, ok := engine.ParseKind(strings.Join(rest, " "))
		if !ok {
			return fmt.Errorf("unknown strategy %q", strings.Join(rest, " "))
		}
		if _, err := a.Once(ctx); err != nil {
			return err
		}
		t, err := a.Engine.ConfirmEntry(ctx, kind, time.Now())
		if err != nil {
			return err
		}
		return printTrades(out, []lifecycle.Trade{t}, asJSON)
	case "close":
		if len(rest) != 1 {
			return fmt.Errorf("close needs exactly one trade id")
		}
		t, err := a.Engine.ManualClose(ctx, rest[0], time.Now())
		if err != nil {
			return err
		}
		return printTrades(out, []lifecycle.Trade{t}, asJSON)
	}
	return fmt.Errorf("unknown command %q\n%s", args[0], usage)
}

func printTrades(out io.Writer, trades []lifecycle.Trade, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(trades)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTRATEGY\tSTATUS\tENTRY (ET)\tCREDIT\tDEBIT\tP/L\tNOTE")
	for _, t := range trades {
		note := t.NextExitReason
		switch t.Status {
		case lifecycle.StatusExitPending:
			note = t.ExitPendingReason
		case lifecycle.StatusClosed:
			note = t.ClosedReason
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Strategy, t.Status, t.EntryTimeET.Format("2006-01-02 15:04"),
			num(t.InitialCredit, "%.2f"), num(t.CurrentDebit, "%.2f"), pct(t.ProfitPct), note)
	}
	return w.Flush()
}

func num(p *float64, format string) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf(format, *p)
}

func pct(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", *p*100)
}
