package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/subcommands"

	"github.com/atmx/pnl-engine/internal/engine"
	"github.com/atmx/pnl-engine/internal/fixture"
	"github.com/atmx/pnl-engine/internal/ledger"
	"github.com/atmx/pnl-engine/internal/model"
	"github.com/atmx/pnl-engine/internal/report"
)

type computeCmd struct {
	file    string
	policy  string
	format  string
	style   string
	workers int
	verbose bool
}

func (*computeCmd) Name() string { return "compute" }
func (*computeCmd) Synopsis() string { return "compute PnL for every account in a fixture file" }
func (*computeCmd) Usage() string {
	return `pnlctl compute -f <fixture.json> [-policy exact|cents] [-format json|md|text]

  Normalizes the fixture's event rows, replays every position and prints
  one result per account with realized, unrealized and resolved-unredeemed
  value. Resolutions and prices come from the fixture only.
`
}

func (c *computeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "f", "", "Fixture file with events, resolutions and prices.")
	f.StringVar(&c.policy, "policy", "exact", "Trade price policy (exact, cents).")
	f.StringVar(&c.format, "format", "json", "Output format (json, md, text).")
	f.StringVar(&c.style, "style", "dark", "Terminal style for text output (dark, light, notty).")
	f.IntVar(&c.workers, "workers", 0, "Accounts computed concurrently (0 = one per CPU).")
	f.BoolVar(&c.verbose, "v", false, "Log ledger faults and per-account results to stderr.")
}

func (c *computeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.file == "" {
		fmt.Fprintln(os.Stderr, "compute: -f is required")
		return subcommands.ExitUsageError
	}
	policy, err := ledger.ParsePricePolicy(c.policy)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}

	fx, err := fixture.Load(c.file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	snaps, err := fx.Snapshots()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	opts := engine.DefaultOptions()
	opts.Ledger.PricePolicy = policy
	if c.workers > 0 {
		opts.Workers = c.workers
	}
	eng := engine.New(opts, stderrLogger(c.verbose))

	batch, err := eng.ComputeInline(ctx, fx.Events, snaps, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	var results []model.AccountResult
	status := subcommands.ExitSuccess
	for _, it := range batch.Items {
		if it.Err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", it.AccountID, it.Err)
			status = subcommands.ExitFailure
			continue
		}
		results = append(results, *it.Result)
	}

	switch c.format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
	case "md":
		fmt.Print(report.Markdown(results))
	case "text":
		out, err := report.Render(report.Markdown(results), c.style)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
		fmt.Print(out)
	default:
		fmt.Fprintf(os.Stderr, "compute: unknown format %q\n", c.format)
		return subcommands.ExitUsageError
	}
	return status
}

func stderrLogger(verbose bool) *slog.Logger {
	level := slog.LevelError
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
