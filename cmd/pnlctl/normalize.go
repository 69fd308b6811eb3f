package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/atmx/pnl-engine/internal/config"
	"github.com/atmx/pnl-engine/internal/fixture"
	"github.com/atmx/pnl-engine/internal/model"
	"github.com/atmx/pnl-engine/internal/normalize"
)

type normalizeCmd struct {
	file     string
	priority string
}

func (*normalizeCmd) Name() string { return "normalize" }
func (*normalizeCmd) Synopsis() string { return "print the normalized event stream of a fixture file" }
func (*normalizeCmd) Usage() string {
	return `pnlctl normalize -f <fixture.json> [-priority onchain,clob,activity]

  Deduplicates, expands and orders the fixture's event rows exactly as a
  computation would, and prints the resulting events with any warnings.
`
}

func (c *normalizeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "f", "", "Fixture file with events.")
	f.StringVar(&c.priority, "priority", "", "Source priority for duplicates, most trusted first.")
}

func (c *normalizeCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.file == "" {
		fmt.Fprintln(os.Stderr, "normalize: -f is required")
		return subcommands.ExitUsageError
	}
	fx, err := fixture.Load(c.file)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	opts := normalize.DefaultOptions()
	if c.priority != "" {
		opts.SourcePriority = config.ParseSourcePriority(c.priority)
	}
	events, warnings := normalize.Normalize(fx.Events, opts)

	out := struct {
		Events   []model.Event   `json:"events"`
		Warnings []model.Warning `json:"warnings"`
	}{events, warnings}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
