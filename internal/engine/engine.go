// Package engine wires the normalizer, ledgers, composer and classifier
// into one computation pass per account, and runs passes for many accounts
// in parallel.
//
// Accounts share no mutable state, so they are scheduled independently on a
// bounded worker pool. Inside an account, each position key is replayed by
// its own ledger in event order. Every pass is a pure function of the raw
// rows and the resolution and price snapshots it was given.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/cohort"
	"github.com/atmx/pnl-engine/internal/composer"
	"github.com/atmx/pnl-engine/internal/ledger"
	"github.com/atmx/pnl-engine/internal/metrics"
	"github.com/atmx/pnl-engine/internal/model"
	"github.com/atmx/pnl-engine/internal/normalize"
	"github.com/atmx/pnl-engine/internal/oracle"
)

var (
	// ErrUndefinedAccount is returned for input rows without an account.
	ErrUndefinedAccount = errors.New("engine: event has no account")

	// ErrForeignEvent is returned when an account's input contains rows of
	// another account.
	ErrForeignEvent = errors.New("engine: event belongs to another account")

	// ErrInvalidAccountList is returned for empty or repeated account IDs in
	// a batch request.
	ErrInvalidAccountList = errors.New("engine: invalid account list")
)

// Options configures an Engine.
type Options struct {
	// Workers bounds the number of accounts computed concurrently.
	// Zero means GOMAXPROCS.
	Workers   int
	Normalize normalize.Options
	Ledger    ledger.Options

	// HeavyShare is the split/merge share of events at which an account is
	// tiered split_merge_heavy. Zero means cohort.DefaultHeavyShare.
	HeavyShare decimal.Decimal
}

// DefaultOptions returns options with default source priority, exact
// prices and one worker per CPU.
func DefaultOptions() Options {
	return Options{
		Workers:    runtime.GOMAXPROCS(0),
		Normalize:  normalize.DefaultOptions(),
		Ledger:     ledger.Options{PricePolicy: ledger.PriceExact},
		HeavyShare: cohort.DefaultHeavyShare,
	}
}

// Engine computes account results. It holds configuration only and is safe
// for concurrent use.
type Engine struct {
	opts   Options
	tiers  *cohort.Classifier
	logger *slog.Logger
}

// New creates an engine. A nil logger uses slog.Default().
func New(opts Options, logger *slog.Logger) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if len(opts.Normalize.SourcePriority) == 0 {
		opts.Normalize = normalize.DefaultOptions()
	}
	tiers := cohort.NewClassifier(opts.HeavyShare)
	opts.HeavyShare = tiers.HeavyShare
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{opts: opts, tiers: tiers, logger: logger}
}

// Options returns the engine's effective options.
func (e *Engine) Options() Options { return e.opts }

// ComputeAccount runs one full pass for an account: normalize its raw rows,
// replay every position, compose and classify. Rows of other accounts make
// the input structurally invalid and return ErrForeignEvent; every other
// problem is reported in the result's diagnostics.
func (e *Engine) ComputeAccount(accountID string, raw []model.RawEvent, snaps oracle.Snapshots) (model.AccountResult, error) {
	start := time.Now()
	if accountID == "" {
		return model.AccountResult{}, ErrUndefinedAccount
	}
	for _, r := range raw {
		if r.AccountID != "" && r.AccountID != accountID {
			return model.AccountResult{}, fmt.Errorf("%w: row %s of %s in input for %s",
				ErrForeignEvent, r.ID, r.AccountID, accountID)
		}
	}

	events, warnings := normalize.Normalize(raw, e.opts.Normalize)

	positions := make([]model.PositionResult, 0)
	for _, group := range GroupByPosition(events) {
		key := group[0].Key()
		var res *model.Resolution
		if r, ok := snaps.Resolutions.Lookup(key.MarketID); ok {
			res = &r
		}
		pr, err := ledger.ComputePosition(key, group, res, e.opts.Ledger)
		if err != nil {
			// Normalized input is sorted and grouped, so this is a bug upstream of the ledger.
			return model.AccountResult{}, fmt.Errorf("position %s: %w", key, err)
		}
		positions = append(positions, pr)
	}

	result := composer.ComputeAccount(accountID, positions, snaps.Resolutions, snaps.Prices)
	composer.AddInputWarnings(&result, warnings)
	result.Tier = e.tiers.Classify(result.Diagnostics)

	e.record(result, time.Since(start))
	return result, nil
}

// GroupByPosition splits a normalized (sorted) event stream into runs that
// share a position key.
func GroupByPosition(events []model.Event) [][]model.Event {
	var groups [][]model.Event
	for i := 0; i < len(events); {
		j := i + 1
		for j < len(events) && events[j].Key() == events[i].Key() {
			j++
		}
		groups = append(groups, events[i:j])
		i = j
	}
	return groups
}

func (e *Engine) record(result model.AccountResult, elapsed time.Duration) {
	metrics.AccountsComputed.WithLabelValues(string(result.Tier)).Inc()
	metrics.AccountComputeDuration.Observe(elapsed.Seconds())

	for _, f := range result.Diagnostics.Faults {
		metrics.LedgerFaults.WithLabelValues(string(f.Code)).Inc()
		e.logger.Warn("ledger fault",
			"account", f.Key.AccountID,
			"market", f.Key.MarketID,
			"outcome", f.Key.OutcomeIndex,
			"event", f.EventID,
			"code", string(f.Code),
			"shortfall", f.Shortfall.String(),
		)
	}
	for _, w := range result.Diagnostics.Warnings {
		metrics.Warnings.WithLabelValues(string(w.Code)).Inc()
	}

	e.logger.Debug("account computed",
		"account", result.AccountID,
		"tier", string(result.Tier),
		"realized", result.RealizedPnL.String(),
		"unrealized", result.UnrealizedPnL.String(),
		"resolved_unredeemed", result.ResolvedUnredeemedValue.String(),
		"total", result.TotalPnL.String(),
		"positions", len(result.Positions),
	)
}
