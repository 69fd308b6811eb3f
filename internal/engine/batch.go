package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/pnl-engine/internal/metrics"
	"github.com/atmx/pnl-engine/internal/model"
	"github.com/atmx/pnl-engine/internal/oracle"
	"github.com/atmx/pnl-engine/internal/store"
)

// Source supplies raw rows and the data snapshots are built from.
// store.Store satisfies it.
type Source interface {
	GetAccountEvents(ctx context.Context, accountID string) ([]model.RawEvent, error)
	store.SnapshotReader
}

// BatchItem is the outcome of one account in a batch. Exactly one of
// Result and Err is set.
type BatchItem struct {
	AccountID string               `json:"account_id"`
	Result    *model.AccountResult `json:"result,omitempty"`
	Err       error                `json:"-"`
	Error     string               `json:"error,omitempty"`
}

// Batch is the outcome of one batch run. Items follow request order.
type Batch struct {
	RunID     string      `json:"run_id"`
	StartedAt time.Time   `json:"started_at"`
	Duration  string      `json:"duration"`
	Cancelled bool        `json:"cancelled"`
	Items     []BatchItem `json:"items"`
}

// Failed counts items that did not produce a result.
func (b *Batch) Failed() int {
	n := 0
	for _, it := range b.Items {
		if it.Err != nil {
			n++
		}
	}
	return n
}

// ItemFunc observes each finished batch item of run runID. It is called
// from worker goroutines and must be safe for concurrent use.
type ItemFunc func(runID string, item BatchItem)

// RunBatch computes every listed account from the source. Events are loaded
// first; one resolution and price snapshot covering every market touched is
// then built and shared, read-only, by all accounts of the run.
//
// Per-account failures are attached to their items and never stop other
// accounts. Cancelling ctx stops scheduling: items not yet started carry the
// context error, completed items stay valid, and ctx.Err() is returned with
// the partial batch.
func (e *Engine) RunBatch(ctx context.Context, src Source, accountIDs []string, onItem ItemFunc) (*Batch, error) {
	if err := validateAccountList(accountIDs); err != nil {
		return nil, err
	}

	batch := newBatch(accountIDs)
	start := time.Now()
	raw := make([][]model.RawEvent, len(accountIDs))

	e.parallel(ctx, batch, func(ctx context.Context, i int) {
		rows, err := src.GetAccountEvents(ctx, accountIDs[i])
		if err != nil {
			metrics.SourceErrors.Inc()
			e.logger.Error("load account events", "account", accountIDs[i], "err", err)
			batch.Items[i].Err = fmt.Errorf("load events: %w", err)
			return
		}
		raw[i] = rows
	})

	snaps := oracle.Empty()
	if ctx.Err() == nil {
		var err error
		snaps, err = store.LoadSnapshots(ctx, src, marketsOf(raw...))
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("engine: load snapshots: %w", err)
		}
	}

	e.parallel(ctx, batch, func(_ context.Context, i int) {
		if batch.Items[i].Err != nil {
			return
		}
		e.computeItem(batch, i, raw[i], snaps, onItem)
	})

	return e.finish(ctx, batch, start)
}

// ComputeInline computes every account present in raw against the given
// snapshots. A row without an account is structurally invalid and fails the
// whole call before any account runs.
func (e *Engine) ComputeInline(ctx context.Context, raw []model.RawEvent, snaps oracle.Snapshots, onItem ItemFunc) (*Batch, error) {
	byAccount := make(map[string][]model.RawEvent)
	for _, r := range raw {
		if r.AccountID == "" {
			return nil, fmt.Errorf("%w: row %q", ErrUndefinedAccount, r.ID)
		}
		byAccount[r.AccountID] = append(byAccount[r.AccountID], r)
	}
	ids := make([]string, 0, len(byAccount))
	for id := range byAccount {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	batch := newBatch(ids)
	start := time.Now()
	e.parallel(ctx, batch, func(_ context.Context, i int) {
		e.computeItem(batch, i, byAccount[ids[i]], snaps, onItem)
	})
	return e.finish(ctx, batch, start)
}

func (e *Engine) computeItem(batch *Batch, i int, raw []model.RawEvent, snaps oracle.Snapshots, onItem ItemFunc) {
	item := &batch.Items[i]
	result, err := e.ComputeAccount(item.AccountID, raw, snaps)
	if err != nil {
		e.logger.Error("compute account", "account", item.AccountID, "err", err)
		item.Err = err
	} else {
		item.Result = &result
	}
	if onItem != nil {
		onItem(batch.RunID, *item)
	}
}

// parallel runs fn for every item index on at most Workers goroutines.
// Indexes that have not started when ctx is cancelled get ctx.Err().
func (e *Engine) parallel(ctx context.Context, batch *Batch, fn func(context.Context, int)) {
	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for i := range batch.Items {
		if ctx.Err() != nil {
			for j := i; j < len(batch.Items); j++ {
				if batch.Items[j].Err == nil && batch.Items[j].Result == nil {
					batch.Items[j].Err = ctx.Err()
				}
			}
			break
		}
		g.Go(func() error {
			fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) finish(ctx context.Context, batch *Batch, start time.Time) (*Batch, error) {
	elapsed := time.Since(start)
	batch.Duration = elapsed.String()
	for i := range batch.Items {
		if err := batch.Items[i].Err; err != nil {
			batch.Items[i].Error = err.Error()
		}
	}
	metrics.BatchDuration.Observe(elapsed.Seconds())

	e.logger.Info("batch finished",
		"run_id", batch.RunID,
		"accounts", len(batch.Items),
		"failed", batch.Failed(),
		"duration", elapsed.String(),
	)

	if err := ctx.Err(); err != nil {
		batch.Cancelled = true
		return batch, err
	}
	return batch, nil
}

func newBatch(accountIDs []string) *Batch {
	items := make([]BatchItem, len(accountIDs))
	for i, id := range accountIDs {
		items[i] = BatchItem{AccountID: id}
	}
	return &Batch{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Items:     items,
	}
}

func validateAccountList(ids []string) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" {
			return fmt.Errorf("%w: empty account id", ErrInvalidAccountList)
		}
		if seen[id] {
			return fmt.Errorf("%w: %s listed twice", ErrInvalidAccountList, id)
		}
		seen[id] = true
	}
	return nil
}

// marketsOf returns the sorted distinct market IDs in the given rows.
func marketsOf(rows ...[]model.RawEvent) []string {
	set := make(map[string]bool)
	for _, rs := range rows {
		for _, r := range rs {
			if r.MarketID != "" {
				set[r.MarketID] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
