package fixture

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/model"
	"github.com/atmx/pnl-engine/internal/store"
)

const sample = `{
  "events": [
    {"id": "e1", "account_id": "acct-1", "market_id": "m1", "outcome_index": 0,
     "timestamp": "2024-11-05T12:00:00Z", "source": "clob", "kind": "BUY",
     "token_delta": "100", "cash_delta": "-40"}
  ],
  "resolutions": [
    {"market_id": "m1", "settled": true, "payout_fractions": ["1", "0"]}
  ],
  "prices": [
    {"market_id": "m2", "outcome_index": 1, "price": "0.25"}
  ]
}`

func TestRead(t *testing.T) {
	f, err := Read(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Events) != 1 || f.Events[0].Kind != "BUY" || f.Events[0].TokenDelta != "100" {
		t.Errorf("unexpected events %+v", f.Events)
	}

	snaps, err := f.Snapshots()
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if r, ok := snaps.Resolutions.Lookup("m1"); !ok || !r.Settled {
		t.Errorf("expected settled m1, got %+v", r)
	}
	p, ok := snaps.Prices.Price(model.OutcomeRef{MarketID: "m2", OutcomeIndex: 1})
	if !ok || !p.Equal(decimal.RequireFromString("0.25")) {
		t.Errorf("expected price 0.25, got %s", p)
	}
}

func TestRead_Invalid(t *testing.T) {
	if _, err := Read(strings.NewReader(`{"events": 3}`)); err == nil {
		t.Error("expected decode error")
	}
}

func TestMaps_Rejects(t *testing.T) {
	dup := &Fixture{Resolutions: []model.Resolution{{MarketID: "m1"}, {MarketID: "m1"}}}
	if _, _, err := dup.Maps(); !errors.Is(err, ErrDuplicateResolution) {
		t.Errorf("expected ErrDuplicateResolution, got %v", err)
	}
	anon := &Fixture{Resolutions: []model.Resolution{{Settled: true}}}
	if _, _, err := anon.Maps(); err == nil {
		t.Error("expected error for resolution without market")
	}
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	f, err := Read(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ms := store.NewMemoryStore()
	if err := f.Seed(ctx, ms); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	rows, err := ms.GetAccountEvents(ctx, "acct-1")
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected 1 seeded row, got %d (%v)", len(rows), err)
	}
	snaps, err := store.LoadSnapshots(ctx, ms, []string{"m1", "m2"})
	if err != nil {
		t.Fatalf("LoadSnapshots: %v", err)
	}
	if snaps.Resolutions.Len() != 1 || snaps.Prices.Len() != 1 {
		t.Errorf("expected 1 resolution and 1 price, got %d/%d", snaps.Resolutions.Len(), snaps.Prices.Len())
	}
}
