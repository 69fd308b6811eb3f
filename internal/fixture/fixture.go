// Package fixture reads self-contained PnL inputs: raw event rows plus the
// resolutions and mark prices they are valued against. The same shape is
// the body of inline HTTP computations and the file format of pnlctl.
package fixture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/model"
	"github.com/atmx/pnl-engine/internal/oracle"
	"github.com/atmx/pnl-engine/internal/store"
)

// ErrDuplicateResolution is returned when a market is resolved twice.
var ErrDuplicateResolution = errors.New("fixture: duplicate resolution")

// Price is one mark price.
type Price struct {
	MarketID     string          `json:"market_id"`
	OutcomeIndex int             `json:"outcome_index"`
	Price        decimal.Decimal `json:"price"`
}

// Fixture is a complete computation input.
type Fixture struct {
	Events      []model.RawEvent   `json:"events"`
	Resolutions []model.Resolution `json:"resolutions,omitempty"`
	Prices      []Price            `json:"prices,omitempty"`
}

// Read decodes a fixture from JSON.
func Read(r io.Reader) (*Fixture, error) {
	var f Fixture
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return &f, nil
}

// Load reads a fixture file.
func Load(path string) (*Fixture, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Read(file)
}

// Maps returns the fixture's resolutions and prices keyed the way stores
// and snapshots key them.
func (f *Fixture) Maps() (map[string]model.Resolution, map[model.OutcomeRef]decimal.Decimal, error) {
	resolutions := make(map[string]model.Resolution, len(f.Resolutions))
	for _, r := range f.Resolutions {
		if r.MarketID == "" {
			return nil, nil, fmt.Errorf("fixture: resolution without market_id")
		}
		if _, dup := resolutions[r.MarketID]; dup {
			return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateResolution, r.MarketID)
		}
		resolutions[r.MarketID] = r
	}
	prices := make(map[model.OutcomeRef]decimal.Decimal, len(f.Prices))
	for _, p := range f.Prices {
		prices[model.OutcomeRef{MarketID: p.MarketID, OutcomeIndex: p.OutcomeIndex}] = p.Price
	}
	return resolutions, prices, nil
}

// Snapshots validates the fixture's resolutions and prices and freezes them
// for one computation pass.
func (f *Fixture) Snapshots() (oracle.Snapshots, error) {
	resolutions, prices, err := f.Maps()
	if err != nil {
		return oracle.Snapshots{}, err
	}
	resSnap, err := oracle.NewSnapshot(resolutions)
	if err != nil {
		return oracle.Snapshots{}, err
	}
	priceSnap, err := oracle.NewPriceSnapshot(prices)
	if err != nil {
		return oracle.Snapshots{}, err
	}
	return oracle.Snapshots{Resolutions: resSnap, Prices: priceSnap}, nil
}

// Seed writes every row, resolution and price of the fixture.
func (f *Fixture) Seed(ctx context.Context, w store.Writer) error {
	resolutions, prices, err := f.Maps()
	if err != nil {
		return err
	}
	if err := w.InsertEvents(ctx, f.Events); err != nil {
		return fmt.Errorf("seed events: %w", err)
	}
	for _, r := range resolutions {
		if err := w.PutResolution(ctx, r); err != nil {
			return fmt.Errorf("seed resolution %s: %w", r.MarketID, err)
		}
	}
	for ref, p := range prices {
		if err := w.PutPrice(ctx, ref, p); err != nil {
			return fmt.Errorf("seed price %s/%d: %w", ref.MarketID, ref.OutcomeIndex, err)
		}
	}
	return nil
}
