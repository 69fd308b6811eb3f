// Package oracle provides the read-only resolution and mark-price lookups
// consumed by the PnL engine.
//
// Both lookups are immutable snapshots built once per computation pass from
// maps supplied by the caller. They copy their input and expose no setters,
// so a pass can never observe a value that changed underneath it.
package oracle

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/model"
)

var (
	// ErrInvalidPayout is returned when a payout fraction lies outside [0, 1].
	ErrInvalidPayout = errors.New("oracle: payout fraction must be within [0, 1]")

	// ErrInvalidPrice is returned when a mark price is negative.
	ErrInvalidPrice = errors.New("oracle: mark price must not be negative")

	// ErrMarketMismatch is returned when a resolution is filed under another market's ID.
	ErrMarketMismatch = errors.New("oracle: resolution market does not match its key")
)

// Snapshots are the immutable lookups one computation pass values
// positions against.
type Snapshots struct {
	Resolutions *Snapshot
	Prices      *PriceSnapshot
}

// Empty returns snapshots with no resolutions and no prices.
func Empty() Snapshots {
	return Snapshots{Resolutions: EmptySnapshot(), Prices: EmptyPrices()}
}

// Lookup resolves a market identifier to its settlement outcome.
type Lookup interface {
	Lookup(marketID string) (model.Resolution, bool)
}

// Snapshot is an immutable market → resolution mapping.
type Snapshot struct {
	byMarket map[string]model.Resolution
}

// NewSnapshot validates and copies the given resolutions.
func NewSnapshot(resolutions map[string]model.Resolution) (*Snapshot, error) {
	one := decimal.NewFromInt(1)
	byMarket := make(map[string]model.Resolution, len(resolutions))
	for id, r := range resolutions {
		if r.MarketID == "" {
			r.MarketID = id
		}
		if r.MarketID != id {
			return nil, fmt.Errorf("%w: %s filed under %s", ErrMarketMismatch, r.MarketID, id)
		}
		for i, f := range r.PayoutFractions {
			if f.IsNegative() || f.GreaterThan(one) {
				return nil, fmt.Errorf("%w: market %s outcome %d = %s", ErrInvalidPayout, id, i, f.String())
			}
		}
		r.PayoutFractions = append([]decimal.Decimal(nil), r.PayoutFractions...)
		byMarket[id] = r
	}
	return &Snapshot{byMarket: byMarket}, nil
}

// EmptySnapshot returns a snapshot with no resolutions.
func EmptySnapshot() *Snapshot {
	return &Snapshot{byMarket: map[string]model.Resolution{}}
}

// Lookup returns the resolution for a market, or false when none is known.
// The returned value is a copy.
func (s *Snapshot) Lookup(marketID string) (model.Resolution, bool) {
	if s == nil {
		return model.Resolution{}, false
	}
	r, ok := s.byMarket[marketID]
	if !ok {
		return model.Resolution{}, false
	}
	r.PayoutFractions = append([]decimal.Decimal(nil), r.PayoutFractions...)
	return r, true
}

// Len returns the number of markets in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.byMarket)
}

// PriceSnapshot is an immutable (market, outcome) → mark price mapping.
type PriceSnapshot struct {
	prices map[model.OutcomeRef]decimal.Decimal
}

// NewPriceSnapshot validates and copies the given mark prices.
func NewPriceSnapshot(prices map[model.OutcomeRef]decimal.Decimal) (*PriceSnapshot, error) {
	cp := make(map[model.OutcomeRef]decimal.Decimal, len(prices))
	for ref, p := range prices {
		if p.IsNegative() {
			return nil, fmt.Errorf("%w: %s/%d = %s", ErrInvalidPrice, ref.MarketID, ref.OutcomeIndex, p.String())
		}
		cp[ref] = p
	}
	return &PriceSnapshot{prices: cp}, nil
}

// EmptyPrices returns a price snapshot with no prices.
func EmptyPrices() *PriceSnapshot {
	return &PriceSnapshot{prices: map[model.OutcomeRef]decimal.Decimal{}}
}

// Price returns the mark price of one outcome token.
func (p *PriceSnapshot) Price(ref model.OutcomeRef) (decimal.Decimal, bool) {
	if p == nil {
		return decimal.Zero, false
	}
	v, ok := p.prices[ref]
	return v, ok
}

// Len returns the number of prices in the snapshot.
func (p *PriceSnapshot) Len() int {
	if p == nil {
		return 0
	}
	return len(p.prices)
}
