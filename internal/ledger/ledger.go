// Package ledger implements the per-position inventory state machine.
//
// A Ledger consumes one position's events strictly in order and maintains
// held quantity, the cost basis of that quantity, and cumulative realized
// PnL. Sells and redemptions release cost proportionally at the current
// average cost; merges release it at the collateral rate 1/N. Market
// resolution is never a realized-PnL event: a resolution passed to
// ComputePosition only produces diagnostics, and the value of unredeemed
// tokens is left to the composer.
//
// All arithmetic uses shopspring/decimal, never float64 for money.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/model"
)

var (
	// ErrKeyMismatch is returned when an event does not belong to the ledger's position.
	ErrKeyMismatch = errors.New("ledger: event belongs to a different position")

	// ErrOutOfOrder is returned when events are not in timestamp/sequence order.
	ErrOutOfOrder = errors.New("ledger: events out of order")

	// ErrUnknownPricePolicy is returned by ParsePricePolicy.
	ErrUnknownPricePolicy = errors.New("ledger: unknown price policy")

	// PayoutTolerance bounds the accepted gap between a redemption's cash
	// and redeemed × payout fraction before a warning is raised.
	PayoutTolerance = decimal.NewFromFloat(0.01)

	// CentScale is the number of decimal places trade prices are rounded
	// to under PriceCents.
	CentScale int32 = 2
)

// PricePolicy controls whether per-trade prices are rounded before they
// enter accumulation.
type PricePolicy int

const (
	// PriceExact accumulates cash exactly as reported.
	PriceExact PricePolicy = iota
	// PriceCents rounds each Buy/Sell unit price to the cent and re-derives
	// cash as tokens × rounded price.
	PriceCents
)

func (p PricePolicy) String() string {
	switch p {
	case PriceExact:
		return "exact"
	case PriceCents:
		return "cents"
	default:
		return "unknown"
	}
}

// ParsePricePolicy parses "exact" or "cents". Empty means exact.
func ParsePricePolicy(s string) (PricePolicy, error) {
	switch s {
	case "exact", "":
		return PriceExact, nil
	case "cents":
		return PriceCents, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownPricePolicy, s)
	}
}

// Options configures a ledger pass.
type Options struct {
	PricePolicy PricePolicy
}

// Ledger is the inventory state of one position for one computation pass.
// It is not safe for concurrent use; each position gets its own ledger.
type Ledger struct {
	key  model.PositionKey
	opts Options

	quantity  decimal.Decimal
	costBasis decimal.Decimal
	realized  decimal.Decimal
	volume    decimal.Decimal

	faults   []model.Fault
	warnings []model.Warning

	applied    int
	splitMerge int
	synthetic  int
	kinds      map[model.Kind]bool
	sources    map[model.Source]bool
	redeemed   bool
	last       *model.Event
}

// New creates an empty ledger for a position.
func New(key model.PositionKey, opts Options) *Ledger {
	return &Ledger{
		key:     key,
		opts:    opts,
		kinds:   make(map[model.Kind]bool),
		sources: make(map[model.Source]bool),
	}
}

// ComputePosition replays a position's ordered events and returns its final
// state. The resolution, when non-nil, is consulted only to flag redemptions
// that disagree with it; it never changes quantity, cost basis or realized
// PnL. Data-integrity problems are recorded on the result; an error is
// returned only for events that belong elsewhere or arrive out of order.
func ComputePosition(key model.PositionKey, events []model.Event, res *model.Resolution, opts Options) (model.PositionResult, error) {
	l := New(key, opts)
	for _, ev := range events {
		if err := l.Apply(ev); err != nil {
			return model.PositionResult{}, err
		}
		if ev.Kind == model.KindRedemption && res != nil {
			l.checkRedemption(ev, *res)
		}
	}
	return l.Result(), nil
}

// Apply processes the next event.
func (l *Ledger) Apply(ev model.Event) error {
	if ev.Key() != l.key {
		return fmt.Errorf("%w: %s on ledger %s", ErrKeyMismatch, ev.Key(), l.key)
	}
	if l.last != nil && before(ev, *l.last) {
		return fmt.Errorf("%w: %s after %s", ErrOutOfOrder, ev.ID, l.last.ID)
	}
	last := ev
	l.last = &last

	l.applied++
	l.kinds[ev.Kind] = true
	l.sources[ev.Source] = true

	switch ev.Kind {
	case model.KindBuy:
		tokens := ev.TokenDelta.Abs()
		l.quantity = l.quantity.Add(tokens)
		l.costBasis = l.costBasis.Add(l.tradeCash(ev))
		l.volume = l.volume.Add(ev.CashDelta.Abs())

	case model.KindSell:
		sold := ev.TokenDelta.Abs()
		l.dispose(ev, sold, l.tradeCash(ev))
		l.volume = l.volume.Add(ev.CashDelta.Abs())

	case model.KindSplit:
		l.splitMerge++
		tokens := ev.TokenDelta.Abs()
		l.quantity = l.quantity.Add(tokens)
		l.costBasis = l.costBasis.Add(collateral(tokens, ev.OutcomeCount))

	case model.KindMerge:
		l.splitMerge++
		l.merge(ev)

	case model.KindRedemption:
		l.redeemed = true
		l.dispose(ev, ev.TokenDelta.Abs(), ev.CashDelta.Abs())

	case model.KindSyntheticPair:
		l.synthetic++
		l.realized = l.realized.Add(ev.CashDelta)

	default:
		l.faults = append(l.faults, model.Fault{
			Code:    model.FaultUnknownKind,
			Key:     l.key,
			EventID: ev.ID,
			Kind:    ev.Kind,
			Message: fmt.Sprintf("event kind %d not handled", int(ev.Kind)),
		})
	}
	return nil
}

// dispose removes tokens at the current average cost and realizes the
// difference between cash received and the cost released. A request for
// more tokens than held is a fault: only the held quantity is released and
// the full cash is realized against it.
func (l *Ledger) dispose(ev model.Event, requested, cash decimal.Decimal) {
	held := l.quantity
	disposed := l.clamp(ev, requested)

	var released decimal.Decimal
	if disposed.Equal(held) {
		released = l.costBasis
	} else {
		// cost × disposed / held == disposed × average cost
		released = l.costBasis.Mul(disposed).Div(held)
	}
	l.release(disposed, released, cash)
}

// merge returns a full set of outcome tokens for collateral. Consumed tokens
// leave at the collateral rate 1/N, the rate a split books them at, so a
// split followed by an equal merge nets to zero whatever else is held.
// Merging the whole holding releases all remaining cost.
func (l *Ledger) merge(ev model.Event) {
	held := l.quantity
	disposed := l.clamp(ev, ev.TokenDelta.Abs())

	released := collateral(disposed, ev.OutcomeCount)
	if disposed.Equal(held) || released.GreaterThan(l.costBasis) {
		released = l.costBasis
	}
	l.release(disposed, released, ev.CashDelta.Abs())
}

// clamp records a negative-inventory fault when more tokens are requested
// than held and returns the quantity that can actually be disposed of.
func (l *Ledger) clamp(ev model.Event, requested decimal.Decimal) decimal.Decimal {
	held := l.quantity
	if !requested.GreaterThan(held) {
		return requested
	}
	msg := fmt.Sprintf("%s of %s tokens with %s held; clamped to zero",
		ev.Kind, requested.String(), held.String())
	l.faults = append(l.faults, model.Fault{
		Code:      model.FaultNegativeInventory,
		Key:       l.key,
		EventID:   ev.ID,
		Kind:      ev.Kind,
		Shortfall: requested.Sub(held),
		Message:   msg,
	})
	return held
}

func (l *Ledger) release(disposed, released, cash decimal.Decimal) {
	l.quantity = l.quantity.Sub(disposed)
	l.costBasis = l.costBasis.Sub(released)
	if l.quantity.IsZero() {
		l.costBasis = decimal.Zero
	}
	l.realized = l.realized.Add(cash.Sub(released))
}

// tradeCash applies the price policy to a Buy/Sell cash amount.
func (l *Ledger) tradeCash(ev model.Event) decimal.Decimal {
	cash := ev.CashDelta.Abs()
	if l.opts.PricePolicy != PriceCents {
		return cash
	}
	price, ok := ev.UnitPrice()
	if !ok {
		return cash
	}
	return ev.TokenDelta.Abs().Mul(price.Round(CentScale))
}

func (l *Ledger) checkRedemption(ev model.Event, res model.Resolution) {
	if !res.Settled {
		l.warnings = append(l.warnings, model.Warning{
			Code:    model.WarnRedemptionUnsettled,
			Key:     l.key,
			EventID: ev.ID,
			Message: fmt.Sprintf("redemption in market %s which is not settled", res.MarketID),
		})
		return
	}
	payout, ok := res.Payout(ev.OutcomeIndex)
	if !ok {
		l.warnings = append(l.warnings, model.Warning{
			Code:    model.WarnPayoutOutcomeMissing,
			Key:     l.key,
			EventID: ev.ID,
			Message: fmt.Sprintf("resolution of %s has no payout for outcome %d", res.MarketID, ev.OutcomeIndex),
		})
		return
	}
	expected := ev.TokenDelta.Abs().Mul(payout)
	if expected.Sub(ev.CashDelta.Abs()).Abs().GreaterThan(PayoutTolerance) {
		l.warnings = append(l.warnings, model.Warning{
			Code:    model.WarnRedemptionPayout,
			Key:     l.key,
			EventID: ev.ID,
			Message: fmt.Sprintf("redemption paid %s, payout fraction implies %s",
				ev.CashDelta.Abs().String(), expected.String()),
		})
	}
}

// Quantity returns the tokens currently held.
func (l *Ledger) Quantity() decimal.Decimal { return l.quantity }

// CostBasis returns the cost of the tokens currently held.
func (l *Ledger) CostBasis() decimal.Decimal { return l.costBasis }

// TradedVolume returns the summed |cash| of buys and sells.
func (l *Ledger) TradedVolume() decimal.Decimal { return l.volume }

// RealizedPnL returns cumulative realized PnL.
func (l *Ledger) RealizedPnL() decimal.Decimal { return l.realized }

// AverageCost returns cost basis / quantity, or zero when nothing is held.
func (l *Ledger) AverageCost() decimal.Decimal {
	if l.quantity.IsZero() {
		return decimal.Zero
	}
	return l.costBasis.Div(l.quantity)
}

// Result snapshots the ledger into a PositionResult.
func (l *Ledger) Result() model.PositionResult {
	kinds := make([]model.Kind, 0, len(l.kinds))
	for k := range l.kinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	sources := make([]model.Source, 0, len(l.sources))
	for s := range l.sources {
		sources = append(sources, s)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })

	return model.PositionResult{
		Key:             l.key,
		Quantity:        l.quantity,
		CostBasis:       l.costBasis,
		RealizedPnL:     l.realized,
		Faults:          append([]model.Fault(nil), l.faults...),
		Warnings:        append([]model.Warning(nil), l.warnings...),
		EventCount:      l.applied,
		SplitMergeCount: l.splitMerge,
		SyntheticCount:  l.synthetic,
		Kinds:           kinds,
		Sources:         sources,
		Redeemed:        l.redeemed,
		TradedVolume:    l.volume,
	}
}

// collateral is the cost attributed to outcome tokens created by a split:
// $1 per full set divided evenly across n outcomes ($0.50 per token for
// binary markets).
func collateral(tokens decimal.Decimal, n int) decimal.Decimal {
	if n < 2 {
		n = 2
	}
	return tokens.Div(decimal.NewFromInt(int64(n)))
}

func before(a, b model.Event) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.Sequence < b.Sequence
}
