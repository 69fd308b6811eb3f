package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var (
	testKey  = model.PositionKey{AccountID: "acct-1", MarketID: "mkt-1", OutcomeIndex: 0}
	baseTime = time.Date(2024, 11, 5, 12, 0, 0, 0, time.UTC)
)

// ev builds a canonical event on testKey; seq orders events in time.
func ev(id string, kind model.Kind, tokens, cash float64, seq int) model.Event {
	return model.Event{
		ID:           id,
		AccountID:    testKey.AccountID,
		MarketID:     testKey.MarketID,
		OutcomeIndex: testKey.OutcomeIndex,
		OutcomeCount: 2,
		Timestamp:    baseTime.Add(time.Duration(seq) * time.Second),
		Sequence:     int64(seq),
		Source:       model.SourceCLOB,
		Kind:         kind,
		TokenDelta:   d(tokens),
		CashDelta:    d(cash),
	}
}

func settled(payouts ...float64) *model.Resolution {
	r := &model.Resolution{MarketID: testKey.MarketID, Settled: true}
	for _, p := range payouts {
		r.PayoutFractions = append(r.PayoutFractions, d(p))
	}
	return r
}

func mustCompute(t *testing.T, events []model.Event, res *model.Resolution, opts Options) model.PositionResult {
	t.Helper()
	pr, err := ComputePosition(testKey, events, res, opts)
	if err != nil {
		t.Fatalf("ComputePosition: %v", err)
	}
	return pr
}

// --- Buy / Sell ---

func TestApply_BuyAccumulatesCost(t *testing.T) {
	l := New(testKey, Options{})
	for _, e := range []model.Event{
		ev("b1", model.KindBuy, 100, -40, 1),
		ev("b2", model.KindBuy, 100, -60, 2),
	} {
		if err := l.Apply(e); err != nil {
			t.Fatalf("Apply(%s): %v", e.ID, err)
		}
	}

	if !l.Quantity().Equal(d(200)) {
		t.Errorf("expected quantity 200, got %s", l.Quantity())
	}
	if !l.CostBasis().Equal(d(100)) {
		t.Errorf("expected cost basis 100, got %s", l.CostBasis())
	}
	if !l.AverageCost().Equal(d(0.5)) {
		t.Errorf("expected average cost 0.5, got %s", l.AverageCost())
	}
	if !l.RealizedPnL().IsZero() {
		t.Errorf("buys must not realize PnL, got %s", l.RealizedPnL())
	}
}

func TestApply_SellReleasesAverageCost(t *testing.T) {
	pr := mustCompute(t, []model.Event{
		ev("b1", model.KindBuy, 100, -40, 1),
		ev("b2", model.KindBuy, 100, -60, 2),
		ev("s1", model.KindSell, -50, 35, 3),
	}, nil, Options{})

	// 50 tokens at average 0.50 release 25 of cost.
	if !pr.RealizedPnL.Equal(d(10)) {
		t.Errorf("expected realized 10, got %s", pr.RealizedPnL)
	}
	if !pr.Quantity.Equal(d(150)) {
		t.Errorf("expected quantity 150, got %s", pr.Quantity)
	}
	if !pr.CostBasis.Equal(d(75)) {
		t.Errorf("expected cost basis 75, got %s", pr.CostBasis)
	}
}

func TestApply_SellAllZeroesCostExactly(t *testing.T) {
	// 1/3 average cost does not divide evenly; closing out must still
	// leave exactly zero cost and realize exactly cash in minus cash out.
	pr := mustCompute(t, []model.Event{
		ev("b1", model.KindBuy, 3, -1, 1),
		ev("s1", model.KindSell, -1, 0.5, 2),
		ev("s2", model.KindSell, -2, 1, 3),
	}, nil, Options{})

	if !pr.Quantity.IsZero() || !pr.CostBasis.IsZero() {
		t.Errorf("expected flat position, got qty=%s cost=%s", pr.Quantity, pr.CostBasis)
	}
	if !pr.RealizedPnL.Equal(d(0.5)) {
		t.Errorf("expected realized 0.5, got %s", pr.RealizedPnL)
	}
	if pr.IsOpen() {
		t.Error("flat position reported open")
	}
}

// --- Negative inventory ---

func TestApply_OversellClampsAndFaults(t *testing.T) {
	pr := mustCompute(t, []model.Event{
		ev("b1", model.KindBuy, 10, -4, 1),
		ev("s1", model.KindSell, -15, 9, 2),
	}, nil, Options{})

	if !pr.Quantity.IsZero() || !pr.CostBasis.IsZero() {
		t.Errorf("expected clamp to zero, got qty=%s cost=%s", pr.Quantity, pr.CostBasis)
	}
	if !pr.RealizedPnL.Equal(d(5)) {
		t.Errorf("expected realized 9-4=5, got %s", pr.RealizedPnL)
	}
	if len(pr.Faults) != 1 {
		t.Fatalf("expected 1 fault, got %d", len(pr.Faults))
	}
	f := pr.Faults[0]
	if f.Code != model.FaultNegativeInventory || f.EventID != "s1" {
		t.Errorf("unexpected fault %+v", f)
	}
	if !f.Shortfall.Equal(d(5)) {
		t.Errorf("expected shortfall 5, got %s", f.Shortfall)
	}
}

func TestApply_SellWithNothingHeld(t *testing.T) {
	pr := mustCompute(t, []model.Event{
		ev("s1", model.KindSell, -10, 6, 1),
	}, nil, Options{})

	if !pr.RealizedPnL.Equal(d(6)) {
		t.Errorf("expected full cash realized, got %s", pr.RealizedPnL)
	}
	if len(pr.Faults) != 1 || !pr.Faults[0].Shortfall.Equal(d(10)) {
		t.Errorf("expected one fault with shortfall 10, got %+v", pr.Faults)
	}
}

func TestApply_NeverNegative(t *testing.T) {
	kinds := []model.Kind{model.KindBuy, model.KindSell, model.KindSplit, model.KindMerge, model.KindRedemption}
	l := New(testKey, Options{})
	for i := 0; i < 200; i++ {
		kind := kinds[(i*7+3)%len(kinds)]
		tokens := float64((i*37)%90 + 1)
		cash := tokens * float64((i*13)%100) / 100
		if err := l.Apply(ev("e", kind, tokens, cash, i)); err != nil {
			t.Fatalf("Apply #%d: %v", i, err)
		}
		if l.Quantity().IsNegative() {
			t.Fatalf("quantity negative after #%d (%s): %s", i, kind, l.Quantity())
		}
		if l.CostBasis().IsNegative() {
			t.Fatalf("cost basis negative after #%d (%s): %s", i, kind, l.CostBasis())
		}
		if l.Quantity().IsZero() && !l.CostBasis().IsZero() {
			t.Fatalf("cost basis %s with zero quantity after #%d", l.CostBasis(), i)
		}
	}
}

// --- Split / Merge ---

func TestApply_SplitAddsCollateralCost(t *testing.T) {
	pr := mustCompute(t, []model.Event{
		ev("sp", model.KindSplit, 100, -50, 1),
	}, nil, Options{})

	if !pr.Quantity.Equal(d(100)) || !pr.CostBasis.Equal(d(50)) {
		t.Errorf("expected qty=100 cost=50, got qty=%s cost=%s", pr.Quantity, pr.CostBasis)
	}
	if pr.SplitMergeCount != 1 {
		t.Errorf("expected split/merge count 1, got %d", pr.SplitMergeCount)
	}
}

func TestApply_SplitCostForMultiOutcome(t *testing.T) {
	e := ev("sp", model.KindSplit, 90, -30, 1)
	e.OutcomeCount = 3
	pr := mustCompute(t, []model.Event{e}, nil, Options{})

	if !pr.CostBasis.Equal(d(30)) {
		t.Errorf("expected 90 tokens at 1/3 = 30, got %s", pr.CostBasis)
	}
}

func TestApply_SplitMergeNeutral(t *testing.T) {
	pr := mustCompute(t, []model.Event{
		ev("sp", model.KindSplit, 100, -50, 1),
		ev("mg", model.KindMerge, -100, 50, 2),
	}, nil, Options{})

	if !pr.RealizedPnL.IsZero() {
		t.Errorf("split then merge must realize nothing, got %s", pr.RealizedPnL)
	}
	if !pr.Quantity.IsZero() || !pr.CostBasis.IsZero() {
		t.Errorf("expected flat position, got qty=%s cost=%s", pr.Quantity, pr.CostBasis)
	}
}

func TestApply_SplitMergeNeutralOverHoldings(t *testing.T) {
	tests := []struct {
		name     string
		outcomes int
		buyQty   float64
		buyCash  float64
		pairQty  float64
		pairCash float64
	}{
		{"binary", 2, 100, -40, 100, 50},
		{"binary, smaller pair", 2, 100, -40, 30, 15},
		{"three outcomes", 3, 90, -60, 90, 30},
	}
	for _, tt := range tests {
		events := []model.Event{
			ev("b1", model.KindBuy, tt.buyQty, tt.buyCash, 1),
			ev("sp", model.KindSplit, tt.pairQty, -tt.pairCash, 2),
			ev("mg", model.KindMerge, -tt.pairQty, tt.pairCash, 3),
		}
		for i := range events {
			events[i].OutcomeCount = tt.outcomes
			events[i].Block = int64(i + 1)
		}
		pr := mustCompute(t, events, nil, Options{})

		if !pr.RealizedPnL.IsZero() {
			t.Errorf("%s: split+merge realized %s", tt.name, pr.RealizedPnL)
		}
		if !pr.Quantity.Equal(d(tt.buyQty)) || !pr.CostBasis.Equal(d(-tt.buyCash)) {
			t.Errorf("%s: expected qty=%v cost=%v, got qty=%s cost=%s",
				tt.name, tt.buyQty, -tt.buyCash, pr.Quantity, pr.CostBasis)
		}
	}
}

func TestApply_MergeReleasesCollateralRate(t *testing.T) {
	// 200 held at cost 90; merging 50 releases 50 × 0.50, not 50 × 0.45.
	pr := mustCompute(t, []model.Event{
		ev("b1", model.KindBuy, 100, -40, 1),
		ev("sp", model.KindSplit, 100, -50, 2),
		ev("mg", model.KindMerge, -50, 25, 3),
	}, nil, Options{})

	if !pr.Quantity.Equal(d(150)) || !pr.CostBasis.Equal(d(65)) {
		t.Errorf("expected qty=150 cost=65, got qty=%s cost=%s", pr.Quantity, pr.CostBasis)
	}
	if !pr.RealizedPnL.IsZero() {
		t.Errorf("expected realized 0, got %s", pr.RealizedPnL)
	}
}

func TestApply_MergeNeverReleasesMoreThanCost(t *testing.T) {
	pr := mustCompute(t, []model.Event{
		ev("b1", model.KindBuy, 100, -10, 1),
		ev("mg", model.KindMerge, -50, 25, 2),
	}, nil, Options{})

	if !pr.CostBasis.IsZero() || !pr.Quantity.Equal(d(50)) {
		t.Errorf("expected qty=50 cost=0, got qty=%s cost=%s", pr.Quantity, pr.CostBasis)
	}
	if !pr.RealizedPnL.Equal(d(15)) {
		t.Errorf("expected realized 15, got %s", pr.RealizedPnL)
	}
}

func TestApply_MergeOfWholeHoldingReleasesAllCost(t *testing.T) {
	// Tokens bought at 0.30 and merged back at 0.50 realize the spread.
	pr := mustCompute(t, []model.Event{
		ev("b1", model.KindBuy, 100, -30, 1),
		ev("mg", model.KindMerge, -100, 50, 2),
	}, nil, Options{})

	if !pr.RealizedPnL.Equal(d(20)) {
		t.Errorf("expected realized 20, got %s", pr.RealizedPnL)
	}
	if !pr.CostBasis.IsZero() {
		t.Errorf("expected zero cost, got %s", pr.CostBasis)
	}
}

func TestResult_TradedVolumeCountsTradesOnly(t *testing.T) {
	pr := mustCompute(t, []model.Event{
		ev("b1", model.KindBuy, 100, -40, 1),
		ev("sp", model.KindSplit, 50, -25, 2),
		ev("s1", model.KindSell, -120, 66, 3),
		ev("mg", model.KindMerge, -30, 15, 4),
		ev("s2", model.KindSell, -10, 5, 5),
	}, nil, Options{})

	// 40 + 66 + 5; the oversell on s2 still trades its cash.
	if !pr.TradedVolume.Equal(d(111)) {
		t.Errorf("expected traded volume 111, got %s", pr.TradedVolume)
	}
}

func TestApply_SyntheticPairRealizesNetCash(t *testing.T) {
	marker := ev("m", model.KindSyntheticPair, 0, -0.25, 1)
	pr := mustCompute(t, []model.Event{
		ev("b1", model.KindBuy, 10, -4, 0),
		marker,
	}, nil, Options{})

	if !pr.RealizedPnL.Equal(d(-0.25)) {
		t.Errorf("expected realized -0.25, got %s", pr.RealizedPnL)
	}
	if !pr.Quantity.Equal(d(10)) || !pr.CostBasis.Equal(d(4)) {
		t.Errorf("marker must not move inventory, got qty=%s cost=%s", pr.Quantity, pr.CostBasis)
	}
	if pr.SyntheticCount != 1 {
		t.Errorf("expected synthetic count 1, got %d", pr.SyntheticCount)
	}
}

func TestApply_UnknownKindFaults(t *testing.T) {
	pr := mustCompute(t, []model.Event{
		ev("x", model.Kind(99), 10, -1, 1),
	}, nil, Options{})

	if len(pr.Faults) != 1 || pr.Faults[0].Code != model.FaultUnknownKind {
		t.Fatalf("expected one unknown-kind fault, got %+v", pr.Faults)
	}
	if !pr.Quantity.IsZero() || !pr.RealizedPnL.IsZero() {
		t.Error("unknown kind must not change state")
	}
}

// --- Redemption ---

func TestComputePosition_FullRedemption(t *testing.T) {
	pr := mustCompute(t, []model.Event{
		ev("b1", model.KindBuy, 100000, -40000, 1),
		ev("r1", model.KindRedemption, -100000, 100000, 2),
	}, settled(1, 0), Options{})

	if !pr.RealizedPnL.Equal(d(60000)) {
		t.Errorf("expected realized 60000, got %s", pr.RealizedPnL)
	}
	if !pr.Quantity.IsZero() || !pr.CostBasis.IsZero() {
		t.Errorf("expected flat position, got qty=%s cost=%s", pr.Quantity, pr.CostBasis)
	}
	if len(pr.Warnings) != 0 {
		t.Errorf("expected no warnings, got %+v", pr.Warnings)
	}
	if !pr.Redeemed {
		t.Error("expected Redeemed")
	}
}

func TestComputePosition_PartialRedemption(t *testing.T) {
	pr := mustCompute(t, []model.Event{
		ev("b1", model.KindBuy, 100000, -40000, 1),
		ev("r1", model.KindRedemption, -50000, 50000, 2),
	}, settled(1, 0), Options{})

	if !pr.RealizedPnL.Equal(d(30000)) {
		t.Errorf("expected realized 30000, got %s", pr.RealizedPnL)
	}
	if !pr.Quantity.Equal(d(50000)) || !pr.CostBasis.Equal(d(20000)) {
		t.Errorf("expected qty=50000 cost=20000, got qty=%s cost=%s", pr.Quantity, pr.CostBasis)
	}
}

func TestComputePosition_FullRedemptionIdentity(t *testing.T) {
	// Whatever the path, a position closed by redemption realizes the sum
	// of all cash flows.
	events := []model.Event{
		ev("b1", model.KindBuy, 120, -50.4, 1),
		ev("s1", model.KindSell, -20, 11, 2),
		ev("sp", model.KindSplit, 40, -20, 3),
		ev("b2", model.KindBuy, 60, -33.3, 4),
		ev("s2", model.KindSell, -75, 40.5, 5),
		ev("r1", model.KindRedemption, -125, 125, 6),
	}
	pr := mustCompute(t, events, settled(1, 0), Options{})

	var cash decimal.Decimal
	for _, e := range events {
		cash = cash.Add(e.CashDelta)
	}
	if !pr.RealizedPnL.Equal(cash) {
		t.Errorf("expected realized %s (sum of cash), got %s", cash, pr.RealizedPnL)
	}
	if !pr.Quantity.IsZero() {
		t.Errorf("expected flat position, got %s", pr.Quantity)
	}
}

func TestComputePosition_ResolutionHasNoEffect(t *testing.T) {
	events := []model.Event{
		ev("b1", model.KindBuy, 100, -40, 1),
		ev("s1", model.KindSell, -30, 18, 2),
	}
	without := mustCompute(t, events, nil, Options{})
	with := mustCompute(t, events, settled(1, 0), Options{})

	if !without.RealizedPnL.Equal(with.RealizedPnL) ||
		!without.Quantity.Equal(with.Quantity) ||
		!without.CostBasis.Equal(with.CostBasis) {
		t.Errorf("resolution changed ledger state: %+v vs %+v", without, with)
	}
}

func TestComputePosition_RedemptionWarnings(t *testing.T) {
	tests := []struct {
		name string
		res  *model.Resolution
		cash float64
		want model.WarningCode
	}{
		{"unsettled", &model.Resolution{MarketID: testKey.MarketID}, 100, model.WarnRedemptionUnsettled},
		{"payout mismatch", settled(1, 0), 60, model.WarnRedemptionPayout},
		{"outcome missing", &model.Resolution{MarketID: testKey.MarketID, Settled: true}, 100, model.WarnPayoutOutcomeMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pr := mustCompute(t, []model.Event{
				ev("b1", model.KindBuy, 100, -40, 1),
				ev("r1", model.KindRedemption, -100, tt.cash, 2),
			}, tt.res, Options{})

			if len(pr.Warnings) != 1 || pr.Warnings[0].Code != tt.want {
				t.Fatalf("expected one %s warning, got %+v", tt.want, pr.Warnings)
			}
			// The reported cash is still what gets realized.
			if !pr.RealizedPnL.Equal(d(tt.cash - 40)) {
				t.Errorf("expected realized %v, got %s", tt.cash-40, pr.RealizedPnL)
			}
		})
	}
}

func TestComputePosition_PayoutWithinTolerance(t *testing.T) {
	pr := mustCompute(t, []model.Event{
		ev("b1", model.KindBuy, 100, -40, 1),
		ev("r1", model.KindRedemption, -100, 99.995, 2),
	}, settled(1, 0), Options{})

	if len(pr.Warnings) != 0 {
		t.Errorf("expected no warning within tolerance, got %+v", pr.Warnings)
	}
}

// --- Structural errors ---

func TestApply_KeyMismatch(t *testing.T) {
	e := ev("b1", model.KindBuy, 1, -1, 1)
	e.OutcomeIndex = 1
	_, err := ComputePosition(testKey, []model.Event{e}, nil, Options{})
	if !errors.Is(err, ErrKeyMismatch) {
		t.Errorf("expected ErrKeyMismatch, got %v", err)
	}
}

func TestApply_OutOfOrder(t *testing.T) {
	_, err := ComputePosition(testKey, []model.Event{
		ev("b2", model.KindBuy, 1, -1, 2),
		ev("b1", model.KindBuy, 1, -1, 1),
	}, nil, Options{})
	if !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("expected ErrOutOfOrder, got %v", err)
	}
}

// --- Price policy ---

func TestPricePolicy_CentsRoundsUnitPrice(t *testing.T) {
	events := []model.Event{
		ev("b1", model.KindBuy, 3, -1, 1),
		ev("s1", model.KindSell, -3, 2.0001, 2),
	}

	exact := mustCompute(t, events, nil, Options{PricePolicy: PriceExact})
	cents := mustCompute(t, events, nil, Options{PricePolicy: PriceCents})

	if !exact.RealizedPnL.Equal(d(1.0001)) {
		t.Errorf("exact: expected realized 1.0001, got %s", exact.RealizedPnL)
	}
	// Buy at 0.33 (0.99), sell at 0.67 (2.01).
	if !cents.RealizedPnL.Equal(d(1.02)) {
		t.Errorf("cents: expected realized 1.02, got %s", cents.RealizedPnL)
	}
}

func TestPricePolicy_DoesNotTouchRedemptions(t *testing.T) {
	events := []model.Event{
		ev("sp", model.KindSplit, 3, -1.5, 1),
		ev("r1", model.KindRedemption, -3, 2.999, 2),
	}
	exact := mustCompute(t, events, nil, Options{PricePolicy: PriceExact})
	cents := mustCompute(t, events, nil, Options{PricePolicy: PriceCents})

	if !exact.RealizedPnL.Equal(cents.RealizedPnL) {
		t.Errorf("policy changed redemption: %s vs %s", exact.RealizedPnL, cents.RealizedPnL)
	}
}

func TestParsePricePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    PricePolicy
		wantErr bool
	}{
		{"", PriceExact, false},
		{"exact", PriceExact, false},
		{"cents", PriceCents, false},
		{"round", 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePricePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePricePolicy(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrUnknownPricePolicy) {
			t.Errorf("ParsePricePolicy(%q) err = %v, want ErrUnknownPricePolicy", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParsePricePolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
