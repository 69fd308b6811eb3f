// Package composer folds the position results of one account into the
// account-level three-part PnL decomposition:
//
//	total = realized + unrealized + resolved-unredeemed
//
// Realized PnL comes only from ledgers. Remaining quantity is valued at the
// mark price while its market is unresolved, and at the payout fraction once
// the market is settled, but it is never moved into realized PnL here.
package composer

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/cohort"
	"github.com/atmx/pnl-engine/internal/model"
	"github.com/atmx/pnl-engine/internal/oracle"
)

// ComputeAccount builds the AccountResult for one account from its position
// results and the pass's resolution and price snapshots. It is a pure
// function of its arguments.
func ComputeAccount(
	accountID string,
	positions []model.PositionResult,
	resolutions oracle.Lookup,
	prices *oracle.PriceSnapshot,
) model.AccountResult {
	sorted := append([]model.PositionResult(nil), positions...)
	sort.Slice(sorted, func(i, j int) bool { return lessKey(sorted[i].Key, sorted[j].Key) })

	// A redemption anywhere in a market means it settled, even if the
	// snapshot has no resolution for it.
	redeemedMarkets := make(map[string]bool)
	for _, p := range sorted {
		if p.Redeemed {
			redeemedMarkets[p.Key.MarketID] = true
		}
	}

	res := model.AccountResult{
		AccountID:               accountID,
		RealizedPnL:             decimal.Zero,
		UnrealizedPnL:           decimal.Zero,
		ResolvedUnredeemedValue: decimal.Zero,
		Positions:               make([]model.PositionValuation, 0, len(sorted)),
	}
	diag := &res.Diagnostics
	diag.TradedVolume = decimal.Zero
	kinds := make(map[model.Kind]bool)
	sources := make(map[model.Source]bool)

	for _, p := range sorted {
		res.RealizedPnL = res.RealizedPnL.Add(p.RealizedPnL)

		diag.EventCount += p.EventCount
		diag.SplitMergeCount += p.SplitMergeCount
		diag.SyntheticCount += p.SyntheticCount
		diag.TradedVolume = diag.TradedVolume.Add(p.TradedVolume)
		diag.Faults = append(diag.Faults, p.Faults...)
		diag.Warnings = append(diag.Warnings, p.Warnings...)
		for _, k := range p.Kinds {
			kinds[k] = true
		}
		for _, s := range p.Sources {
			sources[s] = true
		}

		v := model.PositionValuation{
			PositionResult: p,
			Bucket:         model.BucketClosed,
			MarkPrice:      decimal.Zero,
			Value:          decimal.Zero,
		}
		resolution, found := lookup(resolutions, p.Key.MarketID)

		switch {
		case !p.IsOpen():
			diag.Closed++
			if !found {
				diag.ClosedUnresolved++
			}

		case found && resolution.Settled:
			payout, ok := resolution.Payout(p.Key.OutcomeIndex)
			if !ok {
				diag.Warnings = append(diag.Warnings, model.Warning{
					Code:    model.WarnPayoutOutcomeMissing,
					Key:     p.Key,
					Message: fmt.Sprintf("resolution of %s has no payout for outcome %d; valued at zero", p.Key.MarketID, p.Key.OutcomeIndex),
				})
			}
			v.Bucket = model.BucketResolvedUnredeemed
			v.MarkPrice = payout
			v.Value = p.Quantity.Mul(payout).Sub(p.CostBasis)
			res.ResolvedUnredeemedValue = res.ResolvedUnredeemedValue.Add(v.Value)
			diag.OpenResolved++

		case !found && redeemedMarkets[p.Key.MarketID]:
			diag.Warnings = append(diag.Warnings, model.Warning{
				Code:    model.WarnMissingResolution,
				Key:     p.Key,
				Message: fmt.Sprintf("market %s was redeemed but has no resolution; %s tokens left unvalued", p.Key.MarketID, p.Quantity.String()),
			})
			v.Bucket = model.BucketExcluded
			diag.OpenExcluded++

		default:
			v.Bucket = model.BucketUnrealized
			diag.OpenUnresolved++
			price, ok := prices.Price(p.Key.Outcome())
			if !ok {
				diag.Warnings = append(diag.Warnings, model.Warning{
					Code:    model.WarnMissingPrice,
					Key:     p.Key,
					Message: fmt.Sprintf("no mark price for %s outcome %d; contributes zero", p.Key.MarketID, p.Key.OutcomeIndex),
				})
				break
			}
			v.MarkPrice = price
			v.Value = p.Quantity.Mul(price).Sub(p.CostBasis)
			res.UnrealizedPnL = res.UnrealizedPnL.Add(v.Value)
		}

		res.Positions = append(res.Positions, v)
	}

	diag.Kinds = sortedKinds(kinds)
	diag.Sources = sortedSources(sources)
	res.TotalPnL = res.RealizedPnL.Add(res.UnrealizedPnL).Add(res.ResolvedUnredeemedValue)
	res.Tier = cohort.Classify(res.Diagnostics)
	return res
}

// AddInputWarnings attaches warnings raised before the ledgers ran, such as
// normalizer rejections, and re-derives the tier. Numbers are untouched.
func AddInputWarnings(res *model.AccountResult, warnings []model.Warning) {
	for _, w := range warnings {
		if w.Code == model.WarnMalformedEvent {
			res.Diagnostics.RejectedEvents++
		}
		res.Diagnostics.Warnings = append(res.Diagnostics.Warnings, w)
	}
	res.Tier = cohort.Classify(res.Diagnostics)
}

func lookup(l oracle.Lookup, marketID string) (model.Resolution, bool) {
	if l == nil {
		return model.Resolution{}, false
	}
	return l.Lookup(marketID)
}

func lessKey(a, b model.PositionKey) bool {
	if a.AccountID != b.AccountID {
		return a.AccountID < b.AccountID
	}
	if a.MarketID != b.MarketID {
		return a.MarketID < b.MarketID
	}
	return a.OutcomeIndex < b.OutcomeIndex
}

func sortedKinds(set map[model.Kind]bool) []model.Kind {
	out := make([]model.Kind, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedSources(set map[model.Source]bool) []model.Source {
	out := make([]model.Source, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
