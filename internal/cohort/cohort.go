// Package cohort tags an account result with a confidence tier derived from
// its diagnostics. Tiers annotate output only; they never change numbers.
//
// Precedence, highest first:
//   - data_gap: any ledger fault, rejected input row, missing resolution or
//     missing mark price
//   - split_merge_heavy: split/merge/synthetic events make up at least
//     HeavyShare of all events
//   - mixed: more than one source, or some position still open
//   - clean: single source, every position closed, nothing flagged
package cohort

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/model"
)

// DefaultHeavyShare is the split/merge share of events above which an
// account counts as split/merge heavy.
var DefaultHeavyShare = decimal.NewFromFloat(0.25)

// Classifier maps diagnostics to a tier.
type Classifier struct {
	// HeavyShare is the fraction of split/merge/synthetic events, out of
	// all events, at which an account is tagged split_merge_heavy.
	HeavyShare decimal.Decimal
}

// NewClassifier creates a classifier. A non-positive share falls back to
// DefaultHeavyShare.
func NewClassifier(heavyShare decimal.Decimal) *Classifier {
	if !heavyShare.IsPositive() {
		heavyShare = DefaultHeavyShare
	}
	return &Classifier{HeavyShare: heavyShare}
}

var defaultClassifier = NewClassifier(DefaultHeavyShare)

// Classify tags diagnostics using the default thresholds.
func Classify(d model.Diagnostics) model.Tier {
	return defaultClassifier.Classify(d)
}

// Classify returns the tier for the given diagnostics.
func (c *Classifier) Classify(d model.Diagnostics) model.Tier {
	if dataGap(d) {
		return model.TierDataGap
	}

	if d.EventCount > 0 {
		heavy := decimal.NewFromInt(int64(d.SplitMergeCount + d.SyntheticCount))
		share := heavy.Div(decimal.NewFromInt(int64(d.EventCount)))
		if share.GreaterThanOrEqual(c.HeavyShare) {
			return model.TierSplitMergeHeavy
		}
	}

	open := d.OpenResolved + d.OpenUnresolved + d.OpenExcluded
	if len(d.Sources) > 1 || open > 0 || len(d.Warnings) > 0 {
		return model.TierMixed
	}
	return model.TierClean
}

func dataGap(d model.Diagnostics) bool {
	if len(d.Faults) > 0 || d.RejectedEvents > 0 || d.OpenExcluded > 0 {
		return true
	}
	return d.HasWarning(model.WarnMissingResolution) ||
		d.HasWarning(model.WarnMissingPrice) ||
		d.HasWarning(model.WarnMalformedEvent)
}
