package model

import (
	"github.com/shopspring/decimal"
)

// FaultCode classifies a data-integrity fault raised by a ledger.
type FaultCode string

const (
	// FaultNegativeInventory: a disposal asked for more tokens than held.
	FaultNegativeInventory FaultCode = "negative_inventory"
	// FaultUnknownKind: an event reached the ledger with a kind it does not handle.
	FaultUnknownKind FaultCode = "unknown_kind"
)

// Fault is a data-integrity fault on one position. Shortfall is the token
// quantity the disposal requested beyond what was held.
type Fault struct {
	Code      FaultCode       `json:"code"`
	Key       PositionKey     `json:"key"`
	EventID   string          `json:"event_id"`
	Kind      Kind            `json:"kind"`
	Shortfall decimal.Decimal `json:"shortfall"`
	Message   string          `json:"message"`
}

// WarningCode classifies a non-fatal diagnostic.
type WarningCode string

const (
	WarnMalformedEvent       WarningCode = "malformed_event"
	WarnDuplicateConflict    WarningCode = "duplicate_conflict"
	WarnMissingPrice         WarningCode = "missing_price"
	WarnMissingResolution    WarningCode = "missing_resolution"
	WarnRedemptionUnsettled  WarningCode = "redemption_unsettled"
	WarnRedemptionPayout     WarningCode = "redemption_payout_mismatch"
	WarnPayoutOutcomeMissing WarningCode = "payout_outcome_missing"
)

// Warning is a non-fatal diagnostic. Key is the zero value for warnings not
// tied to one position.
type Warning struct {
	Code    WarningCode `json:"code"`
	Key     PositionKey `json:"key"`
	EventID string      `json:"event_id,omitempty"`
	Message string      `json:"message"`
}

// PositionResult is the output of one inventory ledger pass.
type PositionResult struct {
	Key             PositionKey     `json:"key"`
	Quantity        decimal.Decimal `json:"quantity"`
	CostBasis       decimal.Decimal `json:"cost_basis"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl"`
	Faults          []Fault         `json:"faults,omitempty"`
	Warnings        []Warning       `json:"warnings,omitempty"`
	EventCount      int             `json:"event_count"`
	SplitMergeCount int             `json:"split_merge_count"`
	SyntheticCount  int             `json:"synthetic_count"`
	Kinds           []Kind          `json:"kinds"`
	Sources         []Source        `json:"sources"`
	Redeemed        bool            `json:"redeemed"`

	// TradedVolume is the summed |cash| of buys and sells, as recorded.
	TradedVolume decimal.Decimal `json:"traded_volume"`
}

// IsOpen reports whether tokens remain held.
func (p PositionResult) IsOpen() bool {
	return p.Quantity.IsPositive()
}

// Bucket says which PnL component an open position was valued into.
type Bucket string

const (
	BucketClosed             Bucket = "closed"
	BucketUnrealized         Bucket = "unrealized"
	BucketResolvedUnredeemed Bucket = "resolved_unredeemed"
	BucketExcluded           Bucket = "excluded"
)

// PositionValuation is a position result plus the composer's valuation of
// its remaining quantity.
type PositionValuation struct {
	PositionResult
	Bucket    Bucket          `json:"bucket"`
	MarkPrice decimal.Decimal `json:"mark_price"`
	Value     decimal.Decimal `json:"value"`
}

// Tier is a confidence annotation for an account result.
type Tier string

const (
	TierClean           Tier = "clean"
	TierMixed           Tier = "mixed"
	TierSplitMergeHeavy Tier = "split_merge_heavy"
	TierDataGap         Tier = "data_gap"
)

// Diagnostics summarizes how an account result was produced.
type Diagnostics struct {
	Kinds            []Kind    `json:"kinds"`
	Sources          []Source  `json:"sources"`
	EventCount       int       `json:"event_count"`
	SplitMergeCount  int       `json:"split_merge_count"`
	SyntheticCount   int       `json:"synthetic_count"`
	OpenResolved     int       `json:"open_resolved"`
	OpenUnresolved   int       `json:"open_unresolved"`
	OpenExcluded     int       `json:"open_excluded"`
	Closed           int       `json:"closed"`
	ClosedUnresolved int       `json:"closed_unresolved"`
	RejectedEvents   int       `json:"rejected_events"`
	Faults           []Fault   `json:"faults"`
	Warnings         []Warning `json:"warnings"`

	// TradedVolume sums the positions' traded volume. Splits, merges and
	// redemptions are not trades.
	TradedVolume decimal.Decimal `json:"traded_volume"`
}

// HasWarning reports whether any warning carries the code.
func (d Diagnostics) HasWarning(code WarningCode) bool {
	for _, w := range d.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// AccountResult is the three-part PnL decomposition for one account. It is
// derived on every run and never persisted by the engine.
type AccountResult struct {
	AccountID               string              `json:"account_id"`
	RealizedPnL             decimal.Decimal     `json:"realized_pnl"`
	UnrealizedPnL           decimal.Decimal     `json:"unrealized_pnl"`
	ResolvedUnredeemedValue decimal.Decimal     `json:"resolved_unredeemed_value"`
	TotalPnL                decimal.Decimal     `json:"total_pnl"`
	Positions               []PositionValuation `json:"positions"`
	Diagnostics             Diagnostics         `json:"diagnostics"`
	Tier                    Tier                `json:"tier"`
}
