// Package model defines the core domain types shared across the PnL engine.
// All monetary values and token quantities use shopspring/decimal, never
// float64 for money.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the closed set of settlement event kinds. Switches over Kind must
// handle every value; the default branch is an integrity error.
type Kind int

const (
	KindBuy Kind = iota + 1
	KindSell
	KindSplit
	KindMerge
	KindRedemption
	// KindSyntheticPair is emitted by the normalizer in place of an
	// offsetting Split/Merge pair. It never moves quantity or cost basis.
	KindSyntheticPair
)

func (k Kind) String() string {
	switch k {
	case KindBuy:
		return "buy"
	case KindSell:
		return "sell"
	case KindSplit:
		return "split"
	case KindMerge:
		return "merge"
	case KindRedemption:
		return "redemption"
	case KindSyntheticPair:
		return "synthetic_pair"
	default:
		return "unknown"
	}
}

// ParseKind parses the wire name of an event kind. The synthetic marker is
// not accepted from upstream.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "buy", "BUY", "Buy":
		return KindBuy, nil
	case "sell", "SELL", "Sell":
		return KindSell, nil
	case "split", "SPLIT", "Split":
		return KindSplit, nil
	case "merge", "MERGE", "Merge":
		return KindMerge, nil
	case "redemption", "REDEMPTION", "Redemption", "redeem", "REDEEM":
		return KindRedemption, nil
	default:
		return 0, fmt.Errorf("unknown event kind %q", s)
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	if string(b) == KindSyntheticPair.String() {
		*k = KindSyntheticPair
		return nil
	}
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Source identifies the upstream feed an event row came from.
type Source string

const (
	SourceOnchain  Source = "onchain"
	SourceCLOB     Source = "clob"
	SourceActivity Source = "activity"
)

// DefaultSourcePriority orders sources from most to least trusted when two
// rows carry the same logical event ID.
var DefaultSourcePriority = []Source{SourceOnchain, SourceCLOB, SourceActivity}

// AllOutcomes marks a Split/Merge row that applies to every outcome of the
// market; the normalizer expands it into one leg per outcome.
const AllOutcomes = -1

// RawEvent is an event row as delivered by ingestion: untyped kind and
// decimal strings exactly as they came off the wire. Rows may repeat the
// same logical event from several sources.
type RawEvent struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"account_id"`
	MarketID     string    `json:"market_id"`
	OutcomeIndex int       `json:"outcome_index"`
	OutcomeCount int       `json:"outcome_count,omitempty"` // 0 → binary
	Timestamp    time.Time `json:"timestamp"`
	Sequence     int64     `json:"sequence"`
	Block        int64     `json:"block,omitempty"`
	Source       Source    `json:"source"`
	Kind         string    `json:"kind"`
	TokenDelta   string    `json:"token_delta"`
	CashDelta    string    `json:"cash_delta"`
}

// Event is the canonical, immutable settlement event produced by the
// normalizer. TokenDelta and CashDelta carry canonical signs for their kind;
// CashDelta is positive when currency flows into the account.
type Event struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	MarketID     string          `json:"market_id"`
	OutcomeIndex int             `json:"outcome_index"`
	OutcomeCount int             `json:"outcome_count"`
	Timestamp    time.Time       `json:"timestamp"`
	Sequence     int64           `json:"sequence"`
	Block        int64           `json:"block,omitempty"`
	Source       Source          `json:"source"`
	Kind         Kind            `json:"kind"`
	TokenDelta   decimal.Decimal `json:"token_delta"`
	CashDelta    decimal.Decimal `json:"cash_delta"`
}

// Key returns the position the event belongs to.
func (e Event) Key() PositionKey {
	return PositionKey{AccountID: e.AccountID, MarketID: e.MarketID, OutcomeIndex: e.OutcomeIndex}
}

// UnitPrice returns |cash| / |tokens|, or false when no tokens moved.
func (e Event) UnitPrice() (decimal.Decimal, bool) {
	if e.TokenDelta.IsZero() {
		return decimal.Zero, false
	}
	return e.CashDelta.Abs().Div(e.TokenDelta.Abs()), true
}

// PositionKey identifies one inventory ledger.
type PositionKey struct {
	AccountID    string `json:"account_id"`
	MarketID     string `json:"market_id"`
	OutcomeIndex int    `json:"outcome_index"`
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.AccountID, k.MarketID, k.OutcomeIndex)
}

// Outcome returns the market-level reference used for price lookups.
func (k PositionKey) Outcome() OutcomeRef {
	return OutcomeRef{MarketID: k.MarketID, OutcomeIndex: k.OutcomeIndex}
}

// OutcomeRef names one outcome token of a market, independent of account.
type OutcomeRef struct {
	MarketID     string `json:"market_id"`
	OutcomeIndex int    `json:"outcome_index"`
}

// Resolution is the settlement outcome of a market. PayoutFractions[i] is
// the collateral paid per token of outcome i; losing outcomes pay zero.
type Resolution struct {
	MarketID        string            `json:"market_id"`
	Settled         bool              `json:"settled"`
	PayoutFractions []decimal.Decimal `json:"payout_fractions"`
}

// Payout returns the payout fraction for an outcome. Indexes beyond the
// recorded fractions pay zero.
func (r Resolution) Payout(outcome int) (decimal.Decimal, bool) {
	if outcome < 0 || outcome >= len(r.PayoutFractions) {
		return decimal.Zero, false
	}
	return r.PayoutFractions[outcome], true
}
