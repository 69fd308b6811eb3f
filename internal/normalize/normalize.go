// Package normalize turns raw ingestion rows into the canonical, ordered
// event stream the ledgers consume.
//
// The pipeline is: parse and validate each row, keep one row per logical
// event ID (by source priority), expand all-outcome Split/Merge rows into
// per-outcome legs, sort, and fold offsetting Split/Merge pairs into a single
// null-effect marker. Rows that fail validation are dropped with a warning;
// nothing here aborts the whole input.
package normalize

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/model"
)

var (
	ErrMissingField     = errors.New("normalize: missing required field")
	ErrUnknownKind      = errors.New("normalize: unknown event kind")
	ErrInvalidDecimal   = errors.New("normalize: invalid decimal")
	ErrZeroTokens       = errors.New("normalize: token delta must be non-zero")
	ErrInvalidOutcome   = errors.New("normalize: invalid outcome index")
	ErrMissingTimestamp = errors.New("normalize: missing timestamp")
)

// markerNamespace seeds the deterministic IDs of synthetic-pair markers.
var markerNamespace = uuid.MustParse("6f1c1f3e-4b7a-5d2e-9c61-2a8f0e4d7b13")

// Options configures normalization.
type Options struct {
	// SourcePriority orders sources from most to least preferred when rows
	// share a logical ID. Sources not listed rank after all listed ones.
	SourcePriority []model.Source
}

// DefaultOptions returns the default source priority.
func DefaultOptions() Options {
	return Options{SourcePriority: model.DefaultSourcePriority}
}

// Normalize converts raw rows into a deduplicated, strictly ordered event
// sequence. The returned warnings describe every dropped or conflicting row.
func Normalize(raw []model.RawEvent, opts Options) ([]model.Event, []model.Warning) {
	var warnings []model.Warning

	parsed := make([]candidate, 0, len(raw))
	for i, r := range raw {
		ev, err := Parse(r)
		if err != nil {
			warnings = append(warnings, model.Warning{
				Code:    model.WarnMalformedEvent,
				Key:     model.PositionKey{AccountID: r.AccountID, MarketID: r.MarketID, OutcomeIndex: r.OutcomeIndex},
				EventID: r.ID,
				Message: err.Error(),
			})
			continue
		}
		parsed = append(parsed, candidate{event: ev, order: i})
	}

	kept, dupWarnings := dedupe(parsed, opts.SourcePriority)
	warnings = append(warnings, dupWarnings...)

	events := make([]model.Event, 0, len(kept))
	for _, ev := range kept {
		events = append(events, expand(ev)...)
	}

	SortEvents(events)
	return CollapseSyntheticPairs(events), warnings
}

// Parse validates a single raw row and returns it as a canonical event.
// Token and cash signs are canonicalized for the kind, so upstream sign
// conventions do not matter.
func Parse(r model.RawEvent) (model.Event, error) {
	if r.ID == "" || r.AccountID == "" || r.MarketID == "" {
		return model.Event{}, fmt.Errorf("%w: id, account_id and market_id are required", ErrMissingField)
	}
	if r.Timestamp.IsZero() {
		return model.Event{}, fmt.Errorf("%w: event %s", ErrMissingTimestamp, r.ID)
	}

	kind, err := model.ParseKind(strings.TrimSpace(r.Kind))
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}

	tokens, err := parseDecimal(r.TokenDelta, false)
	if err != nil {
		return model.Event{}, fmt.Errorf("token_delta of %s: %w", r.ID, err)
	}
	cash, err := parseDecimal(r.CashDelta, true)
	if err != nil {
		return model.Event{}, fmt.Errorf("cash_delta of %s: %w", r.ID, err)
	}
	if tokens.IsZero() {
		return model.Event{}, fmt.Errorf("%w: event %s", ErrZeroTokens, r.ID)
	}

	count := r.OutcomeCount
	switch {
	case count == 0:
		count = 2
	case count < 2:
		return model.Event{}, fmt.Errorf("%w: outcome_count %d", ErrInvalidOutcome, r.OutcomeCount)
	}
	if r.OutcomeIndex == model.AllOutcomes {
		if kind != model.KindSplit && kind != model.KindMerge {
			return model.Event{}, fmt.Errorf("%w: %s event must name an outcome", ErrInvalidOutcome, kind)
		}
	} else if r.OutcomeIndex < 0 || r.OutcomeIndex >= count {
		return model.Event{}, fmt.Errorf("%w: %d", ErrInvalidOutcome, r.OutcomeIndex)
	}

	tokens, cash = tokens.Abs(), cash.Abs()
	switch kind {
	case model.KindBuy, model.KindSplit:
		cash = cash.Neg()
	case model.KindSell, model.KindMerge, model.KindRedemption:
		tokens = tokens.Neg()
	default:
		return model.Event{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	source := r.Source
	if source == "" {
		source = model.SourceActivity
	}

	return model.Event{
		ID:           r.ID,
		AccountID:    r.AccountID,
		MarketID:     r.MarketID,
		OutcomeIndex: r.OutcomeIndex,
		OutcomeCount: count,
		Timestamp:    r.Timestamp.UTC(),
		Sequence:     r.Sequence,
		Block:        r.Block,
		Source:       source,
		Kind:         kind,
		TokenDelta:   tokens,
		CashDelta:    cash,
	}, nil
}

func parseDecimal(s string, emptyIsZero bool) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		if emptyIsZero {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidDecimal)
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidDecimal, s)
	}
	return v, nil
}

// expand turns an all-outcome Split/Merge into one leg per outcome. Each leg
// moves the full token amount and an even share of the cash.
func expand(ev model.Event) []model.Event {
	if ev.OutcomeIndex != model.AllOutcomes {
		return []model.Event{ev}
	}
	n := ev.OutcomeCount
	share := ev.CashDelta.Div(decimal.NewFromInt(int64(n)))
	legs := make([]model.Event, n)
	for i := 0; i < n; i++ {
		leg := ev
		leg.ID = fmt.Sprintf("%s:%d", ev.ID, i)
		leg.OutcomeIndex = i
		leg.CashDelta = share
		legs[i] = leg
	}
	return legs
}

// SortEvents orders events by account, market, outcome, timestamp and
// sequence number. The sort is stable so equal keys keep input order.
func SortEvents(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.AccountID != b.AccountID {
			return a.AccountID < b.AccountID
		}
		if a.MarketID != b.MarketID {
			return a.MarketID < b.MarketID
		}
		if a.OutcomeIndex != b.OutcomeIndex {
			return a.OutcomeIndex < b.OutcomeIndex
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Sequence < b.Sequence
	})
}
