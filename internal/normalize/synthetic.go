package normalize

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/model"
)

// CollapseSyntheticPairs folds a Split immediately followed by a Merge (or
// the reverse) on the same position into one KindSyntheticPair marker. The
// legs must move the same token quantity inside the same reconciliation
// unit: the same block, or the same timestamp when blocks are unknown.
//
// The marker carries the pair's net cash and no tokens. Unmatched legs are
// passed through unchanged. Input must already be sorted with SortEvents.
func CollapseSyntheticPairs(events []model.Event) []model.Event {
	out := make([]model.Event, 0, len(events))
	for i := 0; i < len(events); i++ {
		if i+1 < len(events) && isSyntheticPair(events[i], events[i+1]) {
			out = append(out, marker(events[i], events[i+1]))
			i++
			continue
		}
		out = append(out, events[i])
	}
	return out
}

func isSyntheticPair(a, b model.Event) bool {
	if a.Key() != b.Key() {
		return false
	}
	opposite := (a.Kind == model.KindSplit && b.Kind == model.KindMerge) ||
		(a.Kind == model.KindMerge && b.Kind == model.KindSplit)
	if !opposite {
		return false
	}
	if !a.TokenDelta.Abs().Equal(b.TokenDelta.Abs()) {
		return false
	}
	return sameUnit(a, b)
}

func sameUnit(a, b model.Event) bool {
	if a.Block != 0 && b.Block != 0 {
		return a.Block == b.Block
	}
	if a.Block == 0 && b.Block == 0 {
		return a.Timestamp.Equal(b.Timestamp)
	}
	return false
}

func marker(a, b model.Event) model.Event {
	m := a
	m.ID = uuid.NewSHA1(markerNamespace, []byte(a.ID+"|"+b.ID)).String()
	m.Kind = model.KindSyntheticPair
	m.TokenDelta = decimal.Zero
	m.CashDelta = a.CashDelta.Add(b.CashDelta)
	return m
}
