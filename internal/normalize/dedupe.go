package normalize

import (
	"fmt"

	"github.com/atmx/pnl-engine/internal/model"
)

type candidate struct {
	event model.Event
	order int
}

// dedupe keeps exactly one event per logical ID. The winner is the row from
// the highest-priority source, then the lowest sequence number, then the
// earliest input position. Survivors keep their input order.
func dedupe(in []candidate, priority []model.Source) ([]model.Event, []model.Warning) {
	rank := make(map[model.Source]int, len(priority))
	for i, s := range priority {
		if _, ok := rank[s]; !ok {
			rank[s] = i
		}
	}
	rankOf := func(s model.Source) int {
		if r, ok := rank[s]; ok {
			return r
		}
		return len(priority)
	}

	best := make(map[string]int, len(in))
	conflicted := make(map[string]bool)
	for i, c := range in {
		j, seen := best[c.event.ID]
		if !seen {
			best[c.event.ID] = i
			continue
		}
		cur := in[j]
		if !sameEffect(cur.event, c.event) {
			conflicted[c.event.ID] = true
		}
		if better(c, cur, rankOf) {
			best[c.event.ID] = i
		}
	}

	var warnings []model.Warning
	out := make([]model.Event, 0, len(best))
	for i, c := range in {
		if best[c.event.ID] != i {
			continue
		}
		out = append(out, c.event)
		if conflicted[c.event.ID] {
			warnings = append(warnings, model.Warning{
				Code:    model.WarnDuplicateConflict,
				Key:     c.event.Key(),
				EventID: c.event.ID,
				Message: fmt.Sprintf("duplicate rows for %s disagree; kept %s row", c.event.ID, c.event.Source),
			})
		}
	}
	return out, warnings
}

func better(a, b candidate, rankOf func(model.Source) int) bool {
	ra, rb := rankOf(a.event.Source), rankOf(b.event.Source)
	if ra != rb {
		return ra < rb
	}
	if a.event.Sequence != b.event.Sequence {
		return a.event.Sequence < b.event.Sequence
	}
	return a.order < b.order
}

func sameEffect(a, b model.Event) bool {
	return a.Kind == b.Kind &&
		a.AccountID == b.AccountID &&
		a.MarketID == b.MarketID &&
		a.OutcomeIndex == b.OutcomeIndex &&
		a.TokenDelta.Equal(b.TokenDelta) &&
		a.CashDelta.Equal(b.CashDelta)
}
