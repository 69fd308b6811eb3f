// Package report renders account results for people: a markdown summary
// that pnlctl prints through a terminal renderer.
package report

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/charmbracelet/glamour"
	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/model"
)

// Currency is the display currency of all amounts.
const Currency = "USD"

var hundred = decimal.NewFromInt(100)

// Amount formats a dollar amount rounded half away from zero to the cent.
func Amount(v decimal.Decimal) string {
	cents := v.Mul(hundred).Round(0).IntPart()
	return money.New(cents, Currency).Display()
}

// Markdown builds the report for a set of account results.
func Markdown(results []model.AccountResult) string {
	var b strings.Builder
	b.WriteString("# PnL report\n\n")
	b.WriteString("| Account | Tier | Realized | Unrealized | Resolved unredeemed | Total |\n")
	b.WriteString("|---|---|---:|---:|---:|---:|\n")
	for _, r := range results {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
			r.AccountID, r.Tier,
			Amount(r.RealizedPnL), Amount(r.UnrealizedPnL),
			Amount(r.ResolvedUnredeemedValue), Amount(r.TotalPnL))
	}

	for _, r := range results {
		fmt.Fprintf(&b, "\n## %s\n\n", r.AccountID)
		if len(r.Positions) > 0 {
			b.WriteString("| Market | Outcome | Bucket | Quantity | Cost basis | Realized | Value |\n")
			b.WriteString("|---|---:|---|---:|---:|---:|---:|\n")
			for _, p := range r.Positions {
				fmt.Fprintf(&b, "| %s | %d | %s | %s | %s | %s | %s |\n",
					p.Key.MarketID, p.Key.OutcomeIndex, p.Bucket,
					p.Quantity.String(), Amount(p.CostBasis), Amount(p.RealizedPnL), Amount(p.Value))
			}
		}

		d := r.Diagnostics
		fmt.Fprintf(&b, "\n%d events, %d split/merge, %d synthetic, %d rejected. Traded volume %s.\n",
			d.EventCount, d.SplitMergeCount, d.SyntheticCount, d.RejectedEvents, Amount(d.TradedVolume))

		if len(d.Faults) > 0 {
			b.WriteString("\n**Faults**\n\n")
			for _, f := range d.Faults {
				fmt.Fprintf(&b, "- `%s` %s: %s\n", f.Code, f.Key, f.Message)
			}
		}
		if len(d.Warnings) > 0 {
			b.WriteString("\n**Warnings**\n\n")
			for _, w := range d.Warnings {
				fmt.Fprintf(&b, "- `%s` %s: %s\n", w.Code, w.Key, w.Message)
			}
		}
	}
	return b.String()
}

// Render formats markdown for a terminal using a glamour standard style
// such as "dark", "light" or "notty".
func Render(markdown, style string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(120),
	)
	if err != nil {
		return "", err
	}
	return r.Render(markdown)
}
