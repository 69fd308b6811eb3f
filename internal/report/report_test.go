package report

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/pnl-engine/internal/model"
)

func TestAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.23", "$1.23"},
		{"-1.23", "-$1.23"},
		{"0", "$0.00"},
		{"1234.567", "$1,234.57"},
		{"-6289.84", "-$6,289.84"},
		{"0.005", "$0.01"},
	}
	for _, tt := range tests {
		if got := Amount(decimal.RequireFromString(tt.in)); got != tt.want {
			t.Errorf("Amount(%s): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestMarkdown(t *testing.T) {
	res := model.AccountResult{
		AccountID:   "acct-1",
		RealizedPnL: decimal.RequireFromString("15"),
		TotalPnL:    decimal.RequireFromString("15"),
		Tier:        model.TierDataGap,
		Positions: []model.PositionValuation{{
			PositionResult: model.PositionResult{
				Key:      model.PositionKey{AccountID: "acct-1", MarketID: "m1"},
				Quantity: decimal.Zero,
			},
			Bucket: model.BucketClosed,
		}},
		Diagnostics: model.Diagnostics{
			EventCount:   2,
			TradedVolume: decimal.RequireFromString("95.5"),
			Faults: []model.Fault{{
				Code:    model.FaultNegativeInventory,
				Message: "sold 10 with 5 held",
			}},
		},
	}

	md := Markdown([]model.AccountResult{res})
	for _, want := range []string{
		"| acct-1 | data_gap | $15.00 |",
		"## acct-1",
		"| m1 | 0 | closed |",
		"2 events",
		"Traded volume $95.50.",
		"`negative_inventory`",
		"sold 10 with 5 held",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
	if strings.Contains(md, "**Warnings**") {
		t.Error("unexpected warnings section")
	}
}

func TestRender(t *testing.T) {
	out, err := Render("# PnL report\n\nacct-1", "notty")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "acct-1") {
		t.Errorf("rendered output lost content: %q", out)
	}
}
