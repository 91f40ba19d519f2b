package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ticktalk/balance-engine/ledger"
)

func bal(initial, current string) ledger.Balance {
	return ledger.Balance{
		Kind:          ledger.KindHours,
		Status:        ledger.StatusActive,
		InitialAmount: decimal.RequireFromString(initial),
		CurrentAmount: decimal.RequireFromString(current),
	}
}

func TestClassify_Boundaries(t *testing.T) {
	tests := []struct {
		name     string
		initial  string
		current  string
		label    string
		severity ledger.Severity
	}{
		{"full", "10", "10", "Good Balance", ledger.SeverityGreen},
		{"just above half", "100", "51", "Good Balance", ledger.SeverityGreen},
		{"exactly half", "100", "50", "Medium Balance", ledger.SeverityYellow},
		{"just above a fifth", "100", "21", "Medium Balance", ledger.SeverityYellow},
		{"exactly a fifth", "100", "20", "Low Balance", ledger.SeverityRed},
		{"empty", "10", "0", "Low Balance", ledger.SeverityRed},
		{"overdrawn credits", "10", "-3", "Low Balance", ledger.SeverityRed},
		{"zero initial", "0", "0", "Low Balance", ledger.SeverityRed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := ledger.Classify(bal(tt.initial, tt.current))
			assert.Equal(t, tt.label, h.Label)
			assert.Equal(t, tt.severity, h.Severity)
		})
	}
}

func TestClassify_InactiveIsGrayRegardlessOfAmount(t *testing.T) {
	b := bal("10", "10")
	b.Status = ledger.StatusInactive

	h := ledger.Classify(b)

	assert.Equal(t, "Inactive", h.Label)
	assert.Equal(t, ledger.SeverityGray, h.Severity)
}

func TestRemainingPercent(t *testing.T) {
	assert.True(t, decimal.NewFromInt(25).Equal(ledger.RemainingPercent(bal("8", "2"))))
	assert.True(t, ledger.RemainingPercent(bal("0", "5")).IsZero())
}

func TestIsLow(t *testing.T) {
	twenty := decimal.NewFromInt(20)
	assert.True(t, ledger.IsLow(bal("10", "2"), twenty))
	assert.False(t, ledger.IsLow(bal("10", "2.5"), twenty))
	assert.True(t, ledger.IsLow(bal("0", "0"), twenty))
}
