package ledger

import "github.com/shopspring/decimal"

// Severity is the colour band of a balance's health.
type Severity string

const (
	SeverityGreen  Severity = "green"
	SeverityYellow Severity = "yellow"
	SeverityRed    Severity = "red"
	SeverityGray   Severity = "gray"
)

// Health is the derived display status of a balance.
type Health struct {
	Label    string
	Severity Severity
}

var (
	lowThreshold    = decimal.NewFromInt(20)
	mediumThreshold = decimal.NewFromInt(50)
	hundred         = decimal.NewFromInt(100)
)

// Classify maps a balance to its health. Pure.
//
//	inactive       -> gray
//	pct <= 20      -> red
//	20 < pct <= 50 -> yellow
//	pct > 50       -> green
//
// A non-positive initial amount classifies as red.
func Classify(b Balance) Health {
	if b.Status == StatusInactive {
		return Health{Label: "Inactive", Severity: SeverityGray}
	}
	if !b.InitialAmount.IsPositive() {
		return Health{Label: "Low Balance", Severity: SeverityRed}
	}

	pct := RemainingPercent(b)
	switch {
	case pct.LessThanOrEqual(lowThreshold):
		return Health{Label: "Low Balance", Severity: SeverityRed}
	case pct.LessThanOrEqual(mediumThreshold):
		return Health{Label: "Medium Balance", Severity: SeverityYellow}
	default:
		return Health{Label: "Good Balance", Severity: SeverityGreen}
	}
}

// RemainingPercent is current/initial*100, or zero when initial is not positive.
func RemainingPercent(b Balance) decimal.Decimal {
	if !b.InitialAmount.IsPositive() {
		return decimal.Zero
	}
	return b.CurrentAmount.Mul(hundred).Div(b.InitialAmount)
}

// IsLow reports whether b sits at or under the given percentage.
func IsLow(b Balance, percent decimal.Decimal) bool {
	if !b.InitialAmount.IsPositive() {
		return true
	}
	return RemainingPercent(b).LessThanOrEqual(percent)
}
