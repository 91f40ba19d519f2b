package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var sixty = decimal.NewFromInt(60)

// FormatAmount renders an amount in its balance kind.
// Hours: "HH:MM" (sign kept). Credits: "12.50 credits".
func FormatAmount(amount decimal.Decimal, kind Kind) string {
	if kind == KindCredits {
		return amount.StringFixed(2) + " credits"
	}
	sign := ""
	if amount.IsNegative() {
		sign = "-"
	}
	total := amount.Abs().Mul(sixty).Round(0).IntPart()
	return fmt.Sprintf("%s%02d:%02d", sign, total/60, total%60)
}

// FormatHours renders hours as "1h 15m", "45m" or "2h".
func FormatHours(hours decimal.Decimal) string {
	total := hours.Abs().Mul(sixty).Round(0).IntPart()
	h, m := total/60, total%60
	switch {
	case h == 0:
		return fmt.Sprintf("%dm", m)
	case m == 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dh %dm", h, m)
	}
}

// FormatDuration renders seconds as "hh:mm:ss".
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
