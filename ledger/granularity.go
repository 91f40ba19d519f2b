package ledger

import "github.com/shopspring/decimal"

var (
	quarter  = decimal.NewFromInt(4)
	half     = decimal.NewFromFloat(0.5)
	minSnap  = decimal.NewFromFloat(0.25)
	secsHour = decimal.NewFromInt(3600)
)

// SnapHours rounds a raw duration in hours to a loggable amount.
//
// Below five minutes the result is MinEntryAmount. Otherwise the value is
// rounded to the nearest quarter hour, ties going down, with a floor of one
// quarter and a ceiling of MaxEntryAmount.
func SnapHours(hours decimal.Decimal) decimal.Decimal {
	if hours.LessThan(MinEntryAmount) {
		return MinEntryAmount
	}
	q := hours.Mul(quarter).Sub(half).Ceil().Div(quarter)
	if q.LessThan(minSnap) {
		q = minSnap
	}
	if q.GreaterThan(MaxEntryAmount) {
		q = MaxEntryAmount
	}
	return q
}

// SnapSeconds converts a timer duration and snaps it.
func SnapSeconds(seconds int64) decimal.Decimal {
	return SnapHours(decimal.NewFromInt(seconds).Div(secsHour))
}
