package ledger_test

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticktalk/balance-engine/ledger"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// DEBIT VALIDATION
// =============================================================================

func TestValidate_HoursDebitWithinBalance(t *testing.T) {
	b := bal("10", "5")

	next, err := ledger.Validate(&b, d("2"))

	require.NoError(t, err)
	assert.True(t, d("3").Equal(next))
	assert.True(t, d("5").Equal(b.CurrentAmount), "input must not be mutated")
}

func TestValidate_HoursDebitToExactlyZero(t *testing.T) {
	b := bal("10", "2")

	next, err := ledger.Validate(&b, d("2"))

	require.NoError(t, err)
	assert.True(t, next.IsZero())
}

func TestValidate_HoursOverdraftRejected(t *testing.T) {
	// GIVEN: 1 hour remaining
	// WHEN: Debiting 2 hours
	// THEN: Insufficient funds with the shortfall reported

	b := bal("10", "1")
	b.ID = "BAL00000001"

	_, err := ledger.Validate(&b, d("2"))

	var ife *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &ife)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.True(t, d("1").Equal(ife.Available))
	assert.True(t, d("2").Equal(ife.Requested))
	assert.True(t, d("1").Equal(ife.Shortfall()))
	assert.Equal(t, ledger.BalanceID("BAL00000001"), ife.BalanceID)
}

func TestValidate_CreditsMayGoNegative(t *testing.T) {
	b := bal("10", "1")
	b.Kind = ledger.KindCredits

	next, err := ledger.Validate(&b, d("3"))

	require.NoError(t, err)
	assert.True(t, d("-2").Equal(next))
}

func TestValidate_InactiveRejected(t *testing.T) {
	b := bal("10", "10")
	b.Status = ledger.StatusInactive

	_, err := ledger.Validate(&b, d("1"))

	assert.ErrorIs(t, err, ledger.ErrInactive)
	assert.Equal(t, ledger.KindInactive, ledger.ErrorKindOf(err))
}

func TestValidate_InactiveWinsOverAmount(t *testing.T) {
	b := bal("10", "10")
	b.Status = ledger.StatusInactive

	for _, amt := range []string{"0", "-1", "30"} {
		_, err := ledger.Validate(&b, d(amt))
		assert.ErrorIs(t, err, ledger.ErrInactive, amt)
	}

	b.Status = ledger.StatusActive
	for _, amt := range []string{"0", "-1"} {
		_, err := ledger.Validate(&b, d(amt))
		assert.ErrorIs(t, err, ledger.ErrValidation, amt)
	}
}

// =============================================================================
// INPUT VALIDATION
// =============================================================================

func validEntry() ledger.LogEntry {
	return ledger.LogEntry{
		Title:       "Sprint review",
		Category:    ledger.CategoryConsulting,
		Amount:      d("1.5"),
		ServiceDate: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
	}
}

func TestLogEntry_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ledger.LogEntry)
		field  string
	}{
		{"valid", func(*ledger.LogEntry) {}, ""},
		{"short title", func(e *ledger.LogEntry) { e.Title = " a " }, "title"},
		{"unknown category", func(e *ledger.LogEntry) { e.Category = "travel" }, "category"},
		{"below five minutes", func(e *ledger.LogEntry) { e.Amount = d("0.08") }, "amount"},
		{"exactly five minutes", func(e *ledger.LogEntry) { e.Amount = d("0.083") }, ""},
		{"exactly a day", func(e *ledger.LogEntry) { e.Amount = d("24") }, ""},
		{"over a day", func(e *ledger.LogEntry) { e.Amount = d("24.01") }, "amount"},
		{"missing date", func(e *ledger.LogEntry) { e.ServiceDate = time.Time{} }, "serviceDate"},
		{"long notes", func(e *ledger.LogEntry) { e.Notes = strings.Repeat("n", 501) }, "notes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEntry()
			tt.mutate(&e)
			err := e.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ledger.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestNewBalance_Validate(t *testing.T) {
	ok := ledger.NewBalance{CustomerID: "cust-1", Kind: ledger.KindHours, InitialAmount: d("0.5")}
	assert.NoError(t, ok.Validate())

	low := ok
	low.InitialAmount = d("0.4")
	assert.ErrorIs(t, low.Validate(), ledger.ErrValidation)

	high := ok
	high.InitialAmount = d("1000.01")
	assert.ErrorIs(t, high.Validate(), ledger.ErrValidation)

	noKind := ok
	noKind.Kind = "minutes"
	assert.ErrorIs(t, noKind.Validate(), ledger.ErrValidation)

	noCustomer := ok
	noCustomer.CustomerID = "  "
	assert.ErrorIs(t, noCustomer.Validate(), ledger.ErrValidation)
}

func TestBalanceUpdate_Validate(t *testing.T) {
	now := time.Now()
	bogus := ledger.BalanceStatus("archived")
	empty := ""

	assert.NoError(t, ledger.BalanceUpdate{}.Validate())
	assert.ErrorIs(t, ledger.BalanceUpdate{Status: &bogus}.Validate(), ledger.ErrValidation)
	assert.ErrorIs(t, ledger.BalanceUpdate{CustomerID: &empty}.Validate(), ledger.ErrValidation)
	assert.ErrorIs(t, ledger.BalanceUpdate{ExpiryDate: &now, ClearExpiry: true}.Validate(), ledger.ErrValidation)
}

// =============================================================================
// TIMER GRANULARITY & FORMATTING
// =============================================================================

func TestSnapHours(t *testing.T) {
	tests := []struct{ in, want string }{
		{"0", "0.083"},
		{"0.05", "0.083"},
		{"0.083", "0.25"},
		{"0.2", "0.25"},
		{"0.375", "0.25"}, // tie rounds down
		{"0.38", "0.5"},
		{"1.1", "1"},
		{"1.125", "1"},
		{"1.13", "1.25"},
		{"30", "24"},
	}
	for _, tt := range tests {
		assert.True(t, d(tt.want).Equal(ledger.SnapHours(d(tt.in))), "SnapHours(%s) = %s, want %s",
			tt.in, ledger.SnapHours(d(tt.in)), tt.want)
	}
}

func TestSnapSeconds(t *testing.T) {
	assert.True(t, d("0.083").Equal(ledger.SnapSeconds(120)))
	assert.True(t, d("1.5").Equal(ledger.SnapSeconds(90*60)))
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "01:30", ledger.FormatAmount(d("1.5"), ledger.KindHours))
	assert.Equal(t, "-00:15", ledger.FormatAmount(d("-0.25"), ledger.KindHours))
	assert.Equal(t, "12.50 credits", ledger.FormatAmount(d("12.5"), ledger.KindCredits))
}

func TestFormatHours(t *testing.T) {
	assert.Equal(t, "1h 15m", ledger.FormatHours(d("1.25")))
	assert.Equal(t, "45m", ledger.FormatHours(d("0.75")))
	assert.Equal(t, "2h", ledger.FormatHours(d("2")))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:01:30", ledger.FormatDuration(90))
	assert.Equal(t, "01:00:05", ledger.FormatDuration(3605))
	assert.Equal(t, "00:00:00", ledger.FormatDuration(-4))
}

// =============================================================================
// AUTHORIZATION
// =============================================================================

func TestAuthorize(t *testing.T) {
	staff := ledger.Actor{ID: "s1", Role: ledger.RoleStaff}
	customer := ledger.Actor{ID: "c1", Role: ledger.RoleCustomer}
	consultant := ledger.Actor{ID: "k1", Role: ledger.RoleConsultant}

	assert.NoError(t, ledger.Authorize(staff, ledger.CapLogTransaction))
	assert.ErrorIs(t, ledger.Authorize(customer, ledger.CapLogTransaction), ledger.ErrUnauthorized)
	assert.ErrorIs(t, ledger.Authorize(consultant, ledger.CapTrackTime), ledger.ErrUnauthorized)
	assert.ErrorIs(t, ledger.Authorize(ledger.Actor{Role: ledger.RoleStaff}, ledger.CapLogTransaction), ledger.ErrUnauthorized)

	owned := ledger.Balance{CustomerID: "c1"}
	other := ledger.Balance{CustomerID: "c2"}
	assert.True(t, customer.CanSee(owned))
	assert.False(t, customer.CanSee(other))
	assert.True(t, staff.CanSee(other))
}
