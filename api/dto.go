package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ticktalk/balance-engine/ledger"
	"github.com/ticktalk/balance-engine/timer"
)

// =============================================================================
// BALANCE DTOs
// =============================================================================

type BalanceDTO struct {
	ID               string          `json:"id"`
	Number           string          `json:"number"`
	CustomerID       string          `json:"customerId"`
	Kind             string          `json:"kind"`
	InitialAmount    decimal.Decimal `json:"initialAmount"`
	CurrentAmount    decimal.Decimal `json:"currentAmount"`
	Display          string          `json:"display"`
	Status           string          `json:"status"`
	Health           string          `json:"health"`
	Severity         string          `json:"severity"`
	PercentRemaining decimal.Decimal `json:"percentRemaining"`
	ExpiryDate       *time.Time      `json:"expiryDate,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	CreatedBy        string          `json:"createdBy"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	Version          int64           `json:"version"`
}

func toBalanceDTO(b ledger.Balance) BalanceDTO {
	health := ledger.Classify(b)
	return BalanceDTO{
		ID:               string(b.ID),
		Number:           ledger.DisplayNumber(b.ID),
		CustomerID:       b.CustomerID,
		Kind:             string(b.Kind),
		InitialAmount:    b.InitialAmount,
		CurrentAmount:    b.CurrentAmount,
		Display:          ledger.FormatAmount(b.CurrentAmount, b.Kind),
		Status:           string(b.Status),
		Health:           health.Label,
		Severity:         string(health.Severity),
		PercentRemaining: ledger.RemainingPercent(b).Round(2),
		ExpiryDate:       b.ExpiryDate,
		Notes:            b.Notes,
		CreatedAt:        b.CreatedAt,
		CreatedBy:        b.CreatedBy,
		UpdatedAt:        b.UpdatedAt,
		Version:          b.Version,
	}
}

func toBalanceDTOs(bs []ledger.Balance) []BalanceDTO {
	out := make([]BalanceDTO, len(bs))
	for i, b := range bs {
		out[i] = toBalanceDTO(b)
	}
	return out
}

type CreateBalanceRequest struct {
	CustomerID    string          `json:"customerId"`
	Kind          string          `json:"kind"`
	InitialAmount decimal.Decimal `json:"initialAmount"`
	ExpiryDate    *time.Time      `json:"expiryDate,omitempty"`
	Notes         string          `json:"notes,omitempty"`
}

// UpdateBalanceRequest is a partial update; absent fields are untouched.
// Kind and initial amount are not updatable.
type UpdateBalanceRequest struct {
	CustomerID  *string    `json:"customerId,omitempty"`
	Status      *string    `json:"status,omitempty"`
	ExpiryDate  *time.Time `json:"expiryDate,omitempty"`
	ClearExpiry bool       `json:"clearExpiry,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
}

func (r UpdateBalanceRequest) toUpdate() ledger.BalanceUpdate {
	u := ledger.BalanceUpdate{
		CustomerID:  r.CustomerID,
		ExpiryDate:  r.ExpiryDate,
		ClearExpiry: r.ClearExpiry,
		Notes:       r.Notes,
	}
	if r.Status != nil {
		s := ledger.BalanceStatus(*r.Status)
		u.Status = &s
	}
	return u
}

type SetActiveRequest struct {
	Active bool `json:"active"`
}

type ReconciliationDTO struct {
	BalanceID        string          `json:"balanceId"`
	InitialAmount    decimal.Decimal `json:"initialAmount"`
	CurrentAmount    decimal.Decimal `json:"currentAmount"`
	TotalDebited     decimal.Decimal `json:"totalDebited"`
	ExpectedAmount   decimal.Decimal `json:"expectedAmount"`
	Drift            decimal.Decimal `json:"drift"`
	Balanced         bool            `json:"balanced"`
	Transactions     int             `json:"transactions"`
	CorrectedEntries int             `json:"correctedEntries"`
}

func toReconciliationDTO(r ledger.Reconciliation) ReconciliationDTO {
	return ReconciliationDTO{
		BalanceID:        string(r.BalanceID),
		InitialAmount:    r.InitialAmount,
		CurrentAmount:    r.CurrentAmount,
		TotalDebited:     r.TotalDebited,
		ExpectedAmount:   r.ExpectedAmount,
		Drift:            r.Drift,
		Balanced:         r.Balanced(),
		Transactions:     r.Transactions,
		CorrectedEntries: r.CorrectedEntries,
	}
}

// =============================================================================
// TRANSACTION DTOs
// =============================================================================

type TransactionDTO struct {
	ID          string          `json:"id"`
	BalanceID   string          `json:"balanceId"`
	CustomerID  string          `json:"customerId"`
	Title       string          `json:"title"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Hours       string          `json:"hours"`
	ServiceDate time.Time       `json:"serviceDate"`
	Notes       string          `json:"notes,omitempty"`
	FeatureID   string          `json:"featureId,omitempty"`
	CreatedBy   string          `json:"createdBy"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	Corrected   bool            `json:"corrected"`
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          string(tx.ID),
		BalanceID:   string(tx.BalanceID),
		CustomerID:  tx.CustomerID,
		Title:       tx.Title,
		Category:    string(tx.Category),
		Amount:      tx.Amount,
		Hours:       ledger.FormatHours(tx.Amount),
		ServiceDate: tx.ServiceDate,
		Notes:       tx.Notes,
		FeatureID:   tx.FeatureID,
		CreatedBy:   tx.CreatedBy,
		CreatedAt:   tx.CreatedAt,
		UpdatedAt:   tx.UpdatedAt,
		Corrected:   tx.Corrected,
	}
}

type LogTransactionRequest struct {
	Title       string          `json:"title"`
	Category    string          `json:"category,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	ServiceDate time.Time       `json:"serviceDate"`
	Notes       string          `json:"notes,omitempty"`
	FeatureID   string          `json:"featureId,omitempty"`
}

type LogTransactionResponse struct {
	BalanceID        string          `json:"balanceId"`
	RemainingBalance decimal.Decimal `json:"remainingBalance"`
}

type CorrectTransactionRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// =============================================================================
// TIMER DTOs
// =============================================================================

type SessionDTO struct {
	ID              string     `json:"id"`
	FeatureID       string     `json:"featureId"`
	UserID          string     `json:"userId"`
	StartTime       time.Time  `json:"startTime"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	DurationSeconds int64      `json:"durationSeconds"`
	Duration        string     `json:"duration"`
	Status          string     `json:"status"`
	Notes           string     `json:"notes,omitempty"`
	Corrected       bool       `json:"corrected"`

	// SuggestedAmount is the duration snapped to a loggable amount.
	SuggestedAmount *decimal.Decimal `json:"suggestedAmount,omitempty"`
}

func toSessionDTO(s timer.Session, now time.Time) SessionDTO {
	d := SessionDTO{
		ID:              s.ID,
		FeatureID:       s.FeatureID,
		UserID:          s.UserID,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		DurationSeconds: s.Elapsed(now),
		Status:          string(s.Status),
		Notes:           s.Notes,
		Corrected:       s.Corrected,
	}
	d.Duration = ledger.FormatDuration(d.DurationSeconds)
	if !s.Running() {
		amt := ledger.SnapSeconds(s.DurationSeconds)
		d.SuggestedAmount = &amt
	}
	return d
}

type StartTimerRequest struct {
	FeatureID string `json:"featureId"`
}

type StopTimerRequest struct {
	Notes string `json:"notes,omitempty"`
}

type CorrectTimerRequest struct {
	DurationSeconds int64 `json:"durationSeconds"`
}

// =============================================================================
// BILLING DTOs
// =============================================================================

type CheckoutRequest struct {
	Email   string `json:"email"`
	PriceID string `json:"priceId"`
}

type CheckoutResponse struct {
	URL string `json:"url"`
}

type SubscriptionResponse struct {
	Status string `json:"status"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
}
