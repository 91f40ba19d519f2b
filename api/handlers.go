/*
handlers.go - HTTP API handlers for the balance ledger

PURPOSE:
  Exposes the ledger and timer services via REST API. Handles HTTP
  request/response and JSON serialization, and delegates every rule to the
  domain packages.

ENDPOINTS:
  Balances:
    POST   /api/balances                       Create balance (staff)
    GET    /api/balances                       List balances visible to actor
    GET    /api/balances/{id}                  Get one balance with health
    PATCH  /api/balances/{id}                  Partial update (staff)
    DELETE /api/balances/{id}                  Delete (staff)
    POST   /api/balances/{id}/active           Activate / deactivate (staff)
    POST   /api/balances/{id}/transactions     Log transaction (staff)
    GET    /api/balances/{id}/transactions     Transaction history
    GET    /api/balances/{id}/reconciliation   Current vs history report
    GET    /api/balances/stream                Websocket listing updates

  Transactions:
    PATCH  /api/transactions/{id}              Correct amount (staff)

  Timers:
    POST   /api/timers                         Start
    GET    /api/timers                         Recent sessions
    POST   /api/timers/{id}/stop               Stop
    PATCH  /api/timers/{id}                    Correct duration

  Billing:
    POST   /api/billing/checkout               Create checkout session
    GET    /api/billing/subscription           Subscription status

ERROR HANDLING:
  Errors are returned as JSON {error, kind, details} with status:
  - 400: validation
  - 401: missing identity
  - 403: unauthorized
  - 404: not found (also for rows the actor may not see)
  - 409: inactive balance, insufficient funds
  - 500: persistence
  - 501: billing provider not configured
  - 503: identifier generation exhausted

SEE ALSO:
  - dto.go:      Request/response data structures
  - identity.go: Actor extraction
  - server.go:   Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ticktalk/balance-engine/ledger"
	"github.com/ticktalk/balance-engine/timer"
)

// Handler holds the services the endpoints delegate to.
type Handler struct {
	Ledger  *ledger.Service
	Timers  *timer.Service
	Billing BillingProvider
	Log     zerolog.Logger

	// StreamOrigins are the browser origins allowed to open the websocket.
	StreamOrigins []string
}

func NewHandler(l *ledger.Service, t *timer.Service, log zerolog.Logger) *Handler {
	return &Handler{Ledger: l, Timers: t, Log: log}
}

// =============================================================================
// BALANCE ENDPOINTS
// =============================================================================

// CreateBalance creates a new balance.
// POST /api/balances
func (h *Handler) CreateBalance(w http.ResponseWriter, r *http.Request) {
	var req CreateBalanceRequest
	if !decode(w, r, &req) {
		return
	}

	b, err := h.Ledger.Create(r.Context(), ActorFrom(r.Context()), ledger.NewBalance{
		CustomerID:    req.CustomerID,
		Kind:          ledger.Kind(req.Kind),
		InitialAmount: req.InitialAmount,
		ExpiryDate:    req.ExpiryDate,
		Notes:         req.Notes,
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBalanceDTO(*b))
}

// ListBalances returns every balance visible to the actor.
// GET /api/balances?customer_id=
func (h *Handler) ListBalances(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := ActorFrom(ctx)

	var (
		list []ledger.Balance
		err  error
	)
	if customerID := r.URL.Query().Get("customer_id"); customerID != "" {
		list, err = h.Ledger.ListByCustomer(ctx, actor, customerID)
	} else {
		list, err = h.Ledger.ListForActor(ctx, actor)
	}
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTOs(list))
}

// GetBalance returns one balance with its derived health.
// GET /api/balances/{id}
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.Ledger.Get(r.Context(), ActorFrom(r.Context()), balanceID(r))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(*b))
}

// UpdateBalance applies a partial update.
// PATCH /api/balances/{id}
func (h *Handler) UpdateBalance(w http.ResponseWriter, r *http.Request) {
	var req UpdateBalanceRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.Ledger.Update(r.Context(), ActorFrom(r.Context()), balanceID(r), req.toUpdate())
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(*b))
}

// DeleteBalance removes a balance. History is kept.
// DELETE /api/balances/{id}
func (h *Handler) DeleteBalance(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.Delete(r.Context(), ActorFrom(r.Context()), balanceID(r)); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetActive toggles a balance's status.
// POST /api/balances/{id}/active
func (h *Handler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req SetActiveRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.Ledger.SetActive(r.Context(), ActorFrom(r.Context()), balanceID(r), req.Active)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(*b))
}

// Reconcile reports drift between the running amount and history.
// GET /api/balances/{id}/reconciliation
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Ledger.Reconcile(r.Context(), ActorFrom(r.Context()), balanceID(r))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(*rep))
}

// =============================================================================
// TRANSACTION ENDPOINTS
// =============================================================================

// LogTransaction debits a balance.
// POST /api/balances/{id}/transactions
func (h *Handler) LogTransaction(w http.ResponseWriter, r *http.Request) {
	var req LogTransactionRequest
	if !decode(w, r, &req) {
		return
	}
	id := balanceID(r)
	remaining, err := h.Ledger.LogTransaction(r.Context(), ActorFrom(r.Context()), id, ledger.LogEntry{
		Title:       req.Title,
		Category:    ledger.Category(req.Category),
		Amount:      req.Amount,
		ServiceDate: req.ServiceDate,
		Notes:       req.Notes,
		FeatureID:   req.FeatureID,
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, LogTransactionResponse{BalanceID: string(id), RemainingBalance: remaining})
}

// ListTransactions returns history, most recent service date first.
// GET /api/balances/{id}/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Ledger.ListTransactions(r.Context(), ActorFrom(r.Context()), balanceID(r))
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	out := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		out[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, out)
}

// CorrectTransaction amends a transaction's amount.
// PATCH /api/transactions/{id}
func (h *Handler) CorrectTransaction(w http.ResponseWriter, r *http.Request) {
	var req CorrectTransactionRequest
	if !decode(w, r, &req) {
		return
	}
	id := ledger.TransactionID(chi.URLParam(r, "id"))
	tx, err := h.Ledger.CorrectTransaction(r.Context(), ActorFrom(r.Context()), id, req.Amount)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx))
}

// =============================================================================
// TIMER ENDPOINTS
// =============================================================================

// StartTimer starts a session for the actor.
// POST /api/timers
func (h *Handler) StartTimer(w http.ResponseWriter, r *http.Request) {
	var req StartTimerRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.Timers.Start(r.Context(), ActorFrom(r.Context()), req.FeatureID)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(*sess, h.Timers.Now()))
}

// ListTimers returns the actor's recent sessions.
// GET /api/timers?limit=
func (h *Handler) ListTimers(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sessions, err := h.Timers.Recent(r.Context(), ActorFrom(r.Context()), limit)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	now := h.Timers.Now()
	out := make([]SessionDTO, len(sessions))
	for i, s := range sessions {
		out[i] = toSessionDTO(s, now)
	}
	writeJSON(w, http.StatusOK, out)
}

// StopTimer completes a running session.
// POST /api/timers/{id}/stop
func (h *Handler) StopTimer(w http.ResponseWriter, r *http.Request) {
	var req StopTimerRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	sess, err := h.Timers.Stop(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"), req.Notes)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(*sess, h.Timers.Now()))
}

// CorrectTimer overwrites a completed session's duration.
// PATCH /api/timers/{id}
func (h *Handler) CorrectTimer(w http.ResponseWriter, r *http.Request) {
	var req CorrectTimerRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := h.Timers.Correct(r.Context(), ActorFrom(r.Context()), chi.URLParam(r, "id"), req.DurationSeconds)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(*sess, h.Timers.Now()))
}

// =============================================================================
// HELPERS
// =============================================================================

func balanceID(r *http.Request) ledger.BalanceID {
	return ledger.BalanceID(chi.URLParam(r, "id"))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// statusFor maps the ledger error taxonomy to HTTP.
func statusFor(err error) int {
	switch ledger.ErrorKindOf(err) {
	case ledger.KindValidation:
		return http.StatusBadRequest
	case ledger.KindUnauthorized:
		return http.StatusForbidden
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindInactive, ledger.KindInsufficientFunds:
		return http.StatusConflict
	case ledger.KindGenerationExhausted:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	kind := ledger.ErrorKindOf(err)
	resp := ErrorResponse{Error: http.StatusText(status), Kind: string(kind), Details: err.Error()}

	var insufficient *ledger.InsufficientFundsError
	if errors.As(err, &insufficient) {
		resp.Error = "Insufficient balance"
	}
	if status >= http.StatusInternalServerError {
		h.Log.Error().Err(err).Str("kind", string(kind)).Msg("request failed")
		// Store internals stay in the log.
		resp.Details = ""
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
