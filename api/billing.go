package api

import (
	"context"
	"net/http"
	"strings"
)

// BillingProvider is the payment processor behind the billing endpoints.
// Requests are passed through; no balance is credited from here.
type BillingProvider interface {
	CreateCheckoutSession(ctx context.Context, userID, email, priceID string) (url string, err error)
	SubscriptionStatus(ctx context.Context, userID string) (string, error)
}

// CreateCheckout starts a hosted checkout for the actor.
// POST /api/billing/checkout
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	if h.Billing == nil {
		writeError(w, http.StatusNotImplemented, "Billing is not configured", nil)
		return
	}
	var req CheckoutRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PriceID) == "" {
		writeError(w, http.StatusBadRequest, "priceId is required", nil)
		return
	}

	url, err := h.Billing.CreateCheckoutSession(r.Context(), ActorFrom(r.Context()).ID, req.Email, req.PriceID)
	if err != nil {
		h.Log.Error().Err(err).Msg("checkout session failed")
		writeError(w, http.StatusBadGateway, "Failed to create checkout session", nil)
		return
	}
	writeJSON(w, http.StatusOK, CheckoutResponse{URL: url})
}

// GetSubscription reports the actor's subscription status.
// GET /api/billing/subscription
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	if h.Billing == nil {
		writeError(w, http.StatusNotImplemented, "Billing is not configured", nil)
		return
	}
	status, err := h.Billing.SubscriptionStatus(r.Context(), ActorFrom(r.Context()).ID)
	if err != nil {
		h.Log.Error().Err(err).Msg("subscription lookup failed")
		writeError(w, http.StatusBadGateway, "Failed to fetch subscription status", nil)
		return
	}
	writeJSON(w, http.StatusOK, SubscriptionResponse{Status: status})
}
