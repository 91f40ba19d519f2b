/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     zerolog request line
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus latency histogram
  6. CORS:       Cross-origin requests for the frontend
  7. Identity:   X-Actor-ID / X-Actor-Role, /api only

ROUTE GROUPS:
  /api/balances/*      Balances, history, reconciliation, live stream
  /api/transactions/*  Corrections
  /api/timers/*        Timer sessions
  /api/billing/*       Payment provider passthrough
  /metrics             Prometheus scrape
  /healthz             Liveness

SECURITY NOTE:
  Identity headers are trusted as-is. The service must sit behind a proxy
  that authenticates the caller and sets them.
  Browsers cannot set these headers on a websocket handshake, so the proxy
  must also inject them on the /api/balances/stream upgrade request.
  The stream accepts a handshake with no Origin header (non-browser clients);
  only browser origins are checked against AllowedOrigins.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/ledgerd: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ticktalk/balance-engine/observability"
)

type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	if h.StreamOrigins == nil {
		h.StreamOrigins = opts.AllowedOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(observability.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderActorID, HeaderActorRole},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(Identity)

		r.Route("/balances", func(r chi.Router) {
			r.Get("/", h.ListBalances)
			r.Post("/", h.CreateBalance)
			r.Get("/stream", h.StreamBalances)
			r.Get("/{id}", h.GetBalance)
			r.Patch("/{id}", h.UpdateBalance)
			r.Delete("/{id}", h.DeleteBalance)
			r.Post("/{id}/active", h.SetActive)
			r.Get("/{id}/transactions", h.ListTransactions)
			r.Post("/{id}/transactions", h.LogTransaction)
			r.Get("/{id}/reconciliation", h.Reconcile)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Patch("/{id}", h.CorrectTransaction)
		})

		r.Route("/timers", func(r chi.Router) {
			r.Get("/", h.ListTimers)
			r.Post("/", h.StartTimer)
			r.Post("/{id}/stop", h.StopTimer)
			r.Patch("/{id}", h.CorrectTimer)
		})

		r.Route("/billing", func(r chi.Router) {
			r.Post("/checkout", h.CreateCheckout)
			r.Get("/subscription", h.GetSubscription)
		})
	})

	return r
}
