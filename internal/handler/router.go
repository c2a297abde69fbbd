package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/adekunle-oj/wallet-core/internal/middleware"
)

// SetupRouter configures the HTTP routes and middleware of the wallet service.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Logger(h.logger))

	r.Post("/api/webhooks/{provider}", h.Webhook)

	r.Route("/api/wallets/{userID}", func(r chi.Router) {
		r.Get("/balance", h.GetBalance)
		r.Get("/ledger", h.GetLedger)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.adminAuth.Middleware)

		r.Get("/api/admin/orphan-events", h.GetOrphanEvents)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
