// Package handler contains the HTTP handlers of the wallet service.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/adekunle-oj/wallet-core/internal/middleware"
	"github.com/adekunle-oj/wallet-core/internal/model"
	"github.com/adekunle-oj/wallet-core/internal/normalize"
	"github.com/adekunle-oj/wallet-core/internal/repository"
	"github.com/adekunle-oj/wallet-core/internal/service"
	"github.com/adekunle-oj/wallet-core/internal/signature"
)

// maxWebhookBody caps inbound payload size. Provider payloads are small;
// anything larger is not a webhook.
const maxWebhookBody = 1 << 20

var (
	webhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_webhook_events_total",
		Help: "Webhook deliveries by provider and outcome",
	}, []string{"provider", "outcome"})

	webhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_webhook_duration_seconds",
		Help:    "Webhook processing latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"provider"})
)

// Service defines the business-logic contract used by the HTTP handlers.
type Service interface {
	ProcessWebhook(ctx context.Context, provider model.Provider, body []byte, signatureHeader string) (service.Outcome, error)
	GetWallet(ctx context.Context, userID string) (*model.WalletAccount, error)
	GetLedgerEntriesByUser(ctx context.Context, userID string, limit int) ([]model.LedgerEntry, error)
	ListOrphanEvents(ctx context.Context, limit int) ([]model.OrphanEvent, error)
}

// Handler implements the HTTP API of the wallet service.
type Handler struct {
	service   Service
	logger    *zap.Logger
	adminAuth *middleware.AdminAuth
}

// NewHandler creates a new HTTP handler.
func NewHandler(s Service, logger *zap.Logger, adminAuth *middleware.AdminAuth) *Handler {
	return &Handler{
		service:   s,
		logger:    logger,
		adminAuth: adminAuth,
	}
}

// statusResponse is the body every webhook response carries.
type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (h *Handler) respond(w http.ResponseWriter, code int, status, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(statusResponse{Status: status, Message: message}); err != nil {
		h.logger.Error("write response", zap.Error(err))
	}
}

// Webhook receives one provider delivery and maps the reconciliation outcome
// to the response contract providers expect: 2xx stops redelivery, 401 for
// bad signatures, 4xx for malformed payloads and 5xx when the provider
// should retry.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	provider := model.Provider(chi.URLParam(r, "provider"))
	if !provider.Valid() {
		h.respond(w, http.StatusNotFound, "error", "unknown provider")
		return
	}

	timer := prometheus.NewTimer(webhookDuration.WithLabelValues(string(provider)))
	defer timer.ObserveDuration()

	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		webhookEvents.WithLabelValues(string(provider), "read_error").Inc()
		h.respond(w, http.StatusBadRequest, "error", "unreadable request body")
		return
	}

	sig := r.Header.Get(signature.HeaderFor(provider))

	outcome, err := h.service.ProcessWebhook(r.Context(), provider, body, sig)
	if err != nil {
		switch {
		case errors.Is(err, signature.ErrInvalidSignature):
			webhookEvents.WithLabelValues(string(provider), "auth_failed").Inc()
			h.logger.Warn("webhook signature verification failed",
				zap.String("provider", string(provider)), zap.String("remote_addr", r.RemoteAddr))
			h.respond(w, http.StatusUnauthorized, "error", "invalid signature")
		case errors.Is(err, normalize.ErrMalformedPayload):
			webhookEvents.WithLabelValues(string(provider), "malformed").Inc()
			h.logger.Warn("malformed webhook payload",
				zap.String("provider", string(provider)), zap.Error(err))
			h.respond(w, http.StatusBadRequest, "error", "malformed payload")
		default:
			// Transient: the provider's redelivery is the retry mechanism,
			// safe because the apply path is idempotent.
			webhookEvents.WithLabelValues(string(provider), "storage_error").Inc()
			h.logger.Error("webhook processing failed",
				zap.String("provider", string(provider)), zap.Error(err))
			h.respond(w, http.StatusServiceUnavailable, "error", "temporarily unable to process")
		}
		return
	}

	webhookEvents.WithLabelValues(string(provider), string(outcome)).Inc()
	h.respond(w, http.StatusOK, "success", string(outcome))
}

type balanceResponse struct {
	UserID       string `json:"user_id"`
	BalanceMinor int64  `json:"balance_minor"`
	Balance      string `json:"balance"`
}

// formatMajor renders a minor-unit amount in major units using integer
// arithmetic only. Float division loses cents once the balance exceeds
// 2^53 minor units.
func formatMajor(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// GetBalance returns a user's wallet balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	wallet, err := h.service.GetWallet(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get wallet error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := balanceResponse{
		UserID:       wallet.UserID,
		BalanceMinor: wallet.BalanceMinor,
		Balance:      formatMajor(wallet.BalanceMinor),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type ledgerEntryResponse struct {
	Reference   string `json:"reference"`
	Type        string `json:"type"`
	AmountMinor int64  `json:"amount_minor"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

// GetLedger returns a user's ledger history.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	entries, err := h.service.GetLedgerEntriesByUser(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("get ledger error", zap.Error(err), zap.String("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, ledgerEntryResponse{
			Reference:   e.Reference,
			Type:        string(e.Type),
			AmountMinor: e.AmountMinor,
			Status:      string(e.Status),
			CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type orphanEventResponse struct {
	ID         string          `json:"id"`
	Provider   string          `json:"provider"`
	Reference  string          `json:"reference"`
	Reason     string          `json:"reason"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt string          `json:"received_at"`
}

// GetOrphanEvents returns the retained events awaiting manual reconciliation.
func (h *Handler) GetOrphanEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	events, err := h.service.ListOrphanEvents(r.Context(), limit)
	if err != nil {
		h.logger.Error("list orphan events error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(events) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orphanEventResponse, 0, len(events))
	for _, ev := range events {
		payload := json.RawMessage(ev.Payload)
		if !json.Valid(payload) {
			raw, _ := json.Marshal(string(ev.Payload))
			payload = raw
		}
		resp = append(resp, orphanEventResponse{
			ID:         ev.ID,
			Provider:   string(ev.Provider),
			Reference:  ev.Reference,
			Reason:     ev.Reason,
			Payload:    payload,
			ReceivedAt: ev.ReceivedAt.Format(time.RFC3339),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}
