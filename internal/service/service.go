// Package service implements the webhook reconciliation flow: verify,
// normalize, deduplicate, apply.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/adekunle-oj/wallet-core/internal/guard"
	"github.com/adekunle-oj/wallet-core/internal/model"
	"github.com/adekunle-oj/wallet-core/internal/normalize"
	"github.com/adekunle-oj/wallet-core/internal/repository"
	"github.com/adekunle-oj/wallet-core/internal/signature"
)

// applyTimeout bounds the ledger transaction once it has been decided. The
// apply runs on a context detached from the request so a provider-side
// timeout cannot interrupt the commit; the provider's redelivery is absorbed
// by the idempotency path.
const applyTimeout = 15 * time.Second

// Outcome describes how a webhook delivery was concluded. Every outcome is
// acknowledged with a 2xx response; failures are expressed as errors.
type Outcome string

const (
	// OutcomeApplied means the ledger entry was inserted and the wallet credited.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the reference had already been applied.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored means the event is valid but carries no monetary effect.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeOrphaned means the subject could not be resolved and the raw
	// event was retained for manual reconciliation.
	OutcomeOrphaned Outcome = "orphaned"
)

// Repository is the data access contract the service depends on.
type Repository interface {
	Close() error
	InsertLedgerEntryAndCreditWallet(ctx context.Context, entry model.LedgerEntry) (bool, error)
	LookupLedgerEntryByReference(ctx context.Context, reference string) (*model.LedgerEntry, error)
	UpdateLedgerEntryStatus(ctx context.Context, reference string, status model.EntryStatus) (bool, error)
	LookupIntentUser(ctx context.Context, reference string) (string, error)
	SaveOrphanEvent(ctx context.Context, ev model.OrphanEvent) (string, error)
	GetWallet(ctx context.Context, userID string) (*model.WalletAccount, error)
	GetLedgerEntriesByUser(ctx context.Context, userID string, limit int) ([]model.LedgerEntry, error)
	ListOrphanEvents(ctx context.Context, limit int) ([]model.OrphanEvent, error)
}

// Notifier delivers best-effort balance-change notifications.
type Notifier interface {
	NotifyBalanceChange(ctx context.Context, userID string, amountMinor int64, currency, reference, entryType string) error
}

// Service wires the verifier set, normalizers, idempotency guard and ledger
// applier into the per-provider dispatch flow.
type Service struct {
	repo      Repository
	guard     *guard.Guard
	verifiers *signature.Set
	notify    Notifier
	logger    *zap.Logger
}

// NewService creates the reconciliation service. notify may be nil.
func NewService(repo Repository, g *guard.Guard, verifiers *signature.Set, notify Notifier, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		guard:     g,
		verifiers: verifiers,
		notify:    notify,
		logger:    logger,
	}
}

// Close releases the service's resources.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// entryMetadata is what survives of a webhook inside the ledger entry.
type entryMetadata struct {
	Provider          string          `json:"provider"`
	ProviderReference string          `json:"provider_reference"`
	CustomerEmail     string          `json:"customer_email,omitempty"`
	RawPayload        json.RawMessage `json:"raw_payload"`
}

// ProcessWebhook runs the full dispatch flow for one delivery:
// verify signature, normalize payload, short-circuit duplicates, apply.
func (s *Service) ProcessWebhook(ctx context.Context, provider model.Provider, body []byte, signatureHeader string) (Outcome, error) {
	v, err := s.verifiers.For(provider)
	if err != nil {
		return "", err
	}
	if err := v.Verify(body, signatureHeader); err != nil {
		return "", fmt.Errorf("authenticate %s webhook: %w", provider, err)
	}

	n, err := normalize.For(provider)
	if err != nil {
		return "", err
	}

	event, err := n.Normalize(body)
	if err != nil {
		if errors.Is(err, normalize.ErrUnsupportedEventType) {
			// Irrelevant but authentic. Acknowledge so the provider stops
			// redelivering.
			s.logger.Info("ignoring unsupported webhook event",
				zap.String("provider", string(provider)), zap.Error(err))
			return OutcomeIgnored, nil
		}
		return "", err
	}

	if event.Status != model.EventStatusSuccessful {
		return s.processNonCredit(ctx, event)
	}

	return s.applyCredit(ctx, event)
}

// processNonCredit handles authentic events that must not move money. A
// failure notification flips a matching pending ledger entry to failed;
// everything else is a pure acknowledgment.
func (s *Service) processNonCredit(ctx context.Context, event *model.PaymentEvent) (Outcome, error) {
	if event.Status == model.EventStatusFailed && event.CanonicalReference != "" {
		updated, err := s.repo.UpdateLedgerEntryStatus(ctx, event.CanonicalReference, model.EntryStatusFailed)
		if err != nil {
			return "", fmt.Errorf("mark entry failed: %w", err)
		}
		if updated {
			s.logger.Info("marked pending ledger entry failed",
				zap.String("provider", string(event.Provider)),
				zap.String("reference", event.CanonicalReference))
		}
	}

	s.logger.Info("acknowledged non-crediting event",
		zap.String("provider", string(event.Provider)),
		zap.String("reference", event.Reference()),
		zap.String("status", string(event.Status)))

	return OutcomeIgnored, nil
}

// applyCredit resolves the wallet owner and applies the credit exactly once.
func (s *Service) applyCredit(ctx context.Context, event *model.PaymentEvent) (Outcome, error) {
	reference := event.Reference()

	userID, outcome, err := s.resolveSubject(ctx, event)
	if err != nil || outcome == OutcomeOrphaned {
		return outcome, err
	}

	// Fast path: true redeliveries short-circuit here. Correctness does not
	// depend on this check; the insert below is the arbiter under races.
	already, err := s.guard.AlreadyApplied(ctx, reference)
	if err != nil {
		return "", fmt.Errorf("idempotency check: %w", err)
	}
	if already {
		s.logger.Info("duplicate webhook delivery short-circuited",
			zap.String("provider", string(event.Provider)),
			zap.String("reference", reference))
		return OutcomeDuplicate, nil
	}

	metadata, err := json.Marshal(entryMetadata{
		Provider:          string(event.Provider),
		ProviderReference: event.ProviderReference,
		CustomerEmail:     event.CustomerEmail,
		RawPayload:        event.RawPayload,
	})
	if err != nil {
		return "", fmt.Errorf("marshal entry metadata: %w", err)
	}

	entry := model.LedgerEntry{
		UserID:      userID,
		Type:        event.Type,
		AmountMinor: event.AmountMinor,
		Status:      model.EntryStatusSuccessful,
		Reference:   reference,
		Metadata:    metadata,
	}

	applyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), applyTimeout)
	defer cancel()

	applied, err := s.repo.InsertLedgerEntryAndCreditWallet(applyCtx, entry)
	if err != nil {
		if errors.Is(err, repository.ErrUnknownUser) {
			return s.retainOrphan(applyCtx, event, "no wallet for resolved user "+userID)
		}
		return "", fmt.Errorf("apply ledger entry: %w", err)
	}

	if !applied {
		s.logger.Info("concurrent duplicate delivery lost the insert race",
			zap.String("provider", string(event.Provider)),
			zap.String("reference", reference))
		return OutcomeDuplicate, nil
	}

	s.guard.MarkApplied(applyCtx, reference)

	s.logger.Info("wallet credited",
		zap.String("provider", string(event.Provider)),
		zap.String("reference", reference),
		zap.String("user_id", userID),
		zap.Int64("amount_minor", event.AmountMinor),
		zap.String("currency", event.Currency))

	s.notifyAsync(event, userID, reference)

	return OutcomeApplied, nil
}

// resolveSubject determines the wallet owner: explicit metadata first, then
// the payment intent recorded at initiation time. Unresolvable events are
// retained, never dropped.
func (s *Service) resolveSubject(ctx context.Context, event *model.PaymentEvent) (string, Outcome, error) {
	if event.SubjectUserID != "" {
		return event.SubjectUserID, "", nil
	}

	if event.CanonicalReference != "" {
		userID, err := s.repo.LookupIntentUser(ctx, event.CanonicalReference)
		if err == nil {
			return userID, "", nil
		}
		if !errors.Is(err, repository.ErrIntentNotFound) {
			return "", "", fmt.Errorf("resolve subject: %w", err)
		}
	}

	outcome, err := s.retainOrphan(ctx, event, "subject user could not be resolved")
	return "", outcome, err
}

// retainOrphan persists the raw event for manual reconciliation and
// acknowledges the delivery. If retention itself fails the delivery is NOT
// acknowledged, so the provider redelivers and the event is not lost.
func (s *Service) retainOrphan(ctx context.Context, event *model.PaymentEvent, reason string) (Outcome, error) {
	id, err := s.repo.SaveOrphanEvent(ctx, model.OrphanEvent{
		Provider:  event.Provider,
		Reference: event.Reference(),
		Reason:    reason,
		Payload:   event.RawPayload,
	})
	if err != nil {
		return "", fmt.Errorf("retain orphan event: %w", err)
	}

	s.logger.Warn("retained unapplicable webhook for manual reconciliation",
		zap.String("provider", string(event.Provider)),
		zap.String("reference", event.Reference()),
		zap.String("orphan_id", id),
		zap.String("reason", reason))

	return OutcomeOrphaned, nil
}

// notifyAsync fires the balance-change notification without blocking the
// webhook response. Failures are logged and never propagated.
func (s *Service) notifyAsync(event *model.PaymentEvent, userID, reference string) {
	if s.notify == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := s.notify.NotifyBalanceChange(ctx, userID, event.AmountMinor, event.Currency, reference, string(event.Type))
		if err != nil {
			s.logger.Warn("balance-change notification failed",
				zap.String("reference", reference), zap.Error(err))
		}
	}()
}

// GetWallet returns a user's wallet.
func (s *Service) GetWallet(ctx context.Context, userID string) (*model.WalletAccount, error) {
	return s.repo.GetWallet(ctx, userID)
}

// GetLedgerEntriesByUser returns a user's ledger history, newest first.
func (s *Service) GetLedgerEntriesByUser(ctx context.Context, userID string, limit int) ([]model.LedgerEntry, error) {
	return s.repo.GetLedgerEntriesByUser(ctx, userID, limit)
}

// ListOrphanEvents returns retained events for the admin surface.
func (s *Service) ListOrphanEvents(ctx context.Context, limit int) ([]model.OrphanEvent, error) {
	return s.repo.ListOrphanEvents(ctx, limit)
}
