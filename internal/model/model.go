// Package model contains the domain entities of the wallet reconciliation service.
package model

import (
	"encoding/json"
	"time"
)

// Provider identifies the external payment system that emitted an event.
type Provider string

const (
	ProviderPaystack    Provider = "paystack"
	ProviderFlutterwave Provider = "flutterwave"
	ProviderVTPass      Provider = "vtpass"
)

// Valid reports whether p is one of the known providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderPaystack, ProviderFlutterwave, ProviderVTPass:
		return true
	}
	return false
}

// EventStatus describes the outcome a provider reports for a payment.
type EventStatus string

const (
	EventStatusSuccessful EventStatus = "successful"
	EventStatusFailed     EventStatus = "failed"
	EventStatusPending    EventStatus = "pending"
	EventStatusReversed   EventStatus = "reversed"
)

// EntryType describes the kind of ledger movement an event produces.
type EntryType string

const (
	EntryTypeDeposit EntryType = "deposit"
	EntryTypeDebit   EntryType = "debit"
	EntryTypeRefund  EntryType = "refund"
)

// EntryStatus describes the lifecycle state of a ledger entry.
type EntryStatus string

const (
	EntryStatusPending    EntryStatus = "pending"
	EntryStatusSuccessful EntryStatus = "successful"
	EntryStatusFailed     EntryStatus = "failed"
	EntryStatusReversed   EntryStatus = "reversed"
)

// PaymentEvent is the canonical form of a provider webhook after normalization.
// It is transient: constructed per request and never persisted as such; only
// RawPayload survives, inside the resulting ledger entry metadata or the
// orphan-event record.
type PaymentEvent struct {
	Provider Provider

	// ProviderReference is the provider's own transaction identifier.
	// Unique per provider, not globally unique.
	ProviderReference string

	// CanonicalReference is the reference minted by this system at payment
	// initiation. Empty for unsolicited provider-pushed events.
	CanonicalReference string

	AmountMinor   int64
	Currency      string
	Status        EventStatus
	Type          EntryType
	SubjectUserID string
	CustomerEmail string
	RawPayload    []byte
}

// Reference returns the idempotency key for the event: the canonical
// reference when present, otherwise the provider reference prefixed with the
// provider tag so references from different providers can never collide.
// A refund keys separately from the payment it reverses.
func (e *PaymentEvent) Reference() string {
	ref := e.CanonicalReference
	if ref == "" {
		ref = string(e.Provider) + ":" + e.ProviderReference
	}
	if e.Type == EntryTypeRefund {
		return "refund:" + ref
	}
	return ref
}

// LedgerEntry is one persisted, append-only ledger movement.
type LedgerEntry struct {
	ID          int64
	UserID      string
	Type        EntryType
	AmountMinor int64
	Status      EntryStatus
	Reference   string
	Metadata    json.RawMessage
	CreatedAt   time.Time
}

// WalletAccount is the balance row for one user, mutated only by the ledger
// applier inside the same transaction as the ledger insert.
type WalletAccount struct {
	UserID       string
	BalanceMinor int64
	UpdatedAt    time.Time
}

// OrphanEvent is a webhook that could not be applied (unknown subject) and is
// retained for manual reconciliation instead of being dropped.
type OrphanEvent struct {
	ID         string
	Provider   Provider
	Reference  string
	Reason     string
	Payload    []byte
	ReceivedAt time.Time
}

// PaymentIntent correlates a canonical reference minted at initiation time
// with the wallet owner it belongs to.
type PaymentIntent struct {
	Reference   string
	UserID      string
	AmountMinor int64
	Currency    string
	CreatedAt   time.Time
}
