package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/adekunle-oj/wallet-core/internal/model"
)

// vtpassPayload mirrors the transaction-update callback of the airtime/data
// fulfillment provider. A reversed fulfillment credits the wallet back as a
// refund; delivered and in-flight updates carry no monetary effect here.
type vtpassPayload struct {
	Type string `json:"type"`
	Data struct {
		RequestID     string      `json:"requestId"`
		TransactionID string      `json:"transactionId"`
		Amount        json.Number `json:"amount"`
		Currency      string      `json:"currency"`
		Status        string      `json:"status"`
		CustomerEmail string      `json:"customer_email"`
		UserID        string      `json:"user_id"`
	} `json:"data"`
}

type vtpassNormalizer struct{}

func (vtpassNormalizer) Normalize(body []byte) (*model.PaymentEvent, error) {
	var p vtpassPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if p.Type != "transaction-update" {
		return nil, fmt.Errorf("%w: vtpass event %q", ErrUnsupportedEventType, p.Type)
	}

	amount, err := minorUnitsFromMajor(p.Data.Amount.String())
	if err != nil {
		return nil, err
	}

	var status model.EventStatus
	switch p.Data.Status {
	case "reversed":
		// The only vtpass outcome that moves money in this direction.
		status = model.EventStatusSuccessful
	case "failed":
		status = model.EventStatusFailed
	default:
		status = model.EventStatusPending
	}

	currency := p.Data.Currency
	if currency == "" {
		currency = "NGN"
	}

	e := &model.PaymentEvent{
		Provider:           model.ProviderVTPass,
		ProviderReference:  p.Data.TransactionID,
		CanonicalReference: p.Data.RequestID,
		AmountMinor:        amount,
		Currency:           currency,
		Status:             status,
		Type:               model.EntryTypeRefund,
		SubjectUserID:      p.Data.UserID,
		CustomerEmail:      p.Data.CustomerEmail,
		RawPayload:         body,
	}

	return checkEvent(e)
}
