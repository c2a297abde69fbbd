package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/adekunle-oj/wallet-core/internal/model"
)

// flutterwavePayload mirrors the subset of the Flutterwave webhook body this
// service consumes. Flutterwave amounts arrive in major units and are scaled
// to minor units here.
type flutterwavePayload struct {
	Event string `json:"event"`
	Data  struct {
		ID       json.Number `json:"id"`
		TxRef    string      `json:"tx_ref"`
		FlwRef   string      `json:"flw_ref"`
		Amount   json.Number `json:"amount"`
		Currency string      `json:"currency"`
		Status   string      `json:"status"`
		Customer struct {
			Email string `json:"email"`
		} `json:"customer"`
		Meta struct {
			UserID string `json:"user_id"`
		} `json:"meta"`
	} `json:"data"`
}

type flutterwaveNormalizer struct{}

func (flutterwaveNormalizer) Normalize(body []byte) (*model.PaymentEvent, error) {
	var p flutterwavePayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if p.Event != "charge.completed" {
		return nil, fmt.Errorf("%w: flutterwave event %q", ErrUnsupportedEventType, p.Event)
	}

	amount, err := minorUnitsFromMajor(p.Data.Amount.String())
	if err != nil {
		return nil, err
	}

	var status model.EventStatus
	switch p.Data.Status {
	case "successful":
		status = model.EventStatusSuccessful
	case "failed":
		status = model.EventStatusFailed
	default:
		status = model.EventStatusPending
	}

	ref := p.Data.FlwRef
	if ref == "" {
		ref = p.Data.ID.String()
	}

	e := &model.PaymentEvent{
		Provider:           model.ProviderFlutterwave,
		ProviderReference:  ref,
		CanonicalReference: p.Data.TxRef,
		AmountMinor:        amount,
		Currency:           p.Data.Currency,
		Status:             status,
		Type:               model.EntryTypeDeposit,
		SubjectUserID:      p.Data.Meta.UserID,
		CustomerEmail:      p.Data.Customer.Email,
		RawPayload:         body,
	}

	return checkEvent(e)
}
