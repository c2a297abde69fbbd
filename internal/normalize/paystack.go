package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/adekunle-oj/wallet-core/internal/model"
)

// paystackPayload mirrors the subset of the Paystack webhook body this
// service consumes. Paystack amounts are already in minor units (kobo).
type paystackPayload struct {
	Event string `json:"event"`
	Data  struct {
		ID        json.Number `json:"id"`
		Reference string      `json:"reference"`
		Amount    json.Number `json:"amount"`
		Currency  string      `json:"currency"`
		Status    string      `json:"status"`
		Metadata  struct {
			UserID string `json:"user_id"`
		} `json:"metadata"`
		Customer struct {
			Email string `json:"email"`
		} `json:"customer"`
	} `json:"data"`
}

type paystackNormalizer struct{}

func (paystackNormalizer) Normalize(body []byte) (*model.PaymentEvent, error) {
	var p paystackPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	// Only completed charges credit the wallet. Transfer and dedicated-account
	// events belong to other subsystems and are acknowledged without effect.
	if p.Event != "charge.success" {
		return nil, fmt.Errorf("%w: paystack event %q", ErrUnsupportedEventType, p.Event)
	}

	amount, err := p.Data.Amount.Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: bad amount %q", ErrMalformedPayload, p.Data.Amount.String())
	}

	e := &model.PaymentEvent{
		Provider:           model.ProviderPaystack,
		ProviderReference:  p.Data.ID.String(),
		CanonicalReference: p.Data.Reference,
		AmountMinor:        amount,
		Currency:           p.Data.Currency,
		Status:             model.EventStatusSuccessful,
		Type:               model.EntryTypeDeposit,
		SubjectUserID:      p.Data.Metadata.UserID,
		CustomerEmail:      p.Data.Customer.Email,
		RawPayload:         body,
	}

	return checkEvent(e)
}
