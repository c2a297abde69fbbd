// Package normalize maps heterogeneous provider webhook payloads into the
// canonical PaymentEvent form.
package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/adekunle-oj/wallet-core/internal/model"
	"github.com/adekunle-oj/wallet-core/internal/validation"
)

// ErrMalformedPayload is returned when a payload is missing required fields
// or carries values outside the accepted ranges.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// ErrUnsupportedEventType is returned for valid payloads whose event kind is
// irrelevant to wallet crediting. Such events are acknowledged upstream but
// never reach the ledger.
var ErrUnsupportedEventType = errors.New("unsupported event type")

// Normalizer converts one provider's raw webhook body into a PaymentEvent.
type Normalizer interface {
	Normalize(body []byte) (*model.PaymentEvent, error)
}

// For returns the normalizer for the given provider.
func For(p model.Provider) (Normalizer, error) {
	switch p {
	case model.ProviderPaystack:
		return paystackNormalizer{}, nil
	case model.ProviderFlutterwave:
		return flutterwaveNormalizer{}, nil
	case model.ProviderVTPass:
		return vtpassNormalizer{}, nil
	}
	return nil, fmt.Errorf("no normalizer for provider %s", p)
}

// minorUnitsFromMajor converts a decimal amount expressed in major currency
// units ("500", "500.5", "500.50") into minor units without floating-point
// arithmetic. More than two decimal places is a malformed amount.
func minorUnitsFromMajor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return 0, fmt.Errorf("%w: bad amount %q", ErrMalformedPayload, s)
	}

	whole, frac, _ := strings.Cut(s, ".")

	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad amount %q", ErrMalformedPayload, s)
	}

	var cents int64
	switch len(frac) {
	case 0:
		cents = 0
	case 1:
		d, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad amount %q", ErrMalformedPayload, s)
		}
		cents = d * 10
	case 2:
		d, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad amount %q", ErrMalformedPayload, s)
		}
		cents = d
	default:
		return 0, fmt.Errorf("%w: amount %q has more than two decimal places", ErrMalformedPayload, s)
	}

	return major*100 + cents, nil
}

// checkEvent enforces the invariants every normalized event must satisfy
// before it may leave this package.
func checkEvent(e *model.PaymentEvent) (*model.PaymentEvent, error) {
	if e.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %d", ErrMalformedPayload, e.AmountMinor)
	}
	if !validation.IsValidCurrencyCode(e.Currency) {
		return nil, fmt.Errorf("%w: bad currency code %q", ErrMalformedPayload, e.Currency)
	}
	if e.ProviderReference == "" && e.CanonicalReference == "" {
		return nil, fmt.Errorf("%w: missing transaction reference", ErrMalformedPayload)
	}
	if !validation.IsValidReference(e.Reference()) {
		return nil, fmt.Errorf("%w: bad transaction reference %q", ErrMalformedPayload, e.Reference())
	}
	return e, nil
}
