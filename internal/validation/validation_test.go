package validation

import "testing"

func TestIsValidCurrencyCode(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		valid bool
	}{
		{
			name:  "naira",
			code:  "NGN",
			valid: true,
		},
		{
			name:  "us dollar",
			code:  "USD",
			valid: true,
		},
		{
			name:  "lowercase",
			code:  "ngn",
			valid: false,
		},
		{
			name:  "too long",
			code:  "NGNX",
			valid: false,
		},
		{
			name:  "empty",
			code:  "",
			valid: false,
		},
		{
			name:  "digits",
			code:  "N1N",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidCurrencyCode(tt.code)
			if got != tt.valid {
				t.Fatalf("IsValidCurrencyCode(%q) = %v, want %v", tt.code, got, tt.valid)
			}
		})
	}
}

func TestIsValidReference(t *testing.T) {
	long := make([]byte, 129)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name  string
		ref   string
		valid bool
	}{
		{
			name:  "typical canonical reference",
			ref:   "WLT-20260831-8f3a2c",
			valid: true,
		},
		{
			name:  "provider-tagged reference",
			ref:   "paystack:302345119",
			valid: true,
		},
		{
			name:  "empty",
			ref:   "",
			valid: false,
		},
		{
			name:  "whitespace",
			ref:   "TX 123",
			valid: false,
		},
		{
			name:  "too long",
			ref:   string(long),
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidReference(tt.ref)
			if got != tt.valid {
				t.Fatalf("IsValidReference(%q) = %v, want %v", tt.ref, got, tt.valid)
			}
		})
	}
}
