// Package webhook authenticates and decodes payment processor
// notifications.
//
// Signatures follow Stripe's scheme and are checked with stripe-go: the
// header carries a unix timestamp and one or more hex HMAC-SHA256 digests of
// "<timestamp>.<body>" keyed by the endpoint secret,
// e.g. "t=1700000000,v1=5257a8…".
package webhook

import (
	"errors"
	"fmt"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

// SignatureHeader is the HTTP header that carries the signature.
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance is the accepted age of a signature.
const DefaultTolerance = stripewebhook.DefaultTolerance

var (
	ErrMissingSignature  = errors.New("webhook: missing signature header")
	ErrMalformedHeader   = errors.New("webhook: malformed signature header")
	ErrSignatureMismatch = errors.New("webhook: no signature matches the payload")
	ErrTimestampExpired  = errors.New("webhook: timestamp outside tolerance")
	ErrNoSecret          = errors.New("webhook: signing secret not configured")
)

// Verifier checks signatures with one pre-shared secret.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithTolerance sets the maximum signature age. Zero disables the check.
func WithTolerance(d time.Duration) VerifierOption {
	return func(v *Verifier) { v.tolerance = d }
}

// NewVerifier creates a verifier for secret.
func NewVerifier(secret string, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		secret:    secret,
		tolerance: DefaultTolerance,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify reports whether header authenticates payload.
func (v *Verifier) Verify(payload []byte, header string) error {
	if v.secret == "" {
		return ErrNoSecret
	}

	var err error
	if v.tolerance > 0 {
		err = stripewebhook.ValidatePayloadWithTolerance(payload, header, v.secret, v.tolerance)
	} else {
		err = stripewebhook.ValidatePayloadIgnoringTolerance(payload, header, v.secret)
	}
	return mapStripeError(err)
}

func mapStripeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stripewebhook.ErrNotSigned):
		return ErrMissingSignature
	case errors.Is(err, stripewebhook.ErrInvalidHeader):
		return fmt.Errorf("%w: %w", ErrMalformedHeader, err)
	case errors.Is(err, stripewebhook.ErrTooOld):
		return fmt.Errorf("%w: %w", ErrTimestampExpired, err)
	default:
		return fmt.Errorf("%w: %w", ErrSignatureMismatch, err)
	}
}

// Sign produces a header value for payload at time t.
func Sign(payload []byte, secret string, t time.Time) string {
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: t,
	})
	return signed.Header
}
