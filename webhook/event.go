package webhook

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"

	"github.com/xraph/creditline/payment"
)

// Checkout session event types the reconciler acts on.
const (
	EventCheckoutCompleted      = string(stripe.EventTypeCheckoutSessionCompleted)
	EventAsyncPaymentSucceeded  = string(stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded)
	EventAsyncPaymentFailed     = string(stripe.EventTypeCheckoutSessionAsyncPaymentFailed)
	EventCheckoutSessionExpired = string(stripe.EventTypeCheckoutSessionExpired)
)

// Metadata keys attached to the checkout session when the top-up starts.
const (
	MetadataTransactionID = "transactionId"
	MetadataAccountID     = "userId"
	MetadataPlanID        = "planId"
	MetadataAppID         = "appId"
)

// ErrMalformedEvent is returned for payloads that are not processor events.
var ErrMalformedEvent = errors.New("webhook: malformed event")

// Parse decodes an authenticated payload into a notification. Event types
// the ledger does not act on yield a notification with an empty Status.
func Parse(payload []byte) (payment.Notification, error) {
	var ev stripe.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return payment.Notification{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if ev.Type == "" {
		return payment.Notification{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	n := payment.Notification{EventID: ev.ID, Type: string(ev.Type)}
	status, handled := statusFor(ev.Type)
	if !handled {
		return n, nil
	}

	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return payment.Notification{}, fmt.Errorf("%w: missing session", ErrMalformedEvent)
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
		return payment.Notification{}, fmt.Errorf("%w: session: %w", ErrMalformedEvent, err)
	}
	if ev.Type == stripe.EventTypeCheckoutSessionCompleted {
		status = completedStatus(sess.PaymentStatus)
	}

	n.Status = status
	n.TransactionID = sess.Metadata[MetadataTransactionID]
	n.AccountID = sess.Metadata[MetadataAccountID]
	n.PlanID = sess.Metadata[MetadataPlanID]
	n.AppID = sess.Metadata[MetadataAppID]
	return n, nil
}

func statusFor(eventType stripe.EventType) (payment.NotificationStatus, bool) {
	switch eventType {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		return payment.NotificationSucceeded, true
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed, stripe.EventTypeCheckoutSessionExpired:
		return payment.NotificationFailed, true
	}
	return "", false
}

// completedStatus maps a completed session's payment_status. Delayed
// payment methods complete the session while still unpaid.
func completedStatus(ps stripe.CheckoutSessionPaymentStatus) payment.NotificationStatus {
	switch ps {
	case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return payment.NotificationSucceeded
	}
	return payment.NotificationPending
}
