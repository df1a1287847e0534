package creditline_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/creditline"
	"github.com/xraph/creditline/payment"
	"github.com/xraph/creditline/webhook"
)

const secret = "whsec_test"

func checkoutEvent(t *testing.T, eventType, paymentStatus string, metadata map[string]string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":   "evt_" + eventType,
		"type": eventType,
		"data": map[string]any{
			"object": map[string]any{
				"id":             "cs_test",
				"payment_status": paymentStatus,
				"metadata":       metadata,
			},
		},
	})
	require.NoError(t, err)
	return payload
}

func reconcilingLedger(t *testing.T) *creditline.Ledger {
	t.Helper()
	return newLedger(t, nil,
		creditline.WithInitialCredits(0),
		creditline.WithWebhookSecret(secret),
	)
}

func TestReconcileSettlesOnce(t *testing.T) {
	l := reconcilingLedger(t)
	ctx := context.Background()
	a := openAccount(t, l, "ada")
	top, err := l.BeginTopUp(ctx, a.ID, "basic")
	require.NoError(t, err)

	payload := checkoutEvent(t, webhook.EventCheckoutCompleted, "paid", top.Metadata)

	res, err := l.Reconcile(ctx, payload, webhook.Sign(payload, secret, time.Now()))
	require.NoError(t, err)
	require.Equal(t, creditline.OutcomeSettled, res.Outcome)
	require.Equal(t, int64(100), res.Settlement.Balance)

	// Redelivery of the same event.
	for range 2 {
		res, err = l.Reconcile(ctx, payload, webhook.Sign(payload, secret, time.Now()))
		require.NoError(t, err)
		require.Equal(t, creditline.OutcomeAlreadySettled, res.Outcome)
	}
	require.Equal(t, int64(100), balanceOf(t, l, a))
}

func TestReconcileRejectsBadSignature(t *testing.T) {
	l := reconcilingLedger(t)
	ctx := context.Background()
	a := openAccount(t, l, "ada")
	top, err := l.BeginTopUp(ctx, a.ID, "basic")
	require.NoError(t, err)

	payload := checkoutEvent(t, webhook.EventCheckoutCompleted, "paid", top.Metadata)

	for name, sig := range map[string]string{
		"wrong secret": webhook.Sign(payload, "whsec_other", time.Now()),
		"expired":      webhook.Sign(payload, secret, time.Now().Add(-time.Hour)),
		"missing":      "",
		"garbage":      "not a signature",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := l.Reconcile(ctx, payload, sig)
			require.ErrorIs(t, err, creditline.ErrAuthenticationFailed)
		})
	}

	txn, err := l.GetTransaction(ctx, top.Transaction.ID)
	require.NoError(t, err)
	require.Equal(t, payment.StatusPending, txn.Status)
	require.Equal(t, int64(0), balanceOf(t, l, a))
}

func TestReconcileWithoutSecret(t *testing.T) {
	l := newLedger(t, nil)
	_, err := l.Reconcile(context.Background(), []byte(`{}`), "t=1,v1=00")
	require.ErrorIs(t, err, creditline.ErrAuthenticationFailed)
}

func TestReconcileMalformedPayload(t *testing.T) {
	l := reconcilingLedger(t)
	payload := []byte(`{"id": 12}`)
	_, err := l.Reconcile(context.Background(), payload, webhook.Sign(payload, secret, time.Now()))
	require.ErrorIs(t, err, creditline.ErrInvalidInput)
}

func TestReconcileOutcomes(t *testing.T) {
	l := reconcilingLedger(t)
	ctx := context.Background()
	a := openAccount(t, l, "ada")
	top, err := l.BeginTopUp(ctx, a.ID, "pro")
	require.NoError(t, err)

	foreign := map[string]string{}
	for k, v := range top.Metadata {
		foreign[k] = v
	}
	foreign[webhook.MetadataAppID] = "someone-else"

	tests := []struct {
		name      string
		eventType string
		status    string
		metadata  map[string]string
		want      creditline.Outcome
	}{
		{"unpaid checkout", webhook.EventCheckoutCompleted, "unpaid", top.Metadata, creditline.OutcomePending},
		{"async failure", webhook.EventAsyncPaymentFailed, "unpaid", top.Metadata, creditline.OutcomeFailed},
		{"expired session", webhook.EventCheckoutSessionExpired, "unpaid", top.Metadata, creditline.OutcomeFailed},
		{"other app", webhook.EventCheckoutCompleted, "paid", foreign, creditline.OutcomeIgnored},
		{"unhandled type", "customer.created", "", nil, creditline.OutcomeIgnored},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := checkoutEvent(t, tt.eventType, tt.status, tt.metadata)
			res, err := l.Reconcile(ctx, payload, webhook.Sign(payload, secret, time.Now()))
			require.NoError(t, err)
			require.Equal(t, tt.want, res.Outcome)
			require.Nil(t, res.Settlement)
		})
	}
	require.Equal(t, int64(0), balanceOf(t, l, a))

	// A delayed payment settles later.
	payload := checkoutEvent(t, webhook.EventAsyncPaymentSucceeded, "paid", top.Metadata)
	res, err := l.Reconcile(ctx, payload, webhook.Sign(payload, secret, time.Now()))
	require.NoError(t, err)
	require.Equal(t, creditline.OutcomeSettled, res.Outcome)
	require.Equal(t, int64(500), balanceOf(t, l, a))
}

func TestHandleNotificationErrors(t *testing.T) {
	l := reconcilingLedger(t)
	ctx := context.Background()
	a := openAccount(t, l, "ada")
	other := openAccount(t, l, "bob")
	top, err := l.BeginTopUp(ctx, a.ID, "basic")
	require.NoError(t, err)

	base := payment.Notification{
		EventID: "evt_1",
		Type:    webhook.EventCheckoutCompleted,
		AppID:   creditline.DefaultAppID,
		Status:  payment.NotificationSucceeded,
	}

	missing := base
	_, err = l.HandleNotification(ctx, missing)
	require.ErrorIs(t, err, creditline.ErrInvalidInput)

	unknown := base
	unknown.TransactionID = "txn_nope"
	_, err = l.HandleNotification(ctx, unknown)
	require.ErrorIs(t, err, creditline.ErrTransactionNotFound)

	wrongOwner := base
	wrongOwner.TransactionID = top.Transaction.ID.String()
	wrongOwner.AccountID = other.ID.String()
	_, err = l.HandleNotification(ctx, wrongOwner)
	require.ErrorIs(t, err, creditline.ErrTransactionMismatch)

	require.Equal(t, int64(0), balanceOf(t, l, a))
	require.Equal(t, int64(0), balanceOf(t, l, other))
}
