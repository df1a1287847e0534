package webhook_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/creditline/payment"
	"github.com/xraph/creditline/webhook"
)

func TestVerify(t *testing.T) {
	now := time.Now()
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	v := webhook.NewVerifier("whsec_test")

	tests := []struct {
		name   string
		header string
		want   error
	}{
		{"valid", webhook.Sign(payload, "whsec_test", now), nil},
		{"within tolerance", webhook.Sign(payload, "whsec_test", now.Add(-4*time.Minute)), nil},
		{"wrong secret", webhook.Sign(payload, "other", now), webhook.ErrSignatureMismatch},
		{"expired", webhook.Sign(payload, "whsec_test", now.Add(-10*time.Minute)), webhook.ErrTimestampExpired},
		{"missing", "", webhook.ErrMissingSignature},
		{"garbage", "nonsense", webhook.ErrMalformedHeader},
		{"no v1", fmt.Sprintf("t=%d", now.Unix()), webhook.ErrSignatureMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(payload, tt.header)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestVerifyWithoutTolerance(t *testing.T) {
	payload := []byte(`{}`)
	header := webhook.Sign(payload, "whsec_test", time.Now().Add(-time.Hour))

	require.ErrorIs(t, webhook.NewVerifier("whsec_test").Verify(payload, header), webhook.ErrTimestampExpired)
	require.NoError(t, webhook.NewVerifier("whsec_test", webhook.WithTolerance(0)).Verify(payload, header))
}

func TestVerifyWithoutSecret(t *testing.T) {
	payload := []byte(`{}`)
	err := webhook.NewVerifier("").Verify(payload, webhook.Sign(payload, "", time.Now()))
	require.ErrorIs(t, err, webhook.ErrNoSecret)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	now := time.Now()
	header := webhook.Sign([]byte(`{"amount":1}`), "whsec_test", now)
	err := webhook.NewVerifier("whsec_test").Verify([]byte(`{"amount":9}`), header)
	require.ErrorIs(t, err, webhook.ErrSignatureMismatch)
}

func TestVerifyAcceptsAnyRotatedSignature(t *testing.T) {
	now := time.Now()
	payload := []byte(`{}`)
	good := webhook.Sign(payload, "whsec_new", now)
	_, goodSig, _ := strings.Cut(good, ",v1=")
	header := webhook.Sign(payload, "whsec_old", now) + ",v1=" + goodSig

	require.NoError(t, webhook.NewVerifier("whsec_new").Verify(payload, header))
}

func TestParse(t *testing.T) {
	const meta = `"metadata":{"transactionId":"txn_1","userId":"acct_1","planId":"pro","appId":"creditline"}`

	tests := []struct {
		name    string
		payload string
		want    payment.NotificationStatus
	}{
		{"completed paid", `{"id":"evt_1","type":"checkout.session.completed","data":{"object":{"id":"cs_1","payment_status":"paid",` + meta + `}}}`, payment.NotificationSucceeded},
		{"completed unpaid", `{"id":"evt_2","type":"checkout.session.completed","data":{"object":{"id":"cs_1","payment_status":"unpaid",` + meta + `}}}`, payment.NotificationPending},
		{"async succeeded", `{"id":"evt_3","type":"checkout.session.async_payment_succeeded","data":{"object":{"id":"cs_1",` + meta + `}}}`, payment.NotificationSucceeded},
		{"async failed", `{"id":"evt_4","type":"checkout.session.async_payment_failed","data":{"object":{"id":"cs_1",` + meta + `}}}`, payment.NotificationFailed},
		{"expired", `{"id":"evt_5","type":"checkout.session.expired","data":{"object":{"id":"cs_1",` + meta + `}}}`, payment.NotificationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := webhook.Parse([]byte(tt.payload))
			require.NoError(t, err)
			require.Equal(t, tt.want, n.Status)
			require.Equal(t, "txn_1", n.TransactionID)
			require.Equal(t, "acct_1", n.AccountID)
			require.Equal(t, "pro", n.PlanID)
			require.Equal(t, "creditline", n.AppID)
		})
	}
}

func TestParseUnhandledType(t *testing.T) {
	n, err := webhook.Parse([]byte(`{"id":"evt_9","type":"payment_intent.succeeded","data":{"object":{}}}`))
	require.NoError(t, err)
	require.Equal(t, "payment_intent.succeeded", n.Type)
	require.Empty(t, n.Status)
}

func TestParseMalformed(t *testing.T) {
	_, err := webhook.Parse([]byte(`not json`))
	require.ErrorIs(t, err, webhook.ErrMalformedEvent)

	_, err = webhook.Parse([]byte(`{"id":"evt_1"}`))
	require.ErrorIs(t, err, webhook.ErrMalformedEvent)

	_, err = webhook.Parse([]byte(`{"id":"evt_2","type":"checkout.session.completed"}`))
	require.ErrorIs(t, err, webhook.ErrMalformedEvent)
}
