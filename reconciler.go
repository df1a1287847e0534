package creditline

import (
	"context"
	"fmt"

	"github.com/xraph/creditline/id"
	"github.com/xraph/creditline/payment"
	"github.com/xraph/creditline/webhook"
)

// Outcome is what reconciling one notification did.
type Outcome string

const (
	OutcomeSettled        Outcome = "settled"
	OutcomeAlreadySettled Outcome = "already_settled"
	OutcomePending        Outcome = "pending"
	OutcomeFailed         Outcome = "failed"
	OutcomeIgnored        Outcome = "ignored"
)

// ReconcileResult reports a handled notification.
type ReconcileResult struct {
	Outcome      Outcome              `json:"outcome"`
	Notification payment.Notification `json:"notification"`
	Settlement   *SettleResult        `json:"settlement,omitempty"`
}

// Reconcile authenticates a raw processor notification and applies it.
// Unauthenticated payloads fail with ErrAuthenticationFailed and change
// nothing. Duplicate deliveries settle once and report
// OutcomeAlreadySettled afterwards.
func (l *Ledger) Reconcile(ctx context.Context, payload []byte, signature string) (*ReconcileResult, error) {
	if l.verifier == nil {
		return nil, fmt.Errorf("%w: no webhook secret configured", ErrAuthenticationFailed)
	}

	if err := l.verifier.Verify(payload, signature); err != nil {
		err = fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
		l.logger.Warn("payment notification rejected", "error", err)
		l.plugins.EmitNotificationRejected(ctx, err)
		return nil, err
	}

	n, err := webhook.Parse(payload)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalidInput, err)
		l.logger.Warn("payment notification undecodable", "error", err)
		l.plugins.EmitNotificationRejected(ctx, err)
		return nil, err
	}

	return l.HandleNotification(ctx, n)
}

// HandleNotification applies an already authenticated notification.
func (l *Ledger) HandleNotification(ctx context.Context, n payment.Notification) (*ReconcileResult, error) {
	result := &ReconcileResult{Notification: n}

	switch n.Status {
	case payment.NotificationSucceeded, payment.NotificationPending, payment.NotificationFailed:
	default:
		l.logger.Debug("payment notification ignored",
			"event_id", n.EventID,
			"type", n.Type,
		)
		result.Outcome = OutcomeIgnored
		return result, nil
	}

	if n.AppID != l.appID {
		l.logger.Info("payment notification for another app ignored",
			"event_id", n.EventID,
			"app_id", n.AppID,
		)
		result.Outcome = OutcomeIgnored
		return result, nil
	}

	if n.TransactionID == "" {
		return nil, ValidationError{Field: "transaction_id", Message: "missing from notification"}
	}
	txnID, err := id.ParseTransactionID(n.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrTransactionNotFound, n.TransactionID)
	}
	txn, err := l.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if n.AccountID != "" && n.AccountID != txn.AccountID.String() {
		return nil, ErrTransactionMismatch
	}

	switch n.Status {
	case payment.NotificationPending:
		l.logger.Info("payment not completed yet",
			"event_id", n.EventID,
			"transaction_id", n.TransactionID,
		)
		result.Outcome = OutcomePending
		return result, nil

	case payment.NotificationFailed:
		l.logger.Warn("payment failed",
			"event_id", n.EventID,
			"type", n.Type,
			"transaction_id", n.TransactionID,
		)
		result.Outcome = OutcomeFailed
		return result, nil
	}

	s, err := l.Settle(ctx, txn.ID, txn.AccountID, txn.Credits)
	if err != nil {
		return nil, err
	}
	result.Settlement = s
	result.Outcome = OutcomeSettled
	if s.AlreadySettled {
		result.Outcome = OutcomeAlreadySettled
	}
	return result, nil
}
