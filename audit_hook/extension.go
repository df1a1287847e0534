// Package audithook bridges creditline lifecycle events to an audit trail
// backend.
//
// It defines a local Recorder interface so the package carries no audit
// backend dependency. Callers inject a RecorderFunc adapter at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/creditline/account"
	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/id"
	"github.com/xraph/creditline/payment"
	"github.com/xraph/creditline/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnAccountCreated       = (*Extension)(nil)
	_ plugin.OnChatCreated          = (*Extension)(nil)
	_ plugin.OnChatDeleted          = (*Extension)(nil)
	_ plugin.OnTurnRejected         = (*Extension)(nil)
	_ plugin.OnTurnFailed           = (*Extension)(nil)
	_ plugin.OnTurnSettled          = (*Extension)(nil)
	_ plugin.OnTurnUnbilled         = (*Extension)(nil)
	_ plugin.OnTopUpStarted         = (*Extension)(nil)
	_ plugin.OnTransactionSettled   = (*Extension)(nil)
	_ plugin.OnNotificationRejected = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges creditline lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Account and conversation hooks
// ──────────────────────────────────────────────────

// OnAccountCreated implements plugin.OnAccountCreated.
func (e *Extension) OnAccountCreated(ctx context.Context, a *account.Account) error {
	return e.record(ctx, ActionAccountOpened, SeverityInfo, OutcomeSuccess,
		ResourceAccount, a.ID.String(), CategoryAccess, nil,
		"initial_credits", a.Balance,
	)
}

// OnChatCreated implements plugin.OnChatCreated.
func (e *Extension) OnChatCreated(ctx context.Context, c *conversation.Chat) error {
	return e.record(ctx, ActionChatCreated, SeverityInfo, OutcomeSuccess,
		ResourceChat, c.ID.String(), CategoryConversation, nil,
		"account_id", c.AccountID.String(),
	)
}

// OnChatDeleted implements plugin.OnChatDeleted.
func (e *Extension) OnChatDeleted(ctx context.Context, accountID id.AccountID, chatID id.ChatID) error {
	return e.record(ctx, ActionChatDeleted, SeverityInfo, OutcomeSuccess,
		ResourceChat, chatID.String(), CategoryConversation, nil,
		"account_id", accountID.String(),
	)
}

// ──────────────────────────────────────────────────
// Turn hooks
// ──────────────────────────────────────────────────

// OnTurnRejected implements plugin.OnTurnRejected.
func (e *Extension) OnTurnRejected(ctx context.Context, accountID id.AccountID, kind conversation.Kind, cost, balance int64) error {
	return e.record(ctx, ActionTurnRejected, SeverityInfo, OutcomeFailure,
		ResourceTurn, "", CategoryBilling, nil,
		"account_id", accountID.String(),
		"kind", string(kind),
		"cost", cost,
		"balance", balance,
	)
}

// OnTurnFailed implements plugin.OnTurnFailed.
func (e *Extension) OnTurnFailed(ctx context.Context, accountID id.AccountID, kind conversation.Kind, err error) error {
	return e.record(ctx, ActionTurnFailed, SeverityWarning, OutcomeFailure,
		ResourceTurn, "", CategoryIntegration, err,
		"account_id", accountID.String(),
		"kind", string(kind),
	)
}

// OnTurnSettled implements plugin.OnTurnSettled.
func (e *Extension) OnTurnSettled(ctx context.Context, t *conversation.Turn, balance int64) error {
	return e.record(ctx, ActionTurnSettled, SeverityInfo, OutcomeSuccess,
		ResourceTurn, t.ID.String(), CategoryBilling, nil,
		"account_id", t.AccountID.String(),
		"cost", t.Cost,
		"balance", balance,
	)
}

// OnTurnUnbilled implements plugin.OnTurnUnbilled. A delivered turn that
// could not be charged is revenue at risk, so it is recorded as critical.
func (e *Extension) OnTurnUnbilled(ctx context.Context, t *conversation.Turn, err error) error {
	return e.record(ctx, ActionTurnUnbilled, SeverityCritical, OutcomePartial,
		ResourceTurn, t.ID.String(), CategoryBilling, err,
		"account_id", t.AccountID.String(),
		"cost", t.Cost,
	)
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnTopUpStarted implements plugin.OnTopUpStarted.
func (e *Extension) OnTopUpStarted(ctx context.Context, t *payment.Transaction) error {
	return e.record(ctx, ActionTopUpStarted, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, t.ID.String(), CategoryPayment, nil,
		"account_id", t.AccountID.String(),
		"plan_id", t.PlanID,
		"amount", t.Amount.String(),
	)
}

// OnTransactionSettled implements plugin.OnTransactionSettled.
func (e *Extension) OnTransactionSettled(ctx context.Context, s *payment.Settlement) error {
	return e.record(ctx, ActionTransactionSettled, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, s.Transaction.ID.String(), CategoryPayment, nil,
		"account_id", s.Transaction.AccountID.String(),
		"credits", s.Transaction.Credits,
		"balance", s.Balance,
	)
}

// OnNotificationRejected implements plugin.OnNotificationRejected.
func (e *Extension) OnNotificationRejected(ctx context.Context, err error) error {
	return e.record(ctx, ActionNotificationRejected, SeverityWarning, OutcomeFailure,
		ResourceNotification, "", CategoryIntegration, err,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
