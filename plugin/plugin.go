// Package plugin provides an extensible plugin system for creditline.
// Plugins hook into account, turn and payment lifecycle events. Hooks are
// notifications only: they run after the state change and cannot veto it.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/creditline/account"
	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/id"
	"github.com/xraph/creditline/payment"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. l is the *creditline.Ledger.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l any) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Account and chat hooks
// ──────────────────────────────────────────────────

// OnAccountCreated is called after an account is opened.
type OnAccountCreated interface {
	Plugin
	OnAccountCreated(ctx context.Context, a *account.Account) error
}

// OnChatCreated is called after a chat is created.
type OnChatCreated interface {
	Plugin
	OnChatCreated(ctx context.Context, c *conversation.Chat) error
}

// OnChatDeleted is called after a chat and its turns are removed.
type OnChatDeleted interface {
	Plugin
	OnChatDeleted(ctx context.Context, accountID id.AccountID, chatID id.ChatID) error
}

// ──────────────────────────────────────────────────
// Turn hooks
// ──────────────────────────────────────────────────

// OnTurnAdmitted is called when a submission passes the balance check.
type OnTurnAdmitted interface {
	Plugin
	OnTurnAdmitted(ctx context.Context, accountID id.AccountID, kind conversation.Kind, cost int64) error
}

// OnTurnRejected is called when a submission is refused for lack of credit.
type OnTurnRejected interface {
	Plugin
	OnTurnRejected(ctx context.Context, accountID id.AccountID, kind conversation.Kind, cost, balance int64) error
}

// OnTurnFailed is called when generation or the append fails. Nothing was
// stored or charged.
type OnTurnFailed interface {
	Plugin
	OnTurnFailed(ctx context.Context, accountID id.AccountID, kind conversation.Kind, err error) error
}

// OnTurnSettled is called once a turn is stored and charged.
type OnTurnSettled interface {
	Plugin
	OnTurnSettled(ctx context.Context, t *conversation.Turn, balance int64) error
}

// OnTurnUnbilled is called when a turn was stored but its charge could not
// be applied.
type OnTurnUnbilled interface {
	Plugin
	OnTurnUnbilled(ctx context.Context, t *conversation.Turn, err error) error
}

// OnSweepCompleted is called after each pass of the unbilled-turn sweeper.
type OnSweepCompleted interface {
	Plugin
	OnSweepCompleted(ctx context.Context, billed, remaining int, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnTopUpStarted is called after a pending transaction is recorded.
type OnTopUpStarted interface {
	Plugin
	OnTopUpStarted(ctx context.Context, t *payment.Transaction) error
}

// OnTransactionSettled is called after a settlement credited an account.
// Replayed settlements do not fire it.
type OnTransactionSettled interface {
	Plugin
	OnTransactionSettled(ctx context.Context, s *payment.Settlement) error
}

// OnNotificationRejected is called when a processor notification fails
// authentication or decoding.
type OnNotificationRejected interface {
	Plugin
	OnNotificationRejected(ctx context.Context, err error) error
}
