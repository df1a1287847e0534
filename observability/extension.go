// Package observability provides a metrics extension for creditline that
// records lifecycle event counts through a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/creditline/account"
	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/id"
	"github.com/xraph/creditline/payment"
	"github.com/xraph/creditline/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                 = (*MetricsExtension)(nil)
	_ plugin.OnAccountCreated       = (*MetricsExtension)(nil)
	_ plugin.OnChatCreated          = (*MetricsExtension)(nil)
	_ plugin.OnChatDeleted          = (*MetricsExtension)(nil)
	_ plugin.OnTurnAdmitted         = (*MetricsExtension)(nil)
	_ plugin.OnTurnRejected         = (*MetricsExtension)(nil)
	_ plugin.OnTurnFailed           = (*MetricsExtension)(nil)
	_ plugin.OnTurnSettled          = (*MetricsExtension)(nil)
	_ plugin.OnTurnUnbilled         = (*MetricsExtension)(nil)
	_ plugin.OnSweepCompleted       = (*MetricsExtension)(nil)
	_ plugin.OnTopUpStarted         = (*MetricsExtension)(nil)
	_ plugin.OnTransactionSettled   = (*MetricsExtension)(nil)
	_ plugin.OnNotificationRejected = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a plugin to track admission, billing and payments.
type MetricsExtension struct {
	factory MetricFactory

	// Account metrics
	AccountsOpened Counter
	ChatsCreated   Counter
	ChatsDeleted   Counter

	// Turn metrics
	TurnsAdmitted  Counter
	TurnsRejected  Counter
	TurnsFailed    Counter
	TurnsSettled   Counter
	TurnsUnbilled  Counter
	CreditsCharged Counter
	TextTurns      Counter
	ImageTurns     Counter
	SweepBilled    Counter
	SweepRemaining Histogram
	SweepLatency   Histogram

	// Payment metrics
	TopUpsStarted         Counter
	TransactionsSettled   Counter
	CreditsPurchased      Counter
	NotificationsRejected Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		AccountsOpened: factory.Counter("creditline.account.opened"),
		ChatsCreated:   factory.Counter("creditline.chat.created"),
		ChatsDeleted:   factory.Counter("creditline.chat.deleted"),

		TurnsAdmitted:  factory.Counter("creditline.turn.admitted"),
		TurnsRejected:  factory.Counter("creditline.turn.rejected"),
		TurnsFailed:    factory.Counter("creditline.turn.failed"),
		TurnsSettled:   factory.Counter("creditline.turn.settled"),
		TurnsUnbilled:  factory.Counter("creditline.turn.unbilled"),
		CreditsCharged: factory.Counter("creditline.credits.charged"),
		TextTurns:      factory.Counter("creditline.turn.text"),
		ImageTurns:     factory.Counter("creditline.turn.image"),
		SweepBilled:    factory.Counter("creditline.sweep.billed"),
		SweepRemaining: factory.Histogram("creditline.sweep.remaining"),
		SweepLatency:   factory.Histogram("creditline.sweep.latency_ms"),

		TopUpsStarted:         factory.Counter("creditline.topup.started"),
		TransactionsSettled:   factory.Counter("creditline.transaction.settled"),
		CreditsPurchased:      factory.Counter("creditline.credits.purchased"),
		NotificationsRejected: factory.Counter("creditline.notification.rejected"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ──────────────────────────────────────────────────
// Account and conversation hooks
// ──────────────────────────────────────────────────

// OnAccountCreated implements plugin.OnAccountCreated.
func (m *MetricsExtension) OnAccountCreated(_ context.Context, _ *account.Account) error {
	m.AccountsOpened.Inc()
	return nil
}

// OnChatCreated implements plugin.OnChatCreated.
func (m *MetricsExtension) OnChatCreated(_ context.Context, _ *conversation.Chat) error {
	m.ChatsCreated.Inc()
	return nil
}

// OnChatDeleted implements plugin.OnChatDeleted.
func (m *MetricsExtension) OnChatDeleted(_ context.Context, _ id.AccountID, _ id.ChatID) error {
	m.ChatsDeleted.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Turn hooks
// ──────────────────────────────────────────────────

// OnTurnAdmitted implements plugin.OnTurnAdmitted.
func (m *MetricsExtension) OnTurnAdmitted(_ context.Context, _ id.AccountID, kind conversation.Kind, _ int64) error {
	m.TurnsAdmitted.Inc()
	if kind == conversation.KindImage {
		m.ImageTurns.Inc()
	} else {
		m.TextTurns.Inc()
	}
	return nil
}

// OnTurnRejected implements plugin.OnTurnRejected.
func (m *MetricsExtension) OnTurnRejected(_ context.Context, _ id.AccountID, _ conversation.Kind, _, _ int64) error {
	m.TurnsRejected.Inc()
	return nil
}

// OnTurnFailed implements plugin.OnTurnFailed.
func (m *MetricsExtension) OnTurnFailed(_ context.Context, _ id.AccountID, _ conversation.Kind, _ error) error {
	m.TurnsFailed.Inc()
	return nil
}

// OnTurnSettled implements plugin.OnTurnSettled.
func (m *MetricsExtension) OnTurnSettled(_ context.Context, t *conversation.Turn, _ int64) error {
	m.TurnsSettled.Inc()
	m.CreditsCharged.Add(float64(t.Cost))
	return nil
}

// OnTurnUnbilled implements plugin.OnTurnUnbilled.
func (m *MetricsExtension) OnTurnUnbilled(_ context.Context, _ *conversation.Turn, _ error) error {
	m.TurnsUnbilled.Inc()
	return nil
}

// OnSweepCompleted implements plugin.OnSweepCompleted.
func (m *MetricsExtension) OnSweepCompleted(_ context.Context, billed, remaining int, elapsed time.Duration) error {
	m.SweepBilled.Add(float64(billed))
	m.SweepRemaining.Observe(float64(remaining))
	m.SweepLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnTopUpStarted implements plugin.OnTopUpStarted.
func (m *MetricsExtension) OnTopUpStarted(_ context.Context, _ *payment.Transaction) error {
	m.TopUpsStarted.Inc()
	return nil
}

// OnTransactionSettled implements plugin.OnTransactionSettled.
func (m *MetricsExtension) OnTransactionSettled(_ context.Context, s *payment.Settlement) error {
	m.TransactionsSettled.Inc()
	m.CreditsPurchased.Add(float64(s.Transaction.Credits))
	return nil
}

// OnNotificationRejected implements plugin.OnNotificationRejected.
func (m *MetricsExtension) OnNotificationRejected(_ context.Context, _ error) error {
	m.NotificationsRejected.Inc()
	return nil
}
