package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/creditline/account"
	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/id"
	"github.com/xraph/creditline/payment"
)

// DefaultHookTimeout bounds a single hook call.
const DefaultHookTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery so emission never type-asserts.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                 []OnInit
	onShutdown             []OnShutdown
	onAccountCreated       []OnAccountCreated
	onChatCreated          []OnChatCreated
	onChatDeleted          []OnChatDeleted
	onTurnAdmitted         []OnTurnAdmitted
	onTurnRejected         []OnTurnRejected
	onTurnFailed           []OnTurnFailed
	onTurnSettled          []OnTurnSettled
	onTurnUnbilled         []OnTurnUnbilled
	onSweepCompleted       []OnSweepCompleted
	onTopUpStarted         []OnTopUpStarted
	onTransactionSettled   []OnTransactionSettled
	onNotificationRejected []OnNotificationRejected
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	r.timeout = d
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnAccountCreated); ok {
		r.onAccountCreated = append(r.onAccountCreated, v)
	}
	if v, ok := p.(OnChatCreated); ok {
		r.onChatCreated = append(r.onChatCreated, v)
	}
	if v, ok := p.(OnChatDeleted); ok {
		r.onChatDeleted = append(r.onChatDeleted, v)
	}
	if v, ok := p.(OnTurnAdmitted); ok {
		r.onTurnAdmitted = append(r.onTurnAdmitted, v)
	}
	if v, ok := p.(OnTurnRejected); ok {
		r.onTurnRejected = append(r.onTurnRejected, v)
	}
	if v, ok := p.(OnTurnFailed); ok {
		r.onTurnFailed = append(r.onTurnFailed, v)
	}
	if v, ok := p.(OnTurnSettled); ok {
		r.onTurnSettled = append(r.onTurnSettled, v)
	}
	if v, ok := p.(OnTurnUnbilled); ok {
		r.onTurnUnbilled = append(r.onTurnUnbilled, v)
	}
	if v, ok := p.(OnSweepCompleted); ok {
		r.onSweepCompleted = append(r.onSweepCompleted, v)
	}
	if v, ok := p.(OnTopUpStarted); ok {
		r.onTopUpStarted = append(r.onTopUpStarted, v)
	}
	if v, ok := p.(OnTransactionSettled); ok {
		r.onTransactionSettled = append(r.onTransactionSettled, v)
	}
	if v, ok := p.(OnNotificationRejected); ok {
		r.onNotificationRejected = append(r.onNotificationRejected, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeFor[OnInit]()},
	{"OnShutdown", reflect.TypeFor[OnShutdown]()},
	{"OnAccountCreated", reflect.TypeFor[OnAccountCreated]()},
	{"OnChatCreated", reflect.TypeFor[OnChatCreated]()},
	{"OnChatDeleted", reflect.TypeFor[OnChatDeleted]()},
	{"OnTurnAdmitted", reflect.TypeFor[OnTurnAdmitted]()},
	{"OnTurnRejected", reflect.TypeFor[OnTurnRejected]()},
	{"OnTurnFailed", reflect.TypeFor[OnTurnFailed]()},
	{"OnTurnSettled", reflect.TypeFor[OnTurnSettled]()},
	{"OnTurnUnbilled", reflect.TypeFor[OnTurnUnbilled]()},
	{"OnSweepCompleted", reflect.TypeFor[OnSweepCompleted]()},
	{"OnTopUpStarted", reflect.TypeFor[OnTopUpStarted]()},
	{"OnTransactionSettled", reflect.TypeFor[OnTransactionSettled]()},
	{"OnNotificationRejected", reflect.TypeFor[OnNotificationRejected]()},
}

// implementedInterfaces lists the hooks p implements.
func implementedInterfaces(p Plugin) []string {
	v := reflect.TypeOf(p)
	var names []string
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for every plugin in the snapshot taken by list. Failures
// are logged and never propagate.
func emit[T Plugin](r *Registry, ctx context.Context, hook string, list func() []T, fn func(T) error) {
	r.mu.RLock()
	plugins := list()
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return fn(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, l any) {
	emit(r, ctx, "OnInit", func() []OnInit { return r.onInit }, func(p OnInit) error {
		return p.OnInit(ctx, l)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, ctx, "OnShutdown", func() []OnShutdown { return r.onShutdown }, func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitAccountCreated emits an account created event.
func (r *Registry) EmitAccountCreated(ctx context.Context, a *account.Account) {
	emit(r, ctx, "OnAccountCreated", func() []OnAccountCreated { return r.onAccountCreated }, func(p OnAccountCreated) error {
		return p.OnAccountCreated(ctx, a)
	})
}

// EmitChatCreated emits a chat created event.
func (r *Registry) EmitChatCreated(ctx context.Context, c *conversation.Chat) {
	emit(r, ctx, "OnChatCreated", func() []OnChatCreated { return r.onChatCreated }, func(p OnChatCreated) error {
		return p.OnChatCreated(ctx, c)
	})
}

// EmitChatDeleted emits a chat deleted event.
func (r *Registry) EmitChatDeleted(ctx context.Context, accountID id.AccountID, chatID id.ChatID) {
	emit(r, ctx, "OnChatDeleted", func() []OnChatDeleted { return r.onChatDeleted }, func(p OnChatDeleted) error {
		return p.OnChatDeleted(ctx, accountID, chatID)
	})
}

// EmitTurnAdmitted emits a turn admitted event.
func (r *Registry) EmitTurnAdmitted(ctx context.Context, accountID id.AccountID, kind conversation.Kind, cost int64) {
	emit(r, ctx, "OnTurnAdmitted", func() []OnTurnAdmitted { return r.onTurnAdmitted }, func(p OnTurnAdmitted) error {
		return p.OnTurnAdmitted(ctx, accountID, kind, cost)
	})
}

// EmitTurnRejected emits a turn rejected event.
func (r *Registry) EmitTurnRejected(ctx context.Context, accountID id.AccountID, kind conversation.Kind, cost, balance int64) {
	emit(r, ctx, "OnTurnRejected", func() []OnTurnRejected { return r.onTurnRejected }, func(p OnTurnRejected) error {
		return p.OnTurnRejected(ctx, accountID, kind, cost, balance)
	})
}

// EmitTurnFailed emits a turn failed event.
func (r *Registry) EmitTurnFailed(ctx context.Context, accountID id.AccountID, kind conversation.Kind, cause error) {
	emit(r, ctx, "OnTurnFailed", func() []OnTurnFailed { return r.onTurnFailed }, func(p OnTurnFailed) error {
		return p.OnTurnFailed(ctx, accountID, kind, cause)
	})
}

// EmitTurnSettled emits a turn settled event.
func (r *Registry) EmitTurnSettled(ctx context.Context, t *conversation.Turn, balance int64) {
	emit(r, ctx, "OnTurnSettled", func() []OnTurnSettled { return r.onTurnSettled }, func(p OnTurnSettled) error {
		return p.OnTurnSettled(ctx, t, balance)
	})
}

// EmitTurnUnbilled emits a turn unbilled event.
func (r *Registry) EmitTurnUnbilled(ctx context.Context, t *conversation.Turn, cause error) {
	emit(r, ctx, "OnTurnUnbilled", func() []OnTurnUnbilled { return r.onTurnUnbilled }, func(p OnTurnUnbilled) error {
		return p.OnTurnUnbilled(ctx, t, cause)
	})
}

// EmitSweepCompleted emits a sweep completed event.
func (r *Registry) EmitSweepCompleted(ctx context.Context, billed, remaining int, elapsed time.Duration) {
	emit(r, ctx, "OnSweepCompleted", func() []OnSweepCompleted { return r.onSweepCompleted }, func(p OnSweepCompleted) error {
		return p.OnSweepCompleted(ctx, billed, remaining, elapsed)
	})
}

// EmitTopUpStarted emits a top-up started event.
func (r *Registry) EmitTopUpStarted(ctx context.Context, t *payment.Transaction) {
	emit(r, ctx, "OnTopUpStarted", func() []OnTopUpStarted { return r.onTopUpStarted }, func(p OnTopUpStarted) error {
		return p.OnTopUpStarted(ctx, t)
	})
}

// EmitTransactionSettled emits a transaction settled event.
func (r *Registry) EmitTransactionSettled(ctx context.Context, s *payment.Settlement) {
	emit(r, ctx, "OnTransactionSettled", func() []OnTransactionSettled { return r.onTransactionSettled }, func(p OnTransactionSettled) error {
		return p.OnTransactionSettled(ctx, s)
	})
}

// EmitNotificationRejected emits a notification rejected event.
func (r *Registry) EmitNotificationRejected(ctx context.Context, cause error) {
	emit(r, ctx, "OnNotificationRejected", func() []OnNotificationRejected { return r.onNotificationRejected }, func(p OnNotificationRejected) error {
		return p.OnNotificationRejected(ctx, cause)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the turn pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(r.timeout):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
