package creditline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/xraph/creditline/account"
	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/gateway"
	"github.com/xraph/creditline/id"
	"github.com/xraph/creditline/payment"
	"github.com/xraph/creditline/plan"
	"github.com/xraph/creditline/plugin"
	"github.com/xraph/creditline/publication"
	"github.com/xraph/creditline/store"
	"github.com/xraph/creditline/types"
	"github.com/xraph/creditline/webhook"
)

// Defaults applied by New.
const (
	DefaultInitialCredits    = 20
	DefaultGenerationTimeout = 60 * time.Second
	DefaultSweepInterval     = time.Minute
	DefaultSweepBatchSize    = 100
	DefaultAppID             = "creditline"
)

// Ledger is the credit-metered turn engine. It owns admission, charging,
// settlement and the background sweeper; persistence is delegated to a
// store.Store.
type Ledger struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	catalog  *plan.Catalog
	gateway  gateway.Generator
	verifier *webhook.Verifier
	cache    publication.Cache
	validate *validator.Validate

	// Background workers
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	// Sweeper position, guarded by sweepMu.
	sweepMu     sync.Mutex
	sweepCursor conversation.Cursor

	// Configuration
	costs             CostTable
	generationTimeout time.Duration
	initialCredits    int64
	appID             string
	sweepInterval     time.Duration
	sweepBatchSize    int
}

// New creates a new Ledger instance.
func New(s store.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:             s,
		plugins:           plugin.NewRegistry(),
		logger:            slog.Default(),
		catalog:           plan.DefaultCatalog(),
		validate:          validator.New(validator.WithRequiredStructEnabled()),
		stopChan:          make(chan struct{}),
		costs:             DefaultCostTable(),
		generationTimeout: DefaultGenerationTimeout,
		initialCredits:    DefaultInitialCredits,
		appID:             DefaultAppID,
		sweepInterval:     DefaultSweepInterval,
		sweepBatchSize:    DefaultSweepBatchSize,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Option configures a Ledger instance.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
		l.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(l *Ledger) {
		_ = l.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithCatalog replaces the plan catalog.
func WithCatalog(c *plan.Catalog) Option {
	return func(l *Ledger) { l.catalog = c }
}

// WithGateway sets the generator used by SubmitTurn.
func WithGateway(g gateway.Generator) Option {
	return func(l *Ledger) { l.gateway = g }
}

// WithWebhookSecret enables Reconcile with the processor's signing secret.
func WithWebhookSecret(secret string, opts ...webhook.VerifierOption) Option {
	return func(l *Ledger) { l.verifier = webhook.NewVerifier(secret, opts...) }
}

// WithPublicationCache caches published-image listings.
func WithPublicationCache(c publication.Cache) Option {
	return func(l *Ledger) { l.cache = c }
}

// WithInitialCredits sets the balance granted to newly opened accounts.
func WithInitialCredits(n int64) Option {
	return func(l *Ledger) { l.initialCredits = n }
}

// WithAppID sets the application tag expected on payment notifications.
func WithAppID(appID string) Option {
	return func(l *Ledger) { l.appID = appID }
}

// Start migrates the store, initializes plugins and starts the sweeper.
// Calling it again while running does nothing; a stopped Ledger cannot be
// restarted and returns ErrLedgerStopped.
func (l *Ledger) Start(ctx context.Context) error {
	l.lifecycleMu.Lock()
	defer l.lifecycleMu.Unlock()

	switch {
	case l.stopped:
		return ErrLedgerStopped
	case l.started:
		return nil
	}

	if err := l.store.Migrate(ctx); err != nil {
		return err
	}
	l.started = true

	l.plugins.EmitInit(ctx, l)

	if l.sweepInterval > 0 {
		l.wg.Add(1)
		go l.sweepWorker(context.WithoutCancel(ctx))
	}

	l.logger.Info("creditline started",
		"sweep_interval", l.sweepInterval,
		"sweep_batch_size", l.sweepBatchSize,
		"generation_timeout", l.generationTimeout,
		"plugins", l.plugins.Count(),
	)

	return nil
}

// Stop halts background workers, notifies plugins and closes the store.
func (l *Ledger) Stop() error {
	l.lifecycleMu.Lock()
	l.stopped = true
	l.lifecycleMu.Unlock()

	l.stopOnce.Do(func() { close(l.stopChan) })
	l.wg.Wait()

	ctx := context.Background()
	l.plugins.EmitShutdown(ctx)

	return l.store.Close()
}

// Store returns the underlying store.
func (l *Ledger) Store() store.Store { return l.store }

// Plugins returns the plugin registry.
func (l *Ledger) Plugins() *plugin.Registry { return l.plugins }

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

// OpenAccount returns the account, creating it with the initial grant on
// first use. Calling it again never grants twice.
func (l *Ledger) OpenAccount(ctx context.Context, accountID id.AccountID, name string) (*account.Account, error) {
	if accountID.IsNil() {
		return nil, ValidationError{Field: "account_id", Message: "required"}
	}

	existing, err := l.store.GetAccount(ctx, accountID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, persistErr("get account", err)
	}

	a := &account.Account{
		Entity:  types.NewEntity(),
		ID:      accountID,
		Name:    name,
		Balance: l.initialCredits,
	}
	if err := l.store.CreateAccount(ctx, a); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return l.GetAccount(ctx, accountID)
		}
		return nil, persistErr("create account", err)
	}

	l.logger.Info("account opened",
		"account_id", a.ID.String(),
		"initial_credits", a.Balance,
	)
	l.plugins.EmitAccountCreated(ctx, a)
	return a, nil
}

// GetAccount retrieves an account.
func (l *Ledger) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	a, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, persistErr("get account", err)
	}
	return a, nil
}

// Balance returns the account's current credit balance.
func (l *Ledger) Balance(ctx context.Context, accountID id.AccountID) (int64, error) {
	a, err := l.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return a.Balance, nil
}

// ──────────────────────────────────────────────────
// Ledger operations
// ──────────────────────────────────────────────────

// Reserve is the read-only admission check. It succeeds when the balance
// covers amount at the moment of the call and holds nothing.
func (l *Ledger) Reserve(ctx context.Context, accountID id.AccountID, amount int64) error {
	balance, err := l.Balance(ctx, accountID)
	if err != nil {
		return err
	}
	if balance < amount {
		return ErrInsufficientBalance
	}
	return nil
}

// TryDebit decrements the balance by amount only if it covers it, in one
// indivisible step, and returns the new balance.
func (l *Ledger) TryDebit(ctx context.Context, accountID id.AccountID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ValidationError{Field: "amount", Message: "must be positive"}
	}
	balance, err := l.store.Debit(ctx, accountID, amount)
	if err != nil {
		return balance, persistErr("debit", err)
	}
	return balance, nil
}

// SettleResult reports a settlement. AlreadySettled is true when the
// transaction had been settled before this call; the balance is unchanged.
type SettleResult struct {
	Transaction    *payment.Transaction
	Balance        int64
	AlreadySettled bool
}

// Settle credits a pending transaction exactly once. accountID and credits
// must agree with the stored transaction. A settled transaction is reported
// with AlreadySettled and is not credited again.
func (l *Ledger) Settle(ctx context.Context, txnID id.TransactionID, accountID id.AccountID, credits int64) (*SettleResult, error) {
	txn, err := l.store.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, persistErr("get transaction", err)
	}
	if txn.AccountID.String() != accountID.String() || txn.Credits != credits {
		l.logger.Warn("settlement does not match transaction",
			"transaction_id", txnID.String(),
			"account_id", accountID.String(),
			"credits", credits,
		)
		return nil, ErrTransactionMismatch
	}

	s, err := l.store.SettleTransaction(ctx, txnID)
	if err != nil {
		return nil, persistErr("settle transaction", err)
	}

	if s.AlreadySettled {
		l.logger.Info("transaction already settled",
			"transaction_id", txnID.String(),
		)
	} else {
		l.logger.Info("transaction settled",
			"transaction_id", txnID.String(),
			"account_id", accountID.String(),
			"credits", credits,
			"balance", s.Balance,
		)
		l.plugins.EmitTransactionSettled(ctx, s)
	}

	return &SettleResult{
		Transaction:    s.Transaction,
		Balance:        s.Balance,
		AlreadySettled: s.AlreadySettled,
	}, nil
}

// ──────────────────────────────────────────────────
// Plans and top-ups
// ──────────────────────────────────────────────────

// Plans returns the credit packs on offer.
func (l *Ledger) Plans() []plan.Plan {
	return l.catalog.List()
}

// TopUp is a started purchase. Metadata must be attached to the processor's
// checkout session so its notifications can be reconciled.
type TopUp struct {
	Transaction *payment.Transaction `json:"transaction"`
	Metadata    map[string]string    `json:"metadata"`
}

// BeginTopUp records a pending transaction for the plan. Credits arrive
// only when a payment notification settles it.
func (l *Ledger) BeginTopUp(ctx context.Context, accountID id.AccountID, planID string) (*TopUp, error) {
	p, err := l.catalog.Find(planID)
	if err != nil {
		return nil, ErrPlanNotFound
	}

	txn := &payment.Transaction{
		Entity:    types.NewEntity(),
		ID:        id.NewTransactionID(),
		AccountID: accountID,
		PlanID:    p.ID,
		Amount:    p.Price,
		Credits:   p.Credits,
		Status:    payment.StatusPending,
	}
	if err := l.store.CreateTransaction(ctx, txn); err != nil {
		return nil, persistErr("create transaction", err)
	}

	l.logger.Info("top-up started",
		"transaction_id", txn.ID.String(),
		"account_id", accountID.String(),
		"plan_id", p.ID,
		"amount", p.Price.String(),
	)
	l.plugins.EmitTopUpStarted(ctx, txn)

	return &TopUp{
		Transaction: txn,
		Metadata: map[string]string{
			webhook.MetadataTransactionID: txn.ID.String(),
			webhook.MetadataAccountID:     accountID.String(),
			webhook.MetadataPlanID:        p.ID,
			webhook.MetadataAppID:         l.appID,
		},
	}, nil
}

// GetTransaction retrieves a transaction.
func (l *Ledger) GetTransaction(ctx context.Context, txnID id.TransactionID) (*payment.Transaction, error) {
	t, err := l.store.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, persistErr("get transaction", err)
	}
	return t, nil
}

// ListTransactions lists an account's transactions, newest first.
func (l *Ledger) ListTransactions(ctx context.Context, accountID id.AccountID, opts payment.ListOpts) ([]*payment.Transaction, error) {
	list, err := l.store.ListTransactions(ctx, accountID, opts)
	if err != nil {
		return nil, persistErr("list transactions", err)
	}
	return list, nil
}
