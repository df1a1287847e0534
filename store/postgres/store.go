// Package postgres implements store.Store on PostgreSQL through a pgx
// connection pool.
//
// Balance changes are single conditional UPDATE statements or short
// transactions that lock the rows they touch, so the database enforces the
// never-negative invariant alongside the CHECK constraint on the balance.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/creditline"
	"github.com/xraph/creditline/account"
	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/id"
	"github.com/xraph/creditline/payment"
	"github.com/xraph/creditline/publication"
	"github.com/xraph/creditline/store"
	"github.com/xraph/creditline/types"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool for the given connection string and verifies it.
func Connect(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("creditline/postgres: parse config: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creditline/postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creditline/postgres: ping: %w", err)
	}
	return New(pool), nil
}

// Pool returns the underlying pool for direct access.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.migrate(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %w", creditline.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func noRows(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

// ==================== Accounts ====================

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO creditline_accounts (id, name, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		a.ID.String(), a.Name, a.Balance, a.CreatedAt, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return creditline.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	var (
		a   account.Account
		raw string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, balance, created_at, updated_at
		FROM creditline_accounts WHERE id = $1`, accountID.String(),
	).Scan(&raw, &a.Name, &a.Balance, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, noRows(err, creditline.ErrAccountNotFound)
	}
	if a.ID, err = id.ParseAccountID(raw); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) Debit(ctx context.Context, accountID id.AccountID, amount int64) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx, `
		UPDATE creditline_accounts
		SET balance = balance - $2, updated_at = NOW()
		WHERE id = $1 AND balance >= $2
		RETURNING balance`, accountID.String(), amount,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.refusedDebit(ctx, s.pool, accountID)
	}
	return balance, err
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// refusedDebit tells a missing account apart from a short balance after a
// conditional debit matched no row.
func (s *Store) refusedDebit(ctx context.Context, q querier, accountID id.AccountID) (int64, error) {
	var balance int64
	err := q.QueryRow(ctx,
		`SELECT balance FROM creditline_accounts WHERE id = $1`, accountID.String(),
	).Scan(&balance)
	if err != nil {
		return 0, noRows(err, creditline.ErrAccountNotFound)
	}
	return balance, creditline.ErrInsufficientBalance
}

func (s *Store) ChargeTurn(ctx context.Context, turnID id.TurnID) (int64, error) {
	var balance int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			accountID string
			cost      int64
			billed    bool
		)
		err := tx.QueryRow(ctx, `
			SELECT account_id, cost, billed FROM creditline_turns
			WHERE id = $1 FOR UPDATE`, turnID.String(),
		).Scan(&accountID, &cost, &billed)
		if err != nil {
			return noRows(err, creditline.ErrTurnNotFound)
		}

		acct, err := id.ParseAccountID(accountID)
		if err != nil {
			return err
		}
		if billed {
			balance, err = s.refusedDebit(ctx, tx, acct)
			if errors.Is(err, creditline.ErrInsufficientBalance) {
				return creditline.ErrTurnAlreadyBilled
			}
			return err
		}

		err = tx.QueryRow(ctx, `
			UPDATE creditline_accounts
			SET balance = balance - $2, updated_at = NOW()
			WHERE id = $1 AND balance >= $2
			RETURNING balance`, accountID, cost,
		).Scan(&balance)
		if errors.Is(err, pgx.ErrNoRows) {
			balance, err = s.refusedDebit(ctx, tx, acct)
			return err
		}
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE creditline_turns SET billed = TRUE, billed_at = NOW()
			WHERE id = $1`, turnID.String())
		return err
	})
	return balance, err
}

// ==================== Chats ====================

const chatColumns = `id, account_id, name, owner_name, turn_count, created_at, updated_at`

func scanChat(row pgx.Row) (*conversation.Chat, error) {
	var (
		c                 conversation.Chat
		rawID, rawAccount string
	)
	if err := row.Scan(&rawID, &rawAccount, &c.Name, &c.OwnerName, &c.TurnCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if c.ID, err = id.ParseChatID(rawID); err != nil {
		return nil, err
	}
	if c.AccountID, err = id.ParseAccountID(rawAccount); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateChat(ctx context.Context, c *conversation.Chat) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO creditline_chats (`+chatColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID.String(), c.AccountID.String(), c.Name, c.OwnerName, c.TurnCount, c.CreatedAt, c.UpdatedAt,
	)
	switch {
	case isUniqueViolation(err):
		return creditline.ErrAlreadyExists
	case isForeignKeyViolation(err):
		return creditline.ErrAccountNotFound
	}
	return err
}

func (s *Store) GetChat(ctx context.Context, accountID id.AccountID, chatID id.ChatID) (*conversation.Chat, error) {
	c, err := scanChat(s.pool.QueryRow(ctx, `
		SELECT `+chatColumns+` FROM creditline_chats
		WHERE id = $1 AND account_id = $2`, chatID.String(), accountID.String()))
	if err != nil {
		return nil, noRows(err, creditline.ErrChatNotFound)
	}
	return c, nil
}

func (s *Store) ListChats(ctx context.Context, accountID id.AccountID, opts conversation.ListOpts) ([]*conversation.Chat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+chatColumns+` FROM creditline_chats
		WHERE account_id = $1
		ORDER BY updated_at DESC, id DESC
		LIMIT $2 OFFSET $3`, accountID.String(), limitArg(opts.Limit), opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*conversation.Chat, 0)
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *Store) DeleteChat(ctx context.Context, accountID id.AccountID, chatID id.ChatID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM creditline_chats WHERE id = $1 AND account_id = $2`,
		chatID.String(), accountID.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return creditline.ErrChatNotFound
	}
	return nil
}

// ==================== Turns ====================

const turnColumns = `id, chat_id, account_id, seq, kind, prompt, reply, published, cost, billed, billed_at, created_at`

func scanTurn(row pgx.Row) (*conversation.Turn, error) {
	var (
		t                          conversation.Turn
		rawID, rawChat, rawAccount string
		kind                       string
	)
	err := row.Scan(&rawID, &rawChat, &rawAccount, &t.Seq, &kind, &t.Prompt, &t.Reply,
		&t.Published, &t.Cost, &t.Billed, &t.BilledAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Kind = conversation.Kind(kind)
	if t.ID, err = id.ParseTurnID(rawID); err != nil {
		return nil, err
	}
	if t.ChatID, err = id.ParseChatID(rawChat); err != nil {
		return nil, err
	}
	if t.AccountID, err = id.ParseAccountID(rawAccount); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) AppendTurn(ctx context.Context, t *conversation.Turn) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// The row lock on the chat serializes appends to one chat.
		var seq int
		err := tx.QueryRow(ctx, `
			UPDATE creditline_chats
			SET turn_count = turn_count + 1, updated_at = GREATEST(updated_at, $3)
			WHERE id = $1 AND account_id = $2
			RETURNING turn_count`,
			t.ChatID.String(), t.AccountID.String(), t.CreatedAt,
		).Scan(&seq)
		if err != nil {
			return noRows(err, creditline.ErrChatNotFound)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO creditline_turns (`+turnColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			t.ID.String(), t.ChatID.String(), t.AccountID.String(), seq, string(t.Kind),
			t.Prompt, t.Reply, t.Published, t.Cost, t.Billed, t.BilledAt, t.CreatedAt,
		)
		if isUniqueViolation(err) {
			return creditline.ErrAlreadyExists
		}
		if err != nil {
			return err
		}
		t.Seq = seq
		return nil
	})
}

func (s *Store) GetTurn(ctx context.Context, turnID id.TurnID) (*conversation.Turn, error) {
	t, err := scanTurn(s.pool.QueryRow(ctx,
		`SELECT `+turnColumns+` FROM creditline_turns WHERE id = $1`, turnID.String()))
	if err != nil {
		return nil, noRows(err, creditline.ErrTurnNotFound)
	}
	return t, nil
}

func (s *Store) ListTurns(ctx context.Context, accountID id.AccountID, chatID id.ChatID) ([]*conversation.Turn, error) {
	var result []*conversation.Turn
	// A repeatable-read snapshot keeps the ownership check and the log read
	// consistent with each other.
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var owned bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM creditline_chats WHERE id = $1 AND account_id = $2)`,
			chatID.String(), accountID.String(),
		).Scan(&owned); err != nil {
			return err
		}
		if !owned {
			return creditline.ErrChatNotFound
		}

		rows, err := tx.Query(ctx, `
			SELECT `+turnColumns+` FROM creditline_turns
			WHERE chat_id = $1 ORDER BY seq`, chatID.String())
		if err != nil {
			return err
		}
		result, err = collectTurns(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListUnbilledTurns(ctx context.Context, after conversation.Cursor, limit int) ([]*conversation.Turn, error) {
	if after.IsZero() {
		rows, err := s.pool.Query(ctx, `
			SELECT `+turnColumns+` FROM creditline_turns
			WHERE NOT billed
			ORDER BY created_at, id
			LIMIT $1`, limitArg(limit))
		if err != nil {
			return nil, err
		}
		return collectTurns(rows)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+turnColumns+` FROM creditline_turns
		WHERE NOT billed AND (created_at, id) > ($1, $2)
		ORDER BY created_at, id
		LIMIT $3`, after.CreatedAt, after.TurnID.String(), limitArg(limit))
	if err != nil {
		return nil, err
	}
	return collectTurns(rows)
}

func collectTurns(rows pgx.Rows) ([]*conversation.Turn, error) {
	defer rows.Close()
	result := make([]*conversation.Turn, 0)
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// ScanPublished streams published images from the partial index.
func (s *Store) ScanPublished(ctx context.Context, fn func(publication.Entry) error) error {
	rows, err := s.pool.Query(ctx, `
		SELECT t.chat_id, t.id, t.account_id, c.owner_name, t.reply, t.created_at
		FROM creditline_turns t
		JOIN creditline_chats c ON c.id = t.chat_id
		WHERE t.published AND t.kind = 'image'
		ORDER BY t.created_at DESC, t.id DESC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e                         publication.Entry
			rawChat, rawTurn, rawAcct string
		)
		if err := rows.Scan(&rawChat, &rawTurn, &rawAcct, &e.PublisherName, &e.ImageURL, &e.PublishedAt); err != nil {
			return err
		}
		if e.ChatID, err = id.ParseChatID(rawChat); err != nil {
			return err
		}
		if e.TurnID, err = id.ParseTurnID(rawTurn); err != nil {
			return err
		}
		if e.AccountID, err = id.ParseAccountID(rawAcct); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			if errors.Is(err, publication.ErrStop) {
				return nil
			}
			return err
		}
	}
	return rows.Err()
}

// ==================== Transactions ====================

const txnColumns = `id, account_id, plan_id, amount, currency, credits, status, settled_at, created_at, updated_at`

func scanTransaction(row pgx.Row) (*payment.Transaction, error) {
	var (
		t                 payment.Transaction
		rawID, rawAccount string
		amount            int64
		currency, status  string
	)
	err := row.Scan(&rawID, &rawAccount, &t.PlanID, &amount, &currency, &t.Credits,
		&status, &t.SettledAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Amount = types.Money{Amount: amount, Currency: currency}
	t.Status = payment.Status(status)
	if t.ID, err = id.ParseTransactionID(rawID); err != nil {
		return nil, err
	}
	if t.AccountID, err = id.ParseAccountID(rawAccount); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) CreateTransaction(ctx context.Context, t *payment.Transaction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO creditline_transactions (`+txnColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID.String(), t.AccountID.String(), t.PlanID, t.Amount.Amount, t.Amount.Currency,
		t.Credits, string(t.Status), t.SettledAt, t.CreatedAt, t.UpdatedAt,
	)
	switch {
	case isUniqueViolation(err):
		return creditline.ErrAlreadyExists
	case isForeignKeyViolation(err):
		return creditline.ErrAccountNotFound
	}
	return err
}

func (s *Store) GetTransaction(ctx context.Context, txnID id.TransactionID) (*payment.Transaction, error) {
	t, err := scanTransaction(s.pool.QueryRow(ctx,
		`SELECT `+txnColumns+` FROM creditline_transactions WHERE id = $1`, txnID.String()))
	if err != nil {
		return nil, noRows(err, creditline.ErrTransactionNotFound)
	}
	return t, nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID id.AccountID, opts payment.ListOpts) ([]*payment.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+txnColumns+` FROM creditline_transactions
		WHERE account_id = $1 AND ($2::text = '' OR status = $2::text)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		accountID.String(), string(opts.Status), limitArg(opts.Limit), opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*payment.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) SettleTransaction(ctx context.Context, txnID id.TransactionID) (*payment.Settlement, error) {
	var out *payment.Settlement
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		t, err := scanTransaction(tx.QueryRow(ctx, `
			SELECT `+txnColumns+` FROM creditline_transactions
			WHERE id = $1 FOR UPDATE`, txnID.String()))
		if err != nil {
			return noRows(err, creditline.ErrTransactionNotFound)
		}

		var balance int64
		if t.IsSettled() {
			if err := tx.QueryRow(ctx,
				`SELECT balance FROM creditline_accounts WHERE id = $1`, t.AccountID.String(),
			).Scan(&balance); err != nil {
				return noRows(err, creditline.ErrAccountNotFound)
			}
			out = &payment.Settlement{Transaction: t, Balance: balance, AlreadySettled: true}
			return nil
		}

		if err := tx.QueryRow(ctx, `
			UPDATE creditline_accounts
			SET balance = balance + $2, updated_at = NOW()
			WHERE id = $1
			RETURNING balance`, t.AccountID.String(), t.Credits,
		).Scan(&balance); err != nil {
			return noRows(err, creditline.ErrAccountNotFound)
		}

		now := time.Now().UTC()
		if _, err := tx.Exec(ctx, `
			UPDATE creditline_transactions
			SET status = $2, settled_at = $3, updated_at = $3
			WHERE id = $1`, txnID.String(), string(payment.StatusSettled), now); err != nil {
			return err
		}
		t.Status = payment.StatusSettled
		t.SettledAt = &now
		t.UpdatedAt = now
		out = &payment.Settlement{Transaction: t, Balance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// limitArg maps "no limit" onto SQL's LIMIT ALL.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
