// Package badger implements store.Store on an embedded BadgerDB.
//
// Every mutation runs in a badger read-write transaction. Badger detects
// read/write conflicts at commit time; conflicting transactions are retried
// from scratch, which gives the balance operations compare-and-set
// semantics without any process-wide lock.
package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/xraph/creditline"
	"github.com/xraph/creditline/account"
	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/id"
	"github.com/xraph/creditline/payment"
	"github.com/xraph/creditline/publication"
	"github.com/xraph/creditline/store"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

const defaultMaxRetries = 256

// Store implements store.Store on BadgerDB.
type Store struct {
	db         *badger.DB
	logger     *slog.Logger
	maxRetries int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithMaxRetries bounds how many times a conflicting transaction is retried.
func WithMaxRetries(n int) Option {
	return func(s *Store) { s.maxRetries = n }
}

// New wraps an open badger database.
func New(db *badger.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default(), maxRetries: defaultMaxRetries}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens (or creates) a badger database at path. An empty path opens an
// in-memory database.
func Open(path string, opts ...Option) (*Store, error) {
	bopts := badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR)
	if path == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("creditline/badger: open %q: %w", path, err)
	}
	return New(db, opts...), nil
}

// DB returns the underlying badger database.
func (s *Store) DB() *badger.DB { return s.db }

// update runs fn in a read-write transaction, retrying on commit conflicts.
func (s *Store) update(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if attempt >= s.maxRetries {
			return fmt.Errorf("creditline/badger: %s: %w", op, err)
		}
		s.logger.Debug("badger: retrying conflicting transaction",
			"op", op,
			"attempt", attempt+1,
		)
	}
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// notFound maps ErrKeyNotFound to the given domain sentinel.
func notFound(err, sentinel error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return sentinel
	}
	return err
}

// keysWithPrefix collects keys only (no values) under prefix.
func keysWithPrefix(txn *badger.Txn, prefix []byte) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	return s.update(ctx, "create account", func(txn *badger.Txn) error {
		ok, err := exists(txn, accountKey(a.ID))
		if err != nil {
			return err
		}
		if ok {
			return creditline.ErrAlreadyExists
		}
		return setJSON(txn, accountKey(a.ID), a)
	})
}

func (s *Store) GetAccount(_ context.Context, accountID id.AccountID) (*account.Account, error) {
	var a account.Account
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, accountKey(accountID), &a)
	})
	if err != nil {
		return nil, notFound(err, creditline.ErrAccountNotFound)
	}
	return &a, nil
}

func (s *Store) Debit(ctx context.Context, accountID id.AccountID, amount int64) (int64, error) {
	var balance int64
	err := s.update(ctx, "debit", func(txn *badger.Txn) error {
		var a account.Account
		if err := getJSON(txn, accountKey(accountID), &a); err != nil {
			return notFound(err, creditline.ErrAccountNotFound)
		}
		balance = a.Balance
		if !a.Covers(amount) {
			return creditline.ErrInsufficientBalance
		}
		a.Balance -= amount
		a.Touch()
		balance = a.Balance
		return setJSON(txn, accountKey(accountID), &a)
	})
	return balance, err
}

func (s *Store) ChargeTurn(ctx context.Context, turnID id.TurnID) (int64, error) {
	var balance int64
	err := s.update(ctx, "charge turn", func(txn *badger.Txn) error {
		key, t, err := loadTurn(txn, turnID)
		if err != nil {
			return err
		}

		var a account.Account
		if err := getJSON(txn, accountKey(t.AccountID), &a); err != nil {
			return notFound(err, creditline.ErrAccountNotFound)
		}
		balance = a.Balance
		if t.Billed {
			return creditline.ErrTurnAlreadyBilled
		}
		if !a.Covers(t.Cost) {
			return creditline.ErrInsufficientBalance
		}

		now := time.Now().UTC()
		a.Balance -= t.Cost
		a.Touch()
		t.Billed = true
		t.BilledAt = &now
		balance = a.Balance

		if err := setJSON(txn, accountKey(a.ID), &a); err != nil {
			return err
		}
		if err := setJSON(txn, key, t); err != nil {
			return err
		}
		return txn.Delete(unbilledKey(t))
	})
	return balance, err
}

// ──────────────────────────────────────────────────
// Chats and turns
// ──────────────────────────────────────────────────

func (s *Store) CreateChat(ctx context.Context, c *conversation.Chat) error {
	return s.update(ctx, "create chat", func(txn *badger.Txn) error {
		ok, err := exists(txn, chatKey(c.ID))
		if err != nil {
			return err
		}
		if ok {
			return creditline.ErrAlreadyExists
		}
		if err := setJSON(txn, chatKey(c.ID), c); err != nil {
			return err
		}
		return txn.Set(accountChatKey(c.AccountID, c.ID), nil)
	})
}

func loadOwnedChat(txn *badger.Txn, accountID id.AccountID, chatID id.ChatID) (*conversation.Chat, error) {
	var c conversation.Chat
	if err := getJSON(txn, chatKey(chatID), &c); err != nil {
		return nil, notFound(err, creditline.ErrChatNotFound)
	}
	if c.AccountID.String() != accountID.String() {
		return nil, creditline.ErrChatNotFound
	}
	return &c, nil
}

func loadTurn(txn *badger.Txn, turnID id.TurnID) ([]byte, *conversation.Turn, error) {
	item, err := txn.Get(turnRefKey(turnID))
	if err != nil {
		return nil, nil, notFound(err, creditline.ErrTurnNotFound)
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return nil, nil, err
	}
	var t conversation.Turn
	if err := getJSON(txn, key, &t); err != nil {
		return nil, nil, notFound(err, creditline.ErrTurnNotFound)
	}
	return key, &t, nil
}

func (s *Store) GetChat(_ context.Context, accountID id.AccountID, chatID id.ChatID) (*conversation.Chat, error) {
	var c *conversation.Chat
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		c, err = loadOwnedChat(txn, accountID, chatID)
		return err
	})
	return c, err
}

func (s *Store) ListChats(_ context.Context, accountID id.AccountID, opts conversation.ListOpts) ([]*conversation.Chat, error) {
	result := make([]*conversation.Chat, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := accountChatPrefix(accountID)
		for _, k := range keysWithPrefix(txn, prefix) {
			chatID, err := id.ParseChatID(string(bytes.TrimPrefix(k, prefix)))
			if err != nil {
				return err
			}
			var c conversation.Chat
			if err := getJSON(txn, chatKey(chatID), &c); err != nil {
				return err
			}
			result = append(result, &c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(result, func(a, b *conversation.Chat) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) DeleteChat(ctx context.Context, accountID id.AccountID, chatID id.ChatID) error {
	return s.update(ctx, "delete chat", func(txn *badger.Txn) error {
		if _, err := loadOwnedChat(txn, accountID, chatID); err != nil {
			return err
		}

		for _, k := range keysWithPrefix(txn, turnPrefix(chatID)) {
			var t conversation.Turn
			if err := getJSON(txn, k, &t); err != nil {
				return err
			}
			for _, dk := range [][]byte{turnRefKey(t.ID), unbilledKey(&t), publishedKey(&t), k} {
				if err := txn.Delete(dk); err != nil {
					return err
				}
			}
		}

		if err := txn.Delete(accountChatKey(accountID, chatID)); err != nil {
			return err
		}
		return txn.Delete(chatKey(chatID))
	})
}

func (s *Store) AppendTurn(ctx context.Context, t *conversation.Turn) error {
	return s.update(ctx, "append turn", func(txn *badger.Txn) error {
		c, err := loadOwnedChat(txn, t.AccountID, t.ChatID)
		if err != nil {
			return err
		}
		ok, err := exists(txn, turnRefKey(t.ID))
		if err != nil {
			return err
		}
		if ok {
			return creditline.ErrAlreadyExists
		}

		c.TurnCount++
		c.Touch()
		t.Seq = c.TurnCount

		key := turnKey(t.ChatID, t.Seq)
		if err := setJSON(txn, key, t); err != nil {
			return err
		}
		if err := txn.Set(turnRefKey(t.ID), key); err != nil {
			return err
		}
		if !t.Billed {
			if err := txn.Set(unbilledKey(t), nil); err != nil {
				return err
			}
		}
		if e, ok := publication.FromTurn(c, t); ok {
			if err := setJSON(txn, publishedKey(t), e); err != nil {
				return err
			}
		}
		return setJSON(txn, chatKey(c.ID), c)
	})
}

func (s *Store) GetTurn(_ context.Context, turnID id.TurnID) (*conversation.Turn, error) {
	var t *conversation.Turn
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		_, t, err = loadTurn(txn, turnID)
		return err
	})
	return t, err
}

func (s *Store) ListTurns(_ context.Context, accountID id.AccountID, chatID id.ChatID) ([]*conversation.Turn, error) {
	result := make([]*conversation.Turn, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := loadOwnedChat(txn, accountID, chatID); err != nil {
			return err
		}

		prefix := turnPrefix(chatID)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var t conversation.Turn
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &t)
			}); err != nil {
				return err
			}
			result = append(result, &t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListUnbilledTurns(_ context.Context, after conversation.Cursor, limit int) ([]*conversation.Turn, error) {
	result := make([]*conversation.Turn, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixUnbilled)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		start := prefix
		if !after.IsZero() {
			start = unbilledCursorKey(after)
		}
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(result) >= limit {
				break
			}
			k := it.Item().Key()
			if bytes.Equal(k, start) {
				continue
			}
			sep := bytes.LastIndexByte(k, ':')
			turnID, err := id.ParseTurnID(string(k[sep+1:]))
			if err != nil {
				return err
			}
			_, t, err := loadTurn(txn, turnID)
			if err != nil {
				return err
			}
			result = append(result, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ScanPublished walks the published index inside one read snapshot.
func (s *Store) ScanPublished(ctx context.Context, fn func(publication.Entry) error) error {
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(prefixPublished)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: prefix})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e publication.Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			if err := fn(e); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, publication.ErrStop) {
		return nil
	}
	return err
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

func (s *Store) CreateTransaction(ctx context.Context, t *payment.Transaction) error {
	return s.update(ctx, "create transaction", func(txn *badger.Txn) error {
		ok, err := exists(txn, txnKey(t.ID))
		if err != nil {
			return err
		}
		if ok {
			return creditline.ErrAlreadyExists
		}
		ok, err = exists(txn, accountKey(t.AccountID))
		if err != nil {
			return err
		}
		if !ok {
			return creditline.ErrAccountNotFound
		}
		if err := setJSON(txn, txnKey(t.ID), t); err != nil {
			return err
		}
		return txn.Set(accountTxnKey(t.AccountID, t.CreatedAt, t.ID), nil)
	})
}

func (s *Store) GetTransaction(_ context.Context, txnID id.TransactionID) (*payment.Transaction, error) {
	var t payment.Transaction
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, txnKey(txnID), &t)
	})
	if err != nil {
		return nil, notFound(err, creditline.ErrTransactionNotFound)
	}
	return &t, nil
}

func (s *Store) ListTransactions(_ context.Context, accountID id.AccountID, opts payment.ListOpts) ([]*payment.Transaction, error) {
	result := make([]*payment.Transaction, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		for _, k := range keysWithPrefix(txn, accountTxnPrefix(accountID)) {
			sep := bytes.LastIndexByte(k, ':')
			txnID, err := id.ParseTransactionID(string(k[sep+1:]))
			if err != nil {
				return err
			}
			var t payment.Transaction
			if err := getJSON(txn, txnKey(txnID), &t); err != nil {
				return err
			}
			if opts.Status != "" && t.Status != opts.Status {
				continue
			}
			result = append(result, &t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) SettleTransaction(ctx context.Context, txnID id.TransactionID) (*payment.Settlement, error) {
	var out *payment.Settlement
	err := s.update(ctx, "settle transaction", func(txn *badger.Txn) error {
		var t payment.Transaction
		if err := getJSON(txn, txnKey(txnID), &t); err != nil {
			return notFound(err, creditline.ErrTransactionNotFound)
		}
		var a account.Account
		if err := getJSON(txn, accountKey(t.AccountID), &a); err != nil {
			return notFound(err, creditline.ErrAccountNotFound)
		}

		if t.IsSettled() {
			out = &payment.Settlement{Transaction: &t, Balance: a.Balance, AlreadySettled: true}
			return nil
		}

		now := time.Now().UTC()
		t.Status = payment.StatusSettled
		t.SettledAt = &now
		t.Touch()
		a.Balance += t.Credits
		a.Touch()

		if err := setJSON(txn, txnKey(t.ID), &t); err != nil {
			return err
		}
		if err := setJSON(txn, accountKey(a.ID), &a); err != nil {
			return err
		}
		out = &payment.Settlement{Transaction: &t, Balance: a.Balance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Core
// ──────────────────────────────────────────────────

// Migrate is a no-op: the key layout needs no schema.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the database is still open.
func (s *Store) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return creditline.ErrStoreClosed
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func page[T any](items []T, offset, limit int) []T {
	start := min(offset, len(items))
	end := start + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
