// Package memory is an in-process store.Store, used for tests and for
// single-node development runs. A single mutex serializes all writes, which
// makes every balance mutation trivially atomic.
package memory

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

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

type Store struct {
	mu sync.RWMutex

	accounts map[string]*account.Account

	chats     map[string]*conversation.Chat
	turns     map[string]*conversation.Turn
	chatTurns map[string][]string
	// appendOrder breaks CreatedAt ties between turns.
	appendOrder map[string]uint64
	appendSeq   uint64

	txns map[string]*payment.Transaction

	closed bool
}

func New() *Store {
	return &Store{
		accounts:    make(map[string]*account.Account),
		chats:       make(map[string]*conversation.Chat),
		turns:       make(map[string]*conversation.Turn),
		chatTurns:   make(map[string][]string),
		appendOrder: make(map[string]uint64),
		txns:        make(map[string]*payment.Transaction),
	}
}

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

func (s *Store) CreateAccount(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.ID.String()]; exists {
		return creditline.ErrAlreadyExists
	}
	cp := *a
	s.accounts[a.ID.String()] = &cp
	return nil
}

func (s *Store) GetAccount(_ context.Context, accountID id.AccountID) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountID.String()]
	if !ok {
		return nil, creditline.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) Debit(_ context.Context, accountID id.AccountID, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID.String()]
	if !ok {
		return 0, creditline.ErrAccountNotFound
	}
	if !a.Covers(amount) {
		return a.Balance, creditline.ErrInsufficientBalance
	}
	a.Balance -= amount
	a.Touch()
	return a.Balance, nil
}

func (s *Store) ChargeTurn(_ context.Context, turnID id.TurnID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.turns[turnID.String()]
	if !ok {
		return 0, creditline.ErrTurnNotFound
	}
	a, ok := s.accounts[t.AccountID.String()]
	if !ok {
		return 0, creditline.ErrAccountNotFound
	}
	if t.Billed {
		return a.Balance, creditline.ErrTurnAlreadyBilled
	}
	if !a.Covers(t.Cost) {
		return a.Balance, creditline.ErrInsufficientBalance
	}

	now := time.Now().UTC()
	a.Balance -= t.Cost
	a.Touch()
	t.Billed = true
	t.BilledAt = &now
	return a.Balance, nil
}

// ──────────────────────────────────────────────────
// Chats and turns
// ──────────────────────────────────────────────────

func (s *Store) CreateChat(_ context.Context, c *conversation.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.chats[c.ID.String()]; exists {
		return creditline.ErrAlreadyExists
	}
	cp := *c
	s.chats[c.ID.String()] = &cp
	return nil
}

// ownedChat must be called with s.mu held.
func (s *Store) ownedChat(accountID id.AccountID, chatID id.ChatID) (*conversation.Chat, error) {
	c, ok := s.chats[chatID.String()]
	if !ok || c.AccountID.String() != accountID.String() {
		return nil, creditline.ErrChatNotFound
	}
	return c, nil
}

func (s *Store) GetChat(_ context.Context, accountID id.AccountID, chatID id.ChatID) (*conversation.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.ownedChat(accountID, chatID)
	if err != nil {
		return nil, err
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListChats(_ context.Context, accountID id.AccountID, opts conversation.ListOpts) ([]*conversation.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*conversation.Chat, 0)
	for _, c := range s.chats {
		if c.AccountID.String() == accountID.String() {
			cp := *c
			result = append(result, &cp)
		}
	}
	slices.SortFunc(result, func(a, b *conversation.Chat) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID.String(), a.ID.String())
	})

	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) DeleteChat(_ context.Context, accountID id.AccountID, chatID id.ChatID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedChat(accountID, chatID); err != nil {
		return err
	}
	for _, tid := range s.chatTurns[chatID.String()] {
		delete(s.turns, tid)
		delete(s.appendOrder, tid)
	}
	delete(s.chatTurns, chatID.String())
	delete(s.chats, chatID.String())
	return nil
}

func (s *Store) AppendTurn(_ context.Context, t *conversation.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return creditline.ErrStoreClosed
	}
	c, err := s.ownedChat(t.AccountID, t.ChatID)
	if err != nil {
		return err
	}
	if _, exists := s.turns[t.ID.String()]; exists {
		return creditline.ErrAlreadyExists
	}

	c.TurnCount++
	c.Touch()
	t.Seq = c.TurnCount

	cp := *t
	s.turns[t.ID.String()] = &cp
	s.chatTurns[c.ID.String()] = append(s.chatTurns[c.ID.String()], t.ID.String())
	s.appendSeq++
	s.appendOrder[t.ID.String()] = s.appendSeq
	return nil
}

func (s *Store) GetTurn(_ context.Context, turnID id.TurnID) (*conversation.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.turns[turnID.String()]
	if !ok {
		return nil, creditline.ErrTurnNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) ListTurns(_ context.Context, accountID id.AccountID, chatID id.ChatID) ([]*conversation.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.ownedChat(accountID, chatID); err != nil {
		return nil, err
	}
	ids := s.chatTurns[chatID.String()]
	result := make([]*conversation.Turn, 0, len(ids))
	for _, tid := range ids {
		cp := *s.turns[tid]
		result = append(result, &cp)
	}
	return result, nil
}

func (s *Store) ListUnbilledTurns(_ context.Context, after conversation.Cursor, limit int) ([]*conversation.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*conversation.Turn, 0)
	for _, t := range s.turns {
		if !t.Billed && after.Before(t) {
			cp := *t
			result = append(result, &cp)
		}
	}
	slices.SortFunc(result, func(a, b *conversation.Turn) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})

	return page(result, 0, limit), nil
}

// ScanPublished snapshots the published entries under the read lock and
// calls fn without holding it.
func (s *Store) ScanPublished(ctx context.Context, fn func(publication.Entry) error) error {
	type ordered struct {
		entry publication.Entry
		order uint64
	}

	s.mu.RLock()
	snapshot := make([]ordered, 0)
	for tid, t := range s.turns {
		c := s.chats[t.ChatID.String()]
		if c == nil {
			continue
		}
		if e, ok := publication.FromTurn(c, t); ok {
			snapshot = append(snapshot, ordered{entry: e, order: s.appendOrder[tid]})
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(snapshot, func(a, b ordered) int {
		if c := b.entry.PublishedAt.Compare(a.entry.PublishedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.order, a.order)
	})

	for _, o := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(o.entry); err != nil {
			if errors.Is(err, publication.ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

func (s *Store) CreateTransaction(_ context.Context, t *payment.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.txns[t.ID.String()]; exists {
		return creditline.ErrAlreadyExists
	}
	if _, ok := s.accounts[t.AccountID.String()]; !ok {
		return creditline.ErrAccountNotFound
	}
	cp := *t
	s.txns[t.ID.String()] = &cp
	return nil
}

func (s *Store) GetTransaction(_ context.Context, txnID id.TransactionID) (*payment.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.txns[txnID.String()]
	if !ok {
		return nil, creditline.ErrTransactionNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) ListTransactions(_ context.Context, accountID id.AccountID, opts payment.ListOpts) ([]*payment.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*payment.Transaction, 0)
	for _, t := range s.txns {
		if t.AccountID.String() != accountID.String() {
			continue
		}
		if opts.Status != "" && t.Status != opts.Status {
			continue
		}
		cp := *t
		result = append(result, &cp)
	}
	slices.SortFunc(result, func(a, b *payment.Transaction) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID.String(), a.ID.String())
	})

	return page(result, opts.Offset, opts.Limit), nil
}

func (s *Store) SettleTransaction(_ context.Context, txnID id.TransactionID) (*payment.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.txns[txnID.String()]
	if !ok {
		return nil, creditline.ErrTransactionNotFound
	}
	a, ok := s.accounts[t.AccountID.String()]
	if !ok {
		return nil, creditline.ErrAccountNotFound
	}

	if t.IsSettled() {
		cp := *t
		return &payment.Settlement{Transaction: &cp, Balance: a.Balance, AlreadySettled: true}, nil
	}

	now := time.Now().UTC()
	t.Status = payment.StatusSettled
	t.SettledAt = &now
	t.Touch()
	a.Balance += t.Credits
	a.Touch()

	cp := *t
	return &payment.Settlement{Transaction: &cp, Balance: a.Balance}, nil
}

// ──────────────────────────────────────────────────
// Core
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return creditline.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func page[T any](items []T, offset, limit int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
