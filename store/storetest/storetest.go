// Package storetest is a conformance suite every store.Store driver runs
// from its own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/creditline"
	"github.com/xraph/creditline/account"
	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/id"
	"github.com/xraph/creditline/payment"
	"github.com/xraph/creditline/publication"
	"github.com/xraph/creditline/store"
	"github.com/xraph/creditline/types"
)

// Factory returns a fresh, migrated, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the whole suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"AccountLifecycle", testAccountLifecycle},
		{"DebitNeverNegative", testDebitNeverNegative},
		{"ConcurrentDebits", testConcurrentDebits},
		{"ChatOwnership", testChatOwnership},
		{"ChatsOrderedByActivity", testChatsOrderedByActivity},
		{"AppendAssignsSequence", testAppendAssignsSequence},
		{"DeleteChatCascades", testDeleteChatCascades},
		{"ChargeTurn", testChargeTurn},
		{"ConcurrentChargeTurn", testConcurrentChargeTurn},
		{"UnbilledCursor", testUnbilledCursor},
		{"SettleOnce", testSettleOnce},
		{"ConcurrentSettle", testConcurrentSettle},
		{"ListTransactions", testListTransactions},
		{"ScanPublished", testScanPublished},
		{"ScanPublishedStop", testScanPublishedStop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// ──────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────

func seedAccount(t *testing.T, s store.Store, name string, balance int64) *account.Account {
	t.Helper()
	a := &account.Account{Entity: types.NewEntity(), ID: id.NewAccountID(), Name: name, Balance: balance}
	require.NoError(t, s.CreateAccount(context.Background(), a))
	return a
}

func seedChat(t *testing.T, s store.Store, owner *account.Account) *conversation.Chat {
	t.Helper()
	c := &conversation.Chat{
		Entity:    types.NewEntity(),
		ID:        id.NewChatID(),
		AccountID: owner.ID,
		Name:      conversation.DefaultChatName,
		OwnerName: owner.Name,
	}
	require.NoError(t, s.CreateChat(context.Background(), c))
	return c
}

func appendTurn(t *testing.T, s store.Store, c *conversation.Chat, kind conversation.Kind, reply string, published bool) *conversation.Turn {
	t.Helper()
	cost := int64(1)
	if kind == conversation.KindImage {
		cost = 2
	}
	turn := &conversation.Turn{
		ID:        id.NewTurnID(),
		ChatID:    c.ID,
		AccountID: c.AccountID,
		Kind:      kind,
		Prompt:    "prompt for " + reply,
		Reply:     reply,
		Published: published,
		Cost:      cost,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.AppendTurn(context.Background(), turn))
	// Keep timestamps distinct for stores with microsecond precision.
	time.Sleep(2 * time.Millisecond)
	return turn
}

func seedTxn(t *testing.T, s store.Store, owner *account.Account, credits int64) *payment.Transaction {
	t.Helper()
	txn := &payment.Transaction{
		Entity:    types.NewEntity(),
		ID:        id.NewTransactionID(),
		AccountID: owner.ID,
		PlanID:    "basic",
		Amount:    types.USD(1000),
		Credits:   credits,
		Status:    payment.StatusPending,
	}
	require.NoError(t, s.CreateTransaction(context.Background(), txn))
	time.Sleep(2 * time.Millisecond)
	return txn
}

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

func testAccountLifecycle(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()

	a := seedAccount(t, s, "ada", 20)
	err := s.CreateAccount(ctx, a)
	req.ErrorIs(err, creditline.ErrAlreadyExists)

	got, err := s.GetAccount(ctx, a.ID)
	req.NoError(err)
	req.Equal("ada", got.Name)
	req.Equal(int64(20), got.Balance)

	_, err = s.GetAccount(ctx, id.NewAccountID())
	req.ErrorIs(err, creditline.ErrAccountNotFound)
}

func testDebitNeverNegative(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	a := seedAccount(t, s, "ada", 3)

	balance, err := s.Debit(ctx, a.ID, 2)
	req.NoError(err)
	req.Equal(int64(1), balance)

	_, err = s.Debit(ctx, a.ID, 2)
	req.ErrorIs(err, creditline.ErrInsufficientBalance)

	got, err := s.GetAccount(ctx, a.ID)
	req.NoError(err)
	req.Equal(int64(1), got.Balance)

	_, err = s.Debit(ctx, id.NewAccountID(), 1)
	req.ErrorIs(err, creditline.ErrAccountNotFound)
}

func testConcurrentDebits(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	a := seedAccount(t, s, "ada", 10)

	var ok, short atomic.Int64
	var wg sync.WaitGroup
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Debit(ctx, a.ID, 1)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, creditline.ErrInsufficientBalance):
				short.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	req.Equal(int64(10), ok.Load())
	req.Equal(int64(30), short.Load())

	got, err := s.GetAccount(ctx, a.ID)
	req.NoError(err)
	req.Equal(int64(0), got.Balance)
}

// ──────────────────────────────────────────────────
// Chats and turns
// ──────────────────────────────────────────────────

func testChatOwnership(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	owner := seedAccount(t, s, "ada", 0)
	other := seedAccount(t, s, "bob", 0)
	c := seedChat(t, s, owner)

	got, err := s.GetChat(ctx, owner.ID, c.ID)
	req.NoError(err)
	req.Equal(conversation.DefaultChatName, got.Name)

	_, err = s.GetChat(ctx, other.ID, c.ID)
	req.ErrorIs(err, creditline.ErrChatNotFound)

	err = s.DeleteChat(ctx, other.ID, c.ID)
	req.ErrorIs(err, creditline.ErrChatNotFound)

	_, err = s.ListTurns(ctx, other.ID, c.ID)
	req.ErrorIs(err, creditline.ErrChatNotFound)

	stray := &conversation.Turn{ID: id.NewTurnID(), ChatID: c.ID, AccountID: other.ID, Kind: conversation.KindText}
	req.ErrorIs(s.AppendTurn(ctx, stray), creditline.ErrChatNotFound)
}

func testChatsOrderedByActivity(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	owner := seedAccount(t, s, "ada", 0)

	first := seedChat(t, s, owner)
	time.Sleep(2 * time.Millisecond)
	second := seedChat(t, s, owner)
	time.Sleep(2 * time.Millisecond)

	chats, err := s.ListChats(ctx, owner.ID, conversation.ListOpts{})
	req.NoError(err)
	req.Len(chats, 2)
	req.Equal(second.ID.String(), chats[0].ID.String())

	appendTurn(t, s, first, conversation.KindText, "hello", false)

	chats, err = s.ListChats(ctx, owner.ID, conversation.ListOpts{})
	req.NoError(err)
	req.Equal(first.ID.String(), chats[0].ID.String())
	req.Equal(1, chats[0].TurnCount)

	chats, err = s.ListChats(ctx, owner.ID, conversation.ListOpts{Limit: 1})
	req.NoError(err)
	req.Len(chats, 1)
}

func testAppendAssignsSequence(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	owner := seedAccount(t, s, "ada", 0)
	c := seedChat(t, s, owner)

	a := appendTurn(t, s, c, conversation.KindText, "one", false)
	b := appendTurn(t, s, c, conversation.KindImage, "two", true)
	req.Equal(1, a.Seq)
	req.Equal(2, b.Seq)

	turns, err := s.ListTurns(ctx, owner.ID, c.ID)
	req.NoError(err)
	req.Len(turns, 2)
	req.Equal("one", turns[0].Reply)
	req.Equal("two", turns[1].Reply)
	req.False(turns[0].Billed)

	got, err := s.GetTurn(ctx, b.ID)
	req.NoError(err)
	req.Equal(2, got.Seq)
	req.True(got.Published)

	req.ErrorIs(s.AppendTurn(ctx, b), creditline.ErrAlreadyExists)

	_, err = s.GetTurn(ctx, id.NewTurnID())
	req.ErrorIs(err, creditline.ErrTurnNotFound)
}

func testDeleteChatCascades(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	owner := seedAccount(t, s, "ada", 0)
	c := seedChat(t, s, owner)
	img := appendTurn(t, s, c, conversation.KindImage, "img", true)

	req.NoError(s.DeleteChat(ctx, owner.ID, c.ID))

	_, err := s.GetChat(ctx, owner.ID, c.ID)
	req.ErrorIs(err, creditline.ErrChatNotFound)
	_, err = s.GetTurn(ctx, img.ID)
	req.ErrorIs(err, creditline.ErrTurnNotFound)

	unbilled, err := s.ListUnbilledTurns(ctx, conversation.Cursor{}, 0)
	req.NoError(err)
	req.Empty(unbilled)

	var seen int
	req.NoError(s.ScanPublished(ctx, func(publication.Entry) error {
		seen++
		return nil
	}))
	req.Zero(seen)
}

// ──────────────────────────────────────────────────
// Charging
// ──────────────────────────────────────────────────

func testChargeTurn(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	owner := seedAccount(t, s, "ada", 3)
	c := seedChat(t, s, owner)

	text := appendTurn(t, s, c, conversation.KindText, "text", false)
	img := appendTurn(t, s, c, conversation.KindImage, "img", false)
	img2 := appendTurn(t, s, c, conversation.KindImage, "img2", false)

	unbilled, err := s.ListUnbilledTurns(ctx, conversation.Cursor{}, 0)
	req.NoError(err)
	req.Len(unbilled, 3)
	req.Equal(text.ID.String(), unbilled[0].ID.String())

	balance, err := s.ChargeTurn(ctx, text.ID)
	req.NoError(err)
	req.Equal(int64(2), balance)

	_, err = s.ChargeTurn(ctx, text.ID)
	req.ErrorIs(err, creditline.ErrTurnAlreadyBilled)

	balance, err = s.ChargeTurn(ctx, img.ID)
	req.NoError(err)
	req.Equal(int64(0), balance)

	_, err = s.ChargeTurn(ctx, img2.ID)
	req.ErrorIs(err, creditline.ErrInsufficientBalance)

	got, err := s.GetTurn(ctx, img.ID)
	req.NoError(err)
	req.True(got.Billed)
	req.NotNil(got.BilledAt)

	unbilled, err = s.ListUnbilledTurns(ctx, conversation.Cursor{}, 10)
	req.NoError(err)
	req.Len(unbilled, 1)
	req.Equal(img2.ID.String(), unbilled[0].ID.String())

	_, err = s.ChargeTurn(ctx, id.NewTurnID())
	req.ErrorIs(err, creditline.ErrTurnNotFound)
}

func testUnbilledCursor(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	owner := seedAccount(t, s, "ada", 0)
	c := seedChat(t, s, owner)

	var want []string
	for _, reply := range []string{"a", "b", "c", "d", "e"} {
		want = append(want, appendTurn(t, s, c, conversation.KindText, reply, false).ID.String())
	}

	var got []string
	var after conversation.Cursor
	for {
		page, err := s.ListUnbilledTurns(ctx, after, 2)
		req.NoError(err)
		if len(page) == 0 {
			break
		}
		req.LessOrEqual(len(page), 2)
		for _, turn := range page {
			got = append(got, turn.ID.String())
		}
		after = conversation.CursorAt(page[len(page)-1])
	}
	req.Equal(want, got)

	rest, err := s.ListUnbilledTurns(ctx, after, 0)
	req.NoError(err)
	req.Empty(rest)
}

func testConcurrentChargeTurn(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	owner := seedAccount(t, s, "ada", 1)
	c := seedChat(t, s, owner)
	turns := []*conversation.Turn{
		appendTurn(t, s, c, conversation.KindText, "a", false),
		appendTurn(t, s, c, conversation.KindText, "b", false),
	}

	var billed atomic.Int64
	var wg sync.WaitGroup
	for _, turn := range turns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ChargeTurn(ctx, turn.ID); err == nil {
				billed.Add(1)
			} else if !errors.Is(err, creditline.ErrInsufficientBalance) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	req.Equal(int64(1), billed.Load())
	got, err := s.GetAccount(ctx, owner.ID)
	req.NoError(err)
	req.Equal(int64(0), got.Balance)
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

func testSettleOnce(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	owner := seedAccount(t, s, "ada", 5)
	txn := seedTxn(t, s, owner, 100)

	first, err := s.SettleTransaction(ctx, txn.ID)
	req.NoError(err)
	req.False(first.AlreadySettled)
	req.Equal(int64(105), first.Balance)
	req.True(first.Transaction.IsSettled())
	req.NotNil(first.Transaction.SettledAt)

	for range 2 {
		again, err := s.SettleTransaction(ctx, txn.ID)
		req.NoError(err)
		req.True(again.AlreadySettled)
		req.Equal(int64(105), again.Balance)
	}

	got, err := s.GetAccount(ctx, owner.ID)
	req.NoError(err)
	req.Equal(int64(105), got.Balance)

	_, err = s.SettleTransaction(ctx, id.NewTransactionID())
	req.ErrorIs(err, creditline.ErrTransactionNotFound)
}

func testConcurrentSettle(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	owner := seedAccount(t, s, "ada", 0)
	txn := seedTxn(t, s, owner, 500)

	var fresh atomic.Int64
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.SettleTransaction(ctx, txn.ID)
			if err != nil {
				t.Errorf("settle: %v", err)
				return
			}
			if !res.AlreadySettled {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	req.Equal(int64(1), fresh.Load())
	got, err := s.GetAccount(ctx, owner.ID)
	req.NoError(err)
	req.Equal(int64(500), got.Balance)
}

func testListTransactions(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	owner := seedAccount(t, s, "ada", 0)
	other := seedAccount(t, s, "bob", 0)

	older := seedTxn(t, s, owner, 100)
	newer := seedTxn(t, s, owner, 500)
	seedTxn(t, s, other, 100)

	_, err := s.SettleTransaction(ctx, older.ID)
	req.NoError(err)

	all, err := s.ListTransactions(ctx, owner.ID, payment.ListOpts{})
	req.NoError(err)
	req.Len(all, 2)
	req.Equal(newer.ID.String(), all[0].ID.String())

	pending, err := s.ListTransactions(ctx, owner.ID, payment.ListOpts{Status: payment.StatusPending})
	req.NoError(err)
	req.Len(pending, 1)
	req.Equal(newer.ID.String(), pending[0].ID.String())

	got, err := s.GetTransaction(ctx, older.ID)
	req.NoError(err)
	req.Equal(payment.StatusSettled, got.Status)
	req.True(got.Amount.Equal(types.USD(1000)))

	orphan := &payment.Transaction{Entity: types.NewEntity(), ID: id.NewTransactionID(), AccountID: id.NewAccountID(), Credits: 1, Status: payment.StatusPending}
	req.ErrorIs(s.CreateTransaction(ctx, orphan), creditline.ErrAccountNotFound)
}

// ──────────────────────────────────────────────────
// Publication
// ──────────────────────────────────────────────────

func testScanPublished(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	ada := seedAccount(t, s, "ada", 0)
	bob := seedAccount(t, s, "bob", 0)
	adaChat := seedChat(t, s, ada)
	bobChat := seedChat(t, s, bob)

	appendTurn(t, s, adaChat, conversation.KindImage, "imgA", true)
	appendTurn(t, s, adaChat, conversation.KindImage, "imgB", false)
	appendTurn(t, s, adaChat, conversation.KindText, "text", true)
	appendTurn(t, s, bobChat, conversation.KindImage, "imgX", true)
	appendTurn(t, s, adaChat, conversation.KindImage, "imgC", true)

	var urls, names []string
	req.NoError(s.ScanPublished(ctx, func(e publication.Entry) error {
		urls = append(urls, e.ImageURL)
		names = append(names, e.PublisherName)
		return nil
	}))

	req.Equal([]string{"imgC", "imgX", "imgA"}, urls)
	req.Equal([]string{"ada", "bob", "ada"}, names)
}

func testScanPublishedStop(t *testing.T, s store.Store) {
	req := require.New(t)
	ctx := context.Background()
	ada := seedAccount(t, s, "ada", 0)
	c := seedChat(t, s, ada)
	for _, u := range []string{"1", "2", "3"} {
		appendTurn(t, s, c, conversation.KindImage, u, true)
	}

	var urls []string
	req.NoError(s.ScanPublished(ctx, func(e publication.Entry) error {
		urls = append(urls, e.ImageURL)
		if len(urls) == 2 {
			return publication.ErrStop
		}
		return nil
	}))
	req.Equal([]string{"3", "2"}, urls)

	boom := errors.New("boom")
	err := s.ScanPublished(ctx, func(publication.Entry) error { return boom })
	req.ErrorIs(err, boom)
}
