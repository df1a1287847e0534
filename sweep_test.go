package creditline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/creditline"
	"github.com/xraph/creditline/account"
	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/gateway"
	"github.com/xraph/creditline/id"
)

// unbilledTurn leaves one delivered but uncharged text turn on a drained
// account.
func unbilledTurn(t *testing.T, opts ...creditline.Option) (*creditline.Ledger, *conversation.Turn) {
	t.Helper()
	var l *creditline.Ledger
	var acct id.AccountID
	racing := gateway.GeneratorFunc(func(ctx context.Context, req gateway.Request) (gateway.Result, error) {
		b, err := l.Balance(ctx, acct)
		if err != nil {
			return gateway.Result{}, err
		}
		if _, err := l.TryDebit(ctx, acct, b); err != nil {
			return gateway.Result{}, err
		}
		return echo(ctx, req)
	})
	opts = append([]creditline.Option{
		creditline.WithInitialCredits(1),
		creditline.WithGateway(racing),
	}, opts...)
	l = newLedger(t, nil, opts...)

	a := openAccount(t, l, "ada")
	acct = a.ID
	c := newChat(t, l, a)

	res, err := l.SubmitTurn(context.Background(), creditline.TurnRequest{
		AccountID: a.ID,
		ChatID:    c.ID,
		Kind:      conversation.KindText,
		Prompt:    "hello",
	})
	require.NoError(t, err)
	require.True(t, res.Unbilled)
	return l, res.Turn
}

func TestSweepBillsAfterTopUp(t *testing.T) {
	l, turn := unbilledTurn(t)
	ctx := context.Background()

	report, err := l.SweepUnbilled(ctx)
	require.NoError(t, err)
	require.Equal(t, creditline.SweepReport{Scanned: 1, Billed: 0, Remaining: 1}, *report)

	top, err := l.BeginTopUp(ctx, turn.AccountID, "basic")
	require.NoError(t, err)
	_, err = l.Settle(ctx, top.Transaction.ID, turn.AccountID, top.Transaction.Credits)
	require.NoError(t, err)

	report, err = l.SweepUnbilled(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Billed)
	require.Equal(t, 0, report.Remaining)

	b, err := l.Balance(ctx, turn.AccountID)
	require.NoError(t, err)
	require.Equal(t, int64(99), b)

	// Nothing left on the next pass.
	report, err = l.SweepUnbilled(ctx)
	require.NoError(t, err)
	require.Zero(t, report.Scanned)

	msgs, err := l.Messages(ctx, turn.AccountID, turn.ChatID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestSweepWorkerRunsInBackground(t *testing.T) {
	l, turn := unbilledTurn(t, creditline.WithSweepInterval(10*time.Millisecond))
	ctx := context.Background()

	top, err := l.BeginTopUp(ctx, turn.AccountID, "basic")
	require.NoError(t, err)
	_, err = l.Settle(ctx, top.Transaction.ID, turn.AccountID, top.Transaction.Credits)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := l.Store().GetTurn(ctx, turn.ID)
		return err == nil && got.Billed
	}, 2*time.Second, 10*time.Millisecond)
}

// storedTurn appends an uncharged text turn for owner directly to the store.
func storedTurn(t *testing.T, l *creditline.Ledger, owner *account.Account, at time.Time) *conversation.Turn {
	t.Helper()
	c := newChat(t, l, owner)
	turn := &conversation.Turn{
		ID:        id.NewTurnID(),
		ChatID:    c.ID,
		AccountID: owner.ID,
		Kind:      conversation.KindText,
		Prompt:    "hello",
		Reply:     "HELLO",
		Cost:      1,
		CreatedAt: at,
	}
	require.NoError(t, l.Store().AppendTurn(context.Background(), turn))
	return turn
}

func TestSweepResumesPastUnpayableBatch(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t, nil,
		creditline.WithInitialCredits(0),
		creditline.WithSweepBatchSize(2),
	)

	drained := openAccount(t, l, "drained")
	payer := openAccount(t, l, "payer")
	base := time.Now().UTC()
	storedTurn(t, l, drained, base)
	storedTurn(t, l, drained, base.Add(time.Millisecond))
	payable := storedTurn(t, l, payer, base.Add(2*time.Millisecond))

	top, err := l.BeginTopUp(ctx, payer.ID, "basic")
	require.NoError(t, err)
	_, err = l.Settle(ctx, top.Transaction.ID, payer.ID, top.Transaction.Credits)
	require.NoError(t, err)

	report, err := l.SweepUnbilled(ctx)
	require.NoError(t, err)
	require.Equal(t, creditline.SweepReport{Scanned: 2, Billed: 0, Remaining: 2}, *report)

	report, err = l.SweepUnbilled(ctx)
	require.NoError(t, err)
	require.Equal(t, creditline.SweepReport{Scanned: 1, Billed: 1, Remaining: 0}, *report)

	got, err := l.Store().GetTurn(ctx, payable.ID)
	require.NoError(t, err)
	require.True(t, got.Billed)
	require.Equal(t, int64(99), balanceOf(t, l, payer))

	// The end of the list wraps back to the oldest turns.
	report, err = l.SweepUnbilled(ctx)
	require.NoError(t, err)
	require.Equal(t, creditline.SweepReport{Scanned: 2, Billed: 0, Remaining: 2}, *report)
}
