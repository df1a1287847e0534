package creditline_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/creditline"
	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/gateway"
	"github.com/xraph/creditline/id"
	"github.com/xraph/creditline/store"
	"github.com/xraph/creditline/store/memory"
)

// failingAppend is a store whose AppendTurn always fails.
type failingAppend struct {
	store.Store
}

func (failingAppend) AppendTurn(context.Context, *conversation.Turn) error {
	return errors.New("disk full")
}

func TestSubmitTurnText(t *testing.T) {
	l := newLedger(t, nil, creditline.WithInitialCredits(5))
	ctx := context.Background()
	a := openAccount(t, l, "ada")
	c := newChat(t, l, a)

	res, err := l.SubmitTurn(ctx, creditline.TurnRequest{
		AccountID: a.ID,
		ChatID:    c.ID,
		Kind:      conversation.KindText,
		Prompt:    "hello",
	})
	require.NoError(t, err)
	require.Equal(t, creditline.TurnSettled, res.State)
	require.False(t, res.Unbilled)
	require.Equal(t, int64(4), res.Balance)
	require.Equal(t, "HELLO", res.Reply.Content)
	require.Equal(t, conversation.RoleAssistant, res.Reply.Role)
	require.Equal(t, 2, res.Reply.Position)
	require.True(t, res.Turn.Billed)

	msgs, err := l.Messages(ctx, a.ID, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "hello", msgs[0].Content)
	require.Equal(t, "HELLO", msgs[1].Content)
	require.Equal(t, int64(4), balanceOf(t, l, a))
}

func TestSubmitTurnImageCostsMore(t *testing.T) {
	l := newLedger(t, nil, creditline.WithInitialCredits(5))
	ctx := context.Background()
	a := openAccount(t, l, "ada")
	c := newChat(t, l, a)

	res, err := l.SubmitTurn(ctx, creditline.TurnRequest{
		AccountID: a.ID,
		ChatID:    c.ID,
		Kind:      conversation.KindImage,
		Prompt:    "a red fox",
		Publish:   true,
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), res.Balance)
	require.True(t, res.Reply.IsImage)
	require.True(t, res.Reply.IsPublished)
	require.Equal(t, "https://img.example/a-red-fox.png", res.Reply.Content)
}

func TestSubmitTurnRejectedOnShortfall(t *testing.T) {
	var calls atomic.Int32
	gen := gateway.GeneratorFunc(func(ctx context.Context, req gateway.Request) (gateway.Result, error) {
		calls.Add(1)
		return echo(ctx, req)
	})
	l := newLedger(t, nil, creditline.WithInitialCredits(1), creditline.WithGateway(gen))
	ctx := context.Background()
	a := openAccount(t, l, "ada")
	c := newChat(t, l, a)

	_, err := l.SubmitTurn(ctx, creditline.TurnRequest{
		AccountID: a.ID,
		ChatID:    c.ID,
		Kind:      conversation.KindImage,
		Prompt:    "a red fox",
	})
	require.ErrorIs(t, err, creditline.ErrInsufficientBalance)
	require.Zero(t, calls.Load(), "rejected turns never reach the gateway")

	msgs, err := l.Messages(ctx, a.ID, c.ID)
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Equal(t, int64(1), balanceOf(t, l, a))
}

func TestSubmitTurnGatewayFailureChangesNothing(t *testing.T) {
	failing := gateway.GeneratorFunc(func(context.Context, gateway.Request) (gateway.Result, error) {
		return gateway.Result{}, &gateway.Failure{Kind: gateway.FailureRejected, Backend: "fake", Err: errors.New("quota")}
	})
	l := newLedger(t, nil, creditline.WithInitialCredits(5), creditline.WithGateway(failing))
	ctx := context.Background()
	a := openAccount(t, l, "ada")
	c := newChat(t, l, a)

	_, err := l.SubmitTurn(ctx, creditline.TurnRequest{
		AccountID: a.ID,
		ChatID:    c.ID,
		Kind:      conversation.KindText,
		Prompt:    "hello",
	})
	require.ErrorIs(t, err, creditline.ErrGatewayFailure)
	require.True(t, creditline.IsRetryable(err))

	f, ok := gateway.AsFailure(err)
	require.True(t, ok)
	require.Equal(t, gateway.FailureRejected, f.Kind)

	msgs, err := l.Messages(ctx, a.ID, c.ID)
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Equal(t, int64(5), balanceOf(t, l, a))
}

func TestSubmitTurnGatewayTimeout(t *testing.T) {
	slow := gateway.GeneratorFunc(func(ctx context.Context, _ gateway.Request) (gateway.Result, error) {
		<-ctx.Done()
		return gateway.Result{}, ctx.Err()
	})
	l := newLedger(t, nil,
		creditline.WithGateway(slow),
		creditline.WithGenerationTimeout(20*time.Millisecond),
	)
	ctx := context.Background()
	a := openAccount(t, l, "ada")
	c := newChat(t, l, a)

	_, err := l.SubmitTurn(ctx, creditline.TurnRequest{
		AccountID: a.ID,
		ChatID:    c.ID,
		Kind:      conversation.KindText,
		Prompt:    "hello",
	})
	require.ErrorIs(t, err, creditline.ErrGatewayFailure)
	f, ok := gateway.AsFailure(err)
	require.True(t, ok)
	require.Equal(t, gateway.FailureTimeout, f.Kind)
}

func TestSubmitTurnMalformedReply(t *testing.T) {
	textForImage := gateway.GeneratorFunc(func(context.Context, gateway.Request) (gateway.Result, error) {
		return gateway.Result{Content: "not an image"}, nil
	})
	l := newLedger(t, nil, creditline.WithGateway(textForImage))
	a := openAccount(t, l, "ada")
	c := newChat(t, l, a)

	_, err := l.SubmitTurn(context.Background(), creditline.TurnRequest{
		AccountID: a.ID,
		ChatID:    c.ID,
		Kind:      conversation.KindImage,
		Prompt:    "a red fox",
	})
	f, ok := gateway.AsFailure(err)
	require.True(t, ok)
	require.Equal(t, gateway.FailureMalformed, f.Kind)
	require.Equal(t, int64(creditline.DefaultInitialCredits), balanceOf(t, l, a))
}

func TestSubmitTurnAppendFailureChargesNothing(t *testing.T) {
	mem := memory.New()
	l := newLedger(t, failingAppend{Store: mem}, creditline.WithInitialCredits(5))
	ctx := context.Background()
	a := openAccount(t, l, "ada")
	c := newChat(t, l, a)

	_, err := l.SubmitTurn(ctx, creditline.TurnRequest{
		AccountID: a.ID,
		ChatID:    c.ID,
		Kind:      conversation.KindText,
		Prompt:    "hello",
	})
	require.ErrorIs(t, err, creditline.ErrPersistence)
	require.Equal(t, int64(5), balanceOf(t, l, a))
}

func TestSubmitTurnUnbilledWhenBalanceDrained(t *testing.T) {
	var l *creditline.Ledger
	var drain id.AccountID
	// Spends the whole balance elsewhere while the reply is being produced.
	racing := gateway.GeneratorFunc(func(ctx context.Context, req gateway.Request) (gateway.Result, error) {
		b, err := l.Balance(ctx, drain)
		if err != nil {
			return gateway.Result{}, err
		}
		if _, err := l.TryDebit(ctx, drain, b); err != nil {
			return gateway.Result{}, err
		}
		return echo(ctx, req)
	})
	l = newLedger(t, nil, creditline.WithInitialCredits(3), creditline.WithGateway(racing))
	ctx := context.Background()
	a := openAccount(t, l, "ada")
	drain = a.ID
	c := newChat(t, l, a)

	res, err := l.SubmitTurn(ctx, creditline.TurnRequest{
		AccountID: a.ID,
		ChatID:    c.ID,
		Kind:      conversation.KindText,
		Prompt:    "hello",
	})
	require.NoError(t, err)
	require.True(t, res.Unbilled)
	require.Equal(t, creditline.TurnAppended, res.State)
	require.ErrorIs(t, res.ChargeError, creditline.ErrInsufficientBalance)
	require.Equal(t, "HELLO", res.Reply.Content)

	// The reply is kept and the balance never goes negative.
	msgs, err := l.Messages(ctx, a.ID, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, int64(0), balanceOf(t, l, a))
}

func TestSubmitTurnConcurrentSingleCredit(t *testing.T) {
	l := newLedger(t, nil, creditline.WithInitialCredits(1))
	ctx := context.Background()
	a := openAccount(t, l, "ada")
	c := newChat(t, l, a)

	const n = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		settled  int
		unbilled int
		rejected int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.SubmitTurn(ctx, creditline.TurnRequest{
				AccountID: a.ID,
				ChatID:    c.ID,
				Kind:      conversation.KindText,
				Prompt:    "hi",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, creditline.ErrInsufficientBalance):
				rejected++
			case err != nil:
				t.Errorf("unexpected error: %v", err)
			case res.Unbilled:
				unbilled++
			default:
				settled++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, settled)
	require.Equal(t, n, settled+unbilled+rejected)
	require.Equal(t, int64(0), balanceOf(t, l, a))

	msgs, err := l.Messages(ctx, a.ID, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2*(settled+unbilled))
}

func TestSubmitTurnValidation(t *testing.T) {
	l := newLedger(t, nil)
	ctx := context.Background()
	a := openAccount(t, l, "ada")
	c := newChat(t, l, a)

	tests := []struct {
		name string
		req  creditline.TurnRequest
	}{
		{"missing prompt", creditline.TurnRequest{AccountID: a.ID, ChatID: c.ID, Kind: conversation.KindText}},
		{"unknown kind", creditline.TurnRequest{AccountID: a.ID, ChatID: c.ID, Kind: "video", Prompt: "x"}},
		{"missing chat", creditline.TurnRequest{AccountID: a.ID, Kind: conversation.KindText, Prompt: "x"}},
		{"missing account", creditline.TurnRequest{ChatID: c.ID, Kind: conversation.KindText, Prompt: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.SubmitTurn(ctx, tt.req)
			require.ErrorIs(t, err, creditline.ErrInvalidInput)
		})
	}
}

func TestSubmitTurnForeignChat(t *testing.T) {
	l := newLedger(t, nil)
	owner := openAccount(t, l, "ada")
	other := openAccount(t, l, "bob")
	c := newChat(t, l, owner)

	_, err := l.SubmitTurn(context.Background(), creditline.TurnRequest{
		AccountID: other.ID,
		ChatID:    c.ID,
		Kind:      conversation.KindText,
		Prompt:    "hi",
	})
	require.ErrorIs(t, err, creditline.ErrChatNotFound)
}

func TestSubmitTurnCostTable(t *testing.T) {
	l := newLedger(t, nil,
		creditline.WithInitialCredits(10),
		creditline.WithCostTable(creditline.CostTable{conversation.KindText: 4}),
	)
	ctx := context.Background()
	a := openAccount(t, l, "ada")
	c := newChat(t, l, a)

	res, err := l.SubmitTurn(ctx, creditline.TurnRequest{AccountID: a.ID, ChatID: c.ID, Kind: conversation.KindText, Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, int64(6), res.Balance)

	_, err = l.SubmitTurn(ctx, creditline.TurnRequest{AccountID: a.ID, ChatID: c.ID, Kind: conversation.KindImage, Prompt: "hi"})
	require.ErrorIs(t, err, creditline.ErrInvalidInput)
}

func TestChatLifecycle(t *testing.T) {
	l := newLedger(t, nil)
	ctx := context.Background()
	a := openAccount(t, l, "ada")

	c, err := l.CreateChat(ctx, a.ID, "  ")
	require.NoError(t, err)
	require.Equal(t, conversation.DefaultChatName, c.Name)
	require.Equal(t, "ada", c.OwnerName)

	named, err := l.CreateChat(ctx, a.ID, "Trip plans")
	require.NoError(t, err)

	list, err := l.ListChats(ctx, a.ID, conversation.ListOpts{})
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, l.DeleteChat(ctx, a.ID, named.ID))
	_, err = l.GetChat(ctx, a.ID, named.ID)
	require.ErrorIs(t, err, creditline.ErrChatNotFound)

	_, err = l.CreateChat(ctx, id.NewAccountID(), "")
	require.ErrorIs(t, err, creditline.ErrAccountNotFound)
}
