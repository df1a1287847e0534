package audithook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xraph/creditline"
	audithook "github.com/xraph/creditline/audit_hook"
	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/gateway"
	"github.com/xraph/creditline/id"
	"github.com/xraph/creditline/store/memory"
)

type trail struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
}

func (tr *trail) Record(_ context.Context, e *audithook.AuditEvent) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.events = append(tr.events, e)
	return nil
}

func (tr *trail) actions() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]string, 0, len(tr.events))
	for _, e := range tr.events {
		out = append(out, e.Action)
	}
	return out
}

var reply = gateway.GeneratorFunc(func(context.Context, gateway.Request) (gateway.Result, error) {
	return gateway.Result{Content: "ok"}, nil
})

func TestExtensionRecordsLifecycle(t *testing.T) {
	tr := &trail{}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := creditline.New(memory.New(),
		creditline.WithLogger(quiet),
		creditline.WithGateway(reply),
		creditline.WithSweepInterval(0),
		creditline.WithInitialCredits(1),
		creditline.WithPlugin(audithook.New(tr, audithook.WithLogger(quiet))),
	)
	ctx := context.Background()
	require.NoError(t, l.Start(ctx))
	defer func() { _ = l.Stop() }()

	a, err := l.OpenAccount(ctx, id.NewAccountID(), "ada")
	require.NoError(t, err)
	c, err := l.CreateChat(ctx, a.ID, "")
	require.NoError(t, err)

	req := creditline.TurnRequest{AccountID: a.ID, ChatID: c.ID, Kind: conversation.KindText, Prompt: "hi"}
	_, err = l.SubmitTurn(ctx, req)
	require.NoError(t, err)
	_, err = l.SubmitTurn(ctx, req)
	require.ErrorIs(t, err, creditline.ErrInsufficientBalance)

	require.Equal(t, []string{
		audithook.ActionAccountOpened,
		audithook.ActionChatCreated,
		audithook.ActionTurnSettled,
		audithook.ActionTurnRejected,
	}, tr.actions())

	tr.mu.Lock()
	settled := tr.events[2]
	tr.mu.Unlock()
	require.Equal(t, audithook.SeverityInfo, settled.Severity)
	require.Equal(t, int64(0), settled.Metadata["balance"])
}

func TestExtensionActionFilters(t *testing.T) {
	ctx := context.Background()

	tr := &trail{}
	only := audithook.New(tr, audithook.WithEnabledActions(audithook.ActionNotificationRejected))
	require.NoError(t, only.OnChatDeleted(ctx, id.NewAccountID(), id.NewChatID()))
	require.NoError(t, only.OnNotificationRejected(ctx, errors.New("bad signature")))
	require.Equal(t, []string{audithook.ActionNotificationRejected}, tr.actions())
	require.Equal(t, "bad signature", tr.events[0].Reason)

	tr = &trail{}
	without := audithook.New(tr, audithook.WithDisabledActions(audithook.ActionChatDeleted))
	require.NoError(t, without.OnChatDeleted(ctx, id.NewAccountID(), id.NewChatID()))
	require.NoError(t, without.OnNotificationRejected(ctx, errors.New("bad signature")))
	require.Equal(t, []string{audithook.ActionNotificationRejected}, tr.actions())
}

func TestExtensionSwallowsRecorderErrors(t *testing.T) {
	failing := audithook.RecorderFunc(func(context.Context, *audithook.AuditEvent) error {
		return errors.New("backend down")
	})
	e := audithook.New(failing, audithook.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, e.OnNotificationRejected(context.Background(), errors.New("x")))
}
