package plugin_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/id"
	"github.com/xraph/creditline/plugin"
)

type recorder struct {
	name     string
	admitted atomic.Int64
	settled  atomic.Int64
	fail     bool
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnTurnAdmitted(_ context.Context, _ id.AccountID, _ conversation.Kind, cost int64) error {
	r.admitted.Add(cost)
	if r.fail {
		return errors.New("boom")
	}
	return nil
}

func (r *recorder) OnTurnSettled(_ context.Context, _ *conversation.Turn, _ int64) error {
	r.settled.Add(1)
	return nil
}

type sleeper struct{}

func (sleeper) Name() string { return "sleeper" }

func (sleeper) OnTurnAdmitted(ctx context.Context, _ id.AccountID, _ conversation.Kind, _ int64) error {
	time.Sleep(time.Second)
	return nil
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := plugin.NewRegistry()
	require.NoError(t, r.Register(&recorder{name: "a"}))
	require.Error(t, r.Register(&recorder{name: "a"}))
	require.Equal(t, 1, r.Count())
	require.NotNil(t, r.Get("a"))
	require.Nil(t, r.Get("missing"))
}

func TestEmitDispatchesByInterface(t *testing.T) {
	r := plugin.NewRegistry()
	a := &recorder{name: "a"}
	b := &recorder{name: "b", fail: true}
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	ctx := context.Background()
	r.EmitTurnAdmitted(ctx, id.NewAccountID(), conversation.KindImage, 2)
	r.EmitTurnSettled(ctx, &conversation.Turn{}, 8)
	// No implementer; must be a no-op.
	r.EmitTopUpStarted(ctx, nil)

	require.Equal(t, int64(2), a.admitted.Load())
	require.Equal(t, int64(2), b.admitted.Load(), "a failing hook still runs")
	require.Equal(t, int64(1), a.settled.Load())
}

func TestEmitTimesOutSlowHooks(t *testing.T) {
	r := plugin.NewRegistry().WithTimeout(20 * time.Millisecond)
	require.NoError(t, r.Register(sleeper{}))

	start := time.Now()
	r.EmitTurnAdmitted(context.Background(), id.NewAccountID(), conversation.KindText, 1)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}
