package creditline

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/creditline/conversation"
)

// WithSweepInterval sets how often unbilled turns are retried. Zero
// disables the background sweeper.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Ledger) { l.sweepInterval = d }
}

// WithSweepBatchSize bounds how many unbilled turns one pass retries.
func WithSweepBatchSize(n int) Option {
	return func(l *Ledger) { l.sweepBatchSize = n }
}

// SweepReport summarizes one sweeper pass.
type SweepReport struct {
	Scanned   int
	Billed    int
	Remaining int
}

// SweepUnbilled retries the charge of the next batch of turns delivered
// without one. Each pass resumes after the last turn the previous pass
// scanned and wraps to the oldest once the end is reached, so every unbilled
// turn is retried in turn. Turns whose account still cannot cover them stay
// unbilled; their content is never removed.
func (l *Ledger) SweepUnbilled(ctx context.Context) (*SweepReport, error) {
	l.sweepMu.Lock()
	defer l.sweepMu.Unlock()

	start := time.Now()

	turns, err := l.store.ListUnbilledTurns(ctx, l.sweepCursor, l.sweepBatchSize)
	if err != nil {
		return nil, persistErr("list unbilled turns", err)
	}
	if len(turns) == 0 && !l.sweepCursor.IsZero() {
		l.sweepCursor = conversation.Cursor{}
		turns, err = l.store.ListUnbilledTurns(ctx, l.sweepCursor, l.sweepBatchSize)
		if err != nil {
			return nil, persistErr("list unbilled turns", err)
		}
	}

	switch {
	case l.sweepBatchSize <= 0, len(turns) < l.sweepBatchSize:
		l.sweepCursor = conversation.Cursor{}
	default:
		l.sweepCursor = conversation.CursorAt(turns[len(turns)-1])
	}

	report := &SweepReport{Scanned: len(turns)}
	for _, t := range turns {
		balance, err := l.store.ChargeTurn(ctx, t.ID)
		switch {
		case err == nil:
			report.Billed++
			now := time.Now().UTC()
			t.Billed = true
			t.BilledAt = &now
			l.plugins.EmitTurnSettled(ctx, t, balance)
		case errors.Is(err, ErrTurnAlreadyBilled), errors.Is(err, ErrTurnNotFound):
			// Charged or deleted since the listing.
		case errors.Is(err, ErrInsufficientBalance):
			report.Remaining++
		default:
			report.Remaining++
			l.logger.Error("unbilled turn charge failed",
				"turn_id", t.ID.String(),
				"error", err,
			)
		}
	}

	elapsed := time.Since(start)
	if report.Scanned > 0 {
		l.logger.Info("unbilled sweep completed",
			"scanned", report.Scanned,
			"billed", report.Billed,
			"remaining", report.Remaining,
			"elapsed_ms", elapsed.Milliseconds(),
		)
	}
	l.plugins.EmitSweepCompleted(ctx, report.Billed, report.Remaining, elapsed)
	return report, nil
}

// sweepWorker runs SweepUnbilled on every tick until Stop.
func (l *Ledger) sweepWorker(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			if _, err := l.SweepUnbilled(ctx); err != nil {
				l.logger.Error("unbilled sweep failed", "error", err)
			}
		}
	}
}
