package creditline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/gateway"
	"github.com/xraph/creditline/id"
)

// CostTable prices one turn per kind, in credits.
type CostTable map[conversation.Kind]int64

// DefaultCostTable charges 1 credit for text and 2 for an image.
func DefaultCostTable() CostTable {
	return CostTable{
		conversation.KindText:  1,
		conversation.KindImage: 2,
	}
}

// Cost returns the price of kind.
func (c CostTable) Cost(kind conversation.Kind) (int64, bool) {
	cost, ok := c[kind]
	return cost, ok && cost > 0
}

// WithCostTable replaces the per-kind prices.
func WithCostTable(t CostTable) Option {
	return func(l *Ledger) { l.costs = t }
}

// WithGenerationTimeout bounds each gateway call.
func WithGenerationTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.generationTimeout = d }
}

// TurnState is the pipeline stage a submission reached.
type TurnState string

const (
	TurnAdmitted   TurnState = "admitted"
	TurnGenerating TurnState = "generating"
	TurnAppended   TurnState = "appended"
	TurnSettled    TurnState = "settled"
	TurnRejected   TurnState = "rejected"
	TurnFailed     TurnState = "failed"
)

// TurnRequest is one prompt submitted to a chat.
type TurnRequest struct {
	AccountID id.AccountID      `json:"-"`
	ChatID    id.ChatID         `json:"chat_id"`
	Kind      conversation.Kind `json:"kind"   validate:"required,oneof=text image"`
	Prompt    string            `json:"prompt" validate:"required,max=8000"`
	// Publish lists an image reply in the publication index. Ignored for text.
	Publish bool `json:"is_published"`
}

// TurnResult is a delivered turn.
type TurnResult struct {
	Turn    *conversation.Turn   `json:"turn"`
	Reply   conversation.Message `json:"reply"`
	State   TurnState            `json:"state"`
	Balance int64                `json:"balance"`
	// Unbilled is set when the turn was stored but its charge could not be
	// applied. It is for operators; clients see an ordinary reply.
	Unbilled    bool  `json:"-"`
	ChargeError error `json:"-"`
}

func (l *Ledger) validateTurn(req TurnRequest) error {
	if req.AccountID.IsNil() {
		return ValidationError{Field: "account_id", Message: "required"}
	}
	if req.ChatID.IsNil() {
		return ValidationError{Field: "chat_id", Message: "required"}
	}
	if err := l.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

// SubmitTurn runs one prompt through admission, generation, append and
// charge. The balance is only debited after the turn is durably stored, and
// nothing is stored or charged when generation fails.
func (l *Ledger) SubmitTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if err := l.validateTurn(req); err != nil {
		return nil, err
	}

	chat, err := l.store.GetChat(ctx, req.AccountID, req.ChatID)
	if err != nil {
		return nil, persistErr("get chat", err)
	}

	cost, ok := l.costs.Cost(req.Kind)
	if !ok {
		return nil, ValidationError{Field: "kind", Message: fmt.Sprintf("no price for %q", req.Kind)}
	}

	// admitted
	balance, err := l.Balance(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if balance < cost {
		l.logger.Info("turn rejected",
			"account_id", req.AccountID.String(),
			"kind", req.Kind,
			"cost", cost,
			"balance", balance,
		)
		l.plugins.EmitTurnRejected(ctx, req.AccountID, req.Kind, cost, balance)
		return nil, ErrInsufficientBalance
	}
	l.plugins.EmitTurnAdmitted(ctx, req.AccountID, req.Kind, cost)

	// generating
	reply, err := l.generate(ctx, req)
	if err != nil {
		l.logger.Warn("turn generation failed",
			"account_id", req.AccountID.String(),
			"chat_id", req.ChatID.String(),
			"kind", req.Kind,
			"error", err,
		)
		l.plugins.EmitTurnFailed(ctx, req.AccountID, req.Kind, err)
		return nil, err
	}

	// The produced turn is committed even if the caller goes away now.
	commitCtx := context.WithoutCancel(ctx)

	turn := &conversation.Turn{
		ID:        id.NewTurnID(),
		ChatID:    chat.ID,
		AccountID: req.AccountID,
		Kind:      req.Kind,
		Prompt:    req.Prompt,
		Reply:     reply.Content,
		Published: req.Publish && req.Kind == conversation.KindImage,
		Cost:      cost,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.store.AppendTurn(commitCtx, turn); err != nil {
		err = persistErr("append turn", err)
		l.logger.Error("turn append failed",
			"account_id", req.AccountID.String(),
			"chat_id", req.ChatID.String(),
			"error", err,
		)
		l.plugins.EmitTurnFailed(commitCtx, req.AccountID, req.Kind, err)
		return nil, err
	}
	if turn.IsPublishedImage() {
		l.invalidatePublished(commitCtx)
	}

	result := &TurnResult{
		Turn:    turn,
		Reply:   turn.Messages()[1],
		State:   TurnAppended,
		Balance: balance,
	}

	// settled
	balance, err = l.store.ChargeTurn(commitCtx, turn.ID)
	if err != nil {
		result.Unbilled = true
		result.ChargeError = persistErr("charge turn", err)
		l.logger.Warn("turn delivered unbilled",
			"turn_id", turn.ID.String(),
			"account_id", req.AccountID.String(),
			"cost", cost,
			"error", fmt.Errorf("%w: %w", ErrUnbilledTurn, result.ChargeError),
		)
		l.plugins.EmitTurnUnbilled(commitCtx, turn, result.ChargeError)
		return result, nil
	}

	now := time.Now().UTC()
	turn.Billed = true
	turn.BilledAt = &now
	result.State = TurnSettled
	result.Balance = balance

	l.logger.Debug("turn settled",
		"turn_id", turn.ID.String(),
		"account_id", req.AccountID.String(),
		"cost", cost,
		"balance", balance,
	)
	l.plugins.EmitTurnSettled(commitCtx, turn, balance)
	return result, nil
}

// generate calls the gateway under the generation timeout and checks the
// reply is usable.
func (l *Ledger) generate(ctx context.Context, req TurnRequest) (gateway.Result, error) {
	if l.gateway == nil {
		return gateway.Result{}, fmt.Errorf("%w: no gateway configured", ErrGatewayFailure)
	}

	gctx := ctx
	if l.generationTimeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, l.generationTimeout)
		defer cancel()
	}

	res, err := l.gateway.Generate(gctx, gateway.Request{Kind: req.Kind, Prompt: req.Prompt})
	if err != nil {
		if _, ok := gateway.AsFailure(err); !ok {
			kind := gateway.FailureRejected
			if errors.Is(err, context.DeadlineExceeded) {
				kind = gateway.FailureTimeout
			}
			err = &gateway.Failure{Kind: kind, Backend: "unknown", Err: err}
		}
		return gateway.Result{}, fmt.Errorf("%w: %w", ErrGatewayFailure, err)
	}

	if res.Content == "" || res.IsImage != (req.Kind == conversation.KindImage) {
		return gateway.Result{}, fmt.Errorf("%w: %w", ErrGatewayFailure, &gateway.Failure{
			Kind:    gateway.FailureMalformed,
			Backend: "unknown",
			Err:     errors.New("reply does not match request kind"),
		})
	}
	return res, nil
}
