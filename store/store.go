// Package store defines the unified persistence interface behind the
// creditline engine. Drivers live in subpackages: memory, badger, postgres
// and mongo.
package store

import (
	"context"

	"github.com/xraph/creditline/account"
	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/id"
	"github.com/xraph/creditline/payment"
	"github.com/xraph/creditline/publication"
)

// Store is the unified storage interface for all creditline entities.
//
// Balance mutations (Debit, ChargeTurn, SettleTransaction) must be atomic
// with respect to each other for the same account and must never let the
// balance drop below zero.
type Store interface {
	account.Store
	conversation.Store
	payment.Store
	publication.Store

	// ChargeTurn debits the turn's cost from its account and marks the turn
	// billed, in one atomic step. It fails with ErrInsufficientBalance when
	// the balance no longer covers the cost and with ErrTurnAlreadyBilled
	// when the turn was charged before. Returns the new balance.
	ChargeTurn(ctx context.Context, turnID id.TurnID) (int64, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
