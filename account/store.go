package account

import (
	"context"

	"github.com/xraph/creditline/id"
)

// Store persists accounts and applies atomic balance debits.
type Store interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, accountID id.AccountID) (*Account, error)
	// Debit decrements the balance by amount only if the balance covers it,
	// in one indivisible step, and returns the new balance.
	Debit(ctx context.Context, accountID id.AccountID, amount int64) (int64, error)
}
