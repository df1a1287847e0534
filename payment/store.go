package payment

import (
	"context"

	"github.com/xraph/creditline/id"
)

// Store persists transactions. SettleTransaction is the idempotency
// boundary for payment credits.
type Store interface {
	CreateTransaction(ctx context.Context, t *Transaction) error
	GetTransaction(ctx context.Context, txnID id.TransactionID) (*Transaction, error)
	// ListTransactions returns the account's transactions, newest first.
	ListTransactions(ctx context.Context, accountID id.AccountID, opts ListOpts) ([]*Transaction, error)
	// SettleTransaction marks a pending transaction settled and credits its
	// Credits to the owning account in one atomic step. A settled
	// transaction is left untouched and reported with AlreadySettled.
	SettleTransaction(ctx context.Context, txnID id.TransactionID) (*Settlement, error)
}

// ListOpts pages a transaction listing.
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
