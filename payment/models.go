// Package payment models top-up transactions and the processor
// notifications that settle them.
package payment

import (
	"time"

	"github.com/xraph/creditline/id"
	"github.com/xraph/creditline/types"
)

// Status is the settlement state of a transaction.
type Status string

const (
	StatusPending Status = "pending"
	StatusSettled Status = "settled"
)

// Transaction is one attempted balance top-up. It moves from pending to
// settled exactly once and is never reversed.
type Transaction struct {
	types.Entity
	ID        id.TransactionID `json:"id"`
	AccountID id.AccountID     `json:"account_id"`
	PlanID    string           `json:"plan_id"`
	Amount    types.Money      `json:"amount"`
	Credits   int64            `json:"credits"`
	Status    Status           `json:"status"`
	SettledAt *time.Time       `json:"settled_at,omitempty"`
}

// IsSettled reports whether the credit has been applied.
func (t *Transaction) IsSettled() bool { return t.Status == StatusSettled }

// Settlement is the outcome of settling a transaction.
type Settlement struct {
	Transaction *Transaction
	// Balance is the account balance after this call. When AlreadySettled
	// is true it is the current balance, unchanged by the call.
	Balance        int64
	AlreadySettled bool
}

// NotificationStatus is the payment state reported by the processor.
type NotificationStatus string

const (
	NotificationSucceeded NotificationStatus = "succeeded"
	NotificationFailed    NotificationStatus = "failed"
	NotificationPending   NotificationStatus = "pending"
)

// Notification is a verified, decoded processor event about one transaction.
type Notification struct {
	EventID       string             `json:"event_id"`
	Type          string             `json:"type"`
	TransactionID string             `json:"transaction_id"`
	AccountID     string             `json:"account_id,omitempty"`
	PlanID        string             `json:"plan_id,omitempty"`
	AppID         string             `json:"app_id,omitempty"`
	Status        NotificationStatus `json:"status"`
}
