// Package account holds the balance-bearing identity every turn is billed to.
package account

import (
	"github.com/xraph/creditline/id"
	"github.com/xraph/creditline/types"
)

// Account is a prepaid credit balance. Balance never goes below zero; it
// changes only through a turn charge, a direct debit, or a transaction
// settlement.
type Account struct {
	types.Entity
	ID      id.AccountID `json:"id"`
	Name    string       `json:"name"`
	Balance int64        `json:"balance"`
}

// Covers reports whether the balance is at least cost.
func (a *Account) Covers(cost int64) bool {
	return a.Balance >= cost
}
