// Package plan describes the credit packs an account can purchase.
package plan

import (
	"github.com/xraph/creditline/types"
)

// Plan is a purchasable credit pack. A settled purchase adds Credits to
// the buyer's balance exactly once.
type Plan struct {
	ID       string      `json:"id" mapstructure:"id" yaml:"id"`
	Name     string      `json:"name" mapstructure:"name" yaml:"name"`
	Price    types.Money `json:"price" mapstructure:"price" yaml:"price"`
	Credits  int64       `json:"credits" mapstructure:"credits" yaml:"credits"`
	Features []string    `json:"features" mapstructure:"features" yaml:"features"`
}

// Valid reports whether the plan can be sold.
func (p Plan) Valid() bool {
	return p.ID != "" && p.Credits > 0 && p.Price.IsPositive()
}

// Default credit packs.
var (
	Basic = Plan{
		ID:      "basic",
		Name:    "Basic",
		Price:   types.USD(1000),
		Credits: 100,
		Features: []string{
			"100 text generations",
			"50 image generations",
			"Standard support",
			"Access to basic models",
		},
	}

	Pro = Plan{
		ID:      "pro",
		Name:    "Pro",
		Price:   types.USD(2000),
		Credits: 500,
		Features: []string{
			"500 text generations",
			"200 image generations",
			"Priority support",
			"Access to pro models",
			"Faster response time",
		},
	}

	Premium = Plan{
		ID:      "premium",
		Name:    "Premium",
		Price:   types.USD(3000),
		Credits: 1000,
		Features: []string{
			"1000 text generations",
			"500 image generations",
			"24/7 VIP support",
			"Access to premium models",
			"Dedicated account manager",
		},
	}
)
