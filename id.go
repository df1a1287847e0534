package creditline

import "github.com/xraph/creditline/id"

// ID is the primary identifier type for all creditline entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix

// Typed identifier aliases.
type (
	AccountID     = id.AccountID
	ChatID        = id.ChatID
	TurnID        = id.TurnID
	TransactionID = id.TransactionID
)
