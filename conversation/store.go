package conversation

import (
	"context"
	"time"

	"github.com/xraph/creditline/id"
)

// Store is pure append/read access to chats and turns, scoped by owner.
// A chat that exists but belongs to another account is reported as not found.
type Store interface {
	CreateChat(ctx context.Context, c *Chat) error
	GetChat(ctx context.Context, accountID id.AccountID, chatID id.ChatID) (*Chat, error)
	// ListChats returns the account's chats, most recently updated first.
	ListChats(ctx context.Context, accountID id.AccountID, opts ListOpts) ([]*Chat, error)
	// DeleteChat removes the chat and every turn in it.
	DeleteChat(ctx context.Context, accountID id.AccountID, chatID id.ChatID) error

	// AppendTurn assigns t.Seq and stores the turn in one durable write,
	// bumping the chat's TurnCount and UpdatedAt.
	AppendTurn(ctx context.Context, t *Turn) error
	GetTurn(ctx context.Context, turnID id.TurnID) (*Turn, error)
	// ListTurns returns a consistent prefix of the chat's log in Seq order.
	ListTurns(ctx context.Context, accountID id.AccountID, chatID id.ChatID) ([]*Turn, error)
	// ListUnbilledTurns returns turns whose charge has not been applied and
	// that sort after the cursor, in (CreatedAt, ID) order. The zero cursor
	// starts from the oldest.
	ListUnbilledTurns(ctx context.Context, after Cursor, limit int) ([]*Turn, error)
}

// Cursor is a position in the unbilled-turn order.
type Cursor struct {
	CreatedAt time.Time
	TurnID    id.TurnID
}

// CursorAt returns the position of t.
func CursorAt(t *Turn) Cursor {
	return Cursor{CreatedAt: t.CreatedAt, TurnID: t.ID}
}

// IsZero reports whether c is the start position.
func (c Cursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.TurnID.IsNil()
}

// Before reports whether t sorts after c.
func (c Cursor) Before(t *Turn) bool {
	if c.IsZero() {
		return true
	}
	if !t.CreatedAt.Equal(c.CreatedAt) {
		return t.CreatedAt.After(c.CreatedAt)
	}
	return t.ID.String() > c.TurnID.String()
}

// ListOpts pages a chat listing.
type ListOpts struct {
	Limit  int
	Offset int
}
