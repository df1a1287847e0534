// Package conversation models chats and their append-only turn log.
//
// A Turn is the storage unit: one user prompt and the reply generated for
// it, written in a single step. Messages are the two-entry view of a turn
// that callers render.
package conversation

import (
	"time"

	"github.com/xraph/creditline/id"
	"github.com/xraph/creditline/types"
)

// DefaultChatName is used when a chat is created without a name.
const DefaultChatName = "New Chat"

// Kind is the type of work a turn asks for.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindText || k == KindImage
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Chat is a conversation owned by exactly one account.
type Chat struct {
	types.Entity
	ID        id.ChatID    `json:"id"`
	AccountID id.AccountID `json:"account_id"`
	Name      string       `json:"name"`
	// OwnerName is the owner's display name at creation, shown on
	// published images.
	OwnerName string `json:"owner_name"`
	TurnCount int    `json:"turn_count"`
}

// Turn is one prompt and its reply. Turns are immutable once appended
// except for the billing marker, which moves from unbilled to billed once.
type Turn struct {
	ID        id.TurnID    `json:"id"`
	ChatID    id.ChatID    `json:"chat_id"`
	AccountID id.AccountID `json:"account_id"`
	// Seq is the 1-based append position within the chat.
	Seq       int        `json:"seq"`
	Kind      Kind       `json:"kind"`
	Prompt    string     `json:"prompt"`
	Reply     string     `json:"reply"`
	Published bool       `json:"published"`
	Cost      int64      `json:"cost"`
	Billed    bool       `json:"billed"`
	BilledAt  *time.Time `json:"billed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// IsImage reports whether the reply is a media reference.
func (t *Turn) IsImage() bool { return t.Kind == KindImage }

// IsPublishedImage reports whether the turn belongs in the publication index.
func (t *Turn) IsPublishedImage() bool { return t.IsImage() && t.Published }

// Message is one entry of a chat log.
type Message struct {
	TurnID      id.TurnID `json:"turn_id"`
	Position    int       `json:"position"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	IsImage     bool      `json:"is_image"`
	IsPublished bool      `json:"is_published"`
	CreatedAt   time.Time `json:"created_at"`
}

// Messages expands a turn into its user message followed by the reply.
func (t *Turn) Messages() [2]Message {
	return [2]Message{
		{
			TurnID:    t.ID,
			Position:  2*t.Seq - 1,
			Role:      RoleUser,
			Content:   t.Prompt,
			CreatedAt: t.CreatedAt,
		},
		{
			TurnID:      t.ID,
			Position:    2 * t.Seq,
			Role:        RoleAssistant,
			Content:     t.Reply,
			IsImage:     t.IsImage(),
			IsPublished: t.IsPublishedImage(),
			CreatedAt:   t.CreatedAt,
		},
	}
}

// Flatten expands turns, in order, into the chat's message log.
func Flatten(turns []*Turn) []Message {
	out := make([]Message, 0, 2*len(turns))
	for _, t := range turns {
		m := t.Messages()
		out = append(out, m[0], m[1])
	}
	return out
}
