package creditline

import (
	"context"
	"strings"

	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/id"
	"github.com/xraph/creditline/types"
)

// CreateChat starts an empty chat owned by the account. An empty name
// becomes conversation.DefaultChatName.
func (l *Ledger) CreateChat(ctx context.Context, accountID id.AccountID, name string) (*conversation.Chat, error) {
	owner, err := l.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = conversation.DefaultChatName
	}

	c := &conversation.Chat{
		Entity:    types.NewEntity(),
		ID:        id.NewChatID(),
		AccountID: accountID,
		Name:      name,
		OwnerName: owner.Name,
	}
	if err := l.store.CreateChat(ctx, c); err != nil {
		return nil, persistErr("create chat", err)
	}

	l.plugins.EmitChatCreated(ctx, c)
	return c, nil
}

// GetChat returns the chat if the account owns it.
func (l *Ledger) GetChat(ctx context.Context, accountID id.AccountID, chatID id.ChatID) (*conversation.Chat, error) {
	c, err := l.store.GetChat(ctx, accountID, chatID)
	if err != nil {
		return nil, persistErr("get chat", err)
	}
	return c, nil
}

// ListChats lists the account's chats, most recently active first.
func (l *Ledger) ListChats(ctx context.Context, accountID id.AccountID, opts conversation.ListOpts) ([]*conversation.Chat, error) {
	list, err := l.store.ListChats(ctx, accountID, opts)
	if err != nil {
		return nil, persistErr("list chats", err)
	}
	return list, nil
}

// DeleteChat removes the chat and its messages. Charges already applied to
// its turns are not refunded.
func (l *Ledger) DeleteChat(ctx context.Context, accountID id.AccountID, chatID id.ChatID) error {
	if err := l.store.DeleteChat(ctx, accountID, chatID); err != nil {
		return persistErr("delete chat", err)
	}
	l.invalidatePublished(ctx)
	l.plugins.EmitChatDeleted(ctx, accountID, chatID)
	return nil
}

// Messages returns the chat's log: each turn's user message followed by
// its reply, in append order.
func (l *Ledger) Messages(ctx context.Context, accountID id.AccountID, chatID id.ChatID) ([]conversation.Message, error) {
	turns, err := l.store.ListTurns(ctx, accountID, chatID)
	if err != nil {
		return nil, persistErr("list turns", err)
	}
	return conversation.Flatten(turns), nil
}
