package mongo

import (
	"time"

	"github.com/xraph/creditline/account"
	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/id"
	"github.com/xraph/creditline/payment"
	"github.com/xraph/creditline/publication"
	"github.com/xraph/creditline/types"
)

// ==================== Account models ====================

type accountModel struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Balance   int64     `bson:"balance"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func toAccountModel(a *account.Account) *accountModel {
	return &accountModel{
		ID:        a.ID.String(),
		Name:      a.Name,
		Balance:   a.Balance,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func fromAccountModel(m *accountModel) (*account.Account, error) {
	accountID, err := id.ParseAccountID(m.ID)
	if err != nil {
		return nil, err
	}
	return &account.Account{
		Entity:  types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:      accountID,
		Name:    m.Name,
		Balance: m.Balance,
	}, nil
}

// ==================== Chat models ====================

type chatModel struct {
	ID        string    `bson:"_id"`
	AccountID string    `bson:"account_id"`
	Name      string    `bson:"name"`
	OwnerName string    `bson:"owner_name"`
	TurnCount int       `bson:"turn_count"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func toChatModel(c *conversation.Chat) *chatModel {
	return &chatModel{
		ID:        c.ID.String(),
		AccountID: c.AccountID.String(),
		Name:      c.Name,
		OwnerName: c.OwnerName,
		TurnCount: c.TurnCount,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func fromChatModel(m *chatModel) (*conversation.Chat, error) {
	chatID, err := id.ParseChatID(m.ID)
	if err != nil {
		return nil, err
	}
	accountID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	return &conversation.Chat{
		Entity:    types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:        chatID,
		AccountID: accountID,
		Name:      m.Name,
		OwnerName: m.OwnerName,
		TurnCount: m.TurnCount,
	}, nil
}

// ==================== Turn models ====================

// turnModel carries the publisher name so the published index needs no
// lookup into chats.
type turnModel struct {
	ID            string     `bson:"_id"`
	ChatID        string     `bson:"chat_id"`
	AccountID     string     `bson:"account_id"`
	Seq           int        `bson:"seq"`
	Kind          string     `bson:"kind"`
	Prompt        string     `bson:"prompt"`
	Reply         string     `bson:"reply"`
	Published     bool       `bson:"published"`
	PublisherName string     `bson:"publisher_name"`
	Cost          int64      `bson:"cost"`
	Billed        bool       `bson:"billed"`
	BilledAt      *time.Time `bson:"billed_at,omitempty"`
	CreatedAt     time.Time  `bson:"created_at"`
}

func toTurnModel(c *conversation.Chat, t *conversation.Turn) *turnModel {
	return &turnModel{
		ID:            t.ID.String(),
		ChatID:        t.ChatID.String(),
		AccountID:     t.AccountID.String(),
		Seq:           t.Seq,
		Kind:          string(t.Kind),
		Prompt:        t.Prompt,
		Reply:         t.Reply,
		Published:     t.Published,
		PublisherName: c.OwnerName,
		Cost:          t.Cost,
		Billed:        t.Billed,
		BilledAt:      t.BilledAt,
		CreatedAt:     t.CreatedAt,
	}
}

func fromTurnModel(m *turnModel) (*conversation.Turn, error) {
	turnID, err := id.ParseTurnID(m.ID)
	if err != nil {
		return nil, err
	}
	chatID, err := id.ParseChatID(m.ChatID)
	if err != nil {
		return nil, err
	}
	accountID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	return &conversation.Turn{
		ID:        turnID,
		ChatID:    chatID,
		AccountID: accountID,
		Seq:       m.Seq,
		Kind:      conversation.Kind(m.Kind),
		Prompt:    m.Prompt,
		Reply:     m.Reply,
		Published: m.Published,
		Cost:      m.Cost,
		Billed:    m.Billed,
		BilledAt:  m.BilledAt,
		CreatedAt: m.CreatedAt,
	}, nil
}

func entryFromTurnModel(m *turnModel) (publication.Entry, error) {
	t, err := fromTurnModel(m)
	if err != nil {
		return publication.Entry{}, err
	}
	return publication.Entry{
		ChatID:        t.ChatID,
		TurnID:        t.ID,
		AccountID:     t.AccountID,
		PublisherName: m.PublisherName,
		ImageURL:      t.Reply,
		PublishedAt:   t.CreatedAt,
	}, nil
}

// ==================== Transaction models ====================

type transactionModel struct {
	ID        string     `bson:"_id"`
	AccountID string     `bson:"account_id"`
	PlanID    string     `bson:"plan_id"`
	Amount    int64      `bson:"amount"`
	Currency  string     `bson:"currency"`
	Credits   int64      `bson:"credits"`
	Status    string     `bson:"status"`
	SettledAt *time.Time `bson:"settled_at,omitempty"`
	CreatedAt time.Time  `bson:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at"`
}

func toTransactionModel(t *payment.Transaction) *transactionModel {
	return &transactionModel{
		ID:        t.ID.String(),
		AccountID: t.AccountID.String(),
		PlanID:    t.PlanID,
		Amount:    t.Amount.Amount,
		Currency:  t.Amount.Currency,
		Credits:   t.Credits,
		Status:    string(t.Status),
		SettledAt: t.SettledAt,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func fromTransactionModel(m *transactionModel) (*payment.Transaction, error) {
	txnID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, err
	}
	accountID, err := id.ParseAccountID(m.AccountID)
	if err != nil {
		return nil, err
	}
	return &payment.Transaction{
		Entity:    types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:        txnID,
		AccountID: accountID,
		PlanID:    m.PlanID,
		Amount:    types.Money{Amount: m.Amount, Currency: m.Currency},
		Credits:   m.Credits,
		Status:    payment.Status(m.Status),
		SettledAt: m.SettledAt,
	}, nil
}
