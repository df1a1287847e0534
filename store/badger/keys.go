package badger

import (
	"fmt"
	"math"
	"time"

	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/id"
)

// Key layout. Time components are zero-padded so lexical order is
// chronological; "inverted" components count down so a forward iteration
// walks newest first.
//
//	account:{acct}                              account JSON
//	chat:{chat}                                 chat JSON
//	account-chat:{acct}:{chat}                  empty
//	turn:{chat}:{seq}                           turn JSON
//	turn-ref:{turn}                             turn key
//	unbilled:{createdNanos}:{turn}              empty
//	published:{invertedNanos}:{turn}            publication.Entry JSON
//	txn:{txn}                                   transaction JSON
//	account-txn:{acct}:{invertedNanos}:{txn}    empty
const (
	prefixAccount     = "account:"
	prefixChat        = "chat:"
	prefixAccountChat = "account-chat:"
	prefixTurn        = "turn:"
	prefixTurnRef     = "turn-ref:"
	prefixUnbilled    = "unbilled:"
	prefixPublished   = "published:"
	prefixTxn         = "txn:"
	prefixAccountTxn  = "account-txn:"
)

func accountKey(accountID id.AccountID) []byte {
	return []byte(prefixAccount + accountID.String())
}

func chatKey(chatID id.ChatID) []byte {
	return []byte(prefixChat + chatID.String())
}

func accountChatPrefix(accountID id.AccountID) []byte {
	return []byte(prefixAccountChat + accountID.String() + ":")
}

func accountChatKey(accountID id.AccountID, chatID id.ChatID) []byte {
	return append(accountChatPrefix(accountID), chatID.String()...)
}

func turnPrefix(chatID id.ChatID) []byte {
	return []byte(prefixTurn + chatID.String() + ":")
}

func turnKey(chatID id.ChatID, seq int) []byte {
	return append(turnPrefix(chatID), fmt.Sprintf("%010d", seq)...)
}

func turnRefKey(turnID id.TurnID) []byte {
	return []byte(prefixTurnRef + turnID.String())
}

func unbilledKey(t *conversation.Turn) []byte {
	return unbilledCursorKey(conversation.CursorAt(t))
}

func unbilledCursorKey(c conversation.Cursor) []byte {
	return fmt.Appendf(nil, "%s%020d:%s", prefixUnbilled, c.CreatedAt.UnixNano(), c.TurnID.String())
}

func publishedKey(t *conversation.Turn) []byte {
	return fmt.Appendf(nil, "%s%020d:%s", prefixPublished, inverted(t.CreatedAt), t.ID.String())
}

func txnKey(txnID id.TransactionID) []byte {
	return []byte(prefixTxn + txnID.String())
}

func accountTxnPrefix(accountID id.AccountID) []byte {
	return []byte(prefixAccountTxn + accountID.String() + ":")
}

func accountTxnKey(accountID id.AccountID, createdAt time.Time, txnID id.TransactionID) []byte {
	return fmt.Appendf(accountTxnPrefix(accountID), "%020d:%s", inverted(createdAt), txnID.String())
}

func inverted(t time.Time) int64 {
	return math.MaxInt64 - t.UnixNano()
}
