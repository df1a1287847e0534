// Package mongo implements store.Store on MongoDB.
//
// Single-document balance changes use conditional updates. Changes that
// span documents (charging a turn, settling a transaction, appending a turn)
// run in multi-document transactions, so the deployment must be a replica
// set or a sharded cluster.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/creditline"
	"github.com/xraph/creditline/account"
	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/id"
	"github.com/xraph/creditline/payment"
	"github.com/xraph/creditline/publication"
	"github.com/xraph/creditline/store"
)

// Collection name constants.
const (
	colAccounts     = "creditline_accounts"
	colChats        = "creditline_chats"
	colTurns        = "creditline_turns"
	colTransactions = "creditline_transactions"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using MongoDB.
type Store struct {
	db *mongo.Database
}

// New wraps a database handle.
func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

// Connect dials uri and opens the named database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("creditline/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("creditline/mongo: ping: %w", err)
	}
	return New(client.Database(database)), nil
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *mongo.Database { return s.db }

func (s *Store) col(name string) *mongo.Collection { return s.db.Collection(name) }

// Migrate creates indexes for all creditline collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.col(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%w: mongo: %s indexes: %w", creditline.ErrMigrationFailed, col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.db.Client().Disconnect(context.Background())
}

// inTransaction runs fn in a multi-document transaction. The driver
// retries transient write conflicts.
func (s *Store) inTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.db.Client().StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func noDocuments(err, sentinel error) error {
	if isNoDocuments(err) {
		return sentinel
	}
	return err
}

func now() time.Time {
	return time.Now().UTC()
}

func findOptions(sort bson.D, offset, limit int) *options.FindOptionsBuilder {
	opts := options.Find().SetSort(sort)
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
	return opts
}

var returnAfter = options.FindOneAndUpdate().SetReturnDocument(options.After)

// ==================== Account Store ====================

func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	_, err := s.col(colAccounts).InsertOne(ctx, toAccountModel(a))
	if mongo.IsDuplicateKeyError(err) {
		return creditline.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	var m accountModel
	err := s.col(colAccounts).FindOne(ctx, bson.M{"_id": accountID.String()}).Decode(&m)
	if err != nil {
		return nil, noDocuments(err, creditline.ErrAccountNotFound)
	}
	return fromAccountModel(&m)
}

func (s *Store) Debit(ctx context.Context, accountID id.AccountID, amount int64) (int64, error) {
	return s.debit(ctx, accountID.String(), amount)
}

// debit applies a conditional decrement; ctx may carry a session.
func (s *Store) debit(ctx context.Context, accountID string, amount int64) (int64, error) {
	var m accountModel
	err := s.col(colAccounts).FindOneAndUpdate(ctx,
		bson.M{"_id": accountID, "balance": bson.M{"$gte": amount}},
		bson.M{"$inc": bson.M{"balance": -amount}, "$set": bson.M{"updated_at": now()}},
		returnAfter,
	).Decode(&m)
	if err == nil {
		return m.Balance, nil
	}
	if !isNoDocuments(err) {
		return 0, err
	}

	if err := s.col(colAccounts).FindOne(ctx, bson.M{"_id": accountID}).Decode(&m); err != nil {
		return 0, noDocuments(err, creditline.ErrAccountNotFound)
	}
	return m.Balance, creditline.ErrInsufficientBalance
}

func (s *Store) ChargeTurn(ctx context.Context, turnID id.TurnID) (int64, error) {
	var balance int64
	err := s.inTransaction(ctx, func(ctx context.Context) error {
		var t turnModel
		err := s.col(colTurns).FindOneAndUpdate(ctx,
			bson.M{"_id": turnID.String(), "billed": false},
			bson.M{"$set": bson.M{"billed": true, "billed_at": now()}},
		).Decode(&t)
		if isNoDocuments(err) {
			if err := s.col(colTurns).FindOne(ctx, bson.M{"_id": turnID.String()}).Decode(&t); err != nil {
				return noDocuments(err, creditline.ErrTurnNotFound)
			}
			var a accountModel
			if err := s.col(colAccounts).FindOne(ctx, bson.M{"_id": t.AccountID}).Decode(&a); err != nil {
				return noDocuments(err, creditline.ErrAccountNotFound)
			}
			balance = a.Balance
			return creditline.ErrTurnAlreadyBilled
		}
		if err != nil {
			return err
		}

		// A refused debit aborts the transaction and rolls back the marker.
		balance, err = s.debit(ctx, t.AccountID, t.Cost)
		return err
	})
	return balance, err
}

// ==================== Conversation Store ====================

func (s *Store) CreateChat(ctx context.Context, c *conversation.Chat) error {
	n, err := s.col(colAccounts).CountDocuments(ctx, bson.M{"_id": c.AccountID.String()})
	if err != nil {
		return err
	}
	if n == 0 {
		return creditline.ErrAccountNotFound
	}
	_, err = s.col(colChats).InsertOne(ctx, toChatModel(c))
	if mongo.IsDuplicateKeyError(err) {
		return creditline.ErrAlreadyExists
	}
	return err
}

func ownedChat(accountID id.AccountID, chatID id.ChatID) bson.M {
	return bson.M{"_id": chatID.String(), "account_id": accountID.String()}
}

func (s *Store) GetChat(ctx context.Context, accountID id.AccountID, chatID id.ChatID) (*conversation.Chat, error) {
	var m chatModel
	if err := s.col(colChats).FindOne(ctx, ownedChat(accountID, chatID)).Decode(&m); err != nil {
		return nil, noDocuments(err, creditline.ErrChatNotFound)
	}
	return fromChatModel(&m)
}

func (s *Store) ListChats(ctx context.Context, accountID id.AccountID, opts conversation.ListOpts) ([]*conversation.Chat, error) {
	cur, err := s.col(colChats).Find(ctx,
		bson.M{"account_id": accountID.String()},
		findOptions(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: -1}}, opts.Offset, opts.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("creditline/mongo: list chats: %w", err)
	}
	var models []chatModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("creditline/mongo: list chats: %w", err)
	}

	result := make([]*conversation.Chat, len(models))
	for i := range models {
		c, err := fromChatModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

func (s *Store) DeleteChat(ctx context.Context, accountID id.AccountID, chatID id.ChatID) error {
	return s.inTransaction(ctx, func(ctx context.Context) error {
		res, err := s.col(colChats).DeleteOne(ctx, ownedChat(accountID, chatID))
		if err != nil {
			return err
		}
		if res.DeletedCount == 0 {
			return creditline.ErrChatNotFound
		}
		_, err = s.col(colTurns).DeleteMany(ctx, bson.M{"chat_id": chatID.String()})
		return err
	})
}

func (s *Store) AppendTurn(ctx context.Context, t *conversation.Turn) error {
	var seq int
	err := s.inTransaction(ctx, func(ctx context.Context) error {
		var m chatModel
		err := s.col(colChats).FindOneAndUpdate(ctx,
			ownedChat(t.AccountID, t.ChatID),
			bson.M{"$inc": bson.M{"turn_count": 1}, "$max": bson.M{"updated_at": t.CreatedAt}},
			returnAfter,
		).Decode(&m)
		if err != nil {
			return noDocuments(err, creditline.ErrChatNotFound)
		}
		c, err := fromChatModel(&m)
		if err != nil {
			return err
		}

		seq = m.TurnCount
		doc := toTurnModel(c, t)
		doc.Seq = seq
		_, err = s.col(colTurns).InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			return creditline.ErrAlreadyExists
		}
		return err
	})
	if err != nil {
		return err
	}
	t.Seq = seq
	return nil
}

func (s *Store) GetTurn(ctx context.Context, turnID id.TurnID) (*conversation.Turn, error) {
	var m turnModel
	if err := s.col(colTurns).FindOne(ctx, bson.M{"_id": turnID.String()}).Decode(&m); err != nil {
		return nil, noDocuments(err, creditline.ErrTurnNotFound)
	}
	return fromTurnModel(&m)
}

func (s *Store) ListTurns(ctx context.Context, accountID id.AccountID, chatID id.ChatID) ([]*conversation.Turn, error) {
	var c chatModel
	if err := s.col(colChats).FindOne(ctx, ownedChat(accountID, chatID)).Decode(&c); err != nil {
		return nil, noDocuments(err, creditline.ErrChatNotFound)
	}
	// Appends commit whole turns, so the sequence read here is a prefix.
	return s.findTurns(ctx, bson.M{"chat_id": chatID.String()},
		findOptions(bson.D{{Key: "seq", Value: 1}}, 0, 0))
}

func (s *Store) ListUnbilledTurns(ctx context.Context, after conversation.Cursor, limit int) ([]*conversation.Turn, error) {
	filter := bson.M{"billed": false}
	if !after.IsZero() {
		filter["$or"] = bson.A{
			bson.M{"created_at": bson.M{"$gt": after.CreatedAt}},
			bson.M{"created_at": after.CreatedAt, "_id": bson.M{"$gt": after.TurnID.String()}},
		}
	}
	return s.findTurns(ctx, filter,
		findOptions(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}, 0, limit))
}

func (s *Store) findTurns(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]*conversation.Turn, error) {
	cur, err := s.col(colTurns).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("creditline/mongo: find turns: %w", err)
	}
	var models []turnModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("creditline/mongo: find turns: %w", err)
	}

	result := make([]*conversation.Turn, len(models))
	for i := range models {
		t, err := fromTurnModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = t
	}
	return result, nil
}

// ScanPublished iterates the published-image index with a cursor.
func (s *Store) ScanPublished(ctx context.Context, fn func(publication.Entry) error) error {
	cur, err := s.col(colTurns).Find(ctx,
		bson.M{"published": true, "kind": string(conversation.KindImage)},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}),
	)
	if err != nil {
		return fmt.Errorf("creditline/mongo: scan published: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var m turnModel
		if err := cur.Decode(&m); err != nil {
			return err
		}
		e, err := entryFromTurnModel(&m)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			if errors.Is(err, publication.ErrStop) {
				return nil
			}
			return err
		}
	}
	return cur.Err()
}

// ==================== Payment Store ====================

func (s *Store) CreateTransaction(ctx context.Context, t *payment.Transaction) error {
	n, err := s.col(colAccounts).CountDocuments(ctx, bson.M{"_id": t.AccountID.String()})
	if err != nil {
		return err
	}
	if n == 0 {
		return creditline.ErrAccountNotFound
	}
	_, err = s.col(colTransactions).InsertOne(ctx, toTransactionModel(t))
	if mongo.IsDuplicateKeyError(err) {
		return creditline.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetTransaction(ctx context.Context, txnID id.TransactionID) (*payment.Transaction, error) {
	var m transactionModel
	if err := s.col(colTransactions).FindOne(ctx, bson.M{"_id": txnID.String()}).Decode(&m); err != nil {
		return nil, noDocuments(err, creditline.ErrTransactionNotFound)
	}
	return fromTransactionModel(&m)
}

func (s *Store) ListTransactions(ctx context.Context, accountID id.AccountID, opts payment.ListOpts) ([]*payment.Transaction, error) {
	filter := bson.M{"account_id": accountID.String()}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	cur, err := s.col(colTransactions).Find(ctx, filter,
		findOptions(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}, opts.Offset, opts.Limit))
	if err != nil {
		return nil, fmt.Errorf("creditline/mongo: list transactions: %w", err)
	}
	var models []transactionModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("creditline/mongo: list transactions: %w", err)
	}

	result := make([]*payment.Transaction, len(models))
	for i := range models {
		t, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = t
	}
	return result, nil
}

func (s *Store) SettleTransaction(ctx context.Context, txnID id.TransactionID) (*payment.Settlement, error) {
	var out *payment.Settlement
	err := s.inTransaction(ctx, func(ctx context.Context) error {
		t := now()
		var m transactionModel
		err := s.col(colTransactions).FindOneAndUpdate(ctx,
			bson.M{"_id": txnID.String(), "status": string(payment.StatusPending)},
			bson.M{"$set": bson.M{
				"status":     string(payment.StatusSettled),
				"settled_at": t,
				"updated_at": t,
			}},
			returnAfter,
		).Decode(&m)
		settled := err == nil
		if isNoDocuments(err) {
			err = s.col(colTransactions).FindOne(ctx, bson.M{"_id": txnID.String()}).Decode(&m)
		}
		if err != nil {
			return noDocuments(err, creditline.ErrTransactionNotFound)
		}

		var a accountModel
		if settled {
			err = s.col(colAccounts).FindOneAndUpdate(ctx,
				bson.M{"_id": m.AccountID},
				bson.M{"$inc": bson.M{"balance": m.Credits}, "$set": bson.M{"updated_at": t}},
				returnAfter,
			).Decode(&a)
		} else {
			err = s.col(colAccounts).FindOne(ctx, bson.M{"_id": m.AccountID}).Decode(&a)
		}
		if err != nil {
			return noDocuments(err, creditline.ErrAccountNotFound)
		}

		txn, err := fromTransactionModel(&m)
		if err != nil {
			return err
		}
		out = &payment.Settlement{Transaction: txn, Balance: a.Balance, AlreadySettled: !settled}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ==================== Migration ====================

func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colChats: {
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "updated_at", Value: -1}}},
		},
		colTurns: {
			{
				Keys:    bson.D{{Key: "chat_id", Value: 1}, {Key: "seq", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
				Options: options.Index().SetPartialFilterExpression(bson.M{"billed": false}),
			},
			{
				Keys: bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
				Options: options.Index().SetPartialFilterExpression(bson.M{
					"published": true,
					"kind":      string(conversation.KindImage),
				}),
			},
		},
		colTransactions: {
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}
}
