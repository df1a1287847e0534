// Package creditline is a credit-metered message pipeline for a
// conversational assistant, with exactly-once reconciliation of payment
// notifications into account credit.
//
// Every prompt is admitted against the account's prepaid balance, sent to a
// generation backend, appended to the chat as one durable turn, and only
// then charged. A failed generation or a failed append costs nothing.
// Payment notifications are authenticated, matched to a pending top-up
// transaction and settled at most once no matter how often they arrive.
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/creditline"
//	    "github.com/xraph/creditline/gateway"
//	    "github.com/xraph/creditline/store/badger"
//	)
//
//	s, err := badger.Open("/var/lib/creditline")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	l := creditline.New(s,
//	    creditline.WithGateway(gateway.NewMux(
//	        gateway.NewGeminiClient(geminiKey),
//	        gateway.NewImageKitClient(ikEndpoint, ikPublicKey, ikPrivateKey),
//	    )),
//	    creditline.WithWebhookSecret(whsec),
//	)
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
// # Turns
//
// A turn is one prompt plus its reply. SubmitTurn walks it through
// admitted, generating, appended and settled; it ends in rejected when the
// balance cannot cover the cost and in failed when generation or the
// append fails:
//
//	res, err := l.SubmitTurn(ctx, creditline.TurnRequest{
//	    AccountID: acct,
//	    ChatID:    chat,
//	    Kind:      conversation.KindText,
//	    Prompt:    "hello",
//	})
//
// Text costs 1 credit and images 2 by default (WithCostTable). When the
// balance drops below the cost between admission and charge, the reply is
// still delivered and the turn stays unbilled. The sweeper retries those
// charges every WithSweepInterval.
//
// # Payments
//
// BeginTopUp records a pending transaction for a plan and returns the
// metadata to attach to the checkout session. Reconcile verifies the
// processor's signed notification and settles the transaction:
//
//	res, err := l.Reconcile(ctx, body, r.Header.Get(webhook.SignatureHeader))
//
// # Stores
//
// Drivers live under store/: memory (tests), badger (embedded), postgres
// (pgx) and mongo. Every driver applies balance changes atomically and
// never lets a balance go negative.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	acct_01h2xcejqtf2nbrexx3vqjhp41  // Account ID
//	chat_01h2xcejqtf2nbrexx3vqjhp41  // Chat ID
//	txn_01h455vb4pex5vsknk084sn02q   // Transaction ID
package creditline
