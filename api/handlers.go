package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/xraph/creditline"
	"github.com/xraph/creditline/account"
	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/id"
	"github.com/xraph/creditline/webhook"
)

// ──────────────────────────────────────────────────
// Requests
// ──────────────────────────────────────────────────

// CreateChatRequest names a new chat. An empty name gets the default.
type CreateChatRequest struct {
	Name string `json:"name" validate:"max=100"`
}

// DeleteChatRequest identifies the chat to delete.
type DeleteChatRequest struct {
	ChatID string `json:"chatId" validate:"required"`
}

// MessageRequest submits one prompt to a chat.
type MessageRequest struct {
	ChatID      string `json:"chatId"      validate:"required"`
	Prompt      string `json:"prompt"      validate:"required"`
	IsPublished bool   `json:"isPublished"`
}

// PurchaseRequest starts a top-up for a plan.
type PurchaseRequest struct {
	PlanID string `json:"planId" validate:"required"`
}

// ChatView is a chat with its message log.
type ChatView struct {
	*conversation.Chat
	Messages []conversation.Message `json:"messages"`
}

// UserView is the caller's account as shown to clients.
type UserView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Credits int64  `json:"credits"`
}

func principal(r *http.Request) *account.Account {
	a, _ := Principal(r.Context())
	return a
}

func parseChatID(raw string) (id.ChatID, error) {
	chatID, err := id.ParseChatID(raw)
	if err != nil {
		return id.Nil, creditline.ValidationError{Field: "chatId", Message: err.Error()}
	}
	return chatID, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, creditline.ValidationError{Field: key, Message: "must be a non-negative integer"}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Health
// ──────────────────────────────────────────────────

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Store().Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		s.json(w, http.StatusServiceUnavailable, envelope{"success": false, "status": "unavailable"})
		return
	}
	s.ok(w, http.StatusOK, envelope{"status": "ok"})
}

// ──────────────────────────────────────────────────
// Chats
// ──────────────────────────────────────────────────

func (s *Server) createChat(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if r.ContentLength != 0 {
		if err := s.decode(r, &req); err != nil {
			s.error(w, r, err)
			return
		}
	}

	c, err := s.ledger.CreateChat(r.Context(), principal(r).ID, req.Name)
	if err != nil {
		s.error(w, r, err)
		return
	}
	s.ok(w, http.StatusCreated, envelope{
		"message": "Chat created successfully",
		"chat":    ChatView{Chat: c, Messages: []conversation.Message{}},
	})
}

func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.error(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.error(w, r, err)
		return
	}

	owner := principal(r).ID
	chats, err := s.ledger.ListChats(r.Context(), owner, conversation.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		s.error(w, r, err)
		return
	}

	views := make([]ChatView, 0, len(chats))
	for _, c := range chats {
		msgs, err := s.ledger.Messages(r.Context(), owner, c.ID)
		if err != nil {
			if creditline.IsNotFound(err) {
				// Deleted since the listing.
				continue
			}
			s.error(w, r, err)
			return
		}
		views = append(views, ChatView{Chat: c, Messages: msgs})
	}
	s.ok(w, http.StatusOK, envelope{"chats": views})
}

func (s *Server) deleteChat(w http.ResponseWriter, r *http.Request) {
	var req DeleteChatRequest
	if err := s.decode(r, &req); err != nil {
		s.error(w, r, err)
		return
	}
	chatID, err := parseChatID(req.ChatID)
	if err != nil {
		s.error(w, r, err)
		return
	}

	if err := s.ledger.DeleteChat(r.Context(), principal(r).ID, chatID); err != nil {
		s.error(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, envelope{"message": "Chat deleted successfully"})
}

// ──────────────────────────────────────────────────
// Messages
// ──────────────────────────────────────────────────

func (s *Server) textMessage(w http.ResponseWriter, r *http.Request) {
	s.message(w, r, conversation.KindText)
}

func (s *Server) imageMessage(w http.ResponseWriter, r *http.Request) {
	s.message(w, r, conversation.KindImage)
}

func (s *Server) message(w http.ResponseWriter, r *http.Request, kind conversation.Kind) {
	var req MessageRequest
	if err := s.decode(r, &req); err != nil {
		s.error(w, r, err)
		return
	}
	chatID, err := parseChatID(req.ChatID)
	if err != nil {
		s.error(w, r, err)
		return
	}

	res, err := s.ledger.SubmitTurn(r.Context(), creditline.TurnRequest{
		AccountID: principal(r).ID,
		ChatID:    chatID,
		Kind:      kind,
		Prompt:    req.Prompt,
		Publish:   req.IsPublished,
	})
	if err != nil {
		s.error(w, r, err)
		return
	}

	s.ok(w, http.StatusOK, envelope{
		"reply":   res.Reply,
		"credits": res.Balance,
	})
}

// ──────────────────────────────────────────────────
// User
// ──────────────────────────────────────────────────

func (s *Server) userData(w http.ResponseWriter, r *http.Request) {
	a, err := s.ledger.GetAccount(r.Context(), principal(r).ID)
	if err != nil {
		s.error(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, envelope{
		"user": UserView{ID: a.ID.String(), Name: a.Name, Credits: a.Balance},
	})
}

func (s *Server) publishedImages(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.error(w, r, err)
		return
	}

	if r.URL.Query().Get("group") == "publisher" {
		groups, err := s.ledger.PublishedByPublisher(r.Context(), limit)
		if err != nil {
			s.error(w, r, err)
			return
		}
		s.ok(w, http.StatusOK, envelope{"publishers": groups})
		return
	}

	images, err := s.ledger.PublishedImages(r.Context(), limit)
	if err != nil {
		s.error(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, envelope{"images": images})
}

// ──────────────────────────────────────────────────
// Credits
// ──────────────────────────────────────────────────

func (s *Server) plans(w http.ResponseWriter, _ *http.Request) {
	s.ok(w, http.StatusOK, envelope{"plans": s.ledger.Plans()})
}

func (s *Server) purchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := s.decode(r, &req); err != nil {
		s.error(w, r, err)
		return
	}

	top, err := s.ledger.BeginTopUp(r.Context(), principal(r).ID, req.PlanID)
	if err != nil {
		s.error(w, r, err)
		return
	}
	s.ok(w, http.StatusCreated, envelope{
		"transaction": top.Transaction,
		"metadata":    top.Metadata,
	})
}

// webhook hands the raw body to the reconciler; the signature covers the
// exact bytes received.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		s.error(w, r, creditline.ValidationError{Field: "body", Message: "unreadable"})
		return
	}

	res, err := s.ledger.Reconcile(r.Context(), payload, r.Header.Get(webhook.SignatureHeader))
	if err != nil {
		s.error(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, envelope{
		"received": true,
		"outcome":  res.Outcome,
	})
}
