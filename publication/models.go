// Package publication is the read projection of published images.
//
// Entries are derived from image turns flagged as published. Nothing here is
// a source of truth: every entry can be rebuilt from the conversation log.
package publication

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"

	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/id"
)

// ErrStop ends a ScanPublished walk early without reporting an error.
var ErrStop = errors.New("publication: stop scan")

// Entry is one published image.
type Entry struct {
	ChatID        id.ChatID    `json:"chat_id"`
	TurnID        id.TurnID    `json:"turn_id"`
	AccountID     id.AccountID `json:"account_id"`
	PublisherName string       `json:"publisher_name"`
	ImageURL      string       `json:"image_url"`
	PublishedAt   time.Time    `json:"published_at"`
}

// FromTurn projects a published image turn. ok is false for any other turn.
func FromTurn(c *conversation.Chat, t *conversation.Turn) (Entry, bool) {
	if !t.IsPublishedImage() {
		return Entry{}, false
	}
	return Entry{
		ChatID:        t.ChatID,
		TurnID:        t.ID,
		AccountID:     t.AccountID,
		PublisherName: c.OwnerName,
		ImageURL:      t.Reply,
		PublishedAt:   t.CreatedAt,
	}, true
}

// Store streams published images.
type Store interface {
	// ScanPublished calls fn for every published image, newest first.
	// Returning ErrStop from fn ends the scan with a nil error.
	ScanPublished(ctx context.Context, fn func(Entry) error) error
}

// PublisherGroup is every image from one publisher, newest first.
type PublisherGroup struct {
	AccountID     id.AccountID `json:"account_id"`
	PublisherName string       `json:"publisher_name"`
	Images        []Entry      `json:"images"`
	LatestAt      time.Time    `json:"latest_at"`
}

// GroupByPublisher groups newest-first entries by account. Groups are
// ordered by each publisher's most recent image and keep entry order.
func GroupByPublisher(entries []Entry) []PublisherGroup {
	key := func(e Entry) string { return e.AccountID.String() }
	grouped := lo.GroupBy(entries, key)

	return lo.Map(lo.UniqBy(entries, key), func(first Entry, _ int) PublisherGroup {
		return PublisherGroup{
			AccountID:     first.AccountID,
			PublisherName: first.PublisherName,
			Images:        grouped[key(first)],
			LatestAt:      first.PublishedAt,
		}
	})
}
