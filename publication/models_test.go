package publication_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/id"
	"github.com/xraph/creditline/publication"
)

func TestFromTurn(t *testing.T) {
	req := require.New(t)
	chat := &conversation.Chat{ID: id.NewChatID(), AccountID: id.NewAccountID(), OwnerName: "ada"}

	img := &conversation.Turn{
		ID: id.NewTurnID(), ChatID: chat.ID, AccountID: chat.AccountID,
		Kind: conversation.KindImage, Reply: "https://img/1.png", Published: true,
		CreatedAt: time.Now(),
	}
	e, ok := publication.FromTurn(chat, img)
	req.True(ok)
	req.Equal("ada", e.PublisherName)
	req.Equal("https://img/1.png", e.ImageURL)

	img.Published = false
	_, ok = publication.FromTurn(chat, img)
	req.False(ok)

	text := &conversation.Turn{Kind: conversation.KindText, Published: true}
	_, ok = publication.FromTurn(chat, text)
	req.False(ok)
}

func TestGroupByPublisher(t *testing.T) {
	req := require.New(t)
	alice, bob := id.NewAccountID(), id.NewAccountID()
	now := time.Now()

	entries := []publication.Entry{
		{AccountID: bob, PublisherName: "bob", ImageURL: "b2", PublishedAt: now},
		{AccountID: alice, PublisherName: "alice", ImageURL: "a2", PublishedAt: now.Add(-time.Minute)},
		{AccountID: bob, PublisherName: "bob", ImageURL: "b1", PublishedAt: now.Add(-2 * time.Minute)},
		{AccountID: alice, PublisherName: "alice", ImageURL: "a1", PublishedAt: now.Add(-3 * time.Minute)},
	}

	groups := publication.GroupByPublisher(entries)
	req.Len(groups, 2)

	req.Equal("bob", groups[0].PublisherName)
	req.Equal(now, groups[0].LatestAt)
	req.Equal([]string{"b2", "b1"}, []string{groups[0].Images[0].ImageURL, groups[0].Images[1].ImageURL})

	req.Equal("alice", groups[1].PublisherName)
	req.Equal([]string{"a2", "a1"}, []string{groups[1].Images[0].ImageURL, groups[1].Images[1].ImageURL})
}

func TestGroupByPublisherEmpty(t *testing.T) {
	require.Empty(t, publication.GroupByPublisher(nil))
}
