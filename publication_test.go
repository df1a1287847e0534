package creditline_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xraph/creditline"
	"github.com/xraph/creditline/account"
	"github.com/xraph/creditline/conversation"
)

func submitImage(t *testing.T, l *creditline.Ledger, a *account.Account, c *conversation.Chat, prompt string, publish bool) *creditline.TurnResult {
	t.Helper()
	res, err := l.SubmitTurn(context.Background(), creditline.TurnRequest{
		AccountID: a.ID,
		ChatID:    c.ID,
		Kind:      conversation.KindImage,
		Prompt:    prompt,
		Publish:   publish,
	})
	require.NoError(t, err)
	return res
}

func TestPublishedImagesNewestFirst(t *testing.T) {
	l := newLedger(t, nil)
	ctx := context.Background()
	ada := openAccount(t, l, "ada")
	bob := openAccount(t, l, "bob")
	adaChat := newChat(t, l, ada)
	bobChat := newChat(t, l, bob)

	submitImage(t, l, ada, adaChat, "one", true)
	submitImage(t, l, bob, bobChat, "two", true)
	submitImage(t, l, ada, adaChat, "hidden", false)
	submitImage(t, l, ada, adaChat, "three", true)
	_, err := l.SubmitTurn(ctx, creditline.TurnRequest{
		AccountID: ada.ID, ChatID: adaChat.ID, Kind: conversation.KindText, Prompt: "text", Publish: true,
	})
	require.NoError(t, err)

	entries, err := l.PublishedImages(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "https://img.example/three.png", entries[0].ImageURL)
	require.Equal(t, "https://img.example/two.png", entries[1].ImageURL)
	require.Equal(t, "https://img.example/one.png", entries[2].ImageURL)
	require.Equal(t, "bob", entries[1].PublisherName)

	limited, err := l.PublishedImages(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)

	groups, err := l.PublishedByPublisher(ctx, 0)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	require.Equal(t, "ada", groups[0].PublisherName)
	require.Len(t, groups[0].Images, 2)
	require.Equal(t, "bob", groups[1].PublisherName)
	require.Len(t, groups[1].Images, 1)
}

func TestDeleteChatRemovesPublications(t *testing.T) {
	l := newLedger(t, nil)
	ctx := context.Background()
	ada := openAccount(t, l, "ada")
	c := newChat(t, l, ada)
	submitImage(t, l, ada, c, "one", true)

	before := balanceOf(t, l, ada)
	require.NoError(t, l.DeleteChat(ctx, ada.ID, c.ID))

	entries, err := l.PublishedImages(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, entries)
	// Deleting never refunds.
	require.Equal(t, before, balanceOf(t, l, ada))
}
