package conversation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/creditline/conversation"
	"github.com/xraph/creditline/id"
)

func TestTurnMessages(t *testing.T) {
	req := require.New(t)
	now := time.Now().UTC()

	turn := &conversation.Turn{
		ID:        id.NewTurnID(),
		Seq:       3,
		Kind:      conversation.KindImage,
		Prompt:    "a lighthouse at dusk",
		Reply:     "https://ik.example/chatgpt/images/1.png",
		Published: true,
		CreatedAt: now,
	}

	msgs := turn.Messages()
	req.Equal(conversation.RoleUser, msgs[0].Role)
	req.Equal(5, msgs[0].Position)
	req.False(msgs[0].IsImage)
	req.False(msgs[0].IsPublished)

	req.Equal(conversation.RoleAssistant, msgs[1].Role)
	req.Equal(6, msgs[1].Position)
	req.True(msgs[1].IsImage)
	req.True(msgs[1].IsPublished)
	req.Equal(turn.Reply, msgs[1].Content)
}

func TestTextTurnNeverPublished(t *testing.T) {
	turn := &conversation.Turn{Kind: conversation.KindText, Published: true, Seq: 1}
	require.False(t, turn.IsPublishedImage())
	require.False(t, turn.Messages()[1].IsPublished)
}

func TestFlattenKeepsOrder(t *testing.T) {
	req := require.New(t)
	turns := []*conversation.Turn{
		{Seq: 1, Kind: conversation.KindText, Prompt: "p1", Reply: "r1"},
		{Seq: 2, Kind: conversation.KindText, Prompt: "p2", Reply: "r2"},
	}

	msgs := conversation.Flatten(turns)
	req.Len(msgs, 4)
	for i, m := range msgs {
		req.Equal(i+1, m.Position)
	}
	req.Equal([]string{"p1", "r1", "p2", "r2"},
		[]string{msgs[0].Content, msgs[1].Content, msgs[2].Content, msgs[3].Content})
}

func TestKindValid(t *testing.T) {
	require.True(t, conversation.KindText.Valid())
	require.True(t, conversation.KindImage.Valid())
	require.False(t, conversation.Kind("video").Valid())
}

func TestCursorBefore(t *testing.T) {
	req := require.New(t)
	now := time.Now().UTC()

	older := &conversation.Turn{ID: id.NewTurnID(), CreatedAt: now}
	newer := &conversation.Turn{ID: id.NewTurnID(), CreatedAt: now.Add(time.Millisecond)}

	var start conversation.Cursor
	req.True(start.IsZero())
	req.True(start.Before(older))

	at := conversation.CursorAt(older)
	req.False(at.IsZero())
	req.False(at.Before(older))
	req.True(at.Before(newer))
	req.False(conversation.CursorAt(newer).Before(older))

	// Equal timestamps fall back to the turn ID.
	a := &conversation.Turn{ID: id.MustParse("turn_01h455vb4pex5vsknk084sn02q"), CreatedAt: now}
	b := &conversation.Turn{ID: id.MustParse("turn_01h455vb4pex5vsknk084sn02r"), CreatedAt: now}
	req.True(conversation.CursorAt(a).Before(b))
	req.False(conversation.CursorAt(b).Before(a))
}
