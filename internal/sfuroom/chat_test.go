package sfuroom

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendChatBroadcast(t *testing.T) {
	r := newTestRoom()
	_, _ = r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, false, nil)

	msg, err := r.SendChat(context.Background(), "alice@example.com#sess1", "hello room")
	require.NoError(t, err)
	assert.Equal(t, "hello room", msg.Body)
	assert.Empty(t, msg.To)
}

func TestSendChatDirectMessage(t *testing.T) {
	r := newTestRoom()
	_, _ = r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, false, nil)
	_, _ = r.Join(context.Background(), "bob@example.com", "sess2", "Bob", ModeMeeting, false, nil)

	dmEnabled := true
	r.SetPolicy(context.Background(), PolicyFields{DmEnabled: &dmEnabled})

	msg, err := r.SendChat(context.Background(), "alice@example.com#sess1", "@Bob hi there")
	require.NoError(t, err)
	assert.Equal(t, "hi there", msg.Body)
	assert.Equal(t, "bob@example.com#sess2", string(msg.To))
}

func TestSendChatDmDisabledRejected(t *testing.T) {
	r := newTestRoom()
	_, _ = r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, false, nil)
	_, _ = r.Join(context.Background(), "bob@example.com", "sess2", "Bob", ModeMeeting, false, nil)

	_, err := r.SendChat(context.Background(), "alice@example.com#sess1", "@Bob hi there")
	assert.ErrorIs(t, err, ErrDmDisabled)
}

func TestSendChatSelfAddressRejected(t *testing.T) {
	r := newTestRoom()
	_, _ = r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, false, nil)

	dmEnabled := true
	r.SetPolicy(context.Background(), PolicyFields{DmEnabled: &dmEnabled})

	_, err := r.SendChat(context.Background(), "alice@example.com#sess1", "@Alice talking to myself")
	assert.ErrorIs(t, err, ErrCannotMessageSelf)
}

func TestSendChatAmbiguousTarget(t *testing.T) {
	r := newTestRoom()
	_, _ = r.Join(context.Background(), "alice@example.com", "sess1", "Sam", ModeMeeting, false, nil)
	_, _ = r.Join(context.Background(), "carol@example.com", "sess2", "Sam", ModeMeeting, false, nil)
	_, _ = r.Join(context.Background(), "dan@example.com", "sess3", "Dan", ModeMeeting, false, nil)

	dmEnabled := true
	r.SetPolicy(context.Background(), PolicyFields{DmEnabled: &dmEnabled})

	_, err := r.SendChat(context.Background(), "dan@example.com#sess3", "@Sam hello")
	var ambiguous *ErrTargetAmbiguous
	require.ErrorAs(t, err, &ambiguous)
	assert.Len(t, ambiguous.Candidates, 2)
}

func TestSendChatLockedRejectsNonAdmin(t *testing.T) {
	r := newTestRoom()
	_, _ = r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, true, nil)
	_, _ = r.Join(context.Background(), "bob@example.com", "sess2", "Bob", ModeMeeting, false, nil)

	chatLocked := true
	r.SetPolicy(context.Background(), PolicyFields{ChatLocked: &chatLocked})

	_, err := r.SendChat(context.Background(), "bob@example.com#sess2", "can I talk?")
	assert.ErrorIs(t, err, ErrChatLocked)

	_, err = r.SendChat(context.Background(), "alice@example.com#sess1", "host can talk")
	require.NoError(t, err)
}

func TestSendChatTooLong(t *testing.T) {
	r := newTestRoom()
	_, _ = r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, false, nil)

	_, err := r.SendChat(context.Background(), "alice@example.com#sess1", strings.Repeat("a", 1001))
	assert.ErrorIs(t, err, ErrChatTooLong)
}

func TestSendChatDirectMessageByLocalHandle(t *testing.T) {
	r := newTestRoom()
	_, _ = r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, false, nil)
	_, _ = r.Join(context.Background(), "bob@example.com", "sess2", "Bob", ModeMeeting, false, nil)

	dmEnabled := true
	r.SetPolicy(context.Background(), PolicyFields{DmEnabled: &dmEnabled})

	msg, err := r.SendChat(context.Background(), "alice@example.com#sess1", "@bob: hi there")
	require.NoError(t, err)
	assert.Equal(t, "hi there", msg.Body)
	assert.Equal(t, "bob@example.com#sess2", string(msg.To))
}

func TestSendChatTtsDisabled(t *testing.T) {
	r := newTestRoom()
	_, _ = r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, false, nil)

	ttsDisabled := true
	r.SetPolicy(context.Background(), PolicyFields{TtsDisabled: &ttsDisabled})

	_, err := r.SendChat(context.Background(), "alice@example.com#sess1", "/tts say this")
	assert.ErrorIs(t, err, ErrTtsDisabled)
}
