package sfuroom

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateIfAbsentIsIdempotent(t *testing.T) {
	reg := NewRegistry(nil, nil)
	room1, created1 := reg.CreateIfAbsent("client1", "room1")
	room2, created2 := reg.CreateIfAbsent("client1", "room1")

	assert.True(t, created1)
	assert.False(t, created2)
	assert.Same(t, room1, room2)
}

func TestResolveByRoomIdAmbiguousAcrossClients(t *testing.T) {
	reg := NewRegistry(nil, nil)
	reg.CreateIfAbsent("client1", "standup")
	reg.CreateIfAbsent("client2", "standup")

	_, err := reg.ResolveByRoomId("standup", "")
	var ambiguous *ErrAmbiguous
	require.ErrorAs(t, err, &ambiguous)
	assert.Len(t, ambiguous.Candidates, 2)
}

func TestResolveByRoomIdScopedByClientId(t *testing.T) {
	reg := NewRegistry(nil, nil)
	reg.CreateIfAbsent("client1", "standup")
	reg.CreateIfAbsent("client2", "standup")

	room, err := reg.ResolveByRoomId("standup", "client1")
	require.NoError(t, err)
	assert.Equal(t, "client1", room.ClientId)
}

func TestResolveByRoomIdNotFound(t *testing.T) {
	reg := NewRegistry(nil, nil)
	_, err := reg.ResolveByRoomId("nope", "")
	var notFound *ErrNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestForceCloseRemovesRoomAndDisconnectsAll(t *testing.T) {
	reg := NewRegistry(nil, nil)
	room, _ := reg.CreateIfAbsent("client1", "room1")

	sock := &fakeDrainSocket{}
	_, err := room.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, false, sock)
	require.NoError(t, err)

	reg.ForceClose(context.Background(), room.ChannelId)

	assert.Nil(t, reg.Get("client1", "room1"))
	sock.mu.Lock()
	defer sock.mu.Unlock()
	assert.True(t, sock.disconnected)
}

func TestForceCloseIsIdempotent(t *testing.T) {
	reg := NewRegistry(nil, nil)
	reg.ForceClose(context.Background(), "client1:missing")
}

func TestByChannelFindsRegisteredRoom(t *testing.T) {
	reg := NewRegistry(nil, nil)
	room, _ := reg.CreateIfAbsent("client1", "room1")

	assert.Same(t, room, reg.ByChannel(room.ChannelId))
}

func TestByChannelNilAfterForceClose(t *testing.T) {
	reg := NewRegistry(nil, nil)
	room, _ := reg.CreateIfAbsent("client1", "room1")
	channelId := room.ChannelId

	reg.ForceClose(context.Background(), channelId)

	assert.Nil(t, reg.ByChannel(channelId))
}
