package sfuroom

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sfu-control/sfu-control/internal/identity"
	"github.com/sfu-control/sfu-control/internal/mediaplane"
)

func TestKickCannotTargetSelf(t *testing.T) {
	r := newTestRoom()
	_, _ = r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, true, nil)

	err := r.Kick(context.Background(), "alice@example.com#sess1", "alice@example.com#sess1", "")
	assert.ErrorIs(t, err, ErrCannotKickSelf)
}

func TestKickRemovesParticipant(t *testing.T) {
	r := newTestRoom()
	_, _ = r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, true, nil)
	_, _ = r.Join(context.Background(), "bob@example.com", "sess2", "Bob", ModeMeeting, false, nil)

	err := r.Kick(context.Background(), "alice@example.com#sess1", "bob@example.com#sess2", "policy")
	require.NoError(t, err)

	snap := r.Snapshot()
	assert.Len(t, snap.Participants, 1)
}

func TestTransferHostMovesRole(t *testing.T) {
	r := newTestRoom()
	_, _ = r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, true, nil)
	_, _ = r.Join(context.Background(), "bob@example.com", "sess2", "Bob", ModeMeeting, false, nil)

	changed, err := r.TransferHost(context.Background(), "bob@example.com#sess2")
	require.NoError(t, err)
	assert.True(t, changed)

	snap := r.Snapshot()
	assert.Equal(t, identity.UserId("bob@example.com#sess2"), snap.HostUserId)
}

func TestTransferHostRejectsGhost(t *testing.T) {
	r := newTestRoom()
	_, _ = r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, true, nil)
	_, _ = r.Join(context.Background(), "ghost@example.com", "sess2", "Ghost", ModeGhost, false, nil)

	changed, err := r.TransferHost(context.Background(), "ghost@example.com#sess2")
	assert.False(t, changed)
	assert.ErrorIs(t, err, ErrIneligibleHost)
}

func TestCloseProducerByIdClearsScreenShare(t *testing.T) {
	r := newTestRoom()
	_, _ = r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, true, nil)

	r.mu.Lock()
	p := r.clients["alice@example.com#sess1"]
	p.Producers[ProducerKey{Kind: mediaplane.KindVideo, Type: mediaplane.TypeScreen}] = Producer{
		ProducerId: "prod-1", Kind: mediaplane.KindVideo, Type: mediaplane.TypeScreen,
	}
	r.screenShareProducerId = "prod-1"
	r.mu.Unlock()

	err := r.CloseProducerById(context.Background(), "prod-1")
	require.NoError(t, err)

	snap := r.Snapshot()
	assert.Empty(t, snap.ScreenShareProducerId)
}

func TestAddProducerClaimsScreenShareSlot(t *testing.T) {
	r := newTestRoom()
	_, _ = r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, true, nil)

	err := r.AddProducer(context.Background(), "alice@example.com#sess1", mediaplane.KindVideo, mediaplane.TypeScreen, "prod-1")
	require.NoError(t, err)

	snap := r.Snapshot()
	assert.Equal(t, "prod-1", snap.ScreenShareProducerId)
}

func TestAddProducerUnknownParticipantFails(t *testing.T) {
	r := newTestRoom()
	err := r.AddProducer(context.Background(), "ghost@example.com#sess1", mediaplane.KindAudio, mediaplane.TypeWebcam, "prod-1")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestProducerAndConsumerTransportRoundTrip(t *testing.T) {
	r := newTestRoom()
	_, _ = r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, true, nil)
	userId := identity.UserId("alice@example.com#sess1")

	require.NoError(t, r.SetProducerTransport(userId, "send-transport-1"))
	require.NoError(t, r.SetConsumerTransport(userId, "recv-transport-1"))

	got, err := r.ProducerTransportOf(userId)
	require.NoError(t, err)
	assert.Equal(t, "send-transport-1", got)

	got, err = r.ConsumerTransportOf(userId)
	require.NoError(t, err)
	assert.Equal(t, "recv-transport-1", got)
}

func TestTransportAccessorsUnknownParticipantFails(t *testing.T) {
	r := newTestRoom()
	ghost := identity.UserId("ghost@example.com#sess1")

	assert.ErrorIs(t, r.SetProducerTransport(ghost, "t1"), ErrNotParticipant)
	assert.ErrorIs(t, r.SetConsumerTransport(ghost, "t1"), ErrNotParticipant)

	_, err := r.ProducerTransportOf(ghost)
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = r.ConsumerTransportOf(ghost)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestRemoveNonAdminsKeepsHostAndAdmins(t *testing.T) {
	r := newTestRoom()
	_, _ = r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, true, nil)
	_, _ = r.Join(context.Background(), "bob@example.com", "sess2", "Bob", ModeMeeting, false, nil)
	_, _ = r.Join(context.Background(), "carol@example.com", "sess3", "Carol", ModeMeeting, false, nil)
	r.PromoteToAdmin(context.Background(), "bob@example.com")

	count := r.RemoveNonAdmins(context.Background(), ReasonKicked)
	assert.Equal(t, 1, count)

	snap := r.Snapshot()
	assert.Len(t, snap.Participants, 2)
}
