package sfuroom

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sfu-control/sfu-control/internal/identity"
)

func newTestRoom() *Room {
	return NewRoom("client1", "room1", nil, nil, nil)
}

func TestJoinFirstParticipantWithAdminTokenBecomesHost(t *testing.T) {
	r := newTestRoom()
	decision, err := r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, true, nil)
	require.NoError(t, err)
	assert.Equal(t, DecisionAdmit, decision)

	snap := r.Snapshot()
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, RoleHost, snap.Participants[0].Role)
}

func TestJoinFirstParticipantWithoutAdminTokenDoesNotBecomeHost(t *testing.T) {
	r := newTestRoom()
	decision, err := r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, false, nil)
	require.NoError(t, err)
	assert.Equal(t, DecisionAdmit, decision)

	snap := r.Snapshot()
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, RoleParticipant, snap.Participants[0].Role)
	assert.Empty(t, snap.HostUserId)
}

func TestJoinLockedRoomGoesPending(t *testing.T) {
	r := newTestRoom()
	_, err := r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, true, nil)
	require.NoError(t, err)

	locked := true
	r.SetPolicy(context.Background(), PolicyFields{Locked: &locked})

	decision, err := r.Join(context.Background(), "bob@example.com", "sess2", "Bob", ModeMeeting, false, nil)
	require.NoError(t, err)
	assert.Equal(t, DecisionPending, decision)

	snap := r.Snapshot()
	require.Len(t, snap.Pending, 1)
	assert.Equal(t, identity.UserKey("bob@example.com"), snap.Pending[0].UserKey)
}

func TestJoinBlockedUserRejected(t *testing.T) {
	r := newTestRoom()
	r.BlockUser(context.Background(), "evil@example.com")

	decision, err := r.Join(context.Background(), "evil@example.com", "sess1", "Evil", ModeMeeting, false, nil)
	assert.Equal(t, DecisionReject, decision)
	assert.ErrorIs(t, err, ErrBlocked)
}

func TestJoinNoGuestsRejectsGuest(t *testing.T) {
	r := newTestRoom()
	_, err := r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, true, nil)
	require.NoError(t, err)

	noGuests := true
	r.SetPolicy(context.Background(), PolicyFields{NoGuests: &noGuests})

	decision, err := r.Join(context.Background(), "guest:anon123", "sess2", "Guest", ModeMeeting, false, nil)
	assert.Equal(t, DecisionReject, decision)
	assert.ErrorIs(t, err, ErrNoGuests)
}

func TestAdmitPendingSeatsParticipant(t *testing.T) {
	r := newTestRoom()
	_, err := r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, true, nil)
	require.NoError(t, err)

	locked := true
	r.SetPolicy(context.Background(), PolicyFields{Locked: &locked})
	_, err = r.Join(context.Background(), "bob@example.com", "sess2", "Bob", ModeMeeting, false, nil)
	require.NoError(t, err)

	changed := r.AdmitPending(context.Background(), "bob@example.com", "sess2")
	assert.True(t, changed)

	snap := r.Snapshot()
	assert.Len(t, snap.Pending, 0)
	assert.Len(t, snap.Participants, 2)
}

func TestAdmitAllAdmitsEveryPendingEntry(t *testing.T) {
	r := newTestRoom()
	_, _ = r.Join(context.Background(), "host@example.com", "sess0", "Host", ModeMeeting, true, nil)
	locked := true
	r.SetPolicy(context.Background(), PolicyFields{Locked: &locked})

	_, _ = r.Join(context.Background(), "a@example.com", "s1", "A", ModeMeeting, false, nil)
	_, _ = r.Join(context.Background(), "b@example.com", "s2", "B", ModeMeeting, false, nil)

	sessions := map[identity.UserKey]identity.SessionId{
		"a@example.com": "s1",
		"b@example.com": "s2",
	}
	count := r.AdmitAll(context.Background(), func(k identity.UserKey) identity.SessionId { return sessions[k] })
	assert.Equal(t, 2, count)

	snap := r.Snapshot()
	assert.Len(t, snap.Pending, 0)
	assert.Len(t, snap.Participants, 3)
}

func TestBlockUserEvictsSeatedParticipant(t *testing.T) {
	r := newTestRoom()
	_, _ = r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, true, nil)
	_, _ = r.Join(context.Background(), "bob@example.com", "sess2", "Bob", ModeMeeting, false, nil)

	changed := r.BlockUser(context.Background(), "bob@example.com")
	assert.True(t, changed)

	snap := r.Snapshot()
	assert.Len(t, snap.Participants, 1)
	assert.Contains(t, snap.BlockedUserKeys, identity.UserKey("bob@example.com"))
}

func TestJoinAdminByTokenBootstrapsHostEvenMidRoom(t *testing.T) {
	r := newTestRoom()
	_, err := r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, false, nil)
	require.NoError(t, err)

	decision, err := r.Join(context.Background(), "bob@example.com", "sess2", "Bob", ModeMeeting, true, nil)
	require.NoError(t, err)
	assert.Equal(t, DecisionAdmit, decision)

	snap := r.Snapshot()
	assert.Equal(t, identity.UserId("bob@example.com#sess2"), snap.HostUserId)
	assert.Contains(t, snap.AdminUserKeys, identity.UserKey("bob@example.com"))
}
