package sfuroom

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sfu-control/sfu-control/internal/bus"
)

// recordingSocket is a bus.SocketHandle that records every event sent to it
// directly, used to assert on targeted (not channel-wide) delivery.
type recordingSocket struct {
	mu           sync.Mutex
	id           string
	events       []string
	payloads     []any
	disconnected bool
}

func (s *recordingSocket) Id() string { return s.id }

func (s *recordingSocket) Send(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *recordingSocket) Disconnect(closeImmediate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = true
}

func (s *recordingSocket) has(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == event {
			return true
		}
	}
	return false
}

func newFanoutTestRoom() *Room {
	hub := bus.NewHub(nil)
	return NewRoom("client1", "room1", hub, nil, nil)
}

// TestAdmitPendingSendsJoinApprovedToCaller covers the waiting-room admit
// path: the admitted caller's own socket receives a targeted joinApproved,
// not merely a channel-wide broadcast.
func TestAdmitPendingSendsJoinApprovedToCaller(t *testing.T) {
	r := newFanoutTestRoom()
	host := &recordingSocket{id: "host"}
	_, err := r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, true, host)
	require.NoError(t, err)

	locked := true
	r.SetPolicy(context.Background(), PolicyFields{Locked: &locked})

	bobSocket := &recordingSocket{id: "bob"}
	decision, err := r.Join(context.Background(), "bob@example.com", "sess2", "Bob", ModeMeeting, false, bobSocket)
	require.NoError(t, err)
	require.Equal(t, DecisionPending, decision)

	changed := r.AdmitPending(context.Background(), "bob@example.com", "sess2")
	assert.True(t, changed)

	assert.True(t, bobSocket.has("joinApproved"))
}

// TestBlockWithKickSendsTargetedKickedAndRejectsRejoin covers §8 scenario 2:
// blocking a seated participant with kickPresent delivers a targeted
// kicked{reason} event and rejects a subsequent rejoin attempt.
func TestBlockWithKickSendsTargetedKickedAndRejectsRejoin(t *testing.T) {
	r := newFanoutTestRoom()
	_, err := r.Join(context.Background(), "alice@example.com", "sess1", "Alice", ModeMeeting, true, nil)
	require.NoError(t, err)

	bobSocket := &recordingSocket{id: "bob"}
	_, err = r.Join(context.Background(), "bob@example.com", "sess2", "Bob", ModeMeeting, false, bobSocket)
	require.NoError(t, err)

	changed := r.BlockUserWithOptions(context.Background(), "bob@example.com", true, "policy")
	assert.True(t, changed)
	assert.True(t, bobSocket.has("kicked"))
	assert.True(t, bobSocket.disconnected)

	decision, err := r.Join(context.Background(), "bob@example.com", "sess3", "Bob", ModeMeeting, false, nil)
	assert.Equal(t, DecisionReject, decision)
	assert.ErrorIs(t, err, ErrBlocked)
}
