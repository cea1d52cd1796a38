package sfuroom

import (
	"context"
	"fmt"
	"sync"

	"github.com/sfu-control/sfu-control/internal/bus"
	"github.com/sfu-control/sfu-control/internal/mediaplane"
	"github.com/sfu-control/sfu-control/internal/metrics"
)

// ErrAmbiguous is returned by ResolveByRoomId when a bare room id matches
// more than one tenant's room and no clientId was supplied to disambiguate.
type ErrAmbiguous struct {
	RoomId     string
	Candidates []string // clientIds
}

func (e *ErrAmbiguous) Error() string {
	return fmt.Sprintf("room id %q is ambiguous across clients %v", e.RoomId, e.Candidates)
}

// ErrNotFound is returned when no room matches the lookup.
type ErrNotFound struct {
	RoomId   string
	ClientId string
}

func (e *ErrNotFound) Error() string {
	if e.ClientId != "" {
		return fmt.Sprintf("room %q not found for client %q", e.RoomId, e.ClientId)
	}
	return fmt.Sprintf("room %q not found", e.RoomId)
}

// Registry is the process-wide room directory (§4.2). One Registry is
// shared by the Operator HTTP surface and the Administrator socket.
type Registry struct {
	mu        sync.RWMutex
	byChannel map[string]*Room // channelId -> room

	fanout bus.Fanout
	media  *mediaplane.Client

	drain drainState
}

// NewRegistry constructs an empty Registry.
func NewRegistry(fanout bus.Fanout, media *mediaplane.Client) *Registry {
	return &Registry{
		byChannel: make(map[string]*Room),
		fanout:    fanout,
		media:     media,
	}
}

func channelId(clientId, roomId string) string {
	return clientId + ":" + roomId
}

// Get returns the room for (clientId, roomId), or nil if it does not exist.
func (reg *Registry) Get(clientId, roomId string) *Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.byChannel[channelId(clientId, roomId)]
}

// CreateIfAbsent returns the existing room for (clientId, roomId), creating
// it if necessary. Returns the room and whether it was newly created.
func (reg *Registry) CreateIfAbsent(clientId, roomId string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	key := channelId(clientId, roomId)
	if room, ok := reg.byChannel[key]; ok {
		return room, false
	}

	room := NewRoom(clientId, roomId, reg.fanout, reg.media, reg.onRoomEmpty)
	reg.byChannel[key] = room
	metrics.ActiveRooms.Inc()
	return room, true
}

// ByChannel returns the room for a raw channelId, or nil if it is not (or
// no longer) registered — used by the Minutes Generator to tell whether a
// room is still active.
func (reg *Registry) ByChannel(channelId string) *Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.byChannel[channelId]
}

// ListByClientId returns every room belonging to clientId.
func (reg *Registry) ListByClientId(clientId string) []*Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	var out []*Room
	for _, room := range reg.byChannel {
		if room.ClientId == clientId {
			out = append(out, room)
		}
	}
	return out
}

// ResolveByRoomId looks up a room by its bare id, optionally scoped to a
// clientId. With no clientId, a roomId that exists under more than one
// client is ambiguous and returns ErrAmbiguous naming the candidates.
func (reg *Registry) ResolveByRoomId(roomId, clientId string) (*Room, error) {
	if clientId != "" {
		room := reg.Get(clientId, roomId)
		if room == nil {
			return nil, &ErrNotFound{RoomId: roomId, ClientId: clientId}
		}
		return room, nil
	}

	reg.mu.RLock()
	defer reg.mu.RUnlock()

	var matches []*Room
	var candidates []string
	for _, room := range reg.byChannel {
		if room.Id == roomId {
			matches = append(matches, room)
			candidates = append(candidates, room.ClientId)
		}
	}

	switch len(matches) {
	case 0:
		return nil, &ErrNotFound{RoomId: roomId}
	case 1:
		return matches[0], nil
	default:
		return nil, &ErrAmbiguous{RoomId: roomId, Candidates: candidates}
	}
}

// ForceClose idempotently tears down a room: disconnects every socket,
// removes it from the registry, and updates gauges. Calling it on an
// already-removed channelId is a no-op.
func (reg *Registry) ForceClose(ctx context.Context, channelId string) {
	reg.mu.Lock()
	room, ok := reg.byChannel[channelId]
	if !ok {
		reg.mu.Unlock()
		return
	}
	delete(reg.byChannel, channelId)
	reg.mu.Unlock()

	room.mu.Lock()
	room.policies.Locked = true
	ids := room.orderedParticipantIds()
	room.mu.Unlock()

	room.emit(ctx, "roomEnded", nil)
	for _, id := range ids {
		room.removeParticipant(ctx, id, ReasonRoomEnded)
	}

	if reg.fanout != nil {
		reg.fanout.DisconnectChannel(channelId, true)
	}

	metrics.ActiveRooms.Dec()
	metrics.RoomParticipants.DeleteLabelValues(channelId)
	metrics.RoomPending.DeleteLabelValues(channelId)
}

// onRoomEmpty is invoked (off the room's write guard) whenever a room drops
// to zero clients; it does not delete the room, since pending clients or
// access-list state may still be meaningful until ForceClose is called.
func (reg *Registry) onRoomEmpty(channelId string) {
	metrics.RoomTransitions.WithLabelValues("active", "empty").Inc()
}
