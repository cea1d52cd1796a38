package sfuroom

import (
	"context"
	"sort"
	"sync"

	"k8s.io/utils/set"

	"github.com/sfu-control/sfu-control/internal/bus"
	"github.com/sfu-control/sfu-control/internal/identity"
	"github.com/sfu-control/sfu-control/internal/mediaplane"
	"github.com/sfu-control/sfu-control/internal/metrics"
)

// Room holds all per-room state and serializes every mutation behind a
// single write guard (§5). Read-only snapshot construction takes the same
// guard so it observes one consistent instant.
type Room struct {
	mu sync.RWMutex

	Id        string // tenant-scoped room name
	ClientId  string
	ChannelId string // "{clientId}:{id}", process-global unique

	clients      map[identity.UserId]*Participant
	userKeysById map[identity.UserId]identity.UserKey

	pendingClients map[identity.UserKey]*PendingEntry

	allowedUserKeys       set.Set[identity.UserKey]
	lockedAllowedUserKeys set.Set[identity.UserKey]
	blockedUserKeys       set.Set[identity.UserKey]
	adminUserKeys         set.Set[identity.UserKey]
	hostUserKey           identity.UserKey

	policies Policies

	screenShareProducerId string

	// handRaisedOrder records raise order for fairness; lowered hands are
	// removed in place rather than reshuffling the remainder.
	handRaisedOrder []identity.UserId

	displayNamesByUserKey map[identity.UserKey]identity.DisplayName

	pendingDisconnects set.Set[identity.UserId]

	fanout bus.Fanout
	media  *mediaplane.Client
	onEmpty func(channelId string)
}

// NewRoom constructs an empty Room. onEmptyCallback is invoked (outside the
// write guard) when the room transitions to having zero clients.
func NewRoom(clientId, roomId string, fanout bus.Fanout, media *mediaplane.Client, onEmptyCallback func(channelId string)) *Room {
	return &Room{
		Id:        roomId,
		ClientId:  clientId,
		ChannelId: clientId + ":" + roomId,

		clients:      make(map[identity.UserId]*Participant),
		userKeysById: make(map[identity.UserId]identity.UserKey),

		pendingClients: make(map[identity.UserKey]*PendingEntry),

		allowedUserKeys:       set.New[identity.UserKey](),
		lockedAllowedUserKeys: set.New[identity.UserKey](),
		blockedUserKeys:       set.New[identity.UserKey](),
		adminUserKeys:         set.New[identity.UserKey](),

		displayNamesByUserKey: make(map[identity.UserKey]identity.DisplayName),
		pendingDisconnects:    set.New[identity.UserId](),

		fanout:  fanout,
		media:   media,
		onEmpty: onEmptyCallback,
	}
}

// Role is an explicit capability tag, evaluated through predicates rather
// than type identity or struct embedding (spec §9: replace instance-of role
// discrimination with a tagged variant + explicit predicate).
type Role string

const (
	RoleHost        Role = "host"
	RoleAdmin       Role = "admin"
	RoleParticipant Role = "participant"
	RoleGhost       Role = "ghost"
	RoleAttendee    Role = "attendee"
)

// roleFor derives a participant's role without holding the lock itself;
// callers must already hold at least a read lock.
func (r *Room) roleFor(p *Participant) Role {
	if p.UserKey == r.hostUserKey && r.hostUserKey != "" {
		return RoleHost
	}
	if r.adminUserKeys.Has(p.UserKey) {
		return RoleAdmin
	}
	switch p.Mode {
	case ModeGhost:
		return RoleGhost
	case ModeWebinarAttendee, ModeObserver:
		return RoleAttendee
	default:
		return RoleParticipant
	}
}

// IsAdmin reports whether userKey currently holds admin or host capability.
// Used to re-check administrator-socket authorization on every event, since
// a demotion mid-session must take effect on the very next event from that
// socket (§4.6).
func (r *Room) IsAdmin(userKey identity.UserKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adminUserKeys.Has(userKey) || (r.hostUserKey != "" && userKey == r.hostUserKey)
}

func (r *Room) isEmpty() bool {
	return len(r.clients) == 0
}

func (r *Room) updateParticipantGauge() {
	metrics.RoomParticipants.WithLabelValues(r.ChannelId).Set(float64(len(r.clients)))
	metrics.RoomPending.WithLabelValues(r.ChannelId).Set(float64(len(r.pendingClients)))
}

// notifyEmptyIfNeeded invokes onEmpty outside the write guard, matching the
// teacher's pattern of running cleanup callbacks off the critical section.
func (r *Room) notifyEmptyIfNeeded() {
	r.mu.RLock()
	empty := r.isEmpty()
	channelId := r.ChannelId
	r.mu.RUnlock()

	if empty && r.onEmpty != nil {
		go r.onEmpty(channelId)
	}
}

// Fanout exposes the room's event bus so socket adapters can register and
// unregister themselves directly (join/disconnect are outside the state
// machine's own mutation paths).
func (r *Room) Fanout() bus.Fanout {
	return r.fanout
}

func (r *Room) emit(ctx context.Context, event string, payload any) {
	if r.fanout == nil {
		return
	}
	_ = r.fanout.SendToChannel(ctx, r.ChannelId, event, payload)
}

// emitToSocket delivers event directly to a single socket, bypassing the
// channel broadcast — used for the targeted events §4.11 requires
// (joinApproved, userRejected, kicked, the owner-scoped mediaEnforced).
func (r *Room) emitToSocket(socket bus.SocketHandle, event string, payload any) {
	if r.fanout == nil || socket == nil {
		return
	}
	_ = r.fanout.SendToSocket(socket, event, payload)
}

// broadcastExcludingAttendees sends event to every connected socket in the
// room except excludeUserId and webinar attendees, matching the moderation
// engine's peer-notification rule (§4.5). Callers must not hold r.mu.
func (r *Room) broadcastExcludingAttendees(event string, payload any, excludeUserId identity.UserId) {
	if r.fanout == nil {
		return
	}
	r.mu.RLock()
	sockets := make([]bus.SocketHandle, 0, len(r.clients))
	for id, p := range r.clients {
		if id == excludeUserId || p.Socket == nil {
			continue
		}
		if r.roleFor(p) == RoleAttendee {
			continue
		}
		sockets = append(sockets, p.Socket)
	}
	r.mu.RUnlock()

	for _, s := range sockets {
		r.emitToSocket(s, event, payload)
	}
}

// orderedPendingKeys returns pending userKeys sorted by enrollment time,
// the spec's explicit ordering requirement (§4.6) — a deliberate deviation
// from the teacher's LIFO waiting-room stack, documented in DESIGN.md.
func (r *Room) orderedPendingKeys() []identity.UserKey {
	keys := make([]identity.UserKey, 0, len(r.pendingClients))
	for k := range r.pendingClients {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return r.pendingClients[keys[i]].EnrolledAt.Before(r.pendingClients[keys[j]].EnrolledAt)
	})
	return keys
}

// orderedParticipantIds returns userIds sorted by admission time.
func (r *Room) orderedParticipantIds() []identity.UserId {
	ids := make([]identity.UserId, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return r.clients[ids[i]].AdmittedAt.Before(r.clients[ids[j]].AdmittedAt)
	})
	return ids
}
