package sfuroom

import (
	"sort"

	"k8s.io/utils/set"

	"github.com/sfu-control/sfu-control/internal/identity"
)

// ParticipantView is the read-only projection of a Participant sent to
// clients and the Administrator socket.
type ParticipantView struct {
	UserId      identity.UserId      `json:"userId"`
	UserKey     identity.UserKey     `json:"userKey"`
	DisplayName identity.DisplayName `json:"displayName,omitempty"`
	Mode        Mode                 `json:"mode"`
	Role        Role                 `json:"role"`
	IsMuted     bool                 `json:"isMuted"`
	IsCameraOff bool                 `json:"isCameraOff"`
	IsScreenSharing bool             `json:"isScreenSharing"`
	HandRaised  bool                 `json:"handRaised"`
	AdmittedAt  int64                `json:"admittedAt"` // unix millis
}

// PendingView is the read-only projection of a waiting-room entry.
type PendingView struct {
	UserKey     identity.UserKey     `json:"userKey"`
	DisplayName identity.DisplayName `json:"displayName,omitempty"`
	EnrolledAt  int64                `json:"enrolledAt"`
}

// RoomSnapshot is the plain-struct, JSON-serializable replacement for the
// teacher's protobuf-based BuildRoomStateProto — this build has no
// generated proto package (see internal/mediaplane's package doc), so state
// is mirrored to clients as JSON instead of a wire-typed message.
type RoomSnapshot struct {
	ChannelId    string            `json:"channelId"`
	RoomId       string            `json:"roomId"`
	HostUserId   identity.UserId   `json:"hostUserId,omitempty"`
	Participants []ParticipantView `json:"participants"`
	Pending      []PendingView     `json:"pending"`
	Policies     Policies          `json:"policies"`
	AllowedUserKeys       []identity.UserKey `json:"allowedUserKeys,omitempty"`
	LockedAllowedUserKeys []identity.UserKey `json:"lockedAllowedUserKeys,omitempty"`
	BlockedUserKeys       []identity.UserKey `json:"blockedUserKeys,omitempty"`
	AdminUserKeys         []identity.UserKey `json:"adminUserKeys,omitempty"`
	ScreenShareProducerId string             `json:"screenShareProducerId,omitempty"`
}

func sortedKeys(s set.Set[identity.UserKey]) []identity.UserKey {
	keys := s.UnsortedList()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Snapshot builds a consistent, ordered view of the room under a read lock.
func (r *Room) Snapshot() RoomSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() RoomSnapshot {
	hostUserId := identity.UserId("")
	for _, p := range r.clients {
		if p.UserKey == r.hostUserKey && r.hostUserKey != "" {
			hostUserId = p.UserId
			break
		}
	}

	handRaised := make(map[identity.UserId]bool, len(r.handRaisedOrder))
	for _, id := range r.handRaisedOrder {
		handRaised[id] = true
	}

	participants := make([]ParticipantView, 0, len(r.clients))
	for _, id := range r.orderedParticipantIds() {
		p := r.clients[id]
		isSharing := false
		if r.screenShareProducerId != "" {
			for _, prod := range p.Producers {
				if prod.ProducerId == r.screenShareProducerId {
					isSharing = true
					break
				}
			}
		}
		participants = append(participants, ParticipantView{
			UserId:          p.UserId,
			UserKey:         p.UserKey,
			DisplayName:     r.displayNamesByUserKey[p.UserKey],
			Mode:            p.Mode,
			Role:            r.roleFor(p),
			IsMuted:         p.IsMuted,
			IsCameraOff:     p.IsCameraOff,
			IsScreenSharing: isSharing,
			HandRaised:      handRaised[p.UserId],
			AdmittedAt:      p.AdmittedAt.UnixMilli(),
		})
	}

	pending := make([]PendingView, 0, len(r.pendingClients))
	for _, key := range r.orderedPendingKeys() {
		entry := r.pendingClients[key]
		pending = append(pending, PendingView{
			UserKey:     key,
			DisplayName: r.displayNamesByUserKey[key],
			EnrolledAt:  entry.EnrolledAt.UnixMilli(),
		})
	}

	return RoomSnapshot{
		ChannelId:             r.ChannelId,
		RoomId:                r.Id,
		HostUserId:            hostUserId,
		Participants:          participants,
		Pending:               pending,
		Policies:              r.policies,
		AllowedUserKeys:       sortedKeys(r.allowedUserKeys),
		LockedAllowedUserKeys: sortedKeys(r.lockedAllowedUserKeys),
		BlockedUserKeys:       sortedKeys(r.blockedUserKeys),
		AdminUserKeys:         sortedKeys(r.adminUserKeys),
		ScreenShareProducerId: r.screenShareProducerId,
	}
}
