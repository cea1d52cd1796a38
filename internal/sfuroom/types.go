// Package sfuroom implements the Room Registry, Room State Machine,
// Admission Engine, Moderation Engine, Chat Router, and Drain Coordinator —
// the core of the SFU control plane. Grounded on the teacher's
// internal/v1/session package (room.go, methods.go, handlers.go, hub.go),
// generalized from a single video-call room model to this spec's identity
// model, access lists, and producer-based moderation.
package sfuroom

import (
	"time"

	"github.com/sfu-control/sfu-control/internal/bus"
	"github.com/sfu-control/sfu-control/internal/identity"
	"github.com/sfu-control/sfu-control/internal/mediaplane"
)

// Mode is a participant's capability tier within a room.
type Mode string

const (
	ModeMeeting         Mode = "meeting"
	ModeGhost           Mode = "ghost"
	ModeWebinarAttendee Mode = "webinar_attendee"
	ModeObserver        Mode = "observer"
)

// ProducerKey identifies a producer slot by (kind, type); a participant may
// hold at most one producer per key (invariant I7).
type ProducerKey struct {
	Kind mediaplane.Kind
	Type mediaplane.Type
}

// Producer is an installed media stream a participant publishes.
type Producer struct {
	ProducerId string
	Kind       mediaplane.Kind
	Type       mediaplane.Type
}

// Participant is one live session of an identity within a room.
type Participant struct {
	UserId    identity.UserId
	UserKey   identity.UserKey
	SessionId identity.SessionId
	Mode      Mode
	Socket    bus.SocketHandle

	ProducerTransportId  string
	ConsumerTransportId  string
	Producers            map[ProducerKey]Producer
	ConsumerCount        int

	IsMuted     bool
	IsCameraOff bool

	AdmittedAt time.Time
}

// HasProducer reports whether the participant already holds a producer for key.
func (p *Participant) HasProducer(key ProducerKey) bool {
	_, ok := p.Producers[key]
	return ok
}

// PendingEntry is a waiting-room record, one per identity per room.
type PendingEntry struct {
	UserKey       identity.UserKey
	Socket        bus.SocketHandle
	RequestedMode Mode
	EnrolledAt    time.Time
}

// Policies are the room's boolean policy flags.
type Policies struct {
	Locked                    bool `json:"locked"`
	ChatLocked                bool `json:"chatLocked"`
	NoGuests                  bool `json:"noGuests"`
	TtsDisabled               bool `json:"ttsDisabled"`
	DmEnabled                 bool `json:"dmEnabled"`
	RequiresMeetingInviteCode bool `json:"requiresMeetingInviteCode"`
}

// PolicyFields is a partial update to Policies; nil fields are left untouched.
type PolicyFields struct {
	Locked                    *bool `json:"locked,omitempty"`
	ChatLocked                *bool `json:"chatLocked,omitempty"`
	NoGuests                  *bool `json:"noGuests,omitempty"`
	TtsDisabled               *bool `json:"ttsDisabled,omitempty"`
	DmEnabled                 *bool `json:"dmEnabled,omitempty"`
	RequiresMeetingInviteCode *bool `json:"requiresMeetingInviteCode,omitempty"`
}

// RemovalReason documents why a participant was removed, surfaced in fan-out events.
type RemovalReason string

const (
	ReasonKicked        RemovalReason = "kicked"
	ReasonBlocked       RemovalReason = "blocked"
	ReasonDisconnected  RemovalReason = "disconnected"
	ReasonRoomEnded     RemovalReason = "room_ended"
	ReasonDrain         RemovalReason = "drain"
)

// ChatMessage is one message recorded by the Chat Router.
type ChatMessage struct {
	ChatId    string          `json:"chatId"`
	From      identity.UserId `json:"from"`
	To        identity.UserId `json:"to,omitempty"` // empty for room broadcast
	Body      string          `json:"body"`
	Timestamp time.Time       `json:"timestamp"`
}
