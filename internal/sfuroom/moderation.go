package sfuroom

import (
	"context"
	"fmt"

	"github.com/sfu-control/sfu-control/internal/identity"
	"github.com/sfu-control/sfu-control/internal/mediaplane"
)

// ErrCannotKickSelf is returned when an admin targets their own userId for
// removal through the moderation surface (use leave/disconnect instead).
var ErrCannotKickSelf = fmt.Errorf("cannot kick yourself")

// ErrProducerNotFound is returned when a producer id does not resolve to
// any seated participant.
var ErrProducerNotFound = fmt.Errorf("producer not found")

// ErrIneligibleHost is returned when transferHost targets a ghost or
// attendee-tier participant — invariant I8 forbids promoting either to an
// admin role.
var ErrIneligibleHost = fmt.Errorf("ghosts and attendees cannot become host")

// AddProducer records a newly published producer against userId, replacing
// any existing producer of the same (kind, type) — invariant I7 permits at
// most one producer per slot. A screen-share producer claims the room's
// single screen-share slot.
func (r *Room) AddProducer(ctx context.Context, userId identity.UserId, kind mediaplane.Kind, typ mediaplane.Type, producerId string) error {
	r.mu.Lock()
	p, ok := r.clients[userId]
	if !ok {
		r.mu.Unlock()
		return ErrNotParticipant
	}
	key := ProducerKey{Kind: kind, Type: typ}
	p.Producers[key] = Producer{ProducerId: producerId, Kind: kind, Type: typ}
	if typ == mediaplane.TypeScreen {
		r.screenShareProducerId = producerId
	}
	r.mu.Unlock()

	r.emit(ctx, "producer.added", map[string]any{"userId": userId, "producerId": producerId, "kind": kind, "type": typ})
	return nil
}

// SetProducerTransport records userId's send-side transport id, created via
// createTransport(plain=false). Overwrites any prior value — a participant
// renegotiating a new send transport discards the old one's bookkeeping.
func (r *Room) SetProducerTransport(userId identity.UserId, transportId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.clients[userId]
	if !ok {
		return ErrNotParticipant
	}
	p.ProducerTransportId = transportId
	return nil
}

// SetConsumerTransport records userId's receive-side transport id.
func (r *Room) SetConsumerTransport(userId identity.UserId, transportId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.clients[userId]
	if !ok {
		return ErrNotParticipant
	}
	p.ConsumerTransportId = transportId
	return nil
}

// ProducerTransportOf returns userId's recorded send-side transport id.
func (r *Room) ProducerTransportOf(userId identity.UserId) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.clients[userId]
	if !ok {
		return "", ErrNotParticipant
	}
	return p.ProducerTransportId, nil
}

// ConsumerTransportOf returns userId's recorded receive-side transport id.
func (r *Room) ConsumerTransportOf(userId identity.UserId) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.clients[userId]
	if !ok {
		return "", ErrNotParticipant
	}
	return p.ConsumerTransportId, nil
}

// closeProducerCore performs the structural close shared by every
// producer-closing path: it removes the producer from its owner, clears
// the screen-share marker if the ids match, asks the media plane to tear
// it down, and broadcasts the two peer-facing events (§4.5) —
// producerClosed to every peer but the owner and webinar attendees, and
// admin:producerClosed to the room's administrator channel. It does NOT
// emit the owner-scoped mediaEnforced notice; callers that close one
// producer at a time (CloseProducerById) or a batch (CloseClientProducers,
// BulkClose) emit that separately so a batch produces one aggregate event
// rather than one per producer.
func (r *Room) closeProducerCore(ctx context.Context, producerId string) (owner identity.UserId, kind mediaplane.Kind, typ mediaplane.Type, err error) {
	r.mu.Lock()
	var key ProducerKey
	found := false
	for id, p := range r.clients {
		for k, prod := range p.Producers {
			if prod.ProducerId == producerId {
				owner, key, found = id, k, true
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		r.mu.Unlock()
		return "", "", "", ErrProducerNotFound
	}
	kind, typ = key.Kind, key.Type
	delete(r.clients[owner].Producers, key)
	clearedScreenShare := r.screenShareProducerId == producerId
	if clearedScreenShare {
		r.screenShareProducerId = ""
	}
	r.mu.Unlock()

	if r.media != nil {
		_ = r.media.CloseProducer(ctx, producerId)
	}

	payload := map[string]any{"userId": owner, "producerId": producerId, "kind": kind, "type": typ}
	r.broadcastExcludingAttendees("producerClosed", payload, owner)
	r.emit(ctx, "admin:producerClosed", payload)
	return owner, kind, typ, nil
}

// emitOwnerMediaEnforced sends the owner-scoped mediaEnforced notice
// required by §4.5 whenever one or more of their producers were closed by
// moderation action.
func (r *Room) emitOwnerMediaEnforced(owner identity.UserId, reason string) {
	r.mu.RLock()
	p, ok := r.clients[owner]
	r.mu.RUnlock()
	if !ok {
		return
	}
	r.emitToSocket(p.Socket, "admin:mediaEnforced", map[string]any{"userId": owner, "reason": reason})
}

// CloseProducerById force-closes a single producer, wherever it lives.
// Closing the active screen-share producer also clears
// screenShareProducerId (tie-break: producer id equality, not participant
// identity).
func (r *Room) CloseProducerById(ctx context.Context, producerId string) error {
	owner, _, _, err := r.closeProducerCore(ctx, producerId)
	if err != nil {
		return err
	}
	r.emitOwnerMediaEnforced(owner, "producer_closed")
	return nil
}

// CloseClientProducers force-closes every producer matched by selector
// (nil selector matches everything) held by userId, without removing the
// participant, and returns the ids that were actually closed. Emits a
// single aggregate admin:mediaEnforced to the owner rather than one per
// producer.
func (r *Room) CloseClientProducers(ctx context.Context, userId identity.UserId, selector *ProducerSelector, reason string) ([]string, error) {
	r.mu.RLock()
	p, ok := r.clients[userId]
	if !ok {
		r.mu.RUnlock()
		return nil, ErrNotParticipant
	}
	ids := make([]string, 0, len(p.Producers))
	for key, prod := range p.Producers {
		if selector.matches(key) {
			ids = append(ids, prod.ProducerId)
		}
	}
	r.mu.RUnlock()

	closed := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, _, _, err := r.closeProducerCore(ctx, id); err != nil {
			continue
		}
		closed = append(closed, id)
	}
	if len(closed) > 0 {
		r.emitOwnerMediaEnforced(userId, reason)
	}
	return closed, nil
}

// ProducerSelector filters a producer enumeration by kind/type; a nil or
// empty field matches everything for that dimension (§4.5).
type ProducerSelector struct {
	Kinds []mediaplane.Kind
	Types []mediaplane.Type
}

func (s *ProducerSelector) matches(key ProducerKey) bool {
	if s == nil {
		return true
	}
	if len(s.Kinds) > 0 {
		ok := false
		for _, k := range s.Kinds {
			if k == key.Kind {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(s.Types) > 0 {
		ok := false
		for _, t := range s.Types {
			if t == key.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// BulkClose force-closes every producer of the given kind/type across the
// room. Admin and host producers are excluded unless includeAdmins is set,
// matching the control-plane's "remove non-admins" semantics (§6). Emits a
// single room-wide admin:bulkMediaEnforced when at least one producer was
// closed.
func (r *Room) BulkClose(ctx context.Context, key ProducerKey, includeAdmins bool) int {
	r.mu.RLock()
	var targets []string
	for _, p := range r.clients {
		if !includeAdmins && (r.adminUserKeys.Has(p.UserKey) || p.UserKey == r.hostUserKey) {
			continue
		}
		if prod, ok := p.Producers[key]; ok {
			targets = append(targets, prod.ProducerId)
		}
	}
	r.mu.RUnlock()

	count := 0
	for _, id := range targets {
		if _, _, _, err := r.closeProducerCore(ctx, id); err == nil {
			count++
		}
	}
	if count > 0 {
		r.emit(ctx, "admin:bulkMediaEnforced", map[string]any{"kind": key.Kind, "type": key.Type, "count": count})
	}
	return count
}

// Kick removes a seated participant from the room. An admin may not kick
// themselves through this path. reason is surfaced to the target's socket
// on the kicked event.
func (r *Room) Kick(ctx context.Context, actorUserId, targetUserId identity.UserId, reason string) error {
	if actorUserId == targetUserId {
		return ErrCannotKickSelf
	}
	r.mu.RLock()
	_, ok := r.clients[targetUserId]
	r.mu.RUnlock()
	if !ok {
		return ErrNotParticipant
	}
	if reason == "" {
		reason = string(ReasonKicked)
	}
	r.removeParticipantWithReasonText(ctx, targetUserId, ReasonKicked, reason)
	return nil
}

// MuteParticipant forces userId's audio producer(s) off by flag only; it
// does not close the underlying producer (the client is expected to honor
// the flag), matching the spec's mute/camera-off operations being
// stateful toggles rather than producer closes.
func (r *Room) MuteParticipant(ctx context.Context, userId identity.UserId) (changed bool, err error) {
	r.mu.Lock()
	p, ok := r.clients[userId]
	if !ok {
		r.mu.Unlock()
		return false, ErrNotParticipant
	}
	changed = !p.IsMuted
	p.IsMuted = true
	r.mu.Unlock()
	if changed {
		r.emit(ctx, "participant.muted", userId)
	}
	return changed, nil
}

// SetCameraOff forces userId's camera flag off.
func (r *Room) SetCameraOff(ctx context.Context, userId identity.UserId) (changed bool, err error) {
	r.mu.Lock()
	p, ok := r.clients[userId]
	if !ok {
		r.mu.Unlock()
		return false, ErrNotParticipant
	}
	changed = !p.IsCameraOff
	p.IsCameraOff = true
	r.mu.Unlock()
	if changed {
		r.emit(ctx, "participant.camera_off", userId)
	}
	return changed, nil
}

// StopScreenShare closes whichever producer currently holds the
// screen-share slot, if any.
func (r *Room) StopScreenShare(ctx context.Context) error {
	r.mu.RLock()
	producerId := r.screenShareProducerId
	r.mu.RUnlock()
	if producerId == "" {
		return nil
	}
	return r.CloseProducerById(ctx, producerId)
}

// TransferHost hands host status to a different seated participant,
// replacing SetHost's userKey lookup with userId resolution for callers
// that only have a session-scoped id.
func (r *Room) TransferHost(ctx context.Context, targetUserId identity.UserId) (changed bool, err error) {
	r.mu.RLock()
	p, ok := r.clients[targetUserId]
	r.mu.RUnlock()
	if !ok {
		return false, ErrNotParticipant
	}
	if p.Mode == ModeGhost || p.Mode == ModeWebinarAttendee || p.Mode == ModeObserver {
		return false, ErrIneligibleHost
	}
	return r.SetHost(ctx, p.UserKey)
}

// RemoveNonAdmins evicts every seated participant who is neither the host
// nor an admin.
func (r *Room) RemoveNonAdmins(ctx context.Context, reason RemovalReason) int {
	r.mu.RLock()
	var targets []identity.UserId
	for id, p := range r.clients {
		if r.adminUserKeys.Has(p.UserKey) || p.UserKey == r.hostUserKey {
			continue
		}
		targets = append(targets, id)
	}
	r.mu.RUnlock()

	for _, id := range targets {
		r.removeParticipant(ctx, id, reason)
	}
	return len(targets)
}
