package sfuroom

import (
	"context"
	"fmt"

	"github.com/sfu-control/sfu-control/internal/bus"
	"github.com/sfu-control/sfu-control/internal/identity"
)

// Decision is the Admission Engine's verdict for a join attempt (§4.4).
type Decision string

const (
	DecisionAdmit   Decision = "admit"
	DecisionPending Decision = "pending"
	DecisionReject  Decision = "reject"
)

// ErrBlocked is returned when a blocked identity attempts to join.
var ErrBlocked = fmt.Errorf("user is blocked from this room")

// ErrNoGuests is returned when a guest identity attempts to join a
// no-guests room without standing access.
var ErrNoGuests = fmt.Errorf("guests are not permitted in this room")

// ErrAlreadyPending is returned by Join when the identity already
// has a waiting-room entry.
var ErrAlreadyPending = fmt.Errorf("already in the waiting room")

// decideLocked evaluates the admission table for userKey in the exact
// first-match order of §4.4:
//  1. blocked and not isAdminByToken -> reject
//  2. isAdminByToken or already an admin userKey -> admit as admin
//  3. locked and not in lockedAllowedUserKeys -> pending
//  4. noGuests and a guest identity not in allowedUserKeys -> reject
//  5. otherwise -> admit
//
// Callers must already hold at least a read lock. The second return value
// reports whether the caller was admitted on the strength of admin
// credentials (row 2), which is what gates host/admin bootstrap in Join —
// invariant I6 means a seated host is always in adminUserKeys, so row 2
// needs no separate hostUserKey comparison.
func (r *Room) decideLocked(userKey identity.UserKey, isAdminByToken bool) (Decision, bool) {
	if r.blockedUserKeys.Has(userKey) && !isAdminByToken {
		return DecisionReject, false
	}
	if isAdminByToken || r.adminUserKeys.Has(userKey) {
		return DecisionAdmit, true
	}
	if r.policies.Locked && !r.lockedAllowedUserKeys.Has(userKey) {
		return DecisionPending, false
	}
	if r.policies.NoGuests && userKey.IsGuest() && !r.allowedUserKeys.Has(userKey) {
		return DecisionReject, false
	}
	return DecisionAdmit, false
}

// Evaluate reports the admission decision for userKey without mutating
// room state, used by callers that need to preflight a join.
func (r *Room) Evaluate(userKey identity.UserKey, isAdminByToken bool) Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()
	decision, _ := r.decideLocked(userKey, isAdminByToken)
	return decision
}

// Join runs the full admission flow for a join attempt: rejects are
// returned as errors, pending outcomes enroll the identity in the waiting
// room, and admits seat the participant immediately. isAdminByToken carries
// the caller's already-verified admin credential (from a bearer token's
// scope or the operator shared secret) — it is the only thing that can
// bootstrap host/admin status, never mere first-arrival.
func (r *Room) Join(ctx context.Context, userKey identity.UserKey, sessionId identity.SessionId, displayName identity.DisplayName, mode Mode, isAdminByToken bool, socket bus.SocketHandle) (Decision, error) {
	r.mu.Lock()
	decision, isAdmin := r.decideLocked(userKey, isAdminByToken)

	switch decision {
	case DecisionReject:
		r.mu.Unlock()
		if r.blockedUserKeys.Has(userKey) {
			return decision, ErrBlocked
		}
		return decision, ErrNoGuests
	case DecisionPending:
		if _, already := r.pendingClients[userKey]; already {
			r.mu.Unlock()
			return decision, ErrAlreadyPending
		}
		r.pendingClients[userKey] = &PendingEntry{
			UserKey:       userKey,
			Socket:        socket,
			RequestedMode: mode,
			EnrolledAt:    now(),
		}
		if displayName != "" {
			r.displayNamesByUserKey[userKey] = displayName
		}
		r.updateParticipantGauge()
		pending := r.snapshotLocked().Pending
		r.mu.Unlock()
		r.emit(ctx, "pendingUsersSnapshot", pending)
		return decision, nil
	default:
		userId := identity.ComposeUserId(userKey, sessionId)
		r.clients[userId] = &Participant{
			UserId:     userId,
			UserKey:    userKey,
			SessionId:  sessionId,
			Mode:       mode,
			Socket:     socket,
			Producers:  make(map[ProducerKey]Producer),
			AdmittedAt: now(),
		}
		r.userKeysById[userId] = userKey
		if isAdmin && r.hostUserKey == "" {
			r.hostUserKey = userKey
		}
		if isAdmin {
			r.adminUserKeys.Insert(userKey)
		}
		if displayName != "" {
			r.displayNamesByUserKey[userKey] = displayName
		}
		r.updateParticipantGauge()
		snapshot := r.snapshotLocked()
		r.mu.Unlock()
		r.emit(ctx, "userAdmitted", snapshot)
		return decision, nil
	}
}

// AdmitPending moves a waiting-room entry into the room, regardless of the
// current admission table (an explicit operator decision overrides
// policy). Returns false if userKey has no pending entry.
func (r *Room) AdmitPending(ctx context.Context, userKey identity.UserKey, sessionId identity.SessionId) (changed bool) {
	r.mu.Lock()
	entry, ok := r.pendingClients[userKey]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.pendingClients, userKey)

	userId := identity.ComposeUserId(userKey, sessionId)
	r.clients[userId] = &Participant{
		UserId:     userId,
		UserKey:    userKey,
		SessionId:  sessionId,
		Mode:       entry.RequestedMode,
		Socket:     entry.Socket,
		Producers:  make(map[ProducerKey]Producer),
		AdmittedAt: now(),
	}
	r.userKeysById[userId] = userKey
	if r.policies.Locked {
		r.lockedAllowedUserKeys.Insert(userKey)
	}
	r.updateParticipantGauge()
	snapshot := r.snapshotLocked()
	socket := entry.Socket
	r.mu.Unlock()

	r.emitToSocket(socket, "joinApproved", snapshot)
	r.emit(ctx, "userAdmitted", snapshot)
	r.emit(ctx, "pendingUsersSnapshot", snapshot.Pending)
	return true
}

// RejectPending removes a waiting-room entry without seating it, and
// disconnects its socket if one is held.
func (r *Room) RejectPending(ctx context.Context, userKey identity.UserKey) (changed bool) {
	r.mu.Lock()
	entry, ok := r.pendingClients[userKey]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.pendingClients, userKey)
	r.updateParticipantGauge()
	pending := r.snapshotLocked().Pending
	r.mu.Unlock()

	r.emitToSocket(entry.Socket, "userRejected", map[string]any{"userKey": userKey})
	if entry.Socket != nil {
		entry.Socket.Disconnect(true)
	}
	r.emit(ctx, "pendingUsersSnapshot", pending)
	return true
}

// AdmitAll admits every currently pending entry, in enrollment order.
func (r *Room) AdmitAll(ctx context.Context, sessionIdFor func(identity.UserKey) identity.SessionId) int {
	r.mu.RLock()
	keys := r.orderedPendingKeys()
	r.mu.RUnlock()

	count := 0
	for _, key := range keys {
		sessionId := sessionIdFor(key)
		if r.AdmitPending(ctx, key, sessionId) {
			count++
		}
	}
	return count
}

// RejectAll rejects every currently pending entry, in enrollment order.
func (r *Room) RejectAll(ctx context.Context) int {
	r.mu.RLock()
	keys := r.orderedPendingKeys()
	r.mu.RUnlock()

	count := 0
	for _, key := range keys {
		if r.RejectPending(ctx, key) {
			count++
		}
	}
	return count
}
