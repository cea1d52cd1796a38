package sfuroom

import (
	"context"
	"fmt"
	"time"

	"github.com/sfu-control/sfu-control/internal/identity"
	"github.com/sfu-control/sfu-control/internal/metrics"
)

// ErrNotParticipant is returned by mutations that target a userId/userKey
// that is not currently seated in the room.
var ErrNotParticipant = fmt.Errorf("not a participant")

// ErrNoHost is returned by operations requiring an existing host when the
// room currently has none.
var ErrNoHost = fmt.Errorf("room has no host")

// SetPolicy applies a partial policy update. Returns changed=false if every
// named field already held its requested value (idempotent no-op, per the
// control-plane API's "changed" semantics, §6).
func (r *Room) SetPolicy(ctx context.Context, fields PolicyFields) (changed bool) {
	r.mu.Lock()
	before := r.policies
	applyPolicyFields(&r.policies, fields)
	after := r.policies
	changed = before != after

	var reconcile func()
	if changed && before.Locked != after.Locked {
		reconcile = r.reconcileLockTransitionLocked(after.Locked)
	}
	r.mu.Unlock()

	if reconcile != nil {
		reconcile()
	}
	if before.Locked != after.Locked {
		r.emit(ctx, "roomLockChanged", after.Locked)
	}
	if before.ChatLocked != after.ChatLocked {
		r.emit(ctx, "chatLockChanged", after.ChatLocked)
	}
	if before.NoGuests != after.NoGuests {
		r.emit(ctx, "noGuestsChanged", after.NoGuests)
	}
	if before.TtsDisabled != after.TtsDisabled {
		r.emit(ctx, "ttsDisabledChanged", after.TtsDisabled)
	}
	if before.DmEnabled != after.DmEnabled {
		r.emit(ctx, "dmStateChanged", after.DmEnabled)
	}
	return changed
}

func applyPolicyFields(p *Policies, f PolicyFields) {
	if f.Locked != nil {
		p.Locked = *f.Locked
	}
	if f.ChatLocked != nil {
		p.ChatLocked = *f.ChatLocked
	}
	if f.NoGuests != nil {
		p.NoGuests = *f.NoGuests
	}
	if f.TtsDisabled != nil {
		p.TtsDisabled = *f.TtsDisabled
	}
	if f.DmEnabled != nil {
		p.DmEnabled = *f.DmEnabled
	}
	if f.RequiresMeetingInviteCode != nil {
		p.RequiresMeetingInviteCode = *f.RequiresMeetingInviteCode
	}
}

// reconcileLockTransitionLocked must be called while holding the write
// lock. Its closure result is always nil.
// Locking: grandfather every seated participant's key into
// lockedAllowedUserKeys so re-joins after a reconnect aren't treated as new
// admissions. Unlocking: no pending entry is admitted, including entries
// whose userKey is in allowedUserKeys; every entry stays pending until
// AdmitPending, AdmitAll, or a rejection removes it.
func (r *Room) reconcileLockTransitionLocked(locked bool) func() {
	if locked {
		for _, p := range r.clients {
			r.lockedAllowedUserKeys.Insert(p.UserKey)
		}
	}
	return nil
}

// AllowUser grants userKey standing access, which admits a guest to a
// no-guests room; it does not bypass a lock. A blocked userKey is left
// unchanged (block wins until UnblockUser).
func (r *Room) AllowUser(ctx context.Context, userKey identity.UserKey) (changed bool) {
	r.mu.Lock()
	if r.blockedUserKeys.Has(userKey) {
		r.mu.Unlock()
		return false
	}
	changed = !r.allowedUserKeys.Has(userKey)
	r.allowedUserKeys.Insert(userKey)
	r.mu.Unlock()
	if changed {
		r.emit(ctx, "userAllowed", userKey)
	}
	return changed
}

// RevokeAllowedUser removes standing access; does not remove a currently
// seated participant.
func (r *Room) RevokeAllowedUser(ctx context.Context, userKey identity.UserKey) (changed bool) {
	r.mu.Lock()
	changed = r.allowedUserKeys.Has(userKey)
	r.allowedUserKeys.Delete(userKey)
	r.mu.Unlock()
	if changed {
		r.emit(ctx, "userAccessRevoked", userKey)
	}
	return changed
}

// AllowLockedUser grants userKey entry while the room is locked. Lock
// transitions never clear the grant; it stays until RevokeLockedAllowedUser
// or a block removes it. A blocked userKey is left unchanged (block wins
// until UnblockUser).
func (r *Room) AllowLockedUser(ctx context.Context, userKey identity.UserKey) (changed bool) {
	r.mu.Lock()
	if r.blockedUserKeys.Has(userKey) {
		r.mu.Unlock()
		return false
	}
	changed = !r.lockedAllowedUserKeys.Has(userKey)
	r.lockedAllowedUserKeys.Insert(userKey)
	r.mu.Unlock()
	if changed {
		r.emit(ctx, "userLockedAllowed", userKey)
	}
	return changed
}

// RevokeLockedAllowedUser removes the lock-scoped allowance without
// touching standing access or restoring any prior block (spec §9 Open
// Question: unblocking/revoking never restores a previous allow state).
func (r *Room) RevokeLockedAllowedUser(ctx context.Context, userKey identity.UserKey) (changed bool) {
	r.mu.Lock()
	changed = r.lockedAllowedUserKeys.Has(userKey)
	r.lockedAllowedUserKeys.Delete(userKey)
	r.mu.Unlock()
	if changed {
		r.emit(ctx, "userLockedAllowedRevoked", userKey)
	}
	return changed
}

// BlockUser denies userKey entry and evicts any currently seated session,
// matching blockIdentity's default behavior (§4.5) with kickPresent=true.
func (r *Room) BlockUser(ctx context.Context, userKey identity.UserKey) (changed bool) {
	return r.blockUser(ctx, userKey, true, string(ReasonBlocked))
}

// BlockUserWithOptions denies userKey entry, rejecting any pending entry
// for the same key, and — only if kick is true — evicts every seated
// session for that key, sending kickedReason on their kicked event
// (§4.5's blockIdentity(userKey, {kickPresent, reason})).
func (r *Room) BlockUserWithOptions(ctx context.Context, userKey identity.UserKey, kick bool, kickedReason string) (changed bool) {
	if kickedReason == "" {
		kickedReason = string(ReasonBlocked)
	}
	return r.blockUser(ctx, userKey, kick, kickedReason)
}

func (r *Room) blockUser(ctx context.Context, userKey identity.UserKey, kick bool, kickedReason string) (changed bool) {
	r.mu.Lock()
	changed = !r.blockedUserKeys.Has(userKey)
	r.blockedUserKeys.Insert(userKey)
	r.allowedUserKeys.Delete(userKey)
	r.lockedAllowedUserKeys.Delete(userKey)

	var toRemove []identity.UserId
	if kick {
		for id, p := range r.clients {
			if p.UserKey == userKey {
				toRemove = append(toRemove, id)
			}
		}
	}
	entry, hadPending := r.pendingClients[userKey]
	delete(r.pendingClients, userKey)
	pending := r.snapshotLocked().Pending
	r.mu.Unlock()

	if hadPending {
		changed = true
		r.emitToSocket(entry.Socket, "userRejected", map[string]any{"userKey": userKey})
		if entry.Socket != nil {
			entry.Socket.Disconnect(true)
		}
		r.emit(ctx, "pendingUsersSnapshot", pending)
	}
	for _, id := range toRemove {
		r.removeParticipantWithReasonText(ctx, id, ReasonBlocked, kickedReason)
		changed = true
	}
	return changed
}

// UnblockUser removes userKey from the block list only; it does not
// restore any previously held allow state (the same Open Question
// decision as RevokeLockedAllowedUser — unblock and allow are independent
// actions, never implicitly coupled).
func (r *Room) UnblockUser(ctx context.Context, userKey identity.UserKey) (changed bool) {
	r.mu.Lock()
	changed = r.blockedUserKeys.Has(userKey)
	r.blockedUserKeys.Delete(userKey)
	r.mu.Unlock()
	if changed {
		r.emit(ctx, "userUnblocked", userKey)
	}
	return changed
}

// PromoteToAdmin grants admin capability without affecting any access list
// (spec §9 Open Question: promotion never touches lockedAllowedUserKeys).
func (r *Room) PromoteToAdmin(ctx context.Context, userKey identity.UserKey) (changed bool) {
	r.mu.Lock()
	changed = !r.adminUserKeys.Has(userKey)
	r.adminUserKeys.Insert(userKey)
	r.mu.Unlock()
	if changed {
		r.emit(ctx, "adminUsersChanged", userKey)
	}
	return changed
}

// DemoteAdmin revokes admin capability. Demoting the host is a no-op for
// host status; host and admin are independent tags.
func (r *Room) DemoteAdmin(ctx context.Context, userKey identity.UserKey) (changed bool) {
	r.mu.Lock()
	changed = r.adminUserKeys.Has(userKey)
	r.adminUserKeys.Delete(userKey)
	r.mu.Unlock()
	if changed {
		r.emit(ctx, "adminUsersChanged", userKey)
	}
	return changed
}

// SetHost transfers host status to userKey, which must currently be
// seated. Returns ErrNotParticipant if it is not.
func (r *Room) SetHost(ctx context.Context, userKey identity.UserKey) (changed bool, err error) {
	r.mu.Lock()
	found := false
	for _, p := range r.clients {
		if p.UserKey == userKey {
			found = true
			break
		}
	}
	if !found {
		r.mu.Unlock()
		return false, ErrNotParticipant
	}
	changed = r.hostUserKey != userKey
	r.hostUserKey = userKey
	r.adminUserKeys.Insert(userKey)
	r.mu.Unlock()

	if changed {
		r.emit(ctx, "hostChanged", userKey)
		r.emit(ctx, "adminUsersChanged", userKey)
	}
	return changed, nil
}

// ClearHands lowers every raised hand uniformly, including the host's if
// raised (the host has no special exemption here).
func (r *Room) ClearHands(ctx context.Context) (changed bool) {
	r.mu.Lock()
	changed = len(r.handRaisedOrder) > 0
	r.handRaisedOrder = nil
	r.mu.Unlock()
	if changed {
		r.emit(ctx, "admin:handsCleared", nil)
	}
	return changed
}

// RaiseHand marks userId's hand raised; a hand already raised is a no-op.
func (r *Room) RaiseHand(ctx context.Context, userId identity.UserId) (changed bool) {
	r.mu.Lock()
	for _, id := range r.handRaisedOrder {
		if id == userId {
			r.mu.Unlock()
			return false
		}
	}
	if _, ok := r.clients[userId]; !ok {
		r.mu.Unlock()
		return false
	}
	r.handRaisedOrder = append(r.handRaisedOrder, userId)
	order := append([]identity.UserId(nil), r.handRaisedOrder...)
	r.mu.Unlock()
	r.emit(ctx, "handRaisedSnapshot", order)
	return true
}

// LowerHand clears a single raised hand.
func (r *Room) LowerHand(ctx context.Context, userId identity.UserId) (changed bool) {
	r.mu.Lock()
	idx := -1
	for i, id := range r.handRaisedOrder {
		if id == userId {
			idx = i
			break
		}
	}
	if idx == -1 {
		r.mu.Unlock()
		return false
	}
	r.handRaisedOrder = append(r.handRaisedOrder[:idx], r.handRaisedOrder[idx+1:]...)
	order := append([]identity.UserId(nil), r.handRaisedOrder...)
	r.mu.Unlock()
	r.emit(ctx, "handRaisedSnapshot", order)
	return true
}

// removeParticipant evicts a seated participant, releasing any producers
// through the media plane, clearing raised-hand and screen-share state,
// and updating gauges. hostUserKey and adminUserKeys are identity-scoped
// and survive a removal untouched — they change only through an explicit
// setHost/transferHost/promote/demote call (§3). It never holds the write
// lock across the media plane close calls (§5: no room-guard held across
// suspension points).
func (r *Room) removeParticipant(ctx context.Context, userId identity.UserId, reason RemovalReason) {
	r.removeParticipantWithReasonText(ctx, userId, reason, string(reason))
}

// removeParticipantWithReasonText is removeParticipant with a caller-chosen
// reason string for the targeted kicked event, distinct from the internal
// RemovalReason enum used for metrics and disconnect hardness.
func (r *Room) removeParticipantWithReasonText(ctx context.Context, userId identity.UserId, reason RemovalReason, kickedReason string) {
	r.mu.Lock()
	p, ok := r.clients[userId]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.clients, userId)
	delete(r.userKeysById, userId)

	for i, id := range r.handRaisedOrder {
		if id == userId {
			r.handRaisedOrder = append(r.handRaisedOrder[:i], r.handRaisedOrder[i+1:]...)
			break
		}
	}

	producers := make([]Producer, 0, len(p.Producers))
	for _, prod := range p.Producers {
		producers = append(producers, prod)
		if prod.ProducerId == r.screenShareProducerId {
			r.screenShareProducerId = ""
		}
	}

	r.updateParticipantGauge()
	r.mu.Unlock()

	if r.media != nil {
		for _, prod := range producers {
			if err := r.media.CloseProducer(ctx, prod.ProducerId); err != nil {
				metrics.CircuitBreakerFailures.WithLabelValues("media_plane").Inc()
			}
		}
		if p.ProducerTransportId != "" {
			_ = r.media.CloseTransport(ctx, p.ProducerTransportId)
		}
		if p.ConsumerTransportId != "" && p.ConsumerTransportId != p.ProducerTransportId {
			_ = r.media.CloseTransport(ctx, p.ConsumerTransportId)
		}
	}

	if reason != ReasonDisconnected {
		r.emitToSocket(p.Socket, "kicked", map[string]any{"reason": kickedReason})
	}
	if p.Socket != nil {
		p.Socket.Disconnect(reason != ReasonDisconnected)
	}

	metrics.RoomTransitions.WithLabelValues("participant_left", string(reason)).Inc()
	for _, prod := range producers {
		r.broadcastExcludingAttendees("producerClosed", map[string]any{
			"userId":     userId,
			"producerId": prod.ProducerId,
			"kind":       prod.Kind,
			"type":       prod.Type,
		}, userId)
	}

	r.notifyEmptyIfNeeded()
}

// Leave removes a participant on their own socket's disconnect — distinct
// from Kick, which an admin cannot target at themselves.
func (r *Room) Leave(ctx context.Context, userId identity.UserId) {
	r.removeParticipant(ctx, userId, ReasonDisconnected)
}

// SendNotice broadcasts an operator-authored notice to the room's channel
// without mutating any room state.
func (r *Room) SendNotice(ctx context.Context, message string) {
	r.emit(ctx, "adminNotice", map[string]any{"message": message})
}

// now is a seam for deterministic tests; production code always uses the
// wall clock.
var now = time.Now
