package sfuroom

import (
	"context"
	"sync"
	"time"

	"github.com/sfu-control/sfu-control/internal/metrics"
)

// MaxDrainNoticeDelay clamps the operator-supplied notice delay (spec §4.8).
const MaxDrainNoticeDelay = 30 * time.Second

// DrainRequest mirrors the control-plane's drain request body.
type DrainRequest struct {
	Draining      bool
	Force         bool
	Notice        string
	NoticeDelayMs int
}

// DrainResult is returned once ApplyDrain has run every phase of the drain
// command (broadcast, notice delay, disconnect). A cancelled ctx cuts the
// notice delay short; the disconnect phase still runs.
type DrainResult struct {
	Draining bool `json:"draining"`
	Forced   bool `json:"forced"`
}

// drainState is the process-global draining flag, guarded independently of
// any room (spec §5: no room guard is held across the drain's suspension
// points).
type drainState struct {
	mu       sync.Mutex
	draining bool
}

func (d *drainState) get() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draining
}

func (d *drainState) set(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.draining = v
}

// ApplyDrain runs the Drain Coordinator's single atomic command. With
// force && draining, it broadcasts a restart notice to every room and
// every pending socket, optionally sleeps up to MaxDrainNoticeDelay, then
// mass-disconnects every socket in every room followed by all pending
// sockets. The Drain Coordinator is the only component permitted to issue
// mass-disconnection calls (§5).
func (reg *Registry) ApplyDrain(ctx context.Context, req DrainRequest) DrainResult {
	reg.drain.set(req.Draining)
	metrics.DrainEvents.WithLabelValues("state_set").Inc()

	if !(req.Force && req.Draining) {
		return DrainResult{Draining: req.Draining, Forced: false}
	}

	reg.mu.RLock()
	rooms := make([]*Room, 0, len(reg.byChannel))
	for _, room := range reg.byChannel {
		rooms = append(rooms, room)
	}
	reg.mu.RUnlock()

	notice := map[string]any{
		"event":        "serverRestarting",
		"reconnecting": true,
		"notice":       req.Notice,
	}

	for _, room := range rooms {
		room.emit(ctx, "serverRestarting", notice)
	}
	for _, room := range rooms {
		room.mu.RLock()
		pendingSockets := make([]PendingEntry, 0, len(room.pendingClients))
		for _, entry := range room.pendingClients {
			pendingSockets = append(pendingSockets, *entry)
		}
		room.mu.RUnlock()
		for _, entry := range pendingSockets {
			if entry.Socket != nil {
				_ = entry.Socket.Send("serverRestarting", notice)
			}
		}
	}

	delay := time.Duration(req.NoticeDelayMs) * time.Millisecond
	if delay > MaxDrainNoticeDelay {
		delay = MaxDrainNoticeDelay
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	for _, room := range rooms {
		room.mu.RLock()
		ids := room.orderedParticipantIds()
		pending := make([]PendingEntry, 0, len(room.pendingClients))
		for _, entry := range room.pendingClients {
			pending = append(pending, *entry)
		}
		room.mu.RUnlock()

		for _, id := range ids {
			room.removeParticipant(ctx, id, ReasonDrain)
		}
		for _, entry := range pending {
			if entry.Socket != nil {
				entry.Socket.Disconnect(true)
			}
		}
	}

	metrics.DrainEvents.WithLabelValues("disconnected_all").Inc()
	return DrainResult{Draining: true, Forced: true}
}

// Draining reports the current process-global drain flag.
func (reg *Registry) Draining() bool {
	return reg.drain.get()
}
