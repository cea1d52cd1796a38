package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sfu-control/sfu-control/internal/metrics"
)

// Hub is the in-process event fan-out registry. Each channel id maps to the
// set of sockets currently registered to it (participants plus any
// observer connections); sends are serialized per-channel so that events
// emitted by one logical operation reach every socket in emission order.
// Cross-channel ordering is never guaranteed.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[string]SocketHandle

	// sendMu serializes SendToChannel calls per channel, so interleaved
	// logical operations on the same channel cannot scramble each other's
	// per-socket delivery order.
	sendMu sync.Map // channelId -> *sync.Mutex

	redis *RedisBus // nil in single-instance mode
}

// NewHub constructs an empty Hub. redisBus may be nil for single-instance
// deployments with no cross-pod fan-out.
func NewHub(redisBus *RedisBus) *Hub {
	return &Hub{
		channels: make(map[string]map[string]SocketHandle),
		redis:    redisBus,
	}
}

func (h *Hub) channelLock(channelId string) *sync.Mutex {
	v, _ := h.sendMu.LoadOrStore(channelId, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// RegisterSocket adds handle to channelId's broadcast group.
func (h *Hub) RegisterSocket(channelId string, handle SocketHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.channels[channelId]
	if !ok {
		group = make(map[string]SocketHandle)
		h.channels[channelId] = group
	}
	group[handle.Id()] = handle
}

// UnregisterSocket removes handle from channelId's broadcast group,
// cleaning up the group entirely once empty.
func (h *Hub) UnregisterSocket(channelId string, handle SocketHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.channels[channelId]
	if !ok {
		return
	}
	delete(group, handle.Id())
	if len(group) == 0 {
		delete(h.channels, channelId)
		h.sendMu.Delete(channelId)
	}
}

// SendToChannel delivers event to every socket registered to channelId (a
// snapshot taken at send time, in no defined socket order; sends to one
// channel are serialized), and republishes it to other pods via Redis
// when configured. Delivery is best-effort: a failing socket is logged and
// skipped, never aborting delivery to the rest of the group.
func (h *Hub) SendToChannel(ctx context.Context, channelId string, event string, payload any) error {
	lock := h.channelLock(channelId)
	lock.Lock()
	defer lock.Unlock()

	h.mu.RLock()
	group := h.channels[channelId]
	handles := make([]SocketHandle, 0, len(group))
	for _, handle := range group {
		handles = append(handles, handle)
	}
	h.mu.RUnlock()

	for _, handle := range handles {
		if err := handle.Send(event, payload); err != nil {
			slog.Warn("fan-out send failed", "channel_id", channelId, "event", event, "socket_id", handle.Id(), "error", err)
		}
	}

	if h.redis != nil {
		if err := h.redis.Publish(ctx, channelId, event, payload, ""); err != nil {
			slog.Warn("fan-out redis republish failed", "channel_id", channelId, "event", event, "error", err)
		}
	}
	return nil
}

// SendToSocket delivers event to a single socket, bypassing channel
// registration entirely (used for pending-room callers not yet admitted).
func (h *Hub) SendToSocket(handle SocketHandle, event string, payload any) error {
	if err := handle.Send(event, payload); err != nil {
		slog.Warn("fan-out direct send failed", "socket_id", handle.Id(), "event", event, "error", err)
		return err
	}
	return nil
}

// DisconnectChannel disconnects every socket currently registered to
// channelId. Used by room teardown (Registry.ForceClose); does not
// itself unregister sockets, since each socket's own close handler is
// expected to call UnregisterSocket.
func (h *Hub) DisconnectChannel(channelId string, closeImmediate bool) {
	h.mu.RLock()
	group := h.channels[channelId]
	handles := make([]SocketHandle, 0, len(group))
	for _, handle := range group {
		handles = append(handles, handle)
	}
	h.mu.RUnlock()

	for _, handle := range handles {
		handle.Disconnect(closeImmediate)
	}
	metrics.DrainEvents.WithLabelValues("channel_disconnected").Inc()
}
