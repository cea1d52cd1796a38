// Package bus implements the Event Fan-out component: typed notifications
// to room channels and individual sockets, backed by an in-process
// registry and, when configured, cross-pod Redis pub/sub.
package bus

import "context"

// SocketHandle is the narrow capability every socket-like connection must
// satisfy to receive fan-out events. No component probes beyond this
// shape; duck-typing on richer connection objects is deliberately avoided.
type SocketHandle interface {
	// Id identifies the handle for de-duplication and logging.
	Id() string
	// Send delivers an event to this socket. Best-effort; no retry.
	Send(event string, payload any) error
	// Disconnect closes the underlying connection. closeImmediate skips
	// any graceful close handshake.
	Disconnect(closeImmediate bool)
}

// Event is a single fan-out notification.
type Event struct {
	ChannelId string
	Event     string
	Payload   any
	// SenderId, when set, prevents the originating socket from receiving
	// its own cross-pod echo.
	SenderId string
}

// Fanout is the interface the rest of the control plane depends on; Hub is
// the concrete implementation.
type Fanout interface {
	RegisterSocket(channelId string, handle SocketHandle)
	UnregisterSocket(channelId string, handle SocketHandle)
	SendToChannel(ctx context.Context, channelId string, event string, payload any) error
	SendToSocket(handle SocketHandle, event string, payload any) error
	DisconnectChannel(channelId string, closeImmediate bool)
}
