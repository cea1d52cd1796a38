package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/sfu-control/sfu-control/internal/identity"
	"github.com/sfu-control/sfu-control/internal/logging"
	"github.com/sfu-control/sfu-control/internal/mediaplane"
	"github.com/sfu-control/sfu-control/internal/metrics"
	"github.com/sfu-control/sfu-control/internal/sfuroom"
)

// inboundMessage is the JSON envelope a connected socket sends. requestId,
// when present, is echoed back on the response so the caller can correlate
// a fire-and-forget ack with its request.
type inboundMessage struct {
	Type      string          `json:"type"`
	RequestId string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type outboundMessage struct {
	Type      string `json:"type"`
	RequestId string `json:"requestId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// socketConn is a gorilla/websocket connection, narrowed to what adminSocket
// needs — mirrors the teacher's wsConnection seam for testability.
type socketConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// adminSocket adapts one websocket connection to bus.SocketHandle and runs
// its own read/write pumps, the same shape as the teacher's session.Client.
type adminSocket struct {
	conn socketConn
	send chan []byte
	id   string

	mu              sync.RWMutex
	userKey         identity.UserKey
	userId          identity.UserId
	room            *sfuroom.Room
	isPendingCaller bool
	isAdminByToken  bool
}

func (s *adminSocket) Id() string { return s.id }

func (s *adminSocket) Send(event string, payload any) error {
	data, err := json.Marshal(outboundMessage{Type: event, Payload: payload})
	if err != nil {
		return err
	}
	select {
	case s.send <- data:
		return nil
	default:
		return fmt.Errorf("socket %s send buffer full", s.id)
	}
}

func (s *adminSocket) Disconnect(closeImmediate bool) {
	close(s.send)
	if closeImmediate {
		_ = s.conn.Close()
	}
}

func (s *adminSocket) writePump() {
	defer s.conn.Close()
	const writeWait = 10 * time.Second
	for message := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func (s *adminSocket) writeAck(requestId string, payload gin.H) {
	if payload == nil {
		payload = gin.H{}
	}
	payload["success"] = true
	data, _ := json.Marshal(outboundMessage{Type: "ack", RequestId: requestId, Payload: payload})
	select {
	case s.send <- data:
	default:
	}
}

func (s *adminSocket) writeNack(requestId string, errMsg string) {
	data, _ := json.Marshal(outboundMessage{Type: "ack", RequestId: requestId, Payload: gin.H{"error": errMsg}})
	select {
	case s.send <- data:
	default:
	}
}

var adminSocketUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, err := url.Parse(origin)
		return err == nil
	},
}

// handleAdminSocket serves both the join-time socket event (any caller) and
// the admin:* event family (gated to active room administrators, rechecked
// on every event — §4.6).
func (cp *ControlPlane) handleAdminSocket(c *gin.Context) {
	token := c.Query("token")
	claims, err := cp.validateSocketToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
		return
	}

	roomId := c.Param("roomId")
	clientId := clientIdFrom(c)
	if clientId == "" {
		clientId = "default"
	}

	userKey := identity.DeriveKey(claims.Subject, claims.Email)
	if cp.limiter != nil {
		if err := cp.limiter.CheckAdminSocketConnect(reqCtx(c), string(userKey)); err != nil {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
			return
		}
	}

	conn, err := adminSocketUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(reqCtx(c), "admin socket upgrade failed")
		return
	}

	room, _ := cp.registry.CreateIfAbsent(clientId, roomId)
	socket := &adminSocket{
		conn: conn,
		send: make(chan []byte, 256),
		id:   string(userKey) + "-" + fmt.Sprint(time.Now().UnixNano()),
		room: room,
	}
	socket.userKey = userKey
	socket.isAdminByToken = claims.IsAdmin()

	metrics.ActiveWebSocketConnections.Inc()
	go socket.writePump()
	cp.readPump(socket)
}

// validateSocketToken accepts either a JWKS-backed bearer JWT (when
// cp.jwtValidator is configured) or the shared operator secret, treated as
// a single static admin credential. The JWT path is tried first so a
// caller presenting a real per-identity token gets its own userKey and
// scope instead of collapsing onto the shared operator subject.
func (cp *ControlPlane) validateSocketToken(token string) (*identity.Claims, error) {
	if cp.jwtValidator != nil {
		if claims, err := cp.jwtValidator.ValidateToken(token); err == nil {
			return claims, nil
		}
	}
	validator := &identity.SharedSecretValidator{Secret: cp.cfg.SharedSecret}
	return validator.ValidateToken(token)
}

// readPump processes inbound messages until the connection closes, then
// runs disconnect cleanup — mirroring the teacher's Client.readPump.
func (cp *ControlPlane) readPump(s *adminSocket) {
	defer func() {
		metrics.ActiveWebSocketConnections.Dec()
		cp.disconnectSocket(s)
		_ = s.conn.Close()
	}()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.writeNack("", "malformed message")
			continue
		}
		cp.dispatch(context.Background(), s, msg)
	}
}

func (cp *ControlPlane) disconnectSocket(s *adminSocket) {
	s.mu.RLock()
	room := s.room
	userId := s.userId
	userKey := s.userKey
	pending := s.isPendingCaller
	s.mu.RUnlock()

	if room == nil {
		return
	}
	if fanout := room.Fanout(); fanout != nil {
		fanout.UnregisterSocket(room.ChannelId, s)
	}
	ctx := context.Background()
	if pending {
		room.RejectPending(ctx, userKey)
		return
	}
	if userId != "" {
		room.Leave(ctx, userId)
	}
}

// dispatch routes one inbound message, rechecking admin authorization for
// every admin:* event (demotion mid-session must reject the very next one).
func (cp *ControlPlane) dispatch(ctx context.Context, s *adminSocket, msg inboundMessage) {
	switch msg.Type {
	case "joinRoom":
		cp.handleJoinRoom(ctx, s, msg)
		return
	case "chat":
		cp.handleChatMessage(ctx, s, msg)
		return
	case "createTransport":
		cp.handleCreateTransport(ctx, s, msg)
		return
	case "connectTransport":
		cp.handleConnectTransport(ctx, s, msg)
		return
	case "produce":
		cp.handleProduce(ctx, s, msg)
		return
	case "consume":
		cp.handleConsume(ctx, s, msg)
		return
	}

	s.mu.RLock()
	room := s.room
	userKey := s.userKey
	s.mu.RUnlock()

	if room == nil || !room.IsAdmin(userKey) {
		s.writeNack(msg.RequestId, "not authorized")
		return
	}
	cp.dispatchAdminEvent(ctx, s, msg)
}

type joinRoomPayload struct {
	DisplayName string      `json:"displayName"`
	Mode        sfuroom.Mode `json:"mode"`
}

func (cp *ControlPlane) handleJoinRoom(ctx context.Context, s *adminSocket, msg inboundMessage) {
	var payload joinRoomPayload
	_ = json.Unmarshal(msg.Payload, &payload)
	if payload.Mode == "" {
		payload.Mode = sfuroom.ModeMeeting
	}

	s.mu.RLock()
	room := s.room
	userKey := s.userKey
	isAdminByToken := s.isAdminByToken
	s.mu.RUnlock()

	displayName, err := identity.NormalizeDisplayName(payload.DisplayName)
	if err != nil {
		s.writeNack(msg.RequestId, err.Error())
		return
	}
	var sessionId identity.SessionId
	if cp.issueSess != nil {
		sessionId = cp.issueSess()
	}

	decision, err := room.Join(ctx, userKey, sessionId, displayName, payload.Mode, isAdminByToken, s)
	if err != nil {
		s.writeNack(msg.RequestId, err.Error())
		return
	}

	if fanout := room.Fanout(); fanout != nil {
		fanout.RegisterSocket(room.ChannelId, s)
	}

	s.mu.Lock()
	s.userId = identity.ComposeUserId(userKey, sessionId)
	s.isPendingCaller = decision == sfuroom.DecisionPending
	s.mu.Unlock()

	status := "joined"
	if decision == sfuroom.DecisionPending {
		status = "waiting"
	}

	var rtpCaps json.RawMessage
	if cp.media != nil && decision != sfuroom.DecisionPending {
		rtpCaps, _ = cp.media.RtpCapabilities(ctx, room.ChannelId)
	}

	s.writeAck(msg.RequestId, gin.H{"rtpCapabilities": rtpCaps, "status": status})
}

func (cp *ControlPlane) handleChatMessage(ctx context.Context, s *adminSocket, msg inboundMessage) {
	var payload struct {
		Body string `json:"body"`
	}
	_ = json.Unmarshal(msg.Payload, &payload)

	s.mu.RLock()
	room := s.room
	userId := s.userId
	s.mu.RUnlock()

	chatMsg, err := room.SendChat(ctx, userId, payload.Body)
	if err != nil {
		s.writeNack(msg.RequestId, err.Error())
		return
	}
	s.writeAck(msg.RequestId, gin.H{"chatId": chatMsg.ChatId})
}

// handleCreateTransport creates a send or receive transport for the caller
// and records its id against their seat, open to any joined participant
// (not just admins) since publishing/consuming media is not a moderation
// action.
func (cp *ControlPlane) handleCreateTransport(ctx context.Context, s *adminSocket, msg inboundMessage) {
	var payload struct {
		Plain bool `json:"plain"`
	}
	_ = json.Unmarshal(msg.Payload, &payload)

	s.mu.RLock()
	room := s.room
	userId := s.userId
	s.mu.RUnlock()

	if room == nil || userId == "" {
		s.writeNack(msg.RequestId, "not joined")
		return
	}
	if cp.media == nil {
		s.writeNack(msg.RequestId, "media plane unavailable")
		return
	}

	desc, err := cp.media.CreateTransport(ctx, room.ChannelId, string(userId), payload.Plain)
	if err != nil {
		s.writeNack(msg.RequestId, err.Error())
		return
	}
	if payload.Plain {
		_ = room.SetConsumerTransport(userId, desc.TransportId)
	} else {
		_ = room.SetProducerTransport(userId, desc.TransportId)
	}
	s.writeAck(msg.RequestId, gin.H{
		"transportId":    desc.TransportId,
		"iceParameters":  desc.IceParameters,
		"iceCandidates":  desc.IceCandidates,
		"dtlsParameters": desc.DtlsParameters,
	})
}

// handleConnectTransport finalizes DTLS/ICE negotiation for a transport the
// caller already created.
func (cp *ControlPlane) handleConnectTransport(ctx context.Context, s *adminSocket, msg inboundMessage) {
	var payload struct {
		TransportId    string          `json:"transportId"`
		DtlsParameters json.RawMessage `json:"dtlsParameters"`
	}
	_ = json.Unmarshal(msg.Payload, &payload)

	if cp.media == nil {
		s.writeNack(msg.RequestId, "media plane unavailable")
		return
	}
	if err := cp.media.ConnectTransport(ctx, payload.TransportId, payload.DtlsParameters); err != nil {
		s.writeNack(msg.RequestId, err.Error())
		return
	}
	s.writeAck(msg.RequestId, nil)
}

// handleProduce publishes a media stream on the caller's producer
// transport, records it on the room, and — on the room's first audio
// producer — starts the Transcription Pipeline (§4.9).
func (cp *ControlPlane) handleProduce(ctx context.Context, s *adminSocket, msg inboundMessage) {
	var payload struct {
		Kind          mediaplane.Kind `json:"kind"`
		Type          mediaplane.Type `json:"type"`
		RtpParameters json.RawMessage `json:"rtpParameters"`
	}
	_ = json.Unmarshal(msg.Payload, &payload)

	s.mu.RLock()
	room := s.room
	userId := s.userId
	s.mu.RUnlock()

	if room == nil || userId == "" {
		s.writeNack(msg.RequestId, "not joined")
		return
	}
	if cp.media == nil {
		s.writeNack(msg.RequestId, "media plane unavailable")
		return
	}

	transportId, err := room.ProducerTransportOf(userId)
	if err != nil || transportId == "" {
		s.writeNack(msg.RequestId, "no producer transport")
		return
	}

	desc, err := cp.media.Produce(ctx, transportId, payload.Kind, payload.Type, payload.RtpParameters)
	if err != nil {
		s.writeNack(msg.RequestId, err.Error())
		return
	}
	if err := room.AddProducer(ctx, userId, desc.Kind, desc.Type, desc.ProducerId); err != nil {
		s.writeNack(msg.RequestId, err.Error())
		return
	}

	go cp.startTranscriberForProducer(context.Background(), room.ChannelId, desc.ProducerId, string(userId), desc.Kind)

	s.writeAck(msg.RequestId, gin.H{"producerId": desc.ProducerId})
}

// handleConsume subscribes the caller's receive transport to another
// participant's producer.
func (cp *ControlPlane) handleConsume(ctx context.Context, s *adminSocket, msg inboundMessage) {
	var payload struct {
		ProducerId string `json:"producerId"`
	}
	_ = json.Unmarshal(msg.Payload, &payload)

	s.mu.RLock()
	room := s.room
	userId := s.userId
	s.mu.RUnlock()

	if room == nil || userId == "" {
		s.writeNack(msg.RequestId, "not joined")
		return
	}
	if cp.media == nil {
		s.writeNack(msg.RequestId, "media plane unavailable")
		return
	}

	transportId, err := room.ConsumerTransportOf(userId)
	if err != nil || transportId == "" {
		s.writeNack(msg.RequestId, "no consumer transport")
		return
	}

	desc, err := cp.media.Consume(ctx, transportId, payload.ProducerId)
	if err != nil {
		s.writeNack(msg.RequestId, err.Error())
		return
	}
	s.writeAck(msg.RequestId, gin.H{
		"consumerId":    desc.ConsumerId,
		"producerId":    desc.ProducerId,
		"kind":          desc.Kind,
		"rtpParameters": desc.RtpParameters,
	})
}

// adminEventHandler performs one admin:* mutation and returns the ack
// payload (nil for a bare success ack) or an error.
type adminEventHandler func(ctx context.Context, cp *ControlPlane, room *sfuroom.Room, actor identity.UserId, payload json.RawMessage) (gin.H, error)

// adminEventHandlers maps the admin:* event family (plus legacy aliases) to
// their engine calls (§4.11's state-mutation event list).
var adminEventHandlers map[string]adminEventHandler

func init() {
	adminEventHandlers = map[string]adminEventHandler{
		"admin:kick": func(ctx context.Context, cp *ControlPlane, room *sfuroom.Room, actor identity.UserId, payload json.RawMessage) (gin.H, error) {
			var body struct {
				UserId identity.UserId `json:"userId"`
				Reason string          `json:"reason"`
			}
			_ = json.Unmarshal(payload, &body)
			return nil, room.Kick(ctx, actor, body.UserId, body.Reason)
		},
		"admin:mute": func(ctx context.Context, cp *ControlPlane, room *sfuroom.Room, actor identity.UserId, payload json.RawMessage) (gin.H, error) {
			var body struct {
				UserId identity.UserId `json:"userId"`
			}
			_ = json.Unmarshal(payload, &body)
			changed, err := room.MuteParticipant(ctx, body.UserId)
			return gin.H{"changed": changed}, err
		},
		"admin:cameraOff": func(ctx context.Context, cp *ControlPlane, room *sfuroom.Room, actor identity.UserId, payload json.RawMessage) (gin.H, error) {
			var body struct {
				UserId identity.UserId `json:"userId"`
			}
			_ = json.Unmarshal(payload, &body)
			changed, err := room.SetCameraOff(ctx, body.UserId)
			return gin.H{"changed": changed}, err
		},
		"admin:stopScreenShare": func(ctx context.Context, cp *ControlPlane, room *sfuroom.Room, actor identity.UserId, payload json.RawMessage) (gin.H, error) {
			return nil, room.StopScreenShare(ctx)
		},
		"admin:closeProducer": func(ctx context.Context, cp *ControlPlane, room *sfuroom.Room, actor identity.UserId, payload json.RawMessage) (gin.H, error) {
			var body struct {
				ProducerId string `json:"producerId"`
			}
			_ = json.Unmarshal(payload, &body)
			return nil, room.CloseProducerById(ctx, body.ProducerId)
		},
		"admin:transferHost": func(ctx context.Context, cp *ControlPlane, room *sfuroom.Room, actor identity.UserId, payload json.RawMessage) (gin.H, error) {
			var body struct {
				UserId identity.UserId `json:"userId"`
			}
			_ = json.Unmarshal(payload, &body)
			changed, err := room.TransferHost(ctx, body.UserId)
			return gin.H{"changed": changed}, err
		},
		"admin:setPolicy": func(ctx context.Context, cp *ControlPlane, room *sfuroom.Room, actor identity.UserId, payload json.RawMessage) (gin.H, error) {
			var fields sfuroom.PolicyFields
			_ = json.Unmarshal(payload, &fields)
			changed := room.SetPolicy(ctx, fields)
			return gin.H{"changed": changed}, nil
		},
		"admin:admitPending": func(ctx context.Context, cp *ControlPlane, room *sfuroom.Room, actor identity.UserId, payload json.RawMessage) (gin.H, error) {
			var body struct {
				UserKey identity.UserKey `json:"userKey"`
			}
			_ = json.Unmarshal(payload, &body)
			sessionId := identity.SessionId("")
			if cp.issueSess != nil {
				sessionId = cp.issueSess()
			}
			changed := room.AdmitPending(ctx, body.UserKey, sessionId)
			return gin.H{"changed": changed}, nil
		},
		"admin:rejectPending": func(ctx context.Context, cp *ControlPlane, room *sfuroom.Room, actor identity.UserId, payload json.RawMessage) (gin.H, error) {
			var body struct {
				UserKey identity.UserKey `json:"userKey"`
			}
			_ = json.Unmarshal(payload, &body)
			changed := room.RejectPending(ctx, body.UserKey)
			return gin.H{"changed": changed}, nil
		},
		"admin:clearHands": func(ctx context.Context, cp *ControlPlane, room *sfuroom.Room, actor identity.UserId, payload json.RawMessage) (gin.H, error) {
			changed := room.ClearHands(ctx)
			return gin.H{"changed": changed}, nil
		},
		"admin:notice": func(ctx context.Context, cp *ControlPlane, room *sfuroom.Room, actor identity.UserId, payload json.RawMessage) (gin.H, error) {
			var body struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(payload, &body)
			room.SendNotice(ctx, body.Message)
			return nil, nil
		},
	}
	// Legacy aliases predating the admin: prefix convention (§6).
	adminEventHandlers["kickUser"] = adminEventHandlers["admin:kick"]
	adminEventHandlers["muteUser"] = adminEventHandlers["admin:mute"]
	adminEventHandlers["closeProducer"] = adminEventHandlers["admin:closeProducer"]
}

func (cp *ControlPlane) dispatchAdminEvent(ctx context.Context, s *adminSocket, msg inboundMessage) {
	handler, ok := adminEventHandlers[msg.Type]
	if !ok {
		s.writeNack(msg.RequestId, "unknown event type")
		return
	}

	s.mu.RLock()
	room := s.room
	userId := s.userId
	s.mu.RUnlock()

	payload, err := handler(ctx, cp, room, userId, msg.Payload)
	if err != nil {
		s.writeNack(msg.RequestId, err.Error())
		return
	}
	s.writeAck(msg.RequestId, payload)
}
