package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sfu-control/sfu-control/internal/bus"
	"github.com/sfu-control/sfu-control/internal/identity"
	"github.com/sfu-control/sfu-control/internal/mediaplane"
	"github.com/sfu-control/sfu-control/internal/minutes"
	"github.com/sfu-control/sfu-control/internal/ratelimit"
	"github.com/sfu-control/sfu-control/internal/sfuroom"
	"github.com/sfu-control/sfu-control/internal/summary"
	"github.com/sfu-control/sfu-control/internal/transcript"
)

const testSecret = "test-shared-secret"

func newTestControlPlane(t *testing.T) *ControlPlane {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := bus.NewHub(nil)
	media := mediaplane.New("http://127.0.0.1:0")
	registry := sfuroom.NewRegistry(hub, media)

	limiter, err := ratelimit.New("1000-H", "1000-H", nil)
	require.NoError(t, err)

	noTranscript := func(string) ([]transcript.Chunk, bool) { return nil, false }
	alwaysInactive := func(string) bool { return false }
	minutesGen := minutes.New(summary.LocalSummarizer{}, noTranscript, alwaysInactive)

	nextSession := 0
	issueSess := func() identity.SessionId {
		nextSession++
		return identity.SessionId("sess-test")
	}

	return New(
		Config{SharedSecret: testSecret, InstanceId: "inst-1", Version: "test"},
		registry,
		minutesGen,
		limiter,
		media,
		issueSess,
		nil, // ASR disabled for tests
		nil,
		16000,
	)
}

func doRequest(router http.Handler, method, path string, body any, secret string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if secret != "" {
		req.Header.Set(HeaderSharedSecret, secret)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthIsUnauthenticated(t *testing.T) {
	cp := newTestControlPlane(t)
	router := cp.Router()

	w := doRequest(router, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusRequiresSharedSecret(t *testing.T) {
	cp := newTestControlPlane(t)
	router := cp.Router()

	w := doRequest(router, http.MethodGet, "/status", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(router, http.MethodGet, "/status", nil, testSecret)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListRoomsScopedByClientId(t *testing.T) {
	cp := newTestControlPlane(t)
	router := cp.Router()

	cp.registry.CreateIfAbsent("client1", "room1")
	cp.registry.CreateIfAbsent("client2", "room2")

	w := doRequest(router, http.MethodGet, "/rooms?clientId=client1", nil, testSecret)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Rooms []sfuroom.RoomSnapshot `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Rooms, 1)
	assert.Equal(t, "room1", resp.Rooms[0].RoomId)
}

func TestGetRoomNotFound(t *testing.T) {
	cp := newTestControlPlane(t)
	router := cp.Router()

	w := doRequest(router, http.MethodGet, "/admin/rooms/missing", nil, testSecret)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetRoomAmbiguousAcrossClients(t *testing.T) {
	cp := newTestControlPlane(t)
	router := cp.Router()

	cp.registry.CreateIfAbsent("client1", "standup")
	cp.registry.CreateIfAbsent("client2", "standup")

	w := doRequest(router, http.MethodGet, "/admin/rooms/standup", nil, testSecret)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPendingAdmit(t *testing.T) {
	cp := newTestControlPlane(t)
	router := cp.Router()

	room, _ := cp.registry.CreateIfAbsent("client1", "room1")
	_, err := room.Join(context.Background(), "alice@example.com", "sess1", "Alice", sfuroom.ModeMeeting, false, nil)
	require.NoError(t, err)

	locked := true
	room.SetPolicy(context.Background(), sfuroom.PolicyFields{Locked: &locked})

	_, err = room.Join(context.Background(), "bob@example.com", "sess2", "Bob", sfuroom.ModeMeeting, false, nil)
	require.NoError(t, err)

	w := doRequest(router, http.MethodPost, "/admin/rooms/room1/pending/bob@example.com/admit?clientId=client1", nil, testSecret)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Admitted bool `json:"admitted"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Admitted)

	snap := room.Snapshot()
	assert.Len(t, snap.Pending, 0)
	assert.Len(t, snap.Participants, 2)
}

func TestAccessAllowRejectsEmptyUserKeys(t *testing.T) {
	cp := newTestControlPlane(t)
	router := cp.Router()

	cp.registry.CreateIfAbsent("client1", "room1")

	w := doRequest(router, http.MethodPost, "/admin/rooms/room1/access/allow?clientId=client1", accessRequest{}, testSecret)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDrainTogglesRegistryState(t *testing.T) {
	cp := newTestControlPlane(t)
	router := cp.Router()

	w := doRequest(router, http.MethodPost, "/drain", map[string]any{"draining": true}, testSecret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, cp.registry.Draining())

	w = doRequest(router, http.MethodPost, "/drain", map[string]any{"draining": false}, testSecret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, cp.registry.Draining())
}

func TestEndRoomRemovesRoom(t *testing.T) {
	cp := newTestControlPlane(t)
	router := cp.Router()

	cp.registry.CreateIfAbsent("client1", "room1")

	w := doRequest(router, http.MethodPost, "/admin/rooms/room1/end?clientId=client1", nil, testSecret)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Nil(t, cp.registry.Get("client1", "room1"))
}

func TestMinutesWithNoTranscriptReturnsUpstreamUnavailable(t *testing.T) {
	cp := newTestControlPlane(t)
	router := cp.Router()

	cp.registry.CreateIfAbsent("client1", "room1")

	w := doRequest(router, http.MethodPost, "/minutes", map[string]any{"roomId": "room1", "clientId": "client1"}, testSecret)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMinutesUnknownRoomNotFound(t *testing.T) {
	cp := newTestControlPlane(t)
	router := cp.Router()

	w := doRequest(router, http.MethodPost, "/minutes", map[string]any{"roomId": "ghost", "clientId": "client1"}, testSecret)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKickUnknownUserReturnsNotFound(t *testing.T) {
	cp := newTestControlPlane(t)
	router := cp.Router()

	cp.registry.CreateIfAbsent("client1", "room1")

	req := httptest.NewRequest(http.MethodPost, "/admin/rooms/room1/users/ghost@example.com%23sess1/kick?clientId=client1", nil)
	req.Header.Set(HeaderSharedSecret, testSecret)
	req.Header.Set("x-sfu-actor", "alice@example.com#sess1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMediaPlaneWebhookAbsorbsUnknownChannel(t *testing.T) {
	cp := newTestControlPlane(t)
	router := cp.Router()

	w := doRequest(router, http.MethodPost, "/webhooks/media-plane", map[string]any{
		"event":     "transportclose",
		"channelId": "client1:room1",
	}, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMediaPlaneWebhookRejectsInvalidBody(t *testing.T) {
	cp := newTestControlPlane(t)
	router := cp.Router()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/media-plane", bytes.NewReader([]byte("not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
