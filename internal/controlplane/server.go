package controlplane

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sfu-control/sfu-control/internal/asr"
	"github.com/sfu-control/sfu-control/internal/identity"
	"github.com/sfu-control/sfu-control/internal/mediaplane"
	"github.com/sfu-control/sfu-control/internal/middleware"
	"github.com/sfu-control/sfu-control/internal/minutes"
	"github.com/sfu-control/sfu-control/internal/ratelimit"
	"github.com/sfu-control/sfu-control/internal/sfuroom"
	"github.com/sfu-control/sfu-control/internal/transcript"
)

// Config configures the control plane's external surface (§6). JwksDomain
// is optional; leaving it empty disables JWT-based caller identity and
// falls back to treating the shared secret as the sole admin credential.
type Config struct {
	SharedSecret   string
	InstanceId     string
	Version        string
	AllowedOrigins []string
	JwksDomain     string
	JwksAudience   string
}

// SessionIdIssuer mints a fresh SessionId for a newly admitted identity.
type SessionIdIssuer func() identity.SessionId

// ControlPlane wires the Room Registry, Minutes Generator, rate limiter,
// and media-plane webhook receiver behind the Operator HTTP surface and
// the Administrator socket.
type ControlPlane struct {
	cfg        Config
	registry   *sfuroom.Registry
	minutesGen *minutes.Generator
	limiter    *ratelimit.RateLimiter
	media      *mediaplane.Client
	issueSess  SessionIdIssuer

	// asrClient is nil when transcription is disabled (missing ASR URL,
	// §4.9's "Non-goals don't apply, but a deployment without an ASR
	// endpoint configured simply never starts a pipeline").
	asrClient      *asr.Client
	decoderFactory transcript.DecoderFactory
	asrSampleRate  int

	// jwtValidator is nil unless cfg.JwksDomain is set and the JWKS
	// endpoint was reachable at construction time; validateSocketToken
	// falls back to the shared secret whenever it is nil or rejects a
	// token.
	jwtValidator identity.TokenValidator

	mu           sync.RWMutex
	transcribers map[string]*transcript.Transcriber

	startedAt time.Time
}

// TranscriptFor resolves a room's transcript for the Minutes Generator: the
// snapshot of the pipeline registered for channelId; it returns false once
// stopTranscriber has removed that pipeline.
func (cp *ControlPlane) TranscriptFor(channelId string) ([]transcript.Chunk, bool) {
	cp.mu.RLock()
	tr, ok := cp.transcribers[channelId]
	cp.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return tr.Snapshot(), true
}

// RoomActive reports whether channelId still has a live room in the
// registry, used by the Minutes Generator to decide whether to cache.
func (cp *ControlPlane) RoomActive(channelId string) bool {
	return cp.registry.ByChannel(channelId) != nil
}

func (cp *ControlPlane) stopTranscriber(channelId string) {
	cp.mu.Lock()
	tr, ok := cp.transcribers[channelId]
	if ok {
		delete(cp.transcribers, channelId)
	}
	cp.mu.Unlock()
	if ok {
		tr.Stop(context.Background())
	}
}

// New constructs a ControlPlane. issueSess mints session ids for new
// admissions (tests may supply a deterministic issuer). asrClient may be
// nil, disabling the Transcription Pipeline entirely.
func New(cfg Config, registry *sfuroom.Registry, minutesGen *minutes.Generator, limiter *ratelimit.RateLimiter, media *mediaplane.Client, issueSess SessionIdIssuer, asrClient *asr.Client, decoderFactory transcript.DecoderFactory, asrSampleRate int) *ControlPlane {
	var jwtValidator identity.TokenValidator
	if cfg.JwksDomain != "" {
		v, err := identity.NewValidator(context.Background(), cfg.JwksDomain, cfg.JwksAudience)
		if err != nil {
			slog.Warn("jwks validator unavailable, falling back to shared secret only", "error", err, "domain", cfg.JwksDomain)
		} else {
			jwtValidator = v
		}
	}

	return &ControlPlane{
		cfg:            cfg,
		registry:       registry,
		minutesGen:     minutesGen,
		limiter:        limiter,
		media:          media,
		issueSess:      issueSess,
		asrClient:      asrClient,
		decoderFactory: decoderFactory,
		asrSampleRate:  asrSampleRate,
		jwtValidator:   jwtValidator,
		transcribers:   make(map[string]*transcript.Transcriber),
		startedAt:      time.Now(),
	}
}

// startTranscriberForProducer starts the room's Transcription Pipeline on
// the first audio producer it sees; idempotent per room (§4.9's "only one
// pipeline per room is permitted; a second audio producer does not
// attach"). A no-op when transcription is disabled.
func (cp *ControlPlane) startTranscriberForProducer(ctx context.Context, channelId, producerId, userId string, kind mediaplane.Kind) {
	if cp.asrClient == nil || kind != mediaplane.KindAudio {
		return
	}

	cp.mu.Lock()
	if _, active := cp.transcribers[channelId]; active {
		cp.mu.Unlock()
		return
	}
	tr := transcript.New(channelId, cp.media, cp.asrClient, cp.decoderFactory, cp.asrSampleRate)
	cp.transcribers[channelId] = tr
	cp.mu.Unlock()

	if err := tr.Start(ctx, producerId, channelId, userId); err != nil {
		cp.mu.Lock()
		delete(cp.transcribers, channelId)
		cp.mu.Unlock()
	}
}

// Router builds the gin engine with every route from §6 wired in.
func (cp *ControlPlane) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CorrelationID())

	corsCfg := cors.DefaultConfig()
	if len(cp.cfg.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cp.cfg.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AddAllowHeaders(HeaderSharedSecret, HeaderClientId)
	r.Use(cors.New(corsCfg))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", cp.handleHealth)

	operator := r.Group("/")
	operator.Use(SharedSecretAuth(cp.cfg.SharedSecret))
	if cp.limiter != nil {
		operator.Use(cp.limiter.GlobalMiddleware())
	}
	{
		operator.GET("/status", cp.handleStatus)
		operator.GET("/rooms", cp.handleListRooms)

		operator.POST("/drain", cp.handleDrain)
		operator.POST("/admin/drain", cp.handleDrain)

		operator.GET("/admin/overview", cp.handleOverview)
		operator.GET("/admin/workers", cp.handleWorkers)
		operator.GET("/admin/rooms", cp.handleListRooms)
		operator.GET("/admin/rooms/:roomId", cp.handleGetRoom)

		operator.POST("/admin/rooms/:roomId/policies", cp.handleSetPolicies)
		operator.POST("/admin/rooms/:roomId/notice", cp.handleNotice)
		operator.POST("/admin/rooms/:roomId/end", cp.handleEndRoom)

		operator.POST("/admin/rooms/:roomId/producers/:producerId/close", cp.handleCloseProducer)
		operator.POST("/admin/rooms/:roomId/users/:userId/kick", cp.handleKick)
		operator.POST("/admin/rooms/:roomId/users/:userId/media", cp.handleCloseUserMedia)
		operator.POST("/admin/rooms/:roomId/users/:userId/mute", cp.handleMute)
		operator.POST("/admin/rooms/:roomId/users/:userId/video-off", cp.handleVideoOff)
		operator.POST("/admin/rooms/:roomId/users/:userId/stop-screen", cp.handleStopScreen)
		operator.POST("/admin/rooms/:roomId/users/:userId/block", cp.handleBlockUser)
		operator.POST("/admin/rooms/:roomId/users/:userId/unblock", cp.handleUnblockUser)
		operator.POST("/admin/rooms/:roomId/users/remove-non-admins", cp.handleRemoveNonAdmins)

		operator.GET("/admin/rooms/:roomId/access", cp.handleGetAccessLists)
		operator.POST("/admin/rooms/:roomId/access/allow", cp.handleAccessAllow)
		operator.POST("/admin/rooms/:roomId/access/revoke", cp.handleAccessRevoke)
		operator.POST("/admin/rooms/:roomId/access/block", cp.handleAccessBlock)
		operator.POST("/admin/rooms/:roomId/access/unblock", cp.handleAccessUnblock)

		operator.POST("/admin/rooms/:roomId/pending/:userKey/admit", cp.handlePendingAdmit)
		operator.POST("/admin/rooms/:roomId/pending/:userKey/reject", cp.handlePendingReject)
		operator.POST("/admin/rooms/:roomId/pending/admit-all", cp.handlePendingAdmitAll)
		operator.POST("/admin/rooms/:roomId/pending/reject-all", cp.handlePendingRejectAll)

		operator.POST("/admin/rooms/:roomId/hands/clear", cp.handleClearHands)

		operator.POST("/minutes", cp.handleMinutes)
	}

	r.GET("/ws/admin/:roomId", cp.handleAdminSocket)
	r.POST("/webhooks/media-plane", cp.handleMediaPlaneWebhook)

	return r
}

func (cp *ControlPlane) handleHealth(c *gin.Context) {
	c.JSON(200, gin.H{"status": "healthy"})
}

func (cp *ControlPlane) handleStatus(c *gin.Context) {
	c.JSON(200, gin.H{
		"instanceId": cp.cfg.InstanceId,
		"version":    cp.cfg.Version,
		"uptime":     time.Since(cp.startedAt).String(),
		"draining":   cp.registry.Draining(),
	})
}

// resolveRoom looks up a room by roomId path param, honoring the
// clientId/x-sfu-client tenant disambiguation, and writes the appropriate
// 404/409 response itself on failure.
func (cp *ControlPlane) resolveRoom(c *gin.Context) (*sfuroom.Room, bool) {
	roomId := c.Param("roomId")
	clientId := clientIdFrom(c)

	room, err := cp.registry.ResolveByRoomId(roomId, clientId)
	if err == nil {
		return room, true
	}

	var ambiguous *sfuroom.ErrAmbiguous
	if errors.As(err, &ambiguous) {
		candidates := make([]string, len(ambiguous.Candidates))
		for i, cid := range ambiguous.Candidates {
			candidates[i] = cid + ":" + roomId
		}
		writeError(c, CodeAmbiguous, "room id is ambiguous across tenants", gin.H{"candidates": candidates})
		return nil, false
	}
	writeError(c, CodeNotFound, "room not found", nil)
	return nil, false
}

func reqCtx(c *gin.Context) context.Context {
	return c.Request.Context()
}
