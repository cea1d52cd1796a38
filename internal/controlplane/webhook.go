package controlplane

import (
	"github.com/gin-gonic/gin"

	"github.com/sfu-control/sfu-control/internal/logging"
)

// mediaPlaneEvent is the notification shape the media engine posts back for
// producerclose/transportclose/routerclose (§4.9 step 8).
type mediaPlaneEvent struct {
	Event      string `json:"event"`
	ChannelId  string `json:"channelId"`
	ProducerId string `json:"producerId,omitempty"`
}

// handleMediaPlaneWebhook receives out-of-band close notifications from the
// media engine. A callback that races with an explicit close (the producer
// or transport is already gone by the time the notification lands) is
// silently absorbed — it is not an error, it is the expected outcome of an
// operator-initiated close beating the engine's async notification (§7).
func (cp *ControlPlane) handleMediaPlaneWebhook(c *gin.Context) {
	var body mediaPlaneEvent
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, CodeInvalidInput, "invalid webhook body", nil)
		return
	}

	ctx := reqCtx(c)
	switch body.Event {
	case "producerclose":
		cp.mu.RLock()
		tr, ok := cp.transcribers[body.ChannelId]
		cp.mu.RUnlock()
		if ok && body.ProducerId != "" {
			tr.Stop(ctx)
		}
	case "transportclose", "routerclose":
		cp.stopTranscriber(body.ChannelId)
	default:
		logging.Warn(ctx, "unrecognized media plane webhook event")
	}

	c.JSON(200, gin.H{"acknowledged": true})
}
