package controlplane

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// handleMinutes resolves the target room, runs (or joins) the Minutes
// Generator, and streams the resulting PDF back to the caller (§6).
func (cp *ControlPlane) handleMinutes(c *gin.Context) {
	var body struct {
		RoomId   string `json:"roomId"`
		ClientId string `json:"clientId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.RoomId == "" {
		writeError(c, CodeInvalidInput, "roomId is required", nil)
		return
	}

	clientId := body.ClientId
	if clientId == "" {
		clientId = clientIdFrom(c)
	}

	room, err := cp.registry.ResolveByRoomId(body.RoomId, clientId)
	if err != nil {
		writeError(c, CodeNotFound, "room not found", nil)
		return
	}

	result, err := cp.minutesGen.Generate(reqCtx(c), room.ChannelId, room.Id)
	if err != nil {
		writeError(c, CodeUpstream, err.Error(), nil)
		return
	}

	filename := fmt.Sprintf("minutes-%s.pdf", room.Id)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(200, "application/pdf", result.PDF)
}
