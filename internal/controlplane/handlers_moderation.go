package controlplane

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/sfu-control/sfu-control/internal/identity"
	"github.com/sfu-control/sfu-control/internal/sfuroom"
)

func (cp *ControlPlane) handleCloseProducer(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	producerId := c.Param("producerId")
	err := room.CloseProducerById(reqCtx(c), producerId)
	if errors.Is(err, sfuroom.ErrProducerNotFound) {
		c.JSON(200, gin.H{"closed": false})
		return
	}
	c.JSON(200, gin.H{"closed": true})
}

func (cp *ControlPlane) handleKick(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	targetUserId := identity.UserId(c.Param("userId"))
	actorUserId := identity.UserId(c.GetHeader("x-sfu-actor"))

	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)

	if err := room.Kick(reqCtx(c), actorUserId, targetUserId, body.Reason); err != nil {
		cp.writeModerationError(c, err)
		return
	}
	c.JSON(200, gin.H{"kicked": true})
}

func (cp *ControlPlane) handleCloseUserMedia(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	userId := identity.UserId(c.Param("userId"))

	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)
	if body.Reason == "" {
		body.Reason = "operator"
	}

	closed, err := room.CloseClientProducers(reqCtx(c), userId, nil, body.Reason)
	if err != nil {
		cp.writeModerationError(c, err)
		return
	}
	c.JSON(200, gin.H{"mediaClosed": len(closed) > 0, "closedProducers": closed})
}

func (cp *ControlPlane) handleMute(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	userId := identity.UserId(c.Param("userId"))
	changed, err := room.MuteParticipant(reqCtx(c), userId)
	if err != nil {
		cp.writeModerationError(c, err)
		return
	}
	c.JSON(200, gin.H{"changed": changed})
}

func (cp *ControlPlane) handleVideoOff(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	userId := identity.UserId(c.Param("userId"))
	changed, err := room.SetCameraOff(reqCtx(c), userId)
	if err != nil {
		cp.writeModerationError(c, err)
		return
	}
	c.JSON(200, gin.H{"changed": changed})
}

func (cp *ControlPlane) handleStopScreen(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	if err := room.StopScreenShare(reqCtx(c)); err != nil {
		cp.writeModerationError(c, err)
		return
	}
	c.JSON(200, gin.H{"stopped": true})
}

func (cp *ControlPlane) handleBlockUser(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	userKey := identity.UserKey(c.Param("userId"))
	changed := room.BlockUser(reqCtx(c), userKey)
	c.JSON(200, gin.H{"changed": changed})
}

func (cp *ControlPlane) handleUnblockUser(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	userKey := identity.UserKey(c.Param("userId"))
	changed := room.UnblockUser(reqCtx(c), userKey)
	c.JSON(200, gin.H{"changed": changed})
}

func (cp *ControlPlane) handleRemoveNonAdmins(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	count := room.RemoveNonAdmins(reqCtx(c), sfuroom.ReasonKicked)
	c.JSON(200, gin.H{"removedCount": count})
}

func (cp *ControlPlane) writeModerationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sfuroom.ErrNotParticipant):
		writeError(c, CodeNotFound, err.Error(), nil)
	case errors.Is(err, sfuroom.ErrCannotKickSelf):
		writeError(c, CodeForbidden, err.Error(), nil)
	case errors.Is(err, sfuroom.ErrProducerNotFound):
		writeError(c, CodeNotFound, err.Error(), nil)
	default:
		writeError(c, CodeTransient, err.Error(), nil)
	}
}
