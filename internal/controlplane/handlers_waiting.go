package controlplane

import (
	"github.com/gin-gonic/gin"

	"github.com/sfu-control/sfu-control/internal/identity"
)

func (cp *ControlPlane) handlePendingAdmit(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	userKey := identity.UserKey(c.Param("userKey"))
	sessionId := cp.issueSess()
	changed := room.AdmitPending(reqCtx(c), userKey, sessionId)
	c.JSON(200, gin.H{"admitted": changed})
}

func (cp *ControlPlane) handlePendingReject(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	userKey := identity.UserKey(c.Param("userKey"))
	changed := room.RejectPending(reqCtx(c), userKey)
	c.JSON(200, gin.H{"rejected": changed})
}

func (cp *ControlPlane) handlePendingAdmitAll(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	count := room.AdmitAll(reqCtx(c), func(identity.UserKey) identity.SessionId {
		return cp.issueSess()
	})
	c.JSON(200, gin.H{"admittedCount": count})
}

func (cp *ControlPlane) handlePendingRejectAll(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	count := room.RejectAll(reqCtx(c))
	c.JSON(200, gin.H{"rejectedCount": count})
}

func (cp *ControlPlane) handleClearHands(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	changed := room.ClearHands(reqCtx(c))
	c.JSON(200, gin.H{"changed": changed})
}
