package controlplane

import (
	"github.com/gin-gonic/gin"

	"github.com/sfu-control/sfu-control/internal/identity"
)

type accessRequest struct {
	UserKeys     []identity.UserKey `json:"userKeys"`
	KickPresent  bool               `json:"kickPresent"`
	Reason       string             `json:"reason"`
}

func (cp *ControlPlane) handleGetAccessLists(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	snap := room.Snapshot()
	c.JSON(200, gin.H{
		"allowedUserKeys":       snap.AllowedUserKeys,
		"lockedAllowedUserKeys": snap.LockedAllowedUserKeys,
		"blockedUserKeys":       snap.BlockedUserKeys,
		"adminUserKeys":         snap.AdminUserKeys,
	})
}

func (cp *ControlPlane) handleAccessAllow(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	var body accessRequest
	if err := c.ShouldBindJSON(&body); err != nil || len(body.UserKeys) == 0 {
		writeError(c, CodeInvalidInput, "userKeys must not be empty", nil)
		return
	}
	var changedKeys []identity.UserKey
	for _, key := range body.UserKeys {
		if room.AllowUser(reqCtx(c), key) {
			changedKeys = append(changedKeys, key)
		}
	}
	c.JSON(200, gin.H{"changed": changedKeys})
}

func (cp *ControlPlane) handleAccessRevoke(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	var body accessRequest
	if err := c.ShouldBindJSON(&body); err != nil || len(body.UserKeys) == 0 {
		writeError(c, CodeInvalidInput, "userKeys must not be empty", nil)
		return
	}
	var changedKeys []identity.UserKey
	for _, key := range body.UserKeys {
		if room.RevokeAllowedUser(reqCtx(c), key) {
			changedKeys = append(changedKeys, key)
		}
	}
	c.JSON(200, gin.H{"changed": changedKeys})
}

func (cp *ControlPlane) handleAccessBlock(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	var body accessRequest
	if err := c.ShouldBindJSON(&body); err != nil || len(body.UserKeys) == 0 {
		writeError(c, CodeInvalidInput, "userKeys must not be empty", nil)
		return
	}

	var changedKeys []identity.UserKey
	var kickedUserIds []identity.UserId
	for _, key := range body.UserKeys {
		snapBefore := room.Snapshot()
		if room.BlockUserWithOptions(reqCtx(c), key, body.KickPresent, body.Reason) {
			changedKeys = append(changedKeys, key)
		}
		if body.KickPresent {
			for _, p := range snapBefore.Participants {
				if p.UserKey == key {
					kickedUserIds = append(kickedUserIds, p.UserId)
				}
			}
		}
	}
	c.JSON(200, gin.H{"changed": changedKeys, "kicked": kickedUserIds})
}

func (cp *ControlPlane) handleAccessUnblock(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	var body accessRequest
	if err := c.ShouldBindJSON(&body); err != nil || len(body.UserKeys) == 0 {
		writeError(c, CodeInvalidInput, "userKeys must not be empty", nil)
		return
	}
	var changedKeys []identity.UserKey
	for _, key := range body.UserKeys {
		if room.UnblockUser(reqCtx(c), key) {
			changedKeys = append(changedKeys, key)
		}
	}
	c.JSON(200, gin.H{"changed": changedKeys})
}
