package controlplane

import (
	"github.com/gin-gonic/gin"

	"github.com/sfu-control/sfu-control/internal/sfuroom"
)

func (cp *ControlPlane) handleListRooms(c *gin.Context) {
	clientId := clientIdFrom(c)
	var rooms []*sfuroom.Room
	if clientId != "" {
		rooms = cp.registry.ListByClientId(clientId)
	}

	snapshots := make([]sfuroom.RoomSnapshot, 0, len(rooms))
	for _, room := range rooms {
		snapshots = append(snapshots, room.Snapshot())
	}
	c.JSON(200, gin.H{"rooms": snapshots})
}

func (cp *ControlPlane) handleOverview(c *gin.Context) {
	clientId := clientIdFrom(c)
	rooms := cp.registry.ListByClientId(clientId)

	totalParticipants := 0
	totalPending := 0
	for _, room := range rooms {
		snap := room.Snapshot()
		totalParticipants += len(snap.Participants)
		totalPending += len(snap.Pending)
	}

	c.JSON(200, gin.H{
		"roomCount":        len(rooms),
		"participantCount": totalParticipants,
		"pendingCount":     totalPending,
		"draining":         cp.registry.Draining(),
	})
}

func (cp *ControlPlane) handleWorkers(c *gin.Context) {
	// The media-engine worker topology lives entirely behind
	// internal/mediaplane's HTTP boundary; this control plane has no
	// direct process handle to any worker, so it reports what it does
	// know: the transcription pipelines it has spawned.
	cp.mu.RLock()
	workers := make([]gin.H, 0, len(cp.transcribers))
	for channelId, tr := range cp.transcribers {
		workers = append(workers, gin.H{"channelId": channelId, "transcribing": tr.Active()})
	}
	cp.mu.RUnlock()
	c.JSON(200, gin.H{"workers": workers})
}

func (cp *ControlPlane) handleGetRoom(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	c.JSON(200, room.Snapshot())
}

func (cp *ControlPlane) handleDrain(c *gin.Context) {
	var body struct {
		Draining      bool   `json:"draining"`
		Force         bool   `json:"force"`
		Notice        string `json:"notice"`
		NoticeDelayMs int    `json:"noticeMs"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, CodeInvalidInput, "invalid drain request body", nil)
		return
	}

	result := cp.registry.ApplyDrain(reqCtx(c), sfuroom.DrainRequest{
		Draining:      body.Draining,
		Force:         body.Force,
		Notice:        body.Notice,
		NoticeDelayMs: body.NoticeDelayMs,
	})
	c.JSON(200, result)
}

func (cp *ControlPlane) handleSetPolicies(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	var fields sfuroom.PolicyFields
	if err := c.ShouldBindJSON(&fields); err != nil {
		writeError(c, CodeInvalidInput, "invalid policy body", nil)
		return
	}
	changed := room.SetPolicy(reqCtx(c), fields)
	c.JSON(200, gin.H{"changed": changed, "policies": room.Snapshot().Policies})
}

func (cp *ControlPlane) handleNotice(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Message == "" {
		writeError(c, CodeInvalidInput, "notice message must not be empty", nil)
		return
	}
	room.SendNotice(reqCtx(c), body.Message)
	c.JSON(200, gin.H{"sent": true})
}

func (cp *ControlPlane) handleEndRoom(c *gin.Context) {
	room, ok := cp.resolveRoom(c)
	if !ok {
		return
	}
	cp.registry.ForceClose(reqCtx(c), room.ChannelId)
	cp.stopTranscriber(room.ChannelId)
	c.JSON(200, gin.H{"ended": true})
}
