package handlers

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Phuonglp03/melodyhub-dev-sub005/internal/cache"
	"github.com/Phuonglp03/melodyhub-dev-sub005/internal/collab"
)

type Rooms struct {
	state    *collab.StateStore
	presence *cache.Presence
}

func NewRooms(state *collab.StateStore, presence *cache.Presence) *Rooms {
	return &Rooms{state: state, presence: presence}
}

func (h *Rooms) GetState(c *gin.Context) {
	projectID := c.Param("projectID")
	st, err := h.state.GetState(c.Request.Context(), projectID)
	if err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, st)
}

// GET /collab/rooms/:projectID/ops?from=N
func (h *Rooms) GetMissingOps(c *gin.Context) {
	projectID := c.Param("projectID")
	from, err := strconv.ParseUint(c.DefaultQuery("from", "0"), 10, 64)
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid from version"})
		return
	}
	ops, err := h.state.GetMissingOps(c.Request.Context(), projectID, from)
	if err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, gin.H{"projectId": projectID, "ops": ops})
}

type applyOpRequest struct {
	Op       collab.Operation `json:"op"`
	Snapshot string           `json:"snapshot,omitempty"`
}

func (h *Rooms) ApplyOperation(c *gin.Context) {
	projectID := c.Param("projectID")
	var req applyOpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}
	applied, err := h.state.ApplyOperation(c.Request.Context(), projectID, req.Op, collab.ApplyOptions{Snapshot: req.Snapshot})
	if err != nil {
		if errors.Is(err, collab.ErrMissingProject) || errors.Is(err, collab.ErrMissingOpType) {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, applied)
}

type setSnapshotRequest struct {
	Snapshot string `json:"snapshot"`
	// 省略时保持当前版本号
	Version *int64 `json:"version,omitempty"`
}

func (h *Rooms) SetSnapshot(c *gin.Context) {
	projectID := c.Param("projectID")
	var req setSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}
	version := int64(-1)
	if req.Version != nil {
		version = *req.Version
	}
	st, err := h.state.SetSnapshot(c.Request.Context(), projectID, req.Snapshot, version)
	if err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, st)
}

func (h *Rooms) Clear(c *gin.Context) {
	projectID := c.Param("projectID")
	if err := h.state.ClearCollabState(c.Request.Context(), projectID); err != nil {
		c.JSON(400, gin.H{"error": err.Error()})
		return
	}
	c.JSON(200, gin.H{"projectId": projectID, "cleared": true})
}

func (h *Rooms) ListPresence(c *gin.Context) {
	projectID := c.Param("projectID")
	members := h.presence.ListPresence(c.Request.Context(), projectID)
	c.JSON(200, gin.H{"projectId": projectID, "members": members})
}
