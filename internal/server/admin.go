package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yuzhe-s/chat-memo/internal/notes"
)

type adminStats struct {
	TotalNotes      int64 `json:"total_notes"`
	TotalMessages   int64 `json:"total_messages"`
	ActiveTags      int64 `json:"active_tags"`
	TotalVisitors   int64 `json:"total_visitors"`
	LiveRooms       int   `json:"live_rooms"`
	LiveConnections int   `json:"live_connections"`
}

type adminResponse struct {
	Stats adminStats       `json:"stats"`
	Notes []notes.NoteView `json:"notes"`
	Tags  []notes.TagView  `json:"tags"`
}

func (h *httpHandler) handleAdmin(c *gin.Context) {
	password := c.Query("password")
	if h.adminPassword == "" || subtle.ConstantTimeCompare([]byte(password), []byte(h.adminPassword)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ctx := c.Request.Context()
	stats, err := h.notesService.Stats(ctx)
	if err != nil {
		h.respondStoreError(c, "admin stats failed", err)
		return
	}
	visitors, err := h.identities.Count(ctx)
	if err != nil {
		h.logger.Error("admin visitor count failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_unavailable"})
		return
	}
	allNotes, err := h.notesService.ListAllNotes(ctx)
	if err != nil {
		h.respondStoreError(c, "admin notes failed", err)
		return
	}
	tags, err := h.notesService.ListTagsByName(ctx)
	if err != nil {
		h.respondStoreError(c, "admin tags failed", err)
		return
	}
	if tags == nil {
		tags = []notes.TagView{}
	}

	c.JSON(http.StatusOK, adminResponse{
		Stats: adminStats{
			TotalNotes:      stats.TotalNotes,
			TotalMessages:   stats.TotalMessages,
			ActiveTags:      stats.ActiveTags,
			TotalVisitors:   visitors,
			LiveRooms:       h.registry.Rooms(),
			LiveConnections: h.hub.Connections(),
		},
		Notes: nonNilNotes(allNotes),
		Tags:  tags,
	})
}
