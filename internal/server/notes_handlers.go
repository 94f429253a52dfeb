package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yuzhe-s/chat-memo/internal/notes"
)

type sessionResponse struct {
	UserID string `json:"user_id"`
}

type notesResponse struct {
	Notes []notes.NoteView `json:"notes"`
}

type noteResponse struct {
	Note notes.NoteView `json:"note"`
}

type tagsResponse struct {
	Tags []notes.TagView `json:"tags"`
}

func (h *httpHandler) handleSession(c *gin.Context) {
	c.JSON(http.StatusOK, sessionResponse{UserID: c.GetString(userIDContextKey)})
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	views, err := h.notesService.ListPublicNotes(c.Request.Context(), 0)
	if err != nil {
		h.respondStoreError(c, "list notes failed", err)
		return
	}
	c.JSON(http.StatusOK, notesResponse{Notes: nonNilNotes(views)})
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	noteID, err := strconv.ParseUint(c.Param("id"), 10, 0)
	if err != nil || noteID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return
	}
	view, err := h.notesService.ViewNote(c.Request.Context(), uint(noteID))
	if err != nil {
		h.respondStoreError(c, "view note failed", err)
		return
	}
	c.JSON(http.StatusOK, noteResponse{Note: view})
}

func (h *httpHandler) handleShareLookup(c *gin.Context) {
	view, err := h.notesService.ViewNoteByShareKey(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.respondStoreError(c, "share lookup failed", err)
		return
	}
	c.JSON(http.StatusOK, noteResponse{Note: view})
}

type searchRequest struct {
	Text string   `form:"q" binding:"max=200"`
	Tags []string `form:"tags" binding:"max=20,dive,max=50"`
}

func (h *httpHandler) handleSearch(c *gin.Context) {
	var request searchRequest
	if err := c.ShouldBindQuery(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	query := notes.SearchQuery{
		Text: request.Text,
		Tags: splitTags(request.Tags),
	}
	views, err := h.notesService.SearchNotes(c.Request.Context(), query)
	if err != nil {
		h.respondStoreError(c, "search notes failed", err)
		return
	}
	c.JSON(http.StatusOK, notesResponse{Notes: nonNilNotes(views)})
}

func (h *httpHandler) handleListTags(c *gin.Context) {
	tags, err := h.notesService.ListTags(c.Request.Context())
	if err != nil {
		h.respondStoreError(c, "list tags failed", err)
		return
	}
	if tags == nil {
		tags = []notes.TagView{}
	}
	c.JSON(http.StatusOK, tagsResponse{Tags: tags})
}

func (h *httpHandler) respondStoreError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, notes.ErrNoteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "note_not_found"})
	case errors.Is(err, notes.ErrInvalidShareKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_share_key"})
	default:
		fields := []zap.Field{zap.Error(err)}
		var serviceErr *notes.ServiceError
		if errors.As(err, &serviceErr) {
			fields = append(fields, zap.String("code", serviceErr.Code()))
		}
		h.logger.Error(message, fields...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_unavailable"})
	}
}

// splitTags accepts both repeated and comma separated tag parameters.
func splitTags(values []string) []string {
	var tags []string
	for _, value := range values {
		for _, name := range strings.Split(value, ",") {
			if name = strings.TrimSpace(name); name != "" {
				tags = append(tags, name)
			}
		}
	}
	return tags
}

func nonNilNotes(views []notes.NoteView) []notes.NoteView {
	if views == nil {
		return []notes.NoteView{}
	}
	return views
}
