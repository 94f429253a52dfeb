package server

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yuzhe-s/chat-memo/internal/presence"
)

// handleWebsocket upgrades the request and serves the connection until it closes. A
// request without a valid identity cookie yields an unbound connection.
func (h *httpHandler) handleWebsocket(c *gin.Context) {
	userID, err := h.identities.Lookup(c.Request)
	if err != nil {
		h.logger.Debug("websocket connection without identity", zap.Error(err))
		userID = ""
	}
	c.Set(userIDContextKey, userID)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.lifecycle.Serve(c.Request.Context(), conn, presence.Identity(userID))
}
