package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yuzhe-s/chat-memo/internal/identity"
	"github.com/yuzhe-s/chat-memo/internal/notes"
	"github.com/yuzhe-s/chat-memo/internal/presence"
	"github.com/yuzhe-s/chat-memo/internal/realtime"
)

const userIDContextKey = "chatmemo_user_id"

var (
	errMissingNotesService  = errors.New("notes service dependency required")
	errMissingIdentityStore = errors.New("identity store dependency required")
	errMissingLifecycle     = errors.New("realtime lifecycle dependency required")
	errMissingHub           = errors.New("realtime hub dependency required")
	errMissingRegistry      = errors.New("presence registry dependency required")
)

type Dependencies struct {
	NotesService  *notes.Service
	IdentityStore *identity.Store
	Lifecycle     *realtime.Lifecycle
	Hub           *realtime.Hub
	Registry      *presence.Registry
	AdminPassword string
	Logger        *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.NotesService == nil {
		return nil, errMissingNotesService
	}
	if deps.IdentityStore == nil {
		return nil, errMissingIdentityStore
	}
	if deps.Lifecycle == nil {
		return nil, errMissingLifecycle
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	handler := &httpHandler{
		notesService:  deps.NotesService,
		identities:    deps.IdentityStore,
		lifecycle:     deps.Lifecycle,
		hub:           deps.Hub,
		registry:      deps.Registry,
		adminPassword: deps.AdminPassword,
		logger:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metricsMiddleware())
	router.Use(accessLogMiddleware(logger))
	router.Use(corsMiddleware())

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", handler.handleWebsocket)

	api := router.Group("/api")
	api.Use(handler.resolveIdentity)
	api.GET("/session", handler.handleSession)
	api.GET("/notes", handler.handleListNotes)
	api.GET("/notes/:id", handler.handleGetNote)
	api.GET("/share/:key", handler.handleShareLookup)
	api.GET("/search", handler.handleSearch)
	api.GET("/tags", handler.handleListTags)

	admin := router.Group("/admin")
	admin.Use(handler.resolveIdentity)
	admin.GET("", handler.handleAdmin)

	return router, nil
}

type httpHandler struct {
	notesService  *notes.Service
	identities    *identity.Store
	lifecycle     *realtime.Lifecycle
	hub           *realtime.Hub
	registry      *presence.Registry
	adminPassword string
	logger        *zap.Logger
	upgrader      websocket.Upgrader
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// resolveIdentity issues the identity cookie on first visit and exposes the user id
// to the handlers behind it.
func (h *httpHandler) resolveIdentity(c *gin.Context) {
	userID, err := h.identities.Resolve(c.Writer, c.Request)
	if err != nil {
		h.logger.Error("identity resolution failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "identity_unavailable"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
