package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"github.com/yuzhe-s/chat-memo/internal/database"
	"github.com/yuzhe-s/chat-memo/internal/identity"
	"github.com/yuzhe-s/chat-memo/internal/notes"
	"github.com/yuzhe-s/chat-memo/internal/presence"
	"github.com/yuzhe-s/chat-memo/internal/realtime"
)

const (
	testSigningSecret = "server-test-secret"
	testAdminPassword = "letmein"
)

type testServer struct {
	handler  http.Handler
	notes    *notes.Service
	hub      *realtime.Hub
	registry *presence.Registry
	logs     *observer.ObservedLogs
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:chatmemo_server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.Migrate(db, nil); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	noteService, err := notes.NewService(notes.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to construct notes service: %v", err)
	}
	codec, err := identity.NewCodec(identity.CodecConfig{SigningSecret: []byte(testSigningSecret)})
	if err != nil {
		t.Fatalf("failed to construct codec: %v", err)
	}
	identities, err := identity.NewStore(identity.StoreConfig{Database: db, Codec: codec, Logger: logger})
	if err != nil {
		t.Fatalf("failed to construct identity store: %v", err)
	}

	hub := realtime.NewHub(logger)
	t.Cleanup(hub.Close)
	registry := presence.NewRegistry()
	broadcaster, err := realtime.NewBroadcaster(realtime.BroadcasterConfig{Hub: hub, Messages: noteService, Logger: logger})
	if err != nil {
		t.Fatalf("failed to construct broadcaster: %v", err)
	}
	lifecycle, err := realtime.NewLifecycle(realtime.LifecycleConfig{
		Hub:         hub,
		Registry:    registry,
		Broadcaster: broadcaster,
		Notes:       noteService,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("failed to construct lifecycle: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		NotesService:  noteService,
		IdentityStore: identities,
		Lifecycle:     lifecycle,
		Hub:           hub,
		Registry:      registry,
		AdminPassword: testAdminPassword,
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	return &testServer{handler: handler, notes: noteService, hub: hub, registry: registry, logs: logs}
}

func (s *testServer) get(t *testing.T, target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	for _, cookie := range cookies {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s *testServer) createNote(t *testing.T, draft notes.NoteDraft) notes.NoteView {
	t.Helper()
	view, err := s.notes.CreateNote(context.Background(), draft)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return view
}

func identityCookie(t *testing.T, recorder *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == identity.DefaultCookieName {
			return cookie
		}
	}
	t.Fatalf("expected identity cookie to be issued")
	return nil
}
