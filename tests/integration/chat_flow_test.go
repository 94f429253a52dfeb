package integration_test

import (
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yuzhe-s/chat-memo/internal/database"
	"github.com/yuzhe-s/chat-memo/internal/identity"
	"github.com/yuzhe-s/chat-memo/internal/notes"
	"github.com/yuzhe-s/chat-memo/internal/presence"
	"github.com/yuzhe-s/chat-memo/internal/realtime"
	"github.com/yuzhe-s/chat-memo/internal/server"
	"github.com/yuzhe-s/chat-memo/internal/sharekey"
)

const (
	integrationSigningSecret = "integration-secret"
	integrationAdminPassword = "integration-admin"
	readTimeout              = 2 * time.Second
)

type browser struct {
	client *http.Client
	base   *url.URL
	userID string
}

func newBrowser(t *testing.T, httpServer *httptest.Server) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("failed to create cookie jar: %v", err)
	}
	base, err := url.Parse(httpServer.URL)
	if err != nil {
		t.Fatalf("failed to parse server url: %v", err)
	}
	b := &browser{client: &http.Client{Jar: jar}, base: base}

	var session struct {
		UserID string `json:"user_id"`
	}
	b.getJSON(t, "/api/session", &session)
	if session.UserID == "" {
		t.Fatalf("expected a user id")
	}
	b.userID = session.UserID
	return b
}

func (b *browser) getJSON(t *testing.T, path string, target any) {
	t.Helper()
	response, err := b.client.Get(b.base.String() + path)
	if err != nil {
		t.Fatalf("request %s failed: %v", path, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("request %s returned %d", path, response.StatusCode)
	}
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode %s: %v", path, err)
	}
}

func (b *browser) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{Jar: b.client.Jar, HandshakeTimeout: readTimeout}
	wsURL := "ws" + strings.TrimPrefix(b.base.String(), "http") + "/ws"
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"event": event, "data": data}); err != nil {
		t.Fatalf("failed to send %s: %v", event, err)
	}
}

func receive[T any](t *testing.T, conn *websocket.Conn, name string) T {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	var envelope realtime.Envelope
	if err := conn.ReadJSON(&envelope); err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	if envelope.Event != name {
		t.Fatalf("expected %q, got %q (%s)", name, envelope.Event, envelope.Data)
	}
	var payload T
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		t.Fatalf("failed to decode %s: %v", name, err)
	}
	return payload
}

func newApplication(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "chat.db"), logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	notesService, err := notes.NewService(notes.ServiceConfig{
		Database:     db,
		KeyGenerator: sharekey.NewGenerator(),
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("failed to build notes service: %v", err)
	}
	codec, err := identity.NewCodec(identity.CodecConfig{SigningSecret: []byte(integrationSigningSecret)})
	if err != nil {
		t.Fatalf("failed to build codec: %v", err)
	}
	identityStore, err := identity.NewStore(identity.StoreConfig{Database: db, Codec: codec, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build identity store: %v", err)
	}

	hub := realtime.NewHub(logger)
	registry := presence.NewRegistry()
	broadcaster, err := realtime.NewBroadcaster(realtime.BroadcasterConfig{Hub: hub, Messages: notesService, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build broadcaster: %v", err)
	}
	lifecycle, err := realtime.NewLifecycle(realtime.LifecycleConfig{
		Hub:         hub,
		Registry:    registry,
		Broadcaster: broadcaster,
		Notes:       notesService,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("failed to build lifecycle: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		NotesService:  notesService,
		IdentityStore: identityStore,
		Lifecycle:     lifecycle,
		Hub:           hub,
		Registry:      registry,
		AdminPassword: integrationAdminPassword,
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	httpServer := httptest.NewServer(handler)
	t.Cleanup(func() {
		hub.Close()
		httpServer.Close()
	})
	return httpServer
}

func TestNoteChatFlow(t *testing.T) {
	httpServer := newApplication(t)
	alice := newBrowser(t, httpServer)
	bob := newBrowser(t, httpServer)
	if alice.userID == bob.userID {
		t.Fatalf("expected distinct identities")
	}

	aliceConn := alice.dial(t)
	bobConn := bob.dial(t)

	send(t, aliceConn, realtime.EventCreateNote, map[string]any{"title": "Standup", "content": "daily", "tags": []string{"team"}})
	created := receive[realtime.NoteCreatedPayload](t, aliceConn, realtime.EventNoteCreated)
	noteID := created.Note.ID
	if created.Note.ShareKey == nil || !sharekey.Validate(*created.Note.ShareKey) {
		t.Fatalf("expected a valid share key, got %#v", created.Note.ShareKey)
	}

	send(t, aliceConn, realtime.EventJoinNote, map[string]any{"note_id": noteID, "sender_name": "Alice"})
	if joined := receive[realtime.NoteJoinedPayload](t, aliceConn, realtime.EventNoteJoined); joined.ViewerCount != 1 {
		t.Fatalf("expected alice alone in the room, got %d", joined.ViewerCount)
	}

	send(t, aliceConn, realtime.EventSendNoteMessage, map[string]any{"note_id": noteID, "sender_name": "Alice", "content": "morning"})
	receive[realtime.NewNoteMessagePayload](t, aliceConn, realtime.EventNewNoteMessage)

	send(t, bobConn, realtime.EventJoinNote, map[string]any{"note_id": noteID, "sender_name": "Bob"})
	joined := receive[realtime.NoteJoinedPayload](t, bobConn, realtime.EventNoteJoined)
	if joined.ViewerCount != 2 || len(joined.Messages) != 1 || joined.Messages[0].SenderID != alice.userID {
		t.Fatalf("unexpected join for bob: %#v", joined)
	}
	if changed := receive[realtime.ViewerCountPayload](t, aliceConn, realtime.EventViewerCountChanged); changed.Count != 2 {
		t.Fatalf("expected alice to see two viewers, got %d", changed.Count)
	}

	send(t, bobConn, realtime.EventSendNoteMessage, map[string]any{"note_id": noteID, "sender_name": "Bob", "content": "hi alice"})
	for _, conn := range []*websocket.Conn{aliceConn, bobConn} {
		message := receive[realtime.NewNoteMessagePayload](t, conn, realtime.EventNewNoteMessage)
		if message.Message.SenderID != bob.userID || message.Message.Content != "hi alice" {
			t.Fatalf("unexpected message: %#v", message.Message)
		}
	}

	if err := bobConn.Close(); err != nil {
		t.Fatalf("failed to close bob's connection: %v", err)
	}
	if changed := receive[realtime.ViewerCountPayload](t, aliceConn, realtime.EventViewerCountChanged); changed.Count != 1 {
		t.Fatalf("expected alice to see one viewer after bob left, got %d", changed.Count)
	}

	var shared struct {
		Note notes.NoteView `json:"note"`
	}
	alice.getJSON(t, "/api/share/"+*created.Note.ShareKey, &shared)
	if shared.Note.ID != noteID || shared.Note.MessageCount != 2 || shared.Note.ViewCount != 1 {
		t.Fatalf("unexpected shared note: %#v", shared.Note)
	}

	var admin struct {
		Stats struct {
			TotalMessages int64 `json:"total_messages"`
			TotalVisitors int64 `json:"total_visitors"`
			LiveRooms     int   `json:"live_rooms"`
		} `json:"stats"`
	}
	alice.getJSON(t, "/admin?password="+integrationAdminPassword, &admin)
	if admin.Stats.TotalMessages != 2 || admin.Stats.TotalVisitors != 2 || admin.Stats.LiveRooms != 1 {
		t.Fatalf("unexpected admin stats: %#v", admin.Stats)
	}
}
