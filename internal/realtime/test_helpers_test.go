package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/yuzhe-s/chat-memo/internal/notes"
	"github.com/yuzhe-s/chat-memo/internal/presence"
)

type testEnv struct {
	lifecycle *Lifecycle
	hub       *Hub
	registry  *presence.Registry
	notes     *notes.Service
	messages  *flakyMessages
	db        *gorm.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:chatmemo_realtime_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&notes.Note{}, &notes.ChatMessage{}, &notes.Tag{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	noteService, err := notes.NewService(notes.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct notes service: %v", err)
	}

	hub := NewHub(nil)
	registry := presence.NewRegistry()
	messages := &flakyMessages{MessageStore: noteService}
	broadcaster, err := NewBroadcaster(BroadcasterConfig{Hub: hub, Messages: messages})
	if err != nil {
		t.Fatalf("failed to construct broadcaster: %v", err)
	}
	lifecycle, err := NewLifecycle(LifecycleConfig{
		Hub:         hub,
		Registry:    registry,
		Broadcaster: broadcaster,
		Notes:       noteService,
	})
	if err != nil {
		t.Fatalf("failed to construct lifecycle: %v", err)
	}
	return &testEnv{lifecycle: lifecycle, hub: hub, registry: registry, notes: noteService, messages: messages, db: db}
}

// flakyMessages delegates to the real store and fails history loads while listErr is set.
type flakyMessages struct {
	MessageStore
	listErr error
}

func (f *flakyMessages) ListMessages(ctx context.Context, noteID uint, limit int) ([]notes.MessageView, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.MessageStore.ListMessages(ctx, noteID, limit)
}

func (e *testEnv) createNote(t *testing.T, title string) presence.RoomID {
	t.Helper()
	note, err := e.notes.CreateNote(context.Background(), notes.NoteDraft{Title: title, IsPublic: true})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return presence.RoomID(note.ID)
}

func (e *testEnv) send(t *testing.T, client *Client, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		t.Fatalf("failed to encode frame: %v", err)
	}
	e.lifecycle.Handle(context.Background(), client, raw)
}

func nextEvent(t *testing.T, client *Client) Envelope {
	t.Helper()
	select {
	case frame := <-client.Outbound():
		var envelope Envelope
		if err := json.Unmarshal(frame, &envelope); err != nil {
			t.Fatalf("failed to decode frame %s: %v", frame, err)
		}
		return envelope
	case <-time.After(time.Second):
		t.Fatalf("expected an event for connection %s", client.ID())
		return Envelope{}
	}
}

func expectEvent[T any](t *testing.T, client *Client, name string) T {
	t.Helper()
	envelope := nextEvent(t, client)
	if envelope.Event != name {
		t.Fatalf("expected %q, got %q (%s)", name, envelope.Event, envelope.Data)
	}
	var payload T
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		t.Fatalf("failed to decode %s payload: %v", name, err)
	}
	return payload
}

func expectSilence(t *testing.T, client *Client) {
	t.Helper()
	select {
	case frame := <-client.Outbound():
		t.Fatalf("expected no event, got %s", frame)
	default:
	}
}
