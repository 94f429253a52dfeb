package notes

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/yuzhe-s/chat-memo/internal/sharekey"
)

// steppingClock advances one second on every reading.
type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{current: time.Unix(1700000000, 0).UTC()}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(time.Second)
	return c.current
}

type scriptedKeys struct {
	keys  []string
	index int
}

func (g *scriptedKeys) Generate(sharekey.KeySet) (string, error) {
	key := g.keys[g.index%len(g.keys)]
	g.index++
	return key, nil
}

func newTestService(t *testing.T, keys KeyGenerator) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:chatmemo_notes_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Note{}, &ChatMessage{}, &Tag{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:     db,
		Clock:        newSteppingClock().Now,
		KeyGenerator: keys,
	})
	if err != nil {
		t.Fatalf("failed to construct notes service: %v", err)
	}

	return service, db
}

func mustCreateNote(t *testing.T, service *Service, draft NoteDraft) NoteView {
	t.Helper()
	note, err := service.CreateNote(context.Background(), draft)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return note
}

func mustAppend(t *testing.T, service *Service, noteID uint, content string) MessageView {
	t.Helper()
	message, err := service.AppendMessage(context.Background(), MessageDraft{
		NoteID:     noteID,
		SenderID:   "a1b2c3d4",
		SenderName: "Alice",
		Content:    content,
	})
	if err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	return message
}
