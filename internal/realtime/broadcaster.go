package realtime

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/yuzhe-s/chat-memo/internal/metrics"
	"github.com/yuzhe-s/chat-memo/internal/notes"
	"github.com/yuzhe-s/chat-memo/internal/presence"
)

// MaxMessageLength bounds a chat body in characters after trimming.
const MaxMessageLength = 500

var (
	errMissingHub          = errors.New("realtime: hub required")
	errMissingMessageStore = errors.New("realtime: message store required")
)

// MessageStore persists chat history.
type MessageStore interface {
	ListMessages(ctx context.Context, noteID uint, limit int) ([]notes.MessageView, error)
	AppendMessage(ctx context.Context, draft notes.MessageDraft) (notes.MessageView, error)
}

// BroadcasterConfig describes the dependencies of the Broadcaster.
type BroadcasterConfig struct {
	Hub          *Hub
	Messages     MessageStore
	HistoryLimit int
	Logger       *zap.Logger
}

// Broadcaster delivers chat messages and presence events to room subscribers.
type Broadcaster struct {
	hub          *Hub
	messages     MessageStore
	historyLimit int
	logger       *zap.Logger
}

// NewBroadcaster constructs a Broadcaster. A non-positive HistoryLimit replays the
// full history.
func NewBroadcaster(cfg BroadcasterConfig) (*Broadcaster, error) {
	if cfg.Hub == nil {
		return nil, errMissingHub
	}
	if cfg.Messages == nil {
		return nil, errMissingMessageStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := cfg.HistoryLimit
	if limit < 0 {
		limit = 0
	}
	return &Broadcaster{
		hub:          cfg.Hub,
		messages:     cfg.Messages,
		historyLimit: limit,
		logger:       logger,
	}, nil
}

// LoadHistory returns the room's chat history in ascending order.
func (b *Broadcaster) LoadHistory(ctx context.Context, roomID presence.RoomID) ([]notes.MessageView, error) {
	history, err := b.messages.ListMessages(ctx, uint(roomID), b.historyLimit)
	if err != nil {
		return nil, translateStoreError(err)
	}
	return history, nil
}

// AnnounceJoin sends the history replay and post-join count to the joiner only.
func (b *Broadcaster) AnnounceJoin(joiner *Client, roomID presence.RoomID, history []notes.MessageView, viewerCount int) {
	if history == nil {
		history = []notes.MessageView{}
	}
	b.hub.Send(joiner, Event{
		Name: EventNoteJoined,
		Data: NoteJoinedPayload{NoteID: roomID, Messages: history, ViewerCount: viewerCount},
	})
}

// AnnouncePresence sends the viewer count to every room subscriber except exclude.
func (b *Broadcaster) AnnouncePresence(roomID presence.RoomID, viewerCount int, exclude *Client) {
	b.hub.Broadcast(roomID, Event{
		Name: EventViewerCountChanged,
		Data: ViewerCountPayload{NoteID: roomID, Count: viewerCount},
	}, exclude)
}

// Publish validates, persists and fans out a chat message to every room subscriber,
// the sender included. Nothing is broadcast unless the message was persisted. A blank
// body fails with an error wrapping ErrEmptyMessage.
func (b *Broadcaster) Publish(ctx context.Context, roomID presence.RoomID, sender presence.Identity, senderName, body string) (notes.MessageView, error) {
	content := strings.TrimSpace(body)
	if content == "" {
		metrics.MessagesRejected.WithLabelValues("empty").Inc()
		return notes.MessageView{}, newEventError(KindValidation, MessageContentRequired, ErrEmptyMessage)
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		metrics.MessagesRejected.WithLabelValues("too_long").Inc()
		return notes.MessageView{}, newEventError(KindValidation, MessageContentTooLong, nil)
	}

	message, err := b.messages.AppendMessage(context.WithoutCancel(ctx), notes.MessageDraft{
		NoteID:     uint(roomID),
		SenderID:   string(sender),
		SenderName: senderName,
		Content:    content,
		Kind:       notes.MessageKindText,
	})
	if err != nil {
		translated := translateStoreError(err)
		if translated.Kind == KindNotFound {
			metrics.MessagesRejected.WithLabelValues("not_found").Inc()
		} else {
			metrics.MessagesRejected.WithLabelValues("storage").Inc()
			b.logger.Error("chat message persist failed",
				zap.Uint("note_id", uint(roomID)),
				zap.String("user_id", string(sender)),
				zap.Error(err))
		}
		return notes.MessageView{}, translated
	}

	metrics.MessagesPublished.Inc()
	b.hub.Broadcast(roomID, Event{
		Name: EventNewNoteMessage,
		Data: NewNoteMessagePayload{Message: message},
	}, nil)
	return message, nil
}
