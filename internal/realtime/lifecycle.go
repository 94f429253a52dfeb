package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yuzhe-s/chat-memo/internal/metrics"
	"github.com/yuzhe-s/chat-memo/internal/notes"
	"github.com/yuzhe-s/chat-memo/internal/presence"
)

const (
	displayNamePrefix   = "User "
	displayNameIDLength = 8
)

var (
	errMissingRegistry    = errors.New("realtime: registry required")
	errMissingBroadcaster = errors.New("realtime: broadcaster required")
	errMissingNoteStore   = errors.New("realtime: note store required")
)

// NoteStore is the part of the note service driven by connection events.
type NoteStore interface {
	CreateNote(ctx context.Context, draft notes.NoteDraft) (notes.NoteView, error)
	DeleteNote(ctx context.Context, noteID uint) error
	ListTags(ctx context.Context) ([]notes.TagView, error)
	CreateTag(ctx context.Context, name, color string) (notes.TagView, error)
	DeleteTag(ctx context.Context, tagID uint) (notes.TagView, error)
}

// LifecycleConfig describes the dependencies of the Lifecycle.
type LifecycleConfig struct {
	Hub          *Hub
	Registry     *presence.Registry
	Broadcaster  *Broadcaster
	Notes        NoteStore
	SendBuffer   int
	PingInterval time.Duration
	Logger       *zap.Logger
}

// Lifecycle binds connections to identities, dispatches their events and reconciles
// room membership when they go away.
//
// A connection is Connected after Connect, joins and leaves rooms through events, and
// is Disconnected for good after Disconnect. Events of one connection are handled in
// arrival order.
type Lifecycle struct {
	hub          *Hub
	registry     *presence.Registry
	broadcaster  *Broadcaster
	notes        NoteStore
	sendBuffer   int
	pingInterval time.Duration
	logger       *zap.Logger
	serving      sync.WaitGroup
}

// NewLifecycle constructs a Lifecycle.
func NewLifecycle(cfg LifecycleConfig) (*Lifecycle, error) {
	if cfg.Hub == nil {
		return nil, errMissingHub
	}
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	if cfg.Broadcaster == nil {
		return nil, errMissingBroadcaster
	}
	if cfg.Notes == nil {
		return nil, errMissingNoteStore
	}
	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{
		hub:          cfg.Hub,
		registry:     cfg.Registry,
		broadcaster:  cfg.Broadcaster,
		notes:        cfg.Notes,
		sendBuffer:   sendBuffer,
		pingInterval: pingInterval,
		logger:       logger,
	}, nil
}

// Serve runs an upgraded websocket until it closes, then disconnects it.
func (l *Lifecycle) Serve(ctx context.Context, conn *websocket.Conn, identity presence.Identity) {
	l.serving.Add(1)
	defer l.serving.Done()

	client := l.Connect(conn, identity)
	go client.writePump(l.pingInterval)
	client.readPump(l.pingInterval, func(raw []byte) {
		l.Handle(ctx, client, raw)
	})
	l.Disconnect(client)
}

// Wait blocks until every Serve call has returned or ctx is done. Close the hub first
// so the connections actually go away.
func (l *Lifecycle) Wait(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		l.serving.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect registers a connection bound to identity. An empty identity leaves the
// connection unbound. No room membership is created.
func (l *Lifecycle) Connect(conn *websocket.Conn, identity presence.Identity) *Client {
	client := NewClient(identity, conn, l.sendBuffer, l.logger)
	l.hub.Register(client)
	metrics.ConnectionsActive.Inc()
	client.logger.Debug("connection opened")
	return client
}

// Disconnect removes the connection from every room and announces the new counts.
// Calling it again for the same connection is a no-op.
func (l *Lifecycle) Disconnect(client *Client) {
	client.Close()
	if _, registered := l.hub.Unregister(client); !registered {
		return
	}
	metrics.ConnectionsActive.Dec()

	if client.identity != "" {
		updates := l.registry.LeaveAll(client.identity, func(update presence.Update) {
			l.broadcaster.AnnouncePresence(update.Room, update.Count, nil)
		})
		if len(updates) > 0 {
			metrics.RoomsActive.Set(float64(l.registry.Rooms()))
		}
	}
	client.logger.Debug("connection closed")
}

// Handle decodes one inbound frame and dispatches it. Failures are reported to the
// originating connection as error events.
func (l *Lifecycle) Handle(ctx context.Context, client *Client, raw []byte) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Event == "" {
		l.reportError(client, "", newEventError(KindValidation, MessageInvalidPayload, err))
		return
	}

	var err error
	switch envelope.Event {
	case EventCreateNote:
		var request createNoteRequest
		if err = decodeData(envelope.Data, &request); err == nil {
			isPublic := true
			if request.IsPublic != nil {
				isPublic = *request.IsPublic
			}
			err = l.CreateNote(ctx, client, notes.NoteDraft{
				Title:    request.Title,
				Content:  request.Content,
				TagNames: request.Tags,
				IsPublic: isPublic,
			})
		}
	case EventJoinNote:
		var request joinNoteRequest
		if err = decodeData(envelope.Data, &request); err == nil {
			err = l.JoinNote(ctx, client, request.NoteID, request.SenderName)
		}
	case EventLeaveNote:
		var request leaveNoteRequest
		if err = decodeData(envelope.Data, &request); err == nil {
			err = l.LeaveNote(client, request.NoteID)
		}
	case EventSendNoteMessage:
		var request sendNoteMessageRequest
		if err = decodeData(envelope.Data, &request); err == nil {
			err = l.SendNoteMessage(ctx, client, request.NoteID, request.SenderName, request.Content)
		}
	case EventGetAllTags:
		err = l.GetAllTags(ctx, client)
	case EventCreateTag:
		var request createTagRequest
		if err = decodeData(envelope.Data, &request); err == nil {
			err = l.CreateTag(ctx, request.Name, request.Color)
		}
	case EventDeleteNote:
		var request deleteNoteRequest
		if err = decodeData(envelope.Data, &request); err == nil {
			err = l.DeleteNote(ctx, request.NoteID)
		}
	case EventDeleteTag:
		var request deleteTagRequest
		if err = decodeData(envelope.Data, &request); err == nil {
			err = l.DeleteTag(ctx, request.TagID)
		}
	default:
		err = newEventError(KindValidation, MessageUnknownEvent, nil)
	}
	if err != nil {
		l.reportError(client, envelope.Event, err)
	}
}

// JoinNote subscribes the connection to the room, replays the history to it and
// announces the new count to the other subscribers.
func (l *Lifecycle) JoinNote(ctx context.Context, client *Client, roomID presence.RoomID, senderName string) error {
	if client.identity == "" {
		return newEventError(KindUnauthenticated, MessageInvalidUser, nil)
	}
	added, registered := l.hub.Subscribe(roomID, client)
	if !registered {
		return nil
	}
	history, err := l.broadcaster.LoadHistory(ctx, roomID)
	if err != nil {
		if added {
			l.hub.Unsubscribe(roomID, client)
		}
		return err
	}

	viewer := presence.Viewer{
		Identity:    client.identity,
		DisplayName: displayName(client.identity, senderName),
		Connection:  client.id,
	}
	l.registry.Join(roomID, viewer, func(count int) {
		l.broadcaster.AnnounceJoin(client, roomID, history, count)
		l.broadcaster.AnnouncePresence(roomID, count, client)
	})
	metrics.RoomsActive.Set(float64(l.registry.Rooms()))
	client.logger.Debug("note joined", zap.Uint("note_id", uint(roomID)))
	return nil
}

// LeaveNote unsubscribes the connection and announces the new count when the
// identity was a viewer. Unbound connections are ignored.
func (l *Lifecycle) LeaveNote(client *Client, roomID presence.RoomID) error {
	if client.identity == "" {
		return nil
	}
	l.hub.Unsubscribe(roomID, client)
	_, removed := l.registry.Leave(roomID, client.identity, func(count int) {
		l.broadcaster.AnnouncePresence(roomID, count, nil)
	})
	if removed {
		metrics.RoomsActive.Set(float64(l.registry.Rooms()))
		client.logger.Debug("note left", zap.Uint("note_id", uint(roomID)))
	}
	return nil
}

// SendNoteMessage publishes a chat message. A blank body is ignored.
func (l *Lifecycle) SendNoteMessage(ctx context.Context, client *Client, roomID presence.RoomID, senderName, body string) error {
	if client.identity == "" {
		return newEventError(KindUnauthenticated, MessageInvalidUser, nil)
	}
	_, err := l.broadcaster.Publish(ctx, roomID, client.identity, displayName(client.identity, senderName), body)
	if errors.Is(err, ErrEmptyMessage) {
		return nil
	}
	return err
}

// CreateNote creates a note and answers the requester with it.
func (l *Lifecycle) CreateNote(ctx context.Context, client *Client, draft notes.NoteDraft) error {
	if client.identity == "" {
		return newEventError(KindUnauthenticated, MessageInvalidUser, nil)
	}
	note, err := l.notes.CreateNote(ctx, draft)
	if err != nil {
		return translateStoreError(err)
	}
	l.hub.Send(client, Event{Name: EventNoteCreated, Data: NoteCreatedPayload{Note: note}})
	return nil
}

// GetAllTags answers the requester with every tag.
func (l *Lifecycle) GetAllTags(ctx context.Context, client *Client) error {
	tags, err := l.notes.ListTags(ctx)
	if err != nil {
		return translateStoreError(err)
	}
	l.hub.Send(client, Event{Name: EventAllTags, Data: AllTagsPayload{Tags: tags}})
	return nil
}

// CreateTag creates a tag and announces it to every connection.
func (l *Lifecycle) CreateTag(ctx context.Context, name, color string) error {
	tag, err := l.notes.CreateTag(ctx, name, color)
	if err != nil {
		return translateStoreError(err)
	}
	l.hub.BroadcastAll(Event{Name: EventTagCreated, Data: TagCreatedPayload{Tag: tag}})
	return nil
}

// DeleteNote deletes a note, announces it to every connection and closes its room.
func (l *Lifecycle) DeleteNote(ctx context.Context, roomID presence.RoomID) error {
	if err := l.notes.DeleteNote(ctx, uint(roomID)); err != nil {
		return translateStoreError(err)
	}
	l.hub.BroadcastAll(Event{Name: EventNoteDeleted, Data: NoteDeletedPayload{NoteID: roomID}})
	evicted := l.registry.Evict(roomID)
	l.hub.DropRoom(roomID)
	metrics.RoomsActive.Set(float64(l.registry.Rooms()))
	l.logger.Info("note deleted", zap.Uint("note_id", uint(roomID)), zap.Int("viewers_evicted", len(evicted)))
	return nil
}

// DeleteTag deletes a tag and announces it to every connection.
func (l *Lifecycle) DeleteTag(ctx context.Context, tagID uint) error {
	tag, err := l.notes.DeleteTag(ctx, tagID)
	if err != nil {
		return translateStoreError(err)
	}
	l.hub.BroadcastAll(Event{Name: EventTagDeleted, Data: TagDeletedPayload{TagID: tag.ID, TagName: tag.Name}})
	l.logger.Info("tag deleted", zap.Uint("tag_id", tag.ID), zap.String("tag_name", tag.Name))
	return nil
}

func (l *Lifecycle) reportError(client *Client, event string, err error) {
	eventErr := translateStoreError(err)
	fields := []zap.Field{
		zap.String("event", event),
		zap.String("kind", string(eventErr.Kind)),
		zap.String("message", eventErr.Message),
	}
	if eventErr.Err != nil {
		fields = append(fields, zap.Error(eventErr.Err))
	}
	if eventErr.Kind == KindPersistence {
		client.logger.Error("event failed", fields...)
	} else {
		client.logger.Debug("event rejected", fields...)
	}
	l.hub.Send(client, Event{Name: EventErrorOccurred, Data: ErrorPayload{Message: eventErr.Message}})
}

func decodeData(data json.RawMessage, target any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return newEventError(KindValidation, MessageInvalidPayload, err)
	}
	return nil
}

// displayName trims the requested name, caps it and falls back to a name derived
// from the identity.
func displayName(identity presence.Identity, requested string) string {
	name := strings.TrimSpace(requested)
	if name == "" {
		short := string(identity)
		if len(short) > displayNameIDLength {
			short = short[:displayNameIDLength]
		}
		return displayNamePrefix + short
	}
	runes := []rune(name)
	if len(runes) > notes.MaxSenderNameLength {
		name = string(runes[:notes.MaxSenderNameLength])
	}
	return name
}
