package realtime

import (
	"encoding/json"

	"github.com/yuzhe-s/chat-memo/internal/notes"
	"github.com/yuzhe-s/chat-memo/internal/presence"
)

// Client to server events.
const (
	EventCreateNote      = "create_note"
	EventJoinNote        = "join_note"
	EventLeaveNote       = "leave_note"
	EventSendNoteMessage = "send_note_message"
	EventGetAllTags      = "get_all_tags"
	EventCreateTag       = "create_tag"
	EventDeleteNote      = "delete_note"
	EventDeleteTag       = "delete_tag"
)

// Server to client events.
const (
	EventNoteCreated        = "note_created"
	EventNoteJoined         = "note_joined"
	EventViewerCountChanged = "viewer_count_changed"
	EventNewNoteMessage     = "new_note_message"
	EventAllTags            = "all_tags"
	EventTagCreated         = "tag_created"
	EventNoteDeleted        = "note_deleted"
	EventTagDeleted         = "tag_deleted"
	EventErrorOccurred      = "error"
)

// Envelope frames every websocket text message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound message before encoding.
type Event struct {
	Name string
	Data any
}

func (e Event) encode() ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: e.Name, Data: data})
}

type createNoteRequest struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags"`
	IsPublic *bool    `json:"is_public"`
}

type joinNoteRequest struct {
	NoteID     presence.RoomID `json:"note_id"`
	SenderName string          `json:"sender_name"`
}

type leaveNoteRequest struct {
	NoteID presence.RoomID `json:"note_id"`
}

type sendNoteMessageRequest struct {
	NoteID     presence.RoomID `json:"note_id"`
	SenderName string          `json:"sender_name"`
	Content    string          `json:"content"`
}

type createTagRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type deleteNoteRequest struct {
	NoteID presence.RoomID `json:"note_id"`
}

type deleteTagRequest struct {
	TagID uint `json:"tag_id"`
}

// NoteCreatedPayload answers create_note.
type NoteCreatedPayload struct {
	Note notes.NoteView `json:"note"`
}

// NoteJoinedPayload carries the history replay sent to a joiner.
type NoteJoinedPayload struct {
	NoteID      presence.RoomID     `json:"note_id"`
	Messages    []notes.MessageView `json:"messages"`
	ViewerCount int                 `json:"viewer_count"`
}

// ViewerCountPayload announces the post-mutation viewer count of a room.
type ViewerCountPayload struct {
	NoteID presence.RoomID `json:"note_id"`
	Count  int             `json:"count"`
}

// NewNoteMessagePayload carries one persisted chat message.
type NewNoteMessagePayload struct {
	Message notes.MessageView `json:"message"`
}

// AllTagsPayload answers get_all_tags.
type AllTagsPayload struct {
	Tags []notes.TagView `json:"tags"`
}

// TagCreatedPayload is broadcast to every connection.
type TagCreatedPayload struct {
	Tag notes.TagView `json:"tag"`
}

// NoteDeletedPayload is broadcast to every connection.
type NoteDeletedPayload struct {
	NoteID presence.RoomID `json:"note_id"`
}

// TagDeletedPayload is broadcast to every connection.
type TagDeletedPayload struct {
	TagID   uint   `json:"tag_id"`
	TagName string `json:"tag_name"`
}

// ErrorPayload reports a failed request to its originator.
type ErrorPayload struct {
	Message string `json:"message"`
}
