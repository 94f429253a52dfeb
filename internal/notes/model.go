package notes

import (
	"errors"
	"time"
)

const (
	// MaxTitleLength bounds note titles in characters.
	MaxTitleLength = 200
	// MaxTagNameLength bounds tag names in characters.
	MaxTagNameLength = 50
	// MaxSenderNameLength bounds chat display names in characters.
	MaxSenderNameLength = 100
	// MaxSenderIDLength bounds sender identifiers.
	MaxSenderIDLength = 50

	// DefaultTagColor is applied when a tag is created without a usable color.
	DefaultTagColor = "#667eea"
	// MessageKindText is the kind of an ordinary chat line.
	MessageKindText = "text"

	defaultListLimit = 50
)

var (
	// ErrNoteNotFound indicates that the referenced note does not exist.
	ErrNoteNotFound = errors.New("notes: note not found")
	// ErrTagNotFound indicates that the referenced tag does not exist.
	ErrTagNotFound = errors.New("notes: tag not found")
	// ErrTagExists indicates that a tag with the same name already exists.
	ErrTagExists = errors.New("notes: tag exists")
	// ErrTitleRequired indicates that a note title was blank after trimming.
	ErrTitleRequired = errors.New("notes: title required")
	// ErrTitleTooLong indicates that a note title exceeds MaxTitleLength.
	ErrTitleTooLong = errors.New("notes: title too long")
	// ErrTagNameRequired indicates that a tag name was blank after trimming.
	ErrTagNameRequired = errors.New("notes: tag name required")
	// ErrTagNameTooLong indicates that a tag name exceeds MaxTagNameLength.
	ErrTagNameTooLong = errors.New("notes: tag name too long")
	// ErrInvalidShareKey indicates a malformed share key.
	ErrInvalidShareKey = errors.New("notes: invalid share key")
	// ErrEmptyMessage indicates a chat message without content.
	ErrEmptyMessage = errors.New("notes: empty message")
)

// Note is a persisted note. Deleting a note deletes its messages and tag links.
type Note struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Title     string    `gorm:"column:title;size:200;not null"`
	Content   string    `gorm:"column:content;type:text"`
	ShareKey  *string   `gorm:"column:share_key;size:20;uniqueIndex"`
	IsPublic  bool      `gorm:"column:is_public;not null;index"`
	ViewCount int64     `gorm:"column:view_count;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;index"`
	Tags      []Tag     `gorm:"many2many:note_tags;"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// ChatMessage is an immutable chat line attached to a note.
type ChatMessage struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	NoteID     uint      `gorm:"column:note_id;not null;index:idx_note_messages_note_time,priority:1"`
	SenderName string    `gorm:"column:sender_name;size:100;not null"`
	SenderID   string    `gorm:"column:sender_id;size:50"`
	Content    string    `gorm:"column:content;type:text;not null"`
	Timestamp  time.Time `gorm:"column:timestamp;not null;index:idx_note_messages_note_time,priority:2"`
	Kind       string    `gorm:"column:message_type;size:20;not null;default:'text'"`
}

// TableName provides the explicit table binding for GORM.
func (ChatMessage) TableName() string {
	return "note_messages"
}

// Tag is a named, colored label shared by all notes.
type Tag struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;size:50;not null;uniqueIndex"`
	Color     string    `gorm:"column:color;size:7;not null;default:'#667eea'"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Tag) TableName() string {
	return "tags"
}

// NoteView is the client-facing projection of a note.
type NoteView struct {
	ID           uint      `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	ShareKey     *string   `json:"share_key"`
	IsPublic     bool      `json:"is_public"`
	ViewCount    int64     `json:"view_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int64     `json:"message_count"`
	Tags         []TagView `json:"tags"`
}

// TagView is the client-facing projection of a tag.
type TagView struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	NoteCount int64  `json:"note_count"`
}

// MessageView is the client-facing projection of a chat message.
type MessageView struct {
	ID         uint      `json:"id"`
	NoteID     uint      `json:"note_id"`
	SenderName string    `json:"sender_name"`
	SenderID   string    `json:"sender_id"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Kind       string    `json:"message_type"`
}

// NoteDraft describes a note to create.
type NoteDraft struct {
	Title    string
	Content  string
	TagNames []string
	IsPublic bool
}

// MessageDraft describes a chat message to persist.
type MessageDraft struct {
	NoteID     uint
	SenderID   string
	SenderName string
	Content    string
	Kind       string
}

// SearchQuery filters public notes by keyword and tags.
type SearchQuery struct {
	Text  string
	Tags  []string
	Limit int
}

// Stats aggregates store-wide counters for the admin view.
type Stats struct {
	TotalNotes    int64 `json:"total_notes"`
	TotalMessages int64 `json:"total_messages"`
	ActiveTags    int64 `json:"active_tags"`
}

func newMessageView(message ChatMessage) MessageView {
	return MessageView{
		ID:         message.ID,
		NoteID:     message.NoteID,
		SenderName: message.SenderName,
		SenderID:   message.SenderID,
		Content:    message.Content,
		Timestamp:  message.Timestamp,
		Kind:       message.Kind,
	}
}
