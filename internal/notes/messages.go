package notes

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AppendMessage persists a chat message and bumps the note's updated_at to the
// message timestamp. Content is stored as given; length rules belong to the caller.
func (s *Service) AppendMessage(ctx context.Context, draft MessageDraft) (MessageView, error) {
	if strings.TrimSpace(draft.Content) == "" {
		return MessageView{}, newServiceError(opAppendMessage, "empty_message", ErrEmptyMessage)
	}
	kind := draft.Kind
	if kind == "" {
		kind = MessageKindText
	}

	message := ChatMessage{
		NoteID:     draft.NoteID,
		SenderName: truncateRunes(strings.TrimSpace(draft.SenderName), MaxSenderNameLength),
		SenderID:   truncateRunes(draft.SenderID, MaxSenderIDLength),
		Content:    draft.Content,
		Timestamp:  s.now(),
		Kind:       kind,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Note{}).
			Where("id = ?", draft.NoteID).
			UpdateColumn("updated_at", message.Timestamp)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Create(&message).Error
	})
	if isNotFound(err) {
		return MessageView{}, newServiceError(opAppendMessage, "not_found", ErrNoteNotFound)
	}
	if err != nil {
		s.logError(opAppendMessage, "insert_failed", err, zap.Uint("note_id", draft.NoteID))
		return MessageView{}, newServiceError(opAppendMessage, "insert_failed", err)
	}
	return newMessageView(message), nil
}

// ListMessages returns the note's chat history in ascending timestamp order. A
// positive limit keeps only the most recent messages.
func (s *Service) ListMessages(ctx context.Context, noteID uint, limit int) ([]MessageView, error) {
	exists, err := s.NoteExists(ctx, noteID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, newServiceError(opListMessages, "not_found", ErrNoteNotFound)
	}

	query := s.db.WithContext(ctx).Where("note_id = ?", noteID)
	if limit > 0 {
		query = query.Order("timestamp DESC").Order("id DESC").Limit(limit)
	} else {
		query = query.Order("timestamp ASC").Order("id ASC")
	}

	var messages []ChatMessage
	if err := query.Find(&messages).Error; err != nil {
		s.logError(opListMessages, "query_failed", err, zap.Uint("note_id", noteID))
		return nil, newServiceError(opListMessages, "query_failed", err)
	}
	if limit > 0 {
		for left, right := 0, len(messages)-1; left < right; left, right = left+1, right-1 {
			messages[left], messages[right] = messages[right], messages[left]
		}
	}

	views := make([]MessageView, 0, len(messages))
	for _, message := range messages {
		view := newMessageView(message)
		view.Timestamp = view.Timestamp.UTC()
		views = append(views, view)
	}
	return views, nil
}
