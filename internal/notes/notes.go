package notes

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yuzhe-s/chat-memo/internal/sharekey"
)

// CreateNote persists a note with a fresh share key, creating missing tags on the way.
func (s *Service) CreateNote(ctx context.Context, draft NoteDraft) (NoteView, error) {
	title := strings.TrimSpace(draft.Title)
	if title == "" {
		return NoteView{}, newServiceError(opCreateNote, "title_required", ErrTitleRequired)
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return NoteView{}, newServiceError(opCreateNote, "title_too_long", ErrTitleTooLong)
	}
	tagNames := cleanTagNames(draft.TagNames)
	for _, name := range tagNames {
		if utf8.RuneCountInString(name) > MaxTagNameLength {
			return NoteView{}, newServiceError(opCreateNote, "tag_name_too_long", ErrTagNameTooLong)
		}
	}

	existing, err := s.existingShareKeys(ctx)
	if err != nil {
		s.logError(opCreateNote, "share_keys_query_failed", err)
		return NoteView{}, newServiceError(opCreateNote, "share_keys_query_failed", err)
	}

	var note Note
	for attempt := 0; attempt < shareKeyAttempts; attempt++ {
		key, err := s.keys.Generate(existing)
		if err != nil {
			s.logError(opCreateNote, "share_key_generation_failed", err)
			return NoteView{}, newServiceError(opCreateNote, "share_key_generation_failed", err)
		}

		now := s.now()
		note = Note{
			Title:     title,
			Content:   strings.TrimSpace(draft.Content),
			ShareKey:  &key,
			IsPublic:  draft.IsPublic,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var taken int64
			if err := tx.Model(&Note{}).Where("share_key = ?", key).Count(&taken).Error; err != nil {
				return err
			}
			if taken > 0 {
				return errShareKeyTaken
			}

			tags := make([]Tag, 0, len(tagNames))
			for _, name := range tagNames {
				var tag Tag
				if err := tx.Where(Tag{Name: name}).
					Attrs(Tag{Color: DefaultTagColor, CreatedAt: now}).
					FirstOrCreate(&tag).Error; err != nil {
					return err
				}
				tags = append(tags, tag)
			}
			note.Tags = tags

			return tx.Omit("Tags.*").Create(&note).Error
		})
		if errors.Is(err, errShareKeyTaken) {
			existing[key] = struct{}{}
			continue
		}
		if err != nil {
			s.logError(opCreateNote, "insert_failed", err, zap.String("title", title))
			return NoteView{}, newServiceError(opCreateNote, "insert_failed", err)
		}
		views, err := s.noteViews(ctx, []Note{note})
		if err != nil {
			s.logError(opCreateNote, "view_failed", err, zap.Uint("note_id", note.ID))
			return NoteView{}, newServiceError(opCreateNote, "view_failed", err)
		}
		return views[0], nil
	}

	s.logError(opCreateNote, "share_key_exhausted", errShareKeyTaken)
	return NoteView{}, newServiceError(opCreateNote, "share_key_exhausted", errShareKeyTaken)
}

// GetNote loads a note without touching its view counter.
func (s *Service) GetNote(ctx context.Context, noteID uint) (NoteView, error) {
	var note Note
	err := s.db.WithContext(ctx).Preload("Tags").Where("id = ?", noteID).Take(&note).Error
	if isNotFound(err) {
		return NoteView{}, newServiceError(opGetNote, "not_found", ErrNoteNotFound)
	}
	if err != nil {
		s.logError(opGetNote, "query_failed", err, zap.Uint("note_id", noteID))
		return NoteView{}, newServiceError(opGetNote, "query_failed", err)
	}
	views, err := s.noteViews(ctx, []Note{note})
	if err != nil {
		s.logError(opGetNote, "view_failed", err, zap.Uint("note_id", noteID))
		return NoteView{}, newServiceError(opGetNote, "view_failed", err)
	}
	return views[0], nil
}

// NoteExists reports whether the note is present.
func (s *Service) NoteExists(ctx context.Context, noteID uint) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Note{}).Where("id = ?", noteID).Count(&count).Error; err != nil {
		s.logError(opGetNote, "query_failed", err, zap.Uint("note_id", noteID))
		return false, newServiceError(opGetNote, "query_failed", err)
	}
	return count > 0, nil
}

// ViewNote increments the view counter and returns the note. updated_at is left alone.
func (s *Service) ViewNote(ctx context.Context, noteID uint) (NoteView, error) {
	result := s.db.WithContext(ctx).Model(&Note{}).
		Where("id = ?", noteID).
		UpdateColumn("view_count", gorm.Expr("view_count + ?", 1))
	if result.Error != nil {
		s.logError(opViewNote, "increment_failed", result.Error, zap.Uint("note_id", noteID))
		return NoteView{}, newServiceError(opViewNote, "increment_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return NoteView{}, newServiceError(opViewNote, "not_found", ErrNoteNotFound)
	}
	return s.GetNote(ctx, noteID)
}

// ViewNoteByShareKey resolves a share key, increments the view counter and returns the note.
func (s *Service) ViewNoteByShareKey(ctx context.Context, rawKey string) (NoteView, error) {
	key := sharekey.Normalize(rawKey)
	if !sharekey.Validate(key) {
		return NoteView{}, newServiceError(opViewNote, "invalid_share_key", ErrInvalidShareKey)
	}
	var note Note
	err := s.db.WithContext(ctx).Select("id").Where("share_key = ?", key).Take(&note).Error
	if isNotFound(err) {
		return NoteView{}, newServiceError(opViewNote, "not_found", ErrNoteNotFound)
	}
	if err != nil {
		s.logError(opViewNote, "query_failed", err, zap.String("share_key", key))
		return NoteView{}, newServiceError(opViewNote, "query_failed", err)
	}
	return s.ViewNote(ctx, note.ID)
}

// ListPublicNotes returns public notes, most recently updated first.
func (s *Service) ListPublicNotes(ctx context.Context, limit int) ([]NoteView, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var notes []Note
	if err := s.db.WithContext(ctx).
		Preload("Tags").
		Where("is_public = ?", true).
		Order("updated_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&notes).Error; err != nil {
		s.logError(opListNotes, "query_failed", err)
		return nil, newServiceError(opListNotes, "query_failed", err)
	}
	views, err := s.noteViews(ctx, notes)
	if err != nil {
		s.logError(opListNotes, "view_failed", err)
		return nil, newServiceError(opListNotes, "view_failed", err)
	}
	return views, nil
}

// ListAllNotes returns every note, newest first, for the admin view.
func (s *Service) ListAllNotes(ctx context.Context) ([]NoteView, error) {
	var notes []Note
	if err := s.db.WithContext(ctx).
		Preload("Tags").
		Order("created_at DESC").
		Order("id DESC").
		Find(&notes).Error; err != nil {
		s.logError(opListNotes, "query_failed", err)
		return nil, newServiceError(opListNotes, "query_failed", err)
	}
	views, err := s.noteViews(ctx, notes)
	if err != nil {
		s.logError(opListNotes, "view_failed", err)
		return nil, newServiceError(opListNotes, "view_failed", err)
	}
	return views, nil
}

// SearchNotes matches public notes whose title or content contains the text and
// that carry every requested tag.
func (s *Service) SearchNotes(ctx context.Context, query SearchQuery) ([]NoteView, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	db := s.db.WithContext(ctx)
	scope := db.Model(&Note{}).Preload("Tags").Where("is_public = ?", true)

	if text := strings.TrimSpace(query.Text); text != "" {
		pattern := "%" + escapeLike(text) + "%"
		scope = scope.Where(
			db.Where("title LIKE ? ESCAPE '\\'", pattern).
				Or("content LIKE ? ESCAPE '\\'", pattern),
		)
	}
	for _, name := range cleanTagNames(query.Tags) {
		scope = scope.Where(
			"EXISTS (SELECT 1 FROM note_tags JOIN tags ON tags.id = note_tags.tag_id WHERE note_tags.note_id = notes.id AND tags.name = ?)",
			name,
		)
	}

	var notes []Note
	if err := scope.Order("updated_at DESC").Order("id DESC").Limit(limit).Find(&notes).Error; err != nil {
		s.logError(opSearchNotes, "query_failed", err, zap.String("text", query.Text))
		return nil, newServiceError(opSearchNotes, "query_failed", err)
	}
	views, err := s.noteViews(ctx, notes)
	if err != nil {
		s.logError(opSearchNotes, "view_failed", err)
		return nil, newServiceError(opSearchNotes, "view_failed", err)
	}
	return views, nil
}

// DeleteNote removes the note together with its messages and tag links.
func (s *Service) DeleteNote(ctx context.Context, noteID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var note Note
		if err := tx.Where("id = ?", noteID).Take(&note).Error; err != nil {
			return err
		}
		if err := tx.Where("note_id = ?", noteID).Delete(&ChatMessage{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&note).Association("Tags").Clear(); err != nil {
			return err
		}
		return tx.Delete(&note).Error
	})
	if isNotFound(err) {
		return newServiceError(opDeleteNote, "not_found", ErrNoteNotFound)
	}
	if err != nil {
		s.logError(opDeleteNote, "delete_failed", err, zap.Uint("note_id", noteID))
		return newServiceError(opDeleteNote, "delete_failed", err)
	}
	return nil
}

// Stats reports store-wide totals.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	db := s.db.WithContext(ctx)
	var stats Stats
	if err := db.Model(&Note{}).Count(&stats.TotalNotes).Error; err != nil {
		s.logError(opStats, "notes_count_failed", err)
		return Stats{}, newServiceError(opStats, "notes_count_failed", err)
	}
	if err := db.Model(&ChatMessage{}).Count(&stats.TotalMessages).Error; err != nil {
		s.logError(opStats, "messages_count_failed", err)
		return Stats{}, newServiceError(opStats, "messages_count_failed", err)
	}
	if err := db.Model(&Tag{}).Count(&stats.ActiveTags).Error; err != nil {
		s.logError(opStats, "tags_count_failed", err)
		return Stats{}, newServiceError(opStats, "tags_count_failed", err)
	}
	return stats, nil
}

func (s *Service) existingShareKeys(ctx context.Context) (sharekey.Keys, error) {
	var keys []string
	if err := s.db.WithContext(ctx).Model(&Note{}).
		Where("share_key IS NOT NULL").
		Pluck("share_key", &keys).Error; err != nil {
		return nil, err
	}
	return sharekey.NewKeys(keys...), nil
}

type countRow struct {
	RefID uint
	Total int64
}

// noteViews projects notes with their message counts and tag usage counts.
func (s *Service) noteViews(ctx context.Context, notes []Note) ([]NoteView, error) {
	views := make([]NoteView, 0, len(notes))
	if len(notes) == 0 {
		return views, nil
	}

	noteIDs := make([]uint, 0, len(notes))
	tagIDSet := make(map[uint]struct{})
	for _, note := range notes {
		noteIDs = append(noteIDs, note.ID)
		for _, tag := range note.Tags {
			tagIDSet[tag.ID] = struct{}{}
		}
	}

	db := s.db.WithContext(ctx)
	var messageRows []countRow
	if err := db.Model(&ChatMessage{}).
		Select("note_id AS ref_id, COUNT(*) AS total").
		Where("note_id IN ?", noteIDs).
		Group("note_id").
		Scan(&messageRows).Error; err != nil {
		return nil, err
	}
	messageCounts := make(map[uint]int64, len(messageRows))
	for _, row := range messageRows {
		messageCounts[row.RefID] = row.Total
	}

	tagCounts := make(map[uint]int64, len(tagIDSet))
	if len(tagIDSet) > 0 {
		tagIDs := make([]uint, 0, len(tagIDSet))
		for id := range tagIDSet {
			tagIDs = append(tagIDs, id)
		}
		counts, err := tagUsage(db, tagIDs)
		if err != nil {
			return nil, err
		}
		tagCounts = counts
	}

	for _, note := range notes {
		tags := make([]TagView, 0, len(note.Tags))
		for _, tag := range note.Tags {
			tags = append(tags, newTagView(tag, tagCounts[tag.ID]))
		}
		views = append(views, NoteView{
			ID:           note.ID,
			Title:        note.Title,
			Content:      note.Content,
			ShareKey:     note.ShareKey,
			IsPublic:     note.IsPublic,
			ViewCount:    note.ViewCount,
			CreatedAt:    note.CreatedAt.UTC(),
			UpdatedAt:    note.UpdatedAt.UTC(),
			MessageCount: messageCounts[note.ID],
			Tags:         tags,
		})
	}
	return views, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}
