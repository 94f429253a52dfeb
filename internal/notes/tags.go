package notes

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// ListTags returns every tag in creation order with its note count.
func (s *Service) ListTags(ctx context.Context) ([]TagView, error) {
	return s.listTags(ctx, "id ASC")
}

// ListTagsByName returns every tag ordered by name with its note count.
func (s *Service) ListTagsByName(ctx context.Context) ([]TagView, error) {
	return s.listTags(ctx, "name ASC")
}

func (s *Service) listTags(ctx context.Context, order string) ([]TagView, error) {
	db := s.db.WithContext(ctx)
	var tags []Tag
	if err := db.Order(order).Find(&tags).Error; err != nil {
		s.logError(opListTags, "query_failed", err)
		return nil, newServiceError(opListTags, "query_failed", err)
	}
	tagIDs := make([]uint, 0, len(tags))
	for _, tag := range tags {
		tagIDs = append(tagIDs, tag.ID)
	}
	counts, err := tagUsage(db, tagIDs)
	if err != nil {
		s.logError(opListTags, "count_failed", err)
		return nil, newServiceError(opListTags, "count_failed", err)
	}
	views := make([]TagView, 0, len(tags))
	for _, tag := range tags {
		views = append(views, newTagView(tag, counts[tag.ID]))
	}
	return views, nil
}

// CreateTag creates a tag. A blank or malformed color falls back to DefaultTagColor.
func (s *Service) CreateTag(ctx context.Context, name, color string) (TagView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return TagView{}, newServiceError(opCreateTag, "name_required", ErrTagNameRequired)
	}
	if utf8.RuneCountInString(name) > MaxTagNameLength {
		return TagView{}, newServiceError(opCreateTag, "name_too_long", ErrTagNameTooLong)
	}
	color = strings.TrimSpace(color)
	if !hexColor.MatchString(color) {
		color = DefaultTagColor
	}

	tag := Tag{Name: name, Color: color, CreatedAt: s.now()}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&Tag{}).Where("name = ?", name).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrTagExists
		}
		return tx.Create(&tag).Error
	})
	if errors.Is(err, ErrTagExists) {
		return TagView{}, newServiceError(opCreateTag, "exists", ErrTagExists)
	}
	if err != nil {
		s.logError(opCreateTag, "insert_failed", err, zap.String("tag_name", name))
		return TagView{}, newServiceError(opCreateTag, "insert_failed", err)
	}
	return newTagView(tag, 0), nil
}

// DeleteTag removes the tag and its note links and returns the removed tag.
func (s *Service) DeleteTag(ctx context.Context, tagID uint) (TagView, error) {
	var tag Tag
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", tagID).Take(&tag).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM note_tags WHERE tag_id = ?", tagID).Error; err != nil {
			return err
		}
		return tx.Delete(&tag).Error
	})
	if isNotFound(err) {
		return TagView{}, newServiceError(opDeleteTag, "not_found", ErrTagNotFound)
	}
	if err != nil {
		s.logError(opDeleteTag, "delete_failed", err, zap.Uint("tag_id", tagID))
		return TagView{}, newServiceError(opDeleteTag, "delete_failed", err)
	}
	return newTagView(tag, 0), nil
}

func tagUsage(db *gorm.DB, tagIDs []uint) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(tagIDs))
	if len(tagIDs) == 0 {
		return counts, nil
	}
	var rows []countRow
	if err := db.Table("note_tags").
		Select("tag_id AS ref_id, COUNT(*) AS total").
		Where("tag_id IN ?", tagIDs).
		Group("tag_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.RefID] = row.Total
	}
	return counts, nil
}

func newTagView(tag Tag, noteCount int64) TagView {
	return TagView{
		ID:        tag.ID,
		Name:      tag.Name,
		Color:     tag.Color,
		NoteCount: noteCount,
	}
}
