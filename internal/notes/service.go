package notes

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yuzhe-s/chat-memo/internal/sharekey"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errShareKeyTaken   = errors.New("share key collided with an existing note")
	noOpLogger         = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "notes.service.new"
	opCreateNote     = "notes.create_note"
	opGetNote        = "notes.get_note"
	opViewNote       = "notes.view_note"
	opListNotes      = "notes.list_notes"
	opSearchNotes    = "notes.search_notes"
	opDeleteNote     = "notes.delete_note"
	opAppendMessage  = "notes.append_message"
	opListMessages   = "notes.list_messages"
	opListTags       = "notes.list_tags"
	opCreateTag      = "notes.create_tag"
	opDeleteTag      = "notes.delete_tag"
	opStats          = "notes.stats"
	shareKeyAttempts = 3
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// KeyGenerator draws share keys that avoid the provided set.
type KeyGenerator interface {
	Generate(existing sharekey.KeySet) (string, error)
}

type ServiceConfig struct {
	Database     *gorm.DB
	Clock        func() time.Time
	KeyGenerator KeyGenerator
	Logger       *zap.Logger
}

// Service persists notes, tags and chat messages.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	keys   KeyGenerator
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	keys := cfg.KeyGenerator
	if keys == nil {
		keys = sharekey.NewGenerator()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:     cfg.Database,
		clock:  clock,
		keys:   keys,
		logger: logger,
	}, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("notes service error", attrs...)
}

// truncateRunes cuts value to at most limit characters.
func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}

// cleanTagNames trims, drops blanks and de-duplicates while keeping order.
func cleanTagNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	cleaned := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		cleaned = append(cleaned, name)
	}
	return cleaned
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
