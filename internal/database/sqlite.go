package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yuzhe-s/chat-memo/internal/identity"
	"github.com/yuzhe-s/chat-memo/internal/notes"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// Migrate creates or updates every table and applies pending one-shot migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(
		&notes.Note{},
		&notes.Tag{},
		&notes.ChatMessage{},
		&identity.Visitor{},
		&migrationRecord{},
	); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}
