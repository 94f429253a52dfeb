package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yuzhe-s/chat-memo/internal/notes"
)

const (
	migrationBackfillLegacySenders = "2024-01-15_backfill_legacy_sender_ids"
	legacySenderPrefix             = "legacy_"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillLegacySenders, apply: backfillLegacySenders},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillLegacySenders gives messages written before sender ids existed a stable,
// per-message sender so they never group with a live visitor.
func backfillLegacySenders(db *gorm.DB) error {
	return db.Model(&notes.ChatMessage{}).
		Where("sender_id IS NULL OR sender_id = ''").
		Update("sender_id", gorm.Expr("? || id", legacySenderPrefix)).Error
}
