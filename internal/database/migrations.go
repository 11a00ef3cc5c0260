package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationDedupeVotes = "2025-09-01_dedupe_votes"

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

// applyMigrations runs each pending migration and records it in the same transaction,
// so a failed step is retried on the next start.
func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationDedupeVotes, apply: dedupeVotes},
	}

	var applied []migrationRecord
	if err := db.Find(&applied).Error; err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}
	done := make(map[string]struct{}, len(applied))
	for _, record := range applied {
		done[record.Name] = struct{}{}
	}

	for _, migration := range migrations {
		if _, ok := done[migration.name]; ok {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// dedupeVotes keeps only the newest vote per (user, note) so the unique index can be created.
func dedupeVotes(db *gorm.DB) error {
	if !db.Migrator().HasTable("votes") {
		return nil
	}
	return db.Exec(`
DELETE FROM votes WHERE id IN (
	SELECT older.id FROM votes older
	WHERE EXISTS (
		SELECT 1 FROM votes newer
		WHERE newer.user_id = older.user_id
			AND newer.note_id = older.note_id
			AND (newer.created_at > older.created_at
				OR (newer.created_at = older.created_at AND newer.id > older.id))
	)
)`).Error
}
