package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/config"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/notes"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// legacyVote mirrors the votes table as it existed before the unique index.
type legacyVote struct {
	ID        string    `gorm:"column:id;primaryKey"`
	UserID    string    `gorm:"column:user_id"`
	NoteID    string    `gorm:"column:note_id"`
	IsUpvote  bool      `gorm:"column:is_upvote"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (legacyVote) TableName() string {
	return "votes"
}

func TestOpenDedupesVotesBeforeIndexing(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "legacy.db")

	legacy, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := legacy.AutoMigrate(&legacyVote{}); err != nil {
		testContext.Fatalf("failed to create legacy votes: %v", err)
	}
	base := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	rows := []legacyVote{
		{ID: "v1", UserID: "user-1", NoteID: "note-1", IsUpvote: true, CreatedAt: base},
		{ID: "v2", UserID: "user-1", NoteID: "note-1", IsUpvote: false, CreatedAt: base.Add(time.Minute)},
		{ID: "v3", UserID: "user-2", NoteID: "note-1", IsUpvote: true, CreatedAt: base},
	}
	if err := legacy.Create(&rows).Error; err != nil {
		testContext.Fatalf("failed to insert legacy votes: %v", err)
	}
	sqlDB, err := legacy.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		testContext.Fatalf("failed to close legacy db: %v", err)
	}

	database, err := Open(config.DatabaseConfig{Driver: config.DatabaseDriverSQLite, Path: databasePath}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	var votes []notes.Vote
	if err := database.Order("id").Find(&votes).Error; err != nil {
		testContext.Fatalf("failed to load votes: %v", err)
	}
	if len(votes) != 2 {
		testContext.Fatalf("expected 2 votes after dedupe, got %d", len(votes))
	}
	if votes[0].ID != "v2" || votes[0].IsUpvote {
		testContext.Fatalf("expected newest vote v2 to survive, got %+v", votes[0])
	}
	if votes[1].ID != "v3" {
		testContext.Fatalf("expected unrelated vote v3 to survive, got %+v", votes[1])
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationDedupeVotes).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	duplicate := notes.Vote{ID: "v4", UserID: "user-2", NoteID: "note-1", IsUpvote: false, CreatedAt: base}
	if err := database.Create(&duplicate).Error; err == nil {
		testContext.Fatalf("expected unique index to reject a second vote for the same pair")
	}
}

func TestOpenCreatesSchemaOnFreshDatabase(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "fresh.db")
	database, err := Open(config.DatabaseConfig{Driver: config.DatabaseDriverSQLite, Path: databasePath}, nil)
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	for _, table := range []string{"users", "notes", "votes", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}

	if _, err := Open(config.DatabaseConfig{Driver: config.DatabaseDriverSQLite, Path: databasePath}, nil); err != nil {
		testContext.Fatalf("expected reopening to be idempotent: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open(config.DatabaseConfig{Driver: "mysql"}, nil); err == nil {
		testContext.Fatalf("expected unsupported driver error")
	}
	if _, err := Open(config.DatabaseConfig{Driver: config.DatabaseDriverSQLite}, nil); err == nil {
		testContext.Fatalf("expected missing path error")
	}
}
