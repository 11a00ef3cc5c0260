package database

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/config"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/campusnotes/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	postgresMaxIdleConns    = 10
	postgresMaxOpenConns    = 50
	postgresConnMaxLifetime = time.Hour
	postgresConnMaxIdleTime = 10 * time.Minute
)

// Open connects to the configured database and brings the schema up to date.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	gormConfig := &gorm.Config{Logger: logging.NewGormLogger(logger)}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case config.DatabaseDriverSQLite:
		db, err = openSQLite(cfg.Path, gormConfig)
	case config.DatabaseDriverPostgres:
		db, err = openPostgres(cfg.DSN, gormConfig)
	default:
		return nil, fmt.Errorf("database driver %q is not supported", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := migrate(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("driver", cfg.Driver))
	return db, nil
}

// openSQLite limits the pool to one connection, which serialises writers.
func openSQLite(path string, gormConfig *gorm.Config) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	db, err := gorm.Open(sqlite.Open(path), gormConfig)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func openPostgres(dsn string, gormConfig *gorm.Config) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(postgresMaxIdleConns)
	sqlDB.SetMaxOpenConns(postgresMaxOpenConns)
	sqlDB.SetConnMaxLifetime(postgresConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(postgresConnMaxIdleTime)
	return db, nil
}

// migrate runs the one-shot migrations before AutoMigrate so data repairs
// happen ahead of the constraints they make possible.
func migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&migrationRecord{}); err != nil {
		return err
	}
	if err := applyMigrations(db, logger); err != nil {
		return err
	}
	return db.AutoMigrate(&users.User{}, &notes.Note{}, &notes.Vote{})
}
