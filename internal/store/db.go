package store

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ifuryst/murmur/internal/config"
)

// NewDatabase opens postgres. The schema is owned by the SQL migrations.
func NewDatabase(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.Type != "" && cfg.Type != "postgres" {
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}

	db, err := OpenDSN(cfg.DSN())
	if err != nil {
		return nil, err
	}
	return db, nil
}

// OpenDSN opens a gorm postgres handle with unique violations translated to
// gorm.ErrDuplicatedKey.
func OpenDSN(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
