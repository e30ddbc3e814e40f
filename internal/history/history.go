// Package history persists one record per executed run and serves the
// aggregate queries behind the stats command and the daily digest.
package history

import (
	"fmt"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/corbin-hayes/coderelay/internal/config"
)

// Run is one executed run request. Source text is deliberately not stored;
// only what the stats views need.
type Run struct {
	ID         uint      `gorm:"primaryKey"`
	CreatedAt  time.Time `gorm:"index"`
	Server     string    `gorm:"size:64;index"`
	Channel    string    `gorm:"size:64"`
	UserID     string    `gorm:"size:64;index"`
	UserName   string    `gorm:"size:128"`
	Language   string    `gorm:"size:64;index"`
	Status     string    `gorm:"size:16"` // "ok" or "fault"
	DurationMS int64
}

// Store wraps the run-history database.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database (sqlite file or mysql server)
// and migrates the schema.
func Open(cfg config.HistoryConfig) (*Store, error) {
	var db *gorm.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
	case "mysql":
		mcfg := gomysql.Config{
			User:                 cfg.User,
			Passwd:               cfg.Password,
			Net:                  "tcp",
			Addr:                 fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			DBName:               cfg.Database,
			ParseTime:            true,
			AllowNativePasswords: true,
		}
		db, err = gorm.Open(mysql.Open(mcfg.FormatDSN()), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
	default:
		return nil, fmt.Errorf("history: unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("history: connect (%s): %w", cfg.Driver, err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

// NewStore wraps an existing gorm connection and migrates the schema.
// Used by tests with an in-memory sqlite database.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("history: db is required")
	}
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	if err := s.db.AutoMigrate(&Run{}); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Record stores one run.
func (s *Store) Record(run Run) error {
	if err := s.db.Create(&run).Error; err != nil {
		return fmt.Errorf("history: record run: %w", err)
	}
	return nil
}

// LanguageCount is one row of the per-language stats view.
type LanguageCount struct {
	Language string
	Count    int64
}

// Stats returns the total run count and per-language counts, most used
// first.
func (s *Store) Stats() (int64, []LanguageCount, error) {
	var total int64
	if err := s.db.Model(&Run{}).Count(&total).Error; err != nil {
		return 0, nil, fmt.Errorf("history: count runs: %w", err)
	}

	var rows []LanguageCount
	err := s.db.Model(&Run{}).
		Select("language, count(*) as count").
		Group("language").
		Order("count DESC, language ASC").
		Find(&rows).Error
	if err != nil {
		return 0, nil, fmt.Errorf("history: language stats: %w", err)
	}
	return total, rows, nil
}

// CountSince returns the number of runs recorded after the cutoff.
func (s *Store) CountSince(cutoff time.Time) (int64, error) {
	var n int64
	err := s.db.Model(&Run{}).Where("created_at > ?", cutoff).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("history: count since: %w", err)
	}
	return n, nil
}
