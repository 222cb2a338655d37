package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// StorageEntry is one persisted key/value pair.
type StorageEntry struct {
	Key       string `gorm:"column:entry_key;primaryKey;size:255"`
	Value     string `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// SQLiteStorage is a durable Storage in a single sqlite file.
type SQLiteStorage struct {
	db   *gorm.DB
	path string
}

// OpenSQLite opens (creating if needed) the storage database at path.
func OpenSQLite(path string) (*SQLiteStorage, error) {
	if path == "" {
		return nil, errors.Newf("session database path is empty").
			Component("session").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.New(err).
			Component("session").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	gormLogger := logger.NewGormLoggerAdapter(log().Module("sqlite"), slowQueryThreshold)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open SQLite database: %w", err)).
			Component("session").
			Category(errors.CategoryDatabase).
			Context("path", path).
			Build()
	}

	if err := db.AutoMigrate(&StorageEntry{}); err != nil {
		return nil, errors.New(err).
			Component("session").
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migrate").
			Build()
	}

	// Tokens are bearer credentials
	if err := os.Chmod(path, 0o600); err != nil {
		log().Warn("failed to restrict session database permissions", logger.String("path", path), logger.Error(err))
	}

	return &SQLiteStorage{db: db, path: path}, nil
}

func (s *SQLiteStorage) Get(ctx context.Context, key string) (string, bool, error) {
	var entry StorageEntry
	err := s.db.WithContext(ctx).Where("entry_key = ?", key).Limit(1).Find(&entry).Error
	if err != nil {
		return "", false, s.dbError(err, "get", key)
	}
	if entry.Key == "" {
		return "", false, nil
	}
	return entry.Value, true, nil
}

func (s *SQLiteStorage) Set(ctx context.Context, key, value string) error {
	entry := StorageEntry{Key: key, Value: value, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&entry).Error
	if err != nil {
		return s.dbError(err, "set", key)
	}
	return nil
}

func (s *SQLiteStorage) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&StorageEntry{}).Error; err != nil {
		return s.dbError(err, "delete", key)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStorage) dbError(err error, op, key string) error {
	return errors.New(err).
		Component("session").
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Context("key", key).
		Build()
}
