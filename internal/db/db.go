package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	instance *gorm.DB
	once     sync.Once
	initErr  error
)

// DefaultPath is used when no database path is configured.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".training-desk", "training.db"), nil
}

// Open opens (creating if needed) the sqlite database at path and migrates it.
// Paths starting with "file:" are passed to sqlite as URIs.
func Open(path string) (*gorm.DB, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
	}

	d, err := gorm.Open(sqlite.Open(dsn(path)), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if !inMemory(path) {
		// A single connection: in-process transactions queue for the write
		// lock instead of failing with SQLITE_BUSY.
		sqlDB, err := d.DB()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := Migrate(d); err != nil {
		return nil, err
	}
	return d, nil
}

// fileParams make transactions take the write lock up front and wait for
// other processes (a legacy import, a second desk) instead of failing.
const fileParams = "_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL"

func inMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

func dsn(path string) string {
	if inMemory(path) {
		return path
	}
	if strings.Contains(path, "?") {
		return path + "&" + fileParams
	}
	return path + "?" + fileParams
}

func Migrate(d *gorm.DB) error {
	if err := d.AutoMigrate(&Request{}, &Cooldown{}, &IssuedID{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Init opens the process-wide database once. An empty path selects DefaultPath.
func Init(path string) (*gorm.DB, error) {
	once.Do(func() {
		if path == "" {
			path, initErr = DefaultPath()
			if initErr != nil {
				return
			}
		}
		instance, initErr = Open(path)
	})
	return instance, initErr
}

func Get() *gorm.DB {
	return instance
}

// InitWithDB allows injecting a pre-configured *gorm.DB (useful for testing).
func InitWithDB(d *gorm.DB) {
	instance = d
}
