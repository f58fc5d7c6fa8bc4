// Package dbtest opens throwaway sqlite databases for tests.
package dbtest

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/tejzpr/training-desk/internal/db"
	"gorm.io/gorm"
)

var seq atomic.Int64

// Open creates a private in-memory SQLite DB for the test. The pool is pinned to
// one connection so transactions serialize the way they do on a file.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))
	d, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := d.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return d
}

// OpenFile creates a file-backed database in a temp dir and returns its path,
// for tests that reopen the store.
func OpenFile(t *testing.T) (*gorm.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "training.db")
	d, err := db.Open(path)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := d.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return d, path
}
