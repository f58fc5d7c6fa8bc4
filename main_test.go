package main

import (
	"bytes"
	"context"
	"go/format"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tejzpr/training-desk/internal/config"
	"github.com/tejzpr/training-desk/internal/db"
	"github.com/tejzpr/training-desk/internal/db/dbtest"
	"github.com/tejzpr/training-desk/internal/legacy"
)

func TestImportLegacyUsesConfiguredPrefixes(t *testing.T) {
	dir := t.TempDir()
	logs := `{
		"SFPD-DST004": {"username": "a", "user_id": "1", "available_time": "Fri", "group_status": true, "accepted": false},
		"SFPD-EVOC002": {"username": "b", "user_id": "2", "available_time": "Sat", "group_status": true, "accepted": "true"},
		"LASD-DST001": {"username": "c", "user_id": "3", "available_time": "Sun", "group_status": true, "accepted": false}
	}`
	if err := os.WriteFile(filepath.Join(dir, legacy.LogsFile), []byte(logs), 0o644); err != nil {
		t.Fatalf("failed to write logs: %v", err)
	}

	cfg := config.Default()
	cfg.StandardPrefix = "SFPD-DST"
	cfg.ElevatedPrefix = "SFPD-EVOC"
	d := dbtest.Open(t)

	rep, err := importLegacy(context.Background(), cfg, d, dir, slog.Default())
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if rep.Requests != 2 || rep.Skipped != 1 {
		t.Errorf("expected 2 requests and 1 skipped, got %+v", rep)
	}

	var issued db.IssuedID
	if err := d.First(&issued, "id = ?", "SFPD-EVOC002").Error; err != nil {
		t.Fatalf("expected issued id: %v", err)
	}
	if issued.Category != db.CategoryElevated || issued.Seq != 2 {
		t.Errorf("unexpected issued id %+v", issued)
	}
}

func TestSourcesAreGofmted(t *testing.T) {
	err := filepath.WalkDir(".", func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() && path != "." && strings.HasPrefix(e.Name(), "_") {
			return filepath.SkipDir
		}
		if e.IsDir() || !strings.HasSuffix(path, ".go") {
			return nil
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		formatted, err := format.Source(src)
		if err != nil {
			t.Errorf("%s: %v", path, err)
			return nil
		}
		if !bytes.Equal(src, formatted) {
			t.Errorf("%s is not gofmt-formatted", path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk failed: %v", err)
	}
}
