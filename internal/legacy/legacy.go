// Package legacy loads the JSON snapshot files written by the old training bot
// (training_logs.json, training_cooldowns.json and training_ids.json) into
// the desk database.
package legacy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tejzpr/training-desk/internal/allocator"
	"github.com/tejzpr/training-desk/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	LogsFile      = "training_logs.json"
	CooldownsFile = "training_cooldowns.json"
	IDsFile       = "training_ids.json"
)

// Report counts what an import wrote. Rows that already existed are counted
// as skipped.
type Report struct {
	Requests  int `json:"requests"`
	Cooldowns int `json:"cooldowns"`
	IssuedIDs int `json:"issued_ids"`
	Skipped   int `json:"skipped"`
}

type entry struct {
	Username      string          `json:"username"`
	UserID        string          `json:"user_id"`
	TrainingType  string          `json:"training_type"`
	AvailableTime string          `json:"available_time"`
	GroupStatus   looseBool       `json:"group_status"`
	Accepted      looseBool       `json:"accepted"`
	MessageID     json.RawMessage `json:"message_id"`
}

// looseBool accepts true/false as well as the "true"/"false" strings the old
// bot wrote after an accept.
type looseBool bool

func (b *looseBool) UnmarshalJSON(data []byte) error {
	switch s := strings.Trim(string(bytes.TrimSpace(data)), `"`); {
	case strings.EqualFold(s, "true"):
		*b = true
	case strings.EqualFold(s, "false"), s == "null", s == "":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

type Importer struct {
	db     *gorm.DB
	alloc  *allocator.Allocator
	logger *slog.Logger
}

type Option func(*Importer)

// WithAllocator sets the allocator whose prefixes are used to parse ids.
func WithAllocator(a *allocator.Allocator) Option { return func(i *Importer) { i.alloc = a } }

func WithLogger(l *slog.Logger) Option { return func(i *Importer) { i.logger = l } }

func New(d *gorm.DB, opts ...Option) *Importer {
	i := &Importer{db: d, alloc: allocator.New(d), logger: slog.Default()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Import reads the snapshot files from dir. Missing files are treated as
// empty. Existing rows are never overwritten, so importing twice is a no-op.
func Import(ctx context.Context, d *gorm.DB, dir string, opts ...Option) (*Report, error) {
	return New(d, opts...).Import(ctx, dir)
}

func (i *Importer) Import(ctx context.Context, dir string) (*Report, error) {
	var (
		logs      map[string]entry
		cooldowns map[string]float64
		ids       struct {
			IDs []string `json:"ids"`
		}
	)
	if err := readJSON(filepath.Join(dir, LogsFile), &logs); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, CooldownsFile), &cooldowns); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, IDsFile), &ids); err != nil {
		return nil, err
	}

	rep := &Report{}
	err := i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		issued := make(map[string]bool)
		for _, id := range sortedKeys(logs) {
			if err := i.importRequest(tx, id, logs[id], rep); err != nil {
				return err
			}
			issued[id] = true
		}
		for _, id := range ids.IDs {
			if issued[id] {
				continue
			}
			if err := i.importIssued(tx, id, rep); err != nil {
				return err
			}
			issued[id] = true
		}
		for _, user := range sortedKeys(cooldowns) {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&db.Cooldown{SubmitterID: user, LastSubmissionNanos: epochNanos(cooldowns[user])})
			if res.Error != nil {
				return fmt.Errorf("import cooldown %s: %w", user, res.Error)
			}
			if res.RowsAffected == 0 {
				rep.Skipped++
			} else {
				rep.Cooldowns++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	i.logger.Info("legacy import finished",
		"dir", dir,
		"requests", rep.Requests,
		"cooldowns", rep.Cooldowns,
		"issued_ids", rep.IssuedIDs,
		"skipped", rep.Skipped,
	)
	return rep, nil
}

func (i *Importer) importIssued(tx *gorm.DB, id string, rep *Report) error {
	category, seq, ok := i.alloc.Parse(id)
	if !ok {
		i.logger.Warn("skipping id with unknown prefix", "id", id)
		rep.Skipped++
		return nil
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&db.IssuedID{ID: id, Category: category, Seq: seq})
	if res.Error != nil {
		return fmt.Errorf("import id %s: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		rep.IssuedIDs++
	}
	return nil
}

func (i *Importer) importRequest(tx *gorm.DB, id string, e entry, rep *Report) error {
	category, _, ok := i.alloc.Parse(id)
	if !ok {
		i.logger.Warn("skipping request with unknown id prefix", "id", id)
		rep.Skipped++
		return nil
	}
	if e.UserID == "" {
		i.logger.Warn("skipping request without submitter", "id", id)
		rep.Skipped++
		return nil
	}
	if err := i.importIssued(tx, id, rep); err != nil {
		return err
	}

	rec := db.Request{
		ID:            id,
		SubmitterID:   e.UserID,
		SubmitterName: e.Username,
		Category:      category,
		Availability:  e.AvailableTime,
		Eligible:      bool(e.GroupStatus) || category == db.CategoryElevated,
		Status:        db.StatusPending,
	}
	if e.Accepted {
		rec.Status = db.StatusAccepted
	}
	if ref := rawRef(e.MessageID); ref != "" {
		rec.NotificationRef = &ref
	}

	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return fmt.Errorf("import request %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		rep.Skipped++
	} else {
		rep.Requests++
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// epochNanos converts the old bot's float epoch seconds, keeping the fraction
// to the microsecond.
func epochNanos(secs float64) int64 {
	return int64(math.Round(secs*1e6)) * int64(time.Microsecond)
}

func rawRef(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
