// Package allocator issues human-readable request ids such as LASD-DST001.
//
// Every issued id is recorded as a (category, seq) row in the issued_ids
// table; the next sequence number of a category is max(seq)+1. Rows are never
// removed, so an id is never handed out twice.
package allocator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/tejzpr/training-desk/internal/db"
	"gorm.io/gorm"
)

const (
	DefaultStandardPrefix = "LASD-DST"
	DefaultElevatedPrefix = "LASD-EVOC"

	seqWidth = 3
)

type Allocator struct {
	db       *gorm.DB
	prefixes map[db.Category]string
}

type Option func(*Allocator)

func WithPrefix(c db.Category, prefix string) Option {
	return func(a *Allocator) {
		if prefix != "" {
			a.prefixes[c] = prefix
		}
	}
}

func New(d *gorm.DB, opts ...Option) *Allocator {
	a := &Allocator{
		db: d,
		prefixes: map[db.Category]string{
			db.CategoryStandard: DefaultStandardPrefix,
			db.CategoryElevated: DefaultElevatedPrefix,
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// WithTx returns a copy of the allocator that reads and writes through tx.
func (a *Allocator) WithTx(tx *gorm.DB) *Allocator {
	cp := *a
	cp.db = tx
	return &cp
}

func (a *Allocator) Prefix(c db.Category) string {
	return a.prefixes[c]
}

// Allocate reserves and returns the next id of category c. The caller must
// serialize calls; the unique (category, seq) index turns a lost race into a
// storage error rather than a reused id.
func (a *Allocator) Allocate(ctx context.Context, c db.Category) (string, error) {
	prefix, ok := a.prefixes[c]
	if !ok {
		return "", fmt.Errorf("allocate: unknown category %q", c)
	}

	var last int64
	row := a.db.WithContext(ctx).
		Model(&db.IssuedID{}).
		Where("category = ?", c).
		Select("COALESCE(MAX(seq), 0)").
		Row()
	if err := row.Scan(&last); err != nil {
		return "", db.Unavailable("allocate", err)
	}

	next := int(last) + 1
	issued := db.IssuedID{
		ID:       Format(prefix, next),
		Category: c,
		Seq:      next,
	}
	if err := a.db.WithContext(ctx).Create(&issued).Error; err != nil {
		return "", db.Unavailable("allocate", err)
	}
	return issued.ID, nil
}

// Parse splits an issued id back into its category and sequence number.
func (a *Allocator) Parse(id string) (db.Category, int, bool) {
	// Longest prefix first so that overlapping prefixes resolve correctly.
	var (
		best    db.Category
		bestLen int
	)
	for c, p := range a.prefixes {
		if strings.HasPrefix(id, p) && len(p) > bestLen {
			best, bestLen = c, len(p)
		}
	}
	if bestLen == 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[bestLen:])
	if err != nil || n <= 0 {
		return "", 0, false
	}
	return best, n, true
}

// Format renders prefix and n as the zero-padded id, e.g. LASD-DST007.
func Format(prefix string, n int) string {
	return fmt.Sprintf("%s%0*d", prefix, seqWidth, n)
}
