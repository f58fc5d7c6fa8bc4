// Package cooldown enforces a minimum interval between successful submissions
// of the same submitter.
package cooldown

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tejzpr/training-desk/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultWindow = time.Hour

// RemainingError is returned while a submitter is still cooling down.
type RemainingError struct {
	Remaining time.Duration
}

func (e *RemainingError) Error() string {
	return fmt.Sprintf("cooldown active: wait %s", FormatWait(e.Remaining))
}

// Seconds is the remaining wait rounded down to whole seconds.
func (e *RemainingError) Seconds() int {
	return int(e.Remaining / time.Second)
}

// FormatWait renders d as "59m 50s".
func FormatWait(d time.Duration) string {
	secs := int(d / time.Second)
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}

type Gate struct {
	db     *gorm.DB
	window time.Duration
}

func New(d *gorm.DB, window time.Duration) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Gate{db: d, window: window}
}

// WithTx returns a copy of the gate bound to tx.
func (g *Gate) WithTx(tx *gorm.DB) *Gate {
	cp := *g
	cp.db = tx
	return &cp
}

func (g *Gate) Window() time.Duration { return g.window }

// CheckAndRecord admits submitterID when it has no entry or its last
// submission is at least one window before now, recording now as the new
// last submission. Otherwise it returns *RemainingError and leaves the entry
// untouched. Callers serialize the check and the write.
func (g *Gate) CheckAndRecord(ctx context.Context, submitterID string, now time.Time) error {
	last, found, err := g.Last(ctx, submitterID)
	if err != nil {
		return err
	}
	if found {
		elapsed := now.Sub(last)
		if elapsed < g.window {
			remaining := g.window - elapsed
			if remaining > g.window {
				// Clock moved backwards; never report more than one window.
				remaining = g.window
			}
			return &RemainingError{Remaining: remaining}
		}
	}

	entry := db.Cooldown{SubmitterID: submitterID, LastSubmissionNanos: now.UnixNano()}
	err = g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "submitter_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_submission_nanos"}),
		}).
		Create(&entry).Error
	if err != nil {
		return db.Unavailable("record cooldown", err)
	}
	return nil
}

// Last returns the recorded last submission time of submitterID.
func (g *Gate) Last(ctx context.Context, submitterID string) (time.Time, bool, error) {
	var entry db.Cooldown
	err := g.db.WithContext(ctx).Where("submitter_id = ?", submitterID).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, db.Unavailable("read cooldown", err)
	}
	return time.Unix(0, entry.LastSubmissionNanos), true, nil
}
