// Package store keeps training request records. It holds no business rules
// beyond the status guard; the workflow engine decides what gets written.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tejzpr/training-desk/internal/db"
	"gorm.io/gorm"
)

var (
	ErrDuplicateID     = errors.New("duplicate request id")
	ErrNotFound        = errors.New("request not found")
	ErrAlreadyInStatus = errors.New("request already in status")
	ErrInvalidStatus   = errors.New("invalid status transition")
)

type Store struct {
	db *gorm.DB
}

func New(d *gorm.DB) *Store {
	return &Store{db: d}
}

// WithTx returns a copy of the store bound to tx.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// Create inserts rec. Records always start out pending.
func (s *Store) Create(ctx context.Context, rec *db.Request) error {
	if rec.Status == "" {
		rec.Status = db.StatusPending
	}
	if rec.Status != db.StatusPending {
		return fmt.Errorf("create %s: %w: new records must be %s", rec.ID, ErrInvalidStatus, db.StatusPending)
	}

	var n int64
	if err := s.db.WithContext(ctx).Model(&db.Request{}).Where("id = ?", rec.ID).Count(&n).Error; err != nil {
		return db.Unavailable("create", err)
	}
	if n > 0 {
		return fmt.Errorf("create %s: %w", rec.ID, ErrDuplicateID)
	}

	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("create %s: %w", rec.ID, ErrDuplicateID)
		}
		return db.Unavailable("create", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*db.Request, error) {
	var rec db.Request
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, db.Unavailable("get", err)
	}
	return &rec, nil
}

// UpdateStatus moves a record to status. Accepted records never go back to
// pending.
func (s *Store) UpdateStatus(ctx context.Context, id string, status db.Status) error {
	switch status {
	case db.StatusAccepted:
		return s.transition(ctx, id, status, map[string]interface{}{"status": status})
	case db.StatusPending:
		rec, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if rec.IsPending() {
			return fmt.Errorf("%s: %w %s", id, ErrAlreadyInStatus, status)
		}
		return fmt.Errorf("%s: %w: %s -> %s", id, ErrInvalidStatus, rec.Status, status)
	default:
		return fmt.Errorf("%s: %w: unknown status %q", id, ErrInvalidStatus, status)
	}
}

// MarkAccepted moves a pending record to accepted, stamping the reviewer.
func (s *Store) MarkAccepted(ctx context.Context, id, reviewerID string, at time.Time) error {
	return s.transition(ctx, id, db.StatusAccepted, map[string]interface{}{
		"status":      db.StatusAccepted,
		"accepted_by": reviewerID,
		"accepted_at": &at,
	})
}

// transition applies updates only while the record is still pending, so two
// concurrent accepts cannot both succeed.
func (s *Store) transition(ctx context.Context, id string, status db.Status, updates map[string]interface{}) error {
	result := s.db.WithContext(ctx).
		Model(&db.Request{}).
		Where("id = ? AND status = ?", id, db.StatusPending).
		Updates(updates)
	if result.Error != nil {
		return db.Unavailable("update status", result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%s: %w %s", id, ErrAlreadyInStatus, rec.Status)
}

// SetNotificationRef records the reference of the review-channel post.
func (s *Store) SetNotificationRef(ctx context.Context, id, ref string) error {
	result := s.db.WithContext(ctx).Model(&db.Request{}).Where("id = ?", id).Update("notification_ref", ref)
	if result.Error != nil {
		return db.Unavailable("set notification ref", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

type Filter struct {
	Status      db.Status
	Category    db.Category
	SubmitterID string
	Limit       int
}

// List returns matching records, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]db.Request, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Category != "" {
		query = query.Where("category = ?", f.Category)
	}
	if f.SubmitterID != "" {
		query = query.Where("submitter_id = ?", f.SubmitterID)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}

	var requests []db.Request
	if err := query.Find(&requests).Error; err != nil {
		return nil, db.Unavailable("list", err)
	}
	return requests, nil
}
