package db

import (
	"time"
)

// Category selects the kind of training a request is for.
type Category string

const (
	CategoryStandard Category = "DST"
	CategoryElevated Category = "EVOC"
)

func (c Category) Valid() bool {
	return c == CategoryStandard || c == CategoryElevated
}

// Status is the lifecycle state of a Request. Accepted is terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
)

type Request struct {
	ID              string     `json:"id" gorm:"primaryKey;size:32"`
	SubmitterID     string     `json:"submitter_id" gorm:"index;not null"`
	SubmitterName   string     `json:"submitter_name" gorm:"not null;default:''"`
	Category        Category   `json:"category" gorm:"size:8;index;not null"`
	Availability    string     `json:"availability" gorm:"type:text;not null"`
	Eligible        bool       `json:"eligible" gorm:"not null"`
	Status          Status     `json:"status" gorm:"size:16;default:pending;not null;index"`
	NotificationRef *string    `json:"notification_ref"`
	AcceptedBy      string     `json:"accepted_by,omitempty" gorm:"not null;default:''"`
	AcceptedAt      *time.Time `json:"accepted_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (r *Request) IsPending() bool  { return r.Status == StatusPending }
func (r *Request) IsAccepted() bool { return r.Status == StatusAccepted }

// Cooldown holds the last successful submission time of a submitter, in Unix
// nanoseconds so the window comparison sees the exact instant.
type Cooldown struct {
	SubmitterID         string `json:"submitter_id" gorm:"primaryKey"`
	LastSubmissionNanos int64  `json:"last_submission_nanos" gorm:"not null"`
}

// IssuedID is one allocated request id. Rows are never deleted.
type IssuedID struct {
	ID        string    `json:"id" gorm:"primaryKey;size:32"`
	Category  Category  `json:"category" gorm:"size:8;not null;uniqueIndex:idx_issued_category_seq"`
	Seq       int       `json:"seq" gorm:"not null;uniqueIndex:idx_issued_category_seq"`
	CreatedAt time.Time `json:"created_at"`
}

func (IssuedID) TableName() string { return "issued_ids" }
