// Package notify is the outbound boundary of the training desk. The engine
// renders Notifications and hands them to a Dispatcher; delivery outcome is
// reported back as a boolean, never as an error.
package notify

import (
	"context"

	"github.com/tejzpr/training-desk/internal/db"
)

type Kind string

const (
	KindSubmissionReceived Kind = "submission_received"
	KindRequestAccepted    Kind = "request_accepted"
	KindTrainingResult     Kind = "training_result"
)

type RecipientKind string

const (
	RecipientUser    RecipientKind = "user"
	RecipientChannel RecipientKind = "channel"
)

type Recipient struct {
	Kind RecipientKind `json:"kind"`
	ID   string        `json:"id"`
}

func User(id string) Recipient    { return Recipient{Kind: RecipientUser, ID: id} }
func Channel(id string) Recipient { return Recipient{Kind: RecipientChannel, ID: id} }

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type Notification struct {
	Kind      Kind        `json:"kind"`
	Recipient Recipient   `json:"recipient"`
	Category  db.Category `json:"category,omitempty"`
	RecordID  string      `json:"record_id,omitempty"`
	Title     string      `json:"title"`
	Summary   string      `json:"summary"`
	// Mentions are role or user references pinged alongside a channel post.
	Mentions []string `json:"mentions,omitempty"`
	Fields   []Field  `json:"fields,omitempty"`
}

// Dispatcher delivers a notification. ref identifies the delivered message
// and is empty when ok is false.
type Dispatcher interface {
	Deliver(ctx context.Context, n Notification) (ref string, ok bool)
}

// Fanout delivers to every dispatcher and succeeds when any of them does.
// The reference of the first successful dispatcher is returned.
type Fanout []Dispatcher

func (f Fanout) Deliver(ctx context.Context, n Notification) (string, bool) {
	var (
		ref string
		ok  bool
	)
	for _, d := range f {
		r, delivered := d.Deliver(ctx, n)
		if delivered && !ok {
			ref, ok = r, true
		}
	}
	return ref, ok
}

// Discard drops every notification and reports failure.
type Discard struct{}

func (Discard) Deliver(context.Context, Notification) (string, bool) { return "", false }
