package workflow

import (
	"github.com/tejzpr/training-desk/internal/db"
	"github.com/tejzpr/training-desk/internal/store"
)

// SubmitStandard is the /training command: a DST request.
type SubmitStandard struct {
	Availability string `json:"availability" validate:"required,max=256"`
	// Eligible is the member's own statement that they were accepted into the group.
	Eligible bool `json:"eligible"`
}

// SubmitElevated is the /training-evoc command.
type SubmitElevated struct {
	Availability string `json:"availability" validate:"required,max=256"`
}

type Accept struct {
	ID string `json:"id" validate:"required,max=32"`
}

// LogResult reports the outcome of a held training session.
type LogResult struct {
	Trainee  string `json:"trainee" validate:"required,max=100"`
	Score    string `json:"score" validate:"required,max=32"`
	Status   string `json:"status" validate:"required,oneof=Passed Failed"`
	Category string `json:"category" validate:"required,oneof=DST EVOC"`
	Notes    string `json:"notes" validate:"max=1024"`
}

type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type SubmitResult struct {
	Request  db.Request `json:"request"`
	Warnings []Warning  `json:"warnings,omitempty"`
}

// Reply is the private confirmation shown to the submitter.
func (r *SubmitResult) Reply() string {
	if n := len(r.Warnings); n > 0 {
		return r.Warnings[n-1].Message + " Training ID: " + r.Request.ID
	}
	if r.Request.Category == db.CategoryElevated {
		return "Your EVOC training request has been logged! Check your DMs for confirmation. Training ID: " + r.Request.ID
	}
	return "Your training has been sent! Check your DMs for confirmation. Training ID: " + r.Request.ID
}

type AcceptResult struct {
	Request  db.Request `json:"request"`
	Warnings []Warning  `json:"warnings,omitempty"`
}

type ResultLogged struct {
	Ref string `json:"ref"`
}

type ListQuery = store.Filter
