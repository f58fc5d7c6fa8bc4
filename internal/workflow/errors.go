package workflow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tejzpr/training-desk/internal/auth"
	"github.com/tejzpr/training-desk/internal/cooldown"
	"github.com/tejzpr/training-desk/internal/errcodes"
	"github.com/tejzpr/training-desk/internal/store"
)

var (
	ErrNotAuthorized = auth.ErrNotAuthorized
	// ErrPermissionDenied is the reviewer-side form of ErrNotAuthorized and
	// matches it with errors.Is.
	ErrPermissionDenied = fmt.Errorf("%w: reviewer claim required", auth.ErrNotAuthorized)
	ErrNotEligible      = errors.New("not eligible: group acceptance required")
	ErrNotFound         = store.ErrNotFound
	ErrAlreadyAccepted  = errors.New("already accepted")
	ErrInvalidCommand   = errors.New("invalid command")
	ErrDeliveryFailed   = errors.New("notification could not be delivered")
)

// Rejection is a user-facing refusal of a command. It carries the catalog code
// shown to the member and unwraps to the underlying sentinel.
type Rejection struct {
	Code string
	Err  error
	// Text, when set, is shown to the caller verbatim instead of a message
	// rendered from Code.
	Text string
}

func (r *Rejection) Error() string { return r.Err.Error() }
func (r *Rejection) Unwrap() error { return r.Err }

func reject(code string, err error) error {
	return &Rejection{Code: code, Err: err}
}

// Code returns the catalog code of err. Errors that are not rejections are
// internal failures and map to errcodes.Unexpected.
func Code(err error) string {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Code
	}
	return errcodes.Unexpected
}

var codeSentinels = map[string]error{
	errcodes.StandardRoleRequired: ErrNotAuthorized,
	errcodes.ElevatedRoleRequired: ErrNotAuthorized,
	errcodes.PermissionDenied:     ErrPermissionDenied,
	errcodes.NotEligible:          ErrNotEligible,
	errcodes.NotFound:             ErrNotFound,
	errcodes.AlreadyAccepted:      ErrAlreadyAccepted,
	errcodes.InvalidInput:         ErrInvalidCommand,
	errcodes.ChannelNotFound:      ErrDeliveryFailed,
}

// RejectionFromCode rebuilds a rejection received over the wire so that
// errors.Is keeps working against the sentinels. Cooldown rejections carry
// the remaining wait.
func RejectionFromCode(code, text string, retryAfter time.Duration) error {
	var err error
	switch {
	case code == errcodes.Cooldown:
		err = &cooldown.RemainingError{Remaining: retryAfter}
	case codeSentinels[code] != nil:
		err = codeSentinels[code]
	default:
		err = errors.New(text)
	}
	return &Rejection{Code: code, Err: err, Text: text}
}

// Message renders err as the private reply shown to the caller.
func Message(err error) string {
	if err == nil {
		return ""
	}
	code := Code(err)

	var r *Rejection
	if errors.As(err, &r) && r.Text != "" {
		return r.Text
	}

	var remaining *cooldown.RemainingError
	if errors.As(err, &remaining) {
		return fmt.Sprintf("You must wait %s before submitting another training. ERR CODE: %s",
			cooldown.FormatWait(remaining.Remaining), code)
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, strings.ToLower(fe.Field())+" ("+fe.Tag()+")")
		}
		return fmt.Sprintf("%s Check: %s. ERR CODE: %s", errcodes.Describe(code), strings.Join(fields, ", "), code)
	}

	if errors.Is(err, ErrNotEligible) {
		return fmt.Sprintf("%s Please review the steps in the instructions channel before proceeding. ERR CODE: %s",
			errcodes.Describe(code), code)
	}
	return fmt.Sprintf("%s ERR CODE: %s", errcodes.Describe(code), code)
}
