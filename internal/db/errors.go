package db

import (
	"errors"
	"fmt"
)

// ErrStorageUnavailable marks failures of the backing database itself, as
// opposed to domain outcomes such as a missing row.
var ErrStorageUnavailable = errors.New("storage unavailable")

// Unavailable wraps a driver error so callers can match ErrStorageUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
