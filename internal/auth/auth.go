// Package auth decides who may run which command. Callers are Actors carrying
// a set of claims (chat roles); commands name the claim they need.
package auth

import (
	"errors"
	"fmt"
	"slices"
)

var ErrNotAuthorized = errors.New("not authorized")

type Actor struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Claims []string `json:"claims"`
}

func (a Actor) Has(claim string) bool {
	return claim != "" && slices.Contains(a.Claims, claim)
}

// ClaimError reports the claim an actor was missing.
type ClaimError struct {
	ActorID string
	Claim   string
}

func (e *ClaimError) Error() string {
	return fmt.Sprintf("actor %s lacks claim %q", e.ActorID, e.Claim)
}

func (e *ClaimError) Is(target error) bool { return target == ErrNotAuthorized }

// Require returns a *ClaimError matching ErrNotAuthorized when a lacks claim.
func Require(a Actor, claim string) error {
	if a.Has(claim) {
		return nil
	}
	return &ClaimError{ActorID: a.ID, Claim: claim}
}
