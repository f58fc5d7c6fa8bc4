// Package errcodes is the catalog of user-facing error codes. Codes are stable
// identifiers members quote when asking staff for help.
package errcodes

import (
	"sort"
	"strings"
)

const (
	StandardRoleRequired = "LASD-E-0816"
	NotEligible          = "LASD-E-7212"
	Cooldown             = "LASD-E-2581"
	ElevatedRoleRequired = "LASD-E-1752"
	ChannelNotFound      = "LASD-E-1891"
	Unexpected           = "LASD-E-2712"
	GroupNotRequired     = "LASD-E-1281"
	PermissionDenied     = "LASD-E-2871"
	NotFound             = "LASD-E-4040"
	AlreadyAccepted      = "LASD-E-4090"
	InvalidInput         = "LASD-E-4220"
)

var catalog = map[string]string{
	StandardRoleRequired: "You must have the DST role to use this command.",
	NotEligible:          "You must be accepted into the group to submit a training log.",
	Cooldown:             "You must wait before submitting another training.",
	ElevatedRoleRequired: "You must be a Master Deputy or higher to request EVOC training.",
	ChannelNotFound:      "Designated channel not found.",
	Unexpected:           "Unexpected error. Please contact staff or try again later.",
	GroupNotRequired:     "EVOC Training does not require Group.",
	PermissionDenied:     "You do not have permission to run this command.",
	NotFound:             "No training request exists with that ID.",
	AlreadyAccepted:      "That training request has already been accepted.",
	InvalidInput:         "One or more command options are missing or invalid.",
}

type Entry struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Lookup finds code, ignoring case and surrounding space.
func Lookup(code string) (Entry, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	desc, ok := catalog[code]
	if !ok {
		return Entry{}, false
	}
	return Entry{Code: code, Description: desc}, true
}

// Describe returns the description of code, or "" when unknown.
func Describe(code string) string {
	return catalog[code]
}

// All lists every entry ordered by code.
func All() []Entry {
	out := make([]Entry, 0, len(catalog))
	for code, desc := range catalog {
		out = append(out, Entry{Code: code, Description: desc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
