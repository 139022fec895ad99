package models

import (
	"fmt"
	"strings"
)

// Status is the outcome of checking a single link target.
// The numeric values are persisted and must not change.
type Status int

const (
	StatusBroken      Status = 1
	StatusOK          Status = 2
	StatusCannotCheck Status = 3
	StatusExcluded    Status = 4
	StatusUnknown     Status = 5
)

// AllStatuses lists every status in display order.
var AllStatuses = []Status{StatusBroken, StatusCannotCheck, StatusUnknown, StatusExcluded, StatusOK}

// String returns the lower-case tag used in APIs and metrics.
func (s Status) String() string {
	switch s {
	case StatusBroken:
		return "broken"
	case StatusOK:
		return "ok"
	case StatusCannotCheck:
		return "cannot_check"
	case StatusExcluded:
		return "excluded"
	case StatusUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s >= StatusBroken && s <= StatusUnknown
}

// ParseStatus converts a tag (or its numeric form) back into a Status.
func ParseStatus(tag string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "broken", "1":
		return StatusBroken, nil
	case "ok", "2":
		return StatusOK, nil
	case "cannot_check", "cannotcheck", "3":
		return StatusCannotCheck, nil
	case "excluded", "4":
		return StatusExcluded, nil
	case "unknown", "5":
		return StatusUnknown, nil
	}
	return 0, fmt.Errorf("unknown status %q", tag)
}
