package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MatchType selects how an exclusion rule's target is compared.
type MatchType string

const (
	MatchExact  MatchType = "exact"
	MatchDomain MatchType = "domain"
)

// ParseMatchType validates a match type tag.
func ParseMatchType(s string) (MatchType, error) {
	switch MatchType(s) {
	case MatchExact, MatchDomain:
		return MatchType(s), nil
	}
	return "", fmt.Errorf("invalid match type %q", s)
}

// ExclusionRule exempts a URL or a whole domain from checking.
type ExclusionRule struct {
	ID          uuid.UUID `json:"id"`
	MatchType   MatchType `json:"match_type"`
	LinkType    string    `json:"link_type"`
	Target      string    `json:"target"`
	ScopePageID int64     `json:"scope_page_id"`
	Reason      string    `json:"reason"`
	CreatedAt   time.Time `json:"created_at"`
}
