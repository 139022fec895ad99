// Package exclusion decides whether a link target is exempt from checking.
package exclusion

import (
	"context"
	"html"
	"net/url"
	"strings"

	"linkcheck/internal/db"
	"linkcheck/internal/logger"
	"linkcheck/internal/models"
)

// RuleStore lists the stored exclusion rules.
type RuleStore interface {
	ListExclusionRules(ctx context.Context, f db.ExclusionFilter) ([]models.ExclusionRule, error)
}

// Matcher checks URLs against the stored exclusion rules.
type Matcher struct {
	store RuleStore
	scope int64
	log   logger.Logger
}

// NewMatcher returns a matcher. With scope > 0 only rules stored under that
// page apply.
func NewMatcher(store RuleStore, scope int64, log logger.Logger) *Matcher {
	return &Matcher{store: store, scope: scope, log: log}
}

// IsExcluded reports whether target is exempt for linkType. It fails open:
// if the rules cannot be read the target is treated as not excluded.
func (m *Matcher) IsExcluded(ctx context.Context, target, linkType string) bool {
	rules, err := m.store.ListExclusionRules(ctx, db.ExclusionFilter{LinkType: linkType, ScopePageID: m.scope})
	if err != nil {
		m.log.Warn("Exclusion rules unavailable, checking target anyway",
			logger.String("url", target),
			logger.Error(err),
		)
		return false
	}

	decoded := html.UnescapeString(target)
	host := Host(decoded)
	for _, r := range rules {
		if Matches(r, decoded, host, linkType) {
			return true
		}
	}
	return false
}

// Matches applies one rule to an entity-decoded URL and its host.
// A domain rule matches when its target is the host or contains it, so a
// rule like "example.com/docs" still covers example.com.
func Matches(r models.ExclusionRule, decodedURL, host, linkType string) bool {
	if r.LinkType != linkType {
		return false
	}
	switch r.MatchType {
	case models.MatchExact:
		return r.Target == decodedURL
	case models.MatchDomain:
		if host == "" {
			return false
		}
		return r.Target == host || strings.Contains(r.Target, host)
	}
	return false
}

// Host extracts the lower-cased host of a URL, or "" when there is none.
func Host(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
