package exclusion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"linkcheck/internal/db"
	"linkcheck/internal/logger"
	"linkcheck/internal/models"
)

type fakeStore struct {
	rules   []models.ExclusionRule
	err     error
	filters []db.ExclusionFilter
}

func (f *fakeStore) ListExclusionRules(_ context.Context, filter db.ExclusionFilter) ([]models.ExclusionRule, error) {
	f.filters = append(f.filters, filter)
	if f.err != nil {
		return nil, f.err
	}
	var out []models.ExclusionRule
	for _, r := range f.rules {
		if filter.LinkType != "" && r.LinkType != filter.LinkType {
			continue
		}
		if filter.ScopePageID > 0 && r.ScopePageID != filter.ScopePageID {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func TestMatcher_IsExcluded(t *testing.T) {
	store := &fakeStore{rules: []models.ExclusionRule{
		{MatchType: models.MatchExact, LinkType: "external", Target: "https://example.com/a?x=1&y=2"},
		{MatchType: models.MatchDomain, LinkType: "external", Target: "blocked.example"},
		{MatchType: models.MatchDomain, LinkType: "external", Target: "partial.example/docs"},
		{MatchType: models.MatchDomain, LinkType: "file", Target: "files.example"},
	}}
	m := NewMatcher(store, 0, logger.NewNop())

	tests := []struct {
		name     string
		url      string
		linkType string
		want     bool
	}{
		{"exact match", "https://example.com/a?x=1&y=2", "external", true},
		{"exact match after entity decoding", "https://example.com/a?x=1&amp;y=2", "external", true},
		{"exact needs full url", "https://example.com/a", "external", false},
		{"domain match", "https://blocked.example/anything", "external", true},
		{"domain match is case-insensitive on host", "https://BLOCKED.example/", "external", true},
		{"domain rule target contains host", "http://partial.example/", "external", true},
		{"subdomain does not match", "https://sub.blocked.example/", "external", false},
		{"link type must match", "https://files.example/x.pdf", "external", false},
		{"other link type", "https://files.example/x.pdf", "file", true},
		{"no host", "mailto:someone", "external", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.IsExcluded(context.Background(), tt.url, tt.linkType))
		})
	}
}

func TestMatcher_ScopeIsPassedToStore(t *testing.T) {
	store := &fakeStore{rules: []models.ExclusionRule{
		{MatchType: models.MatchDomain, LinkType: "external", Target: "scoped.example", ScopePageID: 9},
	}}

	assert.False(t, NewMatcher(store, 3, logger.NewNop()).IsExcluded(context.Background(), "https://scoped.example/", "external"))
	assert.True(t, NewMatcher(store, 9, logger.NewNop()).IsExcluded(context.Background(), "https://scoped.example/", "external"))
	assert.True(t, NewMatcher(store, 0, logger.NewNop()).IsExcluded(context.Background(), "https://scoped.example/", "external"))
	assert.Equal(t, int64(3), store.filters[0].ScopePageID)
}

func TestMatcher_FailsOpen(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	m := NewMatcher(store, 0, logger.NewNop())
	assert.False(t, m.IsExcluded(context.Background(), "https://example.com/", "external"))
}

func TestHost(t *testing.T) {
	assert.Equal(t, "example.com", Host("https://Example.com:8080/path"))
	assert.Equal(t, "", Host("not a url"))
	assert.Equal(t, "", Host("://broken"))
}
