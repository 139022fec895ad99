package coordinator

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"sync"
	"time"

	"linkcheck/internal/checker"
	"linkcheck/internal/extract"
	"linkcheck/internal/models"
)

type memStore struct {
	mu        sync.Mutex
	entries   map[models.EntryKey]*models.BrokenLinkEntry
	upsertErr error
}

func newMemStore() *memStore {
	return &memStore{entries: map[models.EntryKey]*models.BrokenLinkEntry{}}
}

func (m *memStore) put(e *models.BrokenLinkEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Key()] = e
}

func (m *memStore) all() []models.BrokenLinkEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.BrokenLinkEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

func (m *memStore) UpsertBrokenLink(_ context.Context, e *models.BrokenLinkEntry) (bool, error) {
	if m.upsertErr != nil {
		return false, m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.entries[e.Key()]
	cp := *e
	m.entries[e.Key()] = &cp
	return !exists, nil
}

func (m *memStore) UpdateBrokenLinksForURL(_ context.Context, target, linkType string, rec *models.ResponseRecord, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.entries {
		if e.URL == target && e.LinkType == linkType {
			e.Status = rec.Status
			e.Response = rec
			e.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

func (m *memStore) TouchBrokenLinks(_ context.Context, keys []models.EntryKey, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if e, ok := m.entries[k]; ok {
			e.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

func (m *memStore) removeWhere(match func(*models.BrokenLinkEntry) bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, e := range m.entries {
		if match(e) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

func (m *memStore) RemoveBrokenLinksForRecord(_ context.Context, table string, recordID int64) (int64, error) {
	return m.removeWhere(func(e *models.BrokenLinkEntry) bool {
		return e.SourceTable == table && e.SourceRecordID == recordID
	}), nil
}

func (m *memStore) RemoveBrokenLinkForRecordURL(_ context.Context, table string, recordID int64, target, linkType string) (int64, error) {
	return m.removeWhere(func(e *models.BrokenLinkEntry) bool {
		return e.SourceTable == table && e.SourceRecordID == recordID && e.URL == target && e.LinkType == linkType
	}), nil
}

func (m *memStore) RemoveBrokenLinksForRecordBefore(_ context.Context, table string, recordID int64, before time.Time) (int64, error) {
	return m.removeWhere(func(e *models.BrokenLinkEntry) bool {
		return e.SourceTable == table && e.SourceRecordID == recordID && e.UpdatedAt.Before(before)
	}), nil
}

func (m *memStore) RemoveBrokenLinksForPagesBefore(_ context.Context, pageIDs []int64, linkTypes []string, before time.Time) (int64, error) {
	return m.removeWhere(func(e *models.BrokenLinkEntry) bool {
		return (len(pageIDs) == 0 || containsInt(pageIDs, e.PageID)) &&
			containsString(linkTypes, e.LinkType) &&
			e.UpdatedAt.Before(before)
	}), nil
}

func (m *memStore) RemoveBrokenLinksForLinkTarget(_ context.Context, target, linkType string, match models.MatchType, _ int64) (int64, error) {
	return m.removeWhere(func(e *models.BrokenLinkEntry) bool {
		if e.LinkType != linkType {
			return false
		}
		if match == models.MatchExact {
			return e.URL == target
		}
		u, err := url.Parse(e.URL)
		return err == nil && u.Hostname() == target
	}), nil
}

func containsInt(list []int64, v int64) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

type memSource struct {
	records []models.ContentRecord
}

func (s *memSource) Candidates(_ context.Context, pageIDs []int64, linkTypes []string) ([]models.LinkCandidate, error) {
	var out []models.LinkCandidate
	for _, r := range s.records {
		if len(pageIDs) > 0 && !containsInt(pageIDs, r.PageID) {
			continue
		}
		cands, err := extract.Candidates(r)
		if err != nil {
			return nil, err
		}
		for _, c := range cands {
			if containsString(linkTypes, c.LinkType) {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (s *memSource) RecordLinks(_ context.Context, table string, recordID int64) ([]models.LinkCandidate, bool, error) {
	var out []models.LinkCandidate
	found := false
	for _, r := range s.records {
		if r.SourceTable == table && r.RecordID == recordID {
			found = true
			cands, err := extract.Candidates(r)
			if err != nil {
				return nil, false, err
			}
			out = append(out, cands...)
		}
	}
	return out, found, nil
}

func (s *memSource) RecordContains(_ context.Context, table string, recordID int64, target string) (bool, error) {
	for _, r := range s.records {
		if r.SourceTable == table && r.RecordID == recordID && extract.Contains(r, target) {
			return true, nil
		}
	}
	return false, nil
}

type fakeResult struct {
	rec *models.ResponseRecord
	err error
}

type fakeChecker struct {
	mu      sync.Mutex
	results map[string]fakeResult
	calls   []string
	flags   []checker.Flags
}

func newFakeChecker() *fakeChecker {
	return &fakeChecker{results: map[string]fakeResult{}}
}

func (f *fakeChecker) set(url string, rec *models.ResponseRecord, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[url] = fakeResult{rec: rec, err: err}
}

func (f *fakeChecker) CheckLink(ctx context.Context, url string, _ models.LinkCandidate, flags checker.Flags) (*models.ResponseRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	f.flags = append(f.flags, flags)
	r, ok := f.results[url]
	if !ok {
		return models.NewOKRecord(time.Now()), nil
	}
	return r.rec, r.err
}

type countingResetter struct{ calls int }

func (c *countingResetter) ClearIndefinite(context.Context) int {
	c.calls++
	return 0
}

type memCache struct {
	removed []string
}

func (m *memCache) HasEntry(context.Context, string, string, bool, time.Duration) (bool, error) {
	return false, nil
}

func (m *memCache) GetResponse(context.Context, string, string, time.Duration) (*models.ResponseRecord, error) {
	return nil, nil
}

func (m *memCache) SetResult(context.Context, string, string, *models.ResponseRecord) error {
	return nil
}

func (m *memCache) Remove(_ context.Context, url, _ string) error {
	m.removed = append(m.removed, url)
	return nil
}

var errStore = errors.New("store down")
