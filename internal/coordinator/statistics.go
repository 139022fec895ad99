package coordinator

import (
	"sync"
	"time"

	"linkcheck/internal/models"
)

// Statistics summarises a checking pass.
type Statistics struct {
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	PagesChecked int            `json:"pages_checked"`
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"by_status"`
	NewBroken    int            `json:"new_broken"`
	// Skipped counts candidates deferred because their domain was suspended.
	Skipped int   `json:"skipped"`
	Removed int64 `json:"removed"`
}

func newStatistics(start time.Time) *Statistics {
	return &Statistics{StartedAt: start, ByStatus: make(map[string]int)}
}

// Count returns the number of results with status s.
func (s *Statistics) Count(st models.Status) int {
	return s.ByStatus[st.String()]
}

// CountChecked is the number of results that were actually verified.
func (s *Statistics) CountChecked() int {
	return s.Total - s.Count(models.StatusExcluded) - s.Count(models.StatusCannotCheck) - s.Count(models.StatusUnknown)
}

// Percent returns the share of results with status st, from 0 to 100.
func (s *Statistics) Percent(st models.Status) float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Count(st)) * 100 / float64(s.Total)
}

// Duration is the wall time of the pass, or zero while it runs.
func (s *Statistics) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// tally collects results from concurrent workers.
type tally struct {
	mu    sync.Mutex
	stats *Statistics
	// deferred entries must survive stale-entry reconciliation
	deferred []models.EntryKey
}

func (t *tally) add(st models.Status, newBroken bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Total++
	t.stats.ByStatus[st.String()]++
	if newBroken {
		t.stats.NewBroken++
	}
}

func (t *tally) skip(key models.EntryKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Skipped++
	t.deferred = append(t.deferred, key)
}
