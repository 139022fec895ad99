// Package cache stores check results per (url, link type) so a target is
// probed at most once per freshness window.
package cache

import (
	"context"
	"time"

	"linkcheck/internal/models"
)

// ResultCache is the persistent result store consulted before probing.
// Implementations treat unreadable entries as misses.
type ResultCache interface {
	// HasEntry reports whether a fresh entry exists. With useExpire false the
	// age of the entry is ignored.
	HasEntry(ctx context.Context, url, linkType string, useExpire bool, expire time.Duration) (bool, error)
	// GetResponse returns the fresh cached record, or nil on a miss.
	GetResponse(ctx context.Context, url, linkType string, expire time.Duration) (*models.ResponseRecord, error)
	// SetResult upserts the record for (url, linkType).
	SetResult(ctx context.Context, url, linkType string, rec *models.ResponseRecord) error
	Remove(ctx context.Context, url, linkType string) error
}

// Freshness decides whether an entry checked at lastCheck is still usable.
type Freshness struct {
	// DefaultExpire applies when the caller passes expire <= 0.
	DefaultExpire time.Duration
	Now           func() time.Time
}

// IsFresh applies the freshness rule: a never-checked entry (lastCheck 0) is
// never fresh, and an effective expiry <= 0 disables the age check.
func (f Freshness) IsFresh(lastCheck int64, expire time.Duration) bool {
	if lastCheck == 0 {
		return false
	}
	effective := expire
	if effective <= 0 {
		effective = f.DefaultExpire
	}
	if effective <= 0 {
		return true
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	age := now().Sub(time.Unix(lastCheck, 0))
	return age < effective
}

func lastCheckOf(rec *models.ResponseRecord, now time.Time) int64 {
	if rec.LastChecked.IsZero() {
		return now.Unix()
	}
	return rec.LastChecked.Unix()
}
