package models

import (
	"crypto/sha1"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// BrokenLinkEntry is a persisted check result for one link occurrence.
type BrokenLinkEntry struct {
	ID                uuid.UUID       `json:"id"`
	SourceTable       string          `json:"source_table"`
	SourceRecordID    int64           `json:"source_record_id"`
	PageID            int64           `json:"page_id"`
	Field             string          `json:"field"`
	LinkType          string          `json:"link_type"`
	LinkTitle         string          `json:"link_title"`
	URL               string          `json:"url"`
	URLHash           string          `json:"url_hash"`
	Status            Status          `json:"status"`
	Response          *ResponseRecord `json:"response"`
	ExclusionScope    int64           `json:"exclusion_scope"`
	LastCheckedURL    *time.Time      `json:"last_checked_url"`
	LastCheckedRecord *time.Time      `json:"last_checked_record"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// EntryKey identifies one link occurrence inside a record field.
type EntryKey struct {
	SourceTable    string
	SourceRecordID int64
	Field          string
	URL            string
}

// Key returns the entry's dedup key.
func (e *BrokenLinkEntry) Key() EntryKey {
	return EntryKey{SourceTable: e.SourceTable, SourceRecordID: e.SourceRecordID, Field: e.Field, URL: e.URL}
}

// HashURL returns the hex sha1 used to look entries up by URL.
func HashURL(url string) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}
