package models

// LinkCandidate is a link found in a content record, ready to be checked.
type LinkCandidate struct {
	URL            string         `json:"url"`
	LinkType       string         `json:"link_type"`
	SourceTable    string         `json:"source_table"`
	SourceRecordID int64          `json:"source_record_id"`
	PageID         int64          `json:"page_id"`
	Field          string         `json:"field"`
	LinkTitle      string         `json:"link_title"`
	Custom         map[string]any `json:"custom,omitempty"`
}

// Key returns the broken-link dedup key for this occurrence.
func (c LinkCandidate) Key() EntryKey {
	return EntryKey{SourceTable: c.SourceTable, SourceRecordID: c.SourceRecordID, Field: c.Field, URL: c.URL}
}

// Content types stored on a ContentRecord.
const (
	ContentHTML = "html"
	ContentText = "text"
	ContentLink = "link"
)

// ContentRecord is one field of a content element that may contain links.
type ContentRecord struct {
	SourceTable string `json:"source_table"`
	RecordID    int64  `json:"record_id"`
	PageID      int64  `json:"page_id"`
	Field       string `json:"field"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	ContentType string `json:"content_type"`
	Deleted     bool   `json:"deleted"`
}
