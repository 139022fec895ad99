// Package linksource discovers link candidates in stored content records.
package linksource

import (
	"context"
	"fmt"

	"linkcheck/internal/extract"
	"linkcheck/internal/logger"
	"linkcheck/internal/models"
)

// ContentStore reads content records.
type ContentStore interface {
	ListContentRecords(ctx context.Context, pageIDs []int64) ([]models.ContentRecord, error)
	GetRecordContent(ctx context.Context, table string, recordID int64) ([]models.ContentRecord, error)
}

// Source extracts candidates from a ContentStore.
type Source struct {
	store ContentStore
	log   logger.Logger
}

// New returns a Source over store.
func New(store ContentStore, log logger.Logger) *Source {
	return &Source{store: store, log: log}
}

// Candidates returns the links on the given pages (all pages when empty)
// whose link type is in linkTypes (all types when empty). Records whose body
// cannot be parsed are logged and skipped.
func (s *Source) Candidates(ctx context.Context, pageIDs []int64, linkTypes []string) ([]models.LinkCandidate, error) {
	records, err := s.store.ListContentRecords(ctx, pageIDs)
	if err != nil {
		return nil, fmt.Errorf("list content records: %w", err)
	}
	return s.extract(records, linkTypes), nil
}

// RecordLinks returns the current links of one record. found is false when
// the record no longer exists.
func (s *Source) RecordLinks(ctx context.Context, table string, recordID int64) (links []models.LinkCandidate, found bool, err error) {
	records, err := s.store.GetRecordContent(ctx, table, recordID)
	if err != nil {
		return nil, false, fmt.Errorf("get record content: %w", err)
	}
	if len(records) == 0 {
		return nil, false, nil
	}
	return s.extract(records, nil), true, nil
}

// RecordContains reports whether target still occurs in the record.
func (s *Source) RecordContains(ctx context.Context, table string, recordID int64, target string) (bool, error) {
	records, err := s.store.GetRecordContent(ctx, table, recordID)
	if err != nil {
		return false, fmt.Errorf("get record content: %w", err)
	}
	for _, rec := range records {
		if extract.Contains(rec, target) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Source) extract(records []models.ContentRecord, linkTypes []string) []models.LinkCandidate {
	var out []models.LinkCandidate
	for _, rec := range records {
		candidates, err := extract.Candidates(rec)
		if err != nil {
			s.log.Warn("Skipping unparseable content",
				logger.String("table", rec.SourceTable),
				logger.Int64("record_id", rec.RecordID),
				logger.String("field", rec.Field),
				logger.Error(err),
			)
			continue
		}
		for _, c := range candidates {
			if wanted(c.LinkType, linkTypes) {
				out = append(out, c)
			}
		}
	}
	return out
}

func wanted(linkType string, linkTypes []string) bool {
	if len(linkTypes) == 0 {
		return true
	}
	for _, t := range linkTypes {
		if t == linkType {
			return true
		}
	}
	return false
}
