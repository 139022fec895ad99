// Package coordinator runs checking passes over discovered links and keeps
// the broken-link store in step with the results.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"linkcheck/internal/cache"
	"linkcheck/internal/checker"
	"linkcheck/internal/logger"
	"linkcheck/internal/metrics"
	"linkcheck/internal/models"
)

// LinkSource discovers link candidates.
type LinkSource interface {
	Candidates(ctx context.Context, pageIDs []int64, linkTypes []string) ([]models.LinkCandidate, error)
	RecordLinks(ctx context.Context, table string, recordID int64) ([]models.LinkCandidate, bool, error)
	RecordContains(ctx context.Context, table string, recordID int64, target string) (bool, error)
}

// Store is the broken-link store.
type Store interface {
	UpsertBrokenLink(ctx context.Context, e *models.BrokenLinkEntry) (bool, error)
	UpdateBrokenLinksForURL(ctx context.Context, target, linkType string, rec *models.ResponseRecord, at time.Time) (int64, error)
	TouchBrokenLinks(ctx context.Context, keys []models.EntryKey, at time.Time) (int64, error)
	RemoveBrokenLinksForRecord(ctx context.Context, table string, recordID int64) (int64, error)
	RemoveBrokenLinkForRecordURL(ctx context.Context, table string, recordID int64, target, linkType string) (int64, error)
	RemoveBrokenLinksForRecordBefore(ctx context.Context, table string, recordID int64, before time.Time) (int64, error)
	RemoveBrokenLinksForPagesBefore(ctx context.Context, pageIDs []int64, linkTypes []string, before time.Time) (int64, error)
	RemoveBrokenLinksForLinkTarget(ctx context.Context, target, linkType string, match models.MatchType, scope int64) (int64, error)
}

// SuspensionResetter lifts pass-long domain suspensions.
type SuspensionResetter interface {
	ClearIndefinite(ctx context.Context) int
}

// Options tune a Coordinator.
type Options struct {
	Workers int
	// ShowAll persists every result, Ok included.
	ShowAll bool
	// ExclusionScope is the exclusion rule scope in effect (0 = all rules).
	ExclusionScope int64
	// Cache, when set, loses exact targets of newly applied exclusions.
	Cache cache.ResultCache
	// Throttle, when set, has its pass-long suspensions cleared after each pass.
	Throttle SuspensionResetter
}

// PassRequest selects what a pass checks. Empty slices mean everything.
type PassRequest struct {
	PageIDs   []int64
	LinkTypes []string
	Flags     checker.Flags
}

// RecheckRequest identifies one link occurrence to check again.
type RecheckRequest struct {
	URL         string `json:"url"`
	LinkType    string `json:"linkType"`
	SourceTable string `json:"sourceTable"`
	RecordID    int64  `json:"recordId"`
	PageID      int64  `json:"pageId"`
	Field       string `json:"field"`
}

// recheckFlags bypass the throttle and the cache, as a user is waiting.
const recheckFlags = checker.NoCrawlDelay | checker.NoCache | checker.Synchronous

// Coordinator drives checks and persists their results.
type Coordinator struct {
	registry *checker.Registry
	source   LinkSource
	store    Store
	opts     Options
	log      logger.Logger
	now      func() time.Time
}

// New returns a Coordinator.
func New(registry *checker.Registry, source LinkSource, store Store, log logger.Logger, opts Options) *Coordinator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Coordinator{
		registry: registry,
		source:   source,
		store:    store,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// Run checks every candidate selected by req. Domains are checked in
// parallel, each domain's links one after another. Once all checks finish,
// stored entries of the selected pages that this pass did not touch are
// deleted. Per-link failures are logged; ctx cancellation and store errors
// abort the pass before that reconciliation.
func (c *Coordinator) Run(ctx context.Context, req PassRequest) (*Statistics, error) {
	start := c.now()
	stats := newStatistics(start)

	linkTypes := req.LinkTypes
	if len(linkTypes) == 0 {
		linkTypes = c.registry.Types()
	}

	candidates, err := c.source.Candidates(ctx, req.PageIDs, linkTypes)
	if err != nil {
		return nil, fmt.Errorf("discover links: %w", err)
	}
	stats.PagesChecked = countPages(candidates)

	c.log.Info("Checking pass started",
		logger.Int("candidates", len(candidates)),
		logger.Int("pages", stats.PagesChecked),
		logger.Strings("link_types", linkTypes),
	)

	t := &tally{stats: stats}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for _, group := range groupByDomain(candidates) {
		g.Go(func() error {
			for _, cand := range group {
				if err := c.checkCandidate(gctx, cand, req.Flags, t); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	if len(t.deferred) > 0 {
		if _, err := c.store.TouchBrokenLinks(ctx, t.deferred, c.now()); err != nil {
			return stats, fmt.Errorf("keep deferred entries: %w", err)
		}
	}

	removed, err := c.store.RemoveBrokenLinksForPagesBefore(ctx, req.PageIDs, linkTypes, start)
	if err != nil {
		return stats, fmt.Errorf("remove stale entries: %w", err)
	}
	stats.Removed = removed

	if c.opts.Throttle != nil {
		c.opts.Throttle.ClearIndefinite(ctx)
	}

	stats.FinishedAt = c.now()
	metrics.ObservePass(stats.Duration())
	c.log.Info("Checking pass finished",
		logger.Int("total", stats.Total),
		logger.Int("broken", stats.Count(models.StatusBroken)),
		logger.Int("new_broken", stats.NewBroken),
		logger.Int("skipped", stats.Skipped),
		logger.Int64("removed", stats.Removed),
		logger.Duration("duration", stats.Duration()),
	)
	return stats, nil
}

// checkCandidate checks one occurrence and persists the result. It only
// returns errors that should stop the pass.
func (c *Coordinator) checkCandidate(ctx context.Context, cand models.LinkCandidate, flags checker.Flags, t *tally) error {
	chk, err := c.registry.Get(cand.LinkType)
	if err != nil {
		c.log.Warn("No checker for link type", logger.String("link_type", cand.LinkType), logger.String("url", cand.URL))
		return nil
	}

	rec, err := chk.CheckLink(ctx, cand.URL, cand, flags)
	switch {
	case errors.Is(err, checker.ErrSkipped):
		t.skip(cand.Key())
		return nil
	case err != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("Link check failed", logger.String("url", cand.URL), logger.Error(err))
		return nil
	case rec == nil:
		return nil
	}

	rec = promoteCloudflare(rec)
	metrics.RecordCheck(cand.LinkType, rec.Status)

	if !c.persists(rec.Status) {
		t.add(rec.Status, false)
		return nil
	}
	inserted, err := c.store.UpsertBrokenLink(ctx, c.entry(cand, rec))
	if err != nil {
		return fmt.Errorf("store result for %s: %w", cand.URL, err)
	}
	t.add(rec.Status, inserted && rec.Status == models.StatusBroken)
	return nil
}

// persists reports whether results with status st belong in the store.
func (c *Coordinator) persists(st models.Status) bool {
	switch st {
	case models.StatusBroken, models.StatusCannotCheck, models.StatusUnknown:
		return true
	}
	return c.opts.ShowAll
}

func (c *Coordinator) entry(cand models.LinkCandidate, rec *models.ResponseRecord) *models.BrokenLinkEntry {
	now := c.now()
	e := &models.BrokenLinkEntry{
		SourceTable:       cand.SourceTable,
		SourceRecordID:    cand.SourceRecordID,
		PageID:            cand.PageID,
		Field:             cand.Field,
		LinkType:          cand.LinkType,
		LinkTitle:         cand.LinkTitle,
		URL:               cand.URL,
		URLHash:           models.HashURL(cand.URL),
		Status:            rec.Status,
		Response:          rec,
		ExclusionScope:    c.opts.ExclusionScope,
		LastCheckedRecord: &now,
		UpdatedAt:         now,
	}
	if !rec.LastChecked.IsZero() {
		checked := rec.LastChecked
		e.LastCheckedURL = &checked
	}
	return e
}

// RecheckURL checks one URL immediately, bypassing throttle and cache, and
// updates the store: a now-Ok (or excluded) target loses its entries, an
// occurrence no longer in its record is removed, anything else is rewritten.
func (c *Coordinator) RecheckURL(ctx context.Context, req RecheckRequest) (*models.ResponseRecord, error) {
	if req.LinkType == "" {
		req.LinkType = checker.LinkTypeExternal
	}
	chk, err := c.registry.Get(req.LinkType)
	if err != nil {
		return nil, err
	}

	cand := models.LinkCandidate{
		URL:            req.URL,
		LinkType:       req.LinkType,
		SourceTable:    req.SourceTable,
		SourceRecordID: req.RecordID,
		PageID:         req.PageID,
		Field:          req.Field,
	}
	rec, err := chk.CheckLink(ctx, req.URL, cand, recheckFlags)
	if err != nil {
		return nil, fmt.Errorf("recheck %s: %w", req.URL, err)
	}
	rec = promoteCloudflare(rec)
	metrics.RecordCheck(req.LinkType, rec.Status)

	if !c.persists(rec.Status) {
		if _, err := c.store.RemoveBrokenLinksForLinkTarget(ctx, req.URL, req.LinkType, models.MatchExact, -1); err != nil {
			return rec, fmt.Errorf("remove fixed entries: %w", err)
		}
		return rec, nil
	}

	if req.SourceTable != "" && req.RecordID > 0 {
		present, err := c.source.RecordContains(ctx, req.SourceTable, req.RecordID, req.URL)
		if err != nil {
			return rec, err
		}
		if !present {
			if _, err := c.store.RemoveBrokenLinkForRecordURL(ctx, req.SourceTable, req.RecordID, req.URL, req.LinkType); err != nil {
				return rec, fmt.Errorf("remove vanished entry: %w", err)
			}
			return rec, nil
		}
	}

	n, err := c.store.UpdateBrokenLinksForURL(ctx, req.URL, req.LinkType, rec, c.now())
	if err != nil {
		return rec, fmt.Errorf("update entries: %w", err)
	}
	if n == 0 && req.SourceTable != "" && req.RecordID > 0 && req.Field != "" {
		if _, err := c.store.UpsertBrokenLink(ctx, c.entry(cand, rec)); err != nil {
			return rec, fmt.Errorf("store result: %w", err)
		}
	}
	return rec, nil
}

// RecheckRecord re-extracts and re-checks the links of one record, then
// removes that record's entries the re-check did not produce. A record that
// no longer exists loses all of its entries.
func (c *Coordinator) RecheckRecord(ctx context.Context, table string, recordID int64) (*Statistics, error) {
	start := c.now()
	stats := newStatistics(start)

	links, found, err := c.source.RecordLinks(ctx, table, recordID)
	if err != nil {
		return nil, err
	}
	if !found {
		n, err := c.store.RemoveBrokenLinksForRecord(ctx, table, recordID)
		if err != nil {
			return nil, fmt.Errorf("remove entries of vanished record: %w", err)
		}
		stats.Removed = n
		stats.FinishedAt = c.now()
		return stats, nil
	}

	stats.PagesChecked = countPages(links)
	t := &tally{stats: stats}
	for _, cand := range links {
		if err := c.checkCandidate(ctx, cand, checker.NoCrawlDelay|checker.Synchronous, t); err != nil {
			return stats, err
		}
	}
	if len(t.deferred) > 0 {
		if _, err := c.store.TouchBrokenLinks(ctx, t.deferred, c.now()); err != nil {
			return stats, fmt.Errorf("keep deferred entries: %w", err)
		}
	}

	n, err := c.store.RemoveBrokenLinksForRecordBefore(ctx, table, recordID, start)
	if err != nil {
		return stats, fmt.Errorf("remove stale entries: %w", err)
	}
	stats.Removed = n
	stats.FinishedAt = c.now()
	return stats, nil
}

// ApplyExclusion removes stored entries covered by a new exclusion rule so
// the rule takes effect without waiting for the next pass.
func (c *Coordinator) ApplyExclusion(ctx context.Context, rule models.ExclusionRule) (int64, error) {
	if c.opts.ExclusionScope > 0 && rule.ScopePageID != c.opts.ExclusionScope {
		return 0, nil
	}

	n, err := c.store.RemoveBrokenLinksForLinkTarget(ctx, rule.Target, rule.LinkType, rule.MatchType, -1)
	if err != nil {
		return 0, fmt.Errorf("apply exclusion: %w", err)
	}

	if rule.MatchType == models.MatchExact && c.opts.Cache != nil {
		if err := c.opts.Cache.Remove(ctx, rule.Target, rule.LinkType); err != nil {
			c.log.Warn("Failed to drop cached result", logger.String("url", rule.Target), logger.Error(err))
		}
	}

	c.log.Info("Exclusion applied",
		logger.String("match_type", string(rule.MatchType)),
		logger.String("target", rule.Target),
		logger.Int64("removed", n),
	)
	return n, nil
}

// promoteCloudflare turns a result blocked by a Cloudflare challenge into
// Unknown, since the target itself was never seen.
func promoteCloudflare(rec *models.ResponseRecord) *models.ResponseRecord {
	if rec.CannotCheckReason != models.ReasonCloudflare || rec.Status == models.StatusUnknown {
		return rec
	}
	promoted := *rec
	promoted.Status = models.StatusUnknown
	return &promoted
}

// groupByDomain splits candidates by target host, keeping first-seen order.
func groupByDomain(candidates []models.LinkCandidate) [][]models.LinkCandidate {
	index := make(map[string]int)
	var groups [][]models.LinkCandidate
	for _, cand := range candidates {
		d := domainOf(cand.URL)
		i, ok := index[d]
		if !ok {
			i = len(groups)
			index[d] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], cand)
	}
	return groups
}

func domainOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func countPages(candidates []models.LinkCandidate) int {
	pages := make(map[int64]struct{})
	for _, c := range candidates {
		pages[c.PageID] = struct{}{}
	}
	return len(pages)
}
