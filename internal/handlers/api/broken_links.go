package api

import (
	"context"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"

	"linkcheck/internal/db"
	"linkcheck/internal/logger"
	"linkcheck/internal/models"
	"linkcheck/internal/validation"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// BrokenLinkStore reads stored check results.
type BrokenLinkStore interface {
	ListBrokenLinks(ctx context.Context, f db.BrokenLinkFilter) ([]models.BrokenLinkEntry, error)
	CountBrokenLinks(ctx context.Context, f db.BrokenLinkFilter) (int64, error)
}

// BrokenLinkHandler serves the broken link report.
type BrokenLinkHandler struct {
	store BrokenLinkStore
	log   logger.Logger
}

// NewBrokenLinkHandler creates a new broken link handler.
func NewBrokenLinkHandler(store BrokenLinkStore, log logger.Logger) *BrokenLinkHandler {
	return &BrokenLinkHandler{store: store, log: log}
}

// List returns stored results matching the query filters, paginated.
func (h *BrokenLinkHandler) List(c fiber.Ctx) error {
	filter, msg := parseBrokenLinkFilter(c)
	if msg != "" {
		return jsonError(c, fiber.StatusBadRequest, msg)
	}

	total, err := h.store.CountBrokenLinks(c.Context(), filter)
	if err != nil {
		h.log.Error("Failed to count broken links", logger.Error(err))
		return jsonError(c, fiber.StatusInternalServerError, "failed to fetch broken links")
	}
	entries, err := h.store.ListBrokenLinks(c.Context(), filter)
	if err != nil {
		h.log.Error("Failed to list broken links", logger.Error(err))
		return jsonError(c, fiber.StatusInternalServerError, "failed to fetch broken links")
	}
	if entries == nil {
		entries = []models.BrokenLinkEntry{}
	}

	return jsonSuccess(c, fiber.Map{
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
		"items":  entries,
	})
}

func parseBrokenLinkFilter(c fiber.Ctx) (db.BrokenLinkFilter, string) {
	f := db.BrokenLinkFilter{
		SourceTable: c.Query("sourceTable"),
		URL:         c.Query("url"),
		URLMatch:    c.Query("urlMatch", db.URLMatchPartial),
		OrderBy:     c.Query("order", "url"),
		Desc:        c.Query("desc") == "true",
		Limit:       defaultPageSize,
	}

	pages, ok := validation.ParseIDList(c.Query("pages"))
	if !ok {
		return f, "pages must be a comma-separated list of ids"
	}
	f.PageIDs = pages

	if lt := c.Query("linkType"); lt != "" {
		if !validation.ValidateLinkType(lt) {
			return f, "invalid link type"
		}
		f.LinkTypes = []string{lt}
	}

	if raw := c.Query("status"); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			st, err := models.ParseStatus(tag)
			if err != nil {
				return f, err.Error()
			}
			f.Statuses = append(f.Statuses, st)
		}
	}

	switch f.URLMatch {
	case db.URLMatchPartial, db.URLMatchExact, db.URLMatchPartialNot, db.URLMatchExactNot:
	default:
		return f, "urlMatch must be partial, exact, partialnot or exactnot"
	}

	if raw := c.Query("recordId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			return f, "invalid recordId"
		}
		f.RecordID = id
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return f, "invalid limit"
		}
		f.Limit = min(n, maxPageSize)
	}
	if raw := c.Query("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, "invalid offset"
		}
		f.Offset = n
	}
	return f, ""
}
