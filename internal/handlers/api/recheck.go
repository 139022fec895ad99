package api

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v3"

	"linkcheck/internal/checker"
	"linkcheck/internal/coordinator"
	"linkcheck/internal/logger"
	"linkcheck/internal/models"
	"linkcheck/internal/validation"
)

// Rechecker re-checks single URLs or records on demand.
type Rechecker interface {
	RecheckURL(ctx context.Context, req coordinator.RecheckRequest) (*models.ResponseRecord, error)
	RecheckRecord(ctx context.Context, table string, recordID int64) (*coordinator.Statistics, error)
}

// RecheckHandler serves on-demand re-checks.
type RecheckHandler struct {
	rechecker    Rechecker
	blockPrivate bool
	log          logger.Logger
}

// NewRecheckHandler creates a new recheck handler.
func NewRecheckHandler(rechecker Rechecker, blockPrivate bool, log logger.Logger) *RecheckHandler {
	return &RecheckHandler{rechecker: rechecker, blockPrivate: blockPrivate, log: log}
}

// Recheck checks a URL right away, or every link of a record when only the
// record is given.
func (h *RecheckHandler) Recheck(c fiber.Ctx) error {
	var req coordinator.RecheckRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if req.URL == "" && req.SourceTable != "" && req.RecordID > 0 {
		stats, err := h.rechecker.RecheckRecord(c.Context(), req.SourceTable, req.RecordID)
		if err != nil {
			h.log.Error("Record recheck failed",
				logger.String("source_table", req.SourceTable),
				logger.Int64("record_id", req.RecordID),
				logger.Error(err),
			)
			return jsonError(c, fiber.StatusInternalServerError, "failed to recheck record")
		}
		return jsonSuccess(c, stats)
	}

	if valid, msg := validation.ValidateRecheckTarget(req.URL, h.blockPrivate); !valid {
		return jsonError(c, fiber.StatusBadRequest, msg)
	}
	if req.LinkType != "" && !validation.ValidateLinkType(req.LinkType) {
		return jsonError(c, fiber.StatusBadRequest, "invalid link type")
	}

	rec, err := h.rechecker.RecheckURL(c.Context(), req)
	if err != nil {
		if errors.Is(err, checker.ErrUnknownLinkType) {
			return jsonError(c, fiber.StatusBadRequest, "unknown link type")
		}
		h.log.Error("URL recheck failed", logger.String("url", req.URL), logger.Error(err))
		return jsonError(c, fiber.StatusInternalServerError, "failed to recheck url")
	}

	return jsonSuccess(c, fiber.Map{
		"url":     req.URL,
		"status":  rec.Status.String(),
		"message": rec.Message(),
		"result":  rec,
	})
}
