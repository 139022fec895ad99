package api

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"linkcheck/internal/db"
	"linkcheck/internal/logger"
	"linkcheck/internal/models"
	"linkcheck/internal/validation"
)

// ExclusionStore persists exclusion rules.
type ExclusionStore interface {
	ListExclusionRules(ctx context.Context, f db.ExclusionFilter) ([]models.ExclusionRule, error)
	CreateExclusionRule(ctx context.Context, r *models.ExclusionRule) error
	DeleteExclusionRule(ctx context.Context, id uuid.UUID) error
}

// ExclusionApplier removes stored results a new rule covers.
type ExclusionApplier interface {
	ApplyExclusion(ctx context.Context, rule models.ExclusionRule) (int64, error)
}

// ExclusionHandler administers exclusion rules.
type ExclusionHandler struct {
	store   ExclusionStore
	applier ExclusionApplier
	log     logger.Logger
}

// NewExclusionHandler creates a new exclusion handler.
func NewExclusionHandler(store ExclusionStore, applier ExclusionApplier, log logger.Logger) *ExclusionHandler {
	return &ExclusionHandler{store: store, applier: applier, log: log}
}

// List returns the rules, optionally filtered by link type and scope.
func (h *ExclusionHandler) List(c fiber.Ctx) error {
	f := db.ExclusionFilter{LinkType: c.Query("linkType")}
	if raw := c.Query("scope"); raw != "" {
		scope, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return jsonError(c, fiber.StatusBadRequest, "invalid scope")
		}
		f.ScopePageID = scope
	}

	rules, err := h.store.ListExclusionRules(c.Context(), f)
	if err != nil {
		h.log.Error("Failed to list exclusion rules", logger.Error(err))
		return jsonError(c, fiber.StatusInternalServerError, "failed to fetch exclusion rules")
	}
	if rules == nil {
		rules = []models.ExclusionRule{}
	}
	return jsonSuccess(c, rules)
}

// Create stores a rule and drops the stored results it covers.
func (h *ExclusionHandler) Create(c fiber.Ctx) error {
	var body struct {
		MatchType   string `json:"matchType"`
		LinkType    string `json:"linkType"`
		Target      string `json:"target"`
		ScopePageID int64  `json:"scopePageId"`
		Reason      string `json:"reason"`
	}
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid request body")
	}

	match, err := models.ParseMatchType(body.MatchType)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "matchType must be exact or domain")
	}
	if valid, msg := validation.ValidateExclusionTarget(match, body.Target); !valid {
		return jsonError(c, fiber.StatusBadRequest, msg)
	}
	if body.LinkType == "" {
		body.LinkType = "external"
	}
	if !validation.ValidateLinkType(body.LinkType) {
		return jsonError(c, fiber.StatusBadRequest, "invalid link type")
	}

	rule := &models.ExclusionRule{
		MatchType:   match,
		LinkType:    body.LinkType,
		Target:      strings.TrimSpace(body.Target),
		ScopePageID: body.ScopePageID,
		Reason:      body.Reason,
	}
	if match == models.MatchDomain {
		rule.Target = strings.ToLower(rule.Target)
	}

	if err := h.store.CreateExclusionRule(c.Context(), rule); err != nil {
		if errors.Is(err, db.ErrDuplicateRule) {
			return jsonError(c, fiber.StatusConflict, "exclusion rule already exists")
		}
		h.log.Error("Failed to create exclusion rule", logger.Error(err))
		return jsonError(c, fiber.StatusInternalServerError, "failed to create exclusion rule")
	}

	removed, err := h.applier.ApplyExclusion(c.Context(), *rule)
	if err != nil {
		// the rule is stored; the next pass removes what this could not
		h.log.Warn("Failed to apply exclusion", logger.String("target", rule.Target), logger.Error(err))
	}

	c.Status(fiber.StatusCreated)
	return jsonSuccess(c, fiber.Map{
		"rule":    rule,
		"removed": removed,
	})
}

// Delete removes a rule by id.
func (h *ExclusionHandler) Delete(c fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid exclusion id")
	}

	if err := h.store.DeleteExclusionRule(c.Context(), id); err != nil {
		if errors.Is(err, db.ErrExclusionNotFound) {
			return jsonError(c, fiber.StatusNotFound, "exclusion rule not found")
		}
		h.log.Error("Failed to delete exclusion rule", logger.Error(err))
		return jsonError(c, fiber.StatusInternalServerError, "failed to delete exclusion rule")
	}

	return jsonSuccess(c, fiber.Map{"deleted": id})
}
