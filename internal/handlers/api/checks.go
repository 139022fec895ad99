package api

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v3"

	"linkcheck/internal/checker"
	"linkcheck/internal/coordinator"
	"linkcheck/internal/jobs"
	"linkcheck/internal/logger"
	"linkcheck/internal/validation"
)

// PassRunner starts background checking passes.
type PassRunner interface {
	Trigger(req coordinator.PassRequest) error
	Status() jobs.Status
}

// ChecksHandler starts checking passes and reports on them.
type ChecksHandler struct {
	runner PassRunner
	log    logger.Logger
}

// NewChecksHandler creates a new checks handler.
func NewChecksHandler(runner PassRunner, log logger.Logger) *ChecksHandler {
	return &ChecksHandler{runner: runner, log: log}
}

// Start begins a pass in the background. Responds 409 while one is running.
func (h *ChecksHandler) Start(c fiber.Ctx) error {
	var body struct {
		PageIDs        []int64  `json:"pageIds"`
		LinkTypes      []string `json:"linkTypes"`
		NoCache        bool     `json:"noCache"`
		NoCacheOnError bool     `json:"noCacheOnError"`
	}
	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return jsonError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}
	for _, lt := range body.LinkTypes {
		if !validation.ValidateLinkType(lt) {
			return jsonError(c, fiber.StatusBadRequest, "invalid link type "+lt)
		}
	}

	var flags checker.Flags
	if body.NoCache {
		flags |= checker.NoCache
	}
	if body.NoCacheOnError {
		flags |= checker.NoCacheOnError
	}

	err := h.runner.Trigger(coordinator.PassRequest{PageIDs: body.PageIDs, LinkTypes: body.LinkTypes, Flags: flags})
	if errors.Is(err, jobs.ErrPassRunning) {
		return jsonError(c, fiber.StatusConflict, "a checking pass is already running")
	}
	if err != nil {
		h.log.Error("Failed to start pass", logger.Error(err))
		return jsonError(c, fiber.StatusInternalServerError, "failed to start checking pass")
	}

	c.Status(fiber.StatusAccepted)
	return jsonSuccess(c, fiber.Map{"started": true})
}

// Last reports the running state and statistics of the latest pass.
func (h *ChecksHandler) Last(c fiber.Ctx) error {
	return jsonSuccess(c, h.runner.Status())
}
