// handlers/workflow_routes.go
package handlers

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"nft-reward-system/services"
	"nft-reward-system/workflow"
)

// statusStreamInterval is how often a status event stream re-reads the view.
const statusStreamInterval = 2 * time.Second

type WorkflowHandlers struct {
	Workflows   *services.WorkflowService
	Status      *services.StatusService
	Eligibility *services.EligibilityService
}

// SetupWorkflowRoutes registers trigger, status and operator routes. admin
// must already carry the admin role check.
func SetupWorkflowRoutes(app fiber.Router, admin fiber.Router, h *WorkflowHandlers) {
	app.Post("/internal/eligibilities", h.createEligibility)
	app.Post("/mint-workflows", h.createMint)
	app.Post("/forge-workflows", h.createForge)
	app.Get("/workflows/:id/status", h.getStatus)
	app.Get("/workflows/:id/events", h.streamStatus)
	app.Post("/workflows/:id/cancel", h.cancel)

	admin.Get("/workflows/remediation", h.listRemediation)
	admin.Get("/workflows/:id/history", h.getHistory)
}

func (h *WorkflowHandlers) createEligibility(c *fiber.Ctx) error {
	var req services.NewEligibility
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	e, err := h.Eligibility.Create(c.UserContext(), req)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(e)
}

func (h *WorkflowHandlers) createMint(c *fiber.Ctx) error {
	var req struct {
		EligibilityID string `json:"eligibility_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if strings.TrimSpace(req.EligibilityID) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "eligibility_id is required"})
	}

	inst, err := h.Workflows.CreateMintWorkflow(c.UserContext(), req.EligibilityID)
	if err != nil {
		var inProgress *services.WorkflowInProgressError
		var pending *services.RemediationPendingError
		switch {
		case errors.As(err, &inProgress):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":       "a mint is already in progress for this eligibility",
				"workflow_id": inProgress.WorkflowID,
			})
		case errors.As(err, &pending):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":       "an earlier mint for this eligibility is awaiting support review",
				"workflow_id": pending.WorkflowID,
			})
		case errors.Is(err, services.ErrEligibilityNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "eligibility not found"})
		}
		log.Printf("[MINT] ❌ create workflow for %s: %v", req.EligibilityID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to start mint"})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"workflow_id": inst.ID})
}

func (h *WorkflowHandlers) createForge(c *fiber.Ctx) error {
	var req services.NewForgeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
	}
	if userID, _ := c.Locals("user_id").(string); userID != "" {
		if req.PlayerID == "" {
			req.PlayerID = userID
		} else if req.PlayerID != userID {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "player_id does not match the authenticated user"})
		}
	}

	inst, fr, err := h.Workflows.CreateForgeWorkflow(c.UserContext(), req)
	if err != nil {
		if errors.Is(err, services.ErrForgeRequestInvalid) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		log.Printf("[FORGE] ❌ create workflow for %s: %v", req.PlayerID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to start forge"})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"workflow_id":      inst.ID,
		"forge_request_id": fr.ID,
	})
}

func (h *WorkflowHandlers) getStatus(c *fiber.Ctx) error {
	view, err := h.Status.GetStatus(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "workflow not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load status"})
	}
	return c.JSON(view)
}

func (h *WorkflowHandlers) streamStatus(c *fiber.Ctx) error {
	err := h.Status.StreamStatusSSE(c, c.Params("id"), statusStreamInterval)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "workflow not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load status"})
	}
	return nil
}

func (h *WorkflowHandlers) cancel(c *fiber.Ctx) error {
	var req struct {
		Reason string `json:"reason"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON", "details": err.Error()})
		}
	}

	id := c.Params("id")
	_, err := h.Workflows.Cancel(c.UserContext(), id, req.Reason)
	switch {
	case err == nil:
		view, err := h.Status.GetStatus(c.UserContext(), id)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load status"})
		}
		return c.JSON(view)
	case errors.Is(err, workflow.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "workflow not found"})
	case errors.Is(err, workflow.ErrCancelNotAllowed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "this request can no longer be cancelled"})
	case errors.Is(err, workflow.ErrAlreadyTerminal):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "this request has already finished"})
	case errors.Is(err, workflow.ErrInstanceBusy):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "request is being processed, try again"})
	}
	log.Printf("[ENGINE] ❌ cancel %s: %v", id, err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to cancel"})
}

func (h *WorkflowHandlers) getHistory(c *fiber.Ctx) error {
	records, err := h.Workflows.History(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "workflow not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load history"})
	}
	return c.JSON(fiber.Map{"workflow_id": c.Params("id"), "history": records})
}

func (h *WorkflowHandlers) listRemediation(c *fiber.Ctx) error {
	items, err := h.Workflows.Remediation(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list workflows"})
	}
	return c.JSON(fiber.Map{"workflows": items, "count": len(items)})
}
