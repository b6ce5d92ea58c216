package web

import (
	"errors"

	"github.com/dukex/flowline/pkg/auth"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, problemType, detail string) error {
	body := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(status).JSON(body)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func internalError(c fiber.Ctx, err error) error {
	body := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(body)
}

// handleServiceError maps engine and storage errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsInstanceNotFound(err):
		return problem(c, fiber.StatusNotFound, "instance_not_found", "workflow instance not found")
	case persistence.IsTaskNotFound(err):
		return problem(c, fiber.StatusNotFound, "task_not_found", "task instance not found")
	case persistence.IsNotFound(err):
		return problem(c, fiber.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, auth.ErrNoPermission):
		return problem(c, fiber.StatusForbidden, "no_permission", "no permission to operate on this instance")
	case errors.Is(err, models.ErrInvalidTransition):
		return problem(c, fiber.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, workflow.ErrUpdateDropped):
		return problem(c, fiber.StatusConflict, "update_dropped", err.Error())
	default:
		return internalError(c, err)
	}
}
