// Package web exposes webhook ingress, operator control and executor callbacks over HTTP.
package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/flowline/pkg/auth"
	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/trigger"
	"github.com/dukex/flowline/pkg/workflow"
	"github.com/gofiber/fiber/v3"
)

var errInvalidLimit = errors.New("limit must be a positive integer")

type Handlers struct {
	evaluator   *trigger.Evaluator
	engine      *workflow.Engine
	persistence persistence.Persistence
	logger      *slog.Logger
}

func NewHandlers(
	logger *slog.Logger,
	p persistence.Persistence,
	evaluator *trigger.Evaluator,
	engine *workflow.Engine,
) *Handlers {
	return &Handlers{
		evaluator:   evaluator,
		engine:      engine,
		persistence: p,
		logger:      logger.With("module", "web"),
	}
}

// ReceiveWebhook evaluates a webhook call. The caller always gets 200: the
// outcome is recorded as a WebRequest and never returned.
func (h *Handlers) ReceiveWebhook(c fiber.Ctx) error {
	request := &trigger.Request{
		ContentType: c.Get(fiber.HeaderContentType),
		UserAgent:   c.Get(fiber.HeaderUserAgent),
		Headers:     c.GetReqHeaders(),
		Query:       make(map[string][]string),
		Body:        append([]byte(nil), c.Body()...),
	}

	c.Request().URI().QueryArgs().VisitAll(func(key, value []byte) {
		name := string(key)
		request.Query[name] = append(request.Query[name], string(value))
	})

	projectName := c.Params("projectName")

	webRequest, err := h.evaluator.Evaluate(c.Context(), projectName, request)
	if err != nil {
		h.logger.ErrorContext(c.Context(), "Webhook evaluation failed", "project", projectName, "error", err)
	} else {
		h.logger.DebugContext(c.Context(), "Webhook evaluated",
			"project", projectName,
			"web_request_id", webRequest.ID,
			"status", webRequest.StatusCode,
		)
	}

	return c.JSON(WebhookResponse{Status: "accepted"})
}

func (h *Handlers) GetInstance(c fiber.Ctx) error {
	id := c.Params("instanceId")

	instance, err := h.persistence.Instances().Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	tasks, err := h.persistence.Instances().Tasks(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(InstanceResponse{Instance: instance, Tasks: tasks})
}

func (h *Handlers) TerminateInstance(c fiber.Ctx) error {
	err := h.engine.Terminate(c.Context(), c.Params("instanceId"), association(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) RetryTask(c fiber.Ctx) error {
	err := h.engine.Retry(c.Context(), c.Params("instanceId"), c.Params("taskRef"), association(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) IgnoreTask(c fiber.Ctx) error {
	err := h.engine.Ignore(c.Context(), c.Params("instanceId"), c.Params("taskRef"), association(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) SuspendInstance(c fiber.Ctx) error {
	err := h.engine.Suspend(c.Context(), c.Params("instanceId"), association(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handlers) ResumeInstance(c fiber.Ctx) error {
	err := h.engine.Resume(c.Context(), c.Params("instanceId"), association(c))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ReportTask receives an executor callback for one task instance.
func (h *Handlers) ReportTask(c fiber.Ctx) error {
	taskID := c.Params("taskId")

	var err error

	switch c.Params("status") {
	case "running":
		err = h.engine.OnRunning(c.Context(), taskID)
	case "succeeded":
		err = h.engine.OnSucceeded(c.Context(), taskID)
	case "terminated":
		err = h.engine.OnTerminated(c.Context(), taskID)
	case "failed":
		var req TaskReportRequest
		if len(c.Body()) > 0 {
			if bindErr := c.Bind().JSON(&req); bindErr != nil {
				return badRequest(c, "Invalid JSON format")
			}
		}

		err = h.engine.OnFailed(c.Context(), taskID, req.ErrorMessage)
	default:
		return badRequest(c, "unknown task status "+strconv.Quote(c.Params("status")))
	}

	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ListWebRequests returns the latest webhook calls of a project, newest first.
func (h *Handlers) ListWebRequests(c fiber.Ctx) error {
	projectName := c.Query("project")
	if projectName == "" {
		return badRequest(c, "project query parameter is required")
	}

	limit, err := listLimit(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	project, err := h.persistence.Projects().GetByName(c.Context(), projectName)
	if err != nil {
		return handleServiceError(c, err)
	}

	webRequests, err := h.persistence.WebRequests().ListByProject(c.Context(), project.ID, limit)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(WebRequestsResponse{WebRequests: webRequests, Limit: limit})
}

func (h *Handlers) GetTriggerEvent(c fiber.Ctx) error {
	event, err := h.persistence.TriggerEvents().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(event)
}

// GetTriggerEventParameters resolves the stored parameters an event was
// started with. Secrets are never stored, so they never show up here.
func (h *Handlers) GetTriggerEventParameters(c fiber.Ctx) error {
	event, err := h.persistence.TriggerEvents().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	params := make([]models.Parameter, 0, len(event.Parameters))

	for _, eventParam := range event.Parameters {
		param, err := h.persistence.Parameters().GetByID(c.Context(), eventParam.ParameterID)
		if persistence.IsNotFound(err) {
			continue
		}

		if err != nil {
			return internalError(c, err)
		}

		param.Name = eventParam.Name
		params = append(params, param)
	}

	return c.JSON(ParametersResponse{TriggerEventID: event.ID, Parameters: params})
}

// ListInstances returns the latest instances of a workflow, newest first.
func (h *Handlers) ListInstances(c fiber.Ctx) error {
	workflowRef := c.Query("workflow_ref")
	if workflowRef == "" {
		return badRequest(c, "workflow_ref query parameter is required")
	}

	limit, err := listLimit(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	instances, err := h.persistence.Instances().ListByWorkflow(c.Context(), workflowRef, limit)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(InstancesResponse{Instances: instances, Limit: limit})
}

func (h *Handlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK
	check := "ok"

	err := h.persistence.HealthCheck(c.Context())
	if err != nil {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
		check = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"persistence": check,
		},
		"timestamp": time.Now().UTC(),
	})
}

func listLimit(c fiber.Ctx) (int, error) {
	limitStr := c.Query("limit")
	if limitStr == "" {
		return defaultListLimit, nil
	}

	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed <= 0 {
		return 0, errInvalidLimit
	}

	return min(parsed, maxListLimit), nil
}

// association reads the caller's association from request headers. Unless both
// the ID and the type are sent no ownership check is made.
func association(c fiber.Ctx) *auth.Association {
	id := c.Get(HeaderAssociationID)
	associationType := c.Get(HeaderAssociationType)

	if id == "" || associationType == "" {
		return nil
	}

	return &auth.Association{ID: id, Type: associationType}
}
