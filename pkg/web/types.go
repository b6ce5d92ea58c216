package web

import "github.com/dukex/flowline/pkg/models"

const (
	HeaderAssociationID   = "X-Association-Id"
	HeaderAssociationType = "X-Association-Type"

	defaultListLimit = 50
	maxListLimit     = 500
)

// WebhookResponse is returned for every webhook call, whatever the outcome.
type WebhookResponse struct {
	Status string `json:"status"`
}

// TaskReportRequest is the body of an executor callback.
type TaskReportRequest struct {
	ErrorMessage string `json:"error_message"`
}

type InstanceResponse struct {
	Instance *models.WorkflowInstance `json:"instance"`
	Tasks    []*models.TaskInstance   `json:"tasks"`
}

type WebRequestsResponse struct {
	WebRequests []*models.WebRequest `json:"web_requests"`
	Limit       int                  `json:"limit"`
}

type InstancesResponse struct {
	Instances []*models.WorkflowInstance `json:"instances"`
	Limit     int                        `json:"limit"`
}

type ParametersResponse struct {
	TriggerEventID string             `json:"trigger_event_id"`
	Parameters     []models.Parameter `json:"parameters"`
}
