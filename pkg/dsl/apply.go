package dsl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/trigger"
	"github.com/dukex/flowline/pkg/workflow"
)

type Applier struct {
	publishing *workflow.PublishingService
	triggers   *trigger.Service
	logger     *slog.Logger
}

func NewApplier(logger *slog.Logger, publishing *workflow.PublishingService, triggers *trigger.Service) *Applier {
	return &Applier{
		publishing: publishing,
		triggers:   triggers,
		logger:     logger.With("module", "dsl"),
	}
}

type Result struct {
	Workflow *models.Workflow
	Project  *models.Project
	Trigger  *models.Trigger
}

// Apply publishes the workflow, then saves the project and its trigger.
// Republishing an existing version is accepted as long as the stored copy is
// kept; versions are never overwritten. A project without a trigger section
// loses its current trigger.
func (a *Applier) Apply(ctx context.Context, definition *Definition) (*Result, error) {
	err := definition.Validate()
	if err != nil {
		return nil, err
	}

	result := &Result{}
	spec := definition.Workflow

	result.Workflow, err = a.publishing.PublishWorkflow(ctx, spec.Ref, spec.Version, spec.Name, spec.Description, definition.Nodes())

	switch {
	case errors.Is(err, persistence.ErrWorkflowAlreadyExists):
		a.logger.InfoContext(ctx, "Workflow version already published", "ref", spec.Ref, "version", spec.Version)

		result.Workflow, err = a.publishing.GetPublishedWorkflow(ctx, spec.Ref, spec.Version)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	if definition.Project == nil {
		return result, nil
	}

	result.Project, err = a.publishing.SaveProject(ctx, &models.Project{
		Name:            definition.Project.Name,
		WorkflowRef:     spec.Ref,
		WorkflowVersion: spec.Version,
		AssociationID:   definition.Project.AssociationID,
		AssociationType: definition.Project.AssociationType,
	})
	if err != nil {
		return nil, err
	}

	projectID := result.Project.ID

	switch {
	case definition.Trigger == nil:
		err = a.triggers.Delete(ctx, projectID)
		if persistence.IsNotFound(err) {
			err = nil
		}

		if err != nil {
			err = fmt.Errorf("failed to remove trigger: %w", err)
		}
	case definition.Trigger.Cron != "":
		result.Trigger, err = a.triggers.SaveSchedule(ctx, projectID, definition.Trigger.Cron)
	default:
		result.Trigger, err = a.triggers.SaveWebhook(ctx, projectID, definition.Trigger.WebhookModel())
	}

	if err != nil {
		return nil, err
	}

	a.logger.InfoContext(ctx, "Applied definition",
		"workflow_ref", spec.Ref,
		"workflow_version", spec.Version,
		"project", result.Project.Name,
	)

	return result, nil
}
