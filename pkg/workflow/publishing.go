package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrInvalidProject is returned when a project definition fails validation.
var ErrInvalidProject = errors.New("invalid project")

// PublishingService registers immutable workflow versions and the projects
// that run them.
type PublishingService struct {
	persistence persistence.Persistence
	validate    *validator.Validate
	logger      *slog.Logger
}

func NewPublishingService(logger *slog.Logger, p persistence.Persistence) *PublishingService {
	return &PublishingService{
		persistence: p,
		validate:    validator.New(),
		logger:      logger.With("module", "workflow_publishing"),
	}
}

// PublishWorkflow validates the graph and stores it as (ref, version). A
// version that is already stored is never overwritten.
func (s *PublishingService) PublishWorkflow(ctx context.Context, ref, version, name, description string, nodes []*models.Node) (*models.Workflow, error) {
	published, err := models.BuildWorkflow(ref, version, name, copyNodes(nodes), models.WithDescription(description))
	if err != nil {
		return nil, fmt.Errorf("workflow %s@%s: %w", ref, version, err)
	}

	err = s.persistence.Workflows().Save(ctx, published)
	if err != nil {
		return nil, fmt.Errorf("failed to publish workflow %s@%s: %w", ref, version, err)
	}

	s.logger.InfoContext(ctx, "Published workflow", "ref", ref, "version", version, "nodes", len(nodes))

	return published, nil
}

// GetPublishedWorkflow returns a stored workflow version.
func (s *PublishingService) GetPublishedWorkflow(ctx context.Context, ref, version string) (*models.Workflow, error) {
	return s.persistence.Workflows().Get(ctx, ref, version)
}

// SaveProject points a project at a published workflow version. An existing
// project with the same name keeps its ID.
func (s *PublishingService) SaveProject(ctx context.Context, project *models.Project) (*models.Project, error) {
	existing, err := s.persistence.Projects().GetByName(ctx, project.Name)

	switch {
	case err == nil:
		project.ID = existing.ID
	case persistence.IsNotFound(err):
		if project.ID == "" {
			project.ID = uuid.New().String()
		}
	default:
		return nil, err
	}

	err = s.validate.Struct(project)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProject, err)
	}

	_, err = s.persistence.Workflows().Get(ctx, project.WorkflowRef, project.WorkflowVersion)
	if err != nil {
		return nil, fmt.Errorf("project %s: %w", project.Name, err)
	}

	err = s.persistence.Projects().Save(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("failed to save project %s: %w", project.Name, err)
	}

	s.logger.InfoContext(ctx, "Saved project",
		"project_id", project.ID,
		"name", project.Name,
		"workflow_ref", project.WorkflowRef,
		"workflow_version", project.WorkflowVersion,
	)

	return project, nil
}

// copyNodes detaches the stored definition from the caller's slices and maps.
func copyNodes(nodes []*models.Node) []*models.Node {
	copied := make([]*models.Node, len(nodes))

	for i, node := range nodes {
		if node == nil {
			continue
		}

		n := *node
		n.Sources = append([]string(nil), node.Sources...)
		n.Targets = append([]string(nil), node.Targets...)

		if node.Task != nil {
			task := *node.Task
			task.Params = copyMap(node.Task.Params)
			n.Task = &task
		}

		if node.Condition != nil {
			condition := *node.Condition
			n.Condition = &condition
		}

		copied[i] = &n
	}

	return copied
}

func copyMap(original map[string]string) map[string]string {
	if original == nil {
		return nil
	}

	result := make(map[string]string, len(original))
	for k, v := range original {
		result[k] = v
	}

	return result
}
