// Package auth decides whether a caller may operate on a workflow instance.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/flowline/pkg/persistence"
)

// ErrNoPermission is returned when the caller does not own the instance's project.
var ErrNoPermission = errors.New("no permission")

// Association identifies the caller on whose behalf an operator command runs.
type Association struct {
	ID   string
	Type string
}

type OwnershipChecker interface {
	CheckOwnership(ctx context.Context, associationID, associationType, instanceID string) (bool, error)
}

// Authorize checks ownership of instanceID. A nil association skips the check.
func Authorize(ctx context.Context, checker OwnershipChecker, association *Association, instanceID string) error {
	if association == nil || checker == nil {
		return nil
	}

	owned, err := checker.CheckOwnership(ctx, association.ID, association.Type, instanceID)
	if err != nil {
		return err
	}

	if !owned {
		return fmt.Errorf("%w: %s %s on instance %s", ErrNoPermission, association.Type, association.ID, instanceID)
	}

	return nil
}

// ProjectOwnership grants access when the instance's project carries the caller's association.
type ProjectOwnership struct {
	persistence persistence.Persistence
}

func NewProjectOwnership(p persistence.Persistence) *ProjectOwnership {
	return &ProjectOwnership{persistence: p}
}

func (o *ProjectOwnership) CheckOwnership(ctx context.Context, associationID, associationType, instanceID string) (bool, error) {
	instance, err := o.persistence.Instances().Get(ctx, instanceID)
	if err != nil {
		return false, err
	}

	project, err := o.persistence.Projects().GetByID(ctx, instance.ProjectID)
	if err != nil {
		return false, err
	}

	return project.AssociationID == associationID && project.AssociationType == associationType, nil
}
