package services

import (
	"context"

	"github.com/vithaluntold/accute1-sub000/internal/repository"
	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

// Store is the storage the engine needs.
type Store interface {
	repository.HierarchyStore
	repository.TaskStore
	repository.DependencyStore
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*models.Workflow, error)
}
