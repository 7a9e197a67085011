package repository

import (
	"context"
	"errors"

	"photoprint/models"
)

var ErrTaskNotFound = errors.New("task not found")

// Repository persists queue state so tasks survive a restart. The queue
// treats persistence as best-effort; the in-memory store remains the
// source of truth while the process is up.
type Repository interface {
	SaveTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListUnfinished(ctx context.Context) ([]*models.Task, error)
}
