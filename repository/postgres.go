package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"photoprint/database"
	"photoprint/models"
)

type PostgresRepo struct {
	db *database.DB
}

func NewPostgresRepo(db *database.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) SaveTask(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO print_tasks (
			id, trace_id, type, storage_key, photo_id, location_name,
			priority, attempts, max_attempts, status, last_error,
			created_at, updated_at, started_at, completed_at, not_before, seq
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			attempts     = EXCLUDED.attempts,
			status       = EXCLUDED.status,
			last_error   = EXCLUDED.last_error,
			updated_at   = NOW(),
			started_at   = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			not_before   = EXCLUDED.not_before
	`

	_, err := r.db.Pool.Exec(ctx, query,
		task.ID,
		task.TraceID,
		task.Type,
		task.StorageKey,
		task.PhotoID,
		task.LocationName,
		task.Priority,
		task.Attempts,
		task.MaxAttempts,
		task.Status,
		task.LastError,
		task.CreatedAt,
		task.StartedAt,
		task.CompletedAt,
		task.NotBefore,
		task.Seq,
	)
	return err
}

func (r *PostgresRepo) GetTask(ctx context.Context, id string) (*models.Task, error) {
	query := `
		SELECT id, trace_id, type, storage_key, photo_id, location_name,
		       priority, attempts, max_attempts, status, last_error,
		       created_at, updated_at, started_at, completed_at, not_before, seq
		FROM print_tasks
		WHERE id = $1
	`

	task, err := scanTask(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

func (r *PostgresRepo) ListUnfinished(ctx context.Context) ([]*models.Task, error) {
	query := `
		SELECT id, trace_id, type, storage_key, photo_id, location_name,
		       priority, attempts, max_attempts, status, last_error,
		       created_at, updated_at, started_at, completed_at, not_before, seq
		FROM print_tasks
		WHERE status IN ('pending', 'processing')
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var task models.Task
	err := row.Scan(
		&task.ID,
		&task.TraceID,
		&task.Type,
		&task.StorageKey,
		&task.PhotoID,
		&task.LocationName,
		&task.Priority,
		&task.Attempts,
		&task.MaxAttempts,
		&task.Status,
		&task.LastError,
		&task.CreatedAt,
		&task.UpdatedAt,
		&task.StartedAt,
		&task.CompletedAt,
		&task.NotBefore,
		&task.Seq,
	)
	if err != nil {
		return nil, err
	}
	return &task, nil
}
