package repository

import (
	"context"
	"sync"

	"photoprint/models"
)

// Memory is the default repository when no database is configured.
type Memory struct {
	mu    sync.RWMutex
	tasks map[string]models.Task
}

func NewMemory() *Memory {
	return &Memory{tasks: make(map[string]models.Task)}
}

func (m *Memory) SaveTask(ctx context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tasks[task.ID] = *task
	return nil
}

func (m *Memory) GetTask(ctx context.Context, id string) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return &task, nil
}

func (m *Memory) ListUnfinished(ctx context.Context) ([]*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Task
	for _, task := range m.tasks {
		if task.Live() {
			t := task
			out = append(out, &t)
		}
	}
	return out, nil
}
