// Package queue is the priority-ordered, retrying task scheduler that
// drives the print pipeline. It is constructed once at process start
// and passed to every caller; there is no process-wide singleton.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"photoprint/models"
	"photoprint/repository"
	"photoprint/retry"
)

// ProcessFunc handles one task to completion. A returned error counts
// as a failed attempt and is subject to the retry policy.
type ProcessFunc func(ctx context.Context, task *models.Task) error

// StatusSink receives best-effort status mirror updates (Redis cache).
type StatusSink interface {
	Set(ctx context.Context, taskID string, status models.TaskStatus, lastError string) error
}

// TaskSpec describes the work to enqueue.
type TaskSpec struct {
	Type         string
	StorageKey   string
	PhotoID      string
	LocationName string
	TraceID      string
}

// Options control scheduling of a new task.
type Options struct {
	Priority    int
	MaxAttempts int
}

// Config tunes the queue's worker pool and recovery behavior.
type Config struct {
	Workers            int
	DefaultMaxAttempts int
	Backoff            retry.Policy
	StaleAfter         time.Duration
	PollInterval       time.Duration
	Retention          time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.DefaultMaxAttempts <= 0 {
		c.DefaultMaxAttempts = 3
	}
	if c.Backoff.MaxAttempts == 0 {
		c.Backoff = retry.Policy{Strategy: retry.Exponential, Delay: 5 * time.Second, MaxAttempts: 1}
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	return c
}

// Queue holds the task store behind one mutex. Status transitions all
// happen under it, so no two workers can claim the same pending task.
type Queue struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
	byKey map[string]string // live task ID per storage key (dedup)
	seq   uint64

	processors map[string]ProcessFunc
	repo       repository.Repository
	status     StatusSink
	cfg        Config
	logger     *zap.Logger
	wg         sync.WaitGroup
}

func New(repo repository.Repository, status StatusSink, cfg Config, logger *zap.Logger) *Queue {
	return &Queue{
		tasks:      make(map[string]*models.Task),
		byKey:      make(map[string]string),
		processors: make(map[string]ProcessFunc),
		repo:       repo,
		status:     status,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// Register binds a task type to its processor. Must be called before
// Start.
func (q *Queue) Register(taskType string, fn ProcessFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processors[taskType] = fn
}

// AddTask enqueues work unless a live task already exists for the same
// storage key, in which case that task is returned unchanged.
func (q *Queue) AddTask(ctx context.Context, spec TaskSpec, opts Options) (*models.Task, error) {
	if spec.Type == "" || spec.StorageKey == "" {
		return nil, fmt.Errorf("task type and storage key are required")
	}

	q.mu.Lock()
	if id, ok := q.byKey[spec.StorageKey]; ok {
		existing := snapshot(q.tasks[id])
		q.mu.Unlock()
		q.logger.Debug("Duplicate enqueue merged",
			zap.String("storage_key", spec.StorageKey),
			zap.String("task_id", existing.ID),
		)
		return existing, nil
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.DefaultMaxAttempts
	}

	now := time.Now()
	q.seq++
	task := &models.Task{
		ID:           uuid.New().String(),
		TraceID:      spec.TraceID,
		Type:         spec.Type,
		StorageKey:   spec.StorageKey,
		PhotoID:      spec.PhotoID,
		LocationName: spec.LocationName,
		Priority:     opts.Priority,
		MaxAttempts:  maxAttempts,
		Status:       models.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		NotBefore:    now,
		Seq:          q.seq,
	}
	q.tasks[task.ID] = task
	q.byKey[task.StorageKey] = task.ID
	out := snapshot(task)
	q.mu.Unlock()

	q.persist(ctx, out)

	q.logger.Info("Task enqueued",
		zap.String("task_id", out.ID),
		zap.String("type", out.Type),
		zap.String("storage_key", out.StorageKey),
		zap.Int("priority", out.Priority),
	)

	return out, nil
}

// GetTask returns a snapshot of the task, falling back to the
// repository for tasks evicted from memory.
func (q *Queue) GetTask(ctx context.Context, id string) (*models.Task, error) {
	q.mu.Lock()
	task, ok := q.tasks[id]
	if ok {
		out := snapshot(task)
		q.mu.Unlock()
		return out, nil
	}
	q.mu.Unlock()

	return q.repo.GetTask(ctx, id)
}

// HasLiveTask reports whether a live task occupies the storage key.
func (q *Queue) HasLiveTask(storageKey string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byKey[storageKey]
	return ok
}

// Start recovers unfinished tasks from the repository, then launches
// the worker pool and the stale-task sweeper. It returns immediately;
// call Wait after canceling the context to drain.
func (q *Queue) Start(ctx context.Context) {
	q.recover(ctx)

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}

	q.wg.Add(1)
	go q.sweeper(ctx)
}

// Wait blocks until all workers have exited.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) recover(ctx context.Context) {
	unfinished, err := q.repo.ListUnfinished(ctx)
	if err != nil {
		q.logger.Error("Task recovery failed", zap.Error(err))
		return
	}

	q.mu.Lock()
	for _, task := range unfinished {
		t := *task
		if t.Status == models.StatusProcessing {
			// The previous host died mid-task; run it again.
			t.Status = models.StatusPending
			t.StartedAt = nil
		}
		if t.Seq > q.seq {
			q.seq = t.Seq
		}
		q.tasks[t.ID] = &t
		q.byKey[t.StorageKey] = t.ID
	}
	q.mu.Unlock()

	if len(unfinished) > 0 {
		q.logger.Info("Recovered unfinished tasks", zap.Int("count", len(unfinished)))
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for {
			task := q.claim()
			if task == nil {
				break
			}
			q.runTask(ctx, task)

			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}
}

// claim atomically moves the best due pending task to processing.
// Order: priority desc, createdAt asc, insertion sequence asc.
func (q *Queue) claim() *models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var best *models.Task
	for _, task := range q.tasks {
		if task.Status != models.StatusPending || task.NotBefore.After(now) {
			continue
		}
		if best == nil || dispatchBefore(task, best) {
			best = task
		}
	}
	if best == nil {
		return nil
	}

	started := now
	best.Status = models.StatusProcessing
	best.StartedAt = &started
	best.UpdatedAt = now
	return snapshot(best)
}

func dispatchBefore(a, b *models.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

func (q *Queue) runTask(ctx context.Context, task *models.Task) {
	log := q.logger.With(
		zap.String("task_id", task.ID),
		zap.String("type", task.Type),
		zap.String("storage_key", task.StorageKey),
	)

	q.persist(ctx, task)

	claimedAt := *task.StartedAt

	fn, ok := q.processorFor(task.Type)
	if !ok {
		log.Error("No processor registered for task type")
		q.finish(ctx, task.ID, claimedAt, fmt.Errorf("no processor for type %q", task.Type), true)
		return
	}

	log.Info("Task dispatched", zap.Int("attempt", task.Attempts+1))

	if err := fn(ctx, task); err != nil {
		q.finish(ctx, task.ID, claimedAt, err, false)
		return
	}
	q.finish(ctx, task.ID, claimedAt, nil, false)
}

func (q *Queue) processorFor(taskType string) (ProcessFunc, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fn, ok := q.processors[taskType]
	return fn, ok
}

// finish applies the terminal-or-retry transition for one attempt.
// claimedAt identifies the claim the result belongs to: a worker whose
// task was reset by the stale sweeper (and possibly re-run by another
// worker) no longer holds the current claim, and its late result must
// not touch the task state again.
func (q *Queue) finish(ctx context.Context, taskID string, claimedAt time.Time, taskErr error, forceTerminal bool) {
	q.mu.Lock()
	task, ok := q.tasks[taskID]
	if !ok {
		q.mu.Unlock()
		return
	}
	if task.Status != models.StatusProcessing || task.StartedAt == nil || !task.StartedAt.Equal(claimedAt) {
		q.mu.Unlock()
		q.logger.Warn("Discarding result of a superseded claim",
			zap.String("task_id", taskID),
			zap.Time("claimed_at", claimedAt),
		)
		return
	}

	now := time.Now()
	task.UpdatedAt = now

	switch {
	case taskErr == nil:
		task.Status = models.StatusCompleted
		task.CompletedAt = &now
		task.LastError = ""
		delete(q.byKey, task.StorageKey)
	default:
		task.Attempts++
		task.LastError = taskErr.Error()
		if forceTerminal || task.Attempts >= task.MaxAttempts {
			task.Status = models.StatusFailed
			task.CompletedAt = &now
			delete(q.byKey, task.StorageKey)
		} else {
			task.Status = models.StatusPending
			task.StartedAt = nil
			task.NotBefore = now.Add(q.cfg.Backoff.DelayFor(task.Attempts))
		}
	}
	out := snapshot(task)
	q.mu.Unlock()

	q.persist(ctx, out)

	switch out.Status {
	case models.StatusCompleted:
		q.logger.Info("Task completed", zap.String("task_id", out.ID))
	case models.StatusFailed:
		q.logger.Error("Task failed terminally",
			zap.String("task_id", out.ID),
			zap.Int("attempts", out.Attempts),
			zap.String("last_error", out.LastError),
		)
	default:
		q.logger.Warn("Task attempt failed, requeued",
			zap.String("task_id", out.ID),
			zap.Int("attempts", out.Attempts),
			zap.Time("not_before", out.NotBefore),
			zap.String("last_error", out.LastError),
		)
	}
}

// sweeper resets processing tasks that outlived the stale timeout,
// covering workers lost to a crash or hung I/O.
func (q *Queue) sweeper(ctx context.Context) {
	defer q.wg.Done()

	interval := q.cfg.StaleAfter / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.sweep(ctx)
		}
	}
}

func (q *Queue) sweep(ctx context.Context) {
	now := time.Now()
	staleCutoff := now.Add(-q.cfg.StaleAfter)
	evictCutoff := now.Add(-q.cfg.Retention)

	q.mu.Lock()
	var reset []*models.Task
	for id, task := range q.tasks {
		// Terminal tasks age out of memory; the repository keeps them.
		if task.Status.Terminal() {
			if task.CompletedAt != nil && task.CompletedAt.Before(evictCutoff) {
				delete(q.tasks, id)
			}
			continue
		}
		if task.Status != models.StatusProcessing || task.StartedAt == nil || task.StartedAt.After(staleCutoff) {
			continue
		}
		task.Status = models.StatusPending
		task.StartedAt = nil
		task.UpdatedAt = now
		reset = append(reset, snapshot(task))
	}
	q.mu.Unlock()

	for _, task := range reset {
		q.logger.Warn("Stale processing task reset to pending",
			zap.String("task_id", task.ID),
			zap.String("storage_key", task.StorageKey),
		)
		q.persist(ctx, task)
	}
}

func (q *Queue) persist(ctx context.Context, task *models.Task) {
	if err := q.repo.SaveTask(ctx, task); err != nil {
		q.logger.Error("Task persist failed",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
	}
	if q.status != nil {
		if err := q.status.Set(ctx, task.ID, task.Status, task.LastError); err != nil {
			q.logger.Debug("Status cache update failed",
				zap.String("task_id", task.ID),
				zap.Error(err),
			)
		}
	}
}

func snapshot(task *models.Task) *models.Task {
	t := *task
	return &t
}
