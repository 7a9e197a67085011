package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"photoprint/models"
	"photoprint/repository"
	"photoprint/retry"
)

func newTestQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	if cfg.Backoff.MaxAttempts == 0 {
		cfg.Backoff = retry.Policy{Strategy: retry.Fixed, Delay: time.Millisecond, MaxAttempts: 1}
	}
	return New(repository.NewMemory(), nil, cfg, zaptest.NewLogger(t))
}

func waitForStatus(t *testing.T, q *Queue, taskID string, want models.TaskStatus) *models.Task {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := q.GetTask(context.Background(), taskID)
		if err == nil && task.Status == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := q.GetTask(context.Background(), taskID)
	t.Fatalf("Task %s never reached %s, last state: %+v", taskID, want, task)
	return nil
}

func TestQueue_AddTask_Dedup(t *testing.T) {
	q := newTestQueue(t, Config{})
	ctx := context.Background()

	spec := TaskSpec{Type: models.TypePrintPhoto, StorageKey: "photos/a.jpg"}
	first, err := q.AddTask(ctx, spec, Options{Priority: 1})
	if err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}

	second, err := q.AddTask(ctx, spec, Options{Priority: 9})
	if err != nil {
		t.Fatalf("Second AddTask failed: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("Expected duplicate enqueue to merge, got %s and %s", first.ID, second.ID)
	}
	if !q.HasLiveTask("photos/a.jpg") {
		t.Error("Expected a live task for the storage key")
	}
}

func TestQueue_AddTask_Validation(t *testing.T) {
	q := newTestQueue(t, Config{})

	if _, err := q.AddTask(context.Background(), TaskSpec{Type: models.TypePrintPhoto}, Options{}); err == nil {
		t.Error("Expected error for missing storage key, got nil")
	}
	if _, err := q.AddTask(context.Background(), TaskSpec{StorageKey: "photos/a.jpg"}, Options{}); err == nil {
		t.Error("Expected error for missing type, got nil")
	}
}

func TestQueue_Claim_PriorityThenFIFO(t *testing.T) {
	q := newTestQueue(t, Config{})
	ctx := context.Background()

	low1, _ := q.AddTask(ctx, TaskSpec{Type: models.TypePrintPhoto, StorageKey: "photos/low1.jpg"}, Options{Priority: 1})
	high, _ := q.AddTask(ctx, TaskSpec{Type: models.TypePrintPhoto, StorageKey: "photos/high.jpg"}, Options{Priority: 5})
	low2, _ := q.AddTask(ctx, TaskSpec{Type: models.TypePrintPhoto, StorageKey: "photos/low2.jpg"}, Options{Priority: 1})

	expected := []string{high.ID, low1.ID, low2.ID}
	for i, want := range expected {
		claimed := q.claim()
		if claimed == nil {
			t.Fatalf("Claim %d returned nil", i)
		}
		if claimed.ID != want {
			t.Errorf("Claim %d: expected %s, got %s", i, want, claimed.ID)
		}
		if claimed.Status != models.StatusProcessing {
			t.Errorf("Claim %d: expected processing status, got %s", i, claimed.Status)
		}
	}

	if extra := q.claim(); extra != nil {
		t.Errorf("Expected no further pending tasks, claimed %s", extra.ID)
	}
}

func TestQueue_Claim_FIFOStableOnEqualTimestamps(t *testing.T) {
	q := newTestQueue(t, Config{})
	ctx := context.Background()

	a, _ := q.AddTask(ctx, TaskSpec{Type: models.TypePrintPhoto, StorageKey: "photos/a.jpg"}, Options{})
	b, _ := q.AddTask(ctx, TaskSpec{Type: models.TypePrintPhoto, StorageKey: "photos/b.jpg"}, Options{})

	// Force identical timestamps; insertion sequence must break the tie.
	now := time.Now()
	q.mu.Lock()
	q.tasks[a.ID].CreatedAt = now
	q.tasks[b.ID].CreatedAt = now
	q.mu.Unlock()

	if got := q.claim(); got.ID != a.ID {
		t.Errorf("Expected insertion order to win the tie, got %s", got.ID)
	}
}

func TestQueue_RespectsNotBefore(t *testing.T) {
	q := newTestQueue(t, Config{})
	ctx := context.Background()

	task, _ := q.AddTask(ctx, TaskSpec{Type: models.TypePrintPhoto, StorageKey: "photos/a.jpg"}, Options{})

	q.mu.Lock()
	q.tasks[task.ID].NotBefore = time.Now().Add(time.Hour)
	q.mu.Unlock()

	if got := q.claim(); got != nil {
		t.Errorf("Expected delayed task not to be claimed, got %s", got.ID)
	}
}

func TestQueue_TaskCompletes(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Register(models.TypePrintPhoto, func(ctx context.Context, task *models.Task) error {
		return nil
	})
	q.Start(ctx)

	task, err := q.AddTask(ctx, TaskSpec{Type: models.TypePrintPhoto, StorageKey: "photos/a.jpg"}, Options{})
	if err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}

	done := waitForStatus(t, q, task.ID, models.StatusCompleted)
	if done.CompletedAt == nil {
		t.Error("Expected completedAt to be set")
	}
	if q.HasLiveTask("photos/a.jpg") {
		t.Error("Expected storage key to be freed after completion")
	}

	// The freed key accepts a fresh task.
	again, err := q.AddTask(ctx, TaskSpec{Type: models.TypePrintPhoto, StorageKey: "photos/a.jpg"}, Options{})
	if err != nil {
		t.Fatalf("Re-enqueue failed: %v", err)
	}
	if again.ID == task.ID {
		t.Error("Expected a new task after the first completed")
	}
}

func TestQueue_RetriesThenFailsTerminally(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	q.Register(models.TypePrintPhoto, func(ctx context.Context, task *models.Task) error {
		calls.Add(1)
		return errors.New("conversion exploded")
	})
	q.Start(ctx)

	task, err := q.AddTask(ctx,
		TaskSpec{Type: models.TypePrintPhoto, StorageKey: "photos/a.jpg"},
		Options{MaxAttempts: 3},
	)
	if err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}

	failed := waitForStatus(t, q, task.ID, models.StatusFailed)
	if failed.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", failed.Attempts)
	}
	if failed.LastError == "" {
		t.Error("Expected lastError to be retained")
	}

	// Terminal tasks are never dispatched again.
	settled := calls.Load()
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != settled {
		t.Errorf("Expected no further dispatches, calls went %d -> %d", settled, calls.Load())
	}
	if q.HasLiveTask("photos/a.jpg") {
		t.Error("Expected storage key to be freed after terminal failure")
	}
}

func TestQueue_UnknownTypeFailsTerminally(t *testing.T) {
	q := newTestQueue(t, Config{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx)

	task, err := q.AddTask(ctx, TaskSpec{Type: "transcode-video", StorageKey: "videos/a.mp4"}, Options{MaxAttempts: 5})
	if err != nil {
		t.Fatalf("AddTask failed: %v", err)
	}

	failed := waitForStatus(t, q, task.ID, models.StatusFailed)
	if failed.LastError == "" {
		t.Error("Expected lastError naming the missing processor")
	}
}

func TestQueue_SweepResetsStaleProcessing(t *testing.T) {
	q := newTestQueue(t, Config{StaleAfter: time.Minute})
	ctx := context.Background()

	task, _ := q.AddTask(ctx, TaskSpec{Type: models.TypePrintPhoto, StorageKey: "photos/a.jpg"}, Options{})

	claimed := q.claim()
	if claimed == nil || claimed.ID != task.ID {
		t.Fatal("Expected to claim the task")
	}

	stale := time.Now().Add(-2 * time.Minute)
	q.mu.Lock()
	q.tasks[task.ID].StartedAt = &stale
	q.mu.Unlock()

	q.sweep(ctx)

	got, err := q.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Errorf("Expected stale task back in pending, got %s", got.Status)
	}
}

func TestQueue_LateResultOfSweptClaimIsDiscarded(t *testing.T) {
	q := newTestQueue(t, Config{StaleAfter: time.Minute})
	ctx := context.Background()

	task, _ := q.AddTask(ctx, TaskSpec{Type: models.TypePrintPhoto, StorageKey: "photos/hung.jpg"}, Options{})

	// First worker claims, then hangs long enough for the sweeper to
	// hand the task to someone else.
	first := q.claim()
	if first == nil || first.ID != task.ID {
		t.Fatal("Expected to claim the task")
	}

	stale := time.Now().Add(-2 * time.Minute)
	q.mu.Lock()
	q.tasks[task.ID].StartedAt = &stale
	q.mu.Unlock()
	q.sweep(ctx)

	// Second worker reclaims the task.
	second := q.claim()
	if second == nil || second.ID != task.ID {
		t.Fatal("Expected to reclaim the swept task")
	}

	// The first worker's hung call returns an error while the second
	// claim is still running. The stale claim must not touch the task.
	q.finish(ctx, first.ID, *first.StartedAt, errors.New("storage timed out"), false)

	inFlight, err := q.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if inFlight.Status != models.StatusProcessing {
		t.Fatalf("Expected task to stay with the second claim, got %s", inFlight.Status)
	}

	q.finish(ctx, second.ID, *second.StartedAt, nil, false)

	got, err := q.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Errorf("Expected task to stay completed, got %s", got.Status)
	}
	if got.Attempts != 0 {
		t.Errorf("Expected superseded attempt not to be counted, got %d", got.Attempts)
	}
	if got.LastError != "" {
		t.Errorf("Expected no lastError on the completed task, got %q", got.LastError)
	}
	if q.HasLiveTask("photos/hung.jpg") {
		t.Error("Expected no live task for the completed key")
	}
}

func TestQueue_SweepEvictsOldTerminalTasks(t *testing.T) {
	q := newTestQueue(t, Config{Retention: time.Minute})
	ctx := context.Background()

	task, _ := q.AddTask(ctx, TaskSpec{Type: models.TypePrintPhoto, StorageKey: "photos/a.jpg"}, Options{})

	old := time.Now().Add(-2 * time.Minute)
	q.mu.Lock()
	stored := q.tasks[task.ID]
	stored.Status = models.StatusCompleted
	stored.CompletedAt = &old
	delete(q.byKey, stored.StorageKey)
	q.mu.Unlock()

	q.sweep(ctx)

	q.mu.Lock()
	_, inMemory := q.tasks[task.ID]
	q.mu.Unlock()
	if inMemory {
		t.Error("Expected terminal task beyond retention to be evicted from memory")
	}

	// The repository still answers for evicted tasks.
	if _, err := q.GetTask(ctx, task.ID); err != nil {
		t.Errorf("Expected repository fallback for evicted task: %v", err)
	}
}

func TestQueue_RecoversUnfinishedFromRepository(t *testing.T) {
	repo := repository.NewMemory()
	ctx := context.Background()

	seed := &models.Task{
		ID:          "seed-task",
		Type:        models.TypePrintPhoto,
		StorageKey:  "photos/recovered.jpg",
		MaxAttempts: 3,
		Status:      models.StatusProcessing,
		CreatedAt:   time.Now(),
		Seq:         7,
	}
	if err := repo.SaveTask(ctx, seed); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	q := New(repo, nil, Config{PollInterval: 5 * time.Millisecond}, zaptest.NewLogger(t))
	q.recover(ctx)

	got, err := q.GetTask(ctx, "seed-task")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != models.StatusPending {
		t.Errorf("Expected recovered processing task rewound to pending, got %s", got.Status)
	}
	if !q.HasLiveTask("photos/recovered.jpg") {
		t.Error("Expected recovered task to occupy its storage key")
	}
}
