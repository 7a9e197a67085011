package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"photoprint/cache"
	"photoprint/dto"
	"photoprint/middleware"
	"photoprint/models"
	"photoprint/print"
	"photoprint/queue"
	"photoprint/repository"
	"photoprint/storage"
)

// TaskQueue is the slice of the queue the HTTP surface needs.
type TaskQueue interface {
	AddTask(ctx context.Context, spec queue.TaskSpec, opts queue.Options) (*models.Task, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
}

const (
	// Serve-triggered tasks jump the line; a client is waiting.
	servePriority    = 10
	retryAfterSecond = 5
)

type PrintHandler struct {
	queue        TaskQueue
	store        storage.Store
	sourcePrefix string
	statusCache  *cache.StatusCache // nil when Redis is not configured
	logger       *zap.Logger
}

func NewPrintHandler(q TaskQueue, store storage.Store, sourcePrefix string, statusCache *cache.StatusCache, logger *zap.Logger) *PrintHandler {
	if sourcePrefix == "" {
		sourcePrefix = "photos/"
	}
	return &PrintHandler{
		queue:        q,
		store:        store,
		sourcePrefix: sourcePrefix,
		statusCache:  statusCache,
		logger:       logger,
	}
}

// Artifact serves a print derivative. A missing artifact with an
// existing source answers 202 and enqueues generation; a missing
// source answers 404. The two cases are never conflated.
func (h *PrintHandler) Artifact(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	name := filepath.Base(strings.TrimPrefix(r.URL.Path, "/prints/"))
	if name == "" || name == "." || name == "/" {
		h.handleError(w, "Print name is required", nil, traceID, http.StatusBadRequest)
		return
	}

	sourceKey := h.sourcePrefix + name
	artifactKey := print.ArtifactKey(sourceKey)

	data, err := h.store.Get(r.Context(), artifactKey)
	if err == nil {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return
	}
	if !errors.Is(err, storage.ErrNotFound) {
		h.handleError(w, "Failed to read artifact", err, traceID, http.StatusInternalServerError)
		return
	}

	if _, err := h.store.Get(r.Context(), sourceKey); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.handleError(w, "Unknown photo", err, traceID, http.StatusNotFound)
			return
		}
		h.handleError(w, "Failed to read source", err, traceID, http.StatusInternalServerError)
		return
	}

	task, err := h.queue.AddTask(r.Context(), queue.TaskSpec{
		Type:       models.TypePrintPhoto,
		StorageKey: sourceKey,
		TraceID:    traceID,
	}, queue.Options{Priority: servePriority})
	if err != nil {
		h.handleError(w, "Failed to enqueue print task", err, traceID, http.StatusInternalServerError)
		return
	}

	h.logger.Info("Print artifact pending",
		zap.String("trace_id", traceID),
		zap.String("task_id", task.ID),
		zap.String("storage_key", sourceKey),
	)

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecond))
	h.respondJSON(w, http.StatusAccepted, dto.ProcessingResponse{
		Status:     string(task.Status),
		TaskID:     task.ID,
		RetryAfter: retryAfterSecond,
	})
}

// Status exposes task state, including the last error of terminally
// failed tasks.
func (h *PrintHandler) Status(w http.ResponseWriter, r *http.Request) {
	traceID := middleware.GetTraceID(r.Context())

	taskID := strings.TrimPrefix(r.URL.Path, "/tasks/")
	if taskID == "" {
		h.handleError(w, "Task ID is required", nil, traceID, http.StatusBadRequest)
		return
	}

	if h.statusCache != nil {
		if entry, err := h.statusCache.Get(r.Context(), taskID); err == nil {
			h.respondJSON(w, http.StatusOK, &dto.TaskResponse{
				ID:        taskID,
				Status:    string(entry.Status),
				LastError: entry.LastError,
			})
			return
		}
	}

	task, err := h.queue.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			h.handleError(w, "Task not found", err, traceID, http.StatusNotFound)
			return
		}
		h.handleError(w, "Failed to get task", err, traceID, http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, http.StatusOK, toResponse(task))
}

func toResponse(task *models.Task) *dto.TaskResponse {
	var completedAt *string
	if task.CompletedAt != nil {
		formatted := task.CompletedAt.Format("2006-01-02T15:04:05Z")
		completedAt = &formatted
	}

	return &dto.TaskResponse{
		ID:          task.ID,
		TraceID:     task.TraceID,
		Type:        task.Type,
		StorageKey:  task.StorageKey,
		Status:      string(task.Status),
		Attempts:    task.Attempts,
		MaxAttempts: task.MaxAttempts,
		LastError:   task.LastError,
		CreatedAt:   task.CreatedAt.Format("2006-01-02T15:04:05Z"),
		CompletedAt: completedAt,
	}
}

func (h *PrintHandler) handleError(w http.ResponseWriter, message string, err error, traceID string, status int) {
	h.logger.Error(message,
		zap.String("trace_id", traceID),
		zap.Error(err),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dto.ErrorResponse{
		Error:   message,
		TraceID: traceID,
	})
}

func (h *PrintHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
