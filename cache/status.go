// Package cache mirrors task status into Redis so status lookups and
// the serving route avoid hitting the queue's store on every request.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"photoprint/database"
	"photoprint/models"
)

const (
	statusKeyPrefix = "print:task:"
	statusTTL       = 10 * time.Minute
)

type Entry struct {
	Status    models.TaskStatus `json:"status"`
	LastError string            `json:"last_error,omitempty"`
}

type StatusCache struct {
	cache *database.Cache
}

func NewStatusCache(cache *database.Cache) *StatusCache {
	return &StatusCache{cache: cache}
}

func (sc *StatusCache) Get(ctx context.Context, taskID string) (*Entry, error) {
	data, err := sc.cache.Get(ctx, statusKeyPrefix+taskID)
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		// Older deployments stored the bare status string.
		entry = Entry{Status: models.TaskStatus(data)}
	}

	return &entry, nil
}

func (sc *StatusCache) Set(ctx context.Context, taskID string, status models.TaskStatus, lastError string) error {
	data, err := json.Marshal(Entry{Status: status, LastError: lastError})
	if err != nil {
		return err
	}

	return sc.cache.Set(ctx, statusKeyPrefix+taskID, data, statusTTL)
}
