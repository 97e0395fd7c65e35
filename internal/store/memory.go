package store

import (
	"context"
	"sync"

	"github.com/learnstream/vod-pipeline/pkg/models"
)

// Memory is an in-memory EntityStore used in tests and local development.
type Memory struct {
	mu   sync.RWMutex
	data map[string]*models.MediaRecord
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]*models.MediaRecord)}
}

// Put seeds or replaces a record.
func (m *Memory) Put(rec models.MediaRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := rec
	m.data[rec.ID] = &cp
}

// Get returns a copy of the stored record.
func (m *Memory) Get(id string) (models.MediaRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[id]
	if !ok {
		return models.MediaRecord{}, false
	}
	return *rec, true
}

// GetStatus returns the current persisted status of an entity.
func (m *Memory) GetStatus(ctx context.Context, id string) (models.MediaStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.data[id]
	if !ok {
		return "", models.ErrEntityNotFound
	}
	return rec.Status, nil
}

// SetProcessing marks an entity as PROCESSING.
func (m *Memory) SetProcessing(ctx context.Context, id string) error {
	return m.mutate(ctx, id, func(rec *models.MediaRecord) {
		rec.Status = models.StatusProcessing
	})
}

// Update writes the final status and output location.
func (m *Memory) Update(ctx context.Context, id string, status models.MediaStatus, outputLocation string) error {
	return m.mutate(ctx, id, func(rec *models.MediaRecord) {
		rec.Status = status
		rec.OutputLocation = outputLocation
	})
}

// SetFailed records a terminal failure with its last error message.
func (m *Memory) SetFailed(ctx context.Context, id string, lastError string) error {
	return m.mutate(ctx, id, func(rec *models.MediaRecord) {
		rec.Status = models.StatusFailed
		rec.LastError = lastError
	})
}

// PartitionLabel returns the optional output-path partition label.
func (m *Memory) PartitionLabel(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.data[id]
	if !ok {
		return "", models.ErrEntityNotFound
	}
	return rec.PartitionLabel, nil
}

func (m *Memory) mutate(ctx context.Context, id string, fn func(*models.MediaRecord)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.data[id]
	if !ok {
		return models.ErrEntityNotFound
	}
	fn(rec)
	return nil
}
