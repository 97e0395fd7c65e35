package store

import (
	"context"

	"github.com/learnstream/vod-pipeline/pkg/models"
)

// EntityStore is the slice of the catalog database the pipeline depends on.
// The full entity row (titles, ownership, timestamps) belongs to the API
// layer; the pipeline only reads status and partition label and writes status
// plus output location.
type EntityStore interface {
	// GetStatus returns the current persisted status of an entity.
	GetStatus(ctx context.Context, id string) (models.MediaStatus, error)

	// SetProcessing marks an entity as PROCESSING. Advisory; callers may
	// ignore failures.
	SetProcessing(ctx context.Context, id string) error

	// Update writes the final status and output location in one round-trip.
	Update(ctx context.Context, id string, status models.MediaStatus, outputLocation string) error

	// SetFailed records a terminal failure with its last error message,
	// without touching the output location.
	SetFailed(ctx context.Context, id string, lastError string) error

	// PartitionLabel returns the optional output-path partition label for an
	// entity, or "" when unset.
	PartitionLabel(ctx context.Context, id string) (string, error)
}
