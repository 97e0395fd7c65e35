package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/learnstream/vod-pipeline/pkg/models"
)

// Postgres stores entity state in the relational catalog database the API
// layer owns. The pipeline touches only the columns it needs.
type Postgres struct {
	db *sqlx.DB
}

// Connect opens a pooled connection to Postgres.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return db, nil
}

// NewPostgres creates a Postgres entity store.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// GetStatus returns the current persisted status of an entity.
func (s *Postgres) GetStatus(ctx context.Context, id string) (models.MediaStatus, error) {
	const q = `SELECT status FROM media_entities WHERE id = $1`

	var raw string
	if err := s.db.GetContext(ctx, &raw, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", models.ErrEntityNotFound
		}
		return "", fmt.Errorf("entity get status: %w", err)
	}

	status := models.MediaStatus(raw)
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidStatus, raw)
	}

	return status, nil
}

// SetProcessing marks an entity as PROCESSING.
func (s *Postgres) SetProcessing(ctx context.Context, id string) error {
	const q = `UPDATE media_entities SET status = $2, updated_at = NOW() WHERE id = $1`
	return s.exec(ctx, q, id, models.StatusProcessing)
}

// Update writes the final status and output location.
func (s *Postgres) Update(ctx context.Context, id string, status models.MediaStatus, outputLocation string) error {
	const q = `
		UPDATE media_entities
		SET status = $2, output_location = $3, processed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	return s.exec(ctx, q, id, status, outputLocation)
}

// SetFailed records a terminal failure with its last error message.
func (s *Postgres) SetFailed(ctx context.Context, id string, lastError string) error {
	const q = `
		UPDATE media_entities
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`
	return s.exec(ctx, q, id, models.StatusFailed, lastError)
}

// PartitionLabel returns the optional output-path partition label.
func (s *Postgres) PartitionLabel(ctx context.Context, id string) (string, error) {
	const q = `SELECT COALESCE(partition_label, '') FROM media_entities WHERE id = $1`

	var label string
	if err := s.db.GetContext(ctx, &label, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", models.ErrEntityNotFound
		}
		return "", fmt.Errorf("entity get partition label: %w", err)
	}

	return label, nil
}

func (s *Postgres) exec(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("entity update: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("entity update: %w", err)
	}
	if n == 0 {
		return models.ErrEntityNotFound
	}

	return nil
}
