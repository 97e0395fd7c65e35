package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/learnstream/vod-pipeline/internal/metrics"
	"github.com/learnstream/vod-pipeline/internal/storage"
	"github.com/learnstream/vod-pipeline/internal/store"
	"github.com/learnstream/vod-pipeline/internal/transcoder"
	"github.com/learnstream/vod-pipeline/pkg/models"
)

// Entity kinds handled by the pipeline. Each kind gets its own queue,
// consumer pool, and output prefix.
const (
	KindVideo  = "video"
	KindLesson = "lesson"
)

var outputPrefixes = map[string]string{
	KindVideo:  "hls/videos",
	KindLesson: "hls/lessons",
}

var tracer = otel.Tracer("vod-worker")

// Processor runs the full pipeline for one job: materialize the source,
// transcode it, publish the HLS output, and reconcile the entity status.
// Steps within one job are strictly sequential; parallelism comes from the
// consumer running multiple Processors at once.
type Processor struct {
	kind       string
	prefix     string
	storage    storage.Adapter
	entities   store.EntityStore
	transcoder *transcoder.Transcoder
	tempDir    string
	log        *slog.Logger
}

// ProcessorConfig holds processor dependencies.
type ProcessorConfig struct {
	Kind       string
	Storage    storage.Adapter
	Entities   store.EntityStore
	Transcoder *transcoder.Transcoder
	TempDir    string
	Logger     *slog.Logger
}

// NewProcessor creates a processor for one entity kind.
func NewProcessor(cfg *ProcessorConfig) (*Processor, error) {
	prefix, ok := outputPrefixes[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", cfg.Kind)
	}
	return &Processor{
		kind:       cfg.Kind,
		prefix:     prefix,
		storage:    cfg.Storage,
		entities:   cfg.Entities,
		transcoder: cfg.Transcoder,
		tempDir:    cfg.TempDir,
		log:        cfg.Logger,
	}, nil
}

// Process runs one job end to end. Errors propagate to the queue consumer,
// which owns retry and dead-letter decisions.
func (p *Processor) Process(ctx context.Context, job models.TranscodeJob) error {
	receipt, err := p.run(ctx, job)
	if err != nil {
		return err
	}

	p.log.InfoContext(ctx, "Pipeline completed",
		"kind", p.kind,
		"entityId", receipt.EntityID,
		"outputLocation", receipt.OutputLocation,
	)
	return nil
}

func (p *Processor) run(ctx context.Context, job models.TranscodeJob) (*models.Receipt, error) {
	ctx, span := tracer.Start(ctx, "process-job")
	defer span.End()
	span.SetAttributes(
		attribute.String("entity.id", job.EntityID),
		attribute.String("entity.kind", p.kind),
		attribute.String("entity.source_key", job.SourceKey),
	)

	start := time.Now()

	workDir := filepath.Join(p.tempDir, job.EntityID)
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			p.log.WarnContext(ctx, "Failed to remove work directory",
				"entityId", job.EntityID,
				"workDir", workDir,
				"error", err,
			)
		} else {
			p.log.DebugContext(ctx, "Work directory removed", "entityId", job.EntityID)
		}
	}()

	// Advisory only; a moderation-visible PROCESSING status is nice to have
	// but must not block the job.
	if err := p.entities.SetProcessing(ctx, job.EntityID); err != nil {
		p.log.WarnContext(ctx, "Failed to mark entity as processing",
			"entityId", job.EntityID,
			"error", err,
		)
	}

	sourcePath, err := p.materialize(ctx, job, workDir)
	if err != nil {
		return nil, err
	}

	outputDir := filepath.Join(workDir, "out")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create output dir: %v", models.ErrTranscodeFailed, err)
	}

	result, err := p.transcoder.Run(ctx, sourcePath, outputDir, job.EntityID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrTranscodeFailed, err)
	}

	destPrefix := p.resolveDestination(ctx, job.EntityID)

	publishStart := time.Now()
	masterKey, err := p.storage.Upload(ctx, result.OutputDir, destPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrPublishFailed, err)
	}
	metrics.PublishDuration.Observe(time.Since(publishStart).Seconds())

	p.log.InfoContext(ctx, "HLS output published",
		"entityId", job.EntityID,
		"destPrefix", destPrefix,
		"masterKey", masterKey,
		"renditions", len(result.Renditions),
	)

	if err := p.reconcile(ctx, job.EntityID, masterKey); err != nil {
		return nil, err
	}

	metrics.PipelineDuration.WithLabelValues(p.kind).Observe(time.Since(start).Seconds())

	return &models.Receipt{
		EntityID:       job.EntityID,
		OutputLocation: masterKey,
	}, nil
}

// materialize places the source file at a deterministic path inside the work
// directory and verifies it is non-empty. A job may carry a pre-staged local
// file path, typically when the registering service and worker share a disk.
func (p *Processor) materialize(ctx context.Context, job models.TranscodeJob, workDir string) (string, error) {
	if job.LocalFilePath != "" {
		info, err := os.Stat(job.LocalFilePath)
		if err != nil {
			return "", fmt.Errorf("%w: %s", models.ErrSourceNotFound, job.LocalFilePath)
		}
		if info.Size() == 0 {
			return "", fmt.Errorf("%w: %s", models.ErrSourceEmpty, job.LocalFilePath)
		}
		return job.LocalFilePath, nil
	}

	ext := filepath.Ext(job.SourceKey)
	if ext == "" {
		ext = ".mp4"
	}
	localPath := filepath.Join(workDir, "source"+ext)

	fetchStart := time.Now()
	if err := p.storage.Fetch(ctx, job.SourceKey, localPath); err != nil {
		return "", err
	}
	metrics.FetchDuration.Observe(time.Since(fetchStart).Seconds())

	info, err := os.Stat(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s", models.ErrSourceNotFound, job.SourceKey)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("%w: %s", models.ErrSourceEmpty, job.SourceKey)
	}

	p.log.InfoContext(ctx, "Source materialized",
		"entityId", job.EntityID,
		"sourceKey", job.SourceKey,
		"sizeBytes", info.Size(),
	)

	return localPath, nil
}

// resolveDestination computes the output prefix, optionally partitioned by
// the entity's label. The label is cosmetic path organization; failure to
// read it falls back to the unpartitioned prefix.
func (p *Processor) resolveDestination(ctx context.Context, entityID string) string {
	label, err := p.entities.PartitionLabel(ctx, entityID)
	if err != nil {
		p.log.WarnContext(ctx, "Failed to read partition label",
			"entityId", entityID,
			"error", err,
		)
		label = ""
	}
	if label == "" {
		return path.Join(p.prefix, entityID)
	}
	return path.Join(p.prefix, label, entityID)
}

// reconcile writes the final status and output location. The current status
// is re-read immediately before the write so a moderation decision made
// while the job ran is preserved. Unlike the advisory mark-processing step,
// a failure here propagates: leaving the catalog out of sync with published
// output is a pipeline failure.
func (p *Processor) reconcile(ctx context.Context, entityID, outputLocation string) error {
	current, err := p.entities.GetStatus(ctx, entityID)
	if err != nil {
		return fmt.Errorf("%w: read status: %v", models.ErrReconcileFailed, err)
	}

	final := models.NextStatus(current, models.StatusReady)
	if err := p.entities.Update(ctx, entityID, final, outputLocation); err != nil {
		return fmt.Errorf("%w: write status: %v", models.ErrReconcileFailed, err)
	}

	if final != models.StatusReady {
		p.log.InfoContext(ctx, "Moderation decision preserved during reconcile",
			"entityId", entityID,
			"status", final,
		)
	}

	return nil
}
