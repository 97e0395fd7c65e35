package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/learnstream/vod-pipeline/internal/storage"
	"github.com/learnstream/vod-pipeline/internal/store"
	"github.com/learnstream/vod-pipeline/internal/transcoder"
	"github.com/learnstream/vod-pipeline/pkg/models"
)

// fakeEncoder writes a shell script that mimics a successful ffmpeg run by
// creating the rendition playlist it was asked for.
func fakeEncoder(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	script := "#!/bin/sh\nfor arg; do last=\"$arg\"; done\necho seg > \"${last%.m3u8}_0000.ts\"\necho '#EXTM3U' > \"$last\"\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

type fixture struct {
	processor   *Processor
	storageRoot string
	tempDir     string
}

func newFixture(t *testing.T, kind, ffmpegPath string, entities store.EntityStore) *fixture {
	t.Helper()

	log := slog.New(slog.DiscardHandler)
	storageRoot := t.TempDir()
	adapter, err := storage.NewLocal(storageRoot, log)
	require.NoError(t, err)

	tr := transcoder.New(&transcoder.Config{
		FFmpegPath:    ffmpegPath,
		Profiles:      transcoder.DefaultProfiles,
		EncodeTimeout: time.Minute,
		Logger:        log,
	})

	tempDir := t.TempDir()
	p, err := NewProcessor(&ProcessorConfig{
		Kind:       kind,
		Storage:    adapter,
		Entities:   entities,
		Transcoder: tr,
		TempDir:    tempDir,
		Logger:     log,
	})
	require.NoError(t, err)

	return &fixture{
		processor:   p,
		storageRoot: storageRoot,
		tempDir:     tempDir,
	}
}

func (f *fixture) seedSource(t *testing.T, key, content string) {
	t.Helper()
	path := filepath.Join(f.storageRoot, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (f *fixture) requireNoWorkDir(t *testing.T, entityID string) {
	t.Helper()
	_, err := os.Stat(filepath.Join(f.tempDir, entityID))
	require.True(t, os.IsNotExist(err), "work directory should be removed")
}

func TestProcess_HappyPath(t *testing.T) {
	entities := store.NewMemory()
	entities.Put(models.MediaRecord{ID: "v1", Status: models.StatusUploaded, SourceKey: "raw/v1/original.mp4"})

	f := newFixture(t, KindVideo, fakeEncoder(t), entities)
	f.seedSource(t, "raw/v1/original.mp4", "source bytes")

	err := f.processor.Process(context.Background(), models.TranscodeJob{
		EntityID:  "v1",
		SourceKey: "raw/v1/original.mp4",
		Title:     "Intro",
	})
	require.NoError(t, err)

	rec, ok := entities.Get("v1")
	require.True(t, ok)
	require.Equal(t, models.StatusReady, rec.Status)
	require.Equal(t, "hls/videos/v1/master.m3u8", rec.OutputLocation)

	master := filepath.Join(f.storageRoot, "hls", "videos", "v1", storage.MasterPlaylistName)
	data, err := os.ReadFile(master)
	require.NoError(t, err)
	require.Contains(t, string(data), "#EXT-X-STREAM-INF")

	for _, profile := range transcoder.DefaultProfiles {
		_, err := os.Stat(filepath.Join(f.storageRoot, "hls", "videos", "v1", profile.PlaylistName()))
		require.NoError(t, err, "rendition playlist %s should be published", profile.PlaylistName())
	}

	f.requireNoWorkDir(t, "v1")
}

func TestProcess_LessonPrefix(t *testing.T) {
	entities := store.NewMemory()
	entities.Put(models.MediaRecord{ID: "l1", Status: models.StatusUploaded})

	f := newFixture(t, KindLesson, fakeEncoder(t), entities)
	f.seedSource(t, "raw/l1.mp4", "source bytes")

	err := f.processor.Process(context.Background(), models.TranscodeJob{EntityID: "l1", SourceKey: "raw/l1.mp4"})
	require.NoError(t, err)

	rec, _ := entities.Get("l1")
	require.Equal(t, "hls/lessons/l1/master.m3u8", rec.OutputLocation)
}

func TestProcess_PartitionLabel(t *testing.T) {
	entities := store.NewMemory()
	entities.Put(models.MediaRecord{ID: "v1", Status: models.StatusUploaded, PartitionLabel: "golang"})

	f := newFixture(t, KindVideo, fakeEncoder(t), entities)
	f.seedSource(t, "raw/v1.mp4", "source bytes")

	err := f.processor.Process(context.Background(), models.TranscodeJob{EntityID: "v1", SourceKey: "raw/v1.mp4"})
	require.NoError(t, err)

	rec, _ := entities.Get("v1")
	require.Equal(t, "hls/videos/golang/v1/master.m3u8", rec.OutputLocation)

	_, err = os.Stat(filepath.Join(f.storageRoot, "hls", "videos", "golang", "v1", storage.MasterPlaylistName))
	require.NoError(t, err)
}

// approvingStore simulates a moderator approving the entity while the
// pipeline is running: the approval lands right after the worker marks the
// entity as processing.
type approvingStore struct {
	*store.Memory
}

func (s *approvingStore) SetProcessing(ctx context.Context, id string) error {
	err := s.Memory.SetProcessing(ctx, id)
	rec, ok := s.Memory.Get(id)
	if ok {
		rec.Status = models.StatusApproved
		s.Memory.Put(rec)
	}
	return err
}

func TestProcess_ConcurrentApprovalPreserved(t *testing.T) {
	mem := store.NewMemory()
	mem.Put(models.MediaRecord{ID: "v1", Status: models.StatusUploaded})
	entities := &approvingStore{Memory: mem}

	f := newFixture(t, KindVideo, fakeEncoder(t), entities)
	f.seedSource(t, "raw/v1.mp4", "source bytes")

	err := f.processor.Process(context.Background(), models.TranscodeJob{EntityID: "v1", SourceKey: "raw/v1.mp4"})
	require.NoError(t, err)

	rec, _ := mem.Get("v1")
	require.Equal(t, models.StatusApproved, rec.Status, "moderation decision must survive reconcile")
	require.Equal(t, "hls/videos/v1/master.m3u8", rec.OutputLocation, "output location still attaches")
}

// rejectingStore simulates a moderator rejecting the entity while the
// pipeline is running. Unlike an approval, a rejection does not block the
// catalog update: the transcode completed, so the entity becomes READY.
type rejectingStore struct {
	*store.Memory
}

func (s *rejectingStore) SetProcessing(ctx context.Context, id string) error {
	err := s.Memory.SetProcessing(ctx, id)
	rec, ok := s.Memory.Get(id)
	if ok {
		rec.Status = models.StatusRejected
		s.Memory.Put(rec)
	}
	return err
}

func TestProcess_ConcurrentRejectionOverwritten(t *testing.T) {
	mem := store.NewMemory()
	mem.Put(models.MediaRecord{ID: "v1", Status: models.StatusUploaded})
	entities := &rejectingStore{Memory: mem}

	f := newFixture(t, KindVideo, fakeEncoder(t), entities)
	f.seedSource(t, "raw/v1.mp4", "source bytes")

	err := f.processor.Process(context.Background(), models.TranscodeJob{EntityID: "v1", SourceKey: "raw/v1.mp4"})
	require.NoError(t, err)

	rec, _ := mem.Get("v1")
	require.Equal(t, models.StatusReady, rec.Status, "only an approval survives reconcile")
	require.Equal(t, "hls/videos/v1/master.m3u8", rec.OutputLocation)
}

func TestProcess_MissingSource(t *testing.T) {
	entities := store.NewMemory()
	entities.Put(models.MediaRecord{ID: "v1", Status: models.StatusUploaded})

	f := newFixture(t, KindVideo, fakeEncoder(t), entities)

	err := f.processor.Process(context.Background(), models.TranscodeJob{EntityID: "v1", SourceKey: "raw/missing.mp4"})
	require.ErrorIs(t, err, models.ErrSourceNotFound)

	rec, _ := entities.Get("v1")
	require.NotEqual(t, models.StatusReady, rec.Status)
	require.Empty(t, rec.OutputLocation)

	f.requireNoWorkDir(t, "v1")
}

func TestProcess_EmptySource(t *testing.T) {
	entities := store.NewMemory()
	entities.Put(models.MediaRecord{ID: "v1", Status: models.StatusUploaded})

	f := newFixture(t, KindVideo, fakeEncoder(t), entities)
	f.seedSource(t, "raw/v1.mp4", "")

	err := f.processor.Process(context.Background(), models.TranscodeJob{EntityID: "v1", SourceKey: "raw/v1.mp4"})
	require.ErrorIs(t, err, models.ErrSourceEmpty)

	f.requireNoWorkDir(t, "v1")
}

func TestProcess_CleanupOnTranscodeFailure(t *testing.T) {
	entities := store.NewMemory()
	entities.Put(models.MediaRecord{ID: "v1", Status: models.StatusUploaded})

	// "false" exits non-zero without producing output.
	f := newFixture(t, KindVideo, "false", entities)
	f.seedSource(t, "raw/v1.mp4", "source bytes")

	err := f.processor.Process(context.Background(), models.TranscodeJob{EntityID: "v1", SourceKey: "raw/v1.mp4"})
	require.ErrorIs(t, err, models.ErrTranscodeFailed)

	rec, _ := entities.Get("v1")
	require.Empty(t, rec.OutputLocation)

	f.requireNoWorkDir(t, "v1")
}

// failingUpdateStore rejects the final status write.
type failingUpdateStore struct {
	*store.Memory
}

func (s *failingUpdateStore) Update(ctx context.Context, id string, status models.MediaStatus, outputLocation string) error {
	return errors.New("connection reset")
}

func TestProcess_ReconcileFailurePropagates(t *testing.T) {
	mem := store.NewMemory()
	mem.Put(models.MediaRecord{ID: "v1", Status: models.StatusUploaded})
	entities := &failingUpdateStore{Memory: mem}

	f := newFixture(t, KindVideo, fakeEncoder(t), entities)
	f.seedSource(t, "raw/v1.mp4", "source bytes")

	err := f.processor.Process(context.Background(), models.TranscodeJob{EntityID: "v1", SourceKey: "raw/v1.mp4"})
	require.ErrorIs(t, err, models.ErrReconcileFailed)

	f.requireNoWorkDir(t, "v1")
}

func TestProcess_PreStagedLocalFile(t *testing.T) {
	entities := store.NewMemory()
	entities.Put(models.MediaRecord{ID: "v1", Status: models.StatusUploaded})

	f := newFixture(t, KindVideo, fakeEncoder(t), entities)

	local := filepath.Join(t.TempDir(), "staged.mp4")
	require.NoError(t, os.WriteFile(local, []byte("source bytes"), 0o644))

	err := f.processor.Process(context.Background(), models.TranscodeJob{
		EntityID:      "v1",
		SourceKey:     "raw/v1.mp4", // not seeded; the staged file wins
		LocalFilePath: local,
	})
	require.NoError(t, err)

	rec, _ := entities.Get("v1")
	require.Equal(t, models.StatusReady, rec.Status)
}

func TestNewProcessor_UnknownKind(t *testing.T) {
	_, err := NewProcessor(&ProcessorConfig{Kind: "podcast", Logger: slog.New(slog.DiscardHandler)})
	require.Error(t, err)
}
