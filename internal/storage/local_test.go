package storage

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/learnstream/vod-pipeline/pkg/models"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir(), slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	return l
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLocalFetch(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(l.root, "raw", "v1", "original.mp4"), "fake video bytes")

	dst := filepath.Join(t.TempDir(), "work", "source.mp4")
	if err := l.Fetch(ctx, "raw/v1/original.mp4", dst); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("reading fetched file: %v", err)
	}
	if string(got) != "fake video bytes" {
		t.Errorf("fetched content = %q", got)
	}
}

func TestLocalFetch_NotFound(t *testing.T) {
	l := newTestLocal(t)

	err := l.Fetch(context.Background(), "raw/missing/original.mp4", filepath.Join(t.TempDir(), "x.mp4"))
	if !errors.Is(err, models.ErrSourceNotFound) {
		t.Errorf("Fetch() error = %v, want ErrSourceNotFound", err)
	}
}

func TestLocalUpload(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	out := t.TempDir()
	writeFile(t, filepath.Join(out, "720p.m3u8"), "#EXTM3U")
	writeFile(t, filepath.Join(out, "720p_0001.ts"), "segment")
	writeFile(t, filepath.Join(out, MasterPlaylistName), "#EXTM3U master")

	loc, err := l.Upload(ctx, out, "hls/videos/v1")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if loc != "hls/videos/v1/"+MasterPlaylistName {
		t.Errorf("Upload() location = %q", loc)
	}

	if _, err := os.Stat(filepath.Join(l.root, "hls", "videos", "v1", MasterPlaylistName)); err != nil {
		t.Errorf("master playlist not at destination: %v", err)
	}

	// No staging residue.
	if _, err := os.Stat(filepath.Join(l.root, "hls", "videos", "v1") + ".staging"); !os.IsNotExist(err) {
		t.Error("staging directory left behind")
	}
}

func TestLocalUpload_MissingMaster(t *testing.T) {
	l := newTestLocal(t)

	out := t.TempDir()
	writeFile(t, filepath.Join(out, "720p.m3u8"), "#EXTM3U")

	_, err := l.Upload(context.Background(), out, "hls/videos/v1")
	if !errors.Is(err, models.ErrStorageIO) {
		t.Errorf("Upload() error = %v, want ErrStorageIO", err)
	}

	// Nothing was made visible at the destination.
	if _, err := os.Stat(filepath.Join(l.root, "hls", "videos", "v1")); !os.IsNotExist(err) {
		t.Error("incomplete output visible at destination")
	}
}

func TestLocalUpload_Reentrant(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	out := t.TempDir()
	writeFile(t, filepath.Join(out, "480p.m3u8"), "#EXTM3U")
	writeFile(t, filepath.Join(out, MasterPlaylistName), "#EXTM3U master")

	for i := 0; i < 2; i++ {
		if _, err := l.Upload(ctx, out, "hls/videos/v1"); err != nil {
			t.Fatalf("Upload() run %d error = %v", i+1, err)
		}
	}

	entries, err := os.ReadDir(filepath.Join(l.root, "hls", "videos", "v1"))
	if err != nil {
		t.Fatal(err)
	}

	masters := 0
	for _, e := range entries {
		if e.Name() == MasterPlaylistName {
			masters++
		}
	}
	if masters != 1 {
		t.Errorf("master playlist count = %d, want 1", masters)
	}
}

func TestLocalDeletePrefix(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	writeFile(t, filepath.Join(l.root, "hls", "videos", "v1", "a.ts"), "x")
	writeFile(t, filepath.Join(l.root, "hls", "videos", "v1", "b.ts"), "y")

	if err := l.DeletePrefix(ctx, "hls/videos/v1"); err != nil {
		t.Fatalf("DeletePrefix() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(l.root, "hls", "videos", "v1")); !os.IsNotExist(err) {
		t.Error("prefix still present after DeletePrefix")
	}
}
