package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/learnstream/vod-pipeline/pkg/models"
)

// Local is a filesystem-backed Adapter rooted at a single directory. Output
// directories are staged beside their final location and renamed into place,
// so a reader of the tree never sees a partially copied output.
type Local struct {
	root string
	log  *slog.Logger
}

// NewLocal creates a Local adapter rooted at root, creating it if missing.
func NewLocal(root string, log *slog.Logger) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, mapFSError(fmt.Errorf("failed to create storage root: %w", err))
	}
	return &Local{root: root, log: log}, nil
}

func (l *Local) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

// Fetch copies the file at key into localPath.
func (l *Local) Fetch(ctx context.Context, key, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(l.path(key))
	if err != nil {
		return mapFSError(err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return mapFSError(err)
	}

	dst, err := os.Create(localPath)
	if err != nil {
		return mapFSError(err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(localPath)
		return mapFSError(err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(localPath)
		return mapFSError(err)
	}

	return nil
}

// Upload copies every file under localDir into a staging directory beside the
// final destination, verifies the master playlist is present, then renames
// the staged tree into place. Re-running against a complete destination
// replaces it wholesale, leaving exactly one master playlist.
func (l *Local) Upload(ctx context.Context, localDir, destPrefix string) (string, error) {
	final := l.path(destPrefix)
	staging := final + ".staging"

	if err := os.RemoveAll(staging); err != nil {
		return "", mapFSError(err)
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return "", mapFSError(err)
	}

	if err := copyTree(ctx, localDir, staging); err != nil {
		os.RemoveAll(staging)
		return "", err
	}

	if _, err := os.Stat(filepath.Join(staging, MasterPlaylistName)); err != nil {
		os.RemoveAll(staging)
		return "", fmt.Errorf("%w: master playlist missing from output", models.ErrStorageIO)
	}

	if err := os.RemoveAll(final); err != nil {
		os.RemoveAll(staging)
		return "", mapFSError(err)
	}
	if err := os.Rename(staging, final); err != nil {
		os.RemoveAll(staging)
		return "", mapFSError(err)
	}

	l.log.Debug("Published output tree", "dest", destPrefix)

	return destPrefix + "/" + MasterPlaylistName, nil
}

// Delete removes a single file.
func (l *Local) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(l.path(key)); err != nil && !os.IsNotExist(err) {
		return mapFSError(err)
	}
	return nil
}

// DeletePrefix removes a directory tree.
func (l *Local) DeletePrefix(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(l.path(prefix)); err != nil {
		return mapFSError(err)
	}
	return nil
}

func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return mapFSError(err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return mapFSError(err)
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return mapFSError(os.MkdirAll(target, 0o755))
		}

		in, err := os.Open(path)
		if err != nil {
			return mapFSError(err)
		}
		defer in.Close()

		out, err := os.Create(target)
		if err != nil {
			return mapFSError(err)
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return mapFSError(err)
		}
		return mapFSError(out.Close())
	})
}

// mapFSError translates filesystem errors into the adapter's error taxonomy.
func mapFSError(err error) error {
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %v", models.ErrSourceNotFound, err)
	case os.IsPermission(err):
		return fmt.Errorf("%w: %v", models.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", models.ErrStorageIO, err)
	}
}
