package storage

import "context"

// MasterPlaylistName is the fixed filename of the top-level HLS manifest. Its
// presence at the destination is what marks an output tree as complete.
const MasterPlaylistName = "master.m3u8"

// Adapter provides uniform access to the raw-input and processed-output
// storage backends. Keys are slash-separated paths relative to the backend
// root (bucket or local tree).
type Adapter interface {
	// Fetch copies the object at key into localPath, creating parent
	// directories as needed.
	Fetch(ctx context.Context, key, localPath string) error

	// Upload persists every file under localDir below destPrefix and returns
	// the canonical key of the master playlist. The master playlist only
	// becomes visible at the destination once every other file is in place,
	// so readers never observe a half-written output tree.
	Upload(ctx context.Context, localDir, destPrefix string) (string, error)

	// Delete removes a single object.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every object below prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}
