package transcoder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/learnstream/vod-pipeline/internal/storage"
)

// WriteMasterPlaylist creates the master HLS playlist referencing every
// rendition playlist with its approximate bandwidth, and returns its path.
func WriteMasterPlaylist(outputDir string, profiles []Profile) (string, error) {
	var builder strings.Builder
	builder.WriteString("#EXTM3U\n")
	builder.WriteString("#EXT-X-VERSION:3\n")
	builder.WriteString("#EXT-X-INDEPENDENT-SEGMENTS\n")

	for _, profile := range profiles {
		builder.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n",
			BandwidthFor(profile.Label), profile.Width, profile.Height))
		builder.WriteString(profile.PlaylistName() + "\n")
	}

	path := filepath.Join(outputDir, storage.MasterPlaylistName)
	if err := os.WriteFile(path, []byte(builder.String()), 0o644); err != nil {
		return "", err
	}

	return path, nil
}
