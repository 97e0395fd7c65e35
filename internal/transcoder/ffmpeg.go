package transcoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/learnstream/vod-pipeline/internal/metrics"
	"github.com/learnstream/vod-pipeline/pkg/models"
)

const (
	// HLSSegmentDuration is the duration of each HLS segment in seconds.
	HLSSegmentDuration = 4

	// DefaultEncodeTimeout bounds one rendition's encode process.
	DefaultEncodeTimeout = 30 * time.Minute
)

var tracer = otel.Tracer("vod-transcoder")

// Config holds configuration for FFmpeg execution.
type Config struct {
	FFmpegPath    string
	Profiles      []Profile
	EncodeTimeout time.Duration
	Logger        *slog.Logger
}

// DefaultConfig returns the default FFmpeg configuration.
func DefaultConfig(logger *slog.Logger) *Config {
	return &Config{
		FFmpegPath:    "ffmpeg",
		Profiles:      DefaultProfiles,
		EncodeTimeout: DefaultEncodeTimeout,
		Logger:        logger,
	}
}

// Result describes a completed transcode run.
type Result struct {
	OutputDir          string
	MasterPlaylistPath string
	Renditions         []models.Rendition
}

// Transcoder produces multi-rendition HLS output from one input file.
type Transcoder struct {
	config *Config
}

// New creates a Transcoder with the given configuration.
func New(config *Config) *Transcoder {
	return &Transcoder{config: config}
}

// Profiles returns the configured encoding ladder.
func (t *Transcoder) Profiles() []Profile {
	return t.config.Profiles
}

// Run encodes every configured rendition from inputPath into outputDir,
// strictly in ladder order, then writes the master playlist. Any rendition
// failure aborts the run before the master playlist exists, so partial
// output can never be mistaken for success.
func (t *Transcoder) Run(ctx context.Context, inputPath, outputDir, entityID string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "transcode-run")
	defer span.End()
	span.SetAttributes(attribute.String("entity.id", entityID))

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: failed to create output directory: %v", models.ErrTranscodeFailed, err)
	}

	renditions := make([]models.Rendition, 0, len(t.config.Profiles))

	for _, profile := range t.config.Profiles {
		start := time.Now()

		if err := t.encodeRendition(ctx, inputPath, outputDir, profile); err != nil {
			return nil, fmt.Errorf("rendition %s: %w", profile.Label, err)
		}

		metrics.TranscodeDuration.WithLabelValues(profile.Label).Observe(time.Since(start).Seconds())
		t.config.Logger.InfoContext(ctx, "Rendition complete",
			"entityId", entityID,
			"resolution", profile.Label,
			"durationSeconds", time.Since(start).Seconds(),
		)

		renditions = append(renditions, models.Rendition{
			ResolutionLabel: profile.Label,
			BitrateTarget:   BandwidthFor(profile.Label),
			PlaylistPath:    filepath.Join(outputDir, profile.PlaylistName()),
		})
	}

	masterPath, err := WriteMasterPlaylist(outputDir, t.config.Profiles)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to write master playlist: %v", models.ErrTranscodeFailed, err)
	}

	return &Result{
		OutputDir:          outputDir,
		MasterPlaylistPath: masterPath,
		Renditions:         renditions,
	}, nil
}

// encodeRendition runs one ffmpeg process for a single rendition under the
// configured timeout.
func (t *Transcoder) encodeRendition(ctx context.Context, inputPath, outputDir string, profile Profile) error {
	ctx, span := tracer.Start(ctx, "ffmpeg-encode")
	defer span.End()
	span.SetAttributes(attribute.String("rendition.label", profile.Label))

	timeout := t.config.EncodeTimeout
	if timeout <= 0 {
		timeout = DefaultEncodeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := buildRenditionArgs(inputPath, outputDir, profile)
	cmd := exec.CommandContext(ctx, t.config.FFmpegPath, args...)

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: failed to get stderr pipe: %v", models.ErrFFmpegFailed, err)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: failed to get stdout pipe: %v", models.ErrFFmpegFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: failed to start %s: %v", models.ErrFFmpegFailed, t.config.FFmpegPath, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		t.monitorOutput(ctx, stderrPipe)
	}()

	go func() {
		defer wg.Done()
		_, _ = io.Copy(io.Discard, stdoutPipe)
	}()

	cmdErr := cmd.Wait()
	wg.Wait()

	if cmdErr != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", models.ErrFFmpegFailed, ctx.Err())
		}
		return fmt.Errorf("%w: %v", models.ErrFFmpegFailed, cmdErr)
	}

	// The process can exit zero without producing output when arguments are
	// rejected late; treat a missing playlist the same as a failed encode.
	if _, err := os.Stat(filepath.Join(outputDir, profile.PlaylistName())); err != nil {
		return fmt.Errorf("%w: rendition playlist missing after encode", models.ErrFFmpegFailed)
	}

	return nil
}

// buildRenditionArgs constructs the ffmpeg arguments for one rendition:
// scale to target height preserving aspect ratio, fixed AAC audio, fixed
// H.264 settings, 4-second independent VOD segments.
func buildRenditionArgs(inputPath, outputDir string, profile Profile) []string {
	return []string{
		"-hide_banner",
		"-y",
		"-i", inputPath,
		"-vf", fmt.Sprintf("scale=-2:%d", profile.Height),
		"-c:v", "libx264",
		"-profile:v", "main",
		"-preset", "veryfast",
		"-sc_threshold", "0",
		"-g", "48",
		"-keyint_min", "48",
		"-b:v", profile.Bitrate,
		"-maxrate", profile.MaxRate,
		"-bufsize", profile.BufSize,
		"-c:a", "aac",
		"-ar", "48000",
		"-b:a", profile.AudioBPS,
		"-hls_time", fmt.Sprintf("%d", HLSSegmentDuration),
		"-hls_playlist_type", "vod",
		"-hls_flags", "independent_segments",
		"-hls_segment_filename", filepath.Join(outputDir, profile.SegmentPattern()),
		filepath.Join(outputDir, profile.PlaylistName()),
	}
}

// monitorOutput reads and logs ffmpeg progress and warnings.
func (t *Transcoder) monitorOutput(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
			line := scanner.Text()
			if strings.Contains(line, "frame=") || strings.Contains(line, "time=") {
				t.config.Logger.Debug("FFmpeg progress", "output", line)
			} else if strings.Contains(line, "error") || strings.Contains(line, "Error") {
				t.config.Logger.Warn("FFmpeg warning", "output", line)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		t.config.Logger.Warn("FFmpeg output scanner error", "error", err)
	}
}
