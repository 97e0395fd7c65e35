package storage

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/learnstream/vod-pipeline/pkg/models"
)

type fakeS3 struct {
	mu       sync.Mutex
	putOrder []string
	headed   []string
	putErr   error
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return nil, &types.NoSuchKey{}
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.mu.Lock()
	f.putOrder = append(f.putOrder, aws.ToString(params.Key))
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	f.headed = append(f.headed, aws.ToString(params.Key))
	f.mu.Unlock()
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return &s3.ListObjectsV2Output{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	return &s3.DeleteObjectsOutput{}, nil
}

func stageOutput(t *testing.T, withMaster bool) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"720p.m3u8", "720p_0000.ts", "480p.m3u8", "480p_0000.ts"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if withMaster {
		if err := os.WriteFile(filepath.Join(dir, MasterPlaylistName), []byte("#EXTM3U"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestS3Upload_MasterLastAndVerified(t *testing.T) {
	client := &fakeS3{}
	a := NewS3(client, "raw", "processed", slog.New(slog.DiscardHandler))

	loc, err := a.Upload(context.Background(), stageOutput(t, true), "hls/videos/v1")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	masterKey := "hls/videos/v1/" + MasterPlaylistName
	if loc != masterKey {
		t.Errorf("Upload() location = %q, want %q", loc, masterKey)
	}

	if len(client.putOrder) != 5 {
		t.Fatalf("PutObject calls = %d, want 5", len(client.putOrder))
	}
	if got := client.putOrder[len(client.putOrder)-1]; got != masterKey {
		t.Errorf("last uploaded key = %q, want master playlist", got)
	}
	if len(client.headed) != 1 || client.headed[0] != masterKey {
		t.Errorf("HeadObject keys = %v, want master verification", client.headed)
	}
}

func TestS3Upload_MissingMaster(t *testing.T) {
	client := &fakeS3{}
	a := NewS3(client, "raw", "processed", slog.New(slog.DiscardHandler))

	_, err := a.Upload(context.Background(), stageOutput(t, false), "hls/videos/v1")
	if !errors.Is(err, models.ErrStorageIO) {
		t.Errorf("Upload() error = %v, want ErrStorageIO", err)
	}
}

func TestS3Upload_PutFailure(t *testing.T) {
	client := &fakeS3{putErr: errors.New("throttled")}
	a := NewS3(client, "raw", "processed", slog.New(slog.DiscardHandler))

	_, err := a.Upload(context.Background(), stageOutput(t, true), "hls/videos/v1")
	if !errors.Is(err, models.ErrStorageIO) {
		t.Errorf("Upload() error = %v, want ErrStorageIO", err)
	}
	if len(client.headed) != 0 {
		t.Error("master playlist must not be verified after a failed upload")
	}
}

func TestS3Fetch_NotFound(t *testing.T) {
	client := &fakeS3{}
	a := NewS3(client, "raw", "processed", slog.New(slog.DiscardHandler))

	err := a.Fetch(context.Background(), "raw/missing.mp4", filepath.Join(t.TempDir(), "x.mp4"))
	if !errors.Is(err, models.ErrSourceNotFound) {
		t.Errorf("Fetch() error = %v, want ErrSourceNotFound", err)
	}
}

type accessDenied struct{}

func (accessDenied) Error() string                 { return "AccessDenied: no" }
func (accessDenied) ErrorCode() string             { return "AccessDenied" }
func (accessDenied) ErrorMessage() string          { return "no" }
func (accessDenied) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

func TestMapS3Error(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"no such key", &types.NoSuchKey{}, models.ErrSourceNotFound},
		{"not found", &types.NotFound{}, models.ErrSourceNotFound},
		{"access denied", accessDenied{}, models.ErrPermissionDenied},
		{"other", errors.New("timeout"), models.ErrStorageIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapS3Error(tt.in); !errors.Is(got, tt.want) {
				t.Errorf("mapS3Error(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
