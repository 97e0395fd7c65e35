package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/learnstream/vod-pipeline/pkg/models"
)

// MaxConcurrentUploads bounds the parallel PutObject calls during Upload.
const MaxConcurrentUploads = 20

var tracer = otel.Tracer("vod-storage")

// S3API is the subset of the S3 client the adapter uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// S3 is an object-store Adapter reading raw sources from one bucket and
// writing HLS output to another. Upload writes the master playlist last and
// confirms it with a HeadObject, so an output prefix without a master
// playlist is never treated as complete.
type S3 struct {
	client       S3API
	rawBucket    string
	outputBucket string
	log          *slog.Logger
}

// NewS3 creates an S3 adapter.
func NewS3(client S3API, rawBucket, outputBucket string, log *slog.Logger) *S3 {
	return &S3{
		client:       client,
		rawBucket:    rawBucket,
		outputBucket: outputBucket,
		log:          log,
	}
}

// Fetch downloads the object at key into localPath.
func (a *S3) Fetch(ctx context.Context, key, localPath string) error {
	ctx, span := tracer.Start(ctx, "storage-fetch")
	defer span.End()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageIO, err)
	}

	result, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.rawBucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return mapS3Error(err)
	}
	defer result.Body.Close()

	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageIO, err)
	}

	written, err := io.Copy(file, result.Body)
	if err != nil {
		file.Close()
		os.Remove(localPath)
		return fmt.Errorf("%w: %v", models.ErrStorageIO, err)
	}

	if err := file.Close(); err != nil {
		os.Remove(localPath)
		return fmt.Errorf("%w: %v", models.ErrStorageIO, err)
	}

	span.SetAttributes(attribute.Int64("object.size_bytes", written))
	a.log.DebugContext(ctx, "Fetched object", "key", key, "sizeBytes", written)

	return nil
}

// Upload copies every file under localDir to destPrefix in the output bucket.
// Segment and rendition files go up first with bounded concurrency; the
// master playlist follows only after all of them succeeded, then is verified
// at the destination.
func (a *S3) Upload(ctx context.Context, localDir, destPrefix string) (string, error) {
	ctx, span := tracer.Start(ctx, "storage-upload")
	defer span.End()

	var filesUploaded atomic.Int64
	var totalBytes atomic.Int64
	var firstErr atomic.Pointer[error]

	sem := make(chan struct{}, MaxConcurrentUploads)
	var wg sync.WaitGroup

	var masterPath string

	walkErr := filepath.Walk(localDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		// The master playlist is the commit marker; hold it back.
		if filepath.Base(path) == MasterPlaylistName {
			masterPath = path
			return nil
		}

		if firstErr.Load() != nil {
			return nil
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return fmt.Errorf("%w: during upload walk", models.ErrContextCanceled)
		}

		wg.Add(1)

		go func(filePath string, fileInfo os.FileInfo) {
			defer wg.Done()
			defer func() { <-sem }()

			if firstErr.Load() != nil {
				return
			}

			key, err := a.objectKey(localDir, destPrefix, filePath)
			if err != nil {
				firstErr.CompareAndSwap(nil, &err)
				return
			}

			if err := a.putFile(ctx, key, filePath); err != nil {
				firstErr.CompareAndSwap(nil, &err)
				return
			}

			filesUploaded.Add(1)
			totalBytes.Add(fileInfo.Size())

			a.log.DebugContext(ctx, "Uploaded file", "key", key)
		}(path, info)

		return nil
	})

	wg.Wait()

	if walkErr != nil {
		return "", walkErr
	}
	if errPtr := firstErr.Load(); errPtr != nil {
		return "", *errPtr
	}
	if masterPath == "" {
		return "", fmt.Errorf("%w: master playlist missing from output", models.ErrStorageIO)
	}

	masterKey := destPrefix + "/" + MasterPlaylistName
	if err := a.putFile(ctx, masterKey, masterPath); err != nil {
		return "", err
	}

	// Confirm the commit marker is visible before reporting success.
	if _, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.outputBucket),
		Key:    aws.String(masterKey),
	}); err != nil {
		return "", mapS3Error(err)
	}

	span.SetAttributes(
		attribute.Int64("files.uploaded", filesUploaded.Load()+1),
		attribute.Int64("bytes.total", totalBytes.Load()),
	)

	a.log.InfoContext(ctx, "HLS upload complete",
		"destPrefix", destPrefix,
		"filesUploaded", filesUploaded.Load()+1,
		"totalBytes", totalBytes.Load(),
	)

	return masterKey, nil
}

// Delete removes a single object from the output bucket.
func (a *S3) Delete(ctx context.Context, key string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.outputBucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return mapS3Error(err)
	}
	return nil
}

// DeletePrefix removes every object below prefix from the output bucket.
func (a *S3) DeletePrefix(ctx context.Context, prefix string) error {
	var continuation *string

	for {
		page, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.outputBucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return mapS3Error(err)
		}

		if len(page.Contents) > 0 {
			objects := make([]types.ObjectIdentifier, 0, len(page.Contents))
			for _, obj := range page.Contents {
				objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
			}

			_, err = a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(a.outputBucket),
				Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
			})
			if err != nil {
				return mapS3Error(err)
			}
		}

		if page.NextContinuationToken == nil {
			return nil
		}
		continuation = page.NextContinuationToken
	}
}

func (a *S3) objectKey(localDir, destPrefix, filePath string) (string, error) {
	relPath, err := filepath.Rel(localDir, filePath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrStorageIO, err)
	}
	return destPrefix + "/" + filepath.ToSlash(relPath), nil
}

func (a *S3) putFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStorageIO, err)
	}
	defer file.Close()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.outputBucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String(contentTypeFor(filePath)),
	})
	if err != nil {
		return mapS3Error(err)
	}
	return nil
}

// contentTypeFor returns the content type for an HLS output file.
func contentTypeFor(filePath string) string {
	switch {
	case strings.HasSuffix(filePath, ".m3u8"):
		return "application/vnd.apple.mpegurl"
	case strings.HasSuffix(filePath, ".ts"):
		return "video/MP2T"
	default:
		return "application/octet-stream"
	}
}

// mapS3Error translates S3 errors into the adapter's error taxonomy.
func mapS3Error(err error) error {
	if err == nil {
		return nil
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", models.ErrSourceNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "AccessDenied" {
		return fmt.Errorf("%w: %v", models.ErrPermissionDenied, err)
	}

	return fmt.Errorf("%w: %v", models.ErrStorageIO, err)
}
