package models

import "errors"

// Sentinel errors for pipeline operations.
var (
	// Validation errors
	ErrMissingEntityID  = errors.New("entityId is required")
	ErrMissingSourceKey = errors.New("sourceKey is required")

	// Pipeline errors
	ErrJobParseFailed  = errors.New("failed to parse job")
	ErrSourceNotFound  = errors.New("source file not found")
	ErrSourceEmpty     = errors.New("source file is empty")
	ErrTranscodeFailed = errors.New("failed to transcode video")
	ErrPublishFailed   = errors.New("failed to publish HLS output")
	ErrFFmpegFailed    = errors.New("ffmpeg execution failed")
	ErrContextCanceled = errors.New("context canceled")
	ErrReconcileFailed = errors.New("failed to reconcile entity status")

	// Storage errors
	ErrStorageIO        = errors.New("storage i/o error")
	ErrPermissionDenied = errors.New("storage permission denied")

	// Store errors
	ErrEntityNotFound = errors.New("entity not found")
	ErrInvalidStatus  = errors.New("invalid media status")
)

// permanentError marks an error as not worth further delivery attempts. The
// queue consumer dead-letters these immediately instead of burning the
// remaining attempt budget.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that IsPermanent reports true for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked permanent or is a permission
// failure.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe) || errors.Is(err, ErrPermissionDenied)
}
