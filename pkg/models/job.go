package models

// TranscodeJob is the queue message describing one unit of transcoding work.
// Title and Description are carried for logging only.
type TranscodeJob struct {
	EntityID      string `json:"entityId"`
	SourceKey     string `json:"sourceKey"`
	LocalFilePath string `json:"localFilePath,omitempty"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
}

// Validate checks that the job carries all required fields.
func (j *TranscodeJob) Validate() error {
	if j.EntityID == "" {
		return ErrMissingEntityID
	}
	if j.SourceKey == "" {
		return ErrMissingSourceKey
	}
	return nil
}

// Rendition describes one resolution-specific playlist produced during a
// single pipeline run. It is never persisted.
type Rendition struct {
	ResolutionLabel string
	BitrateTarget   int
	PlaylistPath    string
}

// Receipt is the success record returned by a worker for logging and metrics.
type Receipt struct {
	EntityID       string
	OutputLocation string
}
