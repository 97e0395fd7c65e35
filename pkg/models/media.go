package models

// MediaStatus represents the catalog status of a video or lesson.
type MediaStatus string

const (
	StatusUploaded   MediaStatus = "UPLOADED"
	StatusProcessing MediaStatus = "PROCESSING"
	StatusReady      MediaStatus = "READY"
	StatusApproved   MediaStatus = "APPROVED"
	StatusRejected   MediaStatus = "REJECTED"
	StatusFailed     MediaStatus = "FAILED"
)

// IsValid returns true if the status is a known MediaStatus.
func (s MediaStatus) IsValid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusReady, StatusApproved, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// NextStatus decides the status to persist given the status currently in the
// store and the status the pipeline produced. An approval granted while the
// pipeline was running wins over the pipeline outcome; any other current
// status, including a rejection, is overwritten. Callers must re-read the
// current status immediately before the final write.
func NextStatus(current, outcome MediaStatus) MediaStatus {
	if current == StatusApproved {
		return current
	}
	return outcome
}

// MediaRecord is the slice of the entity row the pipeline reads and writes.
type MediaRecord struct {
	ID             string      `json:"id"`
	Status         MediaStatus `json:"status"`
	SourceKey      string      `json:"sourceKey"`
	OutputLocation string      `json:"outputLocation,omitempty"`
	PartitionLabel string      `json:"partitionLabel,omitempty"`
	LastError      string      `json:"lastError,omitempty"`
}
