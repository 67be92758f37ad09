package events

import "time"

// Subjects the daemon publishes for the desktop shell to subscribe to.
const (
	SubjectRecordingSaved         = "recording.saved"
	SubjectRecordingEnriched      = "recording.enriched"
	SubjectTranscriptionCompleted = "transcription.completed"
	SubjectModelDownloadProgress  = "model.download.progress"
)

// Publisher is the fire-and-forget side of the event bus. Implementations
// must never block the caller; delivery failures are logged, not returned.
type Publisher interface {
	PublishJSON(subject string, payload any)
}

// Segment is a time-bounded span of a transcript.
type Segment struct {
	ID         int     `json:"id"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Transcription is the normalized result shape shared by the cloud proxy
// and the local engine.
type Transcription struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments"`
}

// TranscriptionCompleted summarizes a finished transcription without
// carrying the transcript itself.
type TranscriptionCompleted struct {
	Source       string    `json:"source"` // cloud or local
	Language     string    `json:"language"`
	Duration     float64   `json:"duration"`
	SegmentCount int       `json:"segment_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// DownloadProgress mirrors the progress stream of a model download.
type DownloadProgress struct {
	Variant         string    `json:"variant"`
	BytesDownloaded int64     `json:"bytes_downloaded"`
	TotalBytes      int64     `json:"total_bytes"`
	Percentage      float64   `json:"percentage"`
	Status          string    `json:"status"` // starting, downloading, validating, completed, failed
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}
