package openai

// KeyStatus reports whether the upstream credential is present, plausible,
// and currently accepted. Valid is nil when the answer is unknown (the
// upstream returned an ambiguous status or was unreachable).
type KeyStatus struct {
	Configured bool    `json:"configured"`
	Valid      *bool   `json:"valid"`
	Error      *string `json:"error"`
}

// TranscribeRequest carries one audio submission to the upstream provider.
// Optional fields are forwarded only when non-empty.
type TranscribeRequest struct {
	Filename    string
	Audio       []byte
	Language    string
	Prompt      string
	Temperature string
}

// verboseTranscription is the provider's verbose_json response shape.
// Text is a pointer so a missing field can be told apart from an empty
// transcript.
type verboseTranscription struct {
	Task     string           `json:"task"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Text     *string          `json:"text"`
	Segments []verboseSegment `json:"segments"`
}

type verboseSegment struct {
	ID               int     `json:"id"`
	Seek             int     `json:"seek"`
	Start            float64 `json:"start"`
	End              float64 `json:"end"`
	Text             string  `json:"text"`
	Tokens           []int   `json:"tokens"`
	Temperature      float64 `json:"temperature"`
	AvgLogprob       float64 `json:"avg_logprob"`
	CompressionRatio float64 `json:"compression_ratio"`
	NoSpeechProb     float64 `json:"no_speech_prob"`
}

// errorResponse is the provider's error body.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}
