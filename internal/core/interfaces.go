// Package core defines the core business types and interfaces for the speech service.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// SpeechRequest is a single call to the speech endpoint. Input must already fit
// within the vendor's per-request character limit.
type SpeechRequest struct {
	Model          string
	Voice          string
	Input          string
	ResponseFormat string
	Instructions   string
	Speed          float64
}

// SpeechGenerator turns one SpeechRequest into encoded audio bytes.
type SpeechGenerator interface {
	GenerateSpeech(ctx context.Context, req SpeechRequest) ([]byte, error)
}

// ProgressFunc is called after each chunk of a job has been synthesized.
type ProgressFunc func(done, total int)

// Job describes one user request: free-form text, a voice and a model.
// Empty Voice or Model fall back to the synthesizer defaults.
type Job struct {
	Text     string
	Voice    string
	Model    string
	Progress ProgressFunc
}

// Result is the outcome of a completed Job. Key is the unique storage key;
// Filename is the shorter name offered to the user as the download name.
type Result struct {
	Audio       []byte
	Key         string
	Filename    string
	ContentType string
	Voice       string
	Model       string
	Chunks      int
}

// Synthesizer converts a whole Job into a single audio artifact.
type Synthesizer interface {
	Synthesize(ctx context.Context, job Job) (*Result, error)
}
