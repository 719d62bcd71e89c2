package stt

import "context"

// Result is the transcript for one complete speech segment.
type Result struct {
	Text       string
	Confidence float64
	Language   string
}

// Transcriber converts a finalized speech segment into text. The audio
// is linear PCM16, mono.
type Transcriber interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Transcribe blocks until the segment is transcribed or ctx ends.
	Transcribe(ctx context.Context, audio []byte, sampleRate int) (Result, error)
}
