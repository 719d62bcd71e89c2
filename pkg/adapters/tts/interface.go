package tts

import "context"

// Audio is one synthesized utterance, linear PCM16 mono.
type Audio struct {
	PCM        []byte
	SampleRate int
}

// Synthesizer renders agent reply text into audio.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize blocks until the utterance is rendered or ctx ends.
	Synthesize(ctx context.Context, text string) (Audio, error)
}
