package deepgram

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/voxline/voxline/pkg/adapters/stt"
	"github.com/voxline/voxline/pkg/errorsx"
	"github.com/voxline/voxline/pkg/logging"
)

type Config struct {
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
}

// Transcriber sends finished speech segments to Deepgram's prerecorded
// endpoint. Segment-at-a-time keeps the adapter stateless; the session
// layer owns segmentation.
type Transcriber struct {
	cfg    Config
	rest   *api.Client
	logger *slog.Logger
}

func New(cfg Config) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := client.NewREST(cfg.APIKey, &interfaces.ClientOptions{})
	return &Transcriber{
		cfg:    cfg,
		rest:   api.New(c),
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_transcriber"),
	}
}

func (t *Transcriber) Name() string { return "deepgram" }

func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, sampleRate int) (stt.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       t.cfg.Model,
		Language:    t.cfg.Language,
		Encoding:    "linear16",
		SampleRate:  sampleRate,
		SmartFormat: true,
	}

	started := time.Now()
	res, err := t.rest.FromStream(ctx, bytes.NewReader(audio), options)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return stt.Result{}, errorsx.Wrap(err, errorsx.ReasonTranscribeTimeout, "transcription timed out")
		}
		return stt.Result{}, errorsx.Wrap(err, errorsx.ReasonTranscribeError, "transcription failed")
	}

	if len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
		return stt.Result{}, nil
	}
	alt := res.Results.Channels[0].Alternatives[0]
	t.logger.Debug("segment transcribed",
		slog.Int("audio_bytes", len(audio)),
		slog.Float64("confidence", alt.Confidence),
		slog.Int64("duration_ms", time.Since(started).Milliseconds()),
	)
	return stt.Result{
		Text:       alt.Transcript,
		Confidence: alt.Confidence,
		Language:   t.cfg.Language,
	}, nil
}

var _ stt.Transcriber = (*Transcriber)(nil)
