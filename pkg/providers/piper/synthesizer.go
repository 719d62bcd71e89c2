package piper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/voxline/voxline/pkg/adapters/tts"
	"github.com/voxline/voxline/pkg/errorsx"
)

type Config struct {
	Endpoint   string
	Voice      string
	SampleRate int
	Timeout    time.Duration
}

// Synthesizer renders text through a Piper HTTP server. The server
// returns raw PCM16 at the configured rate.
type Synthesizer struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) (*Synthesizer, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("piper: endpoint is required")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Synthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (s *Synthesizer) Name() string { return "piper" }

func (s *Synthesizer) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	form := url.Values{}
	form.Set("text", text)
	if s.cfg.Voice != "" {
		form.Set("voice", s.cfg.Voice)
	}
	target := s.cfg.Endpoint + "?" + form.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return tts.Audio{}, errorsx.Wrap(err, errorsx.ReasonSynthesizeError, "request build failed")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return tts.Audio{}, errorsx.Wrap(err, errorsx.ReasonSynthesizeTimeout, "synthesis timed out")
		}
		return tts.Audio{}, errorsx.Wrap(err, errorsx.ReasonSynthesizeError, "synthesis failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return tts.Audio{}, errorsx.Wrap(
			fmt.Errorf("status %d: %s", resp.StatusCode, raw),
			errorsx.ReasonSynthesizeError, "synthesis rejected")
	}
	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Audio{}, errorsx.Wrap(err, errorsx.ReasonSynthesizeError, "audio read failed")
	}
	return tts.Audio{PCM: pcm, SampleRate: s.cfg.SampleRate}, nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
