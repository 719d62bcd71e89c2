package voxline

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/voxline/voxline/pkg/audio"
	"github.com/voxline/voxline/pkg/businessapi"
	"github.com/voxline/voxline/pkg/dispatch"
	"github.com/voxline/voxline/pkg/gateway"
	"github.com/voxline/voxline/pkg/logging"
	"github.com/voxline/voxline/pkg/metrics"
	"github.com/voxline/voxline/pkg/redact"
	"github.com/voxline/voxline/pkg/retrieval"
	"github.com/voxline/voxline/pkg/script"
	"github.com/voxline/voxline/pkg/session"
	"github.com/voxline/voxline/pkg/telephony"
)

// Engine assembles the whole stack from one config: script holder,
// session registry, vendor adapters, and the gateway in front.
type Engine struct {
	cfg      Config
	holder   *script.Holder
	registry *session.Registry
	server   *gateway.Server
	observer metrics.Observer
	logger   *slog.Logger
}

func NewEngine(cfg Config) (*Engine, error) {
	logger := logging.NewComponentLogger(slog.Default(), "engine")

	redact.SetEnabled(cfg.Privacy.RedactPII)

	sc, err := script.LoadFile(cfg.ScriptPath)
	if err != nil {
		return nil, fmt.Errorf("load script: %w", err)
	}
	holder := script.NewHolder(sc)

	observer, gatherer := buildObservers(cfg.Observability)

	provider, err := buildCompletion(cfg.Vendors.LLM)
	if err != nil {
		return nil, err
	}
	transcriber, err := buildTranscriber(cfg.Vendors.STT, cfg.Audio.SampleRate)
	if err != nil {
		return nil, err
	}
	synthesizer, err := buildSynthesizer(cfg.Vendors.TTS, cfg.Audio.SampleRate)
	if err != nil {
		return nil, err
	}

	var retriever retrieval.Retriever
	if cfg.Retrieval.Enabled {
		base, err := retrieval.NewHTTPRetriever(retrieval.Config{
			Endpoint: cfg.Retrieval.Endpoint,
			APIKey:   cfg.Retrieval.APIKey,
			TopK:     cfg.Retrieval.TopK,
			Timeout:  ms(cfg.Retrieval.TimeoutMS),
		})
		if err != nil {
			return nil, err
		}
		retriever = base
		if cfg.Retrieval.Cache.Enabled {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.Retrieval.Cache.Addr})
			retriever = retrieval.NewCachedRetriever(base, rdb, ms(cfg.Retrieval.Cache.TTLMS))
		}
	}

	var dispatcher *dispatch.Dispatcher
	if cfg.Business.BaseURL != "" {
		client, err := businessapi.NewHTTPClient(businessapi.Config{
			BaseURL: cfg.Business.BaseURL,
			APIKey:  cfg.Business.APIKey,
			Timeout: ms(cfg.Business.TimeoutMS),
		})
		if err != nil {
			return nil, err
		}
		dispatcher = dispatch.NewDispatcher(client, observer)
	}

	deps := session.Deps{
		Holder:     holder,
		Engine:     script.NewEngine(nil),
		Completion: provider,
		Dispatcher: dispatcher,
		Retriever:  retriever,
		Observer:   observer,
		Config: session.Config{
			HistoryWindow:     cfg.Session.HistoryWindow,
			RetrievalTopK:     cfg.Retrieval.TopK,
			CompletionTimeout: ms(cfg.Session.CompletionTimeoutMS),
			MaxTokens:         cfg.Session.MaxTokens,
			Temperature:       cfg.Session.Temperature,
			FailureThreshold:  cfg.Session.FailureThreshold,
			DispatchFallback:  cfg.Session.DispatchFallback,
		},
	}
	registry := session.NewRegistry(deps, ms(cfg.Session.IdleTimeoutMS))

	var archiver audio.Archiver = audio.NoopArchiver{}
	if cfg.Observability.ArchiveDir != "" {
		archiver, err = audio.NewDirArchiver(cfg.Observability.ArchiveDir)
		if err != nil {
			return nil, err
		}
	}

	voiceFactory := func(conv *session.Conversation) *session.VoiceSession {
		return session.NewVoiceSession(session.VoiceDeps{
			Conversation: conv,
			Transcriber:  transcriber,
			Synthesizer:  synthesizer,
			Segmenter: audio.NewSegmenter(audio.SegmenterConfig{
				MinSilence: ms(cfg.Audio.MinSilenceMS),
				MaxSegment: ms(cfg.Audio.MaxSegmentMS),
				SampleRate: cfg.Audio.SampleRate,
			}, audio.NewEnergyVAD(cfg.Audio.VADThreshold)),
			Archiver: archiver,
			Observer: observer,
			Config: session.VoiceConfig{
				SegmentQueue:  cfg.Audio.SegmentQueue,
				OutboundQueue: cfg.Audio.OutboundQueue,
				MinConfidence: cfg.Audio.MinConfidence,
				SampleRate:    cfg.Audio.SampleRate,
			},
		})
	}

	var dialer *telephony.Dialer
	if cfg.Telephony.Enabled {
		dialer = telephony.NewDialer(telephony.Config{
			AccountSID: cfg.Telephony.AccountSID,
			AuthToken:  cfg.Telephony.AuthToken,
			From:       cfg.Telephony.From,
			PublicURL:  cfg.Telephony.PublicURL,
		})
	}

	server := gateway.NewServer(gateway.Deps{
		Registry: registry,
		Holder:   holder,
		Voice:    voiceFactory,
		Dialer:   dialer,
		Gatherer: gatherer,
		Config:   cfg.Gateway,
	})

	logger.Info("engine assembled",
		"script", sc.Name,
		"llm", provider.Name(),
		"stt", transcriber.Name(),
		"tts", synthesizer.Name(),
		"retrieval", cfg.Retrieval.Enabled,
		"telephony", cfg.Telephony.Enabled,
	)
	return &Engine{
		cfg:      cfg,
		holder:   holder,
		registry: registry,
		server:   server,
		observer: observer,
		logger:   logger,
	}, nil
}

// Serve runs the gateway and the idle sweeper until ctx ends.
func (e *Engine) Serve(ctx context.Context) error {
	go e.registry.Sweep(ctx, 0)
	errCh := make(chan error, 1)
	go func() { errCh <- e.server.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return e.Shutdown()
	}
}

// Shutdown drains the gateway and flushes observers.
func (e *Engine) Shutdown() error {
	err := e.server.Shutdown(context.Background())
	if f, ok := e.observer.(metrics.Flusher); ok {
		_ = f.Flush()
	}
	e.logger.Info("engine stopped")
	return err
}

// Registry exposes the session registry for embedding callers.
func (e *Engine) Registry() *session.Registry { return e.registry }

func buildObservers(cfg ObservabilityConfig) (metrics.Observer, prometheus.Gatherer) {
	var list []metrics.Observer
	var gatherer prometheus.Gatherer
	if cfg.Prometheus {
		prom := metrics.NewPromObserver(nil)
		gatherer = prom.Registry()
		list = append(list, prom)
	}
	if cfg.JSONLPath != "" {
		if f, err := os.OpenFile(cfg.JSONLPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			list = append(list, metrics.NewAsyncObserver(metrics.NewJSONLObserver(f), 256))
		}
	}
	if len(list) == 0 {
		return metrics.NoopObserver{}, nil
	}
	if len(list) == 1 {
		return list[0], gatherer
	}
	return metrics.NewMultiObserver(list...), gatherer
}
