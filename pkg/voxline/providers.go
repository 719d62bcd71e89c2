package voxline

import (
	"fmt"

	"github.com/voxline/voxline/pkg/adapters/stt"
	"github.com/voxline/voxline/pkg/adapters/tts"
	"github.com/voxline/voxline/pkg/completion"
	"github.com/voxline/voxline/pkg/configutil"
	"github.com/voxline/voxline/pkg/providers/deepgram"
	"github.com/voxline/voxline/pkg/providers/mock"
	"github.com/voxline/voxline/pkg/providers/piper"
	"github.com/voxline/voxline/pkg/providers/together"
)

func buildTranscriber(cfg VendorConfig, sampleRate int) (stt.Transcriber, error) {
	switch cfg.Provider {
	case "deepgram":
		if err := configutil.ValidateSettings(cfg.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language", "timeout_ms"},
		}); err != nil {
			return nil, fmt.Errorf("stt settings: %w", err)
		}
		var settings struct {
			APIKey    string `mapstructure:"api_key"`
			Model     string `mapstructure:"model"`
			Language  string `mapstructure:"language"`
			TimeoutMS int    `mapstructure:"timeout_ms"`
		}
		if err := configutil.DecodeSettings(cfg.Settings, &settings); err != nil {
			return nil, fmt.Errorf("stt settings: %w", err)
		}
		return deepgram.New(deepgram.Config{
			APIKey:   settings.APIKey,
			Model:    settings.Model,
			Language: settings.Language,
			Timeout:  ms(settings.TimeoutMS),
		}), nil
	case "mock":
		return &mock.Transcriber{}, nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", cfg.Provider)
	}
}

func buildSynthesizer(cfg VendorConfig, sampleRate int) (tts.Synthesizer, error) {
	switch cfg.Provider {
	case "piper":
		if err := configutil.ValidateSettings(cfg.Settings, configutil.Schema{
			Required: []string{"endpoint"},
			Optional: []string{"voice", "timeout_ms"},
		}); err != nil {
			return nil, fmt.Errorf("tts settings: %w", err)
		}
		var settings struct {
			Endpoint  string `mapstructure:"endpoint"`
			Voice     string `mapstructure:"voice"`
			TimeoutMS int    `mapstructure:"timeout_ms"`
		}
		if err := configutil.DecodeSettings(cfg.Settings, &settings); err != nil {
			return nil, fmt.Errorf("tts settings: %w", err)
		}
		return piper.New(piper.Config{
			Endpoint:   settings.Endpoint,
			Voice:      settings.Voice,
			SampleRate: sampleRate,
			Timeout:    ms(settings.TimeoutMS),
		})
	case "mock":
		return &mock.Synthesizer{SampleRate: sampleRate}, nil
	default:
		return nil, fmt.Errorf("unknown tts provider %q", cfg.Provider)
	}
}

func buildCompletion(cfg VendorConfig) (completion.Provider, error) {
	switch cfg.Provider {
	case "together":
		if err := configutil.ValidateSettings(cfg.Settings, configutil.Schema{
			Required: []string{"api_key", "model"},
			Optional: []string{"base_url"},
		}); err != nil {
			return nil, fmt.Errorf("llm settings: %w", err)
		}
		var settings struct {
			APIKey  string `mapstructure:"api_key"`
			Model   string `mapstructure:"model"`
			BaseURL string `mapstructure:"base_url"`
		}
		if err := configutil.DecodeSettings(cfg.Settings, &settings); err != nil {
			return nil, fmt.Errorf("llm settings: %w", err)
		}
		p := together.New(settings.APIKey, settings.Model)
		if settings.BaseURL != "" {
			p.BaseURL = settings.BaseURL
		}
		return p, nil
	case "mock":
		return &mock.CompletionProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
