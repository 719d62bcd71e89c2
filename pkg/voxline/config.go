package voxline

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/voxline/voxline/pkg/configutil"
	"github.com/voxline/voxline/pkg/gateway"
)

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

type SessionConfig struct {
	HistoryWindow       int     `mapstructure:"history_window"`
	CompletionTimeoutMS int     `mapstructure:"completion_timeout_ms"`
	MaxTokens           int     `mapstructure:"max_tokens"`
	Temperature         float64 `mapstructure:"temperature"`
	FailureThreshold    int     `mapstructure:"failure_threshold"`
	IdleTimeoutMS       int     `mapstructure:"idle_timeout_ms"`
	DispatchFallback    string  `mapstructure:"dispatch_fallback"`
}

type AudioConfig struct {
	SampleRate    int     `mapstructure:"sample_rate"`
	VADThreshold  float64 `mapstructure:"vad_threshold"`
	MinSilenceMS  int     `mapstructure:"min_silence_ms"`
	MaxSegmentMS  int     `mapstructure:"max_segment_ms"`
	MinConfidence float64 `mapstructure:"min_confidence"`
	SegmentQueue  int     `mapstructure:"segment_queue"`
	OutboundQueue int     `mapstructure:"outbound_queue"`
}

type BusinessConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
}

type RetrievalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	APIKey    string `mapstructure:"api_key"`
	TopK      int    `mapstructure:"top_k"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
	Cache     struct {
		Enabled bool   `mapstructure:"enabled"`
		Addr    string `mapstructure:"addr"`
		TTLMS   int    `mapstructure:"ttl_ms"`
	} `mapstructure:"cache"`
}

type TelephonyConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
	PublicURL  string `mapstructure:"public_url"`
}

type ObservabilityConfig struct {
	JSONLPath  string `mapstructure:"jsonl_path"`
	Prometheus bool   `mapstructure:"prometheus"`
	ArchiveDir string `mapstructure:"archive_dir"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	ScriptPath    string              `mapstructure:"script_path"`
	Gateway       gateway.Config      `mapstructure:"gateway"`
	Session       SessionConfig       `mapstructure:"session"`
	Audio         AudioConfig         `mapstructure:"audio"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Business      BusinessConfig      `mapstructure:"business"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Telephony     TelephonyConfig     `mapstructure:"telephony"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("script_path", "scripts/default.json")
	v.SetDefault("gateway.addr", ":8080")
	v.SetDefault("session.history_window", 8)
	v.SetDefault("session.completion_timeout_ms", 20000)
	v.SetDefault("session.max_tokens", 512)
	v.SetDefault("session.temperature", 0.3)
	v.SetDefault("session.failure_threshold", 3)
	v.SetDefault("session.idle_timeout_ms", 600000)
	v.SetDefault("session.dispatch_fallback", "I'm sorry, the request could not be completed right now.")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.vad_threshold", 0.35)
	v.SetDefault("audio.min_silence_ms", 500)
	v.SetDefault("audio.max_segment_ms", 30000)
	v.SetDefault("audio.min_confidence", 0.5)
	v.SetDefault("audio.segment_queue", 8)
	v.SetDefault("audio.outbound_queue", 32)
	v.SetDefault("business.timeout_ms", 30000)
	v.SetDefault("retrieval.enabled", false)
	v.SetDefault("retrieval.top_k", 3)
	v.SetDefault("retrieval.timeout_ms", 5000)
	v.SetDefault("retrieval.cache.enabled", false)
	v.SetDefault("retrieval.cache.addr", "localhost:6379")
	v.SetDefault("retrieval.cache.ttl_ms", 600000)
	v.SetDefault("telephony.enabled", false)
	v.SetDefault("observability.prometheus", true)
	v.SetDefault("observability.jsonl_path", "")
	v.SetDefault("observability.archive_dir", "")
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	expandEnvStrings(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := configutil.RequireString(c.ScriptPath, "script_path"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Vendors.LLM.Provider, "vendors.llm.provider"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Vendors.STT.Provider, "vendors.stt.provider"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Vendors.TTS.Provider, "vendors.tts.provider"); err != nil {
		return err
	}
	if c.Retrieval.Enabled {
		if err := configutil.RequireString(c.Retrieval.Endpoint, "retrieval.endpoint"); err != nil {
			return err
		}
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func expandEnvStrings(cfg *Config) {
	cfg.ScriptPath = os.ExpandEnv(cfg.ScriptPath)
	cfg.Business.BaseURL = os.ExpandEnv(cfg.Business.BaseURL)
	cfg.Business.APIKey = os.ExpandEnv(cfg.Business.APIKey)
	cfg.Retrieval.Endpoint = os.ExpandEnv(cfg.Retrieval.Endpoint)
	cfg.Retrieval.APIKey = os.ExpandEnv(cfg.Retrieval.APIKey)
	cfg.Retrieval.Cache.Addr = os.ExpandEnv(cfg.Retrieval.Cache.Addr)
	cfg.Telephony.AccountSID = os.ExpandEnv(cfg.Telephony.AccountSID)
	cfg.Telephony.AuthToken = os.ExpandEnv(cfg.Telephony.AuthToken)
	cfg.Telephony.PublicURL = os.ExpandEnv(cfg.Telephony.PublicURL)
	cfg.Observability.ArchiveDir = os.ExpandEnv(cfg.Observability.ArchiveDir)
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	for k, v := range settings {
		if s, ok := v.(string); ok {
			settings[k] = os.ExpandEnv(s)
		}
	}
	return settings
}
