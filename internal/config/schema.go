package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds libretto configuration.
// Loaded from config.yaml in the working directory or $HOME/.libretto.
type Config struct {
	Server       ServerCfg                 `mapstructure:"server" yaml:"server"`
	Storage      StorageCfg                `mapstructure:"storage" yaml:"storage"`
	TTSProviders map[string]TTSProviderCfg `mapstructure:"tts_providers" yaml:"tts_providers"`
	ASRProviders map[string]ASRProviderCfg `mapstructure:"asr_providers" yaml:"asr_providers"`
	LLMProviders map[string]LLMProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers"`
	Defaults     DefaultsCfg               `mapstructure:"defaults" yaml:"defaults"`
	Align        AlignCfg                  `mapstructure:"align" yaml:"align"`
	Audio        AudioCfg                  `mapstructure:"audio" yaml:"audio"`
	Pipeline     PipelineCfg               `mapstructure:"pipeline" yaml:"pipeline"`
	Whisperd     WhisperdConfig            `mapstructure:"whisperd" yaml:"whisperd"`
	Log          LogCfg                    `mapstructure:"log" yaml:"log"`
}

// ServerCfg configures the HTTP server.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// Addr returns the host:port listen address.
func (s ServerCfg) Addr() string {
	return s.Host + ":" + s.Port
}

// StorageCfg configures the on-disk book store.
type StorageCfg struct {
	// Root is the directory holding one subdirectory per book.
	// Empty means $HOME/.libretto/books.
	Root string `mapstructure:"root" yaml:"root"`
}

// Path returns the storage root, resolving the default when unset.
func (s StorageCfg) Path() (string, error) {
	if s.Root != "" {
		return s.Root, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".libretto", "books"), nil
}

// TTSProviderCfg configures a text-to-speech provider.
type TTSProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type"`             // "openai", "deepinfra", "elevenlabs"
	Model     string  `mapstructure:"model" yaml:"model"`           // Model name
	Voice     string  `mapstructure:"voice" yaml:"voice"`           // Default voice
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"`       // API key (supports ${ENV_VAR} syntax)
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
}

// ASRProviderCfg configures a speech-to-text provider used for forced alignment.
type ASRProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type"`             // "openai-whisper", "whisperd"
	Model     string  `mapstructure:"model" yaml:"model"`           // Model name
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"`       // API key (supports ${ENV_VAR} syntax)
	Endpoint  string  `mapstructure:"endpoint" yaml:"endpoint"`     // Base URL for local providers
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
}

// LLMProviderCfg configures an LLM provider used for chapter translation.
type LLMProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type"`             // "openai", "openrouter"
	Model     string  `mapstructure:"model" yaml:"model"`           // Model name
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"`       // API key (supports ${ENV_VAR} syntax)
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg specifies default provider selections.
type DefaultsCfg struct {
	TTSProvider string `mapstructure:"tts_provider" yaml:"tts_provider"`
	ASRProvider string `mapstructure:"asr_provider" yaml:"asr_provider"`
	LLMProvider string `mapstructure:"llm_provider" yaml:"llm_provider"`
}

// AlignCfg configures sync table generation.
type AlignCfg struct {
	// Backend selects the aligner: "auto", "boundary", "asr" or "dtw".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// MinCoverage is the timed-token fraction below which alignment
	// is rejected as diverged.
	MinCoverage float64 `mapstructure:"min_coverage" yaml:"min_coverage"`
	// BoundaryMinCoverage is the provisional-timing coverage required
	// before the boundary backend is eligible under "auto".
	BoundaryMinCoverage float64 `mapstructure:"boundary_min_coverage" yaml:"boundary_min_coverage"`
}

// AudioCfg configures canonical audio encoding.
type AudioCfg struct {
	Format     string `mapstructure:"format" yaml:"format"`           // "mp3" or "wav"
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"` // Hz
	Bitrate    string `mapstructure:"bitrate" yaml:"bitrate"`         // e.g. "128k", mp3 only
}

// PipelineCfg configures job execution.
type PipelineCfg struct {
	MaxWorkers              int `mapstructure:"max_workers" yaml:"max_workers"`
	RetryAttempts           int `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	TTSTimeoutSeconds       int `mapstructure:"tts_timeout_seconds" yaml:"tts_timeout_seconds"`
	AlignTimeoutSeconds     int `mapstructure:"align_timeout_seconds" yaml:"align_timeout_seconds"`
	TranslateTimeoutSeconds int `mapstructure:"translate_timeout_seconds" yaml:"translate_timeout_seconds"`
}

// TTSTimeout returns the per-chapter synthesis deadline.
func (p PipelineCfg) TTSTimeout() time.Duration {
	return time.Duration(p.TTSTimeoutSeconds) * time.Second
}

// AlignTimeout returns the per-chapter alignment deadline.
func (p PipelineCfg) AlignTimeout() time.Duration {
	return time.Duration(p.AlignTimeoutSeconds) * time.Second
}

// TranslateTimeout returns the per-chapter translation deadline.
func (p PipelineCfg) TranslateTimeout() time.Duration {
	return time.Duration(p.TranslateTimeoutSeconds) * time.Second
}

// WhisperdConfig holds the whisperd alignment container configuration.
type WhisperdConfig struct {
	// Enabled starts the container alongside the server.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// ContainerName is the Docker container name (default: libretto-whisperd)
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	// Image is the Docker image to use
	Image string `mapstructure:"image" yaml:"image"`
	// Port is the host port to bind (default: 9000)
	Port string `mapstructure:"port" yaml:"port"`
	// Model is the whisper model preloaded by the container
	Model string `mapstructure:"model" yaml:"model"`
}

// LogCfg configures structured logging.
type LogCfg struct {
	Level  string `mapstructure:"level" yaml:"level"`   // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: "8080",
		},
		Storage: StorageCfg{},
		TTSProviders: map[string]TTSProviderCfg{
			"openai": {
				Type:      "openai",
				Model:     "gpt-4o-mini-tts",
				Voice:     "alloy",
				APIKey:    "${OPENAI_API_KEY}",
				RateLimit: 8.0,
				Enabled:   true,
			},
		},
		ASRProviders: map[string]ASRProviderCfg{
			"openai-whisper": {
				Type:      "openai-whisper",
				Model:     "whisper-1",
				APIKey:    "${OPENAI_API_KEY}",
				RateLimit: 2.0,
				Enabled:   true,
			},
			"whisperd": {
				Type:     "whisperd",
				Model:    "base",
				Endpoint: "http://localhost:9000",
				Enabled:  false,
			},
		},
		LLMProviders: map[string]LLMProviderCfg{
			"openai": {
				Type:      "openai",
				Model:     "gpt-4o-mini",
				APIKey:    "${OPENAI_API_KEY}",
				RateLimit: 2.0,
				Enabled:   true,
			},
		},
		Defaults: DefaultsCfg{
			TTSProvider: "openai",
			ASRProvider: "openai-whisper",
			LLMProvider: "openai",
		},
		Align: AlignCfg{
			Backend:             "auto",
			MinCoverage:         0.8,
			BoundaryMinCoverage: 0.95,
		},
		Audio: AudioCfg{
			Format:     "mp3",
			SampleRate: 44100,
			Bitrate:    "128k",
		},
		Pipeline: PipelineCfg{
			MaxWorkers:              4,
			RetryAttempts:           3,
			TTSTimeoutSeconds:       120,
			AlignTimeoutSeconds:     600,
			TranslateTimeoutSeconds: 90,
		},
		Whisperd: WhisperdConfig{
			Enabled:       false,
			ContainerName: "libretto-whisperd",
			Image:         "onerahmet/openai-whisper-asr-webservice:latest",
			Port:          "9000",
			Model:         "base",
		},
		Log: LogCfg{
			Level:  "info",
			Format: "text",
		},
	}
}

// GetTTSProvider returns a TTS provider config by name.
func (c *Config) GetTTSProvider(name string) (TTSProviderCfg, bool) {
	cfg, ok := c.TTSProviders[name]
	return cfg, ok
}

// GetASRProvider returns an ASR provider config by name.
func (c *Config) GetASRProvider(name string) (ASRProviderCfg, bool) {
	cfg, ok := c.ASRProviders[name]
	return cfg, ok
}

// GetLLMProvider returns an LLM provider config by name.
func (c *Config) GetLLMProvider(name string) (LLMProviderCfg, bool) {
	cfg, ok := c.LLMProviders[name]
	return cfg, ok
}

// EnabledTTSProviders returns all enabled TTS providers.
func (c *Config) EnabledTTSProviders() map[string]TTSProviderCfg {
	result := make(map[string]TTSProviderCfg)
	for name, cfg := range c.TTSProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}
