package providers

import (
	"os"
)

// TestConfig holds provider credentials loaded from environment variables.
// This allows integration tests to use the same configuration pattern as
// production.
type TestConfig struct {
	OpenAIAPIKey     string
	ElevenLabsAPIKey string
	DeepInfraAPIKey  string
	OpenRouterAPIKey string
	WhisperdEndpoint string
}

// LoadTestConfig loads provider API keys from environment variables.
// Returns a TestConfig with whatever keys are available.
func LoadTestConfig() TestConfig {
	return TestConfig{
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		ElevenLabsAPIKey: os.Getenv("ELEVENLABS_API_KEY"),
		DeepInfraAPIKey:  os.Getenv("DEEPINFRA_API_KEY"),
		OpenRouterAPIKey: os.Getenv("OPENROUTER_API_KEY"),
		WhisperdEndpoint: os.Getenv("WHISPERD_ENDPOINT"),
	}
}

// HasOpenAI returns true if an OpenAI API key is configured.
func (c TestConfig) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

// HasElevenLabs returns true if an ElevenLabs API key is configured.
func (c TestConfig) HasElevenLabs() bool {
	return c.ElevenLabsAPIKey != ""
}

// HasDeepInfra returns true if a DeepInfra API key is configured.
func (c TestConfig) HasDeepInfra() bool {
	return c.DeepInfraAPIKey != ""
}

// HasOpenRouter returns true if an OpenRouter API key is configured.
func (c TestConfig) HasOpenRouter() bool {
	return c.OpenRouterAPIKey != ""
}

// HasWhisperd returns true if a whisperd endpoint is configured.
func (c TestConfig) HasWhisperd() bool {
	return c.WhisperdEndpoint != ""
}

// HasAnyTTS returns true if any TTS provider is configured.
func (c TestConfig) HasAnyTTS() bool {
	return c.HasOpenAI() || c.HasElevenLabs() || c.HasDeepInfra()
}

// HasAnyASR returns true if any ASR provider is configured.
func (c TestConfig) HasAnyASR() bool {
	return c.HasOpenAI() || c.HasWhisperd()
}

// HasAnyChat returns true if any chat provider is configured.
func (c TestConfig) HasAnyChat() bool {
	return c.HasOpenAI() || c.HasOpenRouter()
}

// NewOpenAIWhisperClient creates an OpenAI transcription client from test
// config. Returns nil if not configured.
func (c TestConfig) NewOpenAIWhisperClient() *OpenAIWhisperClient {
	if !c.HasOpenAI() {
		return nil
	}
	return NewOpenAIWhisperClient(OpenAIWhisperConfig{
		APIKey: c.OpenAIAPIKey,
	})
}

// NewOpenRouterClient creates an OpenRouter client from test config.
// Returns nil if not configured.
func (c TestConfig) NewOpenRouterClient() *OpenRouterClient {
	if !c.HasOpenRouter() {
		return nil
	}
	return NewOpenRouterClient(OpenRouterConfig{
		APIKey: c.OpenRouterAPIKey,
	})
}

// ToRegistryConfig converts test config to a RegistryConfig for the provider
// registry. Only includes providers that have credentials configured.
func (c TestConfig) ToRegistryConfig() RegistryConfig {
	cfg := RegistryConfig{
		TTSProviders:  make(map[string]TTSProviderConfig),
		ASRProviders:  make(map[string]ASRProviderConfig),
		ChatProviders: make(map[string]ChatProviderConfig),
	}

	if c.HasOpenAI() {
		cfg.TTSProviders["openai"] = TTSProviderConfig{
			Type:      "openai",
			APIKey:    c.OpenAIAPIKey,
			RateLimit: 8,
			Enabled:   true,
		}
		cfg.ASRProviders["openai-whisper"] = ASRProviderConfig{
			Type:      "openai-whisper",
			APIKey:    c.OpenAIAPIKey,
			RateLimit: 2,
			Enabled:   true,
		}
		cfg.ChatProviders["openai"] = ChatProviderConfig{
			Type:      "openai",
			APIKey:    c.OpenAIAPIKey,
			RateLimit: 2,
			Enabled:   true,
		}
	}

	if c.HasElevenLabs() {
		cfg.TTSProviders["elevenlabs"] = TTSProviderConfig{
			Type:      "elevenlabs",
			APIKey:    c.ElevenLabsAPIKey,
			RateLimit: 10,
			Enabled:   true,
		}
	}

	if c.HasDeepInfra() {
		cfg.TTSProviders["deepinfra"] = TTSProviderConfig{
			Type:      "deepinfra",
			APIKey:    c.DeepInfraAPIKey,
			RateLimit: 5,
			Enabled:   true,
		}
	}

	if c.HasOpenRouter() {
		cfg.ChatProviders["openrouter"] = ChatProviderConfig{
			Type:      "openrouter",
			APIKey:    c.OpenRouterAPIKey,
			RateLimit: 10,
			Enabled:   true,
		}
	}

	if c.HasWhisperd() {
		cfg.ASRProviders["whisperd"] = ASRProviderConfig{
			Type:     "whisperd",
			Endpoint: c.WhisperdEndpoint,
			Enabled:  true,
		}
	}

	return cfg
}
