package providers

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrNotConfigured indicates a provider name with no registered client
// behind it. Callers can errors.Is against it to distinguish a missing
// provider from a live provider failing.
var ErrNotConfigured = errors.New("provider not configured")

// Registry holds references to TTS, ASR and chat clients.
// It supports config-driven instantiation, hot-reload, and provides
// thread-safe access.
type Registry struct {
	mu          sync.RWMutex
	ttsClients  map[string]TTSProvider
	asrClients  map[string]ASRProvider
	chatClients map[string]ChatProvider
	logger      *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		ttsClients:  make(map[string]TTSProvider),
		asrClients:  make(map[string]ASRProvider),
		chatClients: make(map[string]ChatProvider),
		logger:      slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// RegisterTTS registers a TTS client by name.
func (r *Registry) RegisterTTS(name string, client TTSProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ttsClients[name] = client
	if r.logger != nil {
		r.logger.Info("registered TTS provider", "name", name)
	}
}

// RegisterASR registers an ASR client by name.
func (r *Registry) RegisterASR(name string, client ASRProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asrClients[name] = client
	if r.logger != nil {
		r.logger.Info("registered ASR provider", "name", name)
	}
}

// RegisterChat registers a chat client by name.
func (r *Registry) RegisterChat(name string, client ChatProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chatClients[name] = client
	if r.logger != nil {
		r.logger.Info("registered chat provider", "name", name)
	}
}

// GetTTS returns a TTS client by name.
func (r *Registry) GetTTS(name string) (TTSProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.ttsClients[name]
	if !ok {
		return nil, fmt.Errorf("TTS provider %s: %w", name, ErrNotConfigured)
	}
	return client, nil
}

// GetASR returns an ASR client by name.
func (r *Registry) GetASR(name string) (ASRProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.asrClients[name]
	if !ok {
		return nil, fmt.Errorf("ASR provider %s: %w", name, ErrNotConfigured)
	}
	return client, nil
}

// GetChat returns a chat client by name.
func (r *Registry) GetChat(name string) (ChatProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.chatClients[name]
	if !ok {
		return nil, fmt.Errorf("chat provider %s: %w", name, ErrNotConfigured)
	}
	return client, nil
}

// ListTTS returns all registered TTS provider names.
func (r *Registry) ListTTS() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ttsClients))
	for name := range r.ttsClients {
		names = append(names, name)
	}
	return names
}

// ListASR returns all registered ASR provider names.
func (r *Registry) ListASR() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.asrClients))
	for name := range r.asrClients {
		names = append(names, name)
	}
	return names
}

// ListChat returns all registered chat provider names.
func (r *Registry) ListChat() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.chatClients))
	for name := range r.chatClients {
		names = append(names, name)
	}
	return names
}

// HasTTS checks if a TTS client is registered.
func (r *Registry) HasTTS(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ttsClients[name]
	return ok
}

// HasASR checks if an ASR client is registered.
func (r *Registry) HasASR(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.asrClients[name]
	return ok
}

// HasChat checks if a chat client is registered.
func (r *Registry) HasChat(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.chatClients[name]
	return ok
}

// TTSClients returns a map of all registered TTS clients.
func (r *Registry) TTSClients() map[string]TTSProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]TTSProvider, len(r.ttsClients))
	for name, client := range r.ttsClients {
		result[name] = client
	}
	return result
}

// ASRClients returns a map of all registered ASR clients.
func (r *Registry) ASRClients() map[string]ASRProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]ASRProvider, len(r.asrClients))
	for name, client := range r.asrClients {
		result[name] = client
	}
	return result
}

// ChatClients returns a map of all registered chat clients.
func (r *Registry) ChatClients() map[string]ChatProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]ChatProvider, len(r.chatClients))
	for name, client := range r.chatClients {
		result[name] = client
	}
	return result
}

// RegistryConfig defines the providers to instantiate from config.
// This mirrors the config.Config structure for provider setup.
type RegistryConfig struct {
	// TTSProviders maps provider names to their config
	TTSProviders map[string]TTSProviderConfig

	// ASRProviders maps provider names to their config
	ASRProviders map[string]ASRProviderConfig

	// ChatProviders maps provider names to their config
	ChatProviders map[string]ChatProviderConfig
}

// TTSProviderConfig matches config.TTSProviderCfg with resolved API key.
type TTSProviderConfig struct {
	Type      string  // "openai", "deepinfra", "elevenlabs"
	Model     string  // Model name
	Voice     string  // Default voice
	APIKey    string  // Resolved API key
	RateLimit float64 // Requests per second
	Enabled   bool
}

// ASRProviderConfig matches config.ASRProviderCfg with resolved API key.
type ASRProviderConfig struct {
	Type      string  // "openai-whisper", "whisperd"
	Model     string  // Model name
	APIKey    string  // Resolved API key
	Endpoint  string  // Base URL for local providers
	RateLimit float64 // Requests per second
	Enabled   bool
}

// ChatProviderConfig matches config.LLMProviderCfg with resolved API key.
type ChatProviderConfig struct {
	Type      string  // "openai", "openrouter"
	Model     string  // Model name
	APIKey    string  // Resolved API key
	RateLimit float64 // Requests per second
	Enabled   bool
}

// NewRegistryFromConfig creates a registry with providers based on
// configuration. Only enabled providers with valid credentials will be
// registered.
func NewRegistryFromConfig(cfg RegistryConfig) *Registry {
	r := NewRegistry()
	r.applyConfig(cfg)
	return r
}

// Reload updates the registry based on new configuration.
// Providers that are no longer configured will be unregistered.
// Providers with changed settings will be re-registered.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wantTTS := make(map[string]bool)
	wantASR := make(map[string]bool)
	wantChat := make(map[string]bool)

	for name, provCfg := range cfg.TTSProviders {
		if !provCfg.Enabled || provCfg.APIKey == "" {
			continue
		}
		wantTTS[name] = true

		existing, hasExisting := r.ttsClients[name]
		if !hasExisting || needsTTSUpdate(existing, provCfg) {
			client := createTTSClient(provCfg)
			if client != nil {
				r.ttsClients[name] = client
				r.logReload(hasExisting, "TTS", name, provCfg.Type)
			}
		}
	}

	for name, provCfg := range cfg.ASRProviders {
		if !provCfg.Enabled || !asrCredentialsOK(provCfg) {
			continue
		}
		wantASR[name] = true

		existing, hasExisting := r.asrClients[name]
		if !hasExisting || needsASRUpdate(existing, provCfg) {
			client := createASRClient(provCfg)
			if client != nil {
				r.asrClients[name] = client
				r.logReload(hasExisting, "ASR", name, provCfg.Type)
			}
		}
	}

	for name, provCfg := range cfg.ChatProviders {
		if !provCfg.Enabled || provCfg.APIKey == "" {
			continue
		}
		wantChat[name] = true

		existing, hasExisting := r.chatClients[name]
		if !hasExisting || needsChatUpdate(existing, provCfg) {
			client := createChatClient(provCfg)
			if client != nil {
				r.chatClients[name] = client
				r.logReload(hasExisting, "chat", name, provCfg.Type)
			}
		}
	}

	// Remove providers that are no longer configured
	for name := range r.ttsClients {
		if !wantTTS[name] {
			delete(r.ttsClients, name)
			if r.logger != nil {
				r.logger.Info("unregistered TTS provider", "name", name)
			}
		}
	}
	for name := range r.asrClients {
		if !wantASR[name] {
			delete(r.asrClients, name)
			if r.logger != nil {
				r.logger.Info("unregistered ASR provider", "name", name)
			}
		}
	}
	for name := range r.chatClients {
		if !wantChat[name] {
			delete(r.chatClients, name)
			if r.logger != nil {
				r.logger.Info("unregistered chat provider", "name", name)
			}
		}
	}
}

func (r *Registry) logReload(updated bool, kind, name, typ string) {
	if r.logger == nil {
		return
	}
	if updated {
		r.logger.Info("updated "+kind+" provider", "name", name, "type", typ)
	} else {
		r.logger.Info("registered "+kind+" provider", "name", name, "type", typ)
	}
}

// applyConfig applies configuration without locking (used during init).
func (r *Registry) applyConfig(cfg RegistryConfig) {
	for name, provCfg := range cfg.TTSProviders {
		if !provCfg.Enabled || provCfg.APIKey == "" {
			continue
		}
		if client := createTTSClient(provCfg); client != nil {
			r.ttsClients[name] = client
		}
	}

	for name, provCfg := range cfg.ASRProviders {
		if !provCfg.Enabled || !asrCredentialsOK(provCfg) {
			continue
		}
		if client := createASRClient(provCfg); client != nil {
			r.asrClients[name] = client
		}
	}

	for name, provCfg := range cfg.ChatProviders {
		if !provCfg.Enabled || provCfg.APIKey == "" {
			continue
		}
		if client := createChatClient(provCfg); client != nil {
			r.chatClients[name] = client
		}
	}
}

// asrCredentialsOK reports whether the ASR config carries what its type
// needs. Local whisperd needs an endpoint rather than a key.
func asrCredentialsOK(cfg ASRProviderConfig) bool {
	if cfg.Type == "whisperd" {
		return cfg.Endpoint != ""
	}
	return cfg.APIKey != ""
}

// createTTSClient creates a TTS client based on provider type.
func createTTSClient(cfg TTSProviderConfig) TTSProvider {
	switch cfg.Type {
	case "openai":
		return NewOpenAITTSClient(OpenAITTSConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			Voice:     cfg.Voice,
			RateLimit: cfg.RateLimit,
		})
	case "deepinfra":
		return NewDeepInfraTTSClient(DeepInfraTTSConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			Voice:     cfg.Voice,
			RateLimit: cfg.RateLimit,
		})
	case "elevenlabs":
		return NewElevenLabsTTSClient(ElevenLabsTTSConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			Voice:     cfg.Voice,
			RateLimit: cfg.RateLimit,
		})
	default:
		return nil
	}
}

// createASRClient creates an ASR client based on provider type.
func createASRClient(cfg ASRProviderConfig) ASRProvider {
	switch cfg.Type {
	case "openai-whisper":
		return NewOpenAIWhisperClient(OpenAIWhisperConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			RateLimit: cfg.RateLimit,
		})
	case "whisperd":
		return NewWhisperdClient(WhisperdConfig{
			Endpoint:  cfg.Endpoint,
			RateLimit: cfg.RateLimit,
		})
	default:
		return nil
	}
}

// createChatClient creates a chat client based on provider type.
func createChatClient(cfg ChatProviderConfig) ChatProvider {
	switch cfg.Type {
	case "openai":
		return NewOpenAIChatClient(OpenAIChatConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			RateLimit: cfg.RateLimit,
		})
	case "openrouter":
		return NewOpenRouterClient(OpenRouterConfig{
			APIKey:       cfg.APIKey,
			DefaultModel: cfg.Model,
			RPS:          cfg.RateLimit,
		})
	default:
		return nil
	}
}

// needsTTSUpdate checks if a TTS client needs to be recreated.
func needsTTSUpdate(client TTSProvider, cfg TTSProviderConfig) bool {
	switch c := client.(type) {
	case *OpenAITTSClient:
		return c.apiKey != cfg.APIKey ||
			c.model != cfg.Model ||
			c.voice != cfg.Voice ||
			c.rateLimit != cfg.RateLimit
	case *DeepInfraTTSClient:
		return c.apiKey != cfg.APIKey ||
			c.model != cfg.Model ||
			c.voice != cfg.Voice ||
			c.rateLimit != cfg.RateLimit
	case *ElevenLabsTTSClient:
		return c.apiKey != cfg.APIKey ||
			c.model != cfg.Model ||
			c.voice != cfg.Voice ||
			c.rateLimit != cfg.RateLimit
	default:
		return true
	}
}

// needsASRUpdate checks if an ASR client needs to be recreated.
func needsASRUpdate(client ASRProvider, cfg ASRProviderConfig) bool {
	switch c := client.(type) {
	case *OpenAIWhisperClient:
		return c.apiKey != cfg.APIKey ||
			c.model != cfg.Model ||
			c.rateLimit != cfg.RateLimit
	case *WhisperdClient:
		return c.endpoint != cfg.Endpoint
	default:
		return true
	}
}

// needsChatUpdate checks if a chat client needs to be recreated.
func needsChatUpdate(client ChatProvider, cfg ChatProviderConfig) bool {
	switch c := client.(type) {
	case *OpenAIChatClient:
		return c.apiKey != cfg.APIKey ||
			c.defaultModel != cfg.Model ||
			c.rateLimit != cfg.RateLimit
	case *OpenRouterClient:
		return c.apiKey != cfg.APIKey ||
			c.defaultModel != cfg.Model ||
			c.rps != cfg.RateLimit
	default:
		return true
	}
}
