package server

import (
	"context"
	"time"

	"github.com/librettohq/libretto/internal/config"
	"github.com/librettohq/libretto/internal/providers"
)

// llmDefault returns a resolver for the configured default chat provider.
func llmDefault(mgr *config.Manager) func() string {
	return func() string { return mgr.Get().Defaults.LLMProvider }
}

// asrDefault returns a resolver for the configured default ASR provider.
func asrDefault(mgr *config.Manager) func() string {
	return func() string { return mgr.Get().Defaults.ASRProvider }
}

// dynamicChat is a ChatProvider that looks up the configured default
// client in the registry on every call. Long-lived services hold it
// instead of a fixed client so reloads and default changes apply.
type dynamicChat struct {
	registry *providers.Registry
	name     func() string
}

func (d *dynamicChat) Chat(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResult, error) {
	client, err := d.registry.GetChat(d.name())
	if err != nil {
		return nil, err
	}
	return client.Chat(ctx, req)
}

func (d *dynamicChat) Name() string { return d.name() }

func (d *dynamicChat) RequestsPerSecond() float64 {
	if client, err := d.registry.GetChat(d.name()); err == nil {
		return client.RequestsPerSecond()
	}
	return 0
}

func (d *dynamicChat) MaxRetries() int {
	if client, err := d.registry.GetChat(d.name()); err == nil {
		return client.MaxRetries()
	}
	return 0
}

func (d *dynamicChat) RetryDelayBase() time.Duration {
	if client, err := d.registry.GetChat(d.name()); err == nil {
		return client.RetryDelayBase()
	}
	return 0
}

// dynamicASR mirrors dynamicChat for transcription. A missing client
// surfaces as providers.ErrNotConfigured, which the alignment chain
// reads as the backend stepping aside rather than failing.
type dynamicASR struct {
	registry *providers.Registry
	name     func() string
}

func (d *dynamicASR) Transcribe(ctx context.Context, req *providers.ASRRequest) (*providers.ASRResult, error) {
	client, err := d.registry.GetASR(d.name())
	if err != nil {
		return nil, err
	}
	return client.Transcribe(ctx, req)
}

func (d *dynamicASR) Name() string { return d.name() }

func (d *dynamicASR) RequestsPerSecond() float64 {
	if client, err := d.registry.GetASR(d.name()); err == nil {
		return client.RequestsPerSecond()
	}
	return 0
}

func (d *dynamicASR) MaxRetries() int {
	if client, err := d.registry.GetASR(d.name()); err == nil {
		return client.MaxRetries()
	}
	return 0
}

func (d *dynamicASR) RetryDelayBase() time.Duration {
	if client, err := d.registry.GetASR(d.name()); err == nil {
		return client.RetryDelayBase()
	}
	return 0
}

var (
	_ providers.ChatProvider = (*dynamicChat)(nil)
	_ providers.ASRProvider  = (*dynamicASR)(nil)
)
