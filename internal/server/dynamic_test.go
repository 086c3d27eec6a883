package server

import (
	"context"
	"errors"
	"testing"

	"github.com/librettohq/libretto/internal/providers"
)

func chatReq() *providers.ChatRequest {
	return &providers.ChatRequest{
		Messages: []providers.Message{{Role: "user", Content: "hi"}},
	}
}

func TestDynamicChat_ResolvesPerCall(t *testing.T) {
	registry := providers.NewRegistry()
	name := "primary"
	chat := &dynamicChat{registry: registry, name: func() string { return name }}

	_, err := chat.Chat(context.Background(), chatReq())
	if !errors.Is(err, providers.ErrNotConfigured) {
		t.Fatalf("Chat() before registration error = %v, want ErrNotConfigured", err)
	}

	primary := providers.NewMockChatClient()
	primary.ResponseText = "from primary"
	registry.RegisterChat("primary", primary)

	res, err := chat.Chat(context.Background(), chatReq())
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if res.Content != "from primary" {
		t.Errorf("Content = %q, want %q", res.Content, "from primary")
	}

	// Swapping the default name redirects the next call without
	// rebuilding the adapter.
	secondary := providers.NewMockChatClient()
	secondary.ResponseText = "from secondary"
	registry.RegisterChat("secondary", secondary)
	name = "secondary"

	res, err = chat.Chat(context.Background(), chatReq())
	if err != nil {
		t.Fatalf("Chat() after name switch error = %v", err)
	}
	if res.Content != "from secondary" {
		t.Errorf("Content after name switch = %q, want %q", res.Content, "from secondary")
	}
	if primary.RequestCount() != 1 || secondary.RequestCount() != 1 {
		t.Errorf("request counts = %d/%d, want 1/1", primary.RequestCount(), secondary.RequestCount())
	}
}

func TestDynamicChat_RateMethodsForward(t *testing.T) {
	registry := providers.NewRegistry()
	chat := &dynamicChat{registry: registry, name: func() string { return "c" }}

	if rps := chat.RequestsPerSecond(); rps != 0 {
		t.Errorf("RequestsPerSecond() unregistered = %v, want 0", rps)
	}

	mock := providers.NewMockChatClient()
	mock.RPS = 7
	mock.Retries = 5
	registry.RegisterChat("c", mock)

	if rps := chat.RequestsPerSecond(); rps != 7 {
		t.Errorf("RequestsPerSecond() = %v, want 7", rps)
	}
	if n := chat.MaxRetries(); n != 5 {
		t.Errorf("MaxRetries() = %d, want 5", n)
	}
}

func TestDynamicASR_NotConfigured(t *testing.T) {
	registry := providers.NewRegistry()
	asr := &dynamicASR{registry: registry, name: func() string { return "whisper" }}

	_, err := asr.Transcribe(context.Background(), &providers.ASRRequest{})
	if !errors.Is(err, providers.ErrNotConfigured) {
		t.Fatalf("Transcribe() error = %v, want ErrNotConfigured", err)
	}

	mock := providers.NewMockASRClient()
	mock.Text = "hello there"
	registry.RegisterASR("whisper", mock)

	res, err := asr.Transcribe(context.Background(), &providers.ASRRequest{Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Text != "hello there" {
		t.Errorf("Text = %q, want %q", res.Text, "hello there")
	}
}
