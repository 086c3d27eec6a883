package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMockTTSClient(t *testing.T) {
	t.Run("generate", func(t *testing.T) {
		c := NewMockTTSClient()
		c.Words = []WordStamp{
			{Text: "hello", Start: 0.0, End: 0.4},
			{Text: "world", Start: 0.5, End: 0.9},
		}

		result, err := c.Generate(context.Background(), &TTSRequest{
			Text:  "hello world",
			Voice: "test-voice",
		})

		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if !result.Success {
			t.Error("Success = false, want true")
		}
		if string(result.Audio) != "mock-audio" {
			t.Errorf("Audio = %q, want %q", result.Audio, "mock-audio")
		}
		if result.CharCount != len("hello world") {
			t.Errorf("CharCount = %d, want %d", result.CharCount, len("hello world"))
		}
		if len(result.Words) != 2 {
			t.Errorf("len(Words) = %d, want 2", len(result.Words))
		}
		if c.RequestCount() != 1 {
			t.Errorf("RequestCount = %d, want 1", c.RequestCount())
		}
	})

	t.Run("records requests", func(t *testing.T) {
		c := NewMockTTSClient()

		c.Generate(context.Background(), &TTSRequest{Text: "first"})
		c.Generate(context.Background(), &TTSRequest{Text: "second"})

		reqs := c.Requests()
		if len(reqs) != 2 {
			t.Fatalf("len(Requests()) = %d, want 2", len(reqs))
		}
		if reqs[1].Text != "second" {
			t.Errorf("Requests()[1].Text = %q, want %q", reqs[1].Text, "second")
		}
	})

	t.Run("failure", func(t *testing.T) {
		c := NewMockTTSClient()
		c.ShouldFail = true

		result, err := c.Generate(context.Background(), &TTSRequest{Text: "x"})
		if err == nil {
			t.Error("expected error, got nil")
		}
		if result.Success {
			t.Error("expected Success = false")
		}
	})

	t.Run("fail after N", func(t *testing.T) {
		c := NewMockTTSClient()
		c.FailAfter = 2

		if _, err := c.Generate(context.Background(), &TTSRequest{Text: "a"}); err != nil {
			t.Fatalf("first request should succeed: %v", err)
		}
		if _, err := c.Generate(context.Background(), &TTSRequest{Text: "b"}); err != nil {
			t.Fatalf("second request should succeed: %v", err)
		}
		if _, err := c.Generate(context.Background(), &TTSRequest{Text: "c"}); err == nil {
			t.Error("third request should fail")
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		c := NewMockTTSClient()
		c.Latency = 5 * time.Second

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.Generate(ctx, &TTSRequest{Text: "x"})
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestMockASRClient(t *testing.T) {
	t.Run("transcribe", func(t *testing.T) {
		c := NewMockASRClient()
		c.Text = "the quick brown fox"
		c.Words = []WordStamp{
			{Text: "the", Start: 0.0, End: 0.2},
			{Text: "quick", Start: 0.3, End: 0.6},
		}

		result, err := c.Transcribe(context.Background(), &ASRRequest{
			Audio:    []byte("fake audio"),
			Language: "en",
		})

		if err != nil {
			t.Fatalf("Transcribe() error = %v", err)
		}
		if !result.Success {
			t.Error("expected Success = true")
		}
		if result.Text != "the quick brown fox" {
			t.Errorf("Text = %q", result.Text)
		}
		if result.Language != "en" {
			t.Errorf("Language = %q, want en", result.Language)
		}
	})

	t.Run("duration falls back to last word end", func(t *testing.T) {
		c := NewMockASRClient()
		c.Words = []WordStamp{
			{Text: "one", Start: 0.0, End: 0.5},
			{Text: "two", Start: 0.6, End: 1.25},
		}

		result, err := c.Transcribe(context.Background(), &ASRRequest{Audio: []byte("x")})
		if err != nil {
			t.Fatalf("Transcribe() error = %v", err)
		}
		if result.DurationMS != 1250 {
			t.Errorf("DurationMS = %d, want 1250", result.DurationMS)
		}
	})

	t.Run("failure", func(t *testing.T) {
		c := NewMockASRClient()
		c.ShouldFail = true

		result, err := c.Transcribe(context.Background(), &ASRRequest{Audio: []byte("x")})
		if err == nil {
			t.Error("expected error, got nil")
		}
		if result.Success {
			t.Error("expected Success = false")
		}
	})
}

func TestMockChatClient(t *testing.T) {
	t.Run("chat", func(t *testing.T) {
		c := NewMockChatClient()
		c.ResponseText = "hello world"

		result, err := c.Chat(context.Background(), &ChatRequest{
			Model: "test-model",
			Messages: []Message{
				{Role: "user", Content: "test"},
			},
		})

		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if !result.Success {
			t.Errorf("Success = false, want true")
		}
		if result.Content != "hello world" {
			t.Errorf("Content = %q, want %q", result.Content, "hello world")
		}
		if c.RequestCount() != 1 {
			t.Errorf("RequestCount = %d, want 1", c.RequestCount())
		}
	})

	t.Run("structured output", func(t *testing.T) {
		c := NewMockChatClient()
		c.ResponseJSON = json.RawMessage(`{"key": "value"}`)

		result, err := c.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: "user", Content: "test"}},
			ResponseFormat: &ResponseFormat{
				Type: "json_schema",
			},
		})

		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if result.ParsedJSON == nil {
			t.Error("expected ParsedJSON")
		}
	})

	t.Run("failure", func(t *testing.T) {
		c := NewMockChatClient()
		c.ShouldFail = true

		result, err := c.Chat(context.Background(), &ChatRequest{})
		if err == nil {
			t.Error("expected error, got nil")
		}
		if result.Success {
			t.Error("expected Success = false")
		}
	})

	t.Run("fail after N", func(t *testing.T) {
		c := NewMockChatClient()
		c.FailAfter = 2

		if _, err := c.Chat(context.Background(), &ChatRequest{}); err != nil {
			t.Fatalf("first request should succeed: %v", err)
		}
		if _, err := c.Chat(context.Background(), &ChatRequest{}); err != nil {
			t.Fatalf("second request should succeed: %v", err)
		}
		if _, err := c.Chat(context.Background(), &ChatRequest{}); err == nil {
			t.Error("third request should fail")
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		c := NewMockChatClient()
		c.Latency = 5 * time.Second

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.Chat(ctx, &ChatRequest{})
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("allows initial requests", func(t *testing.T) {
		limiter := NewRateLimiter(10) // 10 per second, burst 10

		start := time.Now()
		for i := 0; i < 5; i++ {
			if err := limiter.Wait(context.Background()); err != nil {
				t.Fatalf("request %d failed: %v", i, err)
			}
		}
		elapsed := time.Since(start)

		// Should complete quickly since we have burst capacity
		if elapsed > time.Second {
			t.Errorf("took too long: %v", elapsed)
		}
	})

	t.Run("try consume", func(t *testing.T) {
		limiter := NewRateLimiter(2)

		if !limiter.TryConsume() {
			t.Error("first TryConsume should succeed")
		}
		if !limiter.TryConsume() {
			t.Error("second TryConsume should succeed within burst")
		}
		// Burst of 2 is exhausted
		if limiter.TryConsume() {
			t.Error("third TryConsume should fail")
		}
	})

	t.Run("fractional rate gets burst of one", func(t *testing.T) {
		limiter := NewRateLimiter(0.5)

		if !limiter.TryConsume() {
			t.Error("first TryConsume should succeed")
		}
		if limiter.TryConsume() {
			t.Error("second TryConsume should fail")
		}
	})

	t.Run("status", func(t *testing.T) {
		limiter := NewRateLimiter(60.0)

		status := limiter.Status()

		if status.Burst != 60 {
			t.Errorf("Burst = %d, want 60", status.Burst)
		}
		if status.TokensAvailable <= 0 {
			t.Error("expected positive tokens available")
		}
	})

	t.Run("record 429 drains bucket", func(t *testing.T) {
		limiter := NewRateLimiter(60)

		limiter.Record429(time.Second)

		status := limiter.Status()
		if status.Last429Time.IsZero() {
			t.Error("Last429Time should be set")
		}
		if status.TokensAvailable > 0 {
			t.Errorf("TokensAvailable = %d, want 0 after drain", status.TokensAvailable)
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		limiter := NewRateLimiter(1) // 1 per second, burst 1

		// Consume the one allowed token
		limiter.Wait(context.Background())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := limiter.Wait(ctx)
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("concurrent requests", func(t *testing.T) {
		limiter := NewRateLimiter(100)

		var wg sync.WaitGroup
		var errors atomic.Int32

		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := limiter.Wait(context.Background()); err != nil {
					errors.Add(1)
				}
			}()
		}

		wg.Wait()

		if errors.Load() > 0 {
			t.Errorf("had %d errors", errors.Load())
		}

		status := limiter.Status()
		if status.TotalConsumed != 10 {
			t.Errorf("TotalConsumed = %d, want 10", status.TotalConsumed)
		}
	})
}

func TestRateLimitError(t *testing.T) {
	t.Run("error string includes retry after", func(t *testing.T) {
		err := &RateLimitError{
			Message:    "slow down",
			RetryAfter: 5 * time.Second,
			StatusCode: 429,
		}
		want := "slow down (retry after 5s)"
		if err.Error() != want {
			t.Errorf("Error() = %q, want %q", err.Error(), want)
		}
	})

	t.Run("error string without retry after", func(t *testing.T) {
		err := &RateLimitError{Message: "slow down", StatusCode: 429}
		if err.Error() != "slow down" {
			t.Errorf("Error() = %q, want %q", err.Error(), "slow down")
		}
	})

	t.Run("IsRateLimitError unwraps", func(t *testing.T) {
		inner := &RateLimitError{Message: "limited", RetryAfter: time.Second}
		wrapped := fmt.Errorf("request failed: %w", inner)

		rle, ok := IsRateLimitError(wrapped)
		if !ok {
			t.Fatal("IsRateLimitError() = false, want true")
		}
		if rle.RetryAfter != time.Second {
			t.Errorf("RetryAfter = %v, want 1s", rle.RetryAfter)
		}
	})

	t.Run("IsRateLimitError on other errors", func(t *testing.T) {
		if _, ok := IsRateLimitError(fmt.Errorf("boom")); ok {
			t.Error("IsRateLimitError() = true for plain error")
		}
		if _, ok := IsRateLimitError(nil); ok {
			t.Error("IsRateLimitError() = true for nil")
		}
	})
}

func TestParseRetryAfter(t *testing.T) {
	t.Run("seconds", func(t *testing.T) {
		if got := parseRetryAfter("7"); got != 7*time.Second {
			t.Errorf("parseRetryAfter(7) = %v, want 7s", got)
		}
	})

	t.Run("negative seconds", func(t *testing.T) {
		if got := parseRetryAfter("-3"); got != 0 {
			t.Errorf("parseRetryAfter(-3) = %v, want 0", got)
		}
	})

	t.Run("http date", func(t *testing.T) {
		future := time.Now().Add(30 * time.Second).UTC().Format(time.RFC1123)
		got := parseRetryAfter(future)
		if got <= 0 || got > 31*time.Second {
			t.Errorf("parseRetryAfter(%q) = %v, want ~30s", future, got)
		}
	})

	t.Run("past http date", func(t *testing.T) {
		past := time.Now().Add(-time.Minute).UTC().Format(time.RFC1123)
		if got := parseRetryAfter(past); got != 0 {
			t.Errorf("parseRetryAfter(past) = %v, want 0", got)
		}
	})

	t.Run("empty and garbage", func(t *testing.T) {
		if got := parseRetryAfter(""); got != 0 {
			t.Errorf("parseRetryAfter(\"\") = %v, want 0", got)
		}
		if got := parseRetryAfter("soon"); got != 0 {
			t.Errorf("parseRetryAfter(soon) = %v, want 0", got)
		}
	})
}

// TestTestConfig verifies the test helper works correctly.
func TestTestConfig(t *testing.T) {
	t.Run("loads from environment", func(t *testing.T) {
		cfg := LoadTestConfig()
		// Just verify it doesn't panic - actual values depend on environment
		_ = cfg.HasOpenAI()
		_ = cfg.HasElevenLabs()
		_ = cfg.HasAnyTTS()
		_ = cfg.HasAnyASR()
		_ = cfg.HasAnyChat()
	})

	t.Run("ToRegistryConfig", func(t *testing.T) {
		cfg := LoadTestConfig()
		regCfg := cfg.ToRegistryConfig()

		if regCfg.TTSProviders == nil {
			t.Error("TTSProviders should not be nil")
		}
		if regCfg.ASRProviders == nil {
			t.Error("ASRProviders should not be nil")
		}
		if regCfg.ChatProviders == nil {
			t.Error("ChatProviders should not be nil")
		}
	})
}
