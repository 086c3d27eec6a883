package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockProviderName = "mock"

// MockTTSClient is a TTSProvider for testing.
type MockTTSClient struct {
	// Configurable behavior
	Latency    time.Duration
	ShouldFail bool
	FailAfter  int // Fail after N requests (0 = never)
	Audio      []byte
	Format     string
	DurationMS int
	Words      []WordStamp

	// Voice catalog behavior
	Voices       []Voice
	VoicesErr    error // ListVoices returns this when set
	DefaultVoice string

	// Rate limiting
	RPS        float64
	Retries    int
	RetryDelay time.Duration

	// State
	requestCount atomic.Int64

	mu       sync.Mutex
	requests []*TTSRequest
}

// NewMockTTSClient creates a mock TTS client with sensible defaults.
func NewMockTTSClient() *MockTTSClient {
	return &MockTTSClient{
		Latency:    time.Millisecond,
		Audio:      []byte("mock-audio"),
		Format:     "mp3",
		DurationMS: 1000,
		RPS:        100,
		Retries:    3,
		RetryDelay: time.Millisecond,
	}
}

// Name returns the client identifier.
func (c *MockTTSClient) Name() string { return MockProviderName }

// RequestsPerSecond returns the configured rate limit.
func (c *MockTTSClient) RequestsPerSecond() float64 { return c.RPS }

// MaxRetries returns the maximum retry attempts.
func (c *MockTTSClient) MaxRetries() int { return c.Retries }

// RetryDelayBase returns the base delay between retries.
func (c *MockTTSClient) RetryDelayBase() time.Duration { return c.RetryDelay }

// RequestCount returns how many Generate calls were made.
func (c *MockTTSClient) RequestCount() int {
	return int(c.requestCount.Load())
}

// Requests returns a copy of all recorded requests.
func (c *MockTTSClient) Requests() []*TTSRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*TTSRequest(nil), c.requests...)
}

// Generate returns the configured audio.
func (c *MockTTSClient) Generate(ctx context.Context, req *TTSRequest) (*TTSResult, error) {
	start := time.Now()
	count := c.requestCount.Add(1)

	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if c.ShouldFail {
		err := fmt.Errorf("mock tts configured to fail")
		return &TTSResult{Success: false, ErrorMessage: err.Error()}, err
	}
	if c.FailAfter > 0 && int(count) > c.FailAfter {
		err := fmt.Errorf("mock tts failed after %d requests", c.FailAfter)
		return &TTSResult{Success: false, ErrorMessage: err.Error()}, err
	}

	select {
	case <-time.After(c.Latency):
	case <-ctx.Done():
		return &TTSResult{Success: false, ErrorMessage: ctx.Err().Error()}, ctx.Err()
	}

	return &TTSResult{
		Success:       true,
		Audio:         append([]byte(nil), c.Audio...),
		Format:        c.Format,
		DurationMS:    c.DurationMS,
		Words:         append([]WordStamp(nil), c.Words...),
		CharCount:     len(req.Text),
		ExecutionTime: time.Since(start),
	}, nil
}

// ListVoices returns the configured voices.
func (c *MockTTSClient) ListVoices(_ context.Context) ([]Voice, error) {
	if c.VoicesErr != nil {
		return nil, c.VoicesErr
	}
	return append([]Voice(nil), c.Voices...), nil
}

// Voice returns the configured default voice id.
func (c *MockTTSClient) Voice() string { return c.DefaultVoice }

// MockASRClient is an ASRProvider for testing.
type MockASRClient struct {
	Latency    time.Duration
	ShouldFail bool
	Text       string
	Words      []WordStamp
	DurationMS int

	RPS        float64
	Retries    int
	RetryDelay time.Duration

	requestCount atomic.Int64
}

// NewMockASRClient creates a mock ASR client with sensible defaults.
func NewMockASRClient() *MockASRClient {
	return &MockASRClient{
		Latency:    time.Millisecond,
		Text:       "mock transcript",
		RPS:        100,
		Retries:    3,
		RetryDelay: time.Millisecond,
	}
}

// Name returns the client identifier.
func (c *MockASRClient) Name() string { return MockProviderName }

// RequestsPerSecond returns the configured rate limit.
func (c *MockASRClient) RequestsPerSecond() float64 { return c.RPS }

// MaxRetries returns the maximum retry attempts.
func (c *MockASRClient) MaxRetries() int { return c.Retries }

// RetryDelayBase returns the base delay between retries.
func (c *MockASRClient) RetryDelayBase() time.Duration { return c.RetryDelay }

// RequestCount returns how many Transcribe calls were made.
func (c *MockASRClient) RequestCount() int {
	return int(c.requestCount.Load())
}

// Transcribe returns the configured transcript.
func (c *MockASRClient) Transcribe(ctx context.Context, req *ASRRequest) (*ASRResult, error) {
	start := time.Now()
	c.requestCount.Add(1)

	if c.ShouldFail {
		err := fmt.Errorf("mock asr configured to fail")
		return &ASRResult{Success: false, ErrorMessage: err.Error()}, err
	}

	select {
	case <-time.After(c.Latency):
	case <-ctx.Done():
		return &ASRResult{Success: false, ErrorMessage: ctx.Err().Error()}, ctx.Err()
	}

	durationMS := c.DurationMS
	if durationMS == 0 && len(c.Words) > 0 {
		durationMS = int(c.Words[len(c.Words)-1].End * 1000)
	}

	return &ASRResult{
		Success:       true,
		Text:          c.Text,
		Language:      req.Language,
		DurationMS:    durationMS,
		Words:         append([]WordStamp(nil), c.Words...),
		ExecutionTime: time.Since(start),
	}, nil
}

// MockChatClient is a ChatProvider for testing.
type MockChatClient struct {
	Latency      time.Duration
	ShouldFail   bool
	FailAfter    int
	ResponseText string
	ResponseJSON json.RawMessage

	// RespondWith, when set, computes the response for each request,
	// overriding ResponseText and ResponseJSON.
	RespondWith func(req *ChatRequest) (content string, parsed json.RawMessage)

	RPS        float64
	Retries    int
	RetryDelay time.Duration

	requestCount atomic.Int64

	mu       sync.Mutex
	requests []*ChatRequest
}

// NewMockChatClient creates a mock chat client with sensible defaults.
func NewMockChatClient() *MockChatClient {
	return &MockChatClient{
		Latency:      time.Millisecond,
		ResponseText: "mock response",
		RPS:          100,
		Retries:      3,
		RetryDelay:   time.Millisecond,
	}
}

// Name returns the client identifier.
func (c *MockChatClient) Name() string { return MockProviderName }

// RequestsPerSecond returns the configured rate limit.
func (c *MockChatClient) RequestsPerSecond() float64 { return c.RPS }

// MaxRetries returns the maximum retry attempts.
func (c *MockChatClient) MaxRetries() int { return c.Retries }

// RetryDelayBase returns the base delay between retries.
func (c *MockChatClient) RetryDelayBase() time.Duration { return c.RetryDelay }

// RequestCount returns how many Chat calls were made.
func (c *MockChatClient) RequestCount() int {
	return int(c.requestCount.Load())
}

// Requests returns a copy of all recorded requests.
func (c *MockChatClient) Requests() []*ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*ChatRequest(nil), c.requests...)
}

// Chat returns the configured response.
func (c *MockChatClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	count := c.requestCount.Add(1)

	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	result := &ChatResult{
		RequestID: fmt.Sprintf("mock-%d", count),
		Provider:  MockProviderName,
		ModelUsed: req.Model,
		Attempts:  1,
	}

	if c.ShouldFail {
		result.Success = false
		result.ErrorType = "mock_failure"
		result.ErrorMessage = "mock chat configured to fail"
		return result, fmt.Errorf("mock chat configured to fail")
	}
	if c.FailAfter > 0 && int(count) > c.FailAfter {
		result.Success = false
		result.ErrorType = "mock_failure"
		result.ErrorMessage = fmt.Sprintf("mock chat failed after %d requests", c.FailAfter)
		return result, fmt.Errorf("mock chat failed after %d requests", c.FailAfter)
	}

	select {
	case <-time.After(c.Latency):
	case <-ctx.Done():
		result.Success = false
		result.ErrorType = "context_cancelled"
		result.ErrorMessage = ctx.Err().Error()
		return result, ctx.Err()
	}

	result.Success = true
	result.Content = c.ResponseText
	switch {
	case c.RespondWith != nil:
		result.Content, result.ParsedJSON = c.RespondWith(req)
	case req.ResponseFormat != nil && len(c.ResponseJSON) > 0:
		result.Content = string(c.ResponseJSON)
		result.ParsedJSON = c.ResponseJSON
	}
	result.ExecutionTime = time.Since(start)
	return result, nil
}

// Verify interfaces
var (
	_ TTSProvider  = (*MockTTSClient)(nil)
	_ VoicesLister = (*MockTTSClient)(nil)
	_ ASRProvider  = (*MockASRClient)(nil)
	_ ChatProvider = (*MockChatClient)(nil)
)
