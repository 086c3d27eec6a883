package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// TTSProvider converts chapter text into narrated audio.
type TTSProvider interface {
	// Generate synthesizes speech for the request text.
	Generate(ctx context.Context, req *TTSRequest) (*TTSResult, error)

	// Name returns the provider identifier (e.g., "openai", "deepinfra-tts").
	Name() string

	// Rate limiting properties
	RequestsPerSecond() float64
	MaxRetries() int
	RetryDelayBase() time.Duration
}

// ASRProvider produces word-level transcripts used for forced alignment.
type ASRProvider interface {
	// Transcribe runs speech recognition over the request audio.
	Transcribe(ctx context.Context, req *ASRRequest) (*ASRResult, error)

	// Name returns the provider identifier (e.g., "openai-whisper", "whisperd").
	Name() string

	// Rate limiting properties
	RequestsPerSecond() float64
	MaxRetries() int
	RetryDelayBase() time.Duration
}

// ChatProvider is an LLM client used for chapter translation.
type ChatProvider interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// Name returns the provider identifier (e.g., "openai", "openrouter").
	Name() string

	// Rate limiting properties
	RequestsPerSecond() float64
	MaxRetries() int
	RetryDelayBase() time.Duration
}

// VoicesLister is implemented by TTS providers that can enumerate voices.
type VoicesLister interface {
	ListVoices(ctx context.Context) ([]Voice, error)
}

// HealthChecker is implemented by providers that can verify connectivity.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// TTSRequest asks a provider to narrate a span of text.
type TTSRequest struct {
	Text         string `json:"text"`
	Voice        string `json:"voice,omitempty"`    // Provider voice ID; empty uses the client default
	Format       string `json:"format,omitempty"`   // mp3, wav, opus, flac
	Language     string `json:"language,omitempty"` // BCP-47 hint for providers that accept one
	Instructions string `json:"instructions,omitempty"`

	// PreviousRequestIDs stitches consecutive chunk requests together on
	// providers that support it, keeping prosody continuous across a
	// chapter synthesized in pieces.
	PreviousRequestIDs []string `json:"previous_request_ids,omitempty"`
}

// TTSResult is the outcome of a synthesis call.
type TTSResult struct {
	Success bool   `json:"success"`
	Audio   []byte `json:"-"`
	Format  string `json:"format"`

	// DurationMS is the audio length in milliseconds, zero when the
	// provider does not report one.
	DurationMS int `json:"duration_ms"`
	SampleRate int `json:"sample_rate,omitempty"`

	// Words carries provisional word timings when the provider emits
	// them alongside the audio. Most providers leave this empty.
	Words []WordStamp `json:"words,omitempty"`

	CostUSD       float64       `json:"cost_usd"`
	CharCount     int           `json:"char_count"`
	ExecutionTime time.Duration `json:"execution_time"`
	RequestID     string        `json:"request_id,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
}

// WordStamp is a single word with its utterance interval in seconds.
type WordStamp struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// ASRRequest asks a provider to transcribe audio.
type ASRRequest struct {
	Audio []byte `json:"-"`

	// Filename hints the container format via its extension ("chapter.mp3").
	Filename string `json:"filename"`

	Language string `json:"language,omitempty"` // BCP-47 hint
	Prompt   string `json:"prompt,omitempty"`   // Optional biasing text
}

// ASRResult is the outcome of a transcription call.
type ASRResult struct {
	Success  bool   `json:"success"`
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`

	// DurationMS is the recognized audio length in milliseconds.
	DurationMS int `json:"duration_ms"`

	// Words are word-level timestamps in transcript order.
	Words []WordStamp `json:"words"`

	CostUSD       float64       `json:"cost_usd"`
	ExecutionTime time.Duration `json:"execution_time"`
	ErrorMessage  string        `json:"error_message,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ResponseFormat specifies structured output format.
type ResponseFormat struct {
	Type       string          `json:"type"` // "json_schema"
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

// ChatRequest is a request to a chat provider.
type ChatRequest struct {
	// Required
	Messages []Message `json:"messages"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	// Generation parameters
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// ResponseFormat, when set, constrains output to the schema. Results
	// are validated locally and repaired via a follow-up turn on mismatch.
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	// Request tracking
	RequestID string `json:"-"`
}

// ChatResult is the complete response from a chat call.
type ChatResult struct {
	// Response content
	Content    string          `json:"content"`
	ParsedJSON json.RawMessage `json:"parsed_json,omitempty"` // Parsed if ResponseFormat was set

	// Token counts
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// Cost and timing
	CostUSD       float64       `json:"cost_usd"`
	ExecutionTime time.Duration `json:"execution_time"`

	// Provider info
	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`

	// Request tracking
	RequestID string `json:"request_id"`
	Attempts  int    `json:"attempts"`

	// Success/error
	Success      bool   `json:"success"`
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Voice describes a selectable TTS voice.
type Voice struct {
	VoiceID     string `json:"voice_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Language is the voice's BCP-47 locale when the provider reports one.
	Language string `json:"language,omitempty"`

	Provider string `json:"provider,omitempty"`
}

// RateLimitError reports a 429 from a provider, carrying the server's
// Retry-After when present so callers can back off precisely.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	StatusCode int
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// IsRateLimitError unwraps err looking for a RateLimitError.
func IsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// parseRetryAfter interprets a Retry-After header value as either a
// delay in seconds or an HTTP date.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
