package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	OpenAIWhisperName         = "openai-whisper"
	openAIWhisperDefaultModel = "whisper-1"
	openAITranscriptionsURL   = "https://api.openai.com/v1/audio/transcriptions"

	// whisper-1 pricing, USD per minute of audio.
	openAIWhisperCostPerMinute = 0.006
)

// OpenAIWhisperConfig holds configuration for the OpenAI transcription client.
type OpenAIWhisperConfig struct {
	APIKey     string
	Model      string        // "whisper-1" (default)
	BaseURL    string        // Optional (tests)
	Timeout    time.Duration // HTTP timeout
	RateLimit  float64       // Requests per second
	MaxRetries int
	RetryDelay time.Duration
}

// OpenAIWhisperClient implements ASRProvider against the OpenAI audio
// transcriptions API, requesting word-level timestamp granularity.
type OpenAIWhisperClient struct {
	apiKey     string
	model      string
	baseURL    string
	rateLimit  float64
	maxRetries int
	retryDelay time.Duration
	client     *http.Client
}

// NewOpenAIWhisperClient creates a new OpenAI transcription client.
func NewOpenAIWhisperClient(cfg OpenAIWhisperConfig) *OpenAIWhisperClient {
	if cfg.Model == "" {
		cfg.Model = openAIWhisperDefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAITranscriptionsURL
	}
	if cfg.Timeout == 0 {
		// Whole chapters get uploaded; allow for slow links.
		cfg.Timeout = 600 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 2.0
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	return &OpenAIWhisperClient{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		baseURL:    cfg.BaseURL,
		rateLimit:  cfg.RateLimit,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Name returns the provider identifier.
func (c *OpenAIWhisperClient) Name() string {
	return OpenAIWhisperName
}

// RequestsPerSecond returns the configured rate limit.
func (c *OpenAIWhisperClient) RequestsPerSecond() float64 {
	return c.rateLimit
}

// MaxRetries returns the maximum retry attempts.
func (c *OpenAIWhisperClient) MaxRetries() int {
	return c.maxRetries
}

// RetryDelayBase returns the base delay for exponential backoff.
func (c *OpenAIWhisperClient) RetryDelayBase() time.Duration {
	return c.retryDelay
}

// Transcribe uploads audio and returns the verbose transcript with
// word-level timestamps.
func (c *OpenAIWhisperClient) Transcribe(ctx context.Context, req *ASRRequest) (*ASRResult, error) {
	start := time.Now()

	if req == nil || len(req.Audio) == 0 {
		err := fmt.Errorf("audio is required")
		return &ASRResult{
			Success:       false,
			ErrorMessage:  err.Error(),
			ExecutionTime: time.Since(start),
		}, err
	}

	filename := req.Filename
	if filename == "" {
		filename = "audio.mp3"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("failed to write audio: %w", err)
	}

	fields := map[string]string{
		"model":                     c.model,
		"response_format":           "verbose_json",
		"timestamp_granularities[]": "word",
	}
	if req.Language != "" {
		fields["language"] = primarySubtag(req.Language)
	}
	if req.Prompt != "" {
		fields["prompt"] = req.Prompt
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		err = fmt.Errorf("request failed: %w", err)
		return &ASRResult{
			Success:       false,
			ErrorMessage:  err.Error(),
			ExecutionTime: time.Since(start),
		}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		errMsg := string(respBody)
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			errMsg = errResp.Error.Message
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			rle := &RateLimitError{
				Message:    fmt.Sprintf("OpenAI transcription rate limited: %s", errMsg),
				RetryAfter: retryAfter,
				StatusCode: resp.StatusCode,
			}
			return &ASRResult{
				Success:       false,
				ErrorMessage:  rle.Message,
				ExecutionTime: time.Since(start),
			}, rle
		}

		err = fmt.Errorf("OpenAI transcription error (status %d): %s", resp.StatusCode, errMsg)
		return &ASRResult{
			Success:       false,
			ErrorMessage:  err.Error(),
			ExecutionTime: time.Since(start),
		}, err
	}

	var tr openAITranscription
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	words := make([]WordStamp, 0, len(tr.Words))
	for _, w := range tr.Words {
		words = append(words, WordStamp{Text: w.Word, Start: w.Start, End: w.End})
	}

	return &ASRResult{
		Success:       true,
		Text:          tr.Text,
		Language:      tr.Language,
		DurationMS:    int(tr.Duration * 1000),
		Words:         words,
		CostUSD:       tr.Duration / 60.0 * openAIWhisperCostPerMinute,
		ExecutionTime: time.Since(start),
	}, nil
}

// HealthCheck verifies the API key with a models list probe.
func (c *OpenAIWhisperClient) HealthCheck(ctx context.Context) error {
	// Probe the models endpoint relative to the transcription URL host.
	url := strings.TrimSuffix(c.baseURL, "/audio/transcriptions") + "/models"
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// Model returns the configured model.
func (c *OpenAIWhisperClient) Model() string {
	return c.model
}

// openAITranscription is the verbose_json transcription payload.
type openAITranscription struct {
	Task     string  `json:"task"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"` // Seconds
	Text     string  `json:"text"`
	Words    []struct {
		Word  string  `json:"word"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"words"`
}

// Verify interface
var _ ASRProvider = (*OpenAIWhisperClient)(nil)
