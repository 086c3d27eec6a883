package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const WhisperdName = "whisperd"

// WhisperdConfig holds configuration for the local whisper container client.
type WhisperdConfig struct {
	// Endpoint is the base URL of the whisper-asr-webservice
	// (e.g. "http://localhost:9000").
	Endpoint string

	Timeout    time.Duration
	RateLimit  float64 // Requests per second; local service, effectively unthrottled
	MaxRetries int
	RetryDelay time.Duration
}

// WhisperdClient implements ASRProvider against a whisper-asr-webservice
// container. Transcription is free and runs locally, so it is the preferred
// backend when the container is up.
type WhisperdClient struct {
	endpoint   string
	rateLimit  float64
	maxRetries int
	retryDelay time.Duration
	client     *http.Client
}

// NewWhisperdClient creates a client for a running whisperd container.
func NewWhisperdClient(cfg WhisperdConfig) *WhisperdClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:9000"
	}
	if cfg.Timeout == 0 {
		// CPU inference over a whole chapter takes a while.
		cfg.Timeout = 30 * time.Minute
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100.0
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}

	return &WhisperdClient{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		rateLimit:  cfg.RateLimit,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Name returns the provider identifier.
func (c *WhisperdClient) Name() string {
	return WhisperdName
}

// RequestsPerSecond returns the configured rate limit.
func (c *WhisperdClient) RequestsPerSecond() float64 {
	return c.rateLimit
}

// MaxRetries returns the maximum retry attempts.
func (c *WhisperdClient) MaxRetries() int {
	return c.maxRetries
}

// RetryDelayBase returns the base delay for exponential backoff.
func (c *WhisperdClient) RetryDelayBase() time.Duration {
	return c.retryDelay
}

// Endpoint returns the configured base URL.
func (c *WhisperdClient) Endpoint() string {
	return c.endpoint
}

// Transcribe posts audio to /asr with word_timestamps enabled.
func (c *WhisperdClient) Transcribe(ctx context.Context, req *ASRRequest) (*ASRResult, error) {
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
	part, err := mw.CreateFormFile("audio_file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("failed to write audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	q := url.Values{}
	q.Set("task", "transcribe")
	q.Set("output", "json")
	q.Set("word_timestamps", "true")
	q.Set("encode", "true")
	if req.Language != "" {
		q.Set("language", primarySubtag(req.Language))
	}
	if req.Prompt != "" {
		q.Set("initial_prompt", req.Prompt)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/asr?"+q.Encode(), &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

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
		err = fmt.Errorf("whisperd error (status %d): %s", resp.StatusCode, string(respBody))
		return &ASRResult{
			Success:       false,
			ErrorMessage:  err.Error(),
			ExecutionTime: time.Since(start),
		}, err
	}

	var tr whisperdTranscription
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	var words []WordStamp
	durationMS := 0
	for _, seg := range tr.Segments {
		for _, w := range seg.Words {
			words = append(words, WordStamp{
				Text:  strings.TrimSpace(w.Word),
				Start: w.Start,
				End:   w.End,
			})
		}
		if end := int(seg.End * 1000); end > durationMS {
			durationMS = end
		}
	}

	return &ASRResult{
		Success:       true,
		Text:          strings.TrimSpace(tr.Text),
		Language:      tr.Language,
		DurationMS:    durationMS,
		Words:         words,
		ExecutionTime: time.Since(start),
	}, nil
}

// HealthCheck probes the service's OpenAPI descriptor.
func (c *WhisperdClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.endpoint+"/openapi.json", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// whisperdTranscription is the word_timestamps=true JSON payload from
// whisper-asr-webservice.
type whisperdTranscription struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		ID    int     `json:"id"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
		Words []struct {
			Word  string  `json:"word"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"words"`
	} `json:"segments"`
}

// Verify interface
var _ ASRProvider = (*WhisperdClient)(nil)
