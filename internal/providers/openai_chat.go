package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	OpenAIChatName         = "openai"
	openAIChatBaseURL      = "https://api.openai.com/v1"
	openAIChatDefaultModel = "gpt-4o-mini"
)

// OpenAIChatConfig holds configuration for the OpenAI chat client.
type OpenAIChatConfig struct {
	APIKey     string
	Model      string // Default model, "gpt-4o-mini" when empty
	BaseURL    string // Optional (tests)
	Timeout    time.Duration
	RateLimit  float64 // Requests per second
	MaxRetries int
	RetryDelay time.Duration
}

// OpenAIChatClient implements ChatProvider against the OpenAI chat
// completions API. Structured outputs are validated locally against the
// request schema and repaired via a follow-up turn when they don't conform.
type OpenAIChatClient struct {
	apiKey       string
	defaultModel string
	baseURL      string
	rateLimit    float64
	maxRetries   int
	retryDelay   time.Duration
	client       *http.Client
}

// NewOpenAIChatClient creates a new OpenAI chat client.
func NewOpenAIChatClient(cfg OpenAIChatConfig) *OpenAIChatClient {
	if cfg.Model == "" {
		cfg.Model = openAIChatDefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAIChatBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 2.0
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}

	return &OpenAIChatClient{
		apiKey:       cfg.APIKey,
		defaultModel: cfg.Model,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		rateLimit:    cfg.RateLimit,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Name returns the provider identifier.
func (c *OpenAIChatClient) Name() string {
	return OpenAIChatName
}

// RequestsPerSecond returns the configured rate limit.
func (c *OpenAIChatClient) RequestsPerSecond() float64 {
	return c.rateLimit
}

// MaxRetries returns the maximum retry attempts.
func (c *OpenAIChatClient) MaxRetries() int {
	return c.maxRetries
}

// RetryDelayBase returns the base delay for exponential backoff.
func (c *OpenAIChatClient) RetryDelayBase() time.Duration {
	return c.retryDelay
}

// Model returns the configured default model.
func (c *OpenAIChatClient) Model() string {
	return c.defaultModel
}

// Chat sends a chat completion request.
func (c *OpenAIChatClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	result := &ChatResult{
		RequestID: requestID,
		Provider:  OpenAIChatName,
	}

	messages := append([]Message(nil), req.Messages...)

	var schemaRaw json.RawMessage
	if req.ResponseFormat != nil {
		schemaRaw = req.ResponseFormat.JSONSchema
	}

	// First attempt plus schema repair turns when structured output
	// fails to parse or validate.
	var content string
	var usage openAIChatUsage
	attempts := 0
	for {
		attempts++

		oaReq := openAIChatRequest{
			Model:       model,
			Messages:    messages,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		}
		if req.ResponseFormat != nil {
			oaReq.ResponseFormat = &openAIResponseFormat{
				Type:       "json_schema",
				JSONSchema: schemaRaw,
			}
		}

		oaResp, err := c.doRequest(ctx, &oaReq)
		if err != nil {
			result.Success = false
			result.ErrorType = "http_error"
			result.ErrorMessage = err.Error()
			result.Attempts = attempts
			result.ExecutionTime = time.Since(start)
			return result, err
		}

		if len(oaResp.Choices) == 0 {
			err := fmt.Errorf("no choices in response")
			result.Success = false
			result.ErrorType = "empty_response"
			result.ErrorMessage = err.Error()
			result.Attempts = attempts
			result.ExecutionTime = time.Since(start)
			return result, err
		}

		content = oaResp.Choices[0].Message.Content
		usage.PromptTokens += oaResp.Usage.PromptTokens
		usage.CompletionTokens += oaResp.Usage.CompletionTokens
		usage.TotalTokens += oaResp.Usage.TotalTokens
		result.ModelUsed = oaResp.Model

		if req.ResponseFormat == nil {
			break
		}

		parsed, perr := parseStructuredJSON(content)
		if perr == nil {
			perr = validateStructuredJSON(schemaRaw, parsed)
		}
		if perr == nil {
			result.ParsedJSON = parsed
			break
		}

		if attempts > maxStructuredRepairAttempts {
			result.Success = false
			result.ErrorType = "structured_output"
			result.ErrorMessage = perr.Error()
			result.Content = content
			result.Attempts = attempts
			result.ExecutionTime = time.Since(start)
			return result, fmt.Errorf("structured output failed after %d attempts: %w", attempts, perr)
		}

		// Feed the bad output back with the schema and ask again.
		messages = append(messages,
			Message{Role: "assistant", Content: content},
			Message{Role: "user", Content: structuredRepairPrompt(schemaRaw, content, perr)},
		)
	}

	result.Success = true
	result.Content = content
	result.PromptTokens = usage.PromptTokens
	result.CompletionTokens = usage.CompletionTokens
	result.TotalTokens = usage.TotalTokens
	result.CostUSD = estimateOpenAIChatCostUSD(model, usage.PromptTokens, usage.CompletionTokens)
	result.Attempts = attempts
	result.ExecutionTime = time.Since(start)
	return result, nil
}

// doRequest posts to /chat/completions with retry on transient failures.
func (c *OpenAIChatClient) doRequest(ctx context.Context, body *openAIChatRequest) (*openAIChatResponse, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			c.sleepBackoff(ctx, attempt)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			c.sleepBackoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			lastErr = &RateLimitError{
				Message:    fmt.Sprintf("OpenAI chat rate limited: %s", strings.TrimSpace(string(respBody))),
				RetryAfter: retryAfter,
				StatusCode: resp.StatusCode,
			}
			c.sleepBackoff(ctx, attempt)
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("OpenAI chat error (status %d): %s", resp.StatusCode, string(respBody))
			c.sleepBackoff(ctx, attempt)
			continue
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
			return nil, fmt.Errorf("OpenAI chat error (status %d): %s", resp.StatusCode, errMsg)
		}

		var oaResp openAIChatResponse
		if err := json.Unmarshal(respBody, &oaResp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		return &oaResp, nil
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// sleepBackoff sleeps with exponential backoff, respecting context cancellation.
func (c *OpenAIChatClient) sleepBackoff(ctx context.Context, attempt int) {
	delay := c.retryDelay * time.Duration(1<<attempt)
	if delay > 10*time.Second {
		delay = 10 * time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// estimateOpenAIChatCostUSD prices usage for the models we run; unknown
// models report zero rather than guessing.
func estimateOpenAIChatCostUSD(model string, promptTokens, completionTokens int) float64 {
	var inPer1M, outPer1M float64
	switch {
	case strings.HasPrefix(model, "gpt-4o-mini"):
		inPer1M, outPer1M = 0.15, 0.60
	case strings.HasPrefix(model, "gpt-4o"):
		inPer1M, outPer1M = 2.50, 10.00
	case strings.HasPrefix(model, "gpt-4.1-mini"):
		inPer1M, outPer1M = 0.40, 1.60
	case strings.HasPrefix(model, "gpt-4.1"):
		inPer1M, outPer1M = 2.00, 8.00
	default:
		return 0
	}
	return float64(promptTokens)*inPer1M/1_000_000 + float64(completionTokens)*outPer1M/1_000_000
}

// OpenAI chat API types

type openAIChatRequest struct {
	Model          string                `json:"model"`
	Messages       []Message             `json:"messages"`
	Temperature    float64               `json:"temperature,omitempty"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage openAIChatUsage `json:"usage"`
}

type openAIChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Verify interface
var _ ChatProvider = (*OpenAIChatClient)(nil)
