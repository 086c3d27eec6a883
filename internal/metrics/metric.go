// Package metrics records usage and cost for external provider calls.
// Records live in a fixed-size in-memory ring: recent history for the
// usage endpoints without a storage dependency, gone on restart like
// the job registry.
package metrics

import (
	"context"
	"time"
)

// Stages attribute a call to the pipeline step that made it.
const (
	StageTTS       = "tts"
	StageASR       = "asr"
	StageTranslate = "translate"
)

// Metric is one recorded provider call.
type Metric struct {
	ID string `json:"id,omitempty"`

	// Attribution
	JobID  string `json:"job_id,omitempty"`
	BookID string `json:"book_id,omitempty"`
	Stage  string `json:"stage,omitempty"`

	// Provider info
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Billed quantities: characters of input text for TTS and
	// translation, seconds of audio for TTS output and ASR input.
	Characters int     `json:"characters,omitempty"`
	Seconds    float64 `json:"seconds,omitempty"`

	// Token usage for chat-backed calls.
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`

	CostUSD          float64 `json:"cost_usd,omitempty"`
	ExecutionSeconds float64 `json:"execution_seconds,omitempty"`

	Success   bool   `json:"success"`
	ErrorType string `json:"error_type,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type jobKey struct{}

// WithJob tags ctx with the job id under which provider calls run.
// The pipeline controller installs it on every job context, so call
// sites deep in the managers attribute records without extra plumbing.
func WithJob(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobKey{}, jobID)
}

// JobFrom returns the job id tagged on ctx, or "".
func JobFrom(ctx context.Context) string {
	id, _ := ctx.Value(jobKey{}).(string)
	return id
}
