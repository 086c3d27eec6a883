package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/librettohq/libretto/internal/providers"
)

// DefaultCapacity bounds the in-memory history when none is configured.
const DefaultCapacity = 4096

// Recorder keeps the most recent provider-call metrics in a ring.
// A nil Recorder is valid everywhere and records nothing, so callers
// never guard their recording sites.
type Recorder struct {
	mu    sync.RWMutex
	buf   []Metric
	head  int
	count int
}

// NewRecorder allocates a recorder holding up to capacity records.
// Zero or negative capacity uses DefaultCapacity.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{buf: make([]Metric, capacity)}
}

// RecordOpts attribute a recorded call.
type RecordOpts struct {
	BookID   string
	Stage    string
	Provider string
	Model    string
	// Characters is the input text size, for calls where the result
	// does not report one.
	Characters int
}

// Record stores one metric, filling ID, CreatedAt and the job id from
// ctx when absent, and returns the record id. The oldest record is
// evicted once the ring is full.
func (r *Recorder) Record(ctx context.Context, m Metric) string {
	if r == nil {
		return ""
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.JobID == "" {
		m.JobID = JobFrom(ctx)
	}

	r.mu.Lock()
	r.buf[r.head] = m
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
	r.mu.Unlock()
	return m.ID
}

// Len reports how many records are held.
func (r *Recorder) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// RecordSynthesis records one TTS engine call.
func (r *Recorder) RecordSynthesis(ctx context.Context, opts RecordOpts, res *providers.TTSResult, err error) string {
	if r == nil {
		return ""
	}
	m := Metric{
		BookID:     opts.BookID,
		Stage:      stageOr(opts.Stage, StageTTS),
		Provider:   opts.Provider,
		Model:      opts.Model,
		Characters: opts.Characters,
		Success:    err == nil,
	}
	if res != nil {
		if res.CharCount > 0 {
			m.Characters = res.CharCount
		}
		m.Seconds = float64(res.DurationMS) / 1000
		m.CostUSD = res.CostUSD
		m.ExecutionSeconds = res.ExecutionTime.Seconds()
		if !res.Success {
			m.Success = false
		}
	}
	if !m.Success {
		m.ErrorType = "tts_error"
	}
	return r.Record(ctx, m)
}

// RecordTranscription records one ASR engine call.
func (r *Recorder) RecordTranscription(ctx context.Context, opts RecordOpts, res *providers.ASRResult, err error) string {
	if r == nil {
		return ""
	}
	m := Metric{
		BookID:   opts.BookID,
		Stage:    stageOr(opts.Stage, StageASR),
		Provider: opts.Provider,
		Model:    opts.Model,
		Success:  err == nil,
	}
	if res != nil {
		m.Seconds = float64(res.DurationMS) / 1000
		m.CostUSD = res.CostUSD
		m.ExecutionSeconds = res.ExecutionTime.Seconds()
		if !res.Success {
			m.Success = false
		}
	}
	if !m.Success {
		m.ErrorType = "asr_error"
	}
	return r.Record(ctx, m)
}

// RecordChat records one chat completion call. The result's provider
// and model override the opts when present.
func (r *Recorder) RecordChat(ctx context.Context, opts RecordOpts, res *providers.ChatResult, err error) string {
	if r == nil {
		return ""
	}
	m := Metric{
		BookID:     opts.BookID,
		Stage:      stageOr(opts.Stage, StageTranslate),
		Provider:   opts.Provider,
		Model:      opts.Model,
		Characters: opts.Characters,
		Success:    err == nil,
	}
	if res != nil {
		if res.Provider != "" {
			m.Provider = res.Provider
		}
		if res.ModelUsed != "" {
			m.Model = res.ModelUsed
		}
		m.PromptTokens = res.PromptTokens
		m.CompletionTokens = res.CompletionTokens
		m.TotalTokens = res.TotalTokens
		m.CostUSD = res.CostUSD
		m.ExecutionSeconds = res.ExecutionTime.Seconds()
		if !res.Success {
			m.Success = false
		}
		m.ErrorType = res.ErrorType
	}
	if !m.Success && m.ErrorType == "" {
		m.ErrorType = "chat_error"
	}
	if m.Success {
		m.ErrorType = ""
	}
	return r.Record(ctx, m)
}

func stageOr(stage, fallback string) string {
	if stage != "" {
		return stage
	}
	return fallback
}
