package metrics

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/librettohq/libretto/internal/providers"
)

func TestRecorder_Record(t *testing.T) {
	r := NewRecorder(10)
	ctx := WithJob(context.Background(), "job-1")

	id := r.Record(ctx, Metric{BookID: "b1", Stage: StageTTS, Success: true})
	if id == "" {
		t.Fatal("Record() returned empty id")
	}

	got := r.List(Filter{}, 0)
	if len(got) != 1 {
		t.Fatalf("List() = %d records, want 1", len(got))
	}
	m := got[0]
	if m.ID != id {
		t.Errorf("ID = %q, want %q", m.ID, id)
	}
	if m.JobID != "job-1" {
		t.Errorf("JobID = %q, want job id from context", m.JobID)
	}
	if m.CreatedAt.IsZero() {
		t.Error("CreatedAt not filled")
	}

	// An explicit job id wins over the context.
	r.Record(ctx, Metric{JobID: "job-2"})
	got = r.List(Filter{JobID: "job-2"}, 0)
	if len(got) != 1 {
		t.Errorf("List(job-2) = %d records, want 1", len(got))
	}
}

func TestRecorder_RingEviction(t *testing.T) {
	r := NewRecorder(3)
	for i := 0; i < 5; i++ {
		r.Record(context.Background(), Metric{
			BookID:  "b1",
			Stage:   StageTTS,
			CostUSD: float64(i),
		})
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}

	got := r.List(Filter{}, 0)
	if len(got) != 3 {
		t.Fatalf("List() = %d records, want 3", len(got))
	}
	// Oldest first, oldest two evicted.
	for i, want := range []float64{2, 3, 4} {
		if got[i].CostUSD != want {
			t.Errorf("record %d cost = %v, want %v", i, got[i].CostUSD, want)
		}
	}
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	if id := r.Record(context.Background(), Metric{}); id != "" {
		t.Errorf("nil Record() = %q, want empty", id)
	}
	if id := r.RecordSynthesis(context.Background(), RecordOpts{}, nil, nil); id != "" {
		t.Errorf("nil RecordSynthesis() = %q, want empty", id)
	}
	if got := r.List(Filter{}, 0); got != nil {
		t.Errorf("nil List() = %v, want nil", got)
	}
	if r.Len() != 0 {
		t.Errorf("nil Len() = %d, want 0", r.Len())
	}
	if s := r.GetSummary(Filter{}); s.Count != 0 {
		t.Errorf("nil GetSummary().Count = %d, want 0", s.Count)
	}
}

func TestList_Filters(t *testing.T) {
	r := NewRecorder(10)
	ctx := context.Background()
	ok, fail := true, false

	r.Record(ctx, Metric{JobID: "j1", BookID: "b1", Stage: StageTTS, Provider: "openai", Model: "voice-a", Success: true})
	r.Record(ctx, Metric{JobID: "j1", BookID: "b1", Stage: StageASR, Provider: "whisperd", Success: true})
	r.Record(ctx, Metric{JobID: "j2", BookID: "b2", Stage: StageTTS, Provider: "openai", Model: "voice-b", Success: false})

	tests := []struct {
		name string
		f    Filter
		want int
	}{
		{"all", Filter{}, 3},
		{"by book", Filter{BookID: "b1"}, 2},
		{"by job", Filter{JobID: "j2"}, 1},
		{"by stage", Filter{Stage: StageTTS}, 2},
		{"by provider", Filter{Provider: "whisperd"}, 1},
		{"by model", Filter{Model: "voice-b"}, 1},
		{"successes", Filter{Success: &ok}, 2},
		{"failures", Filter{Success: &fail}, 1},
		{"combined", Filter{BookID: "b1", Stage: StageTTS}, 1},
		{"no match", Filter{BookID: "b9"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.List(tt.f, 0); len(got) != tt.want {
				t.Errorf("List(%+v) = %d records, want %d", tt.f, len(got), tt.want)
			}
		})
	}

	if got := r.List(Filter{}, 2); len(got) != 2 {
		t.Errorf("List(limit 2) = %d records, want 2", len(got))
	}
}

func TestList_TimeWindow(t *testing.T) {
	r := NewRecorder(10)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		r.Record(context.Background(), Metric{CreatedAt: base.Add(time.Duration(i) * time.Hour)})
	}

	got := r.List(Filter{After: base}, 0)
	if len(got) != 2 {
		t.Errorf("List(After) = %d records, want 2", len(got))
	}
	got = r.List(Filter{Before: base.Add(time.Hour)}, 0)
	if len(got) != 1 {
		t.Errorf("List(Before) = %d records, want 1", len(got))
	}
}

func TestRecordSynthesis(t *testing.T) {
	r := NewRecorder(10)
	ctx := WithJob(context.Background(), "job-tts")

	r.RecordSynthesis(ctx, RecordOpts{BookID: "b1", Provider: "openai", Model: "alloy"}, &providers.TTSResult{
		Success:       true,
		CharCount:     1200,
		DurationMS:    90_000,
		CostUSD:       0.018,
		ExecutionTime: 2 * time.Second,
	}, nil)

	got := r.List(Filter{Stage: StageTTS}, 0)
	if len(got) != 1 {
		t.Fatalf("List() = %d records, want 1", len(got))
	}
	m := got[0]
	if m.JobID != "job-tts" || m.BookID != "b1" || m.Provider != "openai" || m.Model != "alloy" {
		t.Errorf("attribution = %+v", m)
	}
	if m.Characters != 1200 || m.Seconds != 90 || m.CostUSD != 0.018 {
		t.Errorf("usage = chars %d, seconds %v, cost %v", m.Characters, m.Seconds, m.CostUSD)
	}
	if !m.Success || m.ErrorType != "" {
		t.Errorf("success = %v, errorType = %q", m.Success, m.ErrorType)
	}

	// A transport failure with no result still records.
	r.RecordSynthesis(ctx, RecordOpts{BookID: "b1", Provider: "openai", Characters: 500}, nil, context.DeadlineExceeded)
	fail := false
	got = r.List(Filter{Stage: StageTTS, Success: &fail}, 0)
	if len(got) != 1 {
		t.Fatalf("List(failures) = %d records, want 1", len(got))
	}
	if got[0].ErrorType != "tts_error" || got[0].Characters != 500 {
		t.Errorf("failure record = %+v", got[0])
	}
}

func TestRecordTranscription(t *testing.T) {
	r := NewRecorder(10)

	r.RecordTranscription(context.Background(), RecordOpts{BookID: "b1", Provider: "whisperd", Model: "base"}, &providers.ASRResult{
		Success:       true,
		DurationMS:    300_000,
		CostUSD:       0.03,
		ExecutionTime: 40 * time.Second,
	}, nil)

	got := r.List(Filter{Stage: StageASR}, 0)
	if len(got) != 1 {
		t.Fatalf("List() = %d records, want 1", len(got))
	}
	if got[0].Seconds != 300 || got[0].CostUSD != 0.03 {
		t.Errorf("usage = %+v", got[0])
	}
}

func TestRecordChat(t *testing.T) {
	r := NewRecorder(10)

	r.RecordChat(context.Background(), RecordOpts{BookID: "b1", Characters: 900}, &providers.ChatResult{
		Success:          true,
		Provider:         "openai",
		ModelUsed:        "gpt-4o-mini",
		PromptTokens:     400,
		CompletionTokens: 350,
		TotalTokens:      750,
		CostUSD:          0.0004,
		ExecutionTime:    3 * time.Second,
	}, nil)

	got := r.List(Filter{Stage: StageTranslate}, 0)
	if len(got) != 1 {
		t.Fatalf("List() = %d records, want 1", len(got))
	}
	m := got[0]
	if m.Provider != "openai" || m.Model != "gpt-4o-mini" {
		t.Errorf("provider info = %q/%q", m.Provider, m.Model)
	}
	if m.TotalTokens != 750 || m.Characters != 900 {
		t.Errorf("usage = %+v", m)
	}

	// Result-reported failures keep the provider's error type.
	r.RecordChat(context.Background(), RecordOpts{BookID: "b1"}, &providers.ChatResult{
		Success:   false,
		ErrorType: "structured_output",
	}, nil)
	fail := false
	got = r.List(Filter{Success: &fail}, 0)
	if len(got) != 1 || got[0].ErrorType != "structured_output" {
		t.Errorf("failure records = %+v", got)
	}
}

func TestGetSummary(t *testing.T) {
	r := NewRecorder(10)
	ctx := context.Background()

	r.Record(ctx, Metric{BookID: "b1", CostUSD: 0.5, Characters: 100, Seconds: 60, TotalTokens: 10, Success: true})
	r.Record(ctx, Metric{BookID: "b1", CostUSD: 1.5, Characters: 300, Seconds: 120, Success: true})
	r.Record(ctx, Metric{BookID: "b1", Success: false, ErrorType: "tts_error"})

	s := r.GetSummary(Filter{BookID: "b1"})
	if s.Count != 3 || s.SuccessCount != 2 || s.ErrorCount != 1 {
		t.Errorf("counts = %d/%d/%d", s.Count, s.SuccessCount, s.ErrorCount)
	}
	if s.TotalCostUSD != 2.0 || s.TotalCharacters != 400 || s.TotalSeconds != 180 || s.TotalTokens != 10 {
		t.Errorf("totals = %+v", s)
	}
	if math.Abs(s.AvgCostUSD-2.0/3.0) > 1e-9 {
		t.Errorf("AvgCostUSD = %v", s.AvgCostUSD)
	}
}

func TestGetDetailedStats(t *testing.T) {
	r := NewRecorder(100)
	for i := 1; i <= 100; i++ {
		r.Record(context.Background(), Metric{
			Stage:            StageTTS,
			ExecutionSeconds: float64(i),
			Success:          true,
		})
	}

	stats := r.GetDetailedStats(Filter{Stage: StageTTS})
	if stats.Count != 100 {
		t.Fatalf("Count = %d, want 100", stats.Count)
	}
	if stats.LatencyMin != 1 || stats.LatencyMax != 100 {
		t.Errorf("min/max = %v/%v", stats.LatencyMin, stats.LatencyMax)
	}
	if math.Abs(stats.LatencyP50-50.5) > 0.01 {
		t.Errorf("p50 = %v, want 50.5", stats.LatencyP50)
	}
	if stats.LatencyP95 < 95 || stats.LatencyP95 > 96 {
		t.Errorf("p95 = %v", stats.LatencyP95)
	}
	if stats.LatencyAvg != 50.5 {
		t.Errorf("avg = %v, want 50.5", stats.LatencyAvg)
	}
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty", nil, 50, 0},
		{"single", []float64{7}, 99, 7},
		{"median even", []float64{1, 2, 3, 4}, 50, 2.5},
		{"p100", []float64{1, 2, 3}, 100, 3},
		{"p0", []float64{1, 2, 3}, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := percentile(tt.sorted, tt.p); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("percentile(%v, %v) = %v, want %v", tt.sorted, tt.p, got, tt.want)
			}
		})
	}
}

func TestBreakdowns(t *testing.T) {
	r := NewRecorder(10)
	ctx := context.Background()

	r.Record(ctx, Metric{BookID: "b1", Stage: StageTTS, Provider: "openai", Model: "alloy", CostUSD: 1, Success: true})
	r.Record(ctx, Metric{BookID: "b1", Stage: StageASR, Provider: "whisperd", Model: "base", CostUSD: 2, Success: true})
	r.Record(ctx, Metric{BookID: "b2", Stage: StageTTS, Provider: "openai", Model: "verse", CostUSD: 4, Success: true})

	if got := r.BookCost("b1"); got != 3 {
		t.Errorf("BookCost(b1) = %v, want 3", got)
	}
	if got := r.StageCost(StageTTS); got != 5 {
		t.Errorf("StageCost(tts) = %v, want 5", got)
	}

	byStage := r.BookStageBreakdown("b1")
	if byStage[StageTTS] != 1 || byStage[StageASR] != 2 {
		t.Errorf("BookStageBreakdown = %v", byStage)
	}

	byProvider := r.CostByProvider(Filter{})
	if byProvider["openai"] != 5 || byProvider["whisperd"] != 2 {
		t.Errorf("CostByProvider = %v", byProvider)
	}

	byModel := r.CostByModel(Filter{Stage: StageTTS})
	if byModel["alloy"] != 1 || byModel["verse"] != 4 {
		t.Errorf("CostByModel = %v", byModel)
	}

	perStage := r.StageDetailedStats("b1")
	if len(perStage) != 2 {
		t.Fatalf("StageDetailedStats = %d stages, want 2", len(perStage))
	}
	if perStage[StageTTS].TotalCostUSD != 1 {
		t.Errorf("tts stage cost = %v", perStage[StageTTS].TotalCostUSD)
	}
}
