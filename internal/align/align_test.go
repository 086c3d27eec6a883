package align

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/librettohq/libretto/internal/config"
	"github.com/librettohq/libretto/internal/providers"
	"github.com/librettohq/libretto/internal/types"
)

func testAlignCfg() config.AlignCfg {
	return config.AlignCfg{
		Backend:             "auto",
		MinCoverage:         0.8,
		BoundaryMinCoverage: 0.95,
	}
}

// surfaceTokens builds a token table from surface words.
func surfaceTokens(words ...string) types.TokenTable {
	tokens := make(types.TokenTable, len(words))
	for i, w := range words {
		tokens[i] = types.Token{
			ID:         fmt.Sprintf("w%d", i),
			Surface:    w,
			Normalized: w,
		}
	}
	return tokens
}

// evenTiming times every token back to back, dur seconds each.
func evenTiming(tokens types.TokenTable, dur float64) []types.TimingEntry {
	out := make([]types.TimingEntry, len(tokens))
	for i, tok := range tokens {
		out[i] = types.TimingEntry{
			TokenID: tok.ID,
			Begin:   float64(i) * dur,
			End:     float64(i+1) * dur,
		}
	}
	return out
}

// stubBackend returns canned placements.
type stubBackend struct {
	name       string
	placements []Placement
	err        error
}

func (s *stubBackend) Name() string { return s.name }
func (s *stubBackend) Align(context.Context, *Request) ([]Placement, error) {
	return s.placements, s.err
}

func writeTempAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chapter.mp3")
	if err := os.WriteFile(path, []byte("not really audio"), 0o644); err != nil {
		t.Fatalf("write temp audio: %v", err)
	}
	return path
}

func TestBoundaryBackendAdoptsProvisionalTiming(t *testing.T) {
	tokens := surfaceTokens(
		"one", "two", "three", "four", "five",
		"six", "seven", "eight", "nine", "ten",
		"eleven", "twelve", "thirteen", "fourteen", "fifteen",
		"sixteen", "seventeen", "eighteen", "nineteen", "twenty",
	)
	timing := evenTiming(tokens, 0.3)

	aligner := New(testAlignCfg(), NewBoundaryBackend(0.95), nil, nil, nil)
	table, err := aligner.Align(context.Background(), &Request{
		BookID:       "b1",
		ChapterIndex: 0,
		Language:     "en",
		Duration:     6.0,
		Tokens:       tokens,
		Timing:       timing,
	}, Options{})
	if err != nil {
		t.Fatalf("Align() error = %v", err)
	}

	if table.Backend != "boundary" {
		t.Errorf("backend = %q, want %q", table.Backend, "boundary")
	}
	if got := table.TimedCoverage(); got < 0.95 {
		t.Errorf("coverage = %f, want >= 0.95", got)
	}
	if err := table.Validate(tokens); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if got := *table.Entries[3].ClipBegin; got != 0.9 {
		t.Errorf("entry 3 begin = %f, want 0.9", got)
	}
}

func TestBoundaryBackendNotEligibleWhenSparse(t *testing.T) {
	tokens := surfaceTokens("one", "two", "three", "four")
	// Only half the tokens carry provisional timing.
	timing := []types.TimingEntry{
		{TokenID: "w0", Begin: 0.0, End: 0.3},
		{TokenID: "w1", Begin: 0.3, End: 0.6},
	}

	backend := NewBoundaryBackend(0.95)
	_, err := backend.Align(context.Background(), &Request{Tokens: tokens, Timing: timing})
	if !errors.Is(err, errNotEligible) {
		t.Fatalf("Align() error = %v, want errNotEligible", err)
	}
}

func TestBoundaryBackendRejectsUnorderedTiming(t *testing.T) {
	tokens := surfaceTokens("one", "two")
	timing := []types.TimingEntry{
		{TokenID: "w0", Begin: 0.5, End: 1.0},
		{TokenID: "w1", Begin: 0.0, End: 0.4},
	}

	backend := NewBoundaryBackend(0.95)
	_, err := backend.Align(context.Background(), &Request{Tokens: tokens, Timing: timing})
	if !errors.Is(err, errNotEligible) {
		t.Fatalf("Align() error = %v, want errNotEligible", err)
	}
}

func TestAutoFallsBackToASR(t *testing.T) {
	tokens := surfaceTokens("hello", "brave", "new", "world")
	asr := providers.NewMockASRClient()
	asr.Words = []providers.WordStamp{
		{Text: "Hello", Start: 0.0, End: 0.4},
		{Text: "brave", Start: 0.5, End: 0.9},
		{Text: "new", Start: 1.0, End: 1.2},
		{Text: "world.", Start: 1.3, End: 1.8},
	}

	aligner := New(testAlignCfg(), NewBoundaryBackend(0.95), NewASRBackend(asr, "mock", nil), nil, nil)
	table, err := aligner.Align(context.Background(), &Request{
		BookID:    "b1",
		Language:  "en",
		AudioPath: writeTempAudio(t),
		Duration:  2.0,
		Tokens:    tokens,
		// No provisional timing, so boundary is not eligible.
	}, Options{})
	if err != nil {
		t.Fatalf("Align() error = %v", err)
	}

	if table.Backend != "asr" {
		t.Errorf("backend = %q, want %q", table.Backend, "asr")
	}
	if err := table.Validate(tokens); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if got := *table.Entries[1].ClipBegin; got != 0.5 {
		t.Errorf("entry 1 begin = %f, want 0.5", got)
	}
	if got := *table.Entries[3].ClipEnd; got != 1.8 {
		t.Errorf("entry 3 end = %f, want 1.8", got)
	}
}

func TestAlignerRejectsLowCoverage(t *testing.T) {
	tokens := surfaceTokens("one", "two", "three", "four", "five",
		"six", "seven", "eight", "nine", "ten")
	// Only three of ten tokens get placements.
	stub := &stubBackend{name: "stub", placements: []Placement{
		{TokenID: "w0", Begin: 0.0, End: 0.2},
		{TokenID: "w1", Begin: 0.2, End: 0.4},
		{TokenID: "w2", Begin: 0.4, End: 0.6},
	}}

	aligner := New(testAlignCfg(), nil, stub, nil, nil)
	_, err := aligner.Align(context.Background(), &Request{
		Duration: 3.0,
		Tokens:   tokens,
	}, Options{Backend: "asr"})

	var diverged *DivergedError
	if !errors.As(err, &diverged) {
		t.Fatalf("Align() error = %v, want DivergedError", err)
	}
	if diverged.Timed != 3 || diverged.Total != 10 {
		t.Errorf("counts = %d/%d, want 3/10", diverged.Timed, diverged.Total)
	}
}

func TestAlignerFixesOverlapsAtMidpoint(t *testing.T) {
	tokens := surfaceTokens("one", "two")
	stub := &stubBackend{name: "stub", placements: []Placement{
		{TokenID: "w0", Begin: 0.0, End: 1.0},
		{TokenID: "w1", Begin: 0.8, End: 1.6},
	}}

	aligner := New(testAlignCfg(), nil, stub, nil, nil)
	table, err := aligner.Align(context.Background(), &Request{
		Duration: 2.0,
		Tokens:   tokens,
	}, Options{Backend: "asr"})
	if err != nil {
		t.Fatalf("Align() error = %v", err)
	}

	if got := *table.Entries[0].ClipEnd; got != 0.9 {
		t.Errorf("entry 0 end = %f, want 0.9", got)
	}
	if got := *table.Entries[1].ClipBegin; got != 0.9 {
		t.Errorf("entry 1 begin = %f, want 0.9", got)
	}
	if err := table.Validate(tokens); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestAlignerClampsBounds(t *testing.T) {
	tokens := surfaceTokens("one", "two")
	stub := &stubBackend{name: "stub", placements: []Placement{
		{TokenID: "w0", Begin: -0.5, End: 0.5},
		{TokenID: "w1", Begin: 0.5, End: 99.0},
	}}

	aligner := New(testAlignCfg(), nil, stub, nil, nil)
	table, err := aligner.Align(context.Background(), &Request{
		Duration: 1.0,
		Tokens:   tokens,
	}, Options{Backend: "asr"})
	if err != nil {
		t.Fatalf("Align() error = %v", err)
	}

	if got := *table.Entries[0].ClipBegin; got != 0 {
		t.Errorf("entry 0 begin = %f, want 0", got)
	}
	if got := *table.Entries[1].ClipEnd; got != 1.0 {
		t.Errorf("entry 1 end = %f, want 1.0", got)
	}
}

func TestMatchTranscriptSurvivesInsertions(t *testing.T) {
	tokens := surfaceTokens("the", "quick", "fox", "jumps")
	words := []providers.WordStamp{
		{Text: "The", Start: 0.0, End: 0.2},
		{Text: "quick", Start: 0.2, End: 0.5},
		{Text: "brown", Start: 0.5, End: 0.8}, // inserted by the narrator
		{Text: "fox", Start: 0.8, End: 1.1},
		{Text: "jumps", Start: 1.1, End: 1.5},
	}

	placements := matchTranscript(tokens, words)
	if len(placements) != 4 {
		t.Fatalf("len(placements) = %d, want 4", len(placements))
	}
	if placements[2].TokenID != "w2" || placements[2].Begin != 0.8 {
		t.Errorf("fox placement = %+v, want w2 at 0.8", placements[2])
	}
}

func TestMatchTranscriptLeavesDroppedWordsUntimed(t *testing.T) {
	tokens := surfaceTokens("one", "two", "three")
	words := []providers.WordStamp{
		{Text: "one", Start: 0.0, End: 0.3},
		{Text: "three", Start: 0.3, End: 0.6}, // narrator skipped "two"
	}

	placements := matchTranscript(tokens, words)
	if len(placements) != 2 {
		t.Fatalf("len(placements) = %d, want 2", len(placements))
	}
	for _, p := range placements {
		if p.TokenID == "w1" {
			t.Errorf("w1 should stay unmatched, got %+v", p)
		}
	}
}

func TestPickCandidatePrefersFitting(t *testing.T) {
	candidates := []Placement{
		{TokenID: "w0", Begin: 0.5, End: 2.0}, // earliest but crosses next start
		{TokenID: "w0", Begin: 0.8, End: 1.0},
	}
	got := pickCandidate(candidates, 1.0)
	if got.Begin != 0.8 {
		t.Errorf("picked candidate at %f, want 0.8", got.Begin)
	}

	// With no fitting candidate the earliest wins.
	got = pickCandidate(candidates, 0.6)
	if got.Begin != 0.5 {
		t.Errorf("picked candidate at %f, want 0.5", got.Begin)
	}
}

func TestExplicitBackendUnavailable(t *testing.T) {
	aligner := New(testAlignCfg(), NewBoundaryBackend(0.95), nil, nil, nil)
	_, err := aligner.Align(context.Background(), &Request{
		Tokens:   surfaceTokens("one"),
		Duration: 1.0,
	}, Options{Backend: "dtw"})
	if err == nil {
		t.Fatal("Align() with unavailable backend should fail")
	}
}
