// Package align produces SyncTables: per-token clip intervals against a
// chapter's canonical audio. Three backends share one output shape; the
// aligner enforces the table invariants regardless of which produced it.
package align

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/librettohq/libretto/internal/config"
	"github.com/librettohq/libretto/internal/types"
)

// Placement is one candidate interval for a token, in seconds against
// the canonical audio.
type Placement struct {
	TokenID string
	Begin   float64
	End     float64
}

// Request carries the alignment inputs. AudioPath points at the
// canonical blob on disk; Timing is the provisional per-token table
// persisted at synthesis time, nil for uploads.
type Request struct {
	BookID       string
	ChapterIndex int
	Language     string
	AudioPath    string
	Duration     float64
	Tokens       types.TokenTable
	Timing       []types.TimingEntry
}

// Backend turns a request into raw placements. Backends do not enforce
// table invariants; the aligner does that uniformly afterwards.
type Backend interface {
	Name() string
	Align(ctx context.Context, req *Request) ([]Placement, error)
}

// errNotEligible makes a backend step aside under auto selection
// without failing the whole alignment.
var errNotEligible = errors.New("backend not eligible")

// DivergedError reports alignment whose timed coverage fell below the
// configured minimum. The counts identify how far off it was.
type DivergedError struct {
	Backend  string
	Timed    int
	Total    int
	Coverage float64
	Minimum  float64
}

func (e *DivergedError) Error() string {
	return fmt.Sprintf("alignment diverged: backend %s timed %d of %d tokens (%.2f < %.2f)",
		e.Backend, e.Timed, e.Total, e.Coverage, e.Minimum)
}

// Options select the backend for one alignment run. Backend overrides
// the configured default; empty means the config choice.
type Options struct {
	Mode    string // "word" or "auto"; reserved for coarser granularities
	Backend string // "", "auto", "boundary", "asr", "dtw"
}

// Aligner runs a backend and enforces the SyncTable post-conditions.
type Aligner struct {
	cfg    config.AlignCfg
	logger *slog.Logger

	boundary Backend
	asr      Backend
	dtw      Backend
}

// New builds an aligner over the given backends. Nil backends are
// simply unavailable; auto selection skips them.
func New(cfg config.AlignCfg, boundary, asr, dtw Backend, logger *slog.Logger) *Aligner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aligner{
		cfg:      cfg,
		logger:   logger,
		boundary: boundary,
		asr:      asr,
		dtw:      dtw,
	}
}

// Align produces a validated SyncTable for the request or fails with
// DivergedError when no backend can time enough of the chapter.
func (a *Aligner) Align(ctx context.Context, req *Request, opts Options) (*types.SyncTable, error) {
	if len(req.Tokens) == 0 {
		return nil, fmt.Errorf("chapter has no tokens to align")
	}

	name := opts.Backend
	if name == "" || name == "auto" {
		name = a.cfg.Backend
	}

	var (
		placements []Placement
		used       string
		err        error
	)
	switch name {
	case "", "auto":
		placements, used, err = a.alignAuto(ctx, req)
	default:
		backend := a.backendByName(name)
		if backend == nil {
			return nil, fmt.Errorf("alignment backend %q not available", name)
		}
		used = backend.Name()
		placements, err = backend.Align(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	table := a.buildTable(req, placements, used)
	fixMonotonicity(table.Entries)
	clampBounds(table.Entries, req.Duration)

	min := a.cfg.MinCoverage
	if min <= 0 {
		min = 0.8
	}
	timed := 0
	for _, e := range table.Entries {
		if e.Timed() {
			timed++
		}
	}
	coverage := float64(timed) / float64(len(table.Entries))
	if coverage < min {
		return nil, &DivergedError{
			Backend:  used,
			Timed:    timed,
			Total:    len(table.Entries),
			Coverage: coverage,
			Minimum:  min,
		}
	}

	if err := table.Validate(req.Tokens); err != nil {
		return nil, fmt.Errorf("aligned table failed validation: %w", err)
	}

	a.logger.Info("aligned chapter",
		"book_id", req.BookID,
		"chapter", req.ChapterIndex,
		"lang", req.Language,
		"backend", used,
		"timed", timed,
		"total", len(table.Entries),
		"coverage", fmt.Sprintf("%.3f", coverage),
	)
	return table, nil
}

// alignAuto tries boundary, then asr, then dtw, skipping backends that
// report themselves not eligible for this request.
func (a *Aligner) alignAuto(ctx context.Context, req *Request) ([]Placement, string, error) {
	var lastErr error
	for _, backend := range []Backend{a.boundary, a.asr, a.dtw} {
		if backend == nil {
			continue
		}
		placements, err := backend.Align(ctx, req)
		if errors.Is(err, errNotEligible) {
			lastErr = fmt.Errorf("%s: not eligible", backend.Name())
			continue
		}
		if err != nil {
			return nil, backend.Name(), err
		}
		return placements, backend.Name(), nil
	}
	if lastErr != nil {
		return nil, "", fmt.Errorf("no alignment backend eligible: %w", lastErr)
	}
	return nil, "", fmt.Errorf("no alignment backend configured")
}

func (a *Aligner) backendByName(name string) Backend {
	switch name {
	case "boundary":
		return a.boundary
	case "asr":
		return a.asr
	case "dtw":
		return a.dtw
	}
	return nil
}

// buildTable materializes one entry per token in table order. Tokens
// without a placement stay untimed. When a backend returns several
// placements for one token, the earliest-starting one whose end does
// not cross the next token's start wins.
func (a *Aligner) buildTable(req *Request, placements []Placement, backend string) *types.SyncTable {
	byToken := make(map[string][]Placement, len(placements))
	for _, p := range placements {
		byToken[p.TokenID] = append(byToken[p.TokenID], p)
	}

	now := time.Now().UTC()
	table := &types.SyncTable{
		BookID:       req.BookID,
		ChapterIndex: req.ChapterIndex,
		Language:     req.Language,
		Backend:      backend,
		Duration:     req.Duration,
		Entries:      make([]types.SyncEntry, len(req.Tokens)),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	for i, tok := range req.Tokens {
		table.Entries[i] = types.SyncEntry{TokenID: tok.ID}
		candidates := byToken[tok.ID]
		if len(candidates) == 0 {
			continue
		}
		next := nextCandidateStart(req.Tokens, byToken, i)
		chosen := pickCandidate(candidates, next)
		if chosen == nil {
			continue
		}
		table.Entries[i].ClipBegin = types.Float64(chosen.Begin)
		table.Entries[i].ClipEnd = types.Float64(chosen.End)
	}
	return table
}

// nextCandidateStart returns the earliest candidate begin of the next
// token that has any, or +inf when none follows.
func nextCandidateStart(tokens types.TokenTable, byToken map[string][]Placement, i int) float64 {
	for j := i + 1; j < len(tokens); j++ {
		candidates := byToken[tokens[j].ID]
		if len(candidates) == 0 {
			continue
		}
		best := candidates[0].Begin
		for _, c := range candidates[1:] {
			if c.Begin < best {
				best = c.Begin
			}
		}
		return best
	}
	return 1e18
}

// pickCandidate prefers the earliest-starting candidate whose end stays
// at or before the next token's start; failing that, the earliest one.
func pickCandidate(candidates []Placement, nextStart float64) *Placement {
	var fitting, earliest *Placement
	for i := range candidates {
		c := &candidates[i]
		if c.End <= c.Begin {
			continue
		}
		if earliest == nil || c.Begin < earliest.Begin {
			earliest = c
		}
		if c.End <= nextStart && (fitting == nil || c.Begin < fitting.Begin) {
			fitting = c
		}
	}
	if fitting != nil {
		return fitting
	}
	return earliest
}

// fixMonotonicity repairs overlapping adjacent timed entries by
// splitting at the midpoint of the overlap. Entries whose interval
// collapses to nothing become untimed.
func fixMonotonicity(entries []types.SyncEntry) {
	prev := -1
	for i := range entries {
		if !entries[i].Timed() {
			continue
		}
		if prev >= 0 {
			prevEnd := *entries[prev].ClipEnd
			begin := *entries[i].ClipBegin
			if begin < prevEnd {
				mid := (begin + prevEnd) / 2
				if mid < *entries[i].ClipEnd {
					mid = clampMid(mid, *entries[prev].ClipBegin, *entries[i].ClipEnd)
					*entries[prev].ClipEnd = mid
					*entries[i].ClipBegin = mid
				} else {
					// Later entry lies entirely inside the earlier
					// one; it cannot be timed coherently.
					entries[i].ClipBegin = nil
					entries[i].ClipEnd = nil
					continue
				}
				if *entries[prev].ClipBegin >= *entries[prev].ClipEnd {
					entries[prev].ClipBegin = nil
					entries[prev].ClipEnd = nil
				}
			}
		}
		if entries[i].Timed() {
			prev = i
		}
	}
}

// clampMid keeps the split point strictly inside both intervals.
func clampMid(mid, lo, hi float64) float64 {
	if mid <= lo {
		return lo + (hi-lo)/4
	}
	if mid >= hi {
		return hi - (hi-lo)/4
	}
	return mid
}

// clampBounds clips intervals into [0, duration]; intervals that end up
// empty become untimed.
func clampBounds(entries []types.SyncEntry, duration float64) {
	for i := range entries {
		if !entries[i].Timed() {
			continue
		}
		b, e := *entries[i].ClipBegin, *entries[i].ClipEnd
		if b < 0 {
			b = 0
		}
		if e > duration {
			e = duration
		}
		if b >= e {
			entries[i].ClipBegin = nil
			entries[i].ClipEnd = nil
			continue
		}
		*entries[i].ClipBegin = b
		*entries[i].ClipEnd = e
	}
}
