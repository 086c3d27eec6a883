package types

import (
	"fmt"
	"time"
)

// SyncEntry maps one token to a clip of the canonical audio. Untimed and
// skipped entries carry null bounds; they differ in that a skipped entry was
// deliberately cut while an untimed one simply could not be aligned.
type SyncEntry struct {
	TokenID   string   `json:"token_id"`
	ClipBegin *float64 `json:"clip_begin"`
	ClipEnd   *float64 `json:"clip_end"`
	Skipped   bool     `json:"skipped,omitempty"`
}

// Timed reports whether the entry carries usable bounds.
func (e SyncEntry) Timed() bool {
	return !e.Skipped && e.ClipBegin != nil && e.ClipEnd != nil
}

// SyncTable is the authoritative token-to-time mapping for a
// (book, chapter, language) key against the canonical audio of Duration
// seconds. Backend names the aligner that produced it and Fingerprint the
// inputs, for cache identity.
type SyncTable struct {
	BookID       string      `json:"book_id"`
	ChapterIndex int         `json:"chapter_index"`
	Language     string      `json:"language"`
	Backend      string      `json:"backend,omitempty"`
	Duration     float64     `json:"duration"`
	Entries      []SyncEntry `json:"entries"`
	Fingerprint  string      `json:"fingerprint,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Validate checks the structural invariants of the table: every timed entry
// within [0, Duration] with begin < end, and timed entries monotone and
// non-overlapping in order. If tokens is non-nil the entry ids must equal the
// token table's ids exactly, in order.
func (s *SyncTable) Validate(tokens TokenTable) error {
	if tokens != nil {
		if len(s.Entries) != len(tokens) {
			return fmt.Errorf("sync table has %d entries for %d tokens", len(s.Entries), len(tokens))
		}
		for i, e := range s.Entries {
			if e.TokenID != tokens[i].ID {
				return fmt.Errorf("entry %d: token id %q does not match table id %q", i, e.TokenID, tokens[i].ID)
			}
		}
	}

	lastEnd := 0.0
	for i, e := range s.Entries {
		if e.Skipped {
			if e.ClipBegin != nil || e.ClipEnd != nil {
				return fmt.Errorf("entry %d (%s): skipped entry carries bounds", i, e.TokenID)
			}
			continue
		}
		if e.ClipBegin == nil && e.ClipEnd == nil {
			continue // untimed
		}
		if e.ClipBegin == nil || e.ClipEnd == nil {
			return fmt.Errorf("entry %d (%s): half-timed bounds", i, e.TokenID)
		}
		b, en := *e.ClipBegin, *e.ClipEnd
		if b < 0 || en > s.Duration+timeEpsilon {
			return fmt.Errorf("entry %d (%s): [%f, %f) outside [0, %f]", i, e.TokenID, b, en, s.Duration)
		}
		if b >= en {
			return fmt.Errorf("entry %d (%s): begin %f >= end %f", i, e.TokenID, b, en)
		}
		if b < lastEnd-timeEpsilon {
			return fmt.Errorf("entry %d (%s): begin %f overlaps previous end %f", i, e.TokenID, b, lastEnd)
		}
		lastEnd = en
	}
	return nil
}

// timeEpsilon absorbs float rounding from codec round-trips (well under the
// 1 ms equality window the pipeline guarantees).
const timeEpsilon = 1e-6

// TimedCoverage returns the fraction of entries that carry bounds.
func (s *SyncTable) TimedCoverage() float64 {
	if len(s.Entries) == 0 {
		return 0
	}
	timed := 0
	for _, e := range s.Entries {
		if e.Timed() {
			timed++
		}
	}
	return float64(timed) / float64(len(s.Entries))
}

// Clone returns a deep copy, so edits can be prepared without mutating the
// published table.
func (s *SyncTable) Clone() *SyncTable {
	out := *s
	out.Entries = make([]SyncEntry, len(s.Entries))
	for i, e := range s.Entries {
		out.Entries[i] = SyncEntry{TokenID: e.TokenID, Skipped: e.Skipped}
		if e.ClipBegin != nil {
			b := *e.ClipBegin
			out.Entries[i].ClipBegin = &b
		}
		if e.ClipEnd != nil {
			en := *e.ClipEnd
			out.Entries[i].ClipEnd = &en
		}
	}
	return &out
}

// Float64 returns a pointer to v, for building nullable clip bounds.
func Float64(v float64) *float64 { return &v }
