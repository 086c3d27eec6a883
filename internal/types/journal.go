package types

import "time"

// EditOp names an audio edit operation recorded in the journal.
type EditOp string

const (
	// OpRangeCut removes a [t0, t1) time range from the canonical audio.
	OpRangeCut EditOp = "range_cut"
	// OpSkipCut removes the intervals of a set of tokens.
	OpSkipCut EditOp = "skip_cut"
	// OpRestore resets the canonical audio to the immutable source copy.
	OpRestore EditOp = "restore"
)

// JournalEntry is one append-only record of an edit applied to a
// (book, chapter, language) key. Params are op-specific: trim_start/trim_end
// for range_cut, skip_word_ids for skip_cut, empty for restore. The sequence
// of entries deterministically rebuilds the current canonical audio from the
// source copy.
type JournalEntry struct {
	Op           EditOp         `json:"op"`
	Params       map[string]any `json:"params,omitempty"`
	PreDuration  float64        `json:"pre_duration"`
	PostDuration float64        `json:"post_duration"`
	AppliedAt    time.Time      `json:"applied_at"`
}
