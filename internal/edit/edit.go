// Package edit applies cut operations to a chapter's canonical audio
// and rewrites its sync table in the same step, so playback positions
// and word highlights never drift apart.
package edit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/librettohq/libretto/internal/audio"
	"github.com/librettohq/libretto/internal/blob"
	"github.com/librettohq/libretto/internal/meta"
	"github.com/librettohq/libretto/internal/types"
)

// Config carries the editor's encoding target and logger.
type Config struct {
	Spec   audio.EncodeSpec
	Logger *slog.Logger
}

// Editor mutates canonical audio and sync tables as one unit. Callers
// serialize edits per (book, chapter, language); the editor itself
// only guarantees that each file lands via an atomic rename.
type Editor struct {
	blobs  *blob.Store
	meta   *meta.Store
	codec  audio.Codec
	spec   audio.EncodeSpec
	logger *slog.Logger
}

// New builds an Editor over the blob and metadata stores.
func New(blobs *blob.Store, metaStore *meta.Store, codec audio.Codec, cfg Config) *Editor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Editor{
		blobs:  blobs,
		meta:   metaStore,
		codec:  codec,
		spec:   cfg.Spec,
		logger: logger.With("component", "edit"),
	}
}

// Result reports the post-edit artifact and sync table. Sync is nil
// when the chapter has no sync table (a range cut is still legal).
type Result struct {
	Artifact *types.AudioArtifact
	Sync     *types.SyncTable
}

// RangeCut removes the time range [trimStart, trimEnd) from the
// canonical audio. Entries ending at or before the cut keep their
// bounds, entries starting at or after it shift left by the removed
// length, and entries straddling it become skipped.
func (e *Editor) RangeCut(ctx context.Context, bookID string, chapter int, lang string, trimStart, trimEnd float64) (*Result, error) {
	st, err := e.load(ctx, bookID, chapter, lang)
	if err != nil {
		return nil, err
	}

	if trimStart < 0 || trimStart >= trimEnd || trimEnd > st.duration+timeSlack {
		return nil, fmt.Errorf("%w: [%f, %f) outside [0, %f]",
			types.ErrInvalidRange, trimStart, trimEnd, st.duration)
	}
	if trimEnd > st.duration {
		trimEnd = st.duration
	}

	removed := []audio.Interval{{Begin: trimStart, End: trimEnd}}

	var table *types.SyncTable
	if st.sync != nil {
		table = st.sync.Clone()
		table.Entries = applyRangeCut(st.sync.Entries, trimStart, trimEnd)
	}

	entry := types.JournalEntry{
		Op: types.OpRangeCut,
		Params: map[string]any{
			"trim_start": trimStart,
			"trim_end":   trimEnd,
		},
	}
	return e.commit(ctx, st, removed, table, entry)
}

// SkipCut removes the audio intervals of the given token ids. Every
// listed entry becomes skipped; surviving entries shift left by the
// removed time before them.
func (e *Editor) SkipCut(ctx context.Context, bookID string, chapter int, lang string, skipIDs []string) (*Result, error) {
	st, err := e.load(ctx, bookID, chapter, lang)
	if err != nil {
		return nil, err
	}
	if st.sync == nil {
		return nil, fmt.Errorf("no sync table for chapter %d (%s): %w", chapter, st.lang, types.ErrNotFound)
	}

	skip := make(map[string]bool, len(skipIDs))
	for _, id := range skipIDs {
		skip[id] = true
	}

	var removed []audio.Interval
	for _, se := range st.sync.Entries {
		if skip[se.TokenID] && se.Timed() {
			removed = append(removed, audio.Interval{Begin: *se.ClipBegin, End: *se.ClipEnd})
		}
	}
	if len(removed) == 0 {
		return nil, fmt.Errorf("%w: no timed tokens among %d skip ids", types.ErrInvalidRange, len(skipIDs))
	}
	removed = coalesce(removed)

	var total float64
	for _, iv := range removed {
		total += iv.Duration()
	}
	if total >= st.duration-timeSlack {
		return nil, fmt.Errorf("%w: skip set covers the whole stream", types.ErrInvalidRange)
	}

	table := st.sync.Clone()
	table.Entries = applySkipCut(st.sync.Entries, skip, removed)

	entry := types.JournalEntry{
		Op: types.OpSkipCut,
		Params: map[string]any{
			"skip_word_ids": skipIDs,
			"removed":       total,
		},
	}
	return e.commit(ctx, st, removed, table, entry)
}

// timeSlack absorbs float drift between a probed duration and bounds
// computed from sync entries.
const timeSlack = 1e-6

// state is the loaded pre-edit view of one chapter's audio.
type state struct {
	bookID   string
	chapter  int
	lang     string
	art      *types.AudioArtifact
	path     string
	ext      string
	duration float64
	sync     *types.SyncTable
	tokens   types.TokenTable
}

func (e *Editor) load(ctx context.Context, bookID string, chapter int, lang string) (*state, error) {
	md, err := e.meta.Load(bookID)
	if err != nil {
		return nil, err
	}
	if lang == "" {
		lang = md.Book.Language
		if lang == "" {
			lang = "en"
		}
	}
	art, ok := md.FindAudio(lang, chapter)
	if !ok {
		return nil, fmt.Errorf("no audio for chapter %d (%s): %w", chapter, lang, types.ErrNotFound)
	}
	path, ext, err := e.blobs.FindCanonicalAudio(bookID, lang, chapter)
	if err != nil {
		return nil, fmt.Errorf("no canonical audio for chapter %d (%s): %w", chapter, lang, types.ErrNotFound)
	}

	duration, err := e.codec.Probe(ctx, path)
	if err != nil {
		duration = art.CanonicalDuration
	}

	st := &state{
		bookID:   bookID,
		chapter:  chapter,
		lang:     lang,
		art:      art,
		path:     path,
		ext:      ext,
		duration: duration,
	}

	var table types.SyncTable
	if err := e.blobs.ReadJSON(e.blobs.SyncPath(bookID, lang, chapter), &table); err == nil {
		st.sync = &table
	}

	if st.sync != nil {
		st.tokens, err = e.tokensFor(md, art, bookID, lang, chapter)
		if err != nil {
			return nil, err
		}
	}
	return st, nil
}

// tokensFor returns the token table the sync table was built against:
// the translated stream for translated narration, the chapter's own
// tokens otherwise.
func (e *Editor) tokensFor(md *meta.Metadata, art *types.AudioArtifact, bookID, lang string, chapter int) (types.TokenTable, error) {
	if art.Source == types.SourceTTSTranslated {
		var tr types.Translation
		if err := e.blobs.ReadJSON(e.blobs.TranslationPath(bookID, lang, chapter), &tr); err == nil {
			return tr.Tokens, nil
		}
	}
	var tokens types.TokenTable
	if err := e.blobs.ReadJSON(e.blobs.ChapterTokens(bookID, chapter), &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

// commit cuts the audio into a temp file, checks the rewritten table
// against the new duration, and only then swaps both into place,
// updates the artifact record, and journals the operation.
func (e *Editor) commit(ctx context.Context, st *state, removed []audio.Interval, table *types.SyncTable, entry types.JournalEntry) (*Result, error) {
	tmpDir, err := os.MkdirTemp("", "libretto-edit-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	cutPath := filepath.Join(tmpDir, "edited."+st.ext)
	if err := e.codec.CutRanges(ctx, st.path, cutPath, removed, e.spec); err != nil {
		return nil, err
	}
	newDur, err := e.codec.Probe(ctx, cutPath)
	if err != nil {
		return nil, err
	}

	if table != nil {
		table.Duration = newDur
		table.UpdatedAt = time.Now().UTC()
		if err := table.Validate(st.tokens); err != nil {
			e.logger.Error("edit produced an invalid sync table, aborting",
				"book_id", st.bookID, "chapter", st.chapter, "lang", st.lang,
				"op", entry.Op, "error", err)
			return nil, fmt.Errorf("edit would corrupt sync table: %w", err)
		}
	}

	f, err := os.Open(cutPath)
	if err != nil {
		return nil, fmt.Errorf("open edited audio: %w", err)
	}
	defer f.Close()
	canonPath := e.blobs.CanonicalAudio(st.bookID, st.lang, st.chapter, st.ext)
	if _, err := e.blobs.WriteStream(canonPath, f); err != nil {
		return nil, err
	}
	if table != nil {
		if err := e.blobs.WriteJSON(e.blobs.SyncPath(st.bookID, st.lang, st.chapter), table); err != nil {
			return nil, err
		}
	}

	// Provisional timing predates the cut and would poison the next
	// alignment; the sync table is authoritative from here on.
	_ = e.blobs.Remove(e.blobs.TimingPath(st.bookID, st.lang, st.chapter))

	updated := *st.art
	updated.CanonicalDuration = newDur
	updated.HasProvisionalTiming = false
	updated.UpdatedAt = time.Now().UTC()
	if err := e.meta.Update(st.bookID, func(md *meta.Metadata) error {
		md.UpsertAudio(updated)
		return nil
	}); err != nil {
		return nil, err
	}

	entry.PreDuration = st.duration
	entry.PostDuration = newDur
	entry.AppliedAt = time.Now().UTC()
	line, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode journal entry: %w", err)
	}
	if err := e.blobs.AppendLine(e.blobs.JournalPath(st.bookID, st.lang, st.chapter), line); err != nil {
		return nil, err
	}

	e.logger.Info("applied audio edit",
		"book_id", st.bookID, "chapter", st.chapter, "lang", st.lang,
		"op", entry.Op, "pre_duration", st.duration, "post_duration", newDur)
	return &Result{Artifact: &updated, Sync: table}, nil
}

// applyRangeCut rewrites entries for a single removed range [s, e).
func applyRangeCut(entries []types.SyncEntry, s, e float64) []types.SyncEntry {
	out := make([]types.SyncEntry, len(entries))
	width := e - s
	for i, se := range entries {
		ne := se
		if se.Timed() {
			begin, end := *se.ClipBegin, *se.ClipEnd
			switch {
			case end <= s:
				// before the cut, unchanged
			case begin >= e:
				ne.ClipBegin = types.Float64(begin - width)
				ne.ClipEnd = types.Float64(end - width)
			default:
				ne.Skipped = true
				ne.ClipBegin = nil
				ne.ClipEnd = nil
			}
		}
		out[i] = ne
	}
	return out
}

// applySkipCut marks the skip set and shifts survivors left by the
// removed time strictly before their clip_begin.
func applySkipCut(entries []types.SyncEntry, skip map[string]bool, removed []audio.Interval) []types.SyncEntry {
	out := make([]types.SyncEntry, len(entries))
	for i, se := range entries {
		ne := se
		if skip[se.TokenID] {
			ne.Skipped = true
			ne.ClipBegin = nil
			ne.ClipEnd = nil
		} else if se.Timed() {
			shift := massBefore(removed, *se.ClipBegin)
			ne.ClipBegin = types.Float64(*se.ClipBegin - shift)
			ne.ClipEnd = types.Float64(*se.ClipEnd - shift)
		}
		out[i] = ne
	}
	return out
}

// massBefore sums the removed time lying strictly before t.
func massBefore(removed []audio.Interval, t float64) float64 {
	var mass float64
	for _, iv := range removed {
		if iv.Begin >= t {
			continue
		}
		end := iv.End
		if end > t {
			end = t
		}
		mass += end - iv.Begin
	}
	return mass
}

// coalesce sorts intervals and merges overlapping or touching ones.
func coalesce(ivs []audio.Interval) []audio.Interval {
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].Begin < ivs[j].Begin })
	out := ivs[:0]
	for _, iv := range ivs {
		if n := len(out); n > 0 && iv.Begin <= out[n-1].End+timeSlack {
			if iv.End > out[n-1].End {
				out[n-1].End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}
