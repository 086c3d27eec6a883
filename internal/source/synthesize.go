package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/librettohq/libretto/internal/align"
	"github.com/librettohq/libretto/internal/metrics"
	"github.com/librettohq/libretto/internal/normalize"
	"github.com/librettohq/libretto/internal/providers"
	"github.com/librettohq/libretto/internal/translate"
	"github.com/librettohq/libretto/internal/types"
)

// SynthesizeOptions select the engine, voice and target language for
// one synthesis.
type SynthesizeOptions struct {
	// Provider names a registry entry; empty uses the configured default.
	Provider string
	// Voice is the engine voice id. A "lang/voice" or "lang-REGION/voice"
	// prefix also fixes the target language.
	Voice string
	// Language overrides the target language derived from the voice.
	Language string
	// UseTranslation narrates a translated token stream when the
	// target language differs from the book's.
	UseTranslation bool
	// Progress, when non-nil, observes chunk completion.
	Progress func(done, total int)
}

// Synthesize narrates a chapter and installs the result as its
// canonical audio. Identical inputs hit the persisted fingerprint and
// return the prior artifact without calling the engine.
func (m *Manager) Synthesize(ctx context.Context, bookID string, chapter int, opts SynthesizeOptions) (*Result, error) {
	md, err := m.meta.Load(bookID)
	if err != nil {
		return nil, err
	}
	if chapter < 0 || chapter >= len(md.Book.Chapters) {
		return nil, fmt.Errorf("chapter %d: %w", chapter, types.ErrNotFound)
	}

	providerName := opts.Provider
	if providerName == "" {
		providerName = m.defaultTTS
	}
	engine, err := m.registry.GetTTS(providerName)
	if err != nil {
		return nil, err
	}

	var tokens types.TokenTable
	if err := m.blobs.ReadJSON(m.blobs.ChapterTokens(bookID, chapter), &tokens); err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("chapter %d has no tokens to narrate", chapter)
	}

	bookLang := bookLanguage(md)
	target := opts.Language
	if target == "" {
		target = VoiceLocale(opts.Voice)
	}
	if target == "" {
		target = bookLang
	}

	srcKind := types.SourceTTS
	synthTokens := tokens
	html, _ := m.blobs.ReadFile(m.blobs.ChapterHTML(bookID, chapter))

	if opts.UseTranslation && !sameLanguage(target, bookLang) {
		tr, err := m.Translate(ctx, bookID, chapter, target, nil)
		if err != nil {
			return nil, err
		}
		synthTokens = tr.Tokens
		html = []byte(tr.HTML)
		srcKind = types.SourceTTSTranslated
	}

	fingerprint := synthesisFingerprint(bookID, chapter, providerName, opts.Voice, target, synthTokens.Text())
	if prior, ok := md.FindAudio(target, chapter); ok && prior.Fingerprint == fingerprint {
		if _, _, err := m.blobs.FindCanonicalAudio(bookID, target, chapter); err == nil {
			var timing []types.TimingEntry
			_ = m.blobs.ReadJSON(m.blobs.TimingPath(bookID, target, chapter), &timing)
			m.logger.Info("synthesis cache hit",
				"book_id", bookID, "chapter", chapter, "lang", target, "voice", opts.Voice)
			return &Result{Artifact: prior, Timing: timing, Cached: true}, nil
		}
	}

	chunks := buildChunks(synthTokens, html, m.maxChunkChars)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("chapter %d produced no synthesis chunks", chapter)
	}

	tmpDir, err := os.MkdirTemp("", "libretto-tts-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	rec := metrics.RecordOpts{BookID: bookID, Provider: providerName, Model: opts.Voice}
	paths, timing, err := m.synthesizeChunks(ctx, engine, chunks, opts.Voice, target, tmpDir, rec, opts.Progress)
	if err != nil {
		return nil, err
	}

	joined := paths[0]
	if len(paths) > 1 {
		joined = filepath.Join(tmpDir, "joined"+filepath.Ext(paths[0]))
		if err := m.codec.Concat(ctx, paths, joined); err != nil {
			return nil, err
		}
	}

	canonTemp := filepath.Join(tmpDir, "canonical."+m.spec.Ext())
	if err := m.codec.Transcode(ctx, joined, canonTemp, m.spec); err != nil {
		return nil, err
	}
	duration, err := m.codec.Probe(ctx, canonTemp)
	if err != nil {
		return nil, err
	}

	if err := m.installCanonical(bookID, target, chapter, canonTemp, true); err != nil {
		return nil, err
	}
	m.clearDerived(bookID, target, chapter, len(timing) == 0)

	if len(timing) > 0 {
		if err := m.blobs.WriteJSON(m.blobs.TimingPath(bookID, target, chapter), timing); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	art := types.AudioArtifact{
		BookID:               bookID,
		ChapterIndex:         chapter,
		Language:             target,
		Source:               srcKind,
		Voice:                opts.Voice,
		Format:               m.spec.Ext(),
		CanonicalDuration:    duration,
		SourceDuration:       duration,
		HasProvisionalTiming: len(timing) > 0,
		Fingerprint:          fingerprint,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := m.saveArtifact(bookID, art); err != nil {
		return nil, err
	}

	m.logger.Info("synthesized chapter audio",
		"book_id", bookID, "chapter", chapter, "lang", target,
		"provider", providerName, "voice", opts.Voice,
		"chunks", len(chunks), "duration", duration,
		"timed_tokens", len(timing))
	return &Result{Artifact: &art, Timing: timing}, nil
}

// Translate returns the chapter's translation into targetLang,
// producing and persisting it on first use. The stored document is
// reused while the chapter tokens are unchanged.
func (m *Manager) Translate(ctx context.Context, bookID string, chapter int, targetLang string, progress func(done, total int)) (*types.Translation, error) {
	md, err := m.meta.Load(bookID)
	if err != nil {
		return nil, err
	}
	if chapter < 0 || chapter >= len(md.Book.Chapters) {
		return nil, fmt.Errorf("chapter %d: %w", chapter, types.ErrNotFound)
	}

	var tokens types.TokenTable
	if err := m.blobs.ReadJSON(m.blobs.ChapterTokens(bookID, chapter), &tokens); err != nil {
		return nil, err
	}

	fingerprint := translate.Fingerprint(bookID, chapter, targetLang, tokens)
	trPath := m.blobs.TranslationPath(bookID, targetLang, chapter)
	var cached types.Translation
	if err := m.blobs.ReadJSON(trPath, &cached); err == nil && cached.Fingerprint == fingerprint {
		return &cached, nil
	}

	if m.translator == nil {
		return nil, fmt.Errorf("no translation provider configured")
	}

	html, err := m.blobs.ReadFile(m.blobs.ChapterHTML(bookID, chapter))
	if err != nil {
		return nil, err
	}

	res, err := m.translator.Translate(ctx, &translate.Request{
		BookID:       bookID,
		ChapterIndex: chapter,
		SourceLang:   bookLanguage(md),
		TargetLang:   targetLang,
		HTML:         html,
		Tokens:       tokens,
	}, progress)
	if err != nil {
		return nil, err
	}

	if err := m.blobs.WriteJSON(trPath, res.Translation); err != nil {
		return nil, err
	}
	return res.Translation, nil
}

var _ align.ReferenceSynthesizer = (*Manager)(nil)

// SynthesizeReference narrates a token stream into a temporary
// location for the warp aligner, using the default engine and its
// default voice.
func (m *Manager) SynthesizeReference(ctx context.Context, tokens types.TokenTable, language string) (*align.Reference, error) {
	engine, err := m.registry.GetTTS(m.defaultTTS)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("no tokens to narrate")
	}

	tmpDir, err := os.MkdirTemp("", "libretto-ref-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(tmpDir) }

	chunks := chunksFromTokens(tokens, m.maxChunkChars)
	rec := metrics.RecordOpts{Provider: m.defaultTTS}
	paths, timing, err := m.synthesizeChunks(ctx, engine, chunks, "", language, tmpDir, rec, nil)
	if err != nil {
		cleanup()
		return nil, err
	}

	refPath := paths[0]
	if len(paths) > 1 {
		refPath = filepath.Join(tmpDir, "reference"+filepath.Ext(paths[0]))
		if err := m.codec.Concat(ctx, paths, refPath); err != nil {
			cleanup()
			return nil, err
		}
	}
	return &align.Reference{Path: refPath, Timing: timing, Cleanup: cleanup}, nil
}

// synthesizeChunks narrates each chunk into dir and returns the chunk
// files plus provisional token timings offset into the joined stream.
// Every engine call is recorded against rec.
func (m *Manager) synthesizeChunks(ctx context.Context, engine providers.TTSProvider, chunks []chunk, voice, lang, dir string, rec metrics.RecordOpts, progress func(done, total int)) ([]string, []types.TimingEntry, error) {
	var (
		paths      []string
		timing     []types.TimingEntry
		requestIDs []string
		offset     float64
	)
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		rec.Characters = len(c.text)
		res, err := engine.Generate(ctx, &providers.TTSRequest{
			Text:               c.text,
			Voice:              voice,
			Format:             m.spec.Ext(),
			Language:           lang,
			PreviousRequestIDs: requestIDs,
		})
		m.metrics.RecordSynthesis(ctx, rec, res, err)
		if err != nil {
			return nil, nil, fmt.Errorf("synthesize chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if !res.Success || len(res.Audio) == 0 {
			return nil, nil, fmt.Errorf("synthesize chunk %d/%d: %s", i+1, len(chunks), res.ErrorMessage)
		}
		if res.RequestID != "" {
			requestIDs = append(requestIDs, res.RequestID)
		}

		format := res.Format
		if format == "" {
			format = m.spec.Ext()
		}
		path := filepath.Join(dir, fmt.Sprintf("chunk-%03d.%s", i, format))
		if err := os.WriteFile(path, res.Audio, 0o644); err != nil {
			return nil, nil, fmt.Errorf("stage chunk: %w", err)
		}
		paths = append(paths, path)

		dur, err := m.codec.Probe(ctx, path)
		if err != nil {
			if res.DurationMS <= 0 {
				return nil, nil, err
			}
			dur = float64(res.DurationMS) / 1000
		}

		timing = append(timing, mapChunkTiming(c.tokens, res.Words, offset)...)
		offset += dur

		if progress != nil {
			progress(i+1, len(chunks))
		}
	}
	return paths, timing, nil
}

// mapChunkTiming pairs a chunk's tokens with the engine's word stamps.
// Equal counts map one to one; otherwise words are matched in order by
// normalized form within a small lookahead, and misses stay untimed.
func mapChunkTiming(tokens types.TokenTable, words []providers.WordStamp, offset float64) []types.TimingEntry {
	if len(words) == 0 || len(tokens) == 0 {
		return nil
	}

	out := make([]types.TimingEntry, 0, len(tokens))
	if len(words) == len(tokens) {
		for i, tok := range tokens {
			w := words[i]
			if w.End <= w.Start {
				continue
			}
			out = append(out, types.TimingEntry{
				TokenID: tok.ID,
				Begin:   offset + w.Start,
				End:     offset + w.End,
			})
		}
		return out
	}

	const lookahead = 4
	wi := 0
	for _, tok := range tokens {
		limit := wi + lookahead
		if limit > len(words) {
			limit = len(words)
		}
		for k := wi; k < limit; k++ {
			if normalize.NormalizeWord(words[k].Text) != tok.Normalized {
				continue
			}
			if words[k].End > words[k].Start {
				out = append(out, types.TimingEntry{
					TokenID: tok.ID,
					Begin:   offset + words[k].Start,
					End:     offset + words[k].End,
				})
			}
			wi = k + 1
			break
		}
	}
	return out
}

// chunk is a consecutive token span narrated in one engine call.
type chunk struct {
	text   string
	tokens types.TokenTable
}

// buildChunks splits the chapter into synthesis units within the char
// limit. The rendered block text supplies punctuation for prosody;
// when its word count disagrees with the token table the chunker falls
// back to joining token surfaces.
func buildChunks(tokens types.TokenTable, html []byte, limit int) []chunk {
	if len(tokens) == 0 {
		return nil
	}
	if len(html) > 0 {
		if chunks, ok := chunksFromHTML(tokens, html, limit); ok {
			return chunks
		}
	}
	return chunksFromTokens(tokens, limit)
}

// chunksFromHTML derives chunks from the chapter's block text. Each
// block stays intact unless it alone exceeds the limit, in which case
// it splits on sentence boundaries.
func chunksFromHTML(tokens types.TokenTable, html []byte, limit int) ([]chunk, bool) {
	blocks, err := normalize.ExtractBlocks(html)
	if err != nil || len(blocks) == 0 {
		return nil, false
	}

	var pieces []string
	for _, b := range blocks {
		if len(b.Text) > limit {
			pieces = append(pieces, normalize.ChunkSentences(b.Text, limit)...)
		} else {
			pieces = append(pieces, b.Text)
		}
	}

	counts := make([]int, len(pieces))
	total := 0
	for i, p := range pieces {
		counts[i] = len(normalize.Words(p))
		total += counts[i]
	}
	// The block text must cover the token table exactly, or spans
	// would drift; bail out to surface-join chunking.
	if total != len(tokens) {
		return nil, false
	}

	var out []chunk
	start := 0
	var buf []string
	bufLen, bufWords := 0, 0
	flush := func() {
		if bufWords > 0 {
			out = append(out, chunk{
				text:   strings.Join(buf, "\n"),
				tokens: tokens[start : start+bufWords],
			})
			start += bufWords
		}
		buf = buf[:0]
		bufLen, bufWords = 0, 0
	}
	for i, p := range pieces {
		if bufLen > 0 && bufLen+len(p)+1 > limit {
			flush()
		}
		buf = append(buf, p)
		bufLen += len(p) + 1
		bufWords += counts[i]
	}
	flush()
	return out, true
}

// chunksFromTokens groups consecutive token surfaces within the char
// limit.
func chunksFromTokens(tokens types.TokenTable, limit int) []chunk {
	var out []chunk
	start := 0
	curLen := 0
	for i, tok := range tokens {
		addition := len(tok.Surface)
		if i > start {
			addition++
		}
		if curLen+addition > limit && i > start {
			span := tokens[start:i]
			out = append(out, chunk{text: span.Text(), tokens: span})
			start = i
			curLen = len(tok.Surface)
			continue
		}
		curLen += addition
	}
	if start < len(tokens) {
		span := tokens[start:]
		out = append(out, chunk{text: span.Text(), tokens: span})
	}
	return out
}

// VoiceLocale extracts the language prefix of a namespaced voice id
// ("en-US/ash" → "en-US", "de/vicki" → "de"). Bare voice ids have no
// locale and return the empty string.
func VoiceLocale(voice string) string {
	prefix, _, ok := strings.Cut(voice, "/")
	if !ok {
		return ""
	}
	if tag, _, _ := strings.Cut(prefix, "-"); len(tag) < 2 || len(tag) > 3 {
		return ""
	}
	for _, r := range prefix {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '-') {
			return ""
		}
	}
	return prefix
}

// sameLanguage compares BCP 47 tags on their primary subtag, so "en"
// matches "en-US".
func sameLanguage(a, b string) bool {
	pa, _, _ := strings.Cut(a, "-")
	pb, _, _ := strings.Cut(b, "-")
	return strings.EqualFold(pa, pb)
}
