package align

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/librettohq/libretto/internal/blob"
	"github.com/librettohq/libretto/internal/config"
	"github.com/librettohq/libretto/internal/meta"
	"github.com/librettohq/libretto/internal/types"
)

// Service loads alignment inputs from the stores, runs the aligner and
// persists the resulting sync table. Identical inputs hit the stored
// fingerprint and return the previous table without re-aligning.
type Service struct {
	blobs   *blob.Store
	meta    *meta.Store
	aligner *Aligner
	logger  *slog.Logger
}

// NewService builds the alignment service over the stores.
func NewService(blobs *blob.Store, metaStore *meta.Store, aligner *Aligner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		blobs:   blobs,
		meta:    metaStore,
		aligner: aligner,
		logger:  logger.With("component", "align"),
	}
}

// Result carries the table and whether the stored fingerprint served it.
type Result struct {
	Table  *types.SyncTable
	Cached bool
}

// AlignChapter aligns a chapter's canonical audio against the token
// stream it narrates: the chapter tokens, or the stored translation's
// tokens when the audio was synthesized from one.
func (s *Service) AlignChapter(ctx context.Context, bookID string, chapter int, lang string, opts Options) (*Result, error) {
	md, err := s.meta.Load(bookID)
	if err != nil {
		return nil, err
	}
	if chapter < 0 || chapter >= len(md.Book.Chapters) {
		return nil, fmt.Errorf("chapter %d: %w", chapter, types.ErrNotFound)
	}
	if lang == "" {
		lang = md.Book.Language
	}
	if lang == "" {
		lang = "en"
	}

	art, ok := md.FindAudio(lang, chapter)
	if !ok {
		return nil, fmt.Errorf("no audio for chapter %d (%s): %w", chapter, lang, types.ErrNotFound)
	}
	audioPath, _, err := s.blobs.FindCanonicalAudio(bookID, lang, chapter)
	if err != nil {
		return nil, err
	}

	tokens, err := s.loadTokens(bookID, chapter, lang, art)
	if err != nil {
		return nil, err
	}

	audioHash, err := blob.FingerprintFile(audioPath)
	if err != nil {
		return nil, err
	}
	fingerprint := alignmentFingerprint(audioHash, tokens, requestedBackend(s.aligner.cfg, opts))

	syncPath := s.blobs.SyncPath(bookID, lang, chapter)
	if s.blobs.Exists(syncPath) {
		var prior types.SyncTable
		if err := s.blobs.ReadJSON(syncPath, &prior); err == nil && prior.Fingerprint == fingerprint {
			s.logger.Info("alignment cache hit",
				"book_id", bookID, "chapter", chapter, "lang", lang, "backend", prior.Backend)
			return &Result{Table: &prior, Cached: true}, nil
		}
	}

	var timing []types.TimingEntry
	timingPath := s.blobs.TimingPath(bookID, lang, chapter)
	if s.blobs.Exists(timingPath) {
		if err := s.blobs.ReadJSON(timingPath, &timing); err != nil {
			return nil, err
		}
	}

	req := &Request{
		BookID:       bookID,
		ChapterIndex: chapter,
		Language:     lang,
		AudioPath:    audioPath,
		Duration:     art.CanonicalDuration,
		Tokens:       tokens,
		Timing:       timing,
	}
	table, err := s.aligner.Align(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	table.Fingerprint = fingerprint

	if err := s.blobs.WriteJSON(syncPath, table); err != nil {
		return nil, err
	}
	return &Result{Table: table}, nil
}

// loadTokens picks the token stream the audio narrates. Translated
// synthesis is aligned against the translated table; everything else
// against the chapter tokens.
func (s *Service) loadTokens(bookID string, chapter int, lang string, art *types.AudioArtifact) (types.TokenTable, error) {
	if art.Source == types.SourceTTSTranslated {
		var tr types.Translation
		if err := s.blobs.ReadJSON(s.blobs.TranslationPath(bookID, lang, chapter), &tr); err != nil {
			return nil, fmt.Errorf("chapter %d translation (%s): %w", chapter, lang, err)
		}
		return tr.Tokens, nil
	}
	var tokens types.TokenTable
	if err := s.blobs.ReadJSON(s.blobs.ChapterTokens(bookID, chapter), &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

// requestedBackend normalizes the backend choice for cache identity.
// An explicit backend names itself; everything else resolves to the
// configured default at request time.
func requestedBackend(cfg config.AlignCfg, opts Options) string {
	name := opts.Backend
	if name == "" || name == "auto" {
		name = cfg.Backend
	}
	if name == "" {
		name = "auto"
	}
	return name
}

// alignmentFingerprint identifies an alignment by its inputs: the audio
// bytes, the token stream (ids and surfaces) and the backend choice.
func alignmentFingerprint(audioHash string, tokens types.TokenTable, backend string) string {
	parts := make([]string, 0, len(tokens)*2+3)
	parts = append(parts, "align", audioHash, backend)
	for _, t := range tokens {
		parts = append(parts, t.ID, t.Surface)
	}
	return blob.FingerprintParts(parts...)
}
