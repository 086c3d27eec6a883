// Package source builds the canonical audio for a chapter key. Uploads
// are transcoded into the canonical encoding; synthesis narrates the
// chapter tokens (or a translation of them) chunk by chunk. Every build
// stores the working canonical copy plus an immutable source copy that
// restore falls back to, and clears any sync table the new audio
// invalidates.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/segmentio/encoding/json"

	"github.com/librettohq/libretto/internal/audio"
	"github.com/librettohq/libretto/internal/blob"
	"github.com/librettohq/libretto/internal/meta"
	"github.com/librettohq/libretto/internal/metrics"
	"github.com/librettohq/libretto/internal/providers"
	"github.com/librettohq/libretto/internal/translate"
	"github.com/librettohq/libretto/internal/types"
)

// ErrUnsupportedAudio reports an upload whose container no codec path
// can decode.
var ErrUnsupportedAudio = errors.New("unsupported audio container")

// Config wires a Manager.
type Config struct {
	// Spec is the canonical encoding for stored audio.
	Spec audio.EncodeSpec
	// DefaultTTSProvider names the registry entry used when a request
	// does not pick one.
	DefaultTTSProvider string
	// MaxChunkChars bounds one synthesis call's text.
	MaxChunkChars int
	// Metrics, when non-nil, records engine usage per call.
	Metrics *metrics.Recorder
	Logger  *slog.Logger
}

const defaultMaxChunkChars = 3500

// Manager owns canonical audio construction. It does not serialize
// keys itself; the pipeline controller holds the key mutex around
// every call.
type Manager struct {
	blobs      *blob.Store
	meta       *meta.Store
	codec      audio.Codec
	registry   *providers.Registry
	translator *translate.Translator

	spec          audio.EncodeSpec
	defaultTTS    string
	maxChunkChars int
	metrics       *metrics.Recorder
	logger        *slog.Logger
}

// NewManager builds a source manager. translator may be nil when no
// chat provider is configured; synthesis with use_translation then
// fails cleanly.
func NewManager(blobs *blob.Store, metaStore *meta.Store, codec audio.Codec, registry *providers.Registry, translator *translate.Translator, cfg Config) *Manager {
	maxChars := cfg.MaxChunkChars
	if maxChars <= 0 {
		maxChars = defaultMaxChunkChars
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		blobs:         blobs,
		meta:          metaStore,
		codec:         codec,
		registry:      registry,
		translator:    translator,
		spec:          cfg.Spec,
		defaultTTS:    cfg.DefaultTTSProvider,
		maxChunkChars: maxChars,
		metrics:       cfg.Metrics,
		logger:        logger.With("component", "source"),
	}
}

// Result is the outcome of an upload or synthesis.
type Result struct {
	Artifact *types.AudioArtifact
	Timing   []types.TimingEntry
	Cached   bool
}

// Upload ingests user-provided audio for a chapter: sniff the
// container, transcode to the canonical encoding, store canonical and
// source copies, and drop any stale sync table.
func (m *Manager) Upload(ctx context.Context, bookID string, chapter int, lang string, data []byte) (*Result, error) {
	md, err := m.meta.Load(bookID)
	if err != nil {
		return nil, err
	}
	if chapter < 0 || chapter >= len(md.Book.Chapters) {
		return nil, fmt.Errorf("chapter %d: %w", chapter, types.ErrNotFound)
	}
	if lang == "" {
		lang = bookLanguage(md)
	}

	kind := mimetype.Detect(data)
	if !isAudioMIME(kind) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAudio, kind.String())
	}

	tmpDir, err := os.MkdirTemp("", "libretto-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	rawPath := tmpDir + "/upload" + kind.Extension()
	if err := os.WriteFile(rawPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("stage upload: %w", err)
	}

	canonTemp := tmpDir + "/canonical." + m.spec.Ext()
	if err := m.codec.Transcode(ctx, rawPath, canonTemp, m.spec); err != nil {
		return nil, err
	}
	duration, err := m.codec.Probe(ctx, canonTemp)
	if err != nil {
		return nil, err
	}

	if err := m.installCanonical(bookID, lang, chapter, canonTemp, true); err != nil {
		return nil, err
	}
	m.clearDerived(bookID, lang, chapter, true)

	now := time.Now().UTC()
	art := types.AudioArtifact{
		BookID:            bookID,
		ChapterIndex:      chapter,
		Language:          lang,
		Source:            types.SourceUpload,
		Format:            m.spec.Ext(),
		CanonicalDuration: duration,
		SourceDuration:    duration,
		Fingerprint:       blob.Fingerprint(data),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := m.saveArtifact(bookID, art); err != nil {
		return nil, err
	}

	m.logger.Info("uploaded chapter audio",
		"book_id", bookID, "chapter", chapter, "lang", lang,
		"container", kind.String(), "duration", duration)
	return &Result{Artifact: &art}, nil
}

// Restore copies the immutable source audio over the canonical copy,
// drops the sync table, and records the operation in the journal.
func (m *Manager) Restore(ctx context.Context, bookID string, chapter int, lang string) (*types.AudioArtifact, error) {
	md, err := m.meta.Load(bookID)
	if err != nil {
		return nil, err
	}
	if lang == "" {
		lang = bookLanguage(md)
	}
	art, ok := md.FindAudio(lang, chapter)
	if !ok {
		return nil, fmt.Errorf("no audio for chapter %d (%s): %w", chapter, lang, types.ErrNotFound)
	}

	srcPath, ext, err := m.blobs.FindSourceAudio(bookID, lang, chapter)
	if err != nil {
		return nil, err
	}

	f, err := m.blobs.Open(srcPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	preDuration := art.CanonicalDuration
	canonPath := m.blobs.CanonicalAudio(bookID, lang, chapter, ext)
	if _, err := m.blobs.WriteStream(canonPath, f); err != nil {
		return nil, err
	}
	m.clearDerived(bookID, lang, chapter, false)

	duration, err := m.codec.Probe(ctx, canonPath)
	if err != nil {
		duration = art.SourceDuration
	}

	updated := *art
	updated.CanonicalDuration = duration
	updated.Format = ext
	updated.UpdatedAt = time.Now().UTC()
	if err := m.saveArtifact(bookID, updated); err != nil {
		return nil, err
	}

	entry := types.JournalEntry{
		Op:           types.OpRestore,
		PreDuration:  preDuration,
		PostDuration: duration,
		AppliedAt:    time.Now().UTC(),
	}
	if err := m.appendJournal(bookID, lang, chapter, entry); err != nil {
		return nil, err
	}

	m.logger.Info("restored chapter audio",
		"book_id", bookID, "chapter", chapter, "lang", lang, "duration", duration)
	return &updated, nil
}

// installCanonical moves a prepared temp file into the canonical slot,
// removing canonical copies in other extensions first. replaceSource
// also refreshes the immutable source copy from the same bytes.
func (m *Manager) installCanonical(bookID, lang string, chapter int, tempPath string, replaceSource bool) error {
	if old, _, err := m.blobs.FindCanonicalAudio(bookID, lang, chapter); err == nil {
		if err := m.blobs.Remove(old); err != nil {
			return err
		}
	}

	f, err := os.Open(tempPath)
	if err != nil {
		return fmt.Errorf("open staged audio: %w", err)
	}
	defer f.Close()

	canonPath := m.blobs.CanonicalAudio(bookID, lang, chapter, m.spec.Ext())
	if _, err := m.blobs.WriteStream(canonPath, f); err != nil {
		return err
	}

	if !replaceSource {
		return nil
	}
	if old, _, err := m.blobs.FindSourceAudio(bookID, lang, chapter); err == nil {
		if err := m.blobs.Remove(old); err != nil {
			return err
		}
	}
	cf, err := m.blobs.Open(canonPath)
	if err != nil {
		return err
	}
	defer cf.Close()
	srcPath := m.blobs.SourceAudio(bookID, lang, chapter, m.spec.Ext())
	if _, err := m.blobs.WriteStream(srcPath, cf); err != nil {
		return err
	}
	return nil
}

// clearDerived removes artifacts the new audio invalidates: the sync
// table always, the provisional timing when clearTiming is set.
func (m *Manager) clearDerived(bookID, lang string, chapter int, clearTiming bool) {
	if err := m.blobs.Remove(m.blobs.SyncPath(bookID, lang, chapter)); err != nil {
		m.logger.Warn("failed to clear sync table", "book_id", bookID, "chapter", chapter, "error", err)
	}
	if clearTiming {
		if err := m.blobs.Remove(m.blobs.TimingPath(bookID, lang, chapter)); err != nil {
			m.logger.Warn("failed to clear provisional timing", "book_id", bookID, "chapter", chapter, "error", err)
		}
	}
}

// saveArtifact upserts the artifact record in the book metadata.
func (m *Manager) saveArtifact(bookID string, art types.AudioArtifact) error {
	return m.meta.Update(bookID, func(md *meta.Metadata) error {
		md.UpsertAudio(art)
		return nil
	})
}

// appendJournal writes one JSON line to the chapter's edit journal.
func (m *Manager) appendJournal(bookID, lang string, chapter int, entry types.JournalEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	return m.blobs.AppendLine(m.blobs.JournalPath(bookID, lang, chapter), data)
}

// bookLanguage returns the book's language, defaulting to English when
// the package metadata never declared one.
func bookLanguage(md *meta.Metadata) string {
	if md.Book.Language != "" {
		return md.Book.Language
	}
	return "en"
}

// isAudioMIME accepts audio containers plus the video containers that
// commonly wrap audio-only streams (m4a detects as mp4).
func isAudioMIME(kind *mimetype.MIME) bool {
	for k := kind; k != nil; k = k.Parent() {
		switch {
		case len(k.String()) >= 6 && k.String()[:6] == "audio/":
			return true
		case k.String() == "video/mp4" || k.String() == "video/webm":
			return true
		}
	}
	return false
}

// synthesisFingerprint identifies a synthesis by its inputs.
func synthesisFingerprint(bookID string, chapter int, provider, voice, lang string, text string) string {
	return blob.FingerprintParts(
		"tts",
		bookID,
		strconv.Itoa(chapter),
		provider,
		voice,
		lang,
		blob.Fingerprint([]byte(text)),
	)
}
