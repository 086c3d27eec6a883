package types

import "time"

// AudioSource indicates how a chapter's canonical audio was obtained.
type AudioSource string

const (
	// SourceUpload indicates user-provided audio.
	SourceUpload AudioSource = "upload"
	// SourceTTS indicates synthesized audio from the chapter's own tokens.
	SourceTTS AudioSource = "tts"
	// SourceTTSTranslated indicates synthesized audio from a translated token stream.
	SourceTTSTranslated AudioSource = "tts_translated"
)

// TimingEntry is one provisional per-token interval reported by a TTS engine.
// Times are seconds from the start of the canonical audio.
type TimingEntry struct {
	TokenID string  `json:"token_id"`
	Begin   float64 `json:"begin"`
	End     float64 `json:"end"`
}

// AudioArtifact describes the canonical audio for a (book, chapter, language)
// key. CanonicalDuration tracks the current blob; SourceDuration the immutable
// pre-edit copy used by restore. Fingerprint identifies the inputs that
// produced the artifact and powers cache hits.
type AudioArtifact struct {
	BookID       string      `json:"book_id"`
	ChapterIndex int         `json:"chapter_index"`
	Language     string      `json:"language"`
	Source       AudioSource `json:"source"`
	Voice        string      `json:"voice,omitempty"`
	Format       string      `json:"format"`

	CanonicalDuration float64 `json:"canonical_duration"`
	SourceDuration    float64 `json:"source_duration"`

	// HasProvisionalTiming marks that a timing table was persisted alongside
	// the artifact (TTS engines that report per-token boundaries).
	HasProvisionalTiming bool `json:"has_provisional_timing,omitempty"`

	Fingerprint string    `json:"fingerprint,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Translation is a persisted translated token stream for a chapter. The
// SyncTable of translated synthesis is built against Tokens, not the
// chapter's original table.
type Translation struct {
	BookID       string     `json:"book_id"`
	ChapterIndex int        `json:"chapter_index"`
	Language     string     `json:"language"`
	Tokens       TokenTable `json:"tokens"`
	HTML         string     `json:"html,omitempty"`
	Fingerprint  string     `json:"fingerprint"`
	CreatedAt    time.Time  `json:"created_at"`
}
