// Package types provides shared domain types used across multiple packages.
// This package has no dependencies on other libretto packages to avoid import cycles.
package types

import "time"

// Book is the durable record for an ingested EPUB. It is created once on
// successful ingestion and immutable except for its chapter summaries.
type Book struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Author    string     `json:"author,omitempty"`
	Language  string     `json:"language,omitempty"`
	Publisher string     `json:"publisher,omitempty"`
	CoverHref string     `json:"cover_href,omitempty"`
	TOC       []TOCEntry `json:"toc,omitempty"`
	Chapters  []Chapter  `json:"chapters"`
	CreatedAt time.Time  `json:"created_at"`
}

// TOCEntry is one node of the navigation tree. ChapterIndex is the spine
// position the entry resolves to; entries with unresolved targets keep 0.
type TOCEntry struct {
	Title        string     `json:"title"`
	Href         string     `json:"href,omitempty"`
	ChapterIndex int        `json:"chapter_index"`
	Children     []TOCEntry `json:"children,omitempty"`
}

// Chapter summarizes one spine item. The normalized HTML and the token table
// live in the blob store under the chapter index.
type Chapter struct {
	Index     int    `json:"index"`
	Title     string `json:"title"`
	Href      string `json:"href,omitempty"`
	WordCount int    `json:"word_count"`
}

// Token is one word token of a chapter. ID is "w{N}" with N the zero-based
// token index, stable across re-normalization of byte-identical input.
type Token struct {
	ID         string `json:"id"`
	Surface    string `json:"surface"`
	Normalized string `json:"normalized"`
}

// TokenTable is the ordered token list for one chapter.
type TokenTable []Token

// IDs returns the token ids in order.
func (t TokenTable) IDs() []string {
	ids := make([]string, len(t))
	for i, tok := range t {
		ids[i] = tok.ID
	}
	return ids
}

// Text joins the surface forms with single spaces. This is the synthesis
// input for TTS backends.
func (t TokenTable) Text() string {
	n := 0
	for _, tok := range t {
		n += len(tok.Surface) + 1
	}
	buf := make([]byte, 0, n)
	for i, tok := range t {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, tok.Surface...)
	}
	return string(buf)
}
