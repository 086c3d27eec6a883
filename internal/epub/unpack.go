package epub

import (
	"fmt"

	"github.com/librettohq/libretto/internal/types"
)

// UnpackedBook is the result of unpacking an EPUB: parsed metadata,
// the raw XHTML of every linear spine chapter, and all referenced
// assets keyed by their manifest-resolved href.
type UnpackedBook struct {
	Title      string
	Author     string
	Language   string
	Publisher  string
	Identifier string
	Version    string
	CoverHref  string
	TOC        []types.TOCEntry
	Chapters   []UnpackedChapter
	Assets     map[string][]byte
}

// UnpackedChapter is one spine document before normalization.
type UnpackedChapter struct {
	Index int
	Href  string
	XHTML []byte
}

// Unpack parses EPUB bytes into an UnpackedBook. Every manifest asset
// must be present in the archive; a listed-but-absent resource fails
// with ErrAssetMissing.
func Unpack(data []byte) (*UnpackedBook, error) {
	r, err := NewReader(data)
	if err != nil {
		return nil, err
	}

	ub := &UnpackedBook{
		Title:      r.Title,
		Author:     r.Author,
		Language:   r.Language,
		Publisher:  r.Publisher,
		Identifier: r.Identifier,
		Version:    r.Version,
		CoverHref:  r.CoverHref,
		TOC:        r.TOC,
		Assets:     make(map[string][]byte),
	}

	for i, si := range r.ChapterItems() {
		xhtml, err := r.ReadItem(si.Href)
		if err != nil {
			return nil, fmt.Errorf("chapter %d: %w", i, err)
		}
		ub.Chapters = append(ub.Chapters, UnpackedChapter{
			Index: i,
			Href:  si.Href,
			XHTML: xhtml,
		})
	}
	if len(ub.Chapters) == 0 {
		return nil, fmt.Errorf("no XHTML chapters in spine: %w", ErrUnsupportedPackage)
	}

	for _, item := range r.Assets() {
		b, err := r.ReadItem(item.Href)
		if err != nil {
			return nil, err
		}
		ub.Assets[item.Href] = b
	}

	return ub, nil
}
