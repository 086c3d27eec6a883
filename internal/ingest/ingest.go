// Package ingest turns an uploaded EPUB into a stored book: unpack the
// container, normalize every spine chapter into tokenized HTML, persist
// the blobs and write the metadata document. Ingestion is all-or-nothing;
// a failed run removes everything it wrote.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/librettohq/libretto/internal/blob"
	"github.com/librettohq/libretto/internal/epub"
	"github.com/librettohq/libretto/internal/meta"
	"github.com/librettohq/libretto/internal/normalize"
	"github.com/librettohq/libretto/internal/types"
)

// Service orchestrates EPUB ingestion and book deletion.
type Service struct {
	blobs  *blob.Store
	meta   *meta.Store
	logger *slog.Logger
}

// NewService builds an ingest service over the given stores.
func NewService(blobs *blob.Store, metaStore *meta.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		blobs:  blobs,
		meta:   metaStore,
		logger: logger.With("component", "ingest"),
	}
}

// Options tune one ingestion.
type Options struct {
	// Progress, when non-nil, observes chapter normalization.
	Progress func(done, total int)
}

// Ingest unpacks EPUB bytes into a new book. The book id is generated
// here; two ingestions of the same file produce two independent books.
func (s *Service) Ingest(ctx context.Context, data []byte, opts Options) (*types.Book, error) {
	up, err := epub.Unpack(data)
	if err != nil {
		return nil, err
	}

	bookID := uuid.NewString()
	if err := s.blobs.EnsureBook(bookID); err != nil {
		return nil, err
	}

	book, err := s.store(ctx, bookID, data, up, opts)
	if err != nil {
		if rmErr := s.blobs.DeleteBook(bookID); rmErr != nil {
			s.logger.Error("cleanup after failed ingest", "book", bookID, "error", rmErr)
		}
		return nil, err
	}

	s.logger.Info("book ingested",
		"book", bookID,
		"title", book.Title,
		"chapters", len(book.Chapters),
		"assets", len(up.Assets))
	return book, nil
}

func (s *Service) store(ctx context.Context, bookID string, data []byte, up *epub.UnpackedBook, opts Options) (*types.Book, error) {
	if err := s.blobs.WriteFile(s.blobs.OriginalEPUB(bookID), data); err != nil {
		return nil, fmt.Errorf("store original: %w", err)
	}

	for href, content := range up.Assets {
		dst, err := s.blobs.AssetPath(bookID, href)
		if err != nil {
			return nil, err
		}
		if err := s.blobs.WriteFile(dst, content); err != nil {
			return nil, fmt.Errorf("store asset %s: %w", href, err)
		}
	}

	tocTitles := tocTitleIndex(up.TOC)

	book := &types.Book{
		ID:        bookID,
		Title:     up.Title,
		Author:    up.Author,
		Language:  up.Language,
		Publisher: up.Publisher,
		CoverHref: up.CoverHref,
		TOC:       up.TOC,
		Chapters:  make([]types.Chapter, 0, len(up.Chapters)),
		CreatedAt: time.Now().UTC(),
	}
	if book.Title == "" {
		book.Title = "Untitled"
	}

	for _, ch := range up.Chapters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := normalize.Chapter(ch.XHTML, assetRewriter(bookID, ch.Href, up.Assets))
		if err != nil {
			return nil, fmt.Errorf("normalize chapter %d: %w", ch.Index, err)
		}
		if err := s.blobs.WriteFile(s.blobs.ChapterHTML(bookID, ch.Index), res.HTML); err != nil {
			return nil, fmt.Errorf("store chapter %d: %w", ch.Index, err)
		}
		if err := s.blobs.WriteJSON(s.blobs.ChapterTokens(bookID, ch.Index), res.Tokens); err != nil {
			return nil, fmt.Errorf("store tokens %d: %w", ch.Index, err)
		}

		book.Chapters = append(book.Chapters, types.Chapter{
			Index:     ch.Index,
			Title:     chapterTitle(res.Title, tocTitles[ch.Index], ch.Index),
			Href:      ch.Href,
			WordCount: res.WordCount,
		})
		if opts.Progress != nil {
			opts.Progress(ch.Index+1, len(up.Chapters))
		}
	}

	md := &meta.Metadata{Book: *book}
	if err := s.meta.Save(bookID, md); err != nil {
		return nil, err
	}
	return book, nil
}

// Delete removes a book and every blob under it.
func (s *Service) Delete(bookID string) error {
	if err := s.blobs.DeleteBook(bookID); err != nil {
		return err
	}
	s.logger.Info("book deleted", "book", bookID)
	return nil
}

// List loads the metadata document of every stored book. Books whose
// metadata cannot be read are skipped with a warning rather than
// failing the listing.
func (s *Service) List() ([]types.Book, error) {
	ids, err := s.blobs.ListBooks()
	if err != nil {
		return nil, err
	}
	books := make([]types.Book, 0, len(ids))
	for _, id := range ids {
		md, err := s.meta.Load(id)
		if err != nil {
			s.logger.Warn("skipping unreadable book", "book", id, "error", err)
			continue
		}
		books = append(books, md.Book)
	}
	return books, nil
}

// assetRewriter maps chapter-relative references onto the server's
// storage URLs. References that do not land on a stored asset, and
// absolute URIs, pass through untouched.
func assetRewriter(bookID, chapterHref string, assets map[string][]byte) normalize.AssetRewriter {
	return func(ref string) (string, bool) {
		trimmed := strings.TrimSpace(ref)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			return "", false
		}
		if u, err := url.Parse(trimmed); err != nil || u.IsAbs() || strings.HasPrefix(trimmed, "//") {
			return "", false
		}
		if i := strings.IndexAny(trimmed, "#?"); i >= 0 {
			trimmed = trimmed[:i]
		}
		resolved := resolveRef(chapterHref, trimmed)
		if resolved == "" {
			return "", false
		}
		if _, ok := assets[resolved]; !ok {
			return "", false
		}
		return fmt.Sprintf("%s/%s/assets/%s", blob.AssetURLPrefix, bookID, resolved), true
	}
}

// resolveRef resolves a reference against the chapter's ZIP path the
// same way the EPUB reader resolves manifest hrefs. Escapes above the
// archive root resolve to "".
func resolveRef(base, ref string) string {
	if decoded, err := url.PathUnescape(ref); err == nil {
		ref = decoded
	}
	cleaned := path.Clean(path.Join(path.Dir(base), ref))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.HasPrefix(cleaned, "/") {
		return ""
	}
	return cleaned
}

// tocTitleIndex flattens the TOC into chapter-index → first title.
func tocTitleIndex(entries []types.TOCEntry) map[int]string {
	titles := make(map[int]string)
	var walk func([]types.TOCEntry)
	walk = func(es []types.TOCEntry) {
		for _, e := range es {
			if e.Title != "" {
				if _, ok := titles[e.ChapterIndex]; !ok {
					titles[e.ChapterIndex] = e.Title
				}
			}
			walk(e.Children)
		}
	}
	walk(entries)
	return titles
}

// chapterTitle picks the chapter heading, falling back to the TOC
// entry and finally a positional name.
func chapterTitle(extracted, toc string, index int) string {
	if extracted != "" {
		return extracted
	}
	if toc != "" {
		return toc
	}
	return fmt.Sprintf("Chapter %d", index+1)
}
