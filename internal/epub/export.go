package epub

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/librettohq/libretto/internal/blob"
	"github.com/librettohq/libretto/internal/meta"
	"github.com/librettohq/libretto/internal/types"
)

// Exporter assembles EPUB 3 publications from stored pipeline
// artifacts: normalized chapter documents, the original assets,
// canonical audio and sync tables. Chapters with a sync table get a
// media overlay; chapters without one are exported as plain text.
type Exporter struct {
	blobs  *blob.Store
	meta   *meta.Store
	logger *slog.Logger
}

// NewExporter builds an exporter over the given stores.
func NewExporter(blobs *blob.Store, metaStore *meta.Store, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		blobs:  blobs,
		meta:   metaStore,
		logger: logger.With("component", "export"),
	}
}

// ExportOptions tune one export.
type ExportOptions struct {
	// Language selects the audio track embedded alongside the text.
	// Empty falls back to the book's own language.
	Language string
	// Progress, when non-nil, observes chapter assembly.
	Progress func(done, total int)
}

// exportChapter carries everything the container writer needs for one
// spine position.
type exportChapter struct {
	index    int
	title    string
	document []byte
	sync     *types.SyncTable

	// audioPath and audioExt locate the canonical audio blob; both are
	// empty when the chapter has no sync table.
	audioPath string
	audioExt  string
}

// exportAsset is one stored asset copied into the container, addressed
// by its slash-separated path under the book's asset directory.
type exportAsset struct {
	rel  string
	path string
}

// Export assembles the publication and validates it before returning
// the container bytes. A chapter with a sync table but no canonical
// audio fails the export rather than producing a dangling overlay.
func (e *Exporter) Export(ctx context.Context, bookID string, opts ExportOptions) ([]byte, error) {
	md, err := e.meta.Load(bookID)
	if err != nil {
		return nil, err
	}

	lang := opts.Language
	if lang == "" {
		lang = md.Book.Language
	}
	if lang == "" {
		lang = "en"
	}

	chapters, err := e.loadChapters(ctx, &md.Book, lang, opts.Progress)
	if err != nil {
		return nil, err
	}
	assets, err := e.collectAssets(bookID)
	if err != nil {
		return nil, err
	}

	w := &containerWriter{
		book:     &md.Book,
		chapters: chapters,
		assets:   assets,
	}

	var buf bytes.Buffer
	if err := w.writeTo(&buf); err != nil {
		return nil, err
	}
	if err := ValidateExport(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("export failed validation: %w", err)
	}

	overlays := 0
	for _, ch := range chapters {
		if ch.sync != nil {
			overlays++
		}
	}
	e.logger.Info("book exported",
		"book", bookID,
		"language", lang,
		"chapters", len(chapters),
		"overlays", overlays,
		"bytes", buf.Len())
	return buf.Bytes(), nil
}

// loadChapters reads every chapter document and, where present, the
// chapter's sync table and canonical audio location.
func (e *Exporter) loadChapters(ctx context.Context, book *types.Book, lang string, progress func(done, total int)) ([]exportChapter, error) {
	chapters := make([]exportChapter, 0, len(book.Chapters))
	for _, ch := range book.Chapters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		doc, err := e.blobs.ReadFile(e.blobs.ChapterHTML(book.ID, ch.Index))
		if err != nil {
			return nil, fmt.Errorf("chapter %d: %w", ch.Index, err)
		}

		ec := exportChapter{
			index:    ch.Index,
			title:    ch.Title,
			document: prepareChapterDocument(doc, book.ID),
		}

		syncPath := e.blobs.SyncPath(book.ID, lang, ch.Index)
		if e.blobs.Exists(syncPath) {
			var st types.SyncTable
			if err := e.blobs.ReadJSON(syncPath, &st); err != nil {
				return nil, fmt.Errorf("chapter %d sync table: %w", ch.Index, err)
			}
			var tokens types.TokenTable
			if err := e.blobs.ReadJSON(e.blobs.ChapterTokens(book.ID, ch.Index), &tokens); err != nil {
				return nil, fmt.Errorf("chapter %d tokens: %w", ch.Index, err)
			}
			if err := st.Validate(tokens); err != nil {
				return nil, fmt.Errorf("chapter %d sync table: %w", ch.Index, err)
			}

			audioPath, ext, err := e.blobs.FindCanonicalAudio(book.ID, lang, ch.Index)
			if err != nil {
				return nil, fmt.Errorf("chapter %d has a sync table but no canonical audio: %w", ch.Index, err)
			}
			ec.sync = &st
			ec.audioPath = audioPath
			ec.audioExt = ext
		}

		chapters = append(chapters, ec)
		if progress != nil {
			progress(len(chapters), len(book.Chapters))
		}
	}
	return chapters, nil
}

// collectAssets walks the book's asset directory. A book without
// assets exports an empty list.
func (e *Exporter) collectAssets(bookID string) ([]exportAsset, error) {
	dir := e.blobs.AssetsDir(bookID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	var assets []exportAsset
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		assets = append(assets, exportAsset{rel: filepath.ToSlash(rel), path: p})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect assets: %w", err)
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].rel < assets[j].rel })
	return assets, nil
}

// Container file naming. Chapter indices are zero-padded so entries
// sort in spine order in any archive listing.

func chapterFile(index int) string { return fmt.Sprintf("chapter_%04d.xhtml", index) }
func smilFile(index int) string    { return fmt.Sprintf("chapter_%04d.smil", index) }
func audioFile(index int, ext string) string {
	return fmt.Sprintf("chapter_%04d.%s", index, strings.TrimPrefix(ext, "."))
}

func chapterItemID(index int) string { return fmt.Sprintf("chapter-%04d", index) }
func overlayItemID(index int) string { return fmt.Sprintf("overlay-%04d", index) }
func audioItemID(index int) string   { return fmt.Sprintf("audio-%04d", index) }

const exportContainerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

// exportStylesheet styles the navigation document and carries the
// highlight rule for the overlay active class. Chapter documents keep
// the stylesheets they shipped with.
const exportStylesheet = `body {
  margin: 1em auto;
  max-width: 40em;
  line-height: 1.6;
}

nav ol {
  list-style-type: none;
}

.-epub-media-overlay-active {
  background-color: #ffe9a8;
}
`

// containerWriter lays assembled chapters, overlays, audio and assets
// out as an OCF container.
type containerWriter struct {
	book     *types.Book
	chapters []exportChapter
	assets   []exportAsset
}

func (w *containerWriter) writeTo(out io.Writer) error {
	zw := zip.NewWriter(out)

	// The mimetype entry must come first and stay uncompressed.
	mw, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		return fmt.Errorf("create mimetype: %w", err)
	}
	if _, err := mw.Write([]byte("application/epub+zip")); err != nil {
		return err
	}

	entries := []struct {
		name string
		data []byte
	}{
		{"META-INF/container.xml", []byte(exportContainerXML)},
		{"OEBPS/content.opf", w.opf()},
		{"OEBPS/nav.xhtml", w.navigationDoc()},
		{"OEBPS/toc.ncx", w.ncx()},
		{"OEBPS/styles/style.css", []byte(exportStylesheet)},
	}
	for _, en := range entries {
		if err := writeEntry(zw, en.name, en.data); err != nil {
			return err
		}
	}

	for _, ch := range w.chapters {
		if err := writeEntry(zw, "OEBPS/text/"+chapterFile(ch.index), ch.document); err != nil {
			return err
		}
		if ch.sync != nil {
			if err := writeEntry(zw, "OEBPS/smil/"+smilFile(ch.index), smilDocument(ch)); err != nil {
				return err
			}
		}
	}

	for _, ch := range w.chapters {
		if ch.sync == nil {
			continue
		}
		if err := copyStored(zw, "OEBPS/audio/"+audioFile(ch.index, ch.audioExt), ch.audioPath); err != nil {
			return err
		}
	}

	for _, a := range w.assets {
		if err := copyFile(zw, "OEBPS/assets/"+a.rel, a.path); err != nil {
			return err
		}
	}

	return zw.Close()
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	f, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// copyStored streams a file into the archive without compression,
// for audio that is already encoded.
func copyStored(zw *zip.Writer, name, src string) error {
	f, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	return copyInto(f, name, src)
}

func copyFile(zw *zip.Writer, name, src string) error {
	f, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	return copyInto(f, name, src)
}

func copyInto(dst io.Writer, name, src string) error {
	r, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s for %s: %w", src, name, err)
	}
	defer r.Close()
	if _, err := io.Copy(dst, r); err != nil {
		return fmt.Errorf("copy %s: %w", name, err)
	}
	return nil
}
