// Package blob manages the on-disk layout of book artifacts.
// Every book lives under one directory keyed by its ID, and all writes
// go through an atomic temp-file-plus-rename so readers never observe
// partially written artifacts.
package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/librettohq/libretto/internal/types"
)

// segmentPattern matches path segments safe to embed in the layout
// (book IDs are UUIDs, languages are BCP 47 tags).
var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// AssetURLPrefix is the URL namespace the HTTP layer mounts book
// assets under. Normalized chapter HTML references its images and
// stylesheets as {AssetURLPrefix}/{book}/assets/{rel}; the exporter
// maps those URLs back to container-relative paths.
const AssetURLPrefix = "/storage/books"

// Store provides access to book artifacts under a root directory.
//
// Layout per book B:
//
//	B/original.epub
//	B/metadata.json
//	B/chapters/{i}.html
//	B/chapters/{i}.tokens.json
//	B/assets/...
//	B/audio/{lang}/{i}.canonical.{ext}
//	B/audio/{lang}/{i}.source.{ext}
//	B/audio/{lang}/{i}.timing.json
//	B/sync/{lang}/{i}.json
//	B/journal/{lang}/{i}.log
//	B/translations/{lang}/{i}.json
type Store struct {
	root string
}

// NewStore creates a store rooted at the given directory,
// creating it if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the storage root directory.
func (s *Store) Root() string {
	return s.root
}

// BookDir returns the directory holding all artifacts for a book.
func (s *Store) BookDir(bookID string) string {
	return filepath.Join(s.root, bookID)
}

// EnsureBook creates the book directory if it does not exist.
func (s *Store) EnsureBook(bookID string) error {
	if !segmentPattern.MatchString(bookID) {
		return fmt.Errorf("invalid book id %q", bookID)
	}
	if err := os.MkdirAll(s.BookDir(bookID), 0o755); err != nil {
		return fmt.Errorf("failed to create book directory: %w", err)
	}
	return nil
}

// BookExists reports whether a book directory exists.
func (s *Store) BookExists(bookID string) bool {
	info, err := os.Stat(s.BookDir(bookID))
	return err == nil && info.IsDir()
}

// ListBooks returns the IDs of all stored books, sorted.
func (s *Store) ListBooks() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage root: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && segmentPattern.MatchString(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteBook removes a book directory and everything under it.
func (s *Store) DeleteBook(bookID string) error {
	if !segmentPattern.MatchString(bookID) {
		return fmt.Errorf("invalid book id %q", bookID)
	}
	if !s.BookExists(bookID) {
		return types.ErrNotFound
	}
	return os.RemoveAll(s.BookDir(bookID))
}

// OriginalEPUB returns the path of the uploaded EPUB.
func (s *Store) OriginalEPUB(bookID string) string {
	return filepath.Join(s.BookDir(bookID), "original.epub")
}

// MetadataPath returns the path of the book metadata document.
func (s *Store) MetadataPath(bookID string) string {
	return filepath.Join(s.BookDir(bookID), "metadata.json")
}

// ChapterHTML returns the path of a normalized chapter document.
func (s *Store) ChapterHTML(bookID string, chapter int) string {
	return filepath.Join(s.BookDir(bookID), "chapters", fmt.Sprintf("%d.html", chapter))
}

// ChapterTokens returns the path of a chapter token table.
func (s *Store) ChapterTokens(bookID string, chapter int) string {
	return filepath.Join(s.BookDir(bookID), "chapters", fmt.Sprintf("%d.tokens.json", chapter))
}

// AssetsDir returns the directory holding extracted EPUB assets.
func (s *Store) AssetsDir(bookID string) string {
	return filepath.Join(s.BookDir(bookID), "assets")
}

// AssetPath resolves a relative asset reference inside the book's asset
// directory. References escaping the directory are rejected.
func (s *Store) AssetPath(bookID, rel string) (string, error) {
	dir := s.AssetsDir(bookID)
	clean := filepath.Clean(filepath.Join(dir, filepath.FromSlash(rel)))
	if clean != dir && !strings.HasPrefix(clean, dir+string(filepath.Separator)) {
		return "", fmt.Errorf("asset path %q escapes book directory", rel)
	}
	return clean, nil
}

// AudioDir returns the directory holding audio for one language.
func (s *Store) AudioDir(bookID, lang string) string {
	return filepath.Join(s.BookDir(bookID), "audio", lang)
}

// CanonicalAudio returns the path of the working audio copy.
func (s *Store) CanonicalAudio(bookID, lang string, chapter int, ext string) string {
	return filepath.Join(s.AudioDir(bookID, lang), fmt.Sprintf("%d.canonical.%s", chapter, ext))
}

// SourceAudio returns the path of the immutable source audio copy.
func (s *Store) SourceAudio(bookID, lang string, chapter int, ext string) string {
	return filepath.Join(s.AudioDir(bookID, lang), fmt.Sprintf("%d.source.%s", chapter, ext))
}

// TimingPath returns the path of provisional timing captured at
// synthesis time.
func (s *Store) TimingPath(bookID, lang string, chapter int) string {
	return filepath.Join(s.AudioDir(bookID, lang), fmt.Sprintf("%d.timing.json", chapter))
}

// SyncPath returns the path of a chapter sync table.
func (s *Store) SyncPath(bookID, lang string, chapter int) string {
	return filepath.Join(s.BookDir(bookID), "sync", lang, fmt.Sprintf("%d.json", chapter))
}

// JournalPath returns the path of a chapter edit journal.
func (s *Store) JournalPath(bookID, lang string, chapter int) string {
	return filepath.Join(s.BookDir(bookID), "journal", lang, fmt.Sprintf("%d.log", chapter))
}

// TranslationPath returns the path of a chapter translation document.
func (s *Store) TranslationPath(bookID, lang string, chapter int) string {
	return filepath.Join(s.BookDir(bookID), "translations", lang, fmt.Sprintf("%d.json", chapter))
}

// FindCanonicalAudio locates the canonical audio for a chapter without
// knowing its extension. Returns types.ErrNotFound when absent.
func (s *Store) FindCanonicalAudio(bookID, lang string, chapter int) (path, ext string, err error) {
	return s.findAudio(bookID, lang, chapter, "canonical")
}

// FindSourceAudio locates the immutable source audio for a chapter.
// Returns types.ErrNotFound when absent.
func (s *Store) FindSourceAudio(bookID, lang string, chapter int) (path, ext string, err error) {
	return s.findAudio(bookID, lang, chapter, "source")
}

func (s *Store) findAudio(bookID, lang string, chapter int, kind string) (string, string, error) {
	pattern := filepath.Join(s.AudioDir(bookID, lang), fmt.Sprintf("%d.%s.*", chapter, kind))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", "", fmt.Errorf("failed to glob audio: %w", err)
	}
	if len(matches) == 0 {
		return "", "", types.ErrNotFound
	}
	sort.Strings(matches)
	path := matches[0]
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	return path, ext, nil
}

// WriteFile atomically writes data to path, creating parent
// directories as needed. The temp file lives in the target directory
// so the final rename stays on one filesystem.
func (s *Store) WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, ".blob-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write blob: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename blob: %w", err)
	}

	return nil
}

// WriteStream atomically writes the reader's contents to path.
func (s *Store) WriteStream(path string, r io.Reader) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, ".blob-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	n, err := io.Copy(tempFile, r)
	if err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return 0, fmt.Errorf("failed to write blob: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("failed to rename blob: %w", err)
	}

	return n, nil
}

// ReadFile reads an artifact, mapping missing files to types.ErrNotFound.
func (s *Store) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// Open opens an artifact for streaming reads.
func (s *Store) Open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

// Exists reports whether an artifact exists at path.
func (s *Store) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Remove deletes an artifact. Missing files are not an error.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove blob: %w", err)
	}
	return nil
}

// AppendLine appends one line to a log file, creating it if needed.
// Appends are not atomic but are the only non-rename mutation in the
// store, and journal lines are small enough for a single write.
func (s *Store) AppendLine(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append log line: %w", err)
	}
	return nil
}
