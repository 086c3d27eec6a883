// Package meta persists the per-book metadata document.
// The document aggregates the parsed book structure, audio artifact
// records and pipeline fingerprints. All mutation goes through Update
// so concurrent writers never lose each other's changes.
package meta

import (
	"fmt"
	"sync"
	"time"

	"github.com/librettohq/libretto/internal/blob"
	"github.com/librettohq/libretto/internal/types"
)

// Metadata is the document stored at {book}/metadata.json.
type Metadata struct {
	Book         types.Book            `json:"book"`
	Audio        []types.AudioArtifact `json:"audio,omitempty"`
	Fingerprints map[string]string     `json:"fingerprints,omitempty"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// FindAudio returns the audio artifact for a language and chapter.
func (m *Metadata) FindAudio(lang string, chapter int) (*types.AudioArtifact, bool) {
	for i := range m.Audio {
		a := &m.Audio[i]
		if a.Language == lang && a.ChapterIndex == chapter {
			return a, true
		}
	}
	return nil, false
}

// UpsertAudio inserts or replaces the artifact record for its
// language and chapter.
func (m *Metadata) UpsertAudio(art types.AudioArtifact) {
	for i := range m.Audio {
		if m.Audio[i].Language == art.Language && m.Audio[i].ChapterIndex == art.ChapterIndex {
			m.Audio[i] = art
			return
		}
	}
	m.Audio = append(m.Audio, art)
}

// Languages returns every language with at least one audio artifact,
// in first-seen order.
func (m *Metadata) Languages() []string {
	seen := make(map[string]bool)
	var langs []string
	for _, a := range m.Audio {
		if !seen[a.Language] {
			seen[a.Language] = true
			langs = append(langs, a.Language)
		}
	}
	return langs
}

// Store reads and writes metadata documents.
type Store struct {
	blobs *blob.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a metadata store over the blob layer.
func NewStore(blobs *blob.Store) *Store {
	return &Store{
		blobs: blobs,
		locks: make(map[string]*sync.Mutex),
	}
}

// bookLock returns the mutex serializing updates for one book.
func (s *Store) bookLock(bookID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[bookID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[bookID] = l
	}
	return l
}

// Load reads the metadata document for a book.
func (s *Store) Load(bookID string) (*Metadata, error) {
	var m Metadata
	if err := s.blobs.ReadJSON(s.blobs.MetadataPath(bookID), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Save writes the metadata document, stamping UpdatedAt.
func (s *Store) Save(bookID string, m *Metadata) error {
	m.UpdatedAt = time.Now().UTC()
	if err := s.blobs.WriteJSON(s.blobs.MetadataPath(bookID), m); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	return nil
}

// Update applies fn to the current document under the book's lock and
// persists the result. fn returning an error aborts without writing.
func (s *Store) Update(bookID string, fn func(*Metadata) error) error {
	l := s.bookLock(bookID)
	l.Lock()
	defer l.Unlock()

	m, err := s.Load(bookID)
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	return s.Save(bookID, m)
}

// SetFingerprint records the input fingerprint of a completed
// pipeline operation.
func (s *Store) SetFingerprint(bookID, key, fingerprint string) error {
	return s.Update(bookID, func(m *Metadata) error {
		if m.Fingerprints == nil {
			m.Fingerprints = make(map[string]string)
		}
		m.Fingerprints[key] = fingerprint
		return nil
	})
}

// Fingerprint returns the recorded fingerprint for a pipeline
// operation, if any.
func (s *Store) Fingerprint(bookID, key string) (string, bool) {
	m, err := s.Load(bookID)
	if err != nil {
		return "", false
	}
	fp, ok := m.Fingerprints[key]
	return fp, ok
}
