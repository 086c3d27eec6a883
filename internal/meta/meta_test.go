package meta

import (
	"errors"
	"sync"
	"testing"

	"github.com/librettohq/libretto/internal/blob"
	"github.com/librettohq/libretto/internal/types"
)

func newTestStore(t *testing.T) (*Store, *blob.Store) {
	t.Helper()
	blobs, err := blob.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return NewStore(blobs), blobs
}

func seedBook(t *testing.T, s *Store) {
	t.Helper()
	m := &Metadata{
		Book: types.Book{
			ID:       "b1",
			Title:    "Test Book",
			Language: "en",
			Chapters: []types.Chapter{{Index: 0, Title: "One", Href: "ch1.xhtml"}},
		},
	}
	if err := s.Save("b1", m); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
}

func TestStore_LoadSave(t *testing.T) {
	s, _ := newTestStore(t)
	seedBook(t, s)

	m, err := s.Load("b1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m.Book.Title != "Test Book" {
		t.Errorf("Load() title = %s, want Test Book", m.Book.Title)
	}
	if m.UpdatedAt.IsZero() {
		t.Error("Save() did not stamp UpdatedAt")
	}

	if _, err := s.Load("missing"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("Load() on missing book error = %v, want ErrNotFound", err)
	}
}

func TestStore_Update(t *testing.T) {
	s, _ := newTestStore(t)
	seedBook(t, s)

	err := s.Update("b1", func(m *Metadata) error {
		m.Book.Author = "Anon"
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	m, err := s.Load("b1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m.Book.Author != "Anon" {
		t.Errorf("Update() author = %s, want Anon", m.Book.Author)
	}

	t.Run("aborts on callback error", func(t *testing.T) {
		wantErr := errors.New("nope")
		err := s.Update("b1", func(m *Metadata) error {
			m.Book.Author = "Changed"
			return wantErr
		})
		if !errors.Is(err, wantErr) {
			t.Fatalf("Update() error = %v, want %v", err, wantErr)
		}
		m, _ := s.Load("b1")
		if m.Book.Author != "Anon" {
			t.Errorf("Update() persisted despite error: author = %s", m.Book.Author)
		}
	})
}

func TestStore_Update_Concurrent(t *testing.T) {
	s, _ := newTestStore(t)
	seedBook(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update("b1", func(m *Metadata) error {
				m.Book.Chapters[0].WordCount++
				return nil
			})
		}()
	}
	wg.Wait()

	m, err := s.Load("b1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m.Book.Chapters[0].WordCount != 20 {
		t.Errorf("concurrent updates lost writes: count = %d, want 20", m.Book.Chapters[0].WordCount)
	}
}

func TestMetadata_AudioRecords(t *testing.T) {
	s, _ := newTestStore(t)
	seedBook(t, s)

	err := s.Update("b1", func(m *Metadata) error {
		m.UpsertAudio(types.AudioArtifact{BookID: "b1", ChapterIndex: 0, Language: "en", Source: types.SourceTTS, Format: "mp3"})
		m.UpsertAudio(types.AudioArtifact{BookID: "b1", ChapterIndex: 0, Language: "es", Source: types.SourceTTSTranslated, Format: "mp3"})
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	// Replacing an existing record keeps one entry per (lang, chapter)
	err = s.Update("b1", func(m *Metadata) error {
		m.UpsertAudio(types.AudioArtifact{BookID: "b1", ChapterIndex: 0, Language: "en", Source: types.SourceUpload, Format: "wav"})
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	m, err := s.Load("b1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(m.Audio) != 2 {
		t.Fatalf("expected 2 audio records, got %d", len(m.Audio))
	}

	art, ok := m.FindAudio("en", 0)
	if !ok {
		t.Fatal("FindAudio() = false, want true")
	}
	if art.Source != types.SourceUpload || art.Format != "wav" {
		t.Errorf("FindAudio() = %+v, want replaced upload record", art)
	}

	if _, ok := m.FindAudio("fr", 0); ok {
		t.Error("FindAudio() found record for missing language")
	}

	langs := m.Languages()
	if len(langs) != 2 || langs[0] != "en" || langs[1] != "es" {
		t.Errorf("Languages() = %v, want [en es]", langs)
	}
}

func TestStore_Fingerprints(t *testing.T) {
	s, _ := newTestStore(t)
	seedBook(t, s)

	if _, ok := s.Fingerprint("b1", "tts:en:0"); ok {
		t.Error("Fingerprint() = true before set")
	}

	if err := s.SetFingerprint("b1", "tts:en:0", "abc123"); err != nil {
		t.Fatalf("SetFingerprint() error = %v", err)
	}

	fp, ok := s.Fingerprint("b1", "tts:en:0")
	if !ok || fp != "abc123" {
		t.Errorf("Fingerprint() = %s, %v, want abc123, true", fp, ok)
	}
}
