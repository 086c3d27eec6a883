package align

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/librettohq/libretto/internal/blob"
	"github.com/librettohq/libretto/internal/meta"
	"github.com/librettohq/libretto/internal/types"
)

const serviceTestBook = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"

// recordingBackend counts calls and remembers the last request.
type recordingBackend struct {
	stubBackend
	calls int
	last  *Request
}

func (r *recordingBackend) Align(ctx context.Context, req *Request) ([]Placement, error) {
	r.calls++
	r.last = req
	return r.stubBackend.Align(ctx, req)
}

func newServiceFixture(t *testing.T) (*Service, *blob.Store, *meta.Store, *recordingBackend) {
	t.Helper()

	blobs, err := blob.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	metaStore := meta.NewStore(blobs)

	if err := blobs.EnsureBook(serviceTestBook); err != nil {
		t.Fatalf("EnsureBook() error = %v", err)
	}

	tokens := surfaceTokens("hello", "brave", "new", "world")
	if err := blobs.WriteJSON(blobs.ChapterTokens(serviceTestBook, 0), tokens); err != nil {
		t.Fatalf("write tokens: %v", err)
	}
	audioPath := blobs.CanonicalAudio(serviceTestBook, "en", 0, "mp3")
	if err := blobs.WriteFile(audioPath, []byte("ID3canonical-take-one")); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	md := &meta.Metadata{
		Book: types.Book{
			ID:       serviceTestBook,
			Title:    "Alignable",
			Language: "en",
			Chapters: []types.Chapter{{Index: 0, Title: "One", WordCount: len(tokens)}},
		},
	}
	md.UpsertAudio(types.AudioArtifact{
		BookID:            serviceTestBook,
		ChapterIndex:      0,
		Language:          "en",
		Source:            types.SourceTTS,
		Format:            "mp3",
		CanonicalDuration: 2.0,
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	})
	if err := metaStore.Save(serviceTestBook, md); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	backend := &recordingBackend{stubBackend: stubBackend{
		name: "asr",
		placements: []Placement{
			{TokenID: "w0", Begin: 0.0, End: 0.5},
			{TokenID: "w1", Begin: 0.5, End: 1.0},
			{TokenID: "w2", Begin: 1.0, End: 1.5},
			{TokenID: "w3", Begin: 1.5, End: 2.0},
		},
	}}
	aligner := New(testAlignCfg(), nil, backend, nil, nil)
	return NewService(blobs, metaStore, aligner, nil), blobs, metaStore, backend
}

func TestAlignChapter(t *testing.T) {
	svc, blobs, _, backend := newServiceFixture(t)

	res, err := svc.AlignChapter(context.Background(), serviceTestBook, 0, "", Options{})
	if err != nil {
		t.Fatalf("AlignChapter() error = %v", err)
	}
	if res.Cached {
		t.Error("first alignment reported cached")
	}
	if backend.calls != 1 {
		t.Errorf("backend calls = %d, want 1", backend.calls)
	}
	if res.Table.Backend != "asr" || res.Table.Language != "en" {
		t.Errorf("table identity = %s/%s", res.Table.Backend, res.Table.Language)
	}
	if res.Table.Fingerprint == "" {
		t.Error("persisted table has no fingerprint")
	}

	var stored types.SyncTable
	if err := blobs.ReadJSON(blobs.SyncPath(serviceTestBook, "en", 0), &stored); err != nil {
		t.Fatalf("read stored table: %v", err)
	}
	if stored.Fingerprint != res.Table.Fingerprint {
		t.Error("stored fingerprint differs from returned table")
	}
	if len(stored.Entries) != 4 {
		t.Errorf("stored entries = %d, want 4", len(stored.Entries))
	}
}

func TestAlignChapter_CacheHit(t *testing.T) {
	svc, _, _, backend := newServiceFixture(t)
	ctx := context.Background()

	if _, err := svc.AlignChapter(ctx, serviceTestBook, 0, "en", Options{}); err != nil {
		t.Fatalf("AlignChapter() error = %v", err)
	}
	res, err := svc.AlignChapter(ctx, serviceTestBook, 0, "en", Options{})
	if err != nil {
		t.Fatalf("AlignChapter() again error = %v", err)
	}
	if !res.Cached {
		t.Error("identical inputs did not hit the cache")
	}
	if backend.calls != 1 {
		t.Errorf("backend calls = %d, want 1", backend.calls)
	}
}

func TestAlignChapter_ReAlignsOnAudioChange(t *testing.T) {
	svc, blobs, _, backend := newServiceFixture(t)
	ctx := context.Background()

	if _, err := svc.AlignChapter(ctx, serviceTestBook, 0, "en", Options{}); err != nil {
		t.Fatalf("AlignChapter() error = %v", err)
	}

	audioPath := blobs.CanonicalAudio(serviceTestBook, "en", 0, "mp3")
	if err := blobs.WriteFile(audioPath, []byte("ID3canonical-take-two")); err != nil {
		t.Fatalf("rewrite audio: %v", err)
	}

	res, err := svc.AlignChapter(ctx, serviceTestBook, 0, "en", Options{})
	if err != nil {
		t.Fatalf("AlignChapter() after audio change error = %v", err)
	}
	if res.Cached {
		t.Error("changed audio still hit the cache")
	}
	if backend.calls != 2 {
		t.Errorf("backend calls = %d, want 2", backend.calls)
	}
}

func TestAlignChapter_PassesProvisionalTiming(t *testing.T) {
	svc, blobs, _, backend := newServiceFixture(t)

	timing := []types.TimingEntry{{TokenID: "w0", Begin: 0, End: 0.5}}
	if err := blobs.WriteJSON(blobs.TimingPath(serviceTestBook, "en", 0), timing); err != nil {
		t.Fatalf("write timing: %v", err)
	}

	if _, err := svc.AlignChapter(context.Background(), serviceTestBook, 0, "en", Options{}); err != nil {
		t.Fatalf("AlignChapter() error = %v", err)
	}
	if backend.last == nil || len(backend.last.Timing) != 1 {
		t.Fatalf("backend request timing = %+v, want the stored entry", backend.last)
	}
	if backend.last.Duration != 2.0 {
		t.Errorf("request duration = %f, want artifact duration", backend.last.Duration)
	}
}

func TestAlignChapter_TranslatedTokens(t *testing.T) {
	svc, blobs, metaStore, backend := newServiceFixture(t)

	translated := types.TokenTable{
		{ID: "w0", Surface: "hallo", Normalized: "hallo"},
		{ID: "w1", Surface: "welt", Normalized: "welt"},
	}
	tr := types.Translation{
		BookID:       serviceTestBook,
		ChapterIndex: 0,
		Language:     "de",
		Tokens:       translated,
	}
	if err := blobs.WriteJSON(blobs.TranslationPath(serviceTestBook, "de", 0), tr); err != nil {
		t.Fatalf("write translation: %v", err)
	}
	if err := blobs.WriteFile(blobs.CanonicalAudio(serviceTestBook, "de", 0, "mp3"), []byte("ID3german-take")); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := metaStore.Update(serviceTestBook, func(md *meta.Metadata) error {
		md.UpsertAudio(types.AudioArtifact{
			BookID:            serviceTestBook,
			ChapterIndex:      0,
			Language:          "de",
			Source:            types.SourceTTSTranslated,
			Format:            "mp3",
			CanonicalDuration: 1.0,
		})
		return nil
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	backend.placements = []Placement{
		{TokenID: "w0", Begin: 0.0, End: 0.5},
		{TokenID: "w1", Begin: 0.5, End: 1.0},
	}

	res, err := svc.AlignChapter(context.Background(), serviceTestBook, 0, "de", Options{})
	if err != nil {
		t.Fatalf("AlignChapter() error = %v", err)
	}
	if len(res.Table.Entries) != 2 {
		t.Fatalf("entries = %d, want the translated table's 2", len(res.Table.Entries))
	}
	if len(backend.last.Tokens) != 2 || backend.last.Tokens[0].Surface != "hallo" {
		t.Errorf("backend aligned %d source tokens, want translated stream", len(backend.last.Tokens))
	}
}

func TestAlignChapter_NotFound(t *testing.T) {
	svc, _, _, _ := newServiceFixture(t)
	ctx := context.Background()

	if _, err := svc.AlignChapter(ctx, serviceTestBook, 7, "en", Options{}); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("AlignChapter(bad chapter) error = %v, want ErrNotFound", err)
	}
	// A language with no audio artifact.
	if _, err := svc.AlignChapter(ctx, serviceTestBook, 0, "fr", Options{}); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("AlignChapter(no audio) error = %v, want ErrNotFound", err)
	}
}

func TestRequestedBackend(t *testing.T) {
	cfg := testAlignCfg() // Backend: "auto"

	tests := []struct {
		opt  string
		want string
	}{
		{"", "auto"},
		{"auto", "auto"},
		{"asr", "asr"},
		{"dtw", "dtw"},
	}
	for _, tc := range tests {
		if got := requestedBackend(cfg, Options{Backend: tc.opt}); got != tc.want {
			t.Errorf("requestedBackend(%q) = %q, want %q", tc.opt, got, tc.want)
		}
	}

	cfg.Backend = "asr"
	if got := requestedBackend(cfg, Options{}); got != "asr" {
		t.Errorf("requestedBackend with configured default = %q, want asr", got)
	}
}
