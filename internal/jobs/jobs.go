// Package jobs coordinates pipeline work. One controller serializes
// mutations per chapter key, coalesces identical in-flight requests,
// retries transient failures with bounded backoff, and publishes
// progress events for every job it runs.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/librettohq/libretto/internal/types"
)

// Kind tags what a job does.
type Kind string

const (
	KindIngest    Kind = "ingest"
	KindUpload    Kind = "upload"
	KindTTS       Kind = "tts"
	KindAlign     Kind = "align"
	KindTranslate Kind = "translate_chapter"
	KindEdit      Kind = "edit"
	KindExport    Kind = "export"
)

// State is the lifecycle phase of a job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCanceled
}

// Class groups operations that contend for the same stored state.
// Two jobs whose keys match in every field run strictly one after the
// other; everything else runs in parallel under the global cap.
type Class string

const (
	ClassIngest Class = "ingest"
	ClassSource Class = "source"
	ClassAlign  Class = "align"
	ClassEdit   Class = "edit"
	ClassExport Class = "export"
)

// Key identifies the serialization domain of a job. Book-scoped work
// (ingest, export) uses Chapter = -1 and an empty language.
type Key struct {
	Book     string
	Chapter  int
	Language string
	Class    Class
}

// BookKey builds a key for book-scoped work.
func BookKey(book string, class Class) Key {
	return Key{Book: book, Chapter: -1, Class: class}
}

// ChapterKey builds a key for chapter-scoped work.
func ChapterKey(book string, chapter int, lang string, class Class) Key {
	return Key{Book: book, Chapter: chapter, Language: lang, Class: class}
}

// String renders the key in target_key form.
func (k Key) String() string {
	if k.Chapter < 0 {
		return fmt.Sprintf("%s/%s", k.Book, k.Class)
	}
	return fmt.Sprintf("%s/%d/%s/%s", k.Book, k.Chapter, k.Language, k.Class)
}

// Record is the externally visible state of a job. Snapshots are
// returned by value so callers never race the running job.
type Record struct {
	ID         string       `json:"id"`
	Kind       Kind         `json:"kind"`
	State      State        `json:"state"`
	TargetKey  string       `json:"target_key"`
	BookID     string       `json:"book_id"`
	Chapter    int          `json:"chapter"`
	Language   string       `json:"language,omitempty"`
	Attempts   int          `json:"attempts,omitempty"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	LastEvent  *types.Event `json:"last_event,omitempty"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	BookID string
	State  State
	Kind   Kind
}

// Publisher receives progress events from running work. The stream a
// job publishes to satisfies this.
type Publisher interface {
	Publish(types.Event)
}

// Request describes one unit of pipeline work.
type Request struct {
	Kind Kind
	Key  Key

	// Fingerprint of the request's inputs. Submissions whose key and
	// fingerprint match a live job coalesce onto it instead of
	// starting a second run. Empty disables coalescing.
	Fingerprint string

	// Timeout bounds each attempt; zero means no per-attempt deadline.
	Timeout time.Duration

	// Run does the work. It must honor ctx cancellation at its
	// checkpoints and clean up temp state on the way out; the
	// controller may call it again after a transient failure. The
	// returned payload rides on the terminal done event.
	Run func(ctx context.Context, pub Publisher) (any, error)
}
