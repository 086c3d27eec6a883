// Package voices maintains the catalog of selectable TTS voices.
//
// The catalog is owned by the server and refreshed from the provider
// registry on a TTL. Providers that cannot enumerate voices simply
// contribute nothing.
package voices

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/librettohq/libretto/internal/providers"
	"github.com/librettohq/libretto/internal/types"
)

// DefaultTTL is how long a refreshed catalog stays fresh.
const DefaultTTL = 15 * time.Minute

// Voice is one selectable TTS voice.
type Voice struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Language is the voice's BCP-47 locale. Empty means the voice is
	// multilingual and serves any language filter.
	Language string `json:"language,omitempty"`

	// Provider is the registry name synthesis requests address the
	// provider by.
	Provider string `json:"provider"`

	// Default marks the provider's configured default voice.
	Default bool `json:"default"`
}

// defaultVoicer is implemented by TTS clients that carry a configured
// default voice.
type defaultVoicer interface {
	Voice() string
}

// Catalog merges the voices of every registered TTS provider and
// caches the result. A refresh that fails keeps serving the previous
// snapshot.
type Catalog struct {
	registry *providers.Registry
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time

	// refreshMu serializes provider calls so concurrent readers of a
	// stale catalog trigger one refresh, not one each.
	refreshMu sync.Mutex

	mu        sync.Mutex
	voices    []Voice
	refreshed time.Time
}

// NewCatalog builds a catalog over the registry. A non-positive ttl
// uses DefaultTTL.
func NewCatalog(registry *providers.Registry, ttl time.Duration, logger *slog.Logger) *Catalog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		registry: registry,
		ttl:      ttl,
		logger:   logger.With("component", "voices"),
		now:      time.Now,
	}
}

// List returns the cataloged voices, refreshing first when the
// snapshot is stale. A non-empty lang keeps only voices that serve
// that language.
func (c *Catalog) List(ctx context.Context, lang string) ([]Voice, error) {
	vs, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if lang == "" {
		return append([]Voice(nil), vs...), nil
	}
	out := make([]Voice, 0, len(vs))
	for _, v := range vs {
		if matchesLanguage(v.Language, lang) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Resolve finds the voice a synthesis request names. The id may carry
// a locale namespace ("en-US/ash"); both the full id and the bare name
// after the slash are tried. An empty provider searches every one.
func (c *Catalog) Resolve(ctx context.Context, provider, id string) (*Voice, error) {
	if id == "" {
		return nil, fmt.Errorf("empty voice id: %w", types.ErrUnknownVoice)
	}
	vs, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	bare := id
	if _, name, ok := strings.Cut(id, "/"); ok {
		bare = name
	}
	for i := range vs {
		v := vs[i]
		if provider != "" && v.Provider != provider {
			continue
		}
		if v.ID == id || v.ID == bare {
			return &v, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", id, types.ErrUnknownVoice)
}

// Refresh rebuilds the snapshot immediately, regardless of age.
func (c *Catalog) Refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	merged, err := c.collect(ctx)
	if err != nil {
		return err
	}
	c.store(merged)
	return nil
}

// Invalidate drops the cached snapshot so the next read refreshes.
// The server calls this when provider config reloads.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.voices = nil
	c.refreshed = time.Time{}
	c.mu.Unlock()
}

func (c *Catalog) snapshot(ctx context.Context) ([]Voice, error) {
	if vs, ok := c.fresh(); ok {
		return vs, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	if vs, ok := c.fresh(); ok {
		return vs, nil
	}

	merged, err := c.collect(ctx)
	if err != nil {
		c.mu.Lock()
		stale := c.voices
		c.mu.Unlock()
		if stale != nil {
			c.logger.Warn("voice refresh failed, serving previous catalog", "error", err)
			return stale, nil
		}
		return nil, err
	}
	c.store(merged)
	return merged, nil
}

func (c *Catalog) fresh() ([]Voice, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.voices != nil && c.now().Sub(c.refreshed) < c.ttl {
		return c.voices, true
	}
	return nil, false
}

func (c *Catalog) store(vs []Voice) {
	c.mu.Lock()
	c.voices = vs
	c.refreshed = c.now()
	c.mu.Unlock()
}

// collect queries every registered TTS provider that can list voices.
// Per-provider failures are logged and skipped; collect errors only
// when nothing could be listed at all.
func (c *Catalog) collect(ctx context.Context) ([]Voice, error) {
	clients := c.registry.TTSClients()
	names := make([]string, 0, len(clients))
	for name := range clients {
		names = append(names, name)
	}
	sort.Strings(names)

	merged := []Voice{}
	var firstErr error
	for _, name := range names {
		client := clients[name]
		lister, ok := client.(providers.VoicesLister)
		if !ok {
			continue
		}
		vs, err := lister.ListVoices(ctx)
		if err != nil {
			c.logger.Warn("listing voices failed", "provider", name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", name, err)
			}
			continue
		}

		var def string
		if dv, ok := client.(defaultVoicer); ok {
			def = dv.Voice()
		}
		for _, v := range vs {
			display := v.Name
			if display == "" {
				display = v.VoiceID
			}
			merged = append(merged, Voice{
				ID:       v.VoiceID,
				Name:     display,
				Language: v.Language,
				Provider: name,
				Default:  def != "" && v.VoiceID == def,
			})
		}
		c.logger.Debug("listed voices", "provider", name, "count", len(vs))
	}

	if len(merged) == 0 && firstErr != nil {
		return nil, firstErr
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Provider != merged[j].Provider {
			return merged[i].Provider < merged[j].Provider
		}
		return merged[i].ID < merged[j].ID
	})
	return merged, nil
}

// matchesLanguage reports whether a voice locale serves the requested
// language. Locale-less voices match anything; otherwise the two tags
// must agree up to a subtag boundary, so "en" serves "en-US" and the
// other way around.
func matchesLanguage(voiceLang, want string) bool {
	if voiceLang == "" {
		return true
	}
	v := strings.ToLower(voiceLang)
	w := strings.ToLower(want)
	if v == w {
		return true
	}
	return strings.HasPrefix(v, w+"-") || strings.HasPrefix(w, v+"-")
}
