// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/librettohq/libretto/internal/align"
	"github.com/librettohq/libretto/internal/blob"
	"github.com/librettohq/libretto/internal/config"
	"github.com/librettohq/libretto/internal/edit"
	"github.com/librettohq/libretto/internal/epub"
	"github.com/librettohq/libretto/internal/ingest"
	"github.com/librettohq/libretto/internal/jobs"
	"github.com/librettohq/libretto/internal/meta"
	"github.com/librettohq/libretto/internal/metrics"
	"github.com/librettohq/libretto/internal/providers"
	"github.com/librettohq/libretto/internal/source"
	"github.com/librettohq/libretto/internal/voices"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Blobs      *blob.Store
	Meta       *meta.Store
	Ingest     *ingest.Service
	Source     *source.Manager
	Align      *align.Service
	Editor     *edit.Editor
	Exporter   *epub.Exporter
	Controller *jobs.Controller
	Voices     *voices.Catalog
	Registry   *providers.Registry
	Metrics    *metrics.Recorder
	ConfigMgr  *config.Manager
	Logger     *slog.Logger
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// BlobsFrom extracts the blob store from context.
func BlobsFrom(ctx context.Context) *blob.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Blobs
	}
	return nil
}

// MetaFrom extracts the metadata store from context.
func MetaFrom(ctx context.Context) *meta.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Meta
	}
	return nil
}

// IngestFrom extracts the ingest service from context.
func IngestFrom(ctx context.Context) *ingest.Service {
	if s := ServicesFrom(ctx); s != nil {
		return s.Ingest
	}
	return nil
}

// SourceFrom extracts the audio source manager from context.
func SourceFrom(ctx context.Context) *source.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Source
	}
	return nil
}

// AlignFrom extracts the alignment service from context.
func AlignFrom(ctx context.Context) *align.Service {
	if s := ServicesFrom(ctx); s != nil {
		return s.Align
	}
	return nil
}

// EditorFrom extracts the audio editor from context.
func EditorFrom(ctx context.Context) *edit.Editor {
	if s := ServicesFrom(ctx); s != nil {
		return s.Editor
	}
	return nil
}

// ExporterFrom extracts the EPUB exporter from context.
func ExporterFrom(ctx context.Context) *epub.Exporter {
	if s := ServicesFrom(ctx); s != nil {
		return s.Exporter
	}
	return nil
}

// ControllerFrom extracts the pipeline controller from context.
func ControllerFrom(ctx context.Context) *jobs.Controller {
	if s := ServicesFrom(ctx); s != nil {
		return s.Controller
	}
	return nil
}

// VoicesFrom extracts the voice catalog from context.
func VoicesFrom(ctx context.Context) *voices.Catalog {
	if s := ServicesFrom(ctx); s != nil {
		return s.Voices
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// MetricsFrom extracts the usage recorder from context.
func MetricsFrom(ctx context.Context) *metrics.Recorder {
	if s := ServicesFrom(ctx); s != nil {
		return s.Metrics
	}
	return nil
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.ConfigMgr
	}
	return nil
}

// LoggerFrom extracts the logger from context, falling back to the
// default logger so call sites never nil-check.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
