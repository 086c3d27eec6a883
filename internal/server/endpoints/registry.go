package endpoints

import (
	"github.com/librettohq/libretto/internal/api"
	"github.com/librettohq/libretto/internal/whisperd"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	Whisperd        *whisperd.Manager
	SwaggerSpecPath string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthzEndpoint{},
		&StatusEndpoint{Whisperd: cfg.Whisperd},

		// Book endpoints
		&UploadBookEndpoint{},
		&ListBooksEndpoint{},
		&GetBookEndpoint{},
		&DeleteBookEndpoint{},
		&ExportEndpoint{},

		// Chapter content endpoints
		&ChapterHTMLEndpoint{},
		&ChapterSyncEndpoint{},

		// Chapter audio endpoints
		&AudioInfoEndpoint{},
		&AudioStreamEndpoint{},
		&UploadAudioEndpoint{},
		&TTSEndpoint{},
		&AlignEndpoint{},
		&TrimEndpoint{},
		&RestoreEndpoint{},
		&TranslateEndpoint{},

		// Job endpoints
		&ListJobsEndpoint{},
		&GetJobEndpoint{},
		&CancelJobEndpoint{},
		&JobEventsEndpoint{},
		&JobWSEndpoint{},

		// Voice endpoints
		&ListVoicesEndpoint{},

		// Metrics endpoints
		&UsageEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{SpecPath: cfg.SwaggerSpecPath},
		&SwaggerUIEndpoint{},

		// Normalized asset files
		&AssetEndpoint{},
	}
}

// BookCommands returns the endpoints grouped under "books" in the CLI.
func BookCommands() []api.Endpoint {
	return []api.Endpoint{
		&UploadBookEndpoint{},
		&ListBooksEndpoint{},
		&GetBookEndpoint{},
		&DeleteBookEndpoint{},
		&ExportEndpoint{},
		&ChapterHTMLEndpoint{},
		&ChapterSyncEndpoint{},
		&AudioInfoEndpoint{},
		&AudioStreamEndpoint{},
		&UploadAudioEndpoint{},
		&TTSEndpoint{},
		&AlignEndpoint{},
		&TrimEndpoint{},
		&RestoreEndpoint{},
		&TranslateEndpoint{},
	}
}

// JobCommands returns the endpoints grouped under "jobs" in the CLI.
func JobCommands() []api.Endpoint {
	return []api.Endpoint{
		&ListJobsEndpoint{},
		&GetJobEndpoint{},
		&CancelJobEndpoint{},
		&JobEventsEndpoint{},
	}
}
