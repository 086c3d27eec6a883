package endpoints

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/librettohq/libretto/internal/api"
	"github.com/librettohq/libretto/internal/providers"
	"github.com/librettohq/libretto/internal/svcctx"
	"github.com/librettohq/libretto/internal/whisperd"
)

// HealthResponse is the response for the liveness endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// HealthzEndpoint handles GET /healthz. It answers as soon as the listener
// is up, before the pipeline finishes wiring.
type HealthzEndpoint struct{}

func (e *HealthzEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/healthz", e.handler
}

func (e *HealthzEndpoint) RequiresReady() bool { return false }

// handler godoc
//
//	@Summary		Liveness check
//	@Description	Reports that the HTTP listener is accepting requests
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Router			/healthz [get]
func (e *HealthzEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (e *HealthzEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "healthz",
		Short: "Check server liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(ctx, "/healthz", &resp); err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", resp.Status)
			return nil
		},
	}
}

// StatusResponse is the detailed status response.
type StatusResponse struct {
	Server    string          `json:"server"`
	Providers ProvidersStatus `json:"providers"`
	Whisperd  WhisperdStatus  `json:"whisperd"`
}

// ProvidersStatus lists registered providers per capability.
type ProvidersStatus struct {
	TTS         []string `json:"tts"`
	ASR         []string `json:"asr"`
	Translation []string `json:"translation"`
}

// WhisperdStatus shows the local transcription container state.
type WhisperdStatus struct {
	Container string `json:"container"`
	Health    string `json:"health"`
	URL       string `json:"url"`
}

// StatusEndpoint handles GET /status.
type StatusEndpoint struct {
	// Whisperd is set by the server since the container manager is not
	// part of Services.
	Whisperd *whisperd.Manager
}

func (e *StatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/status", e.handler
}

func (e *StatusEndpoint) RequiresReady() bool { return false }

// handler godoc
//
//	@Summary		Server status
//	@Description	Reports provider registrations and the whisperd container state
//	@Tags			system
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Router			/status [get]
func (e *StatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Server: "ok",
		Providers: ProvidersStatus{
			TTS:         []string{},
			ASR:         []string{},
			Translation: []string{},
		},
	}

	registry := svcctx.RegistryFrom(r.Context())
	if registry != nil {
		resp.Providers.TTS = registry.ListTTS()
		resp.Providers.ASR = registry.ListASR()
		resp.Providers.Translation = registry.ListChat()
	}

	if e.Whisperd != nil {
		status, err := e.Whisperd.Status(r.Context())
		if err != nil {
			resp.Whisperd.Container = "error"
		} else {
			resp.Whisperd.Container = string(status)
		}
		resp.Whisperd.URL = e.Whisperd.URL()
		resp.Whisperd.Health = whisperdHealth(r.Context(), registry)
	} else {
		resp.Whisperd.Container = "disabled"
	}

	writeJSON(w, http.StatusOK, resp)
}

// whisperdHealth probes the registered whisperd client if there is one.
func whisperdHealth(ctx context.Context, registry *providers.Registry) string {
	if registry == nil {
		return "not_registered"
	}
	asr, err := registry.GetASR(providers.WhisperdName)
	if err != nil {
		return "not_registered"
	}
	checker, ok := asr.(interface{ HealthCheck(context.Context) error })
	if !ok {
		return "unknown"
	}
	if err := checker.HealthCheck(ctx); err != nil {
		return "unhealthy"
	}
	return "healthy"
}

func (e *StatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get detailed server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var resp StatusResponse
			if err := client.Get(ctx, "/status", &resp); err != nil {
				return err
			}
			fmt.Printf("Server: %s\n", resp.Server)
			fmt.Printf("Whisperd:\n")
			fmt.Printf("  Container: %s\n", resp.Whisperd.Container)
			fmt.Printf("  Health:    %s\n", resp.Whisperd.Health)
			fmt.Printf("  URL:       %s\n", resp.Whisperd.URL)
			fmt.Printf("Providers:\n")
			fmt.Printf("  TTS:         %v\n", resp.Providers.TTS)
			fmt.Printf("  ASR:         %v\n", resp.Providers.ASR)
			fmt.Printf("  Translation: %v\n", resp.Providers.Translation)
			return nil
		},
	}
}
