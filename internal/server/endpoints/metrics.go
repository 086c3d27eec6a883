package endpoints

import (
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/librettohq/libretto/internal/api"
	"github.com/librettohq/libretto/internal/metrics"
	"github.com/librettohq/libretto/internal/svcctx"
)

// UsageResponse aggregates provider spend for a set of pipeline runs.
type UsageResponse struct {
	Summary    *metrics.Summary   `json:"summary"`
	ByProvider map[string]float64 `json:"by_provider"`
	ByStage    map[string]float64 `json:"by_stage"`
}

// UsageEndpoint handles GET /api/v1/metrics/usage.
type UsageEndpoint struct{}

func (e *UsageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/metrics/usage", e.handler
}

func (e *UsageEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		Usage summary
//	@Description	Aggregate recorded provider usage and cost, optionally scoped to one book, stage, or provider
//	@Tags			metrics
//	@Produce		json
//	@Param			book_id		query		string	false	"Filter by book ID"
//	@Param			stage		query		string	false	"Filter by pipeline stage (tts, asr, translate)"
//	@Param			provider	query		string	false	"Filter by provider name"
//	@Success		200			{object}	UsageResponse
//	@Router			/api/v1/metrics/usage [get]
func (e *UsageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := metrics.Filter{
		BookID:   q.Get("book_id"),
		Stage:    q.Get("stage"),
		Provider: q.Get("provider"),
	}

	rec := svcctx.MetricsFrom(r.Context())
	writeJSON(w, http.StatusOK, UsageResponse{
		Summary:    rec.GetSummary(f),
		ByProvider: rec.CostByProvider(f),
		ByStage:    rec.CostByStage(f),
	})
}

func (e *UsageEndpoint) Command(getServerURL func() string) *cobra.Command {
	var bookID, stage, provider string
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show aggregated provider usage and cost",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())

			params := url.Values{}
			if bookID != "" {
				params.Set("book_id", bookID)
			}
			if stage != "" {
				params.Set("stage", stage)
			}
			if provider != "" {
				params.Set("provider", provider)
			}
			path := "/api/v1/metrics/usage"
			if len(params) > 0 {
				path += "?" + params.Encode()
			}

			var usage UsageResponse
			if err := client.Get(ctx, path, &usage); err != nil {
				return err
			}
			return api.Output(usage)
		},
	}
	cmd.Flags().StringVar(&bookID, "book", "", "Filter usage by book ID")
	cmd.Flags().StringVar(&stage, "stage", "", "Filter usage by pipeline stage")
	cmd.Flags().StringVar(&provider, "provider", "", "Filter usage by provider")
	return cmd
}
