package endpoints

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/librettohq/libretto/internal/api"
	"github.com/librettohq/libretto/internal/svcctx"
	"github.com/librettohq/libretto/internal/voices"
)

// ListVoicesEndpoint handles GET /api/v1/voices.
type ListVoicesEndpoint struct{}

func (e *ListVoicesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/voices", e.handler
}

func (e *ListVoicesEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		List voices
//	@Description	List synthesis voices across all configured TTS providers, optionally filtered by language
//	@Tags			voices
//	@Produce		json
//	@Param			lang	query		string	false	"Filter by BCP 47 language tag"
//	@Success		200		{array}		voices.Voice
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/v1/voices [get]
func (e *ListVoicesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	catalog := svcctx.VoicesFrom(ctx)

	list, err := catalog.List(ctx, r.URL.Query().Get("lang"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if list == nil {
		list = []voices.Voice{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (e *ListVoicesEndpoint) Command(getServerURL func() string) *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available synthesis voices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())

			path := "/api/v1/voices"
			if lang != "" {
				path += "?lang=" + url.QueryEscape(lang)
			}
			var list []voices.Voice
			if err := client.Get(ctx, path, &list); err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No voices available")
				return nil
			}
			fmt.Printf("%-28s %-10s %-12s %s\n", "VOICE", "LANG", "PROVIDER", "NAME")
			for _, v := range list {
				name := v.Name
				if v.Default {
					name += " (default)"
				}
				fmt.Printf("%-28s %-10s %-12s %s\n", v.ID, v.Language, v.Provider, name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "Filter voices by language tag")
	return cmd
}
