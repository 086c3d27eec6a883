package endpoints

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/librettohq/libretto/internal/api"
	"github.com/librettohq/libretto/internal/edit"
	"github.com/librettohq/libretto/internal/jobs"
	"github.com/librettohq/libretto/internal/svcctx"
	"github.com/librettohq/libretto/internal/types"
)

// TrimRequest describes one audio cut: a time range, or the spans of
// the named word ids. skip_word_ids wins when both are present.
type TrimRequest struct {
	TrimStart   *float64 `json:"trim_start,omitempty"`
	TrimEnd     *float64 `json:"trim_end,omitempty"`
	SkipWordIDs []string `json:"skip_word_ids,omitempty"`
}

// TrimResponse reports the audio state after a cut.
type TrimResponse struct {
	Duration  float64          `json:"duration"`
	SyncTable *types.SyncTable `json:"sync_table,omitempty"`
}

// TrimEndpoint handles POST /api/v1/books/{book_id}/chapters/{index}/trim.
type TrimEndpoint struct{}

func (e *TrimEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/v1/books/{book_id}/chapters/{index}/trim", e.handler
}

func (e *TrimEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		Trim chapter audio
//	@Description	Cut a time range or the spans of named words from the canonical audio, rewriting the sync table
//	@Tags			audio
//	@Accept			json
//	@Produce		json
//	@Param			book_id	path		string		true	"Book ID"
//	@Param			index	path		int			true	"Chapter index"
//	@Param			lang	query		string		false	"Audio language"
//	@Param			request	body		TrimRequest	true	"Cut parameters"
//	@Success		200		{object}	TrimResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		422		{object}	ErrorResponse
//	@Router			/api/v1/books/{book_id}/chapters/{index}/trim [post]
func (e *TrimEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	idx, ok := chapterIndex(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid chapter index")
		return
	}

	var req TrimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.SkipWordIDs) == 0 && (req.TrimStart == nil || req.TrimEnd == nil) {
		writeError(w, http.StatusBadRequest, "either skip_word_ids or both trim_start and trim_end are required")
		return
	}

	ctx := r.Context()
	md, err := svcctx.MetaFrom(ctx).Load(bookID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	lang := bookLang(md, r.URL.Query().Get("lang"))

	editor := svcctx.EditorFrom(ctx)
	_, payload, err := svcctx.ControllerFrom(ctx).RunSync(ctx, jobs.Request{
		Kind: jobs.KindEdit,
		Key:  jobs.ChapterKey(bookID, idx, lang, jobs.ClassEdit),
		Run: func(ctx context.Context, pub jobs.Publisher) (any, error) {
			if len(req.SkipWordIDs) > 0 {
				return editor.SkipCut(ctx, bookID, idx, lang, req.SkipWordIDs)
			}
			return editor.RangeCut(ctx, bookID, idx, lang, *req.TrimStart, *req.TrimEnd)
		},
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	res, ok := payload.(*edit.Result)
	if !ok {
		writeError(w, http.StatusInternalServerError, "unexpected edit payload")
		return
	}
	writeJSON(w, http.StatusOK, TrimResponse{
		Duration:  res.Artifact.CanonicalDuration,
		SyncTable: res.Sync,
	})
}

func (e *TrimEndpoint) Command(getServerURL func() string) *cobra.Command {
	var lang string
	var start, end float64
	var skipIDs []string
	cmd := &cobra.Command{
		Use:   "trim <book-id> <chapter>",
		Short: "Cut a range or skipped words from chapter audio",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())

			var req TrimRequest
			if len(skipIDs) > 0 {
				req.SkipWordIDs = skipIDs
			} else {
				if !cmd.Flags().Changed("start") || !cmd.Flags().Changed("end") {
					return fmt.Errorf("either --skip or both --start and --end are required")
				}
				req.TrimStart = &start
				req.TrimEnd = &end
			}

			path := fmt.Sprintf("/api/v1/books/%s/chapters/%s/trim", args[0], args[1])
			if lang != "" {
				path += "?lang=" + url.QueryEscape(lang)
			}
			var resp TrimResponse
			if err := client.Post(ctx, path, req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "Audio language")
	cmd.Flags().Float64Var(&start, "start", 0, "Cut start in seconds")
	cmd.Flags().Float64Var(&end, "end", 0, "Cut end in seconds")
	cmd.Flags().StringSliceVar(&skipIDs, "skip", nil, "Word ids to cut (w12,w13,...)")
	return cmd
}

// RestoreResponse reports the audio state after a restore.
type RestoreResponse struct {
	Duration float64 `json:"duration"`
}

// RestoreEndpoint handles POST /api/v1/books/{book_id}/chapters/{index}/restore.
type RestoreEndpoint struct{}

func (e *RestoreEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/v1/books/{book_id}/chapters/{index}/restore", e.handler
}

func (e *RestoreEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		Restore chapter audio
//	@Description	Replace the canonical audio with the untouched source copy, discarding every edit
//	@Tags			audio
//	@Produce		json
//	@Param			book_id	path		string	true	"Book ID"
//	@Param			index	path		int		true	"Chapter index"
//	@Param			lang	query		string	false	"Audio language"
//	@Success		200		{object}	RestoreResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/api/v1/books/{book_id}/chapters/{index}/restore [post]
func (e *RestoreEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	idx, ok := chapterIndex(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid chapter index")
		return
	}

	ctx := r.Context()
	md, err := svcctx.MetaFrom(ctx).Load(bookID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	lang := bookLang(md, r.URL.Query().Get("lang"))

	src := svcctx.SourceFrom(ctx)
	_, payload, err := svcctx.ControllerFrom(ctx).RunSync(ctx, jobs.Request{
		Kind: jobs.KindEdit,
		Key:  jobs.ChapterKey(bookID, idx, lang, jobs.ClassEdit),
		Run: func(ctx context.Context, pub jobs.Publisher) (any, error) {
			return src.Restore(ctx, bookID, idx, lang)
		},
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	art, ok := payload.(*types.AudioArtifact)
	if !ok {
		writeError(w, http.StatusInternalServerError, "unexpected restore payload")
		return
	}
	writeJSON(w, http.StatusOK, RestoreResponse{Duration: art.CanonicalDuration})
}

func (e *RestoreEndpoint) Command(getServerURL func() string) *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "restore <book-id> <chapter>",
		Short: "Restore chapter audio from its source copy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/v1/books/%s/chapters/%s/restore", args[0], args[1])
			if lang != "" {
				path += "?lang=" + url.QueryEscape(lang)
			}
			var resp RestoreResponse
			if err := client.Post(ctx, path, nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "Audio language")
	return cmd
}
