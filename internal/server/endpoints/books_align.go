package endpoints

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/librettohq/libretto/internal/align"
	"github.com/librettohq/libretto/internal/api"
	"github.com/librettohq/libretto/internal/blob"
	"github.com/librettohq/libretto/internal/jobs"
	"github.com/librettohq/libretto/internal/svcctx"
)

// AlignRequest asks for forced alignment of a chapter's audio.
type AlignRequest struct {
	Mode   string `json:"mode,omitempty"`
	Engine string `json:"engine,omitempty"`
	Lang   string `json:"lang,omitempty"`
}

// AlignEndpoint handles POST /api/v1/books/{book_id}/chapters/{index}/align.
type AlignEndpoint struct{}

func (e *AlignEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/v1/books/{book_id}/chapters/{index}/align", e.handler
}

func (e *AlignEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		Align chapter audio
//	@Description	Queue word-level alignment of the chapter's canonical audio against its tokens
//	@Tags			audio
//	@Accept			json
//	@Produce		json
//	@Param			book_id	path		string			true	"Book ID"
//	@Param			index	path		int				true	"Chapter index"
//	@Param			request	body		AlignRequest	false	"Alignment parameters"
//	@Success		202		{object}	JobAccepted
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/v1/books/{book_id}/chapters/{index}/align [post]
func (e *AlignEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	idx, ok := chapterIndex(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid chapter index")
		return
	}

	var req AlignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	ctx := r.Context()
	md, err := svcctx.MetaFrom(ctx).Load(bookID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if idx >= len(md.Book.Chapters) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("chapter %d not found", idx))
		return
	}
	lang := bookLang(md, req.Lang)

	cfg := svcctx.ConfigFrom(ctx).Get()
	aligner := svcctx.AlignFrom(ctx)

	rec, _, err := svcctx.ControllerFrom(ctx).Submit(jobs.Request{
		Kind: jobs.KindAlign,
		Key:  jobs.ChapterKey(bookID, idx, lang, jobs.ClassAlign),
		Fingerprint: blob.FingerprintParts("align-request",
			bookID, strconv.Itoa(idx), lang, req.Engine, req.Mode),
		Timeout: cfg.Pipeline.AlignTimeout(),
		Run: func(ctx context.Context, pub jobs.Publisher) (any, error) {
			res, err := aligner.AlignChapter(ctx, bookID, idx, lang, align.Options{
				Mode:    req.Mode,
				Backend: req.Engine,
			})
			if err != nil {
				return nil, err
			}
			return res.Table, nil
		},
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, JobAccepted{JobID: rec.ID})
}

func (e *AlignEndpoint) Command(getServerURL func() string) *cobra.Command {
	var mode, engine, lang string
	var wait bool
	cmd := &cobra.Command{
		Use:   "align <book-id> <chapter>",
		Short: "Align chapter audio to its words",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			req := AlignRequest{Mode: mode, Engine: engine, Lang: lang}
			var resp JobAccepted
			path := fmt.Sprintf("/api/v1/books/%s/chapters/%s/align", args[0], args[1])
			if err := client.Post(ctx, path, req, &resp); err != nil {
				return err
			}
			if !wait {
				return api.Output(resp)
			}
			return followJob(ctx, client, resp.JobID)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "word", "Alignment granularity")
	cmd.Flags().StringVar(&engine, "engine", "", "Backend: boundary, asr, dtw or auto")
	cmd.Flags().StringVar(&lang, "lang", "", "Audio language")
	cmd.Flags().BoolVar(&wait, "wait", false, "Stream progress until the job finishes")
	return cmd
}
