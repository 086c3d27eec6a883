package endpoints

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/librettohq/libretto/internal/api"
	"github.com/librettohq/libretto/internal/blob"
	"github.com/librettohq/libretto/internal/jobs"
	"github.com/librettohq/libretto/internal/progress"
	"github.com/librettohq/libretto/internal/svcctx"
	"github.com/librettohq/libretto/internal/types"
)

// TranslateRequest asks for a chapter translation.
type TranslateRequest struct {
	TargetLang string `json:"target_lang"`
}

// TranslateResult rides on the done event of a translation stream.
type TranslateResult struct {
	Language string `json:"language"`
	HTML     string `json:"html"`
}

// TranslateEndpoint handles POST /api/v1/books/{book_id}/chapters/{index}/translate.
// The response is an SSE stream; the terminal done event carries the
// translated HTML.
type TranslateEndpoint struct{}

func (e *TranslateEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/v1/books/{book_id}/chapters/{index}/translate", e.handler
}

func (e *TranslateEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		Translate chapter
//	@Description	Translate a chapter's tokens into the target language, streaming progress as server-sent events
//	@Tags			chapters
//	@Accept			json
//	@Produce		text/event-stream
//	@Param			book_id	path		string				true	"Book ID"
//	@Param			index	path		int					true	"Chapter index"
//	@Param			request	body		TranslateRequest	true	"Translation parameters"
//	@Success		200		{string}	string				"SSE event stream"
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/v1/books/{book_id}/chapters/{index}/translate [post]
func (e *TranslateEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	idx, ok := chapterIndex(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid chapter index")
		return
	}

	var req TranslateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.TargetLang == "" {
		writeError(w, http.StatusBadRequest, "target_lang is required")
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

	cfg := svcctx.ConfigFrom(ctx).Get()
	src := svcctx.SourceFrom(ctx)
	ctrl := svcctx.ControllerFrom(ctx)

	rec, _, err := ctrl.Submit(jobs.Request{
		Kind: jobs.KindTranslate,
		Key:  jobs.ChapterKey(bookID, idx, req.TargetLang, jobs.ClassSource),
		Fingerprint: blob.FingerprintParts("translate-request",
			bookID, strconv.Itoa(idx), req.TargetLang),
		Timeout: cfg.Pipeline.TranslateTimeout(),
		Run: func(ctx context.Context, pub jobs.Publisher) (any, error) {
			tr, err := src.Translate(ctx, bookID, idx, req.TargetLang, func(done, total int) {
				pub.Publish(types.Progress("translate",
					fmt.Sprintf("batch %d/%d", done, total),
					done*100/total))
			})
			if err != nil {
				return nil, err
			}
			return TranslateResult{Language: tr.Language, HTML: tr.HTML}, nil
		},
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	stream, ok := ctrl.Hub().Stream(rec.ID)
	if !ok {
		writeError(w, http.StatusInternalServerError, "job stream not found")
		return
	}
	if err := progress.ServeSSE(w, r, stream); err != nil {
		svcctx.LoggerFrom(ctx).Warn("translate stream aborted", "job_id", rec.ID, "error", err)
	}
}

func (e *TranslateEndpoint) Command(getServerURL func() string) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "translate <book-id> <chapter>",
		Short: "Translate a chapter, streaming progress",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/v1/books/%s/chapters/%s/translate", args[0], args[1])
			req := TranslateRequest{TargetLang: target}
			return client.Events(ctx, "POST", path, req, func(ev types.Event) {
				switch ev.Event {
				case types.EventProgress:
					if ev.Percent != nil {
						fmt.Printf("  [%3d%%] %s\n", *ev.Percent, ev.Message)
					}
				case types.EventDone:
					fmt.Printf("  done: %s\n", ev.Message)
				case types.EventError:
					fmt.Printf("  error (%s): %s\n", ev.Reason, ev.Message)
				}
			})
		},
	}
	cmd.Flags().StringVar(&target, "to", "", "Target language (required)")
	cmd.MarkFlagRequired("to")
	return cmd
}
