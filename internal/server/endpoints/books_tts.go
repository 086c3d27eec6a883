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
	"github.com/librettohq/libretto/internal/source"
	"github.com/librettohq/libretto/internal/svcctx"
	"github.com/librettohq/libretto/internal/types"
)

// TTSRequest asks for a chapter narration.
type TTSRequest struct {
	Voice          string `json:"voice"`
	Lang           string `json:"lang,omitempty"`
	UseTranslation bool   `json:"use_translation,omitempty"`
}

// TTSEndpoint handles POST /api/v1/books/{book_id}/chapters/{index}/tts.
type TTSEndpoint struct{}

func (e *TTSEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/v1/books/{book_id}/chapters/{index}/tts", e.handler
}

func (e *TTSEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		Synthesize chapter narration
//	@Description	Queue synthesis of a chapter with the named voice; progress streams on the returned job
//	@Tags			audio
//	@Accept			json
//	@Produce		json
//	@Param			book_id	path		string		true	"Book ID"
//	@Param			index	path		int			true	"Chapter index"
//	@Param			request	body		TTSRequest	true	"Synthesis parameters"
//	@Success		202		{object}	JobAccepted
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/v1/books/{book_id}/chapters/{index}/tts [post]
func (e *TTSEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	idx, ok := chapterIndex(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid chapter index")
		return
	}

	var req TTSRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Voice == "" {
		writeError(w, http.StatusBadRequest, "voice is required")
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

	voice, err := svcctx.VoicesFrom(ctx).Resolve(ctx, "", req.Voice)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Mirror the synthesis target derivation so the job key serializes
	// the language the audio will actually land on.
	lang := req.Lang
	if lang == "" {
		lang = source.VoiceLocale(voice.ID)
	}
	lang = bookLang(md, lang)

	cfg := svcctx.ConfigFrom(ctx).Get()
	src := svcctx.SourceFrom(ctx)
	opts := source.SynthesizeOptions{
		Provider:       voice.Provider,
		Voice:          voice.ID,
		Language:       req.Lang,
		UseTranslation: req.UseTranslation,
	}

	rec, _, err := svcctx.ControllerFrom(ctx).Submit(jobs.Request{
		Kind: jobs.KindTTS,
		Key:  jobs.ChapterKey(bookID, idx, lang, jobs.ClassSource),
		Fingerprint: blob.FingerprintParts("tts-request",
			bookID, strconv.Itoa(idx), lang,
			voice.Provider, voice.ID, strconv.FormatBool(req.UseTranslation)),
		Timeout: cfg.Pipeline.TTSTimeout(),
		Run: func(ctx context.Context, pub jobs.Publisher) (any, error) {
			o := opts
			o.Progress = func(done, total int) {
				pub.Publish(types.Progress("synthesize",
					fmt.Sprintf("chunk %d/%d", done, total),
					done*100/total))
			}
			res, err := src.Synthesize(ctx, bookID, idx, o)
			if err != nil {
				return nil, err
			}
			return res.Artifact, nil
		},
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, JobAccepted{JobID: rec.ID})
}

func (e *TTSEndpoint) Command(getServerURL func() string) *cobra.Command {
	var voice, lang string
	var useTranslation, wait bool
	cmd := &cobra.Command{
		Use:   "tts <book-id> <chapter>",
		Short: "Synthesize narration for a chapter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			req := TTSRequest{Voice: voice, Lang: lang, UseTranslation: useTranslation}
			var resp JobAccepted
			path := fmt.Sprintf("/api/v1/books/%s/chapters/%s/tts", args[0], args[1])
			if err := client.Post(ctx, path, req, &resp); err != nil {
				return err
			}
			if !wait {
				return api.Output(resp)
			}
			return followJob(ctx, client, resp.JobID)
		},
	}
	cmd.Flags().StringVar(&voice, "voice", "", "Voice ID (required)")
	cmd.Flags().StringVar(&lang, "lang", "", "Target language")
	cmd.Flags().BoolVar(&useTranslation, "use-translation", false, "Narrate the stored translation")
	cmd.Flags().BoolVar(&wait, "wait", false, "Stream progress until the job finishes")
	cmd.MarkFlagRequired("voice")
	return cmd
}

// followJob subscribes to a job's event stream and prints progress
// until the terminal event.
func followJob(ctx context.Context, client *api.Client, jobID string) error {
	fmt.Printf("Job: %s\n", jobID)
	return client.Events(ctx, "GET", "/api/v1/jobs/"+jobID+"/events", nil, func(ev types.Event) {
		switch ev.Event {
		case types.EventProgress:
			if ev.Percent != nil {
				fmt.Printf("  [%3d%%] %s: %s\n", *ev.Percent, ev.Step, ev.Message)
			} else {
				fmt.Printf("  %s: %s\n", ev.Step, ev.Message)
			}
		case types.EventDone:
			fmt.Printf("  done: %s\n", ev.Message)
		case types.EventError:
			fmt.Printf("  error (%s): %s\n", ev.Reason, ev.Message)
		}
	})
}
