package endpoints

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/librettohq/libretto/internal/api"
	"github.com/librettohq/libretto/internal/blob"
	"github.com/librettohq/libretto/internal/ingest"
	"github.com/librettohq/libretto/internal/jobs"
	"github.com/librettohq/libretto/internal/svcctx"
	"github.com/librettohq/libretto/internal/types"
)

// maxUploadBytes caps multipart request bodies. EPUBs with embedded
// media run large; audio uploads larger still.
const maxUploadBytes = 512 << 20

// UploadBookEndpoint handles POST /api/v1/books.
type UploadBookEndpoint struct{}

func (e *UploadBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/v1/books", e.handler
}

func (e *UploadBookEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		Upload book
//	@Description	Ingest an EPUB file into a new book
//	@Tags			books
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			epub	formData	file	true	"EPUB file"
//	@Success		201		{object}	types.Book
//	@Failure		400		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/v1/books [post]
func (e *UploadBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	file, _, err := r.FormFile("epub")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing epub file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}

	ctx := r.Context()
	ing := svcctx.IngestFrom(ctx)
	ctrl := svcctx.ControllerFrom(ctx)

	// Keyed on the upload's content hash so two concurrent uploads of
	// the same file contend instead of racing.
	_, payload, err := ctrl.RunSync(ctx, jobs.Request{
		Kind:        jobs.KindIngest,
		Key:         jobs.BookKey(blob.Fingerprint(data), jobs.ClassIngest),
		Fingerprint: blob.Fingerprint(data),
		Run: func(ctx context.Context, pub jobs.Publisher) (any, error) {
			return ing.Ingest(ctx, data, ingest.Options{
				Progress: func(done, total int) {
					pub.Publish(types.Progress("normalize",
						fmt.Sprintf("chapter %d/%d", done, total),
						done*100/total))
				},
			})
		},
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	book, ok := payload.(*types.Book)
	if !ok {
		writeError(w, http.StatusInternalServerError, "unexpected ingest payload")
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (e *UploadBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file.epub>",
		Short: "Upload an EPUB and ingest it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var book types.Book
			if err := client.Upload(ctx, "/api/v1/books", "epub", args[0], nil, &book); err != nil {
				return err
			}
			return api.Output(book)
		},
	}
}
