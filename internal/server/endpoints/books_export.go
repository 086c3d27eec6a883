package endpoints

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/librettohq/libretto/internal/api"
	"github.com/librettohq/libretto/internal/epub"
	"github.com/librettohq/libretto/internal/jobs"
	"github.com/librettohq/libretto/internal/svcctx"
	"github.com/librettohq/libretto/internal/types"
)

// ExportEndpoint handles GET /api/v1/books/{book_id}/export.
type ExportEndpoint struct{}

func (e *ExportEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/books/{book_id}/export", e.handler
}

func (e *ExportEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		Export book
//	@Description	Build and download an EPUB 3 with media overlays for every aligned chapter
//	@Tags			books
//	@Produce		application/epub+zip
//	@Param			book_id	path		string	true	"Book ID"
//	@Param			lang	query		string	false	"Audio language"
//	@Success		200		{file}		file
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/api/v1/books/{book_id}/export [get]
func (e *ExportEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	lang := r.URL.Query().Get("lang")

	ctx := r.Context()
	md, err := svcctx.MetaFrom(ctx).Load(bookID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	exporter := svcctx.ExporterFrom(ctx)
	_, payload, err := svcctx.ControllerFrom(ctx).RunSync(ctx, jobs.Request{
		Kind: jobs.KindExport,
		Key:  jobs.BookKey(bookID, jobs.ClassExport),
		Run: func(ctx context.Context, pub jobs.Publisher) (any, error) {
			return exporter.Export(ctx, bookID, epub.ExportOptions{
				Language: lang,
				Progress: func(done, total int) {
					pub.Publish(types.Progress("export",
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

	data, ok := payload.([]byte)
	if !ok {
		writeError(w, http.StatusInternalServerError, "unexpected export payload")
		return
	}

	filename := sanitizeFilename(md.Book.Title)
	if filename == "" {
		filename = bookID
	}
	w.Header().Set("Content-Type", "application/epub+zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.epub"`, filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (e *ExportEndpoint) Command(getServerURL func() string) *cobra.Command {
	var lang, outputPath string
	cmd := &cobra.Command{
		Use:   "export <book-id>",
		Short: "Export a book as EPUB 3 with media overlays",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			path := "/api/v1/books/" + args[0] + "/export"
			if lang != "" {
				path += "?lang=" + url.QueryEscape(lang)
			}

			tmp, err := os.CreateTemp(".", "libretto-export-*.epub")
			if err != nil {
				return fmt.Errorf("failed to create file: %w", err)
			}
			defer tmp.Close()

			filename, err := client.Download(ctx, path, tmp)
			if err != nil {
				os.Remove(tmp.Name())
				return err
			}
			if outputPath == "" {
				outputPath = filename
				if outputPath == "" {
					outputPath = args[0] + ".epub"
				}
			}
			if err := os.Rename(tmp.Name(), outputPath); err != nil {
				return fmt.Errorf("failed to move file: %w", err)
			}
			fmt.Printf("Exported to: %s\n", outputPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "Audio language")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path")
	return cmd
}

// sanitizeFilename strips characters that break content-disposition
// filenames or filesystems.
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	name = replacer.Replace(name)
	name = strings.Trim(name, " .")
	if len(name) > 100 {
		name = name[:100]
	}
	return name
}
