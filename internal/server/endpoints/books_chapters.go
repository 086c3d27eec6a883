package endpoints

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/librettohq/libretto/internal/api"
	"github.com/librettohq/libretto/internal/svcctx"
	"github.com/librettohq/libretto/internal/types"
)

// ChapterHTMLResponse carries one chapter's tokenized document.
type ChapterHTMLResponse struct {
	HTML    string        `json:"html"`
	Chapter types.Chapter `json:"chapter"`
}

// ChapterHTMLEndpoint handles GET /api/v1/books/{book_id}/chapters/{index}/html.
type ChapterHTMLEndpoint struct{}

func (e *ChapterHTMLEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/books/{book_id}/chapters/{index}/html", e.handler
}

func (e *ChapterHTMLEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		Get chapter HTML
//	@Description	Get a chapter's normalized tokenized HTML, or a stored translation of it
//	@Tags			chapters
//	@Produce		json
//	@Param			book_id	path		string	true	"Book ID"
//	@Param			index	path		int		true	"Chapter index"
//	@Param			lang	query		string	false	"Translation language"
//	@Success		200		{object}	ChapterHTMLResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/v1/books/{book_id}/chapters/{index}/html [get]
func (e *ChapterHTMLEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	idx, ok := chapterIndex(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid chapter index")
		return
	}

	ctx := r.Context()
	blobs := svcctx.BlobsFrom(ctx)
	md, err := svcctx.MetaFrom(ctx).Load(bookID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if idx >= len(md.Book.Chapters) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("chapter %d not found", idx))
		return
	}

	resp := ChapterHTMLResponse{Chapter: md.Book.Chapters[idx]}

	lang := r.URL.Query().Get("lang")
	if lang != "" && lang != md.Book.Language {
		var tr types.Translation
		if err := blobs.ReadJSON(blobs.TranslationPath(bookID, lang, idx), &tr); err != nil {
			writeDomainError(w, err)
			return
		}
		resp.HTML = tr.HTML
	} else {
		doc, err := blobs.ReadFile(blobs.ChapterHTML(bookID, idx))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp.HTML = string(doc)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *ChapterHTMLEndpoint) Command(getServerURL func() string) *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "html <book-id> <chapter>",
		Short: "Get a chapter's tokenized HTML",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/v1/books/%s/chapters/%s/html", args[0], args[1])
			if lang != "" {
				path += "?lang=" + url.QueryEscape(lang)
			}
			var resp ChapterHTMLResponse
			if err := client.Get(ctx, path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "Translation language")
	return cmd
}

// ChapterSyncEndpoint handles GET /api/v1/books/{book_id}/chapters/{index}/sync.
type ChapterSyncEndpoint struct{}

func (e *ChapterSyncEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/books/{book_id}/chapters/{index}/sync", e.handler
}

func (e *ChapterSyncEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		Get sync table
//	@Description	Get the word-level audio sync table for a chapter
//	@Tags			chapters
//	@Produce		json
//	@Param			book_id	path		string	true	"Book ID"
//	@Param			index	path		int		true	"Chapter index"
//	@Param			lang	query		string	false	"Audio language"
//	@Success		200		{object}	types.SyncTable
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/v1/books/{book_id}/chapters/{index}/sync [get]
func (e *ChapterSyncEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	idx, ok := chapterIndex(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid chapter index")
		return
	}

	ctx := r.Context()
	blobs := svcctx.BlobsFrom(ctx)
	md, err := svcctx.MetaFrom(ctx).Load(bookID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	lang := bookLang(md, r.URL.Query().Get("lang"))

	var table types.SyncTable
	if err := blobs.ReadJSON(blobs.SyncPath(bookID, lang, idx), &table); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func (e *ChapterSyncEndpoint) Command(getServerURL func() string) *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "sync <book-id> <chapter>",
		Short: "Get a chapter's sync table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/v1/books/%s/chapters/%s/sync", args[0], args[1])
			if lang != "" {
				path += "?lang=" + url.QueryEscape(lang)
			}
			var table types.SyncTable
			if err := client.Get(ctx, path, &table); err != nil {
				return err
			}
			return api.Output(table)
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "Audio language")
	return cmd
}
