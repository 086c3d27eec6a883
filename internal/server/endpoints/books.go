package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/librettohq/libretto/internal/api"
	"github.com/librettohq/libretto/internal/svcctx"
	"github.com/librettohq/libretto/internal/types"
)

// ListBooksEndpoint handles GET /api/v1/books.
type ListBooksEndpoint struct{}

func (e *ListBooksEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/books", e.handler
}

func (e *ListBooksEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		List books
//	@Description	List every stored book with chapters and metadata
//	@Tags			books
//	@Produce		json
//	@Success		200	{array}		types.Book
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/v1/books [get]
func (e *ListBooksEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	books, err := svcctx.IngestFrom(r.Context()).List()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if books == nil {
		books = []types.Book{}
	}
	writeJSON(w, http.StatusOK, books)
}

func (e *ListBooksEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all books",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var books []types.Book
			if err := client.Get(ctx, "/api/v1/books", &books); err != nil {
				return err
			}
			if len(books) == 0 {
				fmt.Println("No books found")
				return nil
			}
			for _, b := range books {
				fmt.Printf("%s  %-40s  %s  %d chapters\n", b.ID, b.Title, b.Language, len(b.Chapters))
			}
			return nil
		},
	}
}

// GetBookEndpoint handles GET /api/v1/books/{book_id}.
type GetBookEndpoint struct{}

func (e *GetBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/books/{book_id}", e.handler
}

func (e *GetBookEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		Get book
//	@Description	Get one book with its table of contents and chapter list
//	@Tags			books
//	@Produce		json
//	@Param			book_id	path		string	true	"Book ID"
//	@Success		200		{object}	types.Book
//	@Failure		404		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/v1/books/{book_id} [get]
func (e *GetBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	md, err := svcctx.MetaFrom(r.Context()).Load(r.PathValue("book_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, md.Book)
}

func (e *GetBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <book-id>",
		Short: "Get a book by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var book types.Book
			if err := client.Get(ctx, "/api/v1/books/"+args[0], &book); err != nil {
				return err
			}
			return api.Output(book)
		},
	}
}

// DeleteBookEndpoint handles DELETE /api/v1/books/{book_id}.
type DeleteBookEndpoint struct{}

func (e *DeleteBookEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/v1/books/{book_id}", e.handler
}

func (e *DeleteBookEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		Delete book
//	@Description	Delete a book and every artifact stored under it
//	@Tags			books
//	@Param			book_id	path	string	true	"Book ID"
//	@Success		204
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/v1/books/{book_id} [delete]
func (e *DeleteBookEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	if err := svcctx.IngestFrom(r.Context()).Delete(r.PathValue("book_id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (e *DeleteBookEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <book-id>",
		Short: "Delete a book and all its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			if err := client.Delete(ctx, "/api/v1/books/"+args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}
