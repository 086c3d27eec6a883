package endpoints

import (
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/librettohq/libretto/internal/blob"
	"github.com/librettohq/libretto/internal/svcctx"
)

// AssetEndpoint serves normalized book assets (images, stylesheets,
// fonts) referenced by chapter HTML.
type AssetEndpoint struct{}

func (e *AssetEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", blob.AssetURLPrefix + "/{book_id}/assets/{asset...}", e.handler
}

func (e *AssetEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		Get book asset
//	@Description	Serve an image, stylesheet, or font extracted from the book's source EPUB
//	@Tags			books
//	@Param			book_id	path		string	true	"Book ID"
//	@Param			asset	path		string	true	"Asset path relative to the book's asset directory"
//	@Success		200		{file}		binary
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/storage/books/{book_id}/assets/{asset} [get]
func (e *AssetEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	blobs := svcctx.BlobsFrom(r.Context())

	path, err := blobs.AssetPath(r.PathValue("book_id"), r.PathValue("asset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "asset not found")
		return
	}
	http.ServeFile(w, r, path)
}

func (e *AssetEndpoint) Command(getServerURL func() string) *cobra.Command {
	return nil
}
