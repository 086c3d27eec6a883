package endpoints

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/librettohq/libretto/internal/api"
	"github.com/librettohq/libretto/internal/blob"
	"github.com/librettohq/libretto/internal/jobs"
	"github.com/librettohq/libretto/internal/svcctx"
	"github.com/librettohq/libretto/internal/types"
)

// AudioInfoResponse describes a chapter's canonical audio.
type AudioInfoResponse struct {
	URL      string  `json:"url"`
	Duration float64 `json:"duration"`
	Source   string  `json:"source"`
	Voice    string  `json:"voice,omitempty"`
	Format   string  `json:"format"`
}

// AudioInfoEndpoint handles GET /api/v1/books/{book_id}/chapters/{index}/audio.
type AudioInfoEndpoint struct{}

func (e *AudioInfoEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/books/{book_id}/chapters/{index}/audio", e.handler
}

func (e *AudioInfoEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		Get chapter audio info
//	@Description	Get the canonical audio descriptor for a chapter
//	@Tags			audio
//	@Produce		json
//	@Param			book_id	path		string	true	"Book ID"
//	@Param			index	path		int		true	"Chapter index"
//	@Param			lang	query		string	false	"Audio language"
//	@Success		200		{object}	AudioInfoResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/v1/books/{book_id}/chapters/{index}/audio [get]
func (e *AudioInfoEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	idx, ok := chapterIndex(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid chapter index")
		return
	}

	md, err := svcctx.MetaFrom(r.Context()).Load(bookID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	lang := bookLang(md, r.URL.Query().Get("lang"))

	art, ok := md.FindAudio(lang, idx)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no audio for chapter %d (%s)", idx, lang))
		return
	}

	writeJSON(w, http.StatusOK, AudioInfoResponse{
		URL: fmt.Sprintf("/api/v1/books/%s/chapters/%d/audio/stream?lang=%s",
			bookID, idx, url.QueryEscape(lang)),
		Duration: art.CanonicalDuration,
		Source:   string(art.Source),
		Voice:    art.Voice,
		Format:   art.Format,
	})
}

func (e *AudioInfoEndpoint) Command(getServerURL func() string) *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "audio <book-id> <chapter>",
		Short: "Get chapter audio info",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/v1/books/%s/chapters/%s/audio", args[0], args[1])
			if lang != "" {
				path += "?lang=" + url.QueryEscape(lang)
			}
			var resp AudioInfoResponse
			if err := client.Get(ctx, path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "Audio language")
	return cmd
}

// audioContentTypes maps canonical audio extensions to media types.
// Range serving needs an explicit type; the host mime table may not
// know every container.
var audioContentTypes = map[string]string{
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"m4b":  "audio/mp4",
	"aac":  "audio/aac",
	"wav":  "audio/wav",
	"flac": "audio/flac",
	"ogg":  "audio/ogg",
	"opus": "audio/ogg",
}

// AudioStreamEndpoint handles GET /api/v1/books/{book_id}/chapters/{index}/audio/stream.
type AudioStreamEndpoint struct{}

func (e *AudioStreamEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/books/{book_id}/chapters/{index}/audio/stream", e.handler
}

func (e *AudioStreamEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		Stream chapter audio
//	@Description	Stream the canonical audio bytes, honoring Range requests
//	@Tags			audio
//	@Produce		audio/mpeg
//	@Param			book_id	path		string	true	"Book ID"
//	@Param			index	path		int		true	"Chapter index"
//	@Param			lang	query		string	false	"Audio language"
//	@Success		200		{file}		file
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/v1/books/{book_id}/chapters/{index}/audio/stream [get]
func (e *AudioStreamEndpoint) handler(w http.ResponseWriter, r *http.Request) {
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

	path, ext, err := blobs.FindCanonicalAudio(bookID, lang, idx)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if ct, ok := audioContentTypes[ext]; ok {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeFile(w, r, path)
}

func (e *AudioStreamEndpoint) Command(getServerURL func() string) *cobra.Command {
	var lang, outputPath string
	cmd := &cobra.Command{
		Use:   "audio-download <book-id> <chapter>",
		Short: "Download chapter audio to a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/v1/books/%s/chapters/%s/audio/stream", args[0], args[1])
			if lang != "" {
				path += "?lang=" + url.QueryEscape(lang)
			}

			if outputPath == "" {
				outputPath = fmt.Sprintf("%s-chapter%s.mp3", args[0], args[1])
			}
			f, err := os.Create(outputPath)
			if err != nil {
				return fmt.Errorf("failed to create file: %w", err)
			}
			defer f.Close()

			if _, err := client.Download(ctx, path, f); err != nil {
				return err
			}
			fmt.Printf("Downloaded to: %s\n", outputPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "Audio language")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path")
	return cmd
}

// UploadAudioEndpoint handles POST /api/v1/books/{book_id}/chapters/{index}/audio.
type UploadAudioEndpoint struct{}

func (e *UploadAudioEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/v1/books/{book_id}/chapters/{index}/audio", e.handler
}

func (e *UploadAudioEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		Upload chapter audio
//	@Description	Upload narration audio for a chapter; it is transcoded to the canonical encoding and replaces any prior audio for the language
//	@Tags			audio
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			book_id	path		string	true	"Book ID"
//	@Param			index	path		int		true	"Chapter index"
//	@Param			audio	formData	file	true	"Audio file"
//	@Param			lang	formData	string	false	"Audio language"
//	@Success		200		{object}	types.AudioArtifact
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Router			/api/v1/books/{book_id}/chapters/{index}/audio [post]
func (e *UploadAudioEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	idx, ok := chapterIndex(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid chapter index")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing audio file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}

	ctx := r.Context()
	md, err := svcctx.MetaFrom(ctx).Load(bookID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	lang := bookLang(md, r.FormValue("lang"))

	src := svcctx.SourceFrom(ctx)
	_, payload, err := svcctx.ControllerFrom(ctx).RunSync(ctx, jobs.Request{
		Kind:        jobs.KindUpload,
		Key:         jobs.ChapterKey(bookID, idx, lang, jobs.ClassSource),
		Fingerprint: blob.Fingerprint(data),
		Run: func(ctx context.Context, pub jobs.Publisher) (any, error) {
			res, err := src.Upload(ctx, bookID, idx, lang, data)
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

	art, ok := payload.(*types.AudioArtifact)
	if !ok {
		writeError(w, http.StatusInternalServerError, "unexpected upload payload")
		return
	}
	writeJSON(w, http.StatusOK, art)
}

func (e *UploadAudioEndpoint) Command(getServerURL func() string) *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "audio-upload <book-id> <chapter> <file>",
		Short: "Upload narration audio for a chapter",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			path := fmt.Sprintf("/api/v1/books/%s/chapters/%s/audio", args[0], args[1])
			fields := map[string]string{}
			if lang != "" {
				fields["lang"] = lang
			}
			var art types.AudioArtifact
			if err := client.Upload(ctx, path, "audio", args[2], fields, &art); err != nil {
				return err
			}
			return api.Output(art)
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "Audio language")
	return cmd
}
