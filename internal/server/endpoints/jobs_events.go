package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/librettohq/libretto/internal/api"
	"github.com/librettohq/libretto/internal/progress"
	"github.com/librettohq/libretto/internal/svcctx"
)

// JobEventsEndpoint handles GET /api/v1/jobs/{job_id}/events.
type JobEventsEndpoint struct{}

func (e *JobEventsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/jobs/{job_id}/events", e.handler
}

func (e *JobEventsEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		Stream job events
//	@Description	Stream a job's progress events as server-sent events; subscribers joining after completion get the terminal event
//	@Tags			jobs
//	@Produce		text/event-stream
//	@Param			job_id	path		string	true	"Job ID"
//	@Success		200		{string}	string	"SSE event stream"
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/v1/jobs/{job_id}/events [get]
func (e *JobEventsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("job_id")
	ctx := r.Context()

	ctrl := svcctx.ControllerFrom(ctx)
	if _, ok := ctrl.Get(id); !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", id))
		return
	}
	stream, ok := ctrl.Hub().Stream(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("job %s has no event stream", id))
		return
	}

	if err := progress.ServeSSE(w, r, stream); err != nil {
		svcctx.LoggerFrom(ctx).Warn("event stream aborted", "job_id", id, "error", err)
	}
}

func (e *JobEventsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "follow <job-id>",
		Short: "Stream a job's progress events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			return followJob(ctx, client, args[0])
		},
	}
}

// JobWSEndpoint handles GET /api/v1/jobs/{job_id}/ws.
type JobWSEndpoint struct{}

func (e *JobWSEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/jobs/{job_id}/ws", e.handler
}

func (e *JobWSEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		Stream job events over websocket
//	@Description	Stream a job's progress events as JSON frames over a websocket
//	@Tags			jobs
//	@Param			job_id	path		string	true	"Job ID"
//	@Success		101		{string}	string	"Switching Protocols"
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/v1/jobs/{job_id}/ws [get]
func (e *JobWSEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("job_id")
	ctx := r.Context()

	ctrl := svcctx.ControllerFrom(ctx)
	if _, ok := ctrl.Get(id); !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", id))
		return
	}
	stream, ok := ctrl.Hub().Stream(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("job %s has no event stream", id))
		return
	}

	if err := progress.ServeWS(w, r, stream, svcctx.LoggerFrom(ctx)); err != nil {
		svcctx.LoggerFrom(ctx).Warn("websocket stream aborted", "job_id", id, "error", err)
	}
}

func (e *JobWSEndpoint) Command(getServerURL func() string) *cobra.Command {
	return nil
}
