package endpoints

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/librettohq/libretto/internal/api"
	"github.com/librettohq/libretto/internal/jobs"
	"github.com/librettohq/libretto/internal/svcctx"
)

// ListJobsEndpoint handles GET /api/v1/jobs.
type ListJobsEndpoint struct{}

func (e *ListJobsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/jobs", e.handler
}

func (e *ListJobsEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		List jobs
//	@Description	List pipeline jobs, newest first
//	@Tags			jobs
//	@Produce		json
//	@Param			book_id	query		string	false	"Filter by book"
//	@Param			state	query		string	false	"Filter by state"
//	@Param			kind	query		string	false	"Filter by kind"
//	@Success		200		{array}		jobs.Record
//	@Router			/api/v1/jobs [get]
func (e *ListJobsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	records := svcctx.ControllerFrom(r.Context()).List(jobs.Filter{
		BookID: q.Get("book_id"),
		State:  jobs.State(q.Get("state")),
		Kind:   jobs.Kind(q.Get("kind")),
	})
	writeJSON(w, http.StatusOK, records)
}

func (e *ListJobsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var bookID, state, kind string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pipeline jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())

			params := url.Values{}
			if bookID != "" {
				params.Set("book_id", bookID)
			}
			if state != "" {
				params.Set("state", state)
			}
			if kind != "" {
				params.Set("kind", kind)
			}
			path := "/api/v1/jobs"
			if len(params) > 0 {
				path += "?" + params.Encode()
			}

			var records []jobs.Record
			if err := client.Get(ctx, path, &records); err != nil {
				return err
			}
			return api.Output(records)
		},
	}
	cmd.Flags().StringVar(&bookID, "book", "", "Filter by book ID")
	cmd.Flags().StringVar(&state, "state", "", "Filter by state")
	cmd.Flags().StringVar(&kind, "kind", "", "Filter by kind")
	return cmd
}

// GetJobEndpoint handles GET /api/v1/jobs/{job_id}.
type GetJobEndpoint struct{}

func (e *GetJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/v1/jobs/{job_id}", e.handler
}

func (e *GetJobEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		Get job
//	@Description	Get one job with its latest progress event
//	@Tags			jobs
//	@Produce		json
//	@Param			job_id	path		string	true	"Job ID"
//	@Success		200		{object}	jobs.Record
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/v1/jobs/{job_id} [get]
func (e *GetJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("job_id")
	rec, ok := svcctx.ControllerFrom(r.Context()).Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (e *GetJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Get a job by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var rec jobs.Record
			if err := client.Get(ctx, "/api/v1/jobs/"+args[0], &rec); err != nil {
				return err
			}
			return api.Output(rec)
		},
	}
}

// CancelJobEndpoint handles DELETE /api/v1/jobs/{job_id}.
type CancelJobEndpoint struct{}

func (e *CancelJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/v1/jobs/{job_id}", e.handler
}

func (e *CancelJobEndpoint) RequiresReady() bool { return true }

// handler godoc
//
//	@Summary		Cancel job
//	@Description	Request cancellation of a running or pending job; already finished jobs are left untouched
//	@Tags			jobs
//	@Produce		json
//	@Param			job_id	path		string	true	"Job ID"
//	@Success		202		{object}	JobAccepted
//	@Failure		404		{object}	ErrorResponse
//	@Router			/api/v1/jobs/{job_id} [delete]
func (e *CancelJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("job_id")
	if err := svcctx.ControllerFrom(r.Context()).Cancel(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, JobAccepted{JobID: id})
}

func (e *CancelJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			if err := client.Delete(ctx, "/api/v1/jobs/"+args[0]); err != nil {
				return err
			}
			fmt.Printf("Cancel requested for %s\n", args[0])
			return nil
		},
	}
}
