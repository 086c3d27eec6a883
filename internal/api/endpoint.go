package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Endpoint defines both an HTTP route and its corresponding CLI command.
// This provides a single source of truth for API operations.
type Endpoint interface {
	// Route returns the HTTP method, path, and handler for this endpoint.
	Route() (method, path string, handler http.HandlerFunc)

	// RequiresReady returns true if this endpoint needs the fully wired
	// pipeline (stores, providers, job controller). Routes that answer
	// before initialization finishes return false.
	RequiresReady() bool

	// Command returns a Cobra command that calls this endpoint via HTTP,
	// or nil when the operation has no CLI form. getServerURL is called
	// at runtime to get the server URL (deferred evaluation).
	Command(getServerURL func() string) *cobra.Command
}
