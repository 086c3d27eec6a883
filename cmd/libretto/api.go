package main

import (
	"github.com/spf13/cobra"

	"github.com/librettohq/libretto/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running Libretto server via HTTP.

These commands require a running server (libretto serve).
Use --server to specify a custom server URL.

Examples:
  libretto api healthz                  # Check server health
  libretto api books upload book.epub   # Ingest an EPUB
  libretto api books tts <id> 1 --voice alloy
  libretto api jobs follow <job-id>     # Stream job progress`,
}

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "Book and chapter pipeline commands",
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Pipeline job commands",
}

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "TTS voice catalog commands",
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Provider usage and cost commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	// Add --server flag to api command (persistent so all subcommands inherit it)
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8080", "Server URL",
	)

	// Health and spec endpoints at top level of api
	apiCmd.AddCommand((&endpoints.HealthzEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SwaggerEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.SwaggerUIEndpoint{}).Command(getServerURL))

	// Books as subcommand group
	for _, e := range endpoints.BookCommands() {
		if cmd := e.Command(getServerURL); cmd != nil {
			booksCmd.AddCommand(cmd)
		}
	}

	// Jobs as subcommand group
	for _, e := range endpoints.JobCommands() {
		if cmd := e.Command(getServerURL); cmd != nil {
			jobsCmd.AddCommand(cmd)
		}
	}

	// Voices as subcommand group
	voicesCmd.AddCommand((&endpoints.ListVoicesEndpoint{}).Command(getServerURL))

	// Metrics as subcommand group
	metricsCmd.AddCommand((&endpoints.UsageEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(booksCmd)
	apiCmd.AddCommand(jobsCmd)
	apiCmd.AddCommand(voicesCmd)
	apiCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(apiCmd)
}
