package main

import (
	"github.com/spf13/cobra"

	"github.com/librettohq/libretto/internal/api"
	"github.com/librettohq/libretto/internal/config"
	"github.com/librettohq/libretto/internal/home"
	"github.com/librettohq/libretto/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "libretto",
	Short: "EPUB audiobook pipeline with TTS, alignment, and synced export",
	Long: `Libretto turns EPUB books into read-along audiobooks.

The pipeline includes:
  - EPUB ingestion with word-level text tokenization
  - Per-chapter audio from upload, TTS, or translated TTS
  - Forced alignment producing word-level sync tables
  - Audio editing with range cuts and restore
  - EPUB 3 export with SMIL media overlays`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.libretto/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "libretto home directory (default: ~/.libretto)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}

// getHome returns the home directory manager.
func getHome() (*home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, err
	}
	return h, nil
}

// newConfigManager loads configuration, preferring an explicit --config path
// and falling back to the config file in the home directory.
func newConfigManager(h *home.Dir) (*config.Manager, error) {
	path := cfgFile
	if path == "" && h.ConfigExists() {
		path = h.ConfigPath()
	}
	return config.NewManager(path)
}
