package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/librettohq/libretto/internal/home"
	"github.com/librettohq/libretto/internal/providers"
	"github.com/librettohq/libretto/internal/whisperd"
)

var whisperdCmd = &cobra.Command{
	Use:   "whisperd",
	Short: "Manage the whisperd container",
	Long: `Manage the whisperd transcription container lifecycle.

Whisperd is the local Whisper ASR webservice used for transcription
during forced alignment. The service runs in a Docker container with
downloaded models cached under ~/.libretto/whisper-cache/.

Examples:
  libretto whisperd start   # Start the whisperd container
  libretto whisperd stop    # Stop the container (model cache preserved)
  libretto whisperd status  # Check container status
  libretto whisperd logs    # View container logs`,
}

var whisperdStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the whisperd container",
	Long: `Start the whisperd container.

If the container doesn't exist, it will be created and started.
If it exists but is stopped, it will be started.
If it's already running, this is a no-op.

Models are cached under ~/.libretto/whisper-cache/.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := getHome()
		if err != nil {
			return err
		}

		mgr, err := getWhisperdManager(h)
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Printf("Starting whisperd (model: %s)...\n", mgr.Model())
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("failed to start whisperd: %w", err)
		}

		fmt.Printf("whisperd is running at %s\n", mgr.URL())
		return nil
	},
}

var whisperdStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the whisperd container",
	Long: `Stop the whisperd container.

This stops the container but preserves the model cache. Use
'libretto whisperd start' to restart it later.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := getHome()
		if err != nil {
			return err
		}

		mgr, err := getWhisperdManager(h)
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Stopping whisperd...")
		if err := mgr.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop whisperd: %w", err)
		}

		fmt.Println("whisperd stopped")
		return nil
	},
}

var whisperdStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whisperd container status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := getHome()
		if err != nil {
			return err
		}

		mgr, err := getWhisperdManager(h)
		if err != nil {
			return err
		}
		defer mgr.Close()

		status, err := mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		switch status {
		case whisperd.StatusRunning:
			fmt.Printf("Status: %s\n", status)
			fmt.Printf("URL: %s\n", mgr.URL())

			// Try health check
			client := providers.NewWhisperdClient(providers.WhisperdConfig{Endpoint: mgr.URL()})
			if err := client.HealthCheck(ctx); err != nil {
				fmt.Printf("Health: unhealthy (%v)\n", err)
			} else {
				fmt.Println("Health: healthy")
			}
		case whisperd.StatusStopped:
			fmt.Printf("Status: %s (use 'libretto whisperd start' to start)\n", status)
		case whisperd.StatusNotFound:
			fmt.Printf("Status: %s (use 'libretto whisperd start' to create)\n", status)
		default:
			fmt.Printf("Status: %s\n", status)
		}

		return nil
	},
}

var (
	logsTail   string
	logsFollow bool
)

var whisperdLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show whisperd container logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := getHome()
		if err != nil {
			return err
		}

		mgr, err := getWhisperdManager(h)
		if err != nil {
			return err
		}
		defer mgr.Close()

		logs, err := mgr.Logs(ctx, logsTail)
		if err != nil {
			return fmt.Errorf("failed to get logs: %w", err)
		}

		fmt.Print(logs)
		return nil
	},
}

var whisperdRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the whisperd container",
	Long: `Remove the whisperd container.

This stops and removes the container. The model cache under
~/.libretto/whisper-cache/ is NOT deleted - only the container
is removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := getHome()
		if err != nil {
			return err
		}

		mgr, err := getWhisperdManager(h)
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Removing whisperd container...")
		if err := mgr.Remove(ctx); err != nil {
			return fmt.Errorf("failed to remove container: %w", err)
		}

		fmt.Println("whisperd container removed (model cache preserved)")
		return nil
	},
}

var whisperdWaitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for whisperd to be ready",
	Long: `Wait for whisperd to be ready to accept transcription requests.

This is useful in scripts to ensure whisperd is fully started
before running alignment commands.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := getHome()
		if err != nil {
			return err
		}

		mgr, err := getWhisperdManager(h)
		if err != nil {
			return err
		}
		defer mgr.Close()

		timeout, _ := cmd.Flags().GetDuration("timeout")
		fmt.Printf("Waiting for whisperd (timeout: %s)...\n", timeout)

		if err := mgr.WaitReady(ctx, timeout); err != nil {
			return fmt.Errorf("whisperd not ready: %w", err)
		}

		fmt.Println("whisperd is ready")
		return nil
	},
}

func init() {
	// Add subcommands
	whisperdCmd.AddCommand(whisperdStartCmd)
	whisperdCmd.AddCommand(whisperdStopCmd)
	whisperdCmd.AddCommand(whisperdStatusCmd)
	whisperdCmd.AddCommand(whisperdLogsCmd)
	whisperdCmd.AddCommand(whisperdRemoveCmd)
	whisperdCmd.AddCommand(whisperdWaitCmd)

	// Logs flags
	whisperdLogsCmd.Flags().StringVar(&logsTail, "tail", "100", "Number of lines to show from the end")
	whisperdLogsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (not yet implemented)")

	// Wait flags
	whisperdWaitCmd.Flags().Duration("timeout", 60*time.Second, "Timeout waiting for whisperd")

	// Add to root
	rootCmd.AddCommand(whisperdCmd)
}

// getWhisperdManager creates a whisperd Manager from the config file
// settings, mounting the model cache from the home directory.
func getWhisperdManager(h *home.Dir) (*whisperd.Manager, error) {
	if err := h.EnsureWhisperCache(); err != nil {
		return nil, fmt.Errorf("failed to create whisper cache directory: %w", err)
	}

	mgr, err := newConfigManager(h)
	if err != nil {
		return nil, err
	}
	conf := mgr.Get()

	return whisperd.NewManager(whisperd.Config{
		ContainerName: conf.Whisperd.ContainerName,
		Image:         conf.Whisperd.Image,
		CachePath:     h.WhisperCachePath(),
		HostPort:      conf.Whisperd.Port,
		Model:         conf.Whisperd.Model,
	})
}
