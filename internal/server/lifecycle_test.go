package server

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/librettohq/libretto/internal/providers"
	"github.com/librettohq/libretto/internal/testutil"
	"github.com/librettohq/libretto/internal/whisperd"
)

// TestServer_WhisperdLifecycle runs the server with the managed
// transcription container. Requires Docker; the first run pulls the
// whisper image and downloads the tiny model.
func TestServer_WhisperdLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cfg := testutil.NewServerConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	srv, err := New(Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		StorageRoot: filepath.Join(cfg.DataDir, "books"),
		Whisperd: &whisperd.Config{
			ContainerName: cfg.WhisperdConfig.ContainerName,
			HostPort:      cfg.WhisperdConfig.HostPort,
			Labels:        cfg.WhisperdConfig.Labels,
			Model:         "tiny",
		},
		ConfigManager: newTestManager(t),
		Logger:        cfg.Logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Start server in background
	serverErr := make(chan error, 1)
	serverCtx, serverCancel := context.WithCancel(ctx)

	go func() {
		serverErr <- srv.Start(serverCtx)
	}()

	// Container boot dominates startup on a cold model cache
	if err := testutil.WaitForServer(cfg.URL(), 4*time.Minute); err != nil {
		serverCancel()
		t.Fatalf("server did not start: %v", err)
	}

	t.Run("status_endpoint", func(t *testing.T) {
		status, err := testutil.GetStatus(cfg.URL())
		if err != nil {
			t.Fatalf("status check failed: %v", err)
		}

		if status.Server != "ok" {
			t.Errorf("status.Server = %q, want %q", status.Server, "ok")
		}
		if status.Whisperd.Container != "running" {
			t.Errorf("status.Whisperd.Container = %q, want %q", status.Whisperd.Container, "running")
		}
		if status.Whisperd.Health != "healthy" {
			t.Errorf("status.Whisperd.Health = %q, want %q", status.Whisperd.Health, "healthy")
		}
	})

	t.Run("asr_provider_registered", func(t *testing.T) {
		status, err := testutil.GetStatus(cfg.URL())
		if err != nil {
			t.Fatalf("status check failed: %v", err)
		}
		if !slices.Contains(status.Providers.ASR, providers.WhisperdName) {
			t.Errorf("Providers.ASR = %v, want %q registered", status.Providers.ASR, providers.WhisperdName)
		}
	})

	t.Run("is_running", func(t *testing.T) {
		if !srv.IsRunning() {
			t.Error("IsRunning() = false, want true")
		}
	})

	// Shutdown server
	serverCancel()
	if err := testutil.WaitForShutdown(serverErr, 60*time.Second); err != nil {
		t.Fatalf("server did not shut down: %v", err)
	}

	t.Run("not_running_after_shutdown", func(t *testing.T) {
		if srv.IsRunning() {
			t.Error("IsRunning() = true after shutdown, want false")
		}
	})

	t.Run("whisperd_stopped_after_shutdown", func(t *testing.T) {
		mgr, err := whisperd.NewManager(whisperd.Config{
			ContainerName: cfg.WhisperdConfig.ContainerName,
		})
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		defer mgr.Close()

		status, err := mgr.Status(ctx)
		if err != nil {
			t.Fatalf("failed to get status: %v", err)
		}
		if status == whisperd.StatusRunning {
			t.Error("whisperd still running after server shutdown")
			_ = mgr.Stop(ctx)
		}
	})
}
