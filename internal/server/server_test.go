package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/librettohq/libretto/internal/config"
	"github.com/librettohq/libretto/internal/testutil"
)

// newTestManager writes a config file with the managed whisperd
// container off and loads it. Provider API keys resolve from env vars
// that tests leave unset, so no live clients register.
func newTestManager(t *testing.T) *config.Manager {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "whisperd:\n  enabled: false\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	mgr, err := config.NewManager(path)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return mgr
}

// startTestServer builds a server on a free port with temp storage and
// runs it until stop is called; the test cleanup stops it regardless.
func startTestServer(t *testing.T) (*Server, string, func() error) {
	t.Helper()

	port, err := testutil.FindFreePort()
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}

	srv, err := New(Config{
		Host:          "127.0.0.1",
		Port:          port,
		StorageRoot:   t.TempDir(),
		ConfigManager: newTestManager(t),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start(ctx)
	}()

	stopped := false
	stop := func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		return testutil.WaitForShutdown(serverErr, 30*time.Second)
	}
	t.Cleanup(func() {
		if err := stop(); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})

	baseURL := "http://127.0.0.1:" + port
	if err := testutil.WaitForServer(baseURL, 15*time.Second); err != nil {
		t.Fatalf("server did not start: %v", err)
	}
	return srv, baseURL, stop
}

func TestNew_RequiresConfigManager(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New() without config manager should return error")
	}
}

func TestNew_AddrFromConfig(t *testing.T) {
	srv, err := New(Config{
		Host:          "127.0.0.1",
		Port:          "18099",
		StorageRoot:   t.TempDir(),
		ConfigManager: newTestManager(t),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if got := srv.Addr(); got != "127.0.0.1:18099" {
		t.Errorf("Addr() = %q, want %q", got, "127.0.0.1:18099")
	}
	if srv.IsRunning() {
		t.Error("IsRunning() = true before Start")
	}
	if srv.Registry() == nil {
		t.Error("Registry() returned nil")
	}
	if srv.Controller() == nil {
		t.Error("Controller() returned nil")
	}
}

func TestServer_Lifecycle(t *testing.T) {
	srv, baseURL, stop := startTestServer(t)

	t.Run("healthz_endpoint", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/healthz")
		if err != nil {
			t.Fatalf("health check failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("healthz status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var health struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if health.Status != "ok" {
			t.Errorf("health.Status = %q, want %q", health.Status, "ok")
		}
	})

	t.Run("status_endpoint", func(t *testing.T) {
		status, err := testutil.GetStatus(baseURL)
		if err != nil {
			t.Fatalf("status check failed: %v", err)
		}

		if status.Server != "ok" {
			t.Errorf("status.Server = %q, want %q", status.Server, "ok")
		}
		if status.Whisperd.Container != "disabled" {
			t.Errorf("status.Whisperd.Container = %q, want %q", status.Whisperd.Container, "disabled")
		}
		if len(status.Providers.TTS) != 0 {
			t.Errorf("status.Providers.TTS = %v, want none", status.Providers.TTS)
		}
	})

	t.Run("is_running", func(t *testing.T) {
		if !srv.IsRunning() {
			t.Error("IsRunning() = false, want true")
		}
	})

	if err := stop(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	t.Run("not_running_after_shutdown", func(t *testing.T) {
		if srv.IsRunning() {
			t.Error("IsRunning() = true after shutdown, want false")
		}
	})
}

func TestServer_DoubleStart(t *testing.T) {
	srv, _, _ := startTestServer(t)

	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() should return error")
	}
}

func TestServer_ContextCancellation(t *testing.T) {
	_, _, stop := startTestServer(t)

	// Cancel immediately after readiness
	if err := stop(); err != nil {
		t.Fatalf("server did not shut down cleanly: %v", err)
	}
}
