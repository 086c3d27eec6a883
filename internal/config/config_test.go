package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if len(cfg.TTSProviders) == 0 {
		t.Error("expected default TTS providers")
	}
	if cfg.TTSProviders["openai"].APIKey != "${OPENAI_API_KEY}" {
		t.Error("expected openai API key placeholder")
	}
	if cfg.Align.Backend != "auto" {
		t.Errorf("expected auto align backend, got %s", cfg.Align.Backend)
	}
	if cfg.Align.MinCoverage != 0.8 {
		t.Errorf("expected 0.8 min coverage, got %f", cfg.Align.MinCoverage)
	}
	if cfg.Pipeline.RetryAttempts != 3 {
		t.Errorf("expected 3 retry attempts, got %d", cfg.Pipeline.RetryAttempts)
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		os.Setenv("TEST_API_KEY", "secret123")
		defer os.Unsetenv("TEST_API_KEY")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestConfig_ToProviderRegistryConfig(t *testing.T) {
	os.Setenv("TEST_OPENAI_KEY", "sk-test-123")
	defer os.Unsetenv("TEST_OPENAI_KEY")

	cfg := &Config{
		TTSProviders: map[string]TTSProviderCfg{
			"openai": {Type: "openai", Model: "gpt-4o-mini-tts", APIKey: "${TEST_OPENAI_KEY}", Enabled: true},
		},
		ASRProviders: map[string]ASRProviderCfg{
			"whisperd": {Type: "whisperd", Endpoint: "http://localhost:9000", Enabled: true},
		},
		LLMProviders: map[string]LLMProviderCfg{
			"openai": {Type: "openai", Model: "gpt-4o-mini", APIKey: "literal-key", Enabled: true},
		},
	}

	reg := cfg.ToProviderRegistryConfig()

	t.Run("resolves env var reference", func(t *testing.T) {
		if reg.TTSProviders["openai"].APIKey != "sk-test-123" {
			t.Errorf("expected sk-test-123, got %s", reg.TTSProviders["openai"].APIKey)
		}
	})

	t.Run("returns literal value", func(t *testing.T) {
		if reg.ChatProviders["openai"].APIKey != "literal-key" {
			t.Errorf("expected literal-key, got %s", reg.ChatProviders["openai"].APIKey)
		}
	})

	t.Run("carries endpoint for local providers", func(t *testing.T) {
		if reg.ASRProviders["whisperd"].Endpoint != "http://localhost:9000" {
			t.Errorf("unexpected endpoint %s", reg.ASRProviders["whisperd"].Endpoint)
		}
	})
}

func TestStorageCfg_Path(t *testing.T) {
	t.Run("explicit root wins", func(t *testing.T) {
		s := StorageCfg{Root: "/data/books"}
		got, err := s.Path()
		if err != nil {
			t.Fatalf("Path() error = %v", err)
		}
		if got != "/data/books" {
			t.Errorf("expected /data/books, got %s", got)
		}
	})

	t.Run("defaults under home", func(t *testing.T) {
		s := StorageCfg{}
		got, err := s.Path()
		if err != nil {
			t.Fatalf("Path() error = %v", err)
		}
		if filepath.Base(got) != "books" {
			t.Errorf("expected path ending in books, got %s", got)
		}
	})
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configFile := filepath.Join(tmpDir, "config.yaml")

		configContent := `
server:
  host: "0.0.0.0"
  port: "9090"
storage:
  root: "/tmp/libretto-test"
`
		if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
			t.Fatalf("failed to write config file: %v", err)
		}

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.Server.Addr() != "0.0.0.0:9090" {
			t.Errorf("expected 0.0.0.0:9090, got %s", cfg.Server.Addr())
		}
		if cfg.Storage.Root != "/tmp/libretto-test" {
			t.Errorf("expected /tmp/libretto-test, got %s", cfg.Storage.Root)
		}
	})

	t.Run("defaults fill unset sections", func(t *testing.T) {
		tmpDir := t.TempDir()
		configFile := filepath.Join(tmpDir, "config.yaml")

		configContent := `
server:
  port: "9090"
`
		if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
			t.Fatalf("failed to write config file: %v", err)
		}

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.Audio.Format != "mp3" {
			t.Errorf("expected default mp3 format, got %s", cfg.Audio.Format)
		}
		if cfg.Pipeline.AlignTimeout() != 600*time.Second {
			t.Errorf("expected 600s align timeout, got %v", cfg.Pipeline.AlignTimeout())
		}
	})
}

func TestManager_OnChange(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
log:
  level: "info"
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	if len(mgr.callbacks) != 2 {
		t.Errorf("expected 2 callbacks, got %d", len(mgr.callbacks))
	}
	mgr.mu.RUnlock()
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
log:
  level: "debug"
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	// Call Get concurrently to verify no race conditions
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				cfg := mgr.Get()
				_ = cfg.Log.Level
			}
			done <- struct{}{}
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
log:
  level: "info"
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	cfg := mgr.Get()
	if cfg.Log.Level != "info" {
		t.Errorf("initial value mismatch: expected info, got %s", cfg.Log.Level)
	}

	var callbackCount atomic.Int32
	var lastLevel atomic.Value

	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastLevel.Store(cfg.Log.Level)
	})

	mgr.WatchConfig()

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	newContent := `
log:
  level: "debug"
`
	if err := os.WriteFile(configFile, []byte(newContent), 0644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	// Wait for the watcher to detect the change (fsnotify is async)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if callbackCount.Load() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Error("callback was not invoked after config file change")
	}

	newCfg := mgr.Get()
	if newCfg.Log.Level != "debug" {
		t.Errorf("config not updated: expected debug, got %s", newCfg.Log.Level)
	}

	if v := lastLevel.Load(); v != "debug" {
		t.Errorf("callback received wrong value: expected debug, got %v", v)
	}
}

func TestWriteDefault(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("written config is empty")
	}

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("failed to load written config: %v", err)
	}
	cfg := mgr.Get()
	if cfg.Audio.SampleRate != 44100 {
		t.Errorf("expected 44100 sample rate, got %d", cfg.Audio.SampleRate)
	}
}
