package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/librettohq/libretto/internal/align"
	"github.com/librettohq/libretto/internal/api"
	"github.com/librettohq/libretto/internal/audio"
	"github.com/librettohq/libretto/internal/blob"
	"github.com/librettohq/libretto/internal/config"
	"github.com/librettohq/libretto/internal/edit"
	"github.com/librettohq/libretto/internal/epub"
	"github.com/librettohq/libretto/internal/home"
	"github.com/librettohq/libretto/internal/ingest"
	"github.com/librettohq/libretto/internal/jobs"
	"github.com/librettohq/libretto/internal/meta"
	"github.com/librettohq/libretto/internal/metrics"
	"github.com/librettohq/libretto/internal/providers"
	"github.com/librettohq/libretto/internal/server/endpoints"
	"github.com/librettohq/libretto/internal/source"
	"github.com/librettohq/libretto/internal/svcctx"
	"github.com/librettohq/libretto/internal/translate"
	"github.com/librettohq/libretto/internal/voices"
	"github.com/librettohq/libretto/internal/whisperd"
)

// Server is the Libretto HTTP server. It owns the whole pipeline
// service graph and, when configured, the whisperd container
// lifecycle - starting it on server start and stopping it on shutdown.
type Server struct {
	httpServer *http.Server
	whisperd   *whisperd.Manager // nil when the managed container is disabled
	controller *jobs.Controller
	registry   *providers.Registry
	configMgr  *config.Manager
	logger     *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	ready atomic.Bool

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: from config)
	Host string
	// Port is the port to listen on (default: from config)
	Port string
	// StorageRoot overrides the configured book storage directory
	StorageRoot string
	// Whisperd overrides the container settings derived from config;
	// setting it forces the managed container on
	Whisperd *whisperd.Config
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
	// SwaggerSpecPath points at the generated swagger.json
	SwaggerSpecPath string
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}
	conf := cfg.ConfigManager.Get()

	if cfg.Host == "" {
		cfg.Host = conf.Server.Host
	}
	if cfg.Port == "" {
		cfg.Port = conf.Server.Port
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger

	root := cfg.StorageRoot
	if root == "" {
		var err error
		root, err = conf.Storage.Path()
		if err != nil {
			return nil, err
		}
	}
	blobs, err := blob.NewStore(root)
	if err != nil {
		return nil, fmt.Errorf("open book store: %w", err)
	}
	metaStore := meta.NewStore(blobs)

	registry := providers.NewRegistry()
	registry.SetLogger(logger)
	registry.Reload(conf.ToProviderRegistryConfig())

	recorder := metrics.NewRecorder(0)
	codec := audio.NewFFmpeg()
	spec := audio.EncodeSpec{
		Format:     conf.Audio.Format,
		SampleRate: conf.Audio.SampleRate,
		Bitrate:    conf.Audio.Bitrate,
	}

	// Chat and ASR providers resolve through the registry on every
	// call so config reloads reach long-lived services.
	chat := &dynamicChat{registry: registry, name: llmDefault(cfg.ConfigManager)}
	translator := translate.New(chat, translate.Config{
		Metrics: recorder,
		Logger:  logger,
	})

	src := source.NewManager(blobs, metaStore, codec, registry, translator, source.Config{
		Spec:               spec,
		DefaultTTSProvider: conf.Defaults.TTSProvider,
		Metrics:            recorder,
		Logger:             logger,
	})

	asr := &dynamicASR{registry: registry, name: asrDefault(cfg.ConfigManager)}
	aligner := align.New(conf.Align,
		align.NewBoundaryBackend(conf.Align.BoundaryMinCoverage),
		align.NewASRBackend(asr, conf.Defaults.ASRProvider, recorder),
		align.NewDTWBackend(src, codec),
		logger)

	controller := jobs.New(jobs.Config{
		Logger:        logger,
		MaxConcurrent: int64(conf.Pipeline.MaxWorkers),
		RetryAttempts: uint(conf.Pipeline.RetryAttempts),
	})

	var wmgr *whisperd.Manager
	if wcfg := managedWhisperd(cfg, conf); wcfg != nil {
		wmgr, err = whisperd.NewManager(*wcfg)
		if err != nil {
			return nil, fmt.Errorf("create whisperd manager: %w", err)
		}
	}

	catalog := voices.NewCatalog(registry, 0, logger)

	s := &Server{
		whisperd:   wmgr,
		controller: controller,
		registry:   registry,
		configMgr:  cfg.ConfigManager,
		logger:     logger,
	}

	s.services = &svcctx.Services{
		Blobs:      blobs,
		Meta:       metaStore,
		Ingest:     ingest.NewService(blobs, metaStore, logger),
		Source:     src,
		Align:      align.NewService(blobs, metaStore, aligner, logger),
		Editor:     edit.New(blobs, metaStore, codec, edit.Config{Spec: spec, Logger: logger}),
		Exporter:   epub.NewExporter(blobs, metaStore, logger),
		Controller: controller,
		Voices:     catalog,
		Registry:   registry,
		Metrics:    recorder,
		ConfigMgr:  cfg.ConfigManager,
		Logger:     logger,
	}

	// Watch for config changes. Reload drops any provider the new
	// config no longer carries, so the managed whisperd client is put
	// back afterwards.
	cfg.ConfigManager.OnChange(func(c *config.Config) {
		registry.Reload(c.ToProviderRegistryConfig())
		s.registerManagedWhisperd()
		catalog.Invalidate()
		logger.Info("provider registry reloaded from config")
	})

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{
		Whisperd:        wmgr,
		SwaggerSpecPath: cfg.SwaggerSpecPath,
	}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server. Job event streams and audio downloads
	// outlive any fixed write deadline, so only reads are bounded.
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireReady)

	s.httpServer = &http.Server{
		Addr:        net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:     s.withServices(mux),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	return s, nil
}

// managedWhisperd resolves the container settings: an explicit
// override wins, otherwise config decides. Nil means unmanaged.
func managedWhisperd(cfg Config, conf *config.Config) *whisperd.Config {
	if cfg.Whisperd != nil {
		return cfg.Whisperd
	}
	if !conf.Whisperd.Enabled {
		return nil
	}
	return &whisperd.Config{
		ContainerName: conf.Whisperd.ContainerName,
		Image:         conf.Whisperd.Image,
		CachePath:     whisperCachePath(),
		HostPort:      conf.Whisperd.Port,
		Model:         conf.Whisperd.Model,
	}
}

// whisperCachePath returns the host directory whisperd mounts for
// model downloads, empty when no home directory resolves.
func whisperCachePath() string {
	h, err := home.New("")
	if err != nil {
		return ""
	}
	if err := h.EnsureWhisperCache(); err != nil {
		return ""
	}
	return h.WhisperCachePath()
}

// Start starts the server and, when managed, the whisperd container.
// It blocks until the context is cancelled or an error occurs.
// An existing whisperd container is validated against the configuration.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if s.whisperd != nil {
		if err := s.whisperd.ValidateExisting(ctx); err != nil {
			s.setNotRunning()
			return fmt.Errorf("existing whisperd container incompatible: %w", err)
		}

		s.logger.Info("starting whisperd", "model", s.whisperd.Model())
		if err := s.whisperd.Start(ctx); err != nil {
			s.setNotRunning()
			return fmt.Errorf("failed to start whisperd: %w", err)
		}
		s.logger.Info("whisperd is ready", "url", s.whisperd.URL())

		s.registerManagedWhisperd()
	}

	s.ready.Store(true)

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown() // Clean up whisperd on HTTP error
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// registerManagedWhisperd puts the managed container's ASR client into
// the registry under the well-known provider name.
func (s *Server) registerManagedWhisperd() {
	if s.whisperd == nil {
		return
	}
	s.registry.RegisterASR(providers.WhisperdName, providers.NewWhisperdClient(providers.WhisperdConfig{
		Endpoint: s.whisperd.URL(),
	}))
}

// shutdown performs graceful shutdown: stop accepting work, cancel
// running jobs, drain HTTP, then stop the managed container.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")
	s.ready.Store(false)

	// Cancel running jobs first so event streams close and their
	// handlers drain with the rest.
	s.controller.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.whisperd != nil {
		s.logger.Info("stopping whisperd")
		if err := s.whisperd.Stop(shutdownCtx); err != nil {
			s.logger.Error("whisperd stop error", "error", err)
		}
		if err := s.whisperd.Close(); err != nil {
			s.logger.Error("whisperd manager close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// Controller returns the pipeline job controller.
func (s *Server) Controller() *jobs.Controller {
	return s.controller
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireReady is middleware that ensures the server is fully started.
// Returns 503 Service Unavailable while starting up or shutting down.
func (s *Server) requireReady(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
