// Command listingcore is the plugin-based event-processing runtime's entrypoint:
// it loads configuration, discovers and loads plugins from disk, wires
// the queue backend and orchestrator, and serves the plugin admin HTTP
// control surface until an interrupt signal arrives.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/listingcore/core/internal/api"
	"github.com/listingcore/core/internal/config"
	apperrors "github.com/listingcore/core/internal/errors"
	"github.com/listingcore/core/internal/events"
	"github.com/listingcore/core/internal/logger"
	"github.com/listingcore/core/internal/middleware"
	"github.com/listingcore/core/internal/orchestrator"
	"github.com/listingcore/core/internal/plugins"
	"github.com/listingcore/core/pkg/manifest"
	"github.com/listingcore/core/pkg/queue"
	"github.com/listingcore/core/pkg/scoring"
)

func main() {
	envFile := os.Getenv("CORE_ENV_FILE")
	cfg, err := config.Load(envFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	logger.Log.Info().Msg("starting listingcore plugin runtime")

	eventPublisher, err := events.NewPublisher(events.Config{
		URL:      cfg.NATSURL,
		User:     cfg.NATSUser,
		Password: cfg.NATSPassword,
	})
	if err != nil {
		log.Fatalf("failed to initialize lifecycle event publisher: %v", err)
	}
	defer eventPublisher.Close()

	manager := plugins.NewManager(eventPublisher)
	defer manager.Close()
	manifestPaths := loadPlugins(manager, cfg.PluginsDir)

	q := newQueue(*cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Connect(ctx); err != nil {
		log.Fatalf("failed to connect to queue backend %q: %v", cfg.QueueBackend, err)
	}

	orch := orchestrator.New(q, manager, orchestrator.Config{
		MaxRetries:       cfg.MaxRetries,
		PipelineDeadline: cfg.PipelineDeadline,
		ShutdownDeadline: cfg.ShutdownDeadline,
		Scoring: scoring.Config{
			Deadline:            cfg.ScoringDeadline,
			ConfidenceThreshold: cfg.ConfidenceThreshold,
		},
	})
	if err := orch.Start(ctx); err != nil {
		log.Fatalf("failed to start orchestrator: %v", err)
	}

	router := newRouter(*cfg, manager, orch, manifestPaths)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,

		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		logger.Log.Info().Int("port", cfg.HTTPPort).Msg("plugin admin control surface listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start HTTP server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownDeadline)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Warn().Err(err).Msg("HTTP server forced to shut down")
	}
	if err := orch.Stop(shutdownCtx); err != nil {
		logger.Log.Warn().Err(err).Msg("orchestrator did not drain in-flight work before the deadline")
	}
	if err := q.Disconnect(shutdownCtx); err != nil {
		logger.Log.Warn().Err(err).Msg("queue disconnect did not complete cleanly")
	}
	cancel()

	logger.Log.Info().Msg("listingcore plugin runtime stopped")
}

// loadPlugins discovers every plugin.yaml under root, loads the batch
// through the manager, and returns the id->manifest-path map the plugin
// admin control surface needs to support hot reload. Discovery and load
// failures are logged individually; neither aborts startup.
func loadPlugins(manager *plugins.Manager, root string) map[string]string {
	paths, err := plugins.Discover(root)
	if err != nil {
		logger.PluginManager().Warn().Err(err).Str("root", root).Msg("plugin discovery failed, starting with no plugins")
		return map[string]string{}
	}

	discovered, loadErrs := plugins.LoadManifests(paths)
	for _, e := range loadErrs {
		logger.PluginManager().Warn().Err(e.Err).Str("path", e.Path).Msg("manifest failed to parse, skipping")
	}

	manifestPaths := make(map[string]string, len(discovered))
	pathByID := make(map[string]string, len(discovered))
	manifests := make([]*manifest.Manifest, 0, len(discovered))
	for _, d := range discovered {
		pathByID[d.Manifest.ID] = d.Path
		manifests = append(manifests, d.Manifest)
	}

	result := manager.Load(context.Background(), manifests)
	for _, lp := range result.Loaded {
		manifestPaths[lp.Manifest.ID] = pathByID[lp.Manifest.ID]
	}
	for _, f := range result.Failed {
		logger.PluginManager().Warn().Str("plugin_id", f.ID).Err(f.Reason).Msg("plugin failed to load at startup")
	}

	for _, lp := range result.Loaded {
		if err := manager.Enable(context.Background(), lp.Manifest.ID); err != nil {
			logger.PluginManager().Warn().Str("plugin_id", lp.Manifest.ID).Err(err).Msg("plugin failed to auto-enable at startup")
		}
	}

	return manifestPaths
}

// newQueue constructs the configured queue backend. "memory" is intended
// for development and test; "redis" is the durable, consumer-group-based
// production backend.
func newQueue(cfg config.Config) queue.Queue {
	switch cfg.QueueBackend {
	case "redis":
		return queue.NewRedisStreamQueue(queue.RedisStreamConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return queue.NewMemoryQueue()
	}
}

// newRouter assembles the gin engine for the plugin admin control
// surface: trace/request-id propagation, structured request logging,
// panic recovery, size and rate limiting, then the plugin and health
// route groups.
func newRouter(cfg config.Config, manager *plugins.Manager, orch *orchestrator.Orchestrator, manifestPaths map[string]string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	router.Use(
		middleware.RequestID(),
		middleware.StructuredLogger(),
		apperrors.Recovery(),
		apperrors.ErrorHandler(),
		middleware.RequestSizeLimiter(cfg.MaxRequestBytes),
		limiter.Middleware(),
		middleware.TimeoutWithDuration(cfg.RequestTimeout),
	)

	api.NewHealthHandler(orch).RegisterRoutes(router)

	v1 := router.Group("/api/v1")
	api.NewPluginHandler(manager, manifestPaths).RegisterRoutes(v1)

	return router
}
