// Package main is the control plane's unified entry point: it wires the
// execution coordinator, agent session driver, sync/checkpoint/cascade
// engines, and merge queue to persistent storage and serves them over HTTP
// and WebSocket from a single process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sudocode/controlplane/internal/common/config"
	"github.com/sudocode/controlplane/internal/common/logger"
	"github.com/sudocode/controlplane/internal/controlplane/agentsession"
	"github.com/sudocode/controlplane/internal/controlplane/cascade"
	"github.com/sudocode/controlplane/internal/controlplane/checkpoint"
	"github.com/sudocode/controlplane/internal/controlplane/coordinator"
	"github.com/sudocode/controlplane/internal/controlplane/gitsurface"
	"github.com/sudocode/controlplane/internal/controlplane/mergequeue"
	"github.com/sudocode/controlplane/internal/controlplane/repository"
	syncengine "github.com/sudocode/controlplane/internal/controlplane/sync"
	"github.com/sudocode/controlplane/internal/controlplane/transport"
	"github.com/sudocode/controlplane/internal/controlplane/worktree"
	"github.com/sudocode/controlplane/internal/events/bus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig(cfg.Logging))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting the control plane")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		log.Info("connecting to NATS", zap.String("url", cfg.NATS.URL))
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsBus
		defer natsBus.Close()
	} else {
		log.Info("using in-memory event bus")
		eventBus = bus.NewMemoryEventBus(log)
	}

	repo, err := repository.Open(cfg.Database)
	if err != nil {
		log.Fatal("failed to open repository", zap.Error(err))
	}
	defer repo.Close()

	projectRoot, err := os.Getwd()
	if err != nil {
		log.Fatal("failed to resolve project root", zap.Error(err))
	}

	git := gitsurface.New(projectRoot, log)

	worktreeCfg := worktree.Config{
		BasePath:     cfg.Worktree.BasePath,
		BranchPrefix: "streams/",
	}
	worktreeMgr, err := worktree.NewManager(worktreeCfg, projectRoot, repo, git, log)
	if err != nil {
		log.Fatal("failed to initialize worktree manager", zap.Error(err))
	}

	if err := worktreeMgr.ReconcileOrphans(ctx); err != nil {
		log.Warn("failed to reconcile orphaned worktrees", zap.Error(err))
	}

	syncEngine := syncengine.NewEngine(cfg.Sync, projectRoot, repo, git, log)

	queue := mergequeue.New(repo)
	if err := queue.Restore(ctx, cfg.Worktree.DefaultBranch); err != nil {
		log.Warn("failed to restore merge queue state", zap.Error(err))
	}

	checkpointEngine := checkpoint.NewEngine(repo, git, queue, syncEngine, cfg.MergeQueue.Enabled, log)

	worktreeChecker := cascade.NewStreamWorktreeChecker(worktreeMgr, git)
	cascadeEngine := cascade.NewEngine(cfg.Cascade, repo, syncEngine, worktreeChecker, log)
	syncEngine.SetCascadeHook(cascadeEngine)

	registry := coordinator.NewRegistry()
	agentsession.RegisterBuiltins(registry, nil, cfg.Agent.CopilotCLIURL, log)

	mcpInjector := coordinator.NewMCPInjector()
	driver := agentsession.NewDriver(repo, git, eventBus, log)

	coordEngine := coordinator.NewEngine(
		repo, worktreeMgr, git, registry, mcpInjector, driver,
		projectRoot, cfg.Worktree.DefaultBranch, log,
	)

	hub := transport.NewHub(log)
	if _, err := eventBus.Subscribe("executions.*.updates", hub.Subscribe); err != nil {
		log.Warn("failed to subscribe websocket hub to execution updates", zap.Error(err))
	}
	driver.SetDisconnectWatcher(hub)

	api := transport.NewAPI(coordEngine, syncEngine, checkpointEngine, cascadeEngine, queue, worktreeMgr, repo, hub, log)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	transport.SetupRoutes(router.Group("/api/v1"), api)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "controlplane"})
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("control plane listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down the control plane")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("control plane stopped")
}
