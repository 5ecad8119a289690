// Package main is the entry point for the Thane automation core: the
// event pipeline, automation registry, and worker task orchestrator.
// The conversational agent, its tools, and its front-ends are external
// collaborators this binary calls into but does not implement.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/werdnum/family-assistant-go/internal/api"
	"github.com/werdnum/family-assistant-go/internal/buildinfo"
	"github.com/werdnum/family-assistant-go/internal/config"

	_ "github.com/mattn/go-sqlite3"
)

func newTurnID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(logger, *configPath)
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
		return
	}

	fmt.Println("Thane - Home Automation Core")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the automation pipeline and API server")
	fmt.Println("  version  Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

// wakeAgent is the minimal WakeAgent collaborator: it logs the trigger
// and mints a turn id. A real deployment wires this to whatever
// process schedules and runs conversational agent turns; this core
// only needs the callable shape of that collaborator, not an
// implementation of it.
func wakeAgent(logger *slog.Logger) func(ctx context.Context, conversationID string, triggerContext map[string]any) (string, error) {
	return func(ctx context.Context, conversationID string, triggerContext map[string]any) (string, error) {
		turnID := newTurnID()
		logger.Info("agent wake requested",
			"conversation_id", conversationID,
			"turn_id", turnID,
			"trigger", triggerContext,
		)
		return turnID, nil
	}
}

func runServe(logger *slog.Logger, configPath string) {
	logger.Info("starting Thane", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port)

	dataDir := cfg.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logger.Error("failed to create data directory", "path", dataDir, "error", err)
		os.Exit(1)
	}

	if cfg.HomeAssistant.Configured() {
		logger.Info("Home Assistant configured", "url", cfg.HomeAssistant.URL)
	} else {
		logger.Warn("Home Assistant not configured - smart-home events disabled")
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, logger)

	processor, automationCleanup := setupAutomationPipeline(cfg, dataDir, server, wakeAgent(logger), logger)
	defer automationCleanup()

	orchestrator, workerCleanup := setupWorkerOrchestrator(cfg, dataDir, server, logger)
	defer workerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go orchestrator.RunReconciler(ctx)
	go orchestrator.RunStaleMarker(ctx)
	go orchestrator.RunCleanup(ctx)

	go func() {
		if err := processor.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("automation pipeline stopped", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
