package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/werdnum/family-assistant-go/internal/api"
	"github.com/werdnum/family-assistant-go/internal/automation"
	"github.com/werdnum/family-assistant-go/internal/config"
	"github.com/werdnum/family-assistant-go/internal/confirm"
	"github.com/werdnum/family-assistant-go/internal/eventbus"
	"github.com/werdnum/family-assistant-go/internal/homeassistant"
	"github.com/werdnum/family-assistant-go/internal/pipeline"
	"github.com/werdnum/family-assistant-go/internal/sandbox"
	"github.com/werdnum/family-assistant-go/internal/worker"
)

// setupAutomationPipeline wires the event pipeline (sources, the
// sandboxed matcher/dispatcher, and the automation registry) and
// configures the API server's automation and webhook endpoints. The
// returned Processor has not been started yet — runServe starts it
// against the server's shutdown context. The returned cleanup closes
// the automation store; call it via defer.
//
// wakeAgent is the caller-supplied WakeAgent collaborator. This module
// does not implement a conversational agent itself: scheduling a turn
// and rendering its response are an external system's job, reached
// here only through this narrow callable per SPEC_FULL.md's agent
// seam.
func setupAutomationPipeline(cfg *config.Config, dataDir string, server *api.Server, wakeAgent pipeline.WakeAgent, logger *slog.Logger) (*pipeline.Processor, func()) {
	store, err := automation.NewStore(dataDir + "/automations.db")
	if err != nil {
		logger.Error("failed to open automation store", "error", err)
		os.Exit(1)
	}

	registry, err := automation.NewRegistry(store)
	if err != nil {
		logger.Error("failed to prime automation registry", "error", err)
		os.Exit(1)
	}

	sb := sandbox.New()
	bus := eventbus.New()

	dispatcher := pipeline.NewActionDispatcher(wakeAgent, sb, bus)

	processor := pipeline.NewProcessor(registry, store, sb, dispatcher, pipeline.Config{
		WorkerCount:  cfg.Automation.WorkerCount,
		SampleWindow: time.Duration(cfg.Automation.SampleWindowSeconds) * time.Second,
	}, logger)

	webhookSource := pipeline.NewWebhookSource(cfg.Automation.WebhookSecret)
	processor.AddSource(webhookSource)

	scheduleSource := pipeline.NewScheduleSource(registry, time.Duration(cfg.Automation.ScheduleTickSeconds)*time.Second, logger)
	processor.AddSource(scheduleSource)

	indexingSource := pipeline.NewIndexingSource()
	processor.AddSource(indexingSource)
	server.SetIndexingSource(indexingSource)

	if cfg.HomeAssistant.Configured() {
		wsClient := homeassistant.NewWSClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
		smartHomeSource := pipeline.NewSmartHomeSource(wsClient, nil, logger)
		processor.AddSource(smartHomeSource)
	}

	// loggingPrompter delivers confirmation prompts by logging them.
	// The opaque, interface-specific delivery mechanism itself (chat
	// button, push notification) lives in the front-end layer this
	// module does not implement.
	loggingPrompter := func(ctx context.Context, key confirm.Key, description string) error {
		logger.Info("confirmation requested", "conversation_id", key.ConversationID, "turn_id", key.TurnID, "tool", key.ToolName, "description", description)
		return nil
	}
	mediator := confirm.New(loggingPrompter, confirm.Config{
		Timeout: time.Duration(cfg.Automation.ConfirmationTimeoutSeconds) * time.Second,
	}, logger)

	server.SetAutomationRegistry(registry)
	server.SetWebhookSource(webhookSource)
	server.SetConfirmMediator(mediator)

	return processor, func() { store.Close() }
}

// setupWorkerOrchestrator wires the worker task lifecycle (Docker
// backend, SQLite-backed task store, orchestrator) and configures the
// API server's worker completion webhook and listing endpoints. The
// three periodic goroutines (reconciler, stale-marker, cleanup) are
// started by runServe against the shutdown context, not here.
func setupWorkerOrchestrator(cfg *config.Config, dataDir string, server *api.Server, logger *slog.Logger) (*worker.Orchestrator, func()) {
	store, err := worker.NewStore(dataDir + "/worker_tasks.db")
	if err != nil {
		logger.Error("failed to open worker task store", "error", err)
		os.Exit(1)
	}

	backend := worker.NewDockerBackend(worker.DockerConfig{
		Image:         cfg.Worker.Image,
		Network:       cfg.Worker.Network,
		MemoryLimit:   cfg.Worker.MemoryLimit,
		CPULimit:      cfg.Worker.CPULimit,
		WorkspaceRoot: cfg.Worker.WorkspaceRoot,
	})

	webhookBase := cfg.Worker.WebhookBaseURL
	webhookURLFn := func(taskID string) string {
		return fmt.Sprintf("%s/workers/%s/complete", webhookBase, taskID)
	}

	orchestrator := worker.New(store, backend, worker.Config{
		MaxConcurrentWorkers:  cfg.Worker.MaxConcurrentWorkers,
		TaskRetentionHours:    cfg.Worker.TaskRetentionHours,
		SubmittedTimeoutHours: cfg.Worker.SubmittedTimeoutHours,
		RunningBufferMinutes:  cfg.Worker.RunningBufferMinutes,
		ReconcileInterval:     time.Duration(cfg.Worker.ReconcileIntervalSeconds) * time.Second,
	}, webhookURLFn, logger)

	server.SetWorkerOrchestrator(orchestrator, store)

	return orchestrator, func() { store.Close() }
}
