package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "eligo/app/configs"
	"eligo/app/core/dialog"
	"eligo/app/core/facts"
	httpserver "eligo/app/core/interaction/http"
	"eligo/app/core/responder"
	"eligo/app/core/store"
	"eligo/app/pkg/logger"
	"eligo/app/pkg/types"
)

func main() {
	if err := logger.Init("output/logs"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("Eligo arbitration service starting...")

	cfgManager, err := config.NewManager(config.DefaultPath())
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	database, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		logger.Error("Failed to initialize DB: %v", err)
		os.Exit(1)
	}
	defer database.Close()

	guidelineStore := store.NewGuidelineStore(database)
	if err := guidelineStore.Seed(context.Background()); err != nil {
		logger.Error("Failed to seed guidelines: %v", err)
		os.Exit(1)
	}
	auditStore := store.NewAuditStore(database)
	logger.Info("Database initialized successfully")

	llmSettings := responder.LLMSettings{
		Model:   cfg.LLM.Model,
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  os.Getenv(cfg.LLM.APIKeyEnv),
	}
	newResponders := func(dryRun bool) dialog.ResponderSet {
		if dryRun || llmSettings.APIKey == "" {
			return responder.DryRunSet()
		}
		return dialog.ResponderSet{
			types.RoleApplicant:     responder.NewOpenAIResponder(types.RoleApplicant, llmSettings),
			types.RoleAdministrator: responder.NewOpenAIResponder(types.RoleAdministrator, llmSettings),
		}
	}

	registry := dialog.NewRegistry()
	orch := dialog.NewOrchestrator(registry, newResponders)
	orch.SetFinishHook(func(run dialog.Run) {
		rec := store.AuditRecord{
			RunID:      run.ID,
			Scenario:   run.Scenario,
			State:      string(run.State),
			Turns:      len(run.Turns),
			StartedAt:  run.StartedAt.Unix(),
			FinishedAt: run.UpdatedAt.Unix(),
		}
		if run.Outcome != nil {
			rec.Decision = string(run.Outcome.Decision)
			rec.Method = string(run.Outcome.Method)
			rec.Confidence = run.Outcome.Confidence
		}
		if err := auditStore.Record(context.Background(), rec); err != nil {
			logger.Error("Failed to record run audit for %s: %v", run.ID, err)
		}
	})

	server := httpserver.NewServer(cfg.Server.Port, orch, registry, guidelineStore)
	server.SetSubjectProvider(facts.NewFileProvider(cfg.Storage.SubjectDir))
	server.SetDialogDefaults(dialog.Options{
		MaxTurns:       cfg.Dialog.MaxTurns,
		PerTurnTimeout: time.Duration(cfg.Dialog.PerTurnTimeoutMs) * time.Millisecond,
		HistoryWindow:  cfg.Dialog.HistoryWindow,
	})
	server.SetShutdownTimeout(time.Duration(cfg.Server.ShutdownTimeoutSec) * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Periodic eviction of stale runs; the audit log keeps their record.
	retention := time.Duration(cfg.Dialog.RetentionSec) * time.Second
	go func() {
		ticker := time.NewTicker(retention)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := registry.Cleanup(retention); removed > 0 {
					logger.Info("Evicted %d stale runs", removed)
				}
			}
		}
	}()

	go func() {
		if err := server.Start(ctx); err != nil {
			logger.Error("HTTP server crashed: %v", err)
			os.Exit(1)
		}
	}()

	logger.Info("Eligo is ready to serve.")
	fmt.Println("- Run API:    http://localhost:" + fmt.Sprint(cfg.Server.Port) + "/api/runs (POST)")
	fmt.Println("- Guidelines: http://localhost:" + fmt.Sprint(cfg.Server.Port) + "/api/guidelines/default")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal: %v. Shutting down...", sig)
	cancel()
}
