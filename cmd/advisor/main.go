package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/finsight/advisor/internal/profile"
	"github.com/finsight/advisor/plugin/ai"
	"github.com/finsight/advisor/plugin/ai/agent"
	"github.com/finsight/advisor/plugin/ai/session"
	"github.com/finsight/advisor/plugin/marketdata"
	"github.com/finsight/advisor/server"
	apiv1 "github.com/finsight/advisor/server/router/api/v1"
	"github.com/finsight/advisor/store/db"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "advisor",
	Short: "Interactive open-interest analysis assistant",
	Long:  "Advisor hosts tool-augmented analysis conversations: sessions seeded with an analysis snapshot, a model endpoint that can call live market-data tools, and an HTTP API to drive it all.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
	SilenceUsage: true,
}

func run(ctx context.Context) error {
	prof, err := profile.FromEnv(version)
	if err != nil {
		return err
	}
	if prof.IsDev() {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	database, err := db.Open(prof.DSN)
	if err != nil {
		return err
	}
	defer database.Close()

	sessions := session.NewStore(database, session.WithTTL(prof.SessionTTL))

	cleanup := session.NewCleanupJob(database, session.DefaultCleanupInterval)
	cleanup.Start(ctx)
	defer cleanup.Stop()

	if !prof.IsLLMConfigured() {
		slog.Warn("no model endpoint configured, conversation turns will fail",
			"hint", "set ADVISOR_LLM_API_KEY")
	}
	model := ai.NewProvider(&ai.Config{
		BaseURL:           prof.LLMBaseURL,
		APIKey:            prof.LLMAPIKey,
		Model:             prof.LLMModel,
		MaxRetries:        3,
		RequestsPerSecond: 2,
	})

	registry := agent.NewRegistry()
	marketService := marketdata.NewService(prof.OICommand, prof.MarketDataCommand, prof.ToolCallTimeout)
	if err := marketdata.RegisterTools(registry, marketService); err != nil {
		return err
	}

	dispatcher := agent.NewDispatcher(prof.ToolPoolSize,
		agent.WithCallTimeout(prof.ToolCallTimeout),
		agent.WithBatchTimeout(prof.ToolBatchTimeout))
	orchestrator := agent.NewOrchestrator(model, registry, dispatcher, sessions,
		agent.WithMaxToolRounds(prof.MaxToolRounds))

	apiService := apiv1.NewAPIV1Service(prof, sessions, orchestrator, registry)
	srv := server.NewServer(prof, apiService)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig.String())
	}

	return srv.Shutdown(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
