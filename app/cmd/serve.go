package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lexcodex/parley/agents"
	"github.com/lexcodex/parley/config"
	"github.com/lexcodex/parley/dispatch"
	"github.com/lexcodex/parley/engine"
	"github.com/lexcodex/parley/llm"
	"github.com/lexcodex/parley/metrics"
	"github.com/lexcodex/parley/persistence"
	"github.com/lexcodex/parley/retrieval"
	"github.com/lexcodex/parley/server"
	"github.com/lexcodex/parley/trigger"
)

// newServeCmd runs the dispatcher and HTTP API until interrupted.
func newServeCmd() *cobra.Command {
	var listenAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := globalCfg
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := log.New(os.Stderr, "parley ", log.LstdFlags|log.Lmsgprefix)

	db, err := persistence.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()
	store, err := persistence.NewSQLiteConversationStore(db)
	if err != nil {
		return err
	}
	planning, err := persistence.NewSQLitePlanningStore(db)
	if err != nil {
		return err
	}

	queue, err := trigger.NewFileQueue(cfg.TriggerDir)
	if err != nil {
		return err
	}
	defer queue.Close()

	if err := os.MkdirAll(filepath.Dir(cfg.TelemetryPath), 0o755); err != nil {
		return err
	}
	events, err := engine.NewJSONFileTelemetry(cfg.TelemetryPath)
	if err != nil {
		return err
	}
	defer events.Close()
	telemetry := engine.MultiplexTelemetry{Sinks: []engine.Telemetry{events, engine.LoggerTelemetry{Logger: logger}}}

	var retriever engine.ContextProvider
	if cfg.RetrievalDir != "" {
		index := retrieval.NewMemoryStore()
		chunks, err := index.LoadDirectory(ctx, cfg.RetrievalDir)
		if err != nil {
			return err
		}
		logger.Printf("indexed %d chunks from %s", chunks, cfg.RetrievalDir)
		retriever = index
	}

	responderA := agents.NewLLMResponder(
		llm.NewClient(cfg.AgentA.Endpoint, cfg.AgentA.Model),
		engine.RoleAgentA, cfg.AgentA.Persona,
		llm.Options{Temperature: cfg.AgentA.Temperature})
	responderB := agents.NewLLMResponder(
		llm.NewClient(cfg.AgentB.Endpoint, cfg.AgentB.Model),
		engine.RoleAgentB, cfg.AgentB.Persona,
		llm.Options{Temperature: cfg.AgentB.Temperature})

	coord := engine.NewCoordinator(store, retriever, telemetry, logger, engine.CoordinatorConfig{
		WindowSize:       cfg.WindowSize,
		ResponderTimeout: cfg.ResponderTimeout(),
	})
	coord.RegisterResponder(engine.RoleAgentA, responderA)
	coord.RegisterResponder(engine.RoleAgentB, responderB)

	workflow := engine.NewWorkflow(store, planning, retriever, telemetry, logger, engine.WorkflowConfig{
		MaxValidationRetries: cfg.MaxValidationRetries,
		ResponderTimeout:     cfg.ResponderTimeout(),
	})
	workflow.RegisterResponder(engine.RoleAgentA, responderA)
	workflow.RegisterResponder(engine.RoleAgentB, responderB)

	metricSet := metrics.NewSet()
	dispatcher := dispatch.New(store, coord, workflow, queue, metricSet, telemetry, logger, dispatch.Config{
		PollInterval: cfg.PollInterval(),
		Debounce:     cfg.Debounce(),
	})

	api := &server.API{
		Store:       store,
		Planning:    planning,
		Queue:       queue,
		Interjector: dispatcher,
		Metrics:     metricSet.Handler(),
		Logger:      logger,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- dispatcher.Run(ctx)
	}()
	if err := api.Serve(ctx, cfg.ListenAddr); err != nil && ctx.Err() == nil {
		return err
	}
	<-errCh
	return nil
}
