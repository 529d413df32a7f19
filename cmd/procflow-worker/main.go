package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/procflow/procflow/pkg/actions"
	"github.com/procflow/procflow/pkg/clock"
	"github.com/procflow/procflow/pkg/cmd"
	"github.com/procflow/procflow/pkg/engine"
	"github.com/procflow/procflow/pkg/guards"
	"github.com/procflow/procflow/pkg/log"
	"github.com/procflow/procflow/pkg/otelhelper"
	"github.com/procflow/procflow/pkg/scheduler"
)

func main() {
	command := &cli.Command{
		Name:                  "procflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Run the workflow engine worker: timers, escalations and event handling",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Persistence URL (postgres://, redis://, memory://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "plugins-path",
				Usage:   "Path to the directory containing action handler plugins",
				Value:   "",
				Sources: cli.EnvVars("PLUGINS_PATH"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "Scheduler poll interval",
				Value:   time.Second,
				Sources: cli.EnvVars("SCHEDULER_POLL_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("procflow-worker").With("worker_id", workerID)

	logger.InfoContext(ctx, "Initializing procflow worker")

	if _, err := otelhelper.NewTracer(ctx, "procflow-worker"); err != nil {
		logger.WarnContext(ctx, "Tracing disabled", "error", err)
	}

	reg := cmd.NewRegistry(logger, command.String("plugins-path"))

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Closing event bus", "error", err)
		}
	}()

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Closing persistence", "error", err)
		}
	}()

	handlers, err := reg.ActionHandlers(nil)
	if err != nil {
		return err
	}

	clk := clock.System{}
	sched := scheduler.NewScheduler(clk, logger, command.Duration("poll-interval"))

	executor := actions.NewDefaultExecutor(
		&logNotifier{logger: logger},
		&logIntegration{logger: logger},
		handlers,
		actions.DefaultRetryPolicy(),
		logger,
	)

	eng := engine.New(engine.Config{
		Definitions: store,
		Instances:   store,
		Evaluator:   guards.NewEvaluator(reg.GuardFuncs()),
		Executor:    executor,
		Scheduler:   sched,
		Publisher:   eventBus,
		Clock:       clk,
		Logger:      logger,
	})

	worker := NewWorker(workerID, eng, sched, eventBus, logger)

	return worker.Start(ctx)
}
