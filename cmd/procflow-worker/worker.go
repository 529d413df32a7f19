package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/procflow/procflow/pkg/engine"
	"github.com/procflow/procflow/pkg/eventbus"
	"github.com/procflow/procflow/pkg/events"
	"github.com/procflow/procflow/pkg/scheduler"
)

// Worker runs the scheduler poll loop and subscribes to lifecycle events
// until SIGINT/SIGTERM.
type Worker struct {
	id        string
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	eventBus  eventbus.EventBus
	logger    *slog.Logger
}

func NewWorker(
	id string,
	eng *engine.Engine,
	sched *scheduler.Scheduler,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		id:        id,
		engine:    eng,
		scheduler: sched,
		eventBus:  eventBus,
		logger:    logger,
	}
}

func (w *Worker) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.eventBus.Handle(events.WorkflowEscalatedEvent, w.handleEscalated); err != nil {
		return err
	}

	if err := w.eventBus.Handle(events.WorkflowFailedEvent, w.handleFailed); err != nil {
		return err
	}

	if err := w.eventBus.Subscribe(ctx); err != nil {
		return err
	}

	go w.scheduler.Poll(ctx, w.engine)

	w.logger.InfoContext(ctx, "Worker started")

	<-ctx.Done()

	w.logger.Info("Shutting down worker")

	return nil
}

func (w *Worker) handleEscalated(ctx context.Context, event any) error {
	escalated, ok := event.(*events.WorkflowEscalated)
	if !ok {
		return nil
	}

	w.logger.WarnContext(ctx, "Escalation recorded",
		"instance_id", escalated.InstanceID,
		"node_id", escalated.NodeID,
		"targets", escalated.Targets,
		"repeat", escalated.Repeat)

	return nil
}

func (w *Worker) handleFailed(ctx context.Context, event any) error {
	failed, ok := event.(*events.WorkflowFailed)
	if !ok {
		return nil
	}

	w.logger.ErrorContext(ctx, "Workflow failure recorded",
		"instance_id", failed.InstanceID,
		"node_id", failed.NodeID,
		"error", failed.Error)

	return nil
}
