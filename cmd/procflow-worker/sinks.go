package main

import (
	"context"
	"fmt"
	"log/slog"
)

// logNotifier delivers notifications to the log. Deployments replace it
// with a real channel (mail, chat) through the protocol.NotificationSink
// interface.
type logNotifier struct {
	logger *slog.Logger
}

func (n *logNotifier) Send(ctx context.Context, template string, recipients []string, payload map[string]any) error {
	n.logger.InfoContext(ctx, "Notification",
		"template", template, "recipients", recipients, "payload", payload)

	return nil
}

// logIntegration rejects external invocations: the worker has no
// integration targets wired by default.
type logIntegration struct {
	logger *slog.Logger
}

func (i *logIntegration) Invoke(ctx context.Context, target, operation string, payload map[string]any) (map[string]any, error) {
	i.logger.WarnContext(ctx, "No integration client configured",
		"target", target, "operation", operation)

	return nil, fmt.Errorf("no integration client configured for target %q", target)
}
