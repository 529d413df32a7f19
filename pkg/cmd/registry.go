package cmd

import (
	"log/slog"
	"time"

	"github.com/procflow/procflow/pkg/models"
	"github.com/procflow/procflow/pkg/protocol"
	"github.com/procflow/procflow/pkg/registry"
)

// NewRegistry builds the guard/action-handler registry: native guards
// first, then action handler plugins from pluginsPath when present.
func NewRegistry(logger *slog.Logger, pluginsPath string) *registry.Registry {
	reg := registry.NewRegistry(logger)

	registerNativeGuards(reg)

	if pluginsPath != "" {
		factories, err := reg.LoadActionHandlerPlugins(pluginsPath)
		if err != nil {
			logger.Warn("Loading action handler plugins", "path", pluginsPath, "error", err)
		}

		for _, factory := range factories {
			reg.RegisterActionHandler(factory)
		}
	}

	return reg
}

func registerNativeGuards(reg *registry.Registry) {
	reg.RegisterGuard("business_hours", businessHoursGuard)
}

// businessHoursGuard allows entry Monday through Friday, 09:00 to 17:00
// UTC. Time comes from the evaluation context, never the wall clock, so
// the guard stays pure.
func businessHoursGuard(ctx protocol.EvalContext, _ map[string]any) models.GuardResult {
	t := time.Unix(ctx.Now, 0).UTC()

	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return models.Deny("outside business hours")
	}

	if h := t.Hour(); h < 9 || h >= 17 {
		return models.Deny("outside business hours")
	}

	return models.Allow()
}
