// Package registry holds the process-wide tables of custom guards and
// action handlers. Registration happens at engine construction; the tables
// are read-only afterwards.
package registry

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"strings"

	"github.com/procflow/procflow/pkg/protocol"
)

type Registry struct {
	logger           *slog.Logger
	guardFuncs       map[string]protocol.GuardFunc
	handlerFactories map[string]protocol.ActionHandlerFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:           log,
		guardFuncs:       make(map[string]protocol.GuardFunc),
		handlerFactories: make(map[string]protocol.ActionHandlerFactory),
	}
}

func (r *Registry) RegisterGuard(name string, fn protocol.GuardFunc) {
	r.guardFuncs[name] = fn
}

func (r *Registry) RegisterActionHandler(factory protocol.ActionHandlerFactory) {
	r.handlerFactories[factory.ID()] = factory
}

// GuardFuncs returns a copy of the registered guard table for the engine.
func (r *Registry) GuardFuncs() map[string]protocol.GuardFunc {
	table := make(map[string]protocol.GuardFunc, len(r.guardFuncs))
	for name, fn := range r.guardFuncs {
		table[name] = fn
	}

	return table
}

// ActionHandlers instantiates one handler per registered factory.
func (r *Registry) ActionHandlers(config map[string]any) (map[string]protocol.ActionHandler, error) {
	handlers := make(map[string]protocol.ActionHandler, len(r.handlerFactories))

	for name, factory := range r.handlerFactories {
		handler, err := factory.Create(config)
		if err != nil {
			return nil, fmt.Errorf("creating action handler %q: %w", name, err)
		}

		handlers[name] = handler
	}

	return handlers, nil
}

func (r *Registry) CreateActionHandler(name string, config map[string]any) (protocol.ActionHandler, error) {
	factory, ok := r.handlerFactories[name]
	if !ok {
		return nil, fmt.Errorf("action handler %q not registered", name)
	}

	return factory.Create(config)
}

// LoadActionHandlerPlugins loads *.so plugins exposing an ActionHandler
// symbol and registers their factories.
func (r *Registry) LoadActionHandlerPlugins(pluginsPath string) ([]protocol.ActionHandlerFactory, error) {
	return loadPlugin[protocol.ActionHandlerFactory](r.logger, pluginsPath, "ActionHandler")
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := pluginsPath + "/" + strings.ToLower(symbolName) + "s"
	root := os.DirFS(rootPath)

	pluginPathList, err := fs.Glob(root, "**/*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", pluginsPath), slog.String("type", symbolName))
	l.Info("Loading plugins")

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return nil, fmt.Errorf("opening plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("plugin %s has no %s symbol: %w", p, symbolName, err)
		}

		castV, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("plugin %s symbol %s has unexpected type", p, symbolName)
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
