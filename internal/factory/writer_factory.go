package factory

import (
	"Go2NetIDS/internal/config"
	"Go2NetIDS/internal/model"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// WriterFactory creates a verdict writer from its definition.
type WriterFactory func(def config.WriterDef, logger *zap.Logger) (model.Writer, error)

var (
	mu sync.RWMutex
	// registry holds the mapping of writer types to their factory functions.
	registry = make(map[string]WriterFactory)
)

// RegisterWriter registers a new writer type with its factory function.
func RegisterWriter(name string, factory WriterFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("writer type '%s' already registered", name))
	}
	registry[name] = factory
}

// WriterTypes lists the registered writer types.
func WriterTypes() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateWriters builds every enabled writer in the config. Writers already
// created are closed if a later one fails.
func CreateWriters(cfg *config.Config, logger *zap.Logger) ([]model.Writer, error) {
	var writers []model.Writer
	for _, def := range cfg.Writers {
		if !def.Enabled {
			continue
		}
		logger.Info("Creating verdict writer", zap.String("type", def.Type))

		mu.RLock()
		factory, ok := registry[def.Type]
		mu.RUnlock()
		if !ok {
			closeAll(writers)
			return nil, fmt.Errorf("unknown writer type: '%s'", def.Type)
		}

		w, err := factory(def, logger.Named(def.Type))
		if err != nil {
			closeAll(writers)
			return nil, fmt.Errorf("error creating writer type '%s': %w", def.Type, err)
		}
		writers = append(writers, w)
	}
	return writers, nil
}

func closeAll(writers []model.Writer) {
	for _, w := range writers {
		w.Close()
	}
}
