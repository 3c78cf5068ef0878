package cli

import (
	"Go2NetIDS/internal/api"
	"Go2NetIDS/internal/classifier"
	"Go2NetIDS/internal/config"
	"Go2NetIDS/internal/engine/features"
	"Go2NetIDS/internal/engine/manager"
	"Go2NetIDS/internal/factory"
	"Go2NetIDS/internal/query"
	"fmt"

	// Registers the verdict writers with the factory.
	_ "Go2NetIDS/internal/storage"

	"go.uber.org/zap"
)

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// loadConfig reads and validates the engine configuration. Any violation is fatal.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// pipeline bundles the detection engine and the collaborators built for it.
type pipeline struct {
	cfg     *config.Config
	model   *classifier.Adapter
	manager *manager.Manager
	hub     *api.Hub
	querier query.Querier
	logger  *zap.Logger

	closeNotifiers func()
}

// buildPipeline loads the model and wires notifiers, writers and the manager.
// A model that cannot be loaded aborts startup.
func buildPipeline(cfg *config.Config, logger *zap.Logger) (*pipeline, error) {
	adapter, err := classifier.Load(cfg.Classifier.ModelPath)
	if err != nil {
		return nil, err
	}
	logger.Info("Classifier loaded",
		zap.String("path", cfg.Classifier.ModelPath),
		zap.Int("trees", adapter.Trees()))

	notifiers, closeNotifiers, err := factory.CreateNotifiers(cfg.Notifiers, logger)
	if err != nil {
		return nil, err
	}
	writers, err := factory.CreateWriters(cfg, logger)
	if err != nil {
		closeNotifiers()
		return nil, err
	}

	m, err := manager.NewManager(manager.Options{
		Config:    cfg,
		Extractor: features.NewExtractor(adapter.Vocabularies()),
		Scorer:    adapter,
		Notifiers: notifiers,
		Writers:   writers,
		Logger:    logger.Named("manager"),
	})
	if err != nil {
		closeNotifiers()
		for _, w := range writers {
			w.Close()
		}
		return nil, err
	}

	hub := api.NewHub(256, logger.Named("ws"))
	m.Subscribe(hub.Publish)

	return &pipeline{
		cfg:            cfg,
		model:          adapter,
		manager:        m,
		hub:            hub,
		querier:        openQuerier(cfg, logger),
		logger:         logger,
		closeNotifiers: closeNotifiers,
	}, nil
}

// openQuerier connects to the first enabled ClickHouse writer's database so
// persisted verdicts can be queried. Failure only disables that endpoint.
func openQuerier(cfg *config.Config, logger *zap.Logger) query.Querier {
	for _, def := range cfg.Writers {
		if !def.Enabled || def.Type != "clickhouse" {
			continue
		}
		q, err := query.NewClickHouseQuerier(def.ClickHouse)
		if err != nil {
			logger.Warn("Verdict history queries disabled", zap.Error(err))
			return nil
		}
		return q
	}
	return nil
}

func (p *pipeline) modelInfo() api.ModelInfo {
	return api.ModelInfo{
		Path:      p.cfg.Classifier.ModelPath,
		Trees:     p.model.Trees(),
		Threshold: p.cfg.Alerter.Threshold,
	}
}

// close releases notifier and querier connections. The manager must already
// be stopped.
func (p *pipeline) close() {
	p.closeNotifiers()
	if p.querier != nil {
		p.querier.Close()
	}
}
