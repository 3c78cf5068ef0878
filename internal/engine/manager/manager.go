package manager

import (
	"Go2NetIDS/internal/alerter"
	"Go2NetIDS/internal/clock"
	"Go2NetIDS/internal/config"
	"Go2NetIDS/internal/engine/flowtable"
	"Go2NetIDS/internal/history"
	"Go2NetIDS/internal/metrics"
	"Go2NetIDS/internal/model"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Extractor derives the feature vector of a ready flow.
type Extractor interface {
	Extract(*model.FlowSnapshot) (model.FeatureVector, error)
}

// Observer is called by a worker for every verdict it produces. It must not block.
type Observer func(model.Verdict)

// Options wires the collaborators of a Manager.
type Options struct {
	Config    *config.Config
	Extractor Extractor
	Scorer    model.Scorer
	Notifiers []model.Notifier
	Writers   []model.Writer
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Status is a point-in-time view of the pipeline.
type Status struct {
	Running     bool   `json:"running"`
	Workers     int    `json:"workers"`
	ActiveFlows int    `json:"active_flows"`
	QueueDepth  int    `json:"queue_depth"`
	ReadyShed   uint64 `json:"ready_shed"`
	Evicted     uint64 `json:"flows_evicted"`
	Failed      uint64 `json:"classification_failures"`
}

// Manager runs the detection pipeline: the flow table fed by capture, a
// bounded queue of ready flows, and a worker pool that classifies them.
type Manager struct {
	cfg        *config.Config
	table      *flowtable.Table
	queue      *readyQueue
	extractor  Extractor
	scorer     model.Scorer
	evaluator  *alerter.Evaluator
	dispatcher *alerter.Dispatcher
	history    *history.History
	writers    []model.Writer
	sinks      []*verdictSink
	observers  []Observer
	clock      clock.Clock
	logger     *zap.Logger

	numWorkers    int
	workerWg      sync.WaitGroup
	workersDone   chan struct{}
	flushDone     chan struct{}
	done          chan struct{}
	sweeperWg     sync.WaitGroup
	snapshotterWg sync.WaitGroup

	started  atomic.Bool
	running  atomic.Bool
	failed   atomic.Uint64
	stopOnce sync.Once
	stopErr  error
}

// NewManager creates a new Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Config == nil {
		return nil, errors.New("manager requires a config")
	}
	if opts.Extractor == nil || opts.Scorer == nil {
		return nil, errors.New("manager requires an extractor and a scorer")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	m := &Manager{
		cfg:         cfg,
		queue:       newReadyQueue(cfg.Pipeline.QueueSize),
		extractor:   opts.Extractor,
		scorer:      opts.Scorer,
		history:     history.New(cfg.History.MaxHistory, cfg.History.StatsCacheTTL.D(), clk),
		writers:     opts.Writers,
		clock:       clk,
		logger:      logger,
		numWorkers:  cfg.Pipeline.NumWorkers,
		workersDone: make(chan struct{}),
		flushDone:   make(chan struct{}),
		done:        make(chan struct{}),
	}

	for _, w := range opts.Writers {
		m.sinks = append(m.sinks, newVerdictSink(w, cfg.Pipeline.WriterBuffer))
	}

	m.dispatcher = alerter.NewDispatcher(alerter.DispatcherConfig{
		QueueSize:   cfg.Alerter.QueueSize,
		Workers:     cfg.Alerter.NumDispatchers,
		MaxRetries:  cfg.Alerter.MaxRetries,
		Backoff:     cfg.Alerter.RetryBackoff.D(),
		SendTimeout: cfg.Alerter.SendTimeout.D(),
	}, opts.Notifiers, logger.Named("dispatcher"))
	m.evaluator = alerter.NewEvaluator(cfg.Alerter.Threshold, m.history, m.dispatcher, clk, logger.Named("alerter"))

	m.table = flowtable.New(flowtable.Config{
		ReadyThreshold: cfg.Flow.ReadyThreshold,
		IdleTimeout:    cfg.Flow.IdleTimeout.D(),
		ActiveTimeout:  cfg.Flow.ActiveTimeout.D(),
		MaxFlows:       cfg.Flow.MaxFlows,
		NumShards:      cfg.Flow.NumShards,
	}, clk, m.enqueue, logger.Named("flowtable"))

	return m, nil
}

// Subscribe registers an observer. It must be called before Start.
func (m *Manager) Subscribe(o Observer) {
	m.observers = append(m.observers, o)
}

// History returns the verdict history.
func (m *Manager) History() *history.History { return m.history }

// Dispatcher returns the alert dispatcher.
func (m *Manager) Dispatcher() *alerter.Dispatcher { return m.dispatcher }

// Evaluator returns the alert evaluator.
func (m *Manager) Evaluator() *alerter.Evaluator { return m.evaluator }

// Table returns the flow table.
func (m *Manager) Table() *flowtable.Table { return m.table }

// Status reports the current pipeline state.
func (m *Manager) Status() Status {
	return Status{
		Running:     m.running.Load(),
		Workers:     m.numWorkers,
		ActiveFlows: m.table.Len(),
		QueueDepth:  m.queue.Len(),
		ReadyShed:   m.queue.Shed(),
		Evicted:     m.table.Evicted(),
		Failed:      m.failed.Load(),
	}
}

// Start begins the worker pool, the idle sweeper and one flusher per writer.
func (m *Manager) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	m.dispatcher.Start()

	for _, sink := range m.sinks {
		m.snapshotterWg.Add(1)
		go m.runSnapshotter(sink)
		m.logger.Info("Started verdict flusher", zap.Duration("interval", sink.writer.GetInterval()))
	}

	m.sweeperWg.Add(1)
	go m.runSweeper(m.cfg.Flow.SweepInterval.D())

	m.workerWg.Add(m.numWorkers)
	for i := 0; i < m.numWorkers; i++ {
		go m.worker()
	}
	go func() {
		m.workerWg.Wait()
		close(m.workersDone)
	}()

	m.running.Store(true)
	m.logger.Info("Manager started", zap.Int("workers", m.numWorkers), zap.Int("queue_size", m.cfg.Pipeline.QueueSize))
}

// Process feeds one packet into the flow table. It never waits on classification.
func (m *Manager) Process(pkt *model.PacketInfo) {
	m.table.Add(pkt)
}

// Run feeds packets until the channel closes or ctx is cancelled.
func (m *Manager) Run(ctx context.Context, packets <-chan *model.PacketInfo) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			m.table.Add(pkt)
		}
	}
}

func (m *Manager) enqueue(s model.FlowSnapshot) {
	queued, shed := m.queue.Push(s)
	if !queued {
		m.logger.Debug("classification closed, dropping ready flow", zap.String("flow", s.Key.String()))
		return
	}
	if shed {
		m.logger.Debug("ready queue full, shed oldest flow", zap.Error(model.ErrCapacityExceeded))
	}
}

func (m *Manager) worker() {
	defer m.workerWg.Done()
	for {
		snap, ok := m.queue.Pop()
		if !ok {
			return
		}
		m.classify(&snap)
	}
}

// classify runs one flow through extraction, scoring and evaluation. Any
// failure is confined to this flow.
func (m *Manager) classify(snap *model.FlowSnapshot) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.failed.Add(1)
			metrics.ClassificationErrors.WithLabelValues("panic").Inc()
			m.logger.Error("classification panicked", zap.String("flow", snap.Key.String()), zap.Any("panic", r))
		}
	}()

	vec, err := m.extractor.Extract(snap)
	if err != nil {
		m.failed.Add(1)
		metrics.ClassificationErrors.WithLabelValues("extract").Inc()
		m.logger.Warn("feature extraction failed", zap.String("flow", snap.Key.String()), zap.Error(err))
		return
	}
	confidence, err := m.scorer.Score(vec)
	if err != nil {
		m.failed.Add(1)
		metrics.ClassificationErrors.WithLabelValues("score").Inc()
		m.logger.Warn("scoring failed", zap.String("flow", snap.Key.String()), zap.Error(err))
		return
	}

	v := m.evaluator.EvaluateFlow(snap, confidence)
	metrics.ClassificationLatency.Observe(time.Since(start).Seconds())
	m.logger.Debug("flow classified",
		zap.String("flow", v.Flow),
		zap.Float64("confidence", v.Confidence),
		zap.Bool("alert", v.Alert),
		zap.String("reason", string(snap.Reason)))
	for _, s := range m.sinks {
		s.add(v)
	}
	for _, o := range m.observers {
		o(v)
	}
}

// runSweeper releases idle partial flows periodically.
func (m *Manager) runSweeper(interval time.Duration) {
	defer m.sweeperWg.Done()
	for {
		select {
		case <-m.clock.After(interval):
			m.table.Sweep()
		case <-m.done:
			return
		}
	}
}

// runSnapshotter hands the pending verdicts of one writer over on every
// interval, or earlier when its buffer fills up.
func (m *Manager) runSnapshotter(sink *verdictSink) {
	defer m.snapshotterWg.Done()
	interval := sink.writer.GetInterval()
	if interval <= 0 {
		m.logger.Warn("Invalid writer interval, flusher will not run", zap.Duration("interval", interval))
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.flushWriter(sink)
		case <-sink.kick:
			m.flushWriter(sink)
		case <-m.flushDone:
			m.flushWriter(sink)
			return
		}
	}
}

func (m *Manager) flushWriter(sink *verdictSink) {
	verdicts, dropped := sink.take()
	if dropped > 0 {
		m.logger.Warn("writer buffer overflowed, verdicts not persisted", zap.Uint64("dropped", dropped))
	}
	if len(verdicts) == 0 {
		return
	}
	if err := sink.writer.Write(verdicts); err != nil {
		m.logger.Error("Error writing verdicts", zap.Int("count", len(verdicts)), zap.Error(err))
	}
}

// Stop shuts the pipeline down. Capture must already have stopped feeding
// packets. Live flows are flushed for classification, then workers get up to
// the configured drain timeout (or until ctx is done) before queued flows are
// discarded. Writers get a final flush and are closed.
func (m *Manager) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() {
		m.stopErr = m.stop(ctx)
	})
	return m.stopErr
}

func (m *Manager) stop(ctx context.Context) error {
	m.logger.Info("Manager stopping...")
	m.running.Store(false)
	if m.started.CompareAndSwap(false, true) {
		// Never started: nothing to drain.
		close(m.workersDone)
	}

	close(m.done)
	m.sweeperWg.Wait()

	if n := m.table.Flush(); n > 0 {
		m.logger.Info("Flushed live flows for classification", zap.Int("flows", n))
	}
	m.queue.Close()

	drainCtx, cancel := context.WithTimeout(ctx, m.cfg.Pipeline.DrainTimeout.D())
	defer cancel()

	var errs []error
	m.logger.Info("Waiting for workers to finish...")
	select {
	case <-m.workersDone:
	case <-drainCtx.Done():
		dropped := m.queue.Discard()
		m.logger.Warn("Drain window elapsed, abandoning queued flows", zap.Int("dropped", dropped))
		errs = append(errs, fmt.Errorf("classification drain incomplete, %d flows dropped: %w", dropped, drainCtx.Err()))
	}

	dispatchCtx, cancelDispatch := context.WithTimeout(ctx, m.cfg.Pipeline.DrainTimeout.D())
	defer cancelDispatch()
	if err := m.dispatcher.Stop(dispatchCtx); err != nil {
		errs = append(errs, err)
	}

	m.logger.Info("Waiting for verdict flushers to finish...")
	close(m.flushDone)
	m.snapshotterWg.Wait()
	for _, w := range m.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	m.logger.Info("Manager stopped.")
	return errors.Join(errs...)
}
