package alerter

import (
	"Go2NetIDS/internal/metrics"
	"Go2NetIDS/internal/model"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DispatcherConfig bounds notification delivery.
type DispatcherConfig struct {
	QueueSize   int
	Workers     int
	MaxRetries  int
	Backoff     time.Duration
	SendTimeout time.Duration
}

// Dispatcher delivers alerts to every notifier off the classification path.
// Enqueue never blocks; a full queue drops the alert.
type Dispatcher struct {
	cfg       DispatcherConfig
	notifiers []model.Notifier
	queue     chan model.Alert
	logger    *zap.Logger

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Call Start before enqueueing.
func NewDispatcher(cfg DispatcherConfig, notifiers []model.Notifier, logger *zap.Logger) *Dispatcher {
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:       cfg,
		notifiers: notifiers,
		queue:     make(chan model.Alert, cfg.QueueSize),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Notifiers returns the names of the configured notifiers.
func (d *Dispatcher) Notifiers() []string {
	names := make([]string, len(d.notifiers))
	for i, n := range d.notifiers {
		names[i] = n.Name()
	}
	return names
}

// Start launches the delivery workers.
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	d.logger.Info("Alert dispatcher started",
		zap.Int("workers", d.cfg.Workers), zap.Strings("notifiers", d.Notifiers()))
}

// Enqueue hands an alert to the delivery workers. It reports false when the
// alert was dropped.
func (d *Dispatcher) Enqueue(a model.Alert) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- a:
		return true
	default:
		d.logger.Warn("alert queue full, dropping alert", zap.String("alert", a.ID), zap.String("flow", a.Flow))
		for _, n := range d.notifiers {
			metrics.NotificationFailures.WithLabelValues(n.Name()).Inc()
		}
		return false
	}
}

// Stop closes the queue and waits for queued alerts to be delivered until ctx
// is done, after which in-flight retries are abandoned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return fmt.Errorf("alert dispatcher drain interrupted: %w", ctx.Err())
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for a := range d.queue {
		for _, n := range d.notifiers {
			if err := d.deliver(n, a); err != nil {
				metrics.NotificationFailures.WithLabelValues(n.Name()).Inc()
				d.logger.Warn("alert delivery failed",
					zap.String("notifier", n.Name()),
					zap.String("alert", a.ID),
					zap.Error(err))
				continue
			}
			metrics.NotificationsSent.WithLabelValues(n.Name()).Inc()
		}
	}
}

// deliver sends a to n, retrying with exponential backoff.
func (d *Dispatcher) deliver(n model.Notifier, a model.Alert) error {
	backoff := d.cfg.Backoff
	var err error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-d.ctx.Done():
				return fmt.Errorf("%w: %s: abandoned after %d attempts: %v", model.ErrSinkDelivery, n.Name(), attempt, err)
			}
		}
		err = d.send(n, a)
		if err == nil {
			return nil
		}
		d.logger.Debug("alert send attempt failed",
			zap.String("notifier", n.Name()), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return fmt.Errorf("%w: %s: %d attempts: %v", model.ErrSinkDelivery, n.Name(), d.cfg.MaxRetries+1, err)
}

func (d *Dispatcher) send(n model.Notifier, a model.Alert) error {
	ctx := d.ctx
	if d.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
	}
	return n.Send(ctx, a)
}
