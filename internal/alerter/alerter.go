package alerter

import (
	"Go2NetIDS/internal/clock"
	"Go2NetIDS/internal/metrics"
	"Go2NetIDS/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Recorder stores verdicts.
type Recorder interface {
	Record(model.Verdict) uint64
}

// Evaluator turns confidence scores into verdicts. Every verdict is recorded;
// alerting ones are also handed to the dispatcher without waiting on delivery.
type Evaluator struct {
	threshold  float64
	recorder   Recorder
	dispatcher *Dispatcher
	clock      clock.Clock
	logger     *zap.Logger
}

// NewEvaluator creates an Evaluator. A confidence equal to threshold alerts.
// dispatcher may be nil when no notifiers are configured.
func NewEvaluator(threshold float64, recorder Recorder, dispatcher *Dispatcher, clk clock.Clock, logger *zap.Logger) *Evaluator {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		threshold:  threshold,
		recorder:   recorder,
		dispatcher: dispatcher,
		clock:      clk,
		logger:     logger,
	}
}

// Threshold returns the alert threshold.
func (e *Evaluator) Threshold() float64 {
	return e.threshold
}

// Evaluate produces the verdict for a flow key. Source and destination follow
// key order since no initiator is known.
func (e *Evaluator) Evaluate(key model.FlowKey, confidence float64) model.Verdict {
	return e.finish(model.Verdict{
		Flow:        key.String(),
		Source:      key.A.String(),
		Destination: key.B.String(),
		Confidence:  confidence,
	})
}

// EvaluateFlow produces the verdict for a classified snapshot.
func (e *Evaluator) EvaluateFlow(s *model.FlowSnapshot, confidence float64) model.Verdict {
	return e.finish(model.Verdict{
		Flow:        s.Key.String(),
		Source:      s.Initiator.String(),
		Destination: s.Responder.String(),
		Confidence:  confidence,
		Degraded:    s.Degraded,
		Packets:     s.PacketCount,
	})
}

func (e *Evaluator) finish(v model.Verdict) model.Verdict {
	v.ID = uuid.NewString()
	v.Alert = v.Confidence >= e.threshold
	v.Timestamp = e.clock.Now()

	if e.recorder != nil {
		v.Seq = e.recorder.Record(v)
	}
	if !v.Alert {
		metrics.Verdicts.WithLabelValues("benign").Inc()
		return v
	}

	metrics.Verdicts.WithLabelValues("alert").Inc()
	e.logger.Warn("threat detected",
		zap.String("flow", v.Flow),
		zap.String("source", v.Source),
		zap.String("destination", v.Destination),
		zap.Float64("confidence", v.Confidence),
		zap.Bool("degraded", v.Degraded))
	if e.dispatcher != nil {
		e.dispatcher.Enqueue(model.AlertFromVerdict(v))
	}
	return v
}
