package notification

import (
	"Go2NetIDS/internal/model"
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes alerts to the log. It is used when no external sink is
// configured so alerts are never silently discarded.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Send(_ context.Context, a model.Alert) error {
	l.logger.Info("ALERT",
		zap.String("id", a.ID),
		zap.String("source", a.Source),
		zap.String("destination", a.Destination),
		zap.Float64("confidence", a.Confidence),
		zap.Time("timestamp", a.Timestamp))
	return nil
}
