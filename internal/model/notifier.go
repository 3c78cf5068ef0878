package model

import "context"

// Notifier delivers an alert to an external sink.
type Notifier interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}
