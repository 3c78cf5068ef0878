package model

import "time"

// Writer defines a generic interface for persisting verdicts to a store.
type Writer interface {
	// Write persists a batch of verdicts recorded since the previous call.
	Write(verdicts []Verdict) error

	// GetInterval returns the configured flush interval for this writer.
	GetInterval() time.Duration

	Close() error
}
