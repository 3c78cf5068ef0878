package model

import "errors"

var (
	// ErrCapture is returned when the capture device cannot be opened.
	ErrCapture = errors.New("capture error")
	// ErrMalformedPacket marks a frame that could not be decoded. It is counted
	// and dropped, never surfaced as a stream failure.
	ErrMalformedPacket = errors.New("malformed packet")
	// ErrExtraction is returned for structurally invalid flow snapshots.
	ErrExtraction = errors.New("feature extraction error")
	// ErrModelUnavailable is returned when no classifier artifact is loaded.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrSinkDelivery wraps notification delivery failures.
	ErrSinkDelivery = errors.New("sink delivery error")
	// ErrCapacityExceeded is reported when the flow table or ready queue sheds load.
	ErrCapacityExceeded = errors.New("capacity exceeded")
)
