package manager

import (
	"Go2NetIDS/internal/model"
	"sync"
)

// verdictSink holds the verdicts a writer has not persisted yet.
type verdictSink struct {
	writer model.Writer
	limit  int

	mu      sync.Mutex
	pending []model.Verdict
	dropped uint64

	// kick asks the flusher for an early write once half the buffer is used.
	kick chan struct{}
}

func newVerdictSink(w model.Writer, limit int) *verdictSink {
	return &verdictSink{
		writer: w,
		limit:  limit,
		kick:   make(chan struct{}, 1),
	}
}

// add appends v, dropping the oldest pending verdict when the buffer is full.
func (s *verdictSink) add(v model.Verdict) {
	s.mu.Lock()
	if len(s.pending) >= s.limit {
		copy(s.pending, s.pending[1:])
		s.pending = s.pending[:len(s.pending)-1]
		s.dropped++
	}
	s.pending = append(s.pending, v)
	n := len(s.pending)
	s.mu.Unlock()

	if n >= s.limit/2 {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// take returns the pending verdicts oldest first and how many were dropped
// since the previous call.
func (s *verdictSink) take() ([]model.Verdict, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	dropped := s.dropped
	s.pending = nil
	s.dropped = 0
	return out, dropped
}
