// Package history keeps the bounded log of recent verdicts and the cached
// aggregate served to status queries.
package history

import (
	"Go2NetIDS/internal/clock"
	"Go2NetIDS/internal/model"
	"sync"
	"time"
)

// StatsSnapshot is an aggregate over the verdicts currently held. A snapshot
// is never modified after it is computed.
type StatsSnapshot struct {
	// TotalAnalyzed counts every verdict ever recorded.
	TotalAnalyzed uint64 `json:"total_analyzed"`
	// TotalAlerts counts every alerting verdict ever recorded.
	TotalAlerts uint64 `json:"total_alerts"`
	// HistorySize is the number of verdicts in the window below.
	HistorySize   int             `json:"history_size"`
	AlertCount    int             `json:"alert_count"`
	DegradedCount int             `json:"degraded_count"`
	ThreatRate    float64         `json:"threat_rate"`
	AvgConfidence float64         `json:"avg_confidence"`
	LastAlert     *model.Verdict  `json:"last_alert,omitempty"`
	Recent        []model.Verdict `json:"recent"`
	ComputedAt    time.Time       `json:"computed_at"`
}

// Age reports how old the snapshot is at now.
func (s *StatsSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.ComputedAt)
}

// History is a fixed-capacity FIFO of verdicts. Record and Snapshot may be
// called concurrently.
type History struct {
	mu     sync.RWMutex
	buf    []model.Verdict
	head   int // index of the oldest verdict
	size   int
	seq    uint64
	alerts uint64

	cacheMu  sync.Mutex
	cached   *StatsSnapshot
	ttl      time.Duration
	clock    clock.Clock
	computes uint64
}

// New creates a history holding at most maxHistory verdicts whose snapshot
// is recomputed at most once per ttl.
func New(maxHistory int, ttl time.Duration, clk clock.Clock) *History {
	if maxHistory < 1 {
		maxHistory = 1
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &History{
		buf:   make([]model.Verdict, maxHistory),
		ttl:   ttl,
		clock: clk,
	}
}

// Record appends a verdict, evicting the oldest when full. It assigns and
// returns the verdict's sequence number.
func (h *History) Record(v model.Verdict) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	v.Seq = h.seq
	if v.Alert {
		h.alerts++
	}
	if h.size < len(h.buf) {
		h.buf[(h.head+h.size)%len(h.buf)] = v
		h.size++
	} else {
		h.buf[h.head] = v
		h.head = (h.head + 1) % len(h.buf)
	}
	return v.Seq
}

// Len returns the number of verdicts held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Cap returns the maximum number of verdicts held.
func (h *History) Cap() int {
	return len(h.buf)
}

// Total returns the number of verdicts ever recorded.
func (h *History) Total() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// at returns the i-th oldest verdict. The caller holds h.mu.
func (h *History) at(i int) model.Verdict {
	return h.buf[(h.head+i)%len(h.buf)]
}

// Recent returns up to n verdicts, newest first. n <= 0 returns all.
func (h *History) Recent(n int) []model.Verdict {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 || n > h.size {
		n = h.size
	}
	out := make([]model.Verdict, 0, n)
	for i := h.size - 1; i >= h.size-n; i-- {
		out = append(out, h.at(i))
	}
	return out
}

// Snapshot returns the cached aggregate while it is younger than the TTL,
// otherwise recomputes it from the current window.
func (h *History) Snapshot() *StatsSnapshot {
	h.cacheMu.Lock()
	defer h.cacheMu.Unlock()
	now := h.clock.Now()
	if h.cached != nil && now.Sub(h.cached.ComputedAt) < h.ttl {
		return h.cached
	}
	h.cached = h.compute(now)
	h.computes++
	return h.cached
}

// Invalidate drops the cached snapshot.
func (h *History) Invalidate() {
	h.cacheMu.Lock()
	h.cached = nil
	h.cacheMu.Unlock()
}

func (h *History) compute(now time.Time) *StatsSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := &StatsSnapshot{
		TotalAnalyzed: h.seq,
		TotalAlerts:   h.alerts,
		HistorySize:   h.size,
		Recent:        make([]model.Verdict, 0, h.size),
		ComputedAt:    now,
	}
	var confSum float64
	for i := h.size - 1; i >= 0; i-- {
		v := h.at(i)
		s.Recent = append(s.Recent, v)
		if v.Degraded {
			s.DegradedCount++
		}
		if !v.Alert {
			continue
		}
		s.AlertCount++
		confSum += v.Confidence
		if s.LastAlert == nil {
			last := v
			s.LastAlert = &last
		}
	}
	if s.HistorySize > 0 {
		s.ThreatRate = float64(s.AlertCount) / float64(s.HistorySize)
	}
	if s.AlertCount > 0 {
		s.AvgConfidence = confSum / float64(s.AlertCount)
	}
	return s
}
