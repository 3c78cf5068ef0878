package probe

import (
	"Go2NetIDS/internal/engine/protocol"
	"Go2NetIDS/internal/metrics"
	"Go2NetIDS/internal/model"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"go.uber.org/zap"
)

// Handle is a capture device or file: the part of *pcap.Handle and
// *pcapgo.Reader the packet source relies on.
type Handle interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	Close()
}

// Stats are the running counters of a packet source.
type Stats struct {
	Captured uint64 `json:"captured"`
	Dropped  uint64 `json:"dropped"`
	Ignored  uint64 `json:"ignored"`
}

// Source turns a capture handle into a stream of PacketInfo. The stream is
// single-use: Packets may be called once, and the handle is released by Close.
type Source struct {
	handle  Handle
	name    string
	logger  *zap.Logger
	timeout func(error) bool

	captured atomic.Uint64
	dropped  atomic.Uint64
	ignored  atomic.Uint64

	started   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewSource wraps an opened handle. isTimeout reports read errors that only
// mean "no packet yet" on live handles; it may be nil.
func NewSource(name string, h Handle, isTimeout func(error) bool, logger *zap.Logger) *Source {
	if isTimeout == nil {
		isTimeout = func(error) bool { return false }
	}
	return &Source{
		handle:  h,
		name:    name,
		logger:  logger.Named("probe").With(zap.String("source", name)),
		timeout: isTimeout,
		done:    make(chan struct{}),
	}
}

// Packets starts the capture loop and returns its output channel. The channel
// is closed when ctx is cancelled, the handle reaches end of input, or the
// handle fails. Malformed frames are counted and skipped.
func (s *Source) Packets(ctx context.Context) <-chan *model.PacketInfo {
	out := make(chan *model.PacketInfo, 1024)
	if !s.started.CompareAndSwap(false, true) {
		close(out)
		s.logger.Warn("Packet stream requested twice; sources are not restartable")
		return out
	}

	go func() {
		defer close(out)
		defer close(s.done)

		linkType := s.handle.LinkType()
		for {
			if ctx.Err() != nil {
				return
			}

			data, ci, err := s.handle.ReadPacketData()
			if err != nil {
				if s.timeout(err) {
					continue
				}
				if errors.Is(err, io.EOF) {
					s.logger.Info("End of capture input reached")
				} else {
					s.logger.Error("Capture read failed, stopping source", zap.Error(err))
				}
				return
			}

			packet := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
			packet.Metadata().CaptureInfo = ci

			info, err := protocol.ParsePacket(packet)
			if err != nil {
				if errors.Is(err, protocol.ErrNotIP) {
					s.ignored.Add(1)
					continue
				}
				s.dropped.Add(1)
				metrics.FramesDropped.Inc()
				s.logger.Debug("Dropping malformed frame", zap.Error(err))
				continue
			}

			s.captured.Add(1)
			metrics.PacketsCaptured.Inc()

			select {
			case out <- info:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// Stats returns a copy of the source counters.
func (s *Source) Stats() Stats {
	return Stats{
		Captured: s.captured.Load(),
		Dropped:  s.dropped.Load(),
		Ignored:  s.ignored.Load(),
	}
}

// Dropped returns the number of malformed frames skipped so far.
func (s *Source) Dropped() uint64 {
	return s.dropped.Load()
}

// Close releases the capture handle. It waits for a running capture loop to
// observe cancellation of its context before closing, so callers must cancel
// that context first.
func (s *Source) Close() {
	s.closeOnce.Do(func() {
		if s.started.Load() {
			<-s.done
		}
		s.handle.Close()
		s.logger.Info("Capture handle released", zap.Uint64("captured", s.captured.Load()), zap.Uint64("dropped", s.dropped.Load()))
	})
}
