// Package live opens network interfaces for capture through libpcap.
package live

import (
	"Go2NetIDS/internal/config"
	"Go2NetIDS/internal/model"
	"Go2NetIDS/internal/probe"
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket/pcap"
	"go.uber.org/zap"
)

// readTimeout bounds each blocking read so the capture loop notices
// cancellation without closing the handle under it.
const readTimeout = 500 * time.Millisecond

// Open starts a live capture on the configured interface. Unknown devices and
// permission failures are reported as model.ErrCapture.
func Open(cfg config.CaptureConfig, logger *zap.Logger) (*probe.Source, error) {
	if cfg.Interface == "" {
		return nil, fmt.Errorf("%w: no interface given", model.ErrCapture)
	}
	if err := checkDevice(cfg.Interface); err != nil {
		return nil, err
	}

	inactive, err := pcap.NewInactiveHandle(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrCapture, cfg.Interface, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(int(cfg.SnapshotLen)); err != nil {
		return nil, fmt.Errorf("%w: set snaplen: %v", model.ErrCapture, err)
	}
	if err := inactive.SetPromisc(cfg.Promiscuous); err != nil {
		return nil, fmt.Errorf("%w: set promiscuous: %v", model.ErrCapture, err)
	}
	if err := inactive.SetTimeout(readTimeout); err != nil {
		return nil, fmt.Errorf("%w: set timeout: %v", model.ErrCapture, err)
	}
	if cfg.BufferSize > 0 {
		if err := inactive.SetBufferSize(cfg.BufferSize * 1024); err != nil {
			return nil, fmt.Errorf("%w: set buffer size: %v", model.ErrCapture, err)
		}
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("%w: activate %s (are you root?): %v", model.ErrCapture, cfg.Interface, err)
	}

	if cfg.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("%w: bpf filter %q: %v", model.ErrCapture, cfg.BPFFilter, err)
		}
	}

	logger.Info("Live capture opened",
		zap.String("interface", cfg.Interface),
		zap.Int32("snaplen", cfg.SnapshotLen),
		zap.Bool("promiscuous", cfg.Promiscuous),
		zap.String("filter", cfg.BPFFilter),
	)
	return probe.NewSource(cfg.Interface, handle, isTimeout, logger), nil
}

// checkDevice fails early with the list of known devices when name is not
// one of them.
func checkDevice(name string) error {
	devices, err := pcap.FindAllDevs()
	if err != nil {
		return fmt.Errorf("%w: list devices: %v", model.ErrCapture, err)
	}
	names := make([]string, 0, len(devices))
	for _, d := range devices {
		if d.Name == name {
			return nil
		}
		names = append(names, d.Name)
	}
	return fmt.Errorf("%w: device %q not found (available: %v)", model.ErrCapture, name, names)
}

func isTimeout(err error) bool {
	return errors.Is(err, pcap.NextErrorTimeoutExpired)
}
