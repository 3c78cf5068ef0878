package probe

import (
	"Go2NetIDS/internal/model"
	"Go2NetIDS/pkg/pcap"
	"fmt"

	"go.uber.org/zap"
)

// OpenFile opens a pcap/pcapng file as a finite packet source.
func OpenFile(path string, logger *zap.Logger) (*Source, error) {
	reader, err := pcap.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCapture, err)
	}
	return NewSource(path, reader, nil, logger), nil
}
