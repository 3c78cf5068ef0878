package pcap

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// pcapng section header block magic.
var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Reader reads packets from a pcap or pcapng file without libpcap.
type Reader struct {
	file   *os.File
	reader packetReader
}

// NewReader opens the capture file at filePath, detecting pcapng by its magic.
func NewReader(filePath string) (*Reader, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}

	buffered := bufio.NewReader(file)
	head, err := buffered.Peek(4)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}

	var r packetReader
	if bytes.Equal(head, ngMagic) {
		r, err = pcapgo.NewNgReader(buffered, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(buffered)
	}
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to open capture file %s: %w", filePath, err)
	}
	return &Reader{file: file, reader: r}, nil
}

// ReadPacketData returns the next frame; io.EOF marks the end of the file.
func (r *Reader) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := r.reader.ReadPacketData()
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return data, ci, err
}

// LinkType returns the link layer type of the capture.
func (r *Reader) LinkType() layers.LinkType {
	return r.reader.LinkType()
}

// Close closes the underlying file.
func (r *Reader) Close() {
	r.file.Close()
}
