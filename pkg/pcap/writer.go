package pcap

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// TCPFlags selects the control bits of a synthesized TCP segment.
type TCPFlags struct {
	SYN, ACK, FIN, RST, PSH bool
}

// Segment describes one synthesized IPv4 packet. Protocol is TCP unless UDP is set.
type Segment struct {
	Timestamp time.Time
	SrcIP     net.IP
	DstIP     net.IP
	SrcPort   uint16
	DstPort   uint16
	UDP       bool
	Flags     TCPFlags
	Payload   []byte
}

// Writer builds Ethernet/IPv4 frames and writes them to a pcap stream.
type Writer struct {
	w   *pcapgo.Writer
	buf gopacket.SerializeBuffer
	seq uint32
}

// NewWriter writes the pcap file header to out.
func NewWriter(out io.Writer) (*Writer, error) {
	w := pcapgo.NewWriter(out)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Writer{w: w, buf: gopacket.NewSerializeBuffer(), seq: 1000}, nil
}

// Write serializes and appends one segment.
func (w *Writer) Write(s Segment) error {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		SrcIP:   s.SrcIP.To4(),
		DstIP:   s.DstIP.To4(),
		Version: 4,
		TTL:     64,
	}

	var transport gopacket.SerializableLayer
	if s.UDP {
		ip.Protocol = layers.IPProtocolUDP
		udp := &layers.UDP{SrcPort: layers.UDPPort(s.SrcPort), DstPort: layers.UDPPort(s.DstPort)}
		udp.SetNetworkLayerForChecksum(ip)
		transport = udp
	} else {
		ip.Protocol = layers.IPProtocolTCP
		w.seq++
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(s.SrcPort),
			DstPort: layers.TCPPort(s.DstPort),
			Seq:     w.seq,
			SYN:     s.Flags.SYN,
			ACK:     s.Flags.ACK,
			FIN:     s.Flags.FIN,
			RST:     s.Flags.RST,
			PSH:     s.Flags.PSH,
			Window:  14600,
		}
		tcp.SetNetworkLayerForChecksum(ip)
		transport = tcp
	}

	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(w.buf, opts, eth, ip, transport, gopacket.Payload(s.Payload)); err != nil {
		return fmt.Errorf("failed to serialize layers: %w", err)
	}
	data := w.buf.Bytes()
	ci := gopacket.CaptureInfo{
		Timestamp:     s.Timestamp,
		CaptureLength: len(data),
		Length:        len(data),
	}
	return w.w.WritePacket(ci, data)
}

// Session is a bidirectional TCP conversation: a full handshake, the given
// request and response payloads, and a FIN exchange.
type Session struct {
	Client     net.IP
	Server     net.IP
	ClientPort uint16
	ServerPort uint16
	Request    []byte
	Response   []byte
	Start      time.Time
}

// WriteSession writes the packets of s, one millisecond apart.
func (w *Writer) WriteSession(s Session) error {
	ts := s.Start
	next := func() time.Time {
		ts = ts.Add(time.Millisecond)
		return ts
	}
	up := func(f TCPFlags, payload []byte) Segment {
		return Segment{Timestamp: next(), SrcIP: s.Client, DstIP: s.Server, SrcPort: s.ClientPort, DstPort: s.ServerPort, Flags: f, Payload: payload}
	}
	down := func(f TCPFlags, payload []byte) Segment {
		return Segment{Timestamp: next(), SrcIP: s.Server, DstIP: s.Client, SrcPort: s.ServerPort, DstPort: s.ClientPort, Flags: f, Payload: payload}
	}

	segments := []Segment{
		up(TCPFlags{SYN: true}, nil),
		down(TCPFlags{SYN: true, ACK: true}, nil),
		up(TCPFlags{ACK: true}, nil),
		up(TCPFlags{ACK: true, PSH: true}, s.Request),
		down(TCPFlags{ACK: true, PSH: true}, s.Response),
		up(TCPFlags{ACK: true, FIN: true}, nil),
		down(TCPFlags{ACK: true, FIN: true}, nil),
	}
	for _, seg := range segments {
		if err := w.Write(seg); err != nil {
			return err
		}
	}
	return nil
}

// WriteProbe writes a single SYN from src to dst, as sent by a port scanner.
func (w *Writer) WriteProbe(ts time.Time, src, dst net.IP, srcPort, dstPort uint16) error {
	return w.Write(Segment{Timestamp: ts, SrcIP: src, DstIP: dst, SrcPort: srcPort, DstPort: dstPort, Flags: TCPFlags{SYN: true}})
}
