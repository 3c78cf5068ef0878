package protocol

import (
	"Go2NetIDS/internal/model"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	srcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC = net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb}
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("failed to serialize packet: %v", err)
	}
	return buf.Bytes()
}

func tcpFrame(t *testing.T, payload []byte) []byte {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IPv4(192, 168, 0, 1), DstIP: net.IPv4(10, 0, 0, 2),
	}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 443, SYN: true, ACK: true, Window: 1024}
	tcp.SetNetworkLayerForChecksum(ip)
	return serialize(t, eth, ip, tcp, gopacket.Payload(payload))
}

func decode(data []byte) gopacket.Packet {
	p := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	p.Metadata().Timestamp = time.Unix(1700000000, 0)
	p.Metadata().CaptureLength = len(data)
	p.Metadata().Length = len(data)
	return p
}

func TestParsePacket_TCP(t *testing.T) {
	data := tcpFrame(t, []byte("hello"))
	info, err := ParsePacket(decode(data))
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}

	ft := info.FiveTuple
	if !ft.SrcIP.Equal(net.IPv4(192, 168, 0, 1)) || !ft.DstIP.Equal(net.IPv4(10, 0, 0, 2)) {
		t.Errorf("unexpected addresses: %v -> %v", ft.SrcIP, ft.DstIP)
	}
	if ft.SrcPort != 40000 || ft.DstPort != 443 || ft.Protocol != 6 {
		t.Errorf("unexpected tuple: %+v", ft)
	}
	if info.Length != len(data) {
		t.Errorf("expected length %d, got %d", len(data), info.Length)
	}
	if info.PayloadLength != 5 {
		t.Errorf("expected payload length 5, got %d", info.PayloadLength)
	}
	if info.TTL != 64 {
		t.Errorf("expected TTL 64, got %d", info.TTL)
	}
	if !info.TCPFlags.Has(model.FlagSYN|model.FlagACK) || info.TCPFlags.Has(model.FlagFIN) {
		t.Errorf("unexpected flags: %08b", info.TCPFlags)
	}
	if !info.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("expected capture timestamp, got %v", info.Timestamp)
	}
}

func TestParsePacket_UDPv6(t *testing.T) {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv6}
	ip := &layers.IPv6{
		Version: 6, HopLimit: 32, NextHeader: layers.IPProtocolUDP,
		SrcIP: net.ParseIP("2001:db8::1"), DstIP: net.ParseIP("2001:db8::2"),
	}
	udp := &layers.UDP{SrcPort: 5353, DstPort: 53}
	udp.SetNetworkLayerForChecksum(ip)
	data := serialize(t, eth, ip, udp, gopacket.Payload([]byte{1, 2, 3}))

	info, err := ParsePacket(decode(data))
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}
	if info.FiveTuple.Protocol != 17 || info.FiveTuple.DstPort != 53 {
		t.Errorf("unexpected tuple: %+v", info.FiveTuple)
	}
	if info.TTL != 32 || info.PayloadLength != 3 {
		t.Errorf("unexpected hop limit/payload: %d/%d", info.TTL, info.PayloadLength)
	}
}

func TestParsePacket_ICMP(t *testing.T) {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version: 4, TTL: 128, Protocol: layers.IPProtocolICMPv4,
		SrcIP: net.IPv4(10, 0, 0, 1), DstIP: net.IPv4(10, 0, 0, 9),
	}
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0), Id: 1, Seq: 1}
	data := serialize(t, eth, ip, icmp)

	info, err := ParsePacket(decode(data))
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}
	if info.FiveTuple.Protocol != 1 || info.FiveTuple.SrcPort != 0 || info.FiveTuple.DstPort != 0 {
		t.Errorf("unexpected ICMP tuple: %+v", info.FiveTuple)
	}
}

func TestParsePacket_Malformed(t *testing.T) {
	data := tcpFrame(t, nil)
	_, err := ParsePacket(decode(data[:20]))
	if !errors.Is(err, model.ErrMalformedPacket) {
		t.Fatalf("expected ErrMalformedPacket, got %v", err)
	}
}

func TestParsePacket_SnapLengthTruncated(t *testing.T) {
	full := tcpFrame(t, make([]byte, 3000))
	const snapLen = 1600

	p := gopacket.NewPacket(full[:snapLen], layers.LayerTypeEthernet, gopacket.Default)
	p.Metadata().CaptureLength = snapLen
	p.Metadata().Length = len(full)

	info, err := ParsePacket(p)
	if err != nil {
		t.Fatalf("expected a header-intact frame to parse, got %v", err)
	}
	if info.Length != len(full) {
		t.Errorf("expected wire length %d, got %d", len(full), info.Length)
	}
	if info.FiveTuple.DstPort != 443 || !info.TCPFlags.Has(model.FlagSYN) {
		t.Errorf("unexpected header fields: %+v flags=%08b", info.FiveTuple, info.TCPFlags)
	}
	if info.PayloadLength != snapLen-54 {
		t.Errorf("expected captured payload %d, got %d", snapLen-54, info.PayloadLength)
	}
}

func TestParsePacket_NotIP(t *testing.T) {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType: layers.LinkTypeEthernet, Protocol: layers.EthernetTypeIPv4,
		HwAddressSize: 6, ProtAddressSize: 4, Operation: layers.ARPRequest,
		SourceHwAddress: srcMAC, SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress: make([]byte, 6), DstProtAddress: []byte{10, 0, 0, 2},
	}
	_, err := ParsePacket(decode(serialize(t, eth, arp)))
	if !errors.Is(err, ErrNotIP) {
		t.Fatalf("expected ErrNotIP, got %v", err)
	}
}
