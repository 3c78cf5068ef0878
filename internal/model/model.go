package model

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"
)

// FiveTuple represents the 5-tuple of a network packet.
type FiveTuple struct {
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// TCPFlags is the set of TCP control bits observed on a packet.
type TCPFlags uint8

const (
	FlagFIN TCPFlags = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
)

// Has reports whether all bits of f are set.
func (t TCPFlags) Has(f TCPFlags) bool {
	return t&f == f
}

// PacketInfo holds the metadata extracted from a single captured frame.
// It is never modified after the packet source emits it.
type PacketInfo struct {
	Timestamp     time.Time
	FiveTuple     FiveTuple
	Length        int
	PayloadLength int
	TTL           uint8
	TCPFlags      TCPFlags
	Fragmented    bool
}

// Endpoint is one side of a connection.
type Endpoint struct {
	IP   netip.Addr `json:"ip"`
	Port uint16     `json:"port"`
}

func (e Endpoint) String() string {
	return netip.AddrPortFrom(e.IP, e.Port).String()
}

func (e Endpoint) compare(o Endpoint) int {
	if c := e.IP.Compare(o.IP); c != 0 {
		return c
	}
	switch {
	case e.Port < o.Port:
		return -1
	case e.Port > o.Port:
		return 1
	}
	return 0
}

// FlowKey identifies a bidirectional connection. A is always the smaller
// endpoint so both directions of a connection produce the same key.
type FlowKey struct {
	Protocol uint8
	A        Endpoint
	B        Endpoint
}

// NewFlowKey builds the direction-independent key for a 5-tuple. The second
// return value is true when the packet travels from A to B.
func NewFlowKey(ft FiveTuple) (FlowKey, bool) {
	src := Endpoint{IP: toAddr(ft.SrcIP), Port: ft.SrcPort}
	dst := Endpoint{IP: toAddr(ft.DstIP), Port: ft.DstPort}
	if src.compare(dst) <= 0 {
		return FlowKey{Protocol: ft.Protocol, A: src, B: dst}, true
	}
	return FlowKey{Protocol: ft.Protocol, A: dst, B: src}, false
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%s<->%s", protocolName(k.Protocol), k.A, k.B)
}

func toAddr(ip net.IP) netip.Addr {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	return addr.Unmap()
}

// SourceEndpoint returns the sending side of a packet.
func (p *PacketInfo) SourceEndpoint() Endpoint {
	return Endpoint{IP: toAddr(p.FiveTuple.SrcIP), Port: p.FiveTuple.SrcPort}
}

// DestinationEndpoint returns the receiving side of a packet.
func (p *PacketInfo) DestinationEndpoint() Endpoint {
	return Endpoint{IP: toAddr(p.FiveTuple.DstIP), Port: p.FiveTuple.DstPort}
}

func protocolName(p uint8) string {
	switch p {
	case 1:
		return "icmp"
	case 6:
		return "tcp"
	case 17:
		return "udp"
	case 58:
		return "icmpv6"
	default:
		return strconv.Itoa(int(p))
	}
}

// ReadyReason records why a flow left the BUFFERING phase.
type ReadyReason string

const (
	ReasonThreshold ReadyReason = "threshold"
	ReasonIdle      ReadyReason = "idle"
	ReasonActive    ReadyReason = "active"
	ReasonEvicted   ReadyReason = "evicted"
	ReasonShutdown  ReadyReason = "shutdown"
)

// FlowSnapshot is an immutable copy of a flow taken at the moment it became
// ready for classification.
type FlowSnapshot struct {
	Key         FlowKey
	Initiator   Endpoint
	Responder   Endpoint
	Packets     []PacketInfo
	PacketCount uint64
	FirstSeen   time.Time
	LastSeen    time.Time
	Degraded    bool
	Reason      ReadyReason
}

// FeatureVector is the fixed-length, ordered model input for one flow.
type FeatureVector []float64

// Verdict is the classification outcome for one flow occurrence.
type Verdict struct {
	ID          string    `json:"id"`
	Seq         uint64    `json:"seq"`
	Flow        string    `json:"flow"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Confidence  float64   `json:"confidence"`
	Alert       bool      `json:"alert"`
	Degraded    bool      `json:"degraded"`
	Packets     uint64    `json:"packets"`
	Timestamp   time.Time `json:"timestamp"`
}

// Alert is the payload pushed to notification sinks for every alerting verdict.
type Alert struct {
	ID          string    `json:"id"`
	Flow        string    `json:"flow"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
}

// AlertFromVerdict builds the outbound alert payload for a verdict.
func AlertFromVerdict(v Verdict) Alert {
	return Alert{
		ID:          v.ID,
		Flow:        v.Flow,
		Source:      v.Source,
		Destination: v.Destination,
		Confidence:  v.Confidence,
		Timestamp:   v.Timestamp,
	}
}
