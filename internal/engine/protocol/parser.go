package protocol

import (
	"Go2NetIDS/internal/model"
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrNotIP is returned for well-formed frames that carry no IP payload (ARP,
// LLDP, ...). They are skipped without being counted as malformed.
var ErrNotIP = errors.New("not an IP packet")

// ParsePacket extracts the flow-relevant metadata from a decoded frame.
// Frames whose headers cannot be decoded return an error wrapping
// model.ErrMalformedPacket.
func ParsePacket(packet gopacket.Packet) (*model.PacketInfo, error) {
	if errLayer := packet.ErrorLayer(); errLayer != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformedPacket, errLayer.Error())
	}

	info := &model.PacketInfo{
		Length: len(packet.Data()),
	}
	// Frames cut by the snap length still count when their headers decoded;
	// the wire length comes from the capture metadata.
	if meta := packet.Metadata(); meta != nil {
		info.Timestamp = meta.Timestamp
		if meta.Length > 0 {
			info.Length = meta.Length
		}
	}

	var ft model.FiveTuple
	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		ft.SrcIP = ip.SrcIP
		ft.DstIP = ip.DstIP
		ft.Protocol = uint8(ip.Protocol)
		info.TTL = ip.TTL
		info.Fragmented = ip.Flags&layers.IPv4MoreFragments != 0 || ip.FragOffset != 0
	case *layers.IPv6:
		ft.SrcIP = ip.SrcIP
		ft.DstIP = ip.DstIP
		ft.Protocol = uint8(ip.NextHeader)
		info.TTL = ip.HopLimit
	default:
		return nil, ErrNotIP
	}

	switch l := packet.TransportLayer().(type) {
	case *layers.TCP:
		ft.SrcPort = uint16(l.SrcPort)
		ft.DstPort = uint16(l.DstPort)
		info.TCPFlags = tcpFlags(l)
		info.PayloadLength = len(l.Payload)
	case *layers.UDP:
		ft.SrcPort = uint16(l.SrcPort)
		ft.DstPort = uint16(l.DstPort)
		info.PayloadLength = len(l.Payload)
	default:
		// ICMP and other protocols have no ports; the flow key collapses to the
		// address pair.
		if app := packet.ApplicationLayer(); app != nil {
			info.PayloadLength = len(app.Payload())
		}
	}

	info.FiveTuple = ft
	return info, nil
}

func tcpFlags(tcp *layers.TCP) model.TCPFlags {
	var f model.TCPFlags
	if tcp.FIN {
		f |= model.FlagFIN
	}
	if tcp.SYN {
		f |= model.FlagSYN
	}
	if tcp.RST {
		f |= model.FlagRST
	}
	if tcp.PSH {
		f |= model.FlagPSH
	}
	if tcp.ACK {
		f |= model.FlagACK
	}
	if tcp.URG {
		f |= model.FlagURG
	}
	if tcp.ECE {
		f |= model.FlagECE
	}
	if tcp.CWR {
		f |= model.FlagCWR
	}
	return f
}
