// Package features turns a flow snapshot into the ordered NSL-KDD style
// connection record the classifier was trained on.
package features

import (
	"Go2NetIDS/internal/model"
	"fmt"
)

// Names is the column order of every FeatureVector.
var Names = [...]string{
	"duration", "protocol_type", "service", "flag", "src_bytes", "dst_bytes",
	"land", "wrong_fragment", "urgent", "hot", "num_failed_logins", "logged_in",
	"num_compromised", "root_shell", "su_attempted", "num_root", "num_file_creations",
	"num_shells", "num_access_files", "num_outbound_cmds", "is_host_login",
	"is_guest_login", "count", "srv_count", "serror_rate", "srv_serror_rate",
	"rerror_rate", "srv_rerror_rate", "same_srv_rate", "diff_srv_rate",
	"srv_diff_host_rate", "dst_host_count", "dst_host_srv_count",
	"dst_host_same_srv_rate", "dst_host_diff_srv_rate", "dst_host_same_src_port_rate",
	"dst_host_srv_diff_host_rate", "dst_host_serror_rate", "dst_host_srv_serror_rate",
	"dst_host_rerror_rate", "dst_host_srv_rerror_rate",
}

// Width is the length of every FeatureVector.
const Width = len(Names)

// Categorical lists the columns that are label-encoded.
var Categorical = []string{"protocol_type", "service", "flag"}

// Index returns the position of a column in Names.
func Index(name string) (int, bool) {
	for i, n := range Names {
		if n == name {
			return i, true
		}
	}
	return -1, false
}

var portServices = map[uint16]string{
	20:   "ftp_data",
	21:   "ftp",
	22:   "ssh",
	23:   "telnet",
	25:   "smtp",
	53:   "domain_u",
	80:   "http",
	110:  "pop_3",
	143:  "imap4",
	443:  "https",
	3306: "mysql",
	5432: "postgres",
	6379: "redis",
	8080: "http_8080",
	8443: "https_alt",
}

// Service maps a destination port to its service label.
func Service(port uint16) string {
	if s, ok := portServices[port]; ok {
		return s
	}
	return "other"
}

// Connection is the un-encoded connection record of one flow.
type Connection struct {
	Duration      float64
	ProtocolType  string
	Service       string
	Flag          string
	SrcBytes      uint64
	DstBytes      uint64
	Land          bool
	WrongFragment int
	Urgent        int
	Count         int
}

// Summarize computes the connection record of a snapshot.
func Summarize(s *model.FlowSnapshot) (Connection, error) {
	if s == nil || len(s.Packets) == 0 {
		return Connection{}, fmt.Errorf("%w: flow has no packets", model.ErrExtraction)
	}

	first, last := s.Packets[0], s.Packets[len(s.Packets)-1]
	c := Connection{
		ProtocolType: protocolType(s.Key.Protocol),
		Service:      Service(s.Responder.Port),
		Land:         s.Initiator == s.Responder,
		Count:        len(s.Packets),
	}
	if d := last.Timestamp.Sub(first.Timestamp); d > 0 {
		c.Duration = d.Seconds()
	}

	for i := range s.Packets {
		p := &s.Packets[i]
		if p.SourceEndpoint() == s.Initiator {
			c.SrcBytes += uint64(p.Length)
		} else {
			c.DstBytes += uint64(p.Length)
		}
		if p.Fragmented {
			c.WrongFragment++
		}
		if p.TCPFlags.Has(model.FlagURG) {
			c.Urgent++
		}
	}

	if s.Key.Protocol == 6 {
		c.Flag = tcpFlag(s)
	} else {
		c.Flag = "SF"
	}
	return c, nil
}

func protocolType(p uint8) string {
	switch p {
	case 6:
		return "tcp"
	case 17:
		return "udp"
	case 1, 58:
		return "icmp"
	default:
		return "other"
	}
}

// tcpFlag approximates the Bro/Zeek connection state summary used by
// NSL-KDD from the flags seen in each direction.
func tcpFlag(s *model.FlowSnapshot) string {
	var fromInit, fromResp model.TCPFlags
	respPackets := 0
	for i := range s.Packets {
		p := &s.Packets[i]
		if p.SourceEndpoint() == s.Initiator {
			fromInit |= p.TCPFlags
		} else {
			fromResp |= p.TCPFlags
			respPackets++
		}
	}

	opening := s.Packets[0].TCPFlags
	initSYN := opening.Has(model.FlagSYN) && !opening.Has(model.FlagACK)
	respSYNACK := fromResp.Has(model.FlagSYN | model.FlagACK)

	switch {
	case initSYN && !respSYNACK && fromResp.Has(model.FlagRST):
		return "REJ"
	case fromInit.Has(model.FlagRST) || fromResp.Has(model.FlagRST):
		return "RSTO"
	case initSYN && respPackets == 0 && fromInit.Has(model.FlagFIN):
		return "SH"
	case initSYN && respPackets == 0:
		return "S0"
	case opening.Has(model.FlagSYN | model.FlagACK):
		// Capture started mid-handshake; the initiator is really the server.
		return "OTH"
	default:
		// Completed handshakes and mid-stream captures.
		return "SF"
	}
}
