package features

import (
	"Go2NetIDS/internal/model"
	"sort"
)

// Extractor encodes connection records into feature vectors. It is
// stateless after construction and safe for concurrent use.
type Extractor struct {
	encoders map[string]map[string]float64
}

// NewExtractor builds an extractor from the label vocabularies of the model
// artifact. Labels are sorted before indexing, which matches how the
// training pipeline assigned codes. Unknown labels encode to -1.
func NewExtractor(vocab map[string][]string) *Extractor {
	e := &Extractor{encoders: make(map[string]map[string]float64, len(vocab))}
	for col, labels := range vocab {
		sorted := append([]string(nil), labels...)
		sort.Strings(sorted)
		codes := make(map[string]float64, len(sorted))
		for i, l := range sorted {
			codes[l] = float64(i)
		}
		e.encoders[col] = codes
	}
	return e
}

func (e *Extractor) encode(col, label string) float64 {
	if code, ok := e.encoders[col][label]; ok {
		return code
	}
	return -1
}

// Extract derives the feature vector of a snapshot. Degraded snapshots use
// the same formulas over the packets they have.
func (e *Extractor) Extract(s *model.FlowSnapshot) (model.FeatureVector, error) {
	c, err := Summarize(s)
	if err != nil {
		return nil, err
	}
	return e.Vector(c), nil
}

// Vector encodes a connection record in Names order. Content and host
// window features that need payload inspection or cross-flow state use
// fixed fill values.
func (e *Extractor) Vector(c Connection) model.FeatureVector {
	v := make(model.FeatureVector, Width)
	v[0] = c.Duration
	v[1] = e.encode("protocol_type", c.ProtocolType)
	v[2] = e.encode("service", c.Service)
	v[3] = e.encode("flag", c.Flag)
	v[4] = float64(c.SrcBytes)
	v[5] = float64(c.DstBytes)
	if c.Land {
		v[6] = 1
	}
	v[7] = float64(c.WrongFragment)
	v[8] = float64(c.Urgent)
	// 9..21: content features stay 0.
	v[22] = float64(c.Count) // count
	v[23] = float64(c.Count) // srv_count
	// 24..27: error rates stay 0.
	v[28] = 1 // same_srv_rate
	v[31] = 1 // dst_host_count
	v[32] = 1 // dst_host_srv_count
	v[33] = 1 // dst_host_same_srv_rate
	v[35] = 1 // dst_host_same_src_port_rate
	return v
}
