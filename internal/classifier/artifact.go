package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Artifact is the on-disk form of a trained random forest together with its
// preprocessing state.
type Artifact struct {
	FeatureNames []string            `json:"feature_names"`
	Scaler       Scaler              `json:"scaler"`
	Encoders     map[string][]string `json:"encoders"`
	Trees        []Tree              `json:"trees"`
}

// Scaler holds the per-column standardisation parameters.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Tree is one decision tree in array layout. Node 0 is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Node is a split or, when Left is -1, a leaf carrying class weights.
type Node struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      int       `json:"left"`
	Right     int       `json:"right"`
	Value     []float64 `json:"value"`
}

func (n Node) leaf() bool { return n.Left < 0 }

// ReadArtifact loads and structurally validates an artifact file.
func ReadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact: %w", err)
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

func (a *Artifact) validate() error {
	width := len(a.FeatureNames)
	if width == 0 {
		return errors.New("model artifact has no feature names")
	}
	if len(a.Trees) == 0 {
		return errors.New("model artifact has no trees")
	}
	if len(a.Scaler.Mean) != 0 || len(a.Scaler.Scale) != 0 {
		if len(a.Scaler.Mean) != width || len(a.Scaler.Scale) != width {
			return fmt.Errorf("scaler has %d/%d columns, want %d",
				len(a.Scaler.Mean), len(a.Scaler.Scale), width)
		}
	}
	for ti, t := range a.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.leaf() {
				if len(n.Value) < 2 {
					return fmt.Errorf("tree %d leaf %d has %d class weights, want 2", ti, ni, len(n.Value))
				}
				continue
			}
			if n.Feature < 0 || n.Feature >= width {
				return fmt.Errorf("tree %d node %d splits on feature %d out of range", ti, ni, n.Feature)
			}
			// Children always follow their parent in array layout.
			if n.Left <= ni || n.Left >= len(t.Nodes) || n.Right <= ni || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d has invalid children %d/%d", ti, ni, n.Left, n.Right)
			}
		}
	}
	return nil
}
