// Package classifier scores feature vectors with a pretrained random forest.
package classifier

import (
	"Go2NetIDS/internal/engine/features"
	"Go2NetIDS/internal/model"
	"fmt"
	"math"
)

// Adapter scores feature vectors. It is read-only after Load and safe for
// concurrent use by any number of workers.
type Adapter struct {
	columns []int // model column -> index into features.Names
	mean    []float64
	scale   []float64
	trees   []Tree
	vocab   map[string][]string
}

// Load reads the artifact at path. Any failure is reported as
// model.ErrModelUnavailable, which callers treat as fatal.
func Load(path string) (*Adapter, error) {
	a, err := ReadArtifact(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrModelUnavailable, path, err)
	}
	ad, err := New(a)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrModelUnavailable, path, err)
	}
	return ad, nil
}

// New builds an adapter from an in-memory artifact.
func New(a *Artifact) (*Adapter, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	ad := &Adapter{
		columns: make([]int, len(a.FeatureNames)),
		trees:   a.Trees,
		vocab:   a.Encoders,
	}
	for i, name := range a.FeatureNames {
		idx, ok := features.Index(name)
		if !ok {
			return nil, fmt.Errorf("model expects unknown feature %q", name)
		}
		ad.columns[i] = idx
	}
	if len(a.Scaler.Mean) > 0 {
		ad.mean = a.Scaler.Mean
		ad.scale = make([]float64, len(a.Scaler.Scale))
		for i, s := range a.Scaler.Scale {
			// Constant columns are left unscaled.
			if s == 0 {
				s = 1
			}
			ad.scale[i] = s
		}
	}
	return ad, nil
}

// Vocabularies returns the label vocabularies used to encode categorical
// features for this model.
func (a *Adapter) Vocabularies() map[string][]string {
	return a.vocab
}

// Trees returns the number of trees in the forest.
func (a *Adapter) Trees() int {
	return len(a.trees)
}

// Score returns the probability in [0,1] that the flow is malicious. It is
// the mean class-1 probability of the leaves reached in every tree.
func (a *Adapter) Score(v model.FeatureVector) (float64, error) {
	if len(v) != features.Width {
		return 0, fmt.Errorf("%w: vector has %d features, want %d", model.ErrExtraction, len(v), features.Width)
	}
	x := make([]float64, len(a.columns))
	for i, idx := range a.columns {
		x[i] = v[idx]
		if a.mean != nil {
			x[i] = (x[i] - a.mean[i]) / a.scale[i]
		}
	}

	var sum float64
	for i := range a.trees {
		sum += leafProbability(a.trees[i].Nodes, x)
	}
	p := sum / float64(len(a.trees))
	if math.IsNaN(p) {
		return 0, fmt.Errorf("%w: score is NaN", model.ErrExtraction)
	}
	return math.Min(1, math.Max(0, p)), nil
}

func leafProbability(nodes []Node, x []float64) float64 {
	i := 0
	for !nodes[i].leaf() {
		n := nodes[i]
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	value := nodes[i].Value
	var total float64
	for _, w := range value {
		total += w
	}
	if total <= 0 {
		return 0
	}
	return value[1] / total
}
