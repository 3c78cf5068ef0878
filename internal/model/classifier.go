package model

// Scorer turns a feature vector into a malicious-probability in [0,1].
// Implementations must be safe for concurrent use.
type Scorer interface {
	Score(fv FeatureVector) (float64, error)
}
