package classifier

import (
	"Go2NetIDS/internal/engine/features"
	"Go2NetIDS/internal/model"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// testArtifact splits on src_bytes in the first tree and on duration in the
// second. Column order deliberately differs from features.Names.
func testArtifact() *Artifact {
	return &Artifact{
		FeatureNames: []string{"src_bytes", "duration"},
		Scaler: Scaler{
			Mean:  []float64{1000, 0},
			Scale: []float64{500, 0},
		},
		Encoders: map[string][]string{"flag": {"SF", "S0"}},
		Trees: []Tree{
			{Nodes: []Node{
				{Feature: 0, Threshold: 1.0, Left: 1, Right: 2},
				{Left: -1, Right: -1, Value: []float64{9, 1}},
				{Left: -1, Right: -1, Value: []float64{1, 9}},
			}},
			{Nodes: []Node{
				{Feature: 1, Threshold: 2.0, Left: 1, Right: 2},
				{Left: -1, Right: -1, Value: []float64{1, 0}},
				{Left: -1, Right: -1, Value: []float64{0, 1}},
			}},
		},
	}
}

func writeArtifact(t *testing.T, a any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.json")
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("failed to marshal artifact: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}
	return path
}

func vector(srcBytes, duration float64) model.FeatureVector {
	v := make(model.FeatureVector, features.Width)
	i, _ := features.Index("src_bytes")
	v[i] = srcBytes
	j, _ := features.Index("duration")
	v[j] = duration
	return v
}

func TestLoadAndScore(t *testing.T) {
	ad, err := Load(writeArtifact(t, testArtifact()))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if ad.Trees() != 2 {
		t.Fatalf("expected 2 trees, got %d", ad.Trees())
	}

	tests := []struct {
		name     string
		srcBytes float64
		duration float64
		want     float64
	}{
		// scaled src_bytes = (x-1000)/500; duration has scale 0 so stays raw.
		{"benign", 1000, 0, (0.1 + 0) / 2},
		{"large transfer", 2000, 0, (0.9 + 0) / 2},
		{"long and large", 2000, 10, (0.9 + 1) / 2},
		{"threshold is inclusive on the left", 1500, 2, (0.1 + 0) / 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ad.Score(vector(tt.srcBytes, tt.duration))
			if err != nil {
				t.Fatalf("Score failed: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
			if got < 0 || got > 1 {
				t.Errorf("score %v outside [0,1]", got)
			}
		})
	}

	if v := ad.Vocabularies()["flag"]; len(v) != 2 {
		t.Errorf("expected flag vocabulary to be exposed, got %v", v)
	}
}

func TestScore_WrongWidth(t *testing.T) {
	ad, err := New(testArtifact())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := ad.Score(model.FeatureVector{1, 2, 3}); !errors.Is(err, model.ErrExtraction) {
		t.Errorf("expected ErrExtraction, got %v", err)
	}
}

func TestLoad_Unavailable(t *testing.T) {
	emptyForest := testArtifact()
	emptyForest.Trees = nil

	unknownFeature := testArtifact()
	unknownFeature.FeatureNames = []string{"src_bytes", "bogus"}

	badChild := testArtifact()
	badChild.Trees[0].Nodes[0].Left = 7

	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.json") }},
		{"not json", func(t *testing.T) string {
			p := filepath.Join(t.TempDir(), "model.json")
			os.WriteFile(p, []byte("\x80\x04pickle"), 0o644)
			return p
		}},
		{"empty forest", func(t *testing.T) string { return writeArtifact(t, emptyForest) }},
		{"unknown feature", func(t *testing.T) string { return writeArtifact(t, unknownFeature) }},
		{"invalid child", func(t *testing.T) string { return writeArtifact(t, badChild) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path(t))
			if !errors.Is(err, model.ErrModelUnavailable) {
				t.Errorf("expected ErrModelUnavailable, got %v", err)
			}
		})
	}
}

func TestBundledModel(t *testing.T) {
	ad, err := Load(filepath.Join("..", "..", "data", "ids_model.json"))
	if err != nil {
		t.Fatalf("bundled model failed to load: %v", err)
	}
	ext := features.NewExtractor(ad.Vocabularies())

	scan := ext.Vector(features.Connection{ProtocolType: "tcp", Service: "ssh", Flag: "S0", SrcBytes: 60, Count: 1})
	session := ext.Vector(features.Connection{ProtocolType: "tcp", Service: "http", Flag: "SF", SrcBytes: 500, DstBytes: 1500, Count: 5})

	if c, _ := ad.Score(scan); c < 0.7 {
		t.Errorf("expected a half-open probe to alert, got %v", c)
	}
	if c, _ := ad.Score(session); c >= 0.7 {
		t.Errorf("expected a completed session to pass, got %v", c)
	}
}
