package storage

import (
	"Go2NetIDS/internal/config"
	"Go2NetIDS/internal/factory"
	"Go2NetIDS/internal/model"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const timestampLayout = "2006-01-02_15-04-05"

func init() {
	factory.RegisterWriter("gob", func(def config.WriterDef, logger *zap.Logger) (model.Writer, error) {
		if def.RootPath == "" {
			return nil, fmt.Errorf("gob writer requires root_path")
		}
		return NewGobWriter(def.RootPath, def.FlushInterval.D(), logger), nil
	})
}

// SummaryData describes one flushed batch, written next to it as JSON.
type SummaryData struct {
	Verdicts      int     `json:"verdicts"`
	Alerts        int     `json:"alerts"`
	Degraded      int     `json:"degraded"`
	MaxConfidence float64 `json:"max_confidence"`
	FirstSeq      uint64  `json:"first_seq"`
	LastSeq       uint64  `json:"last_seq"`
	Timestamp     string  `json:"timestamp"`
}

// GobWriter writes each verdict batch to a timestamped directory in gob
// format, with a JSON summary.
type GobWriter struct {
	rootPath string
	interval time.Duration
	logger   *zap.Logger
}

// NewGobWriter creates a new gob verdict writer.
func NewGobWriter(rootPath string, interval time.Duration, logger *zap.Logger) *GobWriter {
	return &GobWriter{rootPath: rootPath, interval: interval, logger: logger}
}

// GetInterval returns the configured flush interval for this writer.
func (w *GobWriter) GetInterval() time.Duration {
	return w.interval
}

// Write stores a batch. Empty batches are skipped.
func (w *GobWriter) Write(verdicts []model.Verdict) error {
	if len(verdicts) == 0 {
		return nil
	}

	now := time.Now().UTC()
	// The first sequence number keeps directories unique within one second.
	dir := filepath.Join(w.rootPath, fmt.Sprintf("%s_%d", now.Format(timestampLayout), verdicts[0].Seq))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create batch directory: %w", err)
	}

	dataPath := filepath.Join(dir, "verdicts.dat")
	file, err := os.Create(dataPath)
	if err != nil {
		return fmt.Errorf("failed to create batch file '%s': %w", dataPath, err)
	}
	defer file.Close()
	if err := gob.NewEncoder(file).Encode(verdicts); err != nil {
		return fmt.Errorf("failed to encode verdicts to gob for file '%s': %w", dataPath, err)
	}

	summary := SummaryData{
		Verdicts:  len(verdicts),
		FirstSeq:  verdicts[0].Seq,
		LastSeq:   verdicts[len(verdicts)-1].Seq,
		Timestamp: now.Format(time.RFC3339),
	}
	for _, v := range verdicts {
		if v.Alert {
			summary.Alerts++
		}
		if v.Degraded {
			summary.Degraded++
		}
		if v.Confidence > summary.MaxConfidence {
			summary.MaxConfidence = v.Confidence
		}
	}

	summaryFile, err := os.Create(filepath.Join(dir, "summary.json"))
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	jsonEncoder := json.NewEncoder(summaryFile)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}

	w.logger.Debug("Wrote verdict batch", zap.String("dir", dir), zap.Int("verdicts", len(verdicts)))
	return nil
}

func (w *GobWriter) Close() error { return nil }

// ReadGobBatch loads a batch written by GobWriter.
func ReadGobBatch(dir string) ([]model.Verdict, error) {
	file, err := os.Open(filepath.Join(dir, "verdicts.dat"))
	if err != nil {
		return nil, err
	}
	defer file.Close()
	var verdicts []model.Verdict
	if err := gob.NewDecoder(file).Decode(&verdicts); err != nil {
		return nil, fmt.Errorf("failed to decode verdict batch: %w", err)
	}
	return verdicts, nil
}
