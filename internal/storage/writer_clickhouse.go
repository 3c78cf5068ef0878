package storage

import (
	"Go2NetIDS/internal/config"
	"Go2NetIDS/internal/factory"
	"Go2NetIDS/internal/model"
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

func init() {
	factory.RegisterWriter("clickhouse", func(def config.WriterDef, logger *zap.Logger) (model.Writer, error) {
		return NewClickHouseWriter(def.ClickHouse, def.FlushInterval.D(), logger)
	})
}

const createTableStatement = `
CREATE TABLE IF NOT EXISTS ids_verdicts (
    Timestamp   DateTime64(3),
    ID          String,
    Seq         UInt64,
    Flow        String,
    Source      String,
    Destination String,
    Confidence  Float64,
    Alert       Bool,
    Degraded    Bool,
    Packets     UInt64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(Timestamp)
ORDER BY (Alert, Timestamp);
`

// ClickHouseWriter implements the model.Writer interface for ClickHouse.
type ClickHouseWriter struct {
	conn     driver.Conn
	interval time.Duration
	logger   *zap.Logger
}

// NewClickHouseWriter connects and ensures the verdict table exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig, interval time.Duration, logger *zap.Logger) (*ClickHouseWriter, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	logger.Info("Successfully connected to ClickHouse and ensured table exists.")

	return &ClickHouseWriter{conn: conn, interval: interval, logger: logger}, nil
}

// GetInterval returns the configured flush interval for this writer.
func (w *ClickHouseWriter) GetInterval() time.Duration {
	return w.interval
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// Write inserts a verdict batch into the ids_verdicts table.
func (w *ClickHouseWriter) Write(verdicts []model.Verdict) error {
	if len(verdicts) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO ids_verdicts")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, v := range verdicts {
		err = batch.Append(
			v.Timestamp,
			v.ID,
			v.Seq,
			v.Flow,
			v.Source,
			v.Destination,
			v.Confidence,
			v.Alert,
			v.Degraded,
			v.Packets,
		)
		if err != nil {
			return fmt.Errorf("failed to append verdict to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	w.logger.Info("Wrote verdicts to ClickHouse", zap.Int("count", len(verdicts)))
	return nil
}

func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}
