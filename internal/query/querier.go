package query

import (
	"Go2NetIDS/internal/config"
	"Go2NetIDS/internal/model"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// VerdictQuery selects persisted verdicts. Zero values leave a field unconstrained.
type VerdictQuery struct {
	Since      time.Time
	Until      time.Time
	Source     string
	AlertsOnly bool
	Limit      int
}

// Summary aggregates persisted verdicts over a time range.
type Summary struct {
	Analyzed      uint64  `json:"analyzed"`
	Alerts        uint64  `json:"alerts"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// Querier defines the interface for querying persisted verdicts, which
// outlive the bounded in-memory history.
type Querier interface {
	Verdicts(ctx context.Context, q VerdictQuery) ([]model.Verdict, error)
	Summarize(ctx context.Context, since, until time.Time) (Summary, error)
	Close() error
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn clickhouse.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
}

func connect(cfg config.ClickHouseConfig) (clickhouse.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
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

const maxLimit = 10000

// buildVerdictQuery renders the SELECT for q and its positional arguments.
func buildVerdictQuery(q VerdictQuery) (string, []interface{}) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		SELECT Timestamp, ID, Seq, Flow, Source, Destination, Confidence, Alert, Degraded, Packets
		FROM ids_verdicts`)

	var whereClauses []string
	args := []interface{}{}

	if !q.Since.IsZero() {
		whereClauses = append(whereClauses, "Timestamp >= ?")
		args = append(args, q.Since)
	}
	if !q.Until.IsZero() {
		whereClauses = append(whereClauses, "Timestamp <= ?")
		args = append(args, q.Until)
	}
	if q.Source != "" {
		whereClauses = append(whereClauses, "Source = ?")
		args = append(args, q.Source)
	}
	if q.AlertsOnly {
		whereClauses = append(whereClauses, "Alert = true")
	}
	if len(whereClauses) > 0 {
		queryBuilder.WriteString(" WHERE " + strings.Join(whereClauses, " AND "))
	}

	limit := q.Limit
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	queryBuilder.WriteString(fmt.Sprintf(" ORDER BY Timestamp DESC LIMIT %d", limit))
	return queryBuilder.String(), args
}

// Verdicts returns persisted verdicts matching q, newest first.
func (q *clickhouseQuerier) Verdicts(ctx context.Context, vq VerdictQuery) ([]model.Verdict, error) {
	query, args := buildVerdictQuery(vq)
	rows, err := q.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var verdicts []model.Verdict
	for rows.Next() {
		var v model.Verdict
		if err := rows.Scan(&v.Timestamp, &v.ID, &v.Seq, &v.Flow, &v.Source, &v.Destination,
			&v.Confidence, &v.Alert, &v.Degraded, &v.Packets); err != nil {
			return nil, fmt.Errorf("failed to scan verdict: %w", err)
		}
		verdicts = append(verdicts, v)
	}
	return verdicts, rows.Err()
}

// Summarize aggregates the verdicts recorded between since and until.
func (q *clickhouseQuerier) Summarize(ctx context.Context, since, until time.Time) (Summary, error) {
	var s Summary
	row := q.conn.QueryRow(ctx, `
		SELECT count() AS Analyzed, countIf(Alert) AS Alerts, ifNotFinite(avg(Confidence), 0) AS AvgConfidence
		FROM ids_verdicts
		WHERE Timestamp >= ? AND Timestamp <= ?`, since, until)
	if err := row.Scan(&s.Analyzed, &s.Alerts, &s.AvgConfidence); err != nil {
		return Summary{}, fmt.Errorf("failed to scan verdict summary: %w", err)
	}
	return s, nil
}

func (q *clickhouseQuerier) Close() error {
	return q.conn.Close()
}
