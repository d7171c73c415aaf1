package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"MetaAgent/internal/domain/models"
	"MetaAgent/internal/domain/repository"
)

// ClickHouseDecisionStore keeps the audit history of published decisions
// and risk violations. Writes are best-effort from the caller's point of
// view; coordination never blocks on history.
type ClickHouseDecisionStore struct {
	db              *sql.DB
	decisionsTable  string
	violationsTable string
}

func NewClickHouseDecisionStore(db *sql.DB, decisionsTable, violationsTable string) repository.DecisionStore {
	return &ClickHouseDecisionStore{
		db:              db,
		decisionsTable:  decisionsTable,
		violationsTable: violationsTable,
	}
}

// SchemaStatements returns idempotent DDL for the history tables.
func SchemaStatements(decisionsTable, violationsTable string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			ts DateTime64(3),
			symbol LowCardinality(String),
			action LowCardinality(String),
			quantity Float64,
			confidence Float64,
			participating_agents String,
			consensus_method LowCardinality(String),
			correlation_id String,
			override_applied LowCardinality(String),
			source LowCardinality(String)
		) ENGINE = MergeTree() ORDER BY (symbol, ts)`, decisionsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			ts DateTime64(3),
			violation_type LowCardinality(String),
			symbol LowCardinality(String),
			message String,
			severity LowCardinality(String),
			metadata String
		) ENGINE = MergeTree() ORDER BY (violation_type, ts)`, violationsTable),
	}
}

func (s *ClickHouseDecisionStore) StoreDecision(ctx context.Context, d *models.CoordinatedDecision) error {
	q := fmt.Sprintf(`INSERT INTO %s
		(ts, symbol, action, quantity, confidence, participating_agents, consensus_method, correlation_id, override_applied, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.decisionsTable)
	_, err := s.db.ExecContext(ctx, q,
		d.Timestamp,
		d.Symbol,
		string(d.Action),
		d.Quantity,
		d.Confidence,
		strings.Join(d.ParticipatingAgents, ","),
		string(d.ConsensusMethod),
		d.CorrelationID,
		d.OverrideApplied,
		d.Source,
	)
	return err
}

func (s *ClickHouseDecisionStore) StoreViolation(ctx context.Context, v *models.RiskViolation) error {
	metadata := ""
	if len(v.Metadata) > 0 {
		if b, err := json.Marshal(v.Metadata); err == nil {
			metadata = string(b)
		}
	}
	ts := v.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	q := fmt.Sprintf(`INSERT INTO %s
		(ts, violation_type, symbol, message, severity, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`, s.violationsTable)
	_, err := s.db.ExecContext(ctx, q,
		ts,
		string(v.Type),
		v.Symbol,
		v.Message,
		string(v.Severity),
		metadata,
	)
	return err
}

func (s *ClickHouseDecisionStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseDecisionStore) Close() error {
	return nil // pool managed by pkg/clickhouse
}
