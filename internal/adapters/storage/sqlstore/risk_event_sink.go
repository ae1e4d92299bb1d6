package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jjsmithok/security-platform/internal/core/domain"
	"github.com/jjsmithok/security-platform/internal/core/ports"
)

var riskEventSchema = map[Dialect][]string{
	SQLite:   portableRiskEventSchema,
	Postgres: portableRiskEventSchema,
	MySQL: {
		`CREATE TABLE IF NOT EXISTS risk_events (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			identity VARCHAR(255) NOT NULL,
			ip VARCHAR(64) NOT NULL,
			user_agent TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			method VARCHAR(16) NOT NULL,
			score INTEGER NOT NULL,
			level VARCHAR(16) NOT NULL,
			blocked BOOLEAN NOT NULL,
			factors TEXT NOT NULL,
			occurred_at BIGINT NOT NULL,
			INDEX idx_risk_events_occurred_at (occurred_at)
		)`,
	},
}

var portableRiskEventSchema = []string{
	`CREATE TABLE IF NOT EXISTS risk_events (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		identity VARCHAR(255) NOT NULL,
		ip VARCHAR(64) NOT NULL,
		user_agent TEXT NOT NULL,
		endpoint TEXT NOT NULL,
		method VARCHAR(16) NOT NULL,
		score INTEGER NOT NULL,
		level VARCHAR(16) NOT NULL,
		blocked BOOLEAN NOT NULL,
		factors TEXT NOT NULL,
		occurred_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_risk_events_occurred_at ON risk_events(occurred_at)`,
}

// RiskEventSink appends audit records to the risk_events table.
type RiskEventSink struct {
	db      *sql.DB
	dialect Dialect
}

var _ ports.RiskEventSink = (*RiskEventSink)(nil)

func NewRiskEventSink(ctx context.Context, db *sql.DB, dialect Dialect) (*RiskEventSink, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	schema, ok := riskEventSchema[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
	if err := execAll(ctx, db, schema); err != nil {
		return nil, fmt.Errorf("failed to create risk_events table: %w", err)
	}
	return &RiskEventSink{db: db, dialect: dialect}, nil
}

func (s *RiskEventSink) Record(ctx context.Context, event domain.RiskEvent) error {
	factors := event.Factors
	if factors == nil {
		factors = []string{}
	}
	encoded, err := json.Marshal(factors)
	if err != nil {
		return fmt.Errorf("encode factors: %w", err)
	}

	query := s.dialect.rebind(`INSERT INTO risk_events
		(id, identity, ip, user_agent, endpoint, method, score, level, blocked, factors, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		event.ID, event.Identity, event.IP, event.UserAgent, event.Endpoint, event.Method,
		event.Score, string(event.Level), event.Blocked, string(encoded), toNanos(event.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("%w: insert risk event: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}
