package decision

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists decisions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed decision store. The
// schema is managed by the migrations/ directory (see cmd/migrate).
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, d *Decision) error {
	reasoning, err := json.Marshal(d.Reasoning)
	if err != nil {
		return fmt.Errorf("marshal reasoning: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions
			(id, transaction_id, sender_id, action, fraud_score,
			 risk_level, confidence, risk_indicators, reasoning, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		d.ID,
		d.TransactionID,
		d.SenderID,
		d.Action.String(),
		d.FraudScore,
		string(d.RiskLevel),
		d.Confidence,
		d.RiskIndicators,
		reasoning,
		d.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySender(ctx context.Context, senderID string, limit int) ([]*Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, sender_id, action, fraud_score,
		       risk_level, confidence, risk_indicators, reasoning, evaluated_at
		FROM decisions
		WHERE sender_id = $1
		ORDER BY evaluated_at DESC
		LIMIT $2
	`, senderID, limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Decision
	for rows.Next() {
		var d Decision
		var action, level string
		var reasoning []byte

		if err := rows.Scan(&d.ID, &d.TransactionID, &d.SenderID, &action,
			&d.FraudScore, &level, &d.Confidence, &d.RiskIndicators,
			&reasoning, &d.EvaluatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		switch action {
		case "VERIFY":
			d.Action = ActionVerify
		case "BLOCK":
			d.Action = ActionBlock
		default:
			d.Action = ActionAllow
		}
		d.RiskLevel = RiskLevel(level)
		_ = json.Unmarshal(reasoning, &d.Reasoning)
		result = append(result, &d)
	}
	return result, rows.Err()
}
