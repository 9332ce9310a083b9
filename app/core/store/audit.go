package store

import (
	"context"
	"time"
)

// AuditRecord is one terminal run, flattened for inspection. Cancelled
// and failed runs carry no decision fields.
type AuditRecord struct {
	RunID      string  `json:"run_id"`
	Scenario   string  `json:"scenario"`
	State      string  `json:"state"`
	Decision   string  `json:"decision,omitempty"`
	Method     string  `json:"method,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Turns      int     `json:"turns"`
	StartedAt  int64   `json:"started_at"`
	FinishedAt int64   `json:"finished_at"`
}

// AuditStore appends terminal runs to the sqlite audit log. Records
// outlive registry cleanup, so evicted runs stay inspectable.
type AuditStore struct {
	db *DB
}

func NewAuditStore(db *DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Record(ctx context.Context, rec AuditRecord) error {
	if rec.FinishedAt == 0 {
		rec.FinishedAt = time.Now().Unix()
	}
	query := `
INSERT INTO run_audit (run_id, scenario, state, decision, method, confidence, turns, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO UPDATE SET
	state = excluded.state,
	decision = excluded.decision,
	method = excluded.method,
	confidence = excluded.confidence,
	turns = excluded.turns,
	finished_at = excluded.finished_at`
	_, err := s.db.Conn().ExecContext(ctx, query,
		rec.RunID, rec.Scenario, rec.State, rec.Decision, rec.Method,
		rec.Confidence, rec.Turns, rec.StartedAt, rec.FinishedAt)
	return err
}

// List returns audit records, most recently finished first.
func (s *AuditStore) List(ctx context.Context, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
SELECT run_id, scenario, state, COALESCE(decision, ''), COALESCE(method, ''), COALESCE(confidence, 0), turns, started_at, finished_at
FROM run_audit ORDER BY finished_at DESC LIMIT ?`
	rows, err := s.db.Conn().QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]AuditRecord, 0, limit)
	for rows.Next() {
		var rec AuditRecord
		if err := rows.Scan(&rec.RunID, &rec.Scenario, &rec.State, &rec.Decision,
			&rec.Method, &rec.Confidence, &rec.Turns, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}
