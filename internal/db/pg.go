package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"k8s.io/klog/v2"

	"github.com/kube9/statuscore/internal/types"
)

// PostgresStore persists operation and event history across restarts.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initSchema() error {
	schema := `
	-- Operations: one row per dispatched operation, phase updated in place
	CREATE TABLE IF NOT EXISTS operations (
		id BIGINT PRIMARY KEY,
		context TEXT NOT NULL,
		kind TEXT NOT NULL,
		namespace TEXT,
		name TEXT NOT NULL,
		op_type TEXT NOT NULL,
		phase TEXT NOT NULL,
		error TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_operations_started ON operations(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_operations_phase ON operations(phase);

	-- Events: append-only journal of notifications
	CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		event_type TEXT NOT NULL,
		context TEXT,
		kind TEXT,
		namespace TEXT,
		name TEXT,
		operation_id BIGINT,
		error TEXT,
		occurred_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_occurred ON events(occurred_at DESC);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *PostgresStore) RecordOperation(op types.OperationSnapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO operations (id, context, kind, namespace, name, op_type, phase, error, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			phase = EXCLUDED.phase,
			error = EXCLUDED.error,
			updated_at = NOW()
	`, op.ID, op.Key.Context, string(op.Key.Kind), op.Key.Namespace, op.Key.Name,
		string(op.Type), string(op.Phase), op.Error, op.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert operation %d: %w", op.ID, err)
	}
	return nil
}

func (s *PostgresStore) RecordEvent(ev types.Event) error {
	var opID sql.NullInt64
	if ev.Operation != nil {
		opID = sql.NullInt64{Int64: ev.Operation.ID, Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO events (event_type, context, kind, namespace, name, operation_id, error, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, string(ev.Type), ev.Key.Context, string(ev.Key.Kind), ev.Key.Namespace, ev.Key.Name,
		opID, ev.Error, ev.Time)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) Operations(limit int) ([]types.OperationSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, context, kind, namespace, name, op_type, phase, COALESCE(error, ''), started_at
		FROM operations
		ORDER BY started_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []types.OperationSnapshot
	for rows.Next() {
		var op types.OperationSnapshot
		var kind, opType, phase string
		if err := rows.Scan(&op.ID, &op.Key.Context, &kind, &op.Key.Namespace, &op.Key.Name,
			&opType, &phase, &op.Error, &op.StartedAt); err != nil {
			klog.ErrorS(err, "failed to scan operation row")
			continue
		}
		op.Key.Kind = types.ResourceKind(kind)
		op.Type = types.OperationType(opType)
		op.Phase = types.OperationPhase(phase)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (s *PostgresStore) Events(limit int) ([]types.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT event_type, COALESCE(context, ''), COALESCE(kind, ''), COALESCE(namespace, ''),
		       COALESCE(name, ''), operation_id, COALESCE(error, ''), occurred_at
		FROM events
		ORDER BY occurred_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var ev types.Event
		var evType, kind string
		var opID sql.NullInt64
		if err := rows.Scan(&evType, &ev.Key.Context, &kind, &ev.Key.Namespace,
			&ev.Key.Name, &opID, &ev.Error, &ev.Time); err != nil {
			klog.ErrorS(err, "failed to scan event row")
			continue
		}
		ev.Type = types.EventType(evType)
		ev.Key.Kind = types.ResourceKind(kind)
		if opID.Valid {
			ev.Operation = &types.OperationSnapshot{ID: opID.Int64}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping() error {
	return s.db.Ping()
}
