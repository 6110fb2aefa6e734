package session

import (
	"context"
	"database/sql"
)

// Compile-time check that PostgresEventStore implements EventStore.
var _ EventStore = (*PostgresEventStore)(nil)

// PostgresEventStore persists rotation events in PostgreSQL.
type PostgresEventStore struct {
	db *sql.DB
}

// NewPostgresEventStore creates a PostgreSQL-backed rotation event log.
func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

func (p *PostgresEventStore) Append(ctx context.Context, event *RotationEvent) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rotation_events (id, identity, old_session_id, new_session_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.Identity, event.OldSessionID, event.NewSessionID,
		string(event.Reason), event.Timestamp,
	)
	return err
}

func (p *PostgresEventStore) List(ctx context.Context, identity string) ([]*RotationEvent, error) {
	query := `
		SELECT id, identity, old_session_id, new_session_id, reason, created_at
		FROM rotation_events`
	args := []any{}
	if identity != "" {
		query += ` WHERE identity = $1`
		args = append(args, identity)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*RotationEvent
	for rows.Next() {
		e := &RotationEvent{}
		var reason string
		if err := rows.Scan(&e.ID, &e.Identity, &e.OldSessionID, &e.NewSessionID, &reason, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Reason = RotationReason(reason)
		result = append(result, e)
	}
	return result, rows.Err()
}
