package settlement

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore persists intents in the settlement_intents table.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, intent *Intent) error {
	sim, err := json.Marshal(intent.Simulation)
	if err != nil {
		return fmt.Errorf("marshal simulation: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settlement_intents
			(id, identity, simulation, status, created_at, approved_at, completed_at, tx_hash, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		intent.ID, intent.Identity, string(sim), string(intent.Status),
		intent.CreatedAt, intent.ApprovedAt, intent.CompletedAt,
		intent.TxHash, intent.Error,
	)
	if err != nil {
		return fmt.Errorf("insert intent: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Intent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, identity, simulation, status, created_at, approved_at, completed_at, tx_hash, error
		FROM settlement_intents
		WHERE id = $1`, id)
	return scanIntent(row)
}

func (s *PostgresStore) Update(ctx context.Context, intent *Intent) error {
	sim, err := json.Marshal(intent.Simulation)
	if err != nil {
		return fmt.Errorf("marshal simulation: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE settlement_intents
		SET simulation = $2, status = $3, approved_at = $4, completed_at = $5, tx_hash = $6, error = $7
		WHERE id = $1`,
		intent.ID, string(sim), string(intent.Status),
		intent.ApprovedAt, intent.CompletedAt, intent.TxHash, intent.Error,
	)
	if err != nil {
		return fmt.Errorf("update intent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update intent: %w", err)
	}
	if n == 0 {
		return ErrIntentNotFound
	}
	return nil
}

func (s *PostgresStore) ListByIdentity(ctx context.Context, identity string, limit int) ([]*Intent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity, simulation, status, created_at, approved_at, completed_at, tx_hash, error
		FROM settlement_intents
		WHERE identity = $1
		ORDER BY created_at DESC
		LIMIT $2`, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("list intents: %w", err)
	}
	defer rows.Close()

	var out []*Intent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (*Intent, error) {
	var (
		intent Intent
		sim    []byte
		status string
	)
	err := row.Scan(
		&intent.ID, &intent.Identity, &sim, &status,
		&intent.CreatedAt, &intent.ApprovedAt, &intent.CompletedAt,
		&intent.TxHash, &intent.Error,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan intent: %w", err)
	}
	if err := json.Unmarshal(sim, &intent.Simulation); err != nil {
		return nil, fmt.Errorf("unmarshal simulation: %w", err)
	}
	intent.Status = Status(status)
	return &intent, nil
}
