package policy

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore persists signing policies in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed policy store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, identity string) (*SigningPolicy, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT identity, max_amount, allowed_chains, require_gas_below_gwei, allowed_tokens, cooldown_seconds, created_at, updated_at
		FROM signing_policies WHERE identity = $1`, identity)

	sp := &SigningPolicy{}
	var chains pq.Int64Array
	var tokens pq.StringArray
	err := row.Scan(&sp.Identity, &sp.MaxAmount, &chains, &sp.RequireGasBelowGwei,
		&tokens, &sp.CooldownSeconds, &sp.CreatedAt, &sp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPolicyNotFound
	}
	if err != nil {
		return nil, err
	}
	sp.AllowedChains = chains
	sp.AllowedTokens = tokens
	return sp, nil
}

// Put upserts the policy for its identity.
func (p *PostgresStore) Put(ctx context.Context, sp *SigningPolicy) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO signing_policies (identity, max_amount, allowed_chains, require_gas_below_gwei, allowed_tokens, cooldown_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (identity) DO UPDATE SET
			max_amount = EXCLUDED.max_amount,
			allowed_chains = EXCLUDED.allowed_chains,
			require_gas_below_gwei = EXCLUDED.require_gas_below_gwei,
			allowed_tokens = EXCLUDED.allowed_tokens,
			cooldown_seconds = EXCLUDED.cooldown_seconds,
			updated_at = EXCLUDED.updated_at`,
		sp.Identity, sp.MaxAmount, pq.Array(sp.AllowedChains), sp.RequireGasBelowGwei,
		pq.Array(sp.AllowedTokens), sp.CooldownSeconds, sp.CreatedAt, sp.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Delete(ctx context.Context, identity string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM signing_policies WHERE identity = $1`, identity)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context) ([]*SigningPolicy, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT identity, max_amount, allowed_chains, require_gas_below_gwei, allowed_tokens, cooldown_seconds, created_at, updated_at
		FROM signing_policies ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*SigningPolicy
	for rows.Next() {
		sp := &SigningPolicy{}
		var chains pq.Int64Array
		var tokens pq.StringArray
		if err := rows.Scan(&sp.Identity, &sp.MaxAmount, &chains, &sp.RequireGasBelowGwei,
			&tokens, &sp.CooldownSeconds, &sp.CreatedAt, &sp.UpdatedAt); err != nil {
			return nil, err
		}
		sp.AllowedChains = chains
		sp.AllowedTokens = tokens
		result = append(result, sp)
	}
	return result, rows.Err()
}
