package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists records in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS consumed_proofs (
    proof_hash TEXT PRIMARY KEY,
    buyer TEXT NOT NULL,
    stable_amount TEXT NOT NULL,
    payout_amount TEXT NOT NULL,
    payout_tx_hash TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Get(ctx context.Context, proofHash string) (*Record, error) {
	row := p.pool.QueryRow(ctx, `
SELECT proof_hash, buyer, stable_amount, payout_amount, payout_tx_hash, status, error, created_at, updated_at
FROM consumed_proofs
WHERE proof_hash = $1
`, Key(proofHash))

	var (
		rec    Record
		status string
	)
	if err := row.Scan(&rec.ProofHash, &rec.Buyer, &rec.StableAmount, &rec.PayoutAmount,
		&rec.PayoutTxHash, &status, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.Status = Status(status)
	return &rec, nil
}

func (p *PostgresStore) Claim(ctx context.Context, rec Record) error {
	tag, err := p.pool.Exec(ctx, `
INSERT INTO consumed_proofs (proof_hash, buyer, stable_amount, payout_amount, payout_tx_hash, status, error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (proof_hash) DO NOTHING
`, Key(rec.ProofHash), rec.Buyer, rec.StableAmount, rec.PayoutAmount, rec.PayoutTxHash,
		string(rec.Status), rec.Error, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyClaimed
	}
	return nil
}

func (p *PostgresStore) Update(ctx context.Context, rec Record) error {
	_, err := p.pool.Exec(ctx, `
UPDATE consumed_proofs
SET payout_tx_hash = $2,
    status = $3,
    error = $4,
    updated_at = $5
WHERE proof_hash = $1
`, Key(rec.ProofHash), rec.PayoutTxHash, string(rec.Status), rec.Error, rec.UpdatedAt)
	return err
}

func (p *PostgresStore) Release(ctx context.Context, proofHash string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM consumed_proofs WHERE proof_hash = $1 AND status = $2`,
		Key(proofHash), string(StatusPending))
	return err
}
