package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createLifecycleTable = `
	CREATE TABLE IF NOT EXISTS lifecycle_state (
		id         TEXT PRIMARY KEY,
		doc        JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// PostgresStore keeps the document as one JSONB row. Update locks the row with
// SELECT ... FOR UPDATE for the duration of the transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
	id   string
}

func NewPostgresStore(pool *pgxpool.Pool, id string) *PostgresStore {
	if id == "" {
		id = "default"
	}
	return &PostgresStore{pool: pool, id: id}
}

// EnsureSchema creates the table and seeds the row so FOR UPDATE always has something to lock.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, createLifecycleTable); err != nil {
		return fmt.Errorf("postgres: create lifecycle_state: %w", err)
	}
	doc, err := json.Marshal(DefaultState(""))
	if err != nil {
		return fmt.Errorf("postgres: marshal default state: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO lifecycle_state (id, doc) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`, p.id, doc)
	if err != nil {
		return fmt.Errorf("postgres: seed lifecycle_state: %w", err)
	}
	return nil
}

func (p *PostgresStore) Load(ctx context.Context) (*State, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx, `SELECT doc FROM lifecycle_state WHERE id = $1`, p.id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DefaultState(""), nil
		}
		return nil, fmt.Errorf("postgres: load lifecycle_state: %w", err)
	}
	return decodeState(doc, "postgres"), nil
}

func (p *PostgresStore) Save(ctx context.Context, s *State) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("postgres: marshal lifecycle state: %w", err)
	}
	return upsertState(ctx, p.pool, p.id, doc)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertState(ctx context.Context, db execer, id string, doc []byte) error {
	_, err := db.Exec(ctx, `
		INSERT INTO lifecycle_state (id, doc, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET
			doc        = EXCLUDED.doc,
			updated_at = NOW()`, id, doc)
	if err != nil {
		return fmt.Errorf("postgres: upsert lifecycle_state: %w", err)
	}
	return nil
}

func (p *PostgresStore) Update(ctx context.Context, fn func(*State) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var doc []byte
	st := DefaultState("")
	err = tx.QueryRow(ctx, `SELECT doc FROM lifecycle_state WHERE id = $1 FOR UPDATE`, p.id).Scan(&doc)
	switch {
	case err == nil:
		st = decodeState(doc, "postgres")
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return fmt.Errorf("postgres: lock lifecycle_state: %w", err)
	}

	if err := fn(st); err != nil {
		return err
	}
	out, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("postgres: marshal lifecycle state: %w", err)
	}
	if err := upsertState(ctx, tx, p.id, out); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

var _ Store = (*PostgresStore)(nil)
