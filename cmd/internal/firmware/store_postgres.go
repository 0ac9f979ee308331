package firmware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const versionKey = "version"

// PostgresStore is a Store backed by the configs key/value table.
//
// Ownership model: the pgx pool belongs to the caller. Schema (managed
// outside this process):
//
//	CREATE TABLE configs (
//	    key   TEXT PRIMARY KEY,
//	    value TEXT
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed release store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("firmware: nil pool")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Get(ctx context.Context) (Version, bool, error) {
	var raw *string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM configs WHERE key = $1`, versionKey,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Version{}, false, nil
		}
		return Version{}, false, fmt.Errorf("firmware: get release: %w", err)
	}
	if raw == nil {
		return Version{}, false, nil
	}

	var v Version
	if err := json.Unmarshal([]byte(*raw), &v); err != nil {
		return Version{}, false, fmt.Errorf("firmware: decode release: %w", err)
	}
	return v, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, v Version) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("firmware: encode release: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO configs (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		versionKey, string(raw),
	)
	if err != nil {
		return fmt.Errorf("firmware: set release: %w", err)
	}
	return nil
}
