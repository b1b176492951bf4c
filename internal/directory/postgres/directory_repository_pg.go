package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quietwire/delivery/internal/directory"
)

// PgxIface is the pool subset the repository needs; pgxmock satisfies it.
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgDirectoryStore struct {
	db     PgxIface
	logger *slog.Logger
}

// NewPgDirectoryStore creates the PostgreSQL capability directory.
func NewPgDirectoryStore(db PgxIface, logger *slog.Logger) directory.Store {
	return &pgDirectoryStore{db: db, logger: logger.With("component", "directory_pg")}
}

func (r *pgDirectoryStore) SupportsFallback(ctx context.Context, normalizedAddress string) (bool, error) {
	var supported bool
	query := `SELECT supports_fallback FROM directory_entries WHERE address = $1`
	err := r.db.QueryRow(ctx, query, normalizedAddress).Scan(&supported)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// No carrier record means no fallback path.
			return false, nil
		}
		return false, fmt.Errorf("querying fallback capability for %s: %w", normalizedAddress, err)
	}
	return supported, nil
}

func (r *pgDirectoryStore) GetRelay(ctx context.Context, normalizedAddress string) (string, error) {
	var relay *string
	query := `SELECT relay FROM directory_entries WHERE address = $1`
	err := r.db.QueryRow(ctx, query, normalizedAddress).Scan(&relay)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("querying relay for %s: %w", normalizedAddress, err)
	}
	if relay == nil {
		return "", nil
	}
	return *relay, nil
}
