package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quietwire/delivery/internal/prefs"
)

// PgxIface is the pool subset the repository needs; pgxmock satisfies it.
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgPrefsStore struct {
	db     PgxIface
	logger *slog.Logger
}

// NewPgPrefsStore creates the PostgreSQL preference store.
func NewPgPrefsStore(db PgxIface, logger *slog.Logger) prefs.Store {
	return &pgPrefsStore{db: db, logger: logger.With("component", "prefs_pg")}
}

func (r *pgPrefsStore) FallbackAllowed(ctx context.Context) (bool, error) {
	return r.boolPref(ctx, prefs.KeyFallbackAllowed, true)
}

func (r *pgPrefsStore) FallbackMediaAllowed(ctx context.Context) (bool, error) {
	return r.boolPref(ctx, prefs.KeyFallbackMediaAllowed, true)
}

func (r *pgPrefsStore) FallbackApprovalRequired(ctx context.Context) (bool, error) {
	return r.boolPref(ctx, prefs.KeyFallbackApprovalRequired, false)
}

func (r *pgPrefsStore) boolPref(ctx context.Context, key string, def bool) (bool, error) {
	var value bool
	err := r.db.QueryRow(ctx, `SELECT value FROM transport_prefs WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return def, nil
		}
		return def, fmt.Errorf("reading preference %s: %w", key, err)
	}
	return value, nil
}
