package postgres

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgDirectoryStore_SupportsFallback(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("KnownAddress", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		store := NewPgDirectoryStore(mockPool, logger)

		mockPool.ExpectQuery(`SELECT supports_fallback FROM directory_entries`).
			WithArgs("+15551234567").
			WillReturnRows(mockPool.NewRows([]string{"supports_fallback"}).AddRow(true))

		supported, err := store.SupportsFallback(context.Background(), "+15551234567")
		assert.NoError(t, err)
		assert.True(t, supported)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("UnknownAddressReportsFalse", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		store := NewPgDirectoryStore(mockPool, logger)

		mockPool.ExpectQuery(`SELECT supports_fallback FROM directory_entries`).
			WithArgs("+15559999999").
			WillReturnError(pgx.ErrNoRows)

		supported, err := store.SupportsFallback(context.Background(), "+15559999999")
		assert.NoError(t, err)
		assert.False(t, supported)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgDirectoryStore_GetRelay(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("WithRelay", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		store := NewPgDirectoryStore(mockPool, logger)

		relay := "relay-eu-1"
		mockPool.ExpectQuery(`SELECT relay FROM directory_entries`).
			WithArgs("+15551234567").
			WillReturnRows(mockPool.NewRows([]string{"relay"}).AddRow(&relay))

		got, err := store.GetRelay(context.Background(), "+15551234567")
		assert.NoError(t, err)
		assert.Equal(t, "relay-eu-1", got)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("NullRelay", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()
		store := NewPgDirectoryStore(mockPool, logger)

		mockPool.ExpectQuery(`SELECT relay FROM directory_entries`).
			WithArgs("+15551234567").
			WillReturnRows(mockPool.NewRows([]string{"relay"}).AddRow((*string)(nil)))

		got, err := store.GetRelay(context.Background(), "+15551234567")
		assert.NoError(t, err)
		assert.Equal(t, "", got)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
