package postgresql

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockClient(t *testing.T) (*Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewFromDB(sqlx.NewDb(db, "postgres"), &Config{}, logger), mock
}

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   string
	}{
		{
			name:   "default ssl mode",
			config: Config{Host: "localhost", Port: 5432, User: "vetting", Password: "secret", Database: "vetting"},
			want:   "host=localhost port=5432 user=vetting password=secret dbname=vetting sslmode=disable",
		},
		{
			name:   "explicit ssl mode",
			config: Config{Host: "db", Port: 6432, User: "u", Password: "p", Database: "d", SSLMode: "require"},
			want:   "host=db port=6432 user=u password=p dbname=d sslmode=require",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.DSN())
		})
	}
}

func TestClient_Health(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		client, mock := newMockClient(t)
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

		require.NoError(t, client.Health(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ping fails", func(t *testing.T) {
		client, mock := newMockClient(t)
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		err := client.Health(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database health check failed")
	})

	t.Run("query fails", func(t *testing.T) {
		client, mock := newMockClient(t)
		mock.ExpectPing()
		mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("read-only transaction"))

		err := client.Health(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database query health check failed")
	})
}

func TestClient_Close(t *testing.T) {
	client, mock := newMockClient(t)
	mock.ExpectClose()

	require.NoError(t, client.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
