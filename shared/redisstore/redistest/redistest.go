// Package redistest starts an in-memory Redis for package tests.
package redistest

import (
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuongbtq/media-vetting/shared/redisstore"
)

// New returns a store connected to a fresh miniredis instance that is torn down with the test
func New(t testing.TB) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := redisstore.New(&redisstore.Config{
		URL: "redis://" + mr.Addr(),
		Reconnect: redisstore.ReconnectPolicy{
			MaxRetries:      -1,
			ConnectAttempts: 1,
		},
	}, Logger())
	if err != nil {
		t.Fatalf("redistest: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store, mr
}

// Logger discards everything
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
