package repositories

import (
	"io"
	"log/slog"
	"testing"

	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

// setupStorage opens a throwaway badger DB and bluge index under t.TempDir.
func setupStorage(t *testing.T) (*badger.DB, *bluge.Writer, *slog.Logger) {
	t.Helper()

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	index, err := bluge.OpenWriter(bluge.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	return db, index, slog.New(slog.NewTextHandler(io.Discard, nil))
}
