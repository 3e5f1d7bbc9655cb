package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lectern.db")

	dbx, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })

	var mode string
	require.NoError(t, dbx.Get(&mode, "PRAGMA journal_mode;"))
	assert.Equal(t, "wal", mode)

	var tables int
	require.NoError(t, dbx.Get(&tables, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('feeds', 'feed_items', 'users', 'sessions', 'subscriptions');"))
	assert.Equal(t, 5, tables)

	// Migrating again is a no-op.
	again, err := Open(context.Background(), path)
	require.NoError(t, err)
	again.Close()
}
