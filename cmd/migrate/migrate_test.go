package main

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidleathers/crm-dnc-relay/internal/testutil/containers"
)

func TestCreate(t *testing.T) {
	dir := t.TempDir()

	up, down, err := Create(dir, "init")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "000001_init.up.sql"), up)
	assert.Equal(t, filepath.Join(dir, "000001_init.down.sql"), down)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "000007_tags.up.sql"), nil, 0o644))
	up, _, err = Create(dir, "add_index")
	require.NoError(t, err)
	assert.Equal(t, "000008_add_index.up.sql", filepath.Base(up))

	content, err := os.ReadFile(up)
	require.NoError(t, err)
	assert.Contains(t, string(content), "add_index")
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "no migrations applied", Status{}.String())
	assert.Equal(t, "version 1", Status{Version: 1, Applied: true}.String())
	assert.Equal(t, "version 2 (dirty)", Status{Version: 2, Dirty: true, Applied: true}.String())
}

func TestMigrator_UpDown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pg, err := containers.NewPostgresContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	db, err := sql.Open("postgres", pg.ConnectionString)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	migrator, err := NewMigrator(db, zap.NewNop())
	require.NoError(t, err)

	status, err := migrator.Status()
	require.NoError(t, err)
	assert.False(t, status.Applied)

	require.NoError(t, migrator.Up(0))
	require.NoError(t, migrator.Up(0))

	status, err = migrator.Status()
	require.NoError(t, err)
	assert.Equal(t, uint(1), status.Version)
	assert.False(t, status.Dirty)

	var tables int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT count(*) FROM information_schema.tables WHERE table_name IN ('dnc_cache', 'oauth_tokens')`).Scan(&tables))
	assert.Equal(t, 2, tables)

	require.NoError(t, migrator.Down(1))
	status, err = migrator.Status()
	require.NoError(t, err)
	assert.False(t, status.Applied)
}
