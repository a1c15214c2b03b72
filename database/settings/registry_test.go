package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patternstore/database/testutil"
	"patternstore/database/types"
	"patternstore/logger"
)

func TestResolveDefaultsWhenTableEmpty(t *testing.T) {
	db := testutil.OpenTestDB(t)
	registry := NewRegistry(db.DB(), logger.Nop())

	assert.Equal(t, DefaultMode(), registry.ResolveMode())
	assert.Equal(t, DefaultPaths(), registry.ResolvePaths())
}

func TestSetDefaultsOverridesFailSoftValues(t *testing.T) {
	db := testutil.OpenTestDB(t)
	registry := NewRegistry(db.DB(), logger.Nop())

	mode := types.StorageMode{Primary: types.BackendFile, Fallback: types.BackendNone}
	paths := types.FilePaths{Processed: "/tmp/p", Patterns: "/tmp/t", Analysis: "/tmp/a"}
	registry.SetDefaults(mode, paths)

	assert.Equal(t, mode, registry.ResolveMode())
	assert.Equal(t, paths, registry.ResolvePaths())
}

func TestUpdateModePersists(t *testing.T) {
	db := testutil.OpenTestDB(t)
	registry := NewRegistry(db.DB(), logger.Nop())

	mode := types.StorageMode{Primary: types.BackendFile, Fallback: types.BackendDatabase}
	require.NoError(t, registry.UpdateMode(mode))
	assert.Equal(t, mode, registry.ResolveMode())

	// A fresh registry over the same table sees the update
	other := NewRegistry(db.DB(), logger.Nop())
	assert.Equal(t, mode, other.ResolveMode())
}

func TestUpdatePathsPersists(t *testing.T) {
	db := testutil.OpenTestDB(t)
	registry := NewRegistry(db.DB(), logger.Nop())

	paths := types.FilePaths{Processed: "/var/p", Patterns: "/var/t", Analysis: "/var/a"}
	require.NoError(t, registry.UpdatePaths(paths))

	other := NewRegistry(db.DB(), logger.Nop())
	assert.Equal(t, paths, other.ResolvePaths())
}

func TestResolveFailsSoftWhenDatabaseDown(t *testing.T) {
	db := testutil.OpenTestDB(t)
	registry := NewRegistry(db.DB(), logger.Nop())
	testutil.BreakConnection(t, db)

	assert.Equal(t, DefaultMode(), registry.ResolveMode())
	assert.Equal(t, DefaultPaths(), registry.ResolvePaths())
}

func TestSeedDefaultSettingsKeepsOperatorValues(t *testing.T) {
	db := testutil.OpenTestDB(t)
	registry := NewRegistry(db.DB(), logger.Nop())

	defaults := map[string]types.JSONMap{
		KeyStorageMode: {"primary": "database", "fallback": "file"},
	}
	require.NoError(t, db.SeedDefaultSettings(defaults))
	assert.Equal(t, DefaultMode(), registry.ResolveMode())

	// Operator flips the mode; a later seed must not clobber it
	mode := types.StorageMode{Primary: types.BackendFile, Fallback: types.BackendDatabase}
	require.NoError(t, registry.UpdateMode(mode))
	require.NoError(t, db.SeedDefaultSettings(defaults))
	assert.Equal(t, mode, registry.ResolveMode())
}
