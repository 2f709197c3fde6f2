package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldersync/foldersync/internal/client/localstate"
)

func TestCheckSyncRootDriftRecordsFirstRunSilently(t *testing.T) {
	api := &fakeAPI{}
	e, store, dir := newTestEngine(t, api)

	require.NoError(t, e.checkSyncRootDrift(context.Background()))

	stored, ok, err := store.GetConfigValue(context.Background(), localstate.SyncRootKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, dir, stored)
}

func TestCheckSyncRootDriftWarnsAndUpdatesOnChange(t *testing.T) {
	api := &fakeAPI{}
	e, store, dir := newTestEngine(t, api)

	ctx := context.Background()

	require.NoError(t, store.SetConfigValue(ctx, localstate.SyncRootKey, "/old/path"))

	require.NoError(t, e.checkSyncRootDrift(ctx))

	stored, ok, err := store.GetConfigValue(ctx, localstate.SyncRootKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, dir, stored, "snapshot is updated to the current root even after a mismatch")
}
