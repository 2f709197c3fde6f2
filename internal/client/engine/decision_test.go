package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/foldersync/foldersync/internal/client/localstate"
	"github.com/foldersync/foldersync/internal/vv"
)

func TestDecideForServerFileUntracked(t *testing.T) {
	assert.Equal(t, decisionDownload, decideForServerFile(nil, false, vv.New().Increment("a")))
	assert.Equal(t, decisionUpload, decideForServerFile(nil, true, vv.New().Increment("a")))
}

func TestDecideForServerFileTombstoned(t *testing.T) {
	local := &localstate.TrackedFile{SyncStatus: localstate.StatusDeleted, VersionVector: vv.New()}
	assert.Equal(t, decisionSkip, decideForServerFile(local, true, vv.New().Increment("a")))
}

func TestDecideForServerFileVectorComparisons(t *testing.T) {
	base := vv.New().Increment("a")
	ahead := base.Increment("a")
	concurrent := base.Increment("b")

	local := &localstate.TrackedFile{SyncStatus: localstate.StatusSynced, VersionVector: base}
	assert.Equal(t, decisionDownload, decideForServerFile(local, true, ahead))

	local = &localstate.TrackedFile{SyncStatus: localstate.StatusSynced, VersionVector: ahead}
	assert.Equal(t, decisionUpload, decideForServerFile(local, true, base))

	local = &localstate.TrackedFile{SyncStatus: localstate.StatusSynced, VersionVector: ahead}
	assert.Equal(t, decisionConflict, decideForServerFile(local, true, concurrent))

	local = &localstate.TrackedFile{SyncStatus: localstate.StatusSynced, VersionVector: base}
	assert.Equal(t, decisionNone, decideForServerFile(local, true, base))
}
