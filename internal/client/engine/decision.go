package engine

import (
	"github.com/foldersync/foldersync/internal/client/localstate"
	"github.com/foldersync/foldersync/internal/vv"
)

// decision is the outcome of the per-server-file decision table
// (component-design.md §4.6).
type decision string

const (
	decisionNone     decision = "NONE"
	decisionSkip     decision = "SKIP"
	decisionDownload decision = "DOWNLOAD"
	decisionUpload   decision = "UPLOAD"
	decisionConflict decision = "CONFLICT_RESOLVE"
)

// decideForServerFile implements the table from component-design.md §4.6:
// given the local tracked-file state (nil if untracked) for a path the
// server reports, local's on-disk existence, and the server's version
// vector, decide what the reconciliation loop should enqueue.
func decideForServerFile(local *localstate.TrackedFile, localFileExists bool, serverVV vv.VV) decision {
	if local != nil && local.SyncStatus == localstate.StatusDeleted {
		return decisionSkip
	}

	if local == nil {
		if !localFileExists {
			return decisionDownload
		}

		return decisionUpload
	}

	vvL := local.VersionVector

	switch {
	case serverVV.Dominates(vvL) && !vvL.Dominates(serverVV):
		return decisionDownload
	case vvL.Dominates(serverVV) && !serverVV.Dominates(vvL):
		return decisionUpload
	case vvL.Concurrent(serverVV):
		return decisionConflict
	default:
		// Neither dominates and they aren't concurrent: equal. In sync.
		return decisionNone
	}
}
