// Package reconcile implements the server's sole "upload with version
// vector" decision path (component-design.md §4.7). No other code path in
// this repository is permitted to mutate a file's current_version_vector —
// the corrected invariant over the source behavior the specification calls
// out.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/foldersync/foldersync/internal/server/metastore"
	"github.com/foldersync/foldersync/internal/vv"
)

// ErrStaleUpload is returned when the server's version vector already
// dominates the incoming one — the client must re-reconcile before retrying.
var ErrStaleUpload = errors.New("reconcile: stale upload")

// Outcome classifies how an upload was resolved, so HTTP handlers can choose
// a status code without re-deriving the decision.
type Outcome int

// Recognized outcomes of an upload decision.
const (
	OutcomeCreated Outcome = iota
	OutcomeAccepted
	OutcomeConflict
	OutcomeNoop
	OutcomeStale
)

// Broadcaster publishes accepted sync events to a user's connected push
// channel subscribers. Defined at the consumer (this package) so the push
// package's Hub can satisfy it without this package importing websocket
// machinery.
type Broadcaster interface {
	Publish(userID string, event *metastore.SyncEvent)
}

// noopBroadcaster is used when no push channel is wired, so the
// reconciliation service never nil-derefs in tests or minimal deployments.
type noopBroadcaster struct{}

func (noopBroadcaster) Publish(string, *metastore.SyncEvent) {}

// Upload is the request shape for the "upload with version vector" contract.
type Upload struct {
	UserID      string
	Path        string
	StoragePath string
	FileSize    int64
	Checksum    string
	ClientID    string
	VV          vv.VV
}

// Result is returned to the HTTP layer after a decision has been committed.
type Result struct {
	Outcome Outcome
	File    *metastore.FileRecord
}

// Service is the reconciliation service.
type Service struct {
	store       metastore.Store
	broadcaster Broadcaster
	logger      *slog.Logger
	now         func() time.Time
}

// New constructs a Service. broadcaster may be nil, in which case accepted
// events are recorded but not pushed live (pollers still see them).
func New(store metastore.Store, broadcaster Broadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	if broadcaster == nil {
		broadcaster = noopBroadcaster{}
	}

	return &Service{store: store, broadcaster: broadcaster, logger: logger, now: time.Now}
}

// Reconcile decides accept/stale-reject/conflict-flag/no-op for u and
// commits the decision atomically: the read of the existing record, the
// decision, and the write of any new version vector happen inside a single
// metastore transaction (concurrency-model.md §5's VV-interleaving
// requirement).
func (s *Service) Reconcile(ctx context.Context, u Upload) (*Result, error) {
	var (
		result *Result
		event  *metastore.SyncEvent
	)

	err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx metastore.Store) error {
		existing, err := tx.GetFileByPath(ctx, u.UserID, u.Path)
		if errors.Is(err, metastore.ErrNotFound) {
			result, event, err = s.create(ctx, tx, u)
			return err
		}
		if err != nil {
			return err
		}

		result, event, err = s.reconcileExisting(ctx, tx, u, existing)
		return err
	})
	if err != nil {
		return nil, err
	}

	if result.Outcome != OutcomeNoop && event != nil {
		s.broadcaster.Publish(u.UserID, event)
	}

	if result.Outcome == OutcomeStale {
		return result, fmt.Errorf("%w: path %s", ErrStaleUpload, u.Path)
	}

	return result, nil
}

func (s *Service) create(ctx context.Context, tx metastore.Store, u Upload) (*Result, *metastore.SyncEvent, error) {
	incoming := u.VV
	if incoming.IsEmpty() {
		incoming = vv.New().Increment(u.ClientID)
	}

	now := s.now()
	fileID := uuid.NewString()

	record := &metastore.FileRecord{
		FileID:               fileID,
		UserID:               u.UserID,
		FilePath:             u.Path,
		FileSize:             u.FileSize,
		Checksum:             u.Checksum,
		CurrentVersionVector: incoming,
		StoragePath:          u.StoragePath,
		CreatedAt:            now,
		ModifiedAt:           now,
		SyncStatus:           metastore.SyncSynced,
		ConflictStatus:       metastore.ConflictNone,
	}

	if err := tx.UpsertFile(ctx, record); err != nil {
		return nil, nil, err
	}

	if err := tx.AddVersion(ctx, &metastore.FileVersion{
		VersionID: uuid.NewString(), FileID: fileID, VersionNumber: 1,
		Checksum: u.Checksum, StoragePath: u.StoragePath, FileSize: u.FileSize,
		CreatedAt: now, IsCurrentVersion: true, VersionVector: incoming, CreatedByClient: u.ClientID,
	}); err != nil {
		return nil, nil, err
	}

	event := &metastore.SyncEvent{
		EventID: uuid.NewString(), UserID: u.UserID, FileID: fileID, EventType: metastore.EventCreate,
		Timestamp: now, ClientID: u.ClientID, SyncStatus: metastore.EventStatusCompleted,
		FilePath: u.Path, FileSize: u.FileSize, Checksum: u.Checksum,
	}
	if err := tx.RecordEvent(ctx, event); err != nil {
		return nil, nil, err
	}

	return &Result{Outcome: OutcomeCreated, File: record}, event, nil
}

func (s *Service) reconcileExisting(ctx context.Context, tx metastore.Store, u Upload, existing *metastore.FileRecord) (*Result, *metastore.SyncEvent, error) {
	incoming := u.VV
	now := s.now()

	switch {
	case incoming.Equal(existing.CurrentVersionVector):
		return &Result{Outcome: OutcomeNoop, File: existing}, nil, nil

	case existing.CurrentVersionVector.Dominates(incoming):
		event := &metastore.SyncEvent{
			EventID: uuid.NewString(), UserID: u.UserID, FileID: existing.FileID, EventType: metastore.EventModify,
			Timestamp: now, ClientID: u.ClientID, SyncStatus: metastore.EventStatusFailed,
			FilePath: u.Path, FileSize: u.FileSize, Checksum: u.Checksum,
			ErrorMessage: "server version vector dominates incoming",
		}
		if err := tx.RecordEvent(ctx, event); err != nil {
			return nil, nil, err
		}

		return &Result{Outcome: OutcomeStale, File: existing}, nil, nil

	case incoming.Dominates(existing.CurrentVersionVector):
		existing.FileSize = u.FileSize
		existing.Checksum = u.Checksum
		existing.CurrentVersionVector = incoming
		existing.StoragePath = u.StoragePath
		existing.ModifiedAt = now
		existing.SyncStatus = metastore.SyncSynced
		existing.ConflictStatus = metastore.ConflictNone

		if err := tx.UpsertFile(ctx, existing); err != nil {
			return nil, nil, err
		}

		if err := s.demoteAndAddVersion(ctx, tx, existing, u, now, true); err != nil {
			return nil, nil, err
		}

		event := &metastore.SyncEvent{
			EventID: uuid.NewString(), UserID: u.UserID, FileID: existing.FileID, EventType: metastore.EventModify,
			Timestamp: now, ClientID: u.ClientID, SyncStatus: metastore.EventStatusCompleted,
			FilePath: u.Path, FileSize: u.FileSize, Checksum: u.Checksum,
		}
		if err := tx.RecordEvent(ctx, event); err != nil {
			return nil, nil, err
		}

		return &Result{Outcome: OutcomeAccepted, File: existing}, event, nil

	default: // concurrent(incoming, existing.CurrentVersionVector)
		merged := vv.Merge(incoming, existing.CurrentVersionVector)

		existing.FileSize = u.FileSize
		existing.Checksum = u.Checksum
		existing.CurrentVersionVector = merged
		existing.StoragePath = u.StoragePath
		existing.ModifiedAt = now
		existing.SyncStatus = metastore.SyncConflict
		existing.ConflictStatus = metastore.ConflictConflicted

		if err := tx.UpsertFile(ctx, existing); err != nil {
			return nil, nil, err
		}

		if err := s.demoteAndAddVersion(ctx, tx, existing, u, now, false); err != nil {
			return nil, nil, err
		}

		event := &metastore.SyncEvent{
			EventID: uuid.NewString(), UserID: u.UserID, FileID: existing.FileID, EventType: metastore.EventModify,
			Timestamp: now, ClientID: u.ClientID, SyncStatus: metastore.EventStatusConflict,
			FilePath: u.Path, FileSize: u.FileSize, Checksum: u.Checksum,
		}
		if err := tx.RecordEvent(ctx, event); err != nil {
			return nil, nil, err
		}

		return &Result{Outcome: OutcomeConflict, File: existing}, event, nil
	}
}

// demoteAndAddVersion appends the new candidate version within the same
// upload transaction. When isCurrent is set it first clears the file's
// existing current-version row (if any), so file_versions never carries more than one
// is_current_version=1 row per file for GET /files/{fileId}/versions to
// surface.
func (s *Service) demoteAndAddVersion(ctx context.Context, tx metastore.Store, file *metastore.FileRecord, u Upload, now time.Time, isCurrent bool) error {
	versions, err := tx.ListVersions(ctx, file.FileID)
	if err != nil {
		return err
	}

	if isCurrent {
		if err := tx.DemoteCurrentVersion(ctx, file.FileID); err != nil {
			return err
		}
	}

	return tx.AddVersion(ctx, &metastore.FileVersion{
		VersionID: uuid.NewString(), FileID: file.FileID, VersionNumber: len(versions) + 1,
		Checksum: u.Checksum, StoragePath: u.StoragePath, FileSize: u.FileSize,
		CreatedAt: now, IsCurrentVersion: isCurrent, VersionVector: file.CurrentVersionVector,
		CreatedByClient: u.ClientID,
	})
}

// Delete hard-removes a file's metadata and emits a DELETE sync event,
// broadcast to every other connected client of the user.
func (s *Service) Delete(ctx context.Context, userID, fileID, clientID string) (*metastore.FileRecord, error) {
	var (
		deleted *metastore.FileRecord
		event   *metastore.SyncEvent
	)

	err := s.store.RunInTransaction(ctx, func(ctx context.Context, tx metastore.Store) error {
		f, err := tx.DeleteFile(ctx, userID, fileID)
		if err != nil {
			return err
		}

		deleted = f

		event = &metastore.SyncEvent{
			EventID: uuid.NewString(), UserID: userID, FileID: fileID, EventType: metastore.EventDelete,
			Timestamp: s.now(), ClientID: clientID, SyncStatus: metastore.EventStatusCompleted,
			FilePath: f.FilePath,
		}

		return tx.RecordEvent(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	s.broadcaster.Publish(userID, event)

	return deleted, nil
}
