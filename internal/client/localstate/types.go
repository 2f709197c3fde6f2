// Package localstate persists the desktop client's per-process sync state
// (component-design.md §4.4): tracked files, the sync queue, and small
// client configuration values, mirroring the server metastore package's
// migration and query conventions.
package localstate

import (
	"context"
	"time"

	"github.com/foldersync/foldersync/internal/vv"
)

// SyncStatus mirrors a tracked file's sync_status column.
type SyncStatus string

// Recognized sync statuses (data-model.md §3).
const (
	StatusPending SyncStatus = "PENDING"
	StatusSynced  SyncStatus = "SYNCED"
	StatusDeleted SyncStatus = "DELETED"
)

// Operation enumerates a sync queue entry's kind. Numeric priority follows
// component-design.md §4.6 ("Queue priorities"): DELETE=1 (highest),
// CONFLICT_RESOLVE=2, UPLOAD=3, DOWNLOAD=4.
type Operation string

// Recognized operations and their fixed priorities.
const (
	OpDelete          Operation = "DELETE"
	OpConflictResolve Operation = "CONFLICT_RESOLVE"
	OpUpload          Operation = "UPLOAD"
	OpDownload        Operation = "DOWNLOAD"
)

// Priority returns op's fixed queue priority (lower value dequeues first).
func (op Operation) Priority() int {
	switch op {
	case OpDelete:
		return 1
	case OpConflictResolve:
		return 2
	case OpUpload:
		return 3
	case OpDownload:
		return 4
	default:
		return 99
	}
}

// TrackedFile is the client's local record of a synced path.
type TrackedFile struct {
	FileID        string
	FilePath      string
	VersionVector vv.VV
	LastModified  time.Time
	FileSize      int64
	Checksum      string
	SyncStatus    SyncStatus
	CreatedAt     time.Time
}

// QueueEntry is one pending sync task.
type QueueEntry struct {
	ID           int64
	FilePath     string
	Operation    Operation
	Priority     int
	RetryCount   int
	CreatedAt    time.Time
	ScheduledAt  time.Time
	ErrorMessage string
}

// Store is the client's local persistence contract. Components depend on
// this interface, not the concrete SQLiteStore, so the sync engine can be
// tested against an in-memory fake.
type Store interface {
	// Tracked files
	GetTrackedFile(ctx context.Context, path string) (*TrackedFile, error)
	GetTrackedFileByID(ctx context.Context, fileID string) (*TrackedFile, error)
	ListTrackedFiles(ctx context.Context) ([]*TrackedFile, error)
	ListTrackedFilesByStatus(ctx context.Context, status SyncStatus) ([]*TrackedFile, error)
	UpsertTrackedFile(ctx context.Context, f *TrackedFile) error
	DeleteTrackedFile(ctx context.Context, path string) error

	// Sync queue
	Enqueue(ctx context.Context, e *QueueEntry) error
	Dequeue(ctx context.Context) (*QueueEntry, error)
	RemoveQueueEntry(ctx context.Context, id int64) error
	MarkQueueRetry(ctx context.Context, id int64, errMsg string) error
	ListQueue(ctx context.Context) ([]*QueueEntry, error)

	// Client config KV
	GetConfigValue(ctx context.Context, key string) (string, bool, error)
	SetConfigValue(ctx context.Context, key, value string) error

	Close() error
}
