package metastore

import (
	"context"
	"time"

	"github.com/foldersync/foldersync/internal/vv"
)

// AccountStatus enumerates a user's account state.
type AccountStatus string

// Recognized account statuses.
const (
	AccountActive    AccountStatus = "ACTIVE"
	AccountSuspended AccountStatus = "SUSPENDED"
)

// User is the durable account record (data-model.md §3).
type User struct {
	UserID        string
	Username      string
	Email         string
	PasswordHash  string
	CreatedAt     time.Time
	LastLogin     *time.Time
	StorageQuota  int64
	UsedStorage   int64
	AccountStatus AccountStatus
}

// SyncStatus mirrors a file record's sync_status column.
type SyncStatus string

// Recognized sync statuses.
const (
	SyncPending  SyncStatus = "PENDING"
	SyncSynced   SyncStatus = "SYNCED"
	SyncFailed   SyncStatus = "FAILED"
	SyncConflict SyncStatus = "CONFLICT"
)

// ConflictStatus mirrors a file record's conflict_status column.
type ConflictStatus string

// Recognized conflict statuses.
const (
	ConflictNone       ConflictStatus = "NONE"
	ConflictConflicted ConflictStatus = "CONFLICTING"
)

// FileRecord is the authoritative server-side file record (data-model.md §3).
// currentVersionVector is mutated only by the reconciliation service
// (Invariant 2) — no other code path in this repository writes that column.
type FileRecord struct {
	FileID               string
	UserID               string
	FilePath             string
	FileName             string
	FileSize             int64
	Checksum             string
	CurrentVersionVector vv.VV
	StoragePath          string
	CreatedAt            time.Time
	ModifiedAt           time.Time
	SyncStatus           SyncStatus
	ConflictStatus       ConflictStatus
}

// FileVersion is one entry in a file's version history.
type FileVersion struct {
	VersionID        string
	FileID           string
	VersionNumber    int
	Checksum         string
	StoragePath      string
	FileSize         int64
	CreatedAt        time.Time
	IsCurrentVersion bool
	VersionVector    vv.VV
	CreatedByClient  string
}

// EventType enumerates sync event kinds.
type EventType string

// Recognized event types.
const (
	EventCreate   EventType = "CREATE"
	EventModify   EventType = "MODIFY"
	EventDelete   EventType = "DELETE"
	EventRename   EventType = "RENAME"
	EventMove     EventType = "MOVE"
	EventRollback EventType = "ROLLBACK"
)

// EventSyncStatus enumerates a sync event's recorded outcome.
type EventSyncStatus string

// Recognized event sync statuses.
const (
	EventStatusPending    EventSyncStatus = "PENDING"
	EventStatusInProgress EventSyncStatus = "IN_PROGRESS"
	EventStatusCompleted  EventSyncStatus = "COMPLETED"
	EventStatusFailed     EventSyncStatus = "FAILED"
	EventStatusConflict   EventSyncStatus = "CONFLICT"
)

// SyncEvent is a durable record of an accepted file state transition.
type SyncEvent struct {
	EventID      string
	UserID       string
	FileID       string
	EventType    EventType
	Timestamp    time.Time
	ClientID     string
	SyncStatus   EventSyncStatus
	ErrorMessage string
	FilePath     string
	FileSize     int64
	Checksum     string
}

// ChunkSessionStatus mirrors a chunk_sessions.status column.
type ChunkSessionStatus string

// Recognized session statuses (invariant 4: linear IN_PROGRESS -> terminal).
const (
	ChunkSessionInProgress ChunkSessionStatus = "IN_PROGRESS"
	ChunkSessionCompleted  ChunkSessionStatus = "COMPLETED"
	ChunkSessionFailed     ChunkSessionStatus = "FAILED"
	ChunkSessionExpired    ChunkSessionStatus = "EXPIRED"
)

// ChunkSession is the durable record backing the chunk upload session
// manager (component-design.md §4.5).
type ChunkSession struct {
	SessionID              string
	UserID                 string
	FileID                 string
	FilePath               string
	TotalChunks            int
	ReceivedChunks         int
	TotalFileSize          int64
	ReceivedSize           int64
	Status                 ChunkSessionStatus
	ReceivedChunkChecksums map[int]string
	StoragePath            string
	FinalChecksum          string
	CreatedAt              time.Time
	CompletedAt            *time.Time
	ExpiresAt              time.Time
	ErrorMessage           string
}

// Store is the full server persistence contract. Components depend on this
// interface (not the concrete SQLiteStore) so tests can inject fakes, the
// same "accept interfaces" convention the client's localstate.Store follows.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, userID string) (*User, error)
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error

	// Files
	GetFileByPath(ctx context.Context, userID, path string) (*FileRecord, error)
	GetFileByID(ctx context.Context, userID, fileID string) (*FileRecord, error)
	ListFiles(ctx context.Context, userID string) ([]*FileRecord, error)
	UpsertFile(ctx context.Context, f *FileRecord) error
	DeleteFile(ctx context.Context, userID, fileID string) (*FileRecord, error)

	// Versions
	AddVersion(ctx context.Context, v *FileVersion) error
	ListVersions(ctx context.Context, fileID string) ([]*FileVersion, error)
	DemoteCurrentVersion(ctx context.Context, fileID string) error

	// Events
	RecordEvent(ctx context.Context, e *SyncEvent) error
	ListEventsSince(ctx context.Context, userID string, since time.Time) ([]*SyncEvent, error)

	// Chunk sessions
	CreateSession(ctx context.Context, s *ChunkSession) error
	GetSession(ctx context.Context, sessionID string) (*ChunkSession, error)
	CountActiveSessions(ctx context.Context, userID string) (int, error)
	UpdateSession(ctx context.Context, s *ChunkSession) error
	ListExpiredInProgress(ctx context.Context, now time.Time) ([]*ChunkSession, error)
	ListSessionsOlderThan(ctx context.Context, status ChunkSessionStatus, cutoff time.Time) ([]*ChunkSession, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ListActiveSessions(ctx context.Context, userID string) ([]*ChunkSession, error)

	// RunInTransaction executes fn with a Store bound to a single DB
	// transaction, for the reconciliation service's atomic read-decide-write
	// requirement (concurrency-model.md §5).
	RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	Close() error
}
