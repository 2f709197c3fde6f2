// Package wire defines the JSON request/response shapes shared by the
// server's HTTP/WebSocket surface and the client's API consumers
// (external-interfaces.md §6.3). Keeping these in one leaf package (no
// dependency on server or client internals) avoids the two sides drifting
// out of sync on field names and lets both import it without a cycle.
package wire

import (
	"time"

	"github.com/foldersync/foldersync/internal/vv"
)

// SyncStatus mirrors the server file record's sync_status column.
type SyncStatus string

// Recognized sync statuses (data-model.md §3).
const (
	SyncStatusPending  SyncStatus = "PENDING"
	SyncStatusSynced   SyncStatus = "SYNCED"
	SyncStatusFailed   SyncStatus = "FAILED"
	SyncStatusConflict SyncStatus = "CONFLICT"
)

// ConflictStatus mirrors the server file record's conflict_status column.
type ConflictStatus string

// Recognized conflict statuses.
const (
	ConflictStatusNone       ConflictStatus = "NONE"
	ConflictStatusConflicted ConflictStatus = "CONFLICTING"
)

// FileRecord is the camelCase wire form of a server-side file record
// (data-model.md §3).
type FileRecord struct {
	FileID               string         `json:"fileId"`
	UserID               string         `json:"userId"`
	FilePath             string         `json:"filePath"`
	FileName             string         `json:"fileName"`
	FileSize             int64          `json:"fileSize"`
	Checksum             string         `json:"checksum"`
	CurrentVersionVector vv.VV          `json:"currentVersionVector"`
	StoragePath          string         `json:"storagePath,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
	ModifiedAt           time.Time      `json:"modifiedAt"`
	SyncStatus           SyncStatus     `json:"syncStatus"`
	ConflictStatus       ConflictStatus `json:"conflictStatus"`
}

// FileVersion is the wire form of a file_version history row.
type FileVersion struct {
	VersionID        string    `json:"versionId"`
	FileID           string    `json:"fileId"`
	VersionNumber    int       `json:"versionNumber"`
	Checksum         string    `json:"checksum"`
	FileSize         int64     `json:"fileSize"`
	CreatedAt        time.Time `json:"createdAt"`
	IsCurrentVersion bool      `json:"isCurrentVersion"`
	VersionVector    vv.VV     `json:"versionVector"`
	CreatedByClient  string    `json:"createdByClient"`
}

// EventType enumerates sync event kinds (data-model.md §3).
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

// EventSyncStatus enumerates the outcome recorded on a sync event.
type EventSyncStatus string

// Recognized event sync statuses.
const (
	EventStatusPending    EventSyncStatus = "PENDING"
	EventStatusInProgress EventSyncStatus = "IN_PROGRESS"
	EventStatusCompleted  EventSyncStatus = "COMPLETED"
	EventStatusFailed     EventSyncStatus = "FAILED"
	EventStatusConflict   EventSyncStatus = "CONFLICT"
)

// SyncEvent is the wire form of a durable sync event, broadcast to peer
// clients over the push channel and returned from /sync/changes polling.
type SyncEvent struct {
	EventID      string          `json:"eventId"`
	UserID       string          `json:"userId,omitempty"`
	FileID       string          `json:"fileId,omitempty"`
	EventType    EventType       `json:"eventType"`
	Timestamp    time.Time       `json:"timestamp"`
	ClientID     string          `json:"clientId"`
	SyncStatus   EventSyncStatus `json:"syncStatus"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	FilePath     string          `json:"filePath"`
	FileSize     int64           `json:"fileSize,omitempty"`
	Checksum     string          `json:"checksum,omitempty"`
}

// UploadSessionStatus mirrors the chunk upload session's status column.
type UploadSessionStatus string

// Recognized session statuses (data-model.md §3, invariant 4).
const (
	SessionInProgress UploadSessionStatus = "IN_PROGRESS"
	SessionCompleted  UploadSessionStatus = "COMPLETED"
	SessionFailed     UploadSessionStatus = "FAILED"
	SessionExpired    UploadSessionStatus = "EXPIRED"
)

// ChunkSession is the wire form of a chunk upload session snapshot, returned
// by GET /files/upload/status/{sessionId}.
type ChunkSession struct {
	SessionID      string              `json:"sessionId"`
	FileID         string              `json:"fileId"`
	FilePath       string              `json:"filePath"`
	TotalChunks    int                 `json:"totalChunks"`
	ReceivedChunks int                 `json:"receivedChunks"`
	TotalFileSize  int64               `json:"totalFileSize"`
	ReceivedSize   int64               `json:"receivedSize"`
	Status         UploadSessionStatus `json:"status"`
	StoragePath    string              `json:"storagePath,omitempty"`
	FinalChecksum  string              `json:"finalChecksum,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
	CompletedAt    *time.Time          `json:"completedAt,omitempty"`
	ExpiresAt      time.Time           `json:"expiresAt"`
	ErrorMessage   string              `json:"errorMessage,omitempty"`
}

// InitiateChunkedUploadRequest is the body of POST /files/upload/initiate-chunked.
type InitiateChunkedUploadRequest struct {
	FileID        string `json:"fileId,omitempty"`
	FilePath      string `json:"filePath"`
	TotalChunks   int    `json:"totalChunks"`
	TotalFileSize int64  `json:"totalFileSize"`
}

// InitiateChunkedUploadResponse is the response of POST /files/upload/initiate-chunked.
type InitiateChunkedUploadResponse struct {
	SessionID string `json:"sessionId"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenPair is returned by /auth/login and /auth/refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"`
}

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// ErrorResponse is the JSON body returned for non-2xx HTTP responses.
type ErrorResponse struct {
	Error string `json:"error"`
}
