package httpapi

import (
	"github.com/foldersync/foldersync/internal/server/metastore"
	"github.com/foldersync/foldersync/internal/wire"
)

// handlers holds every dependency the route handlers close over.
type handlers struct {
	deps Deps
}

func fileToWire(f *metastore.FileRecord) wire.FileRecord {
	return wire.FileRecord{
		FileID:               f.FileID,
		UserID:               f.UserID,
		FilePath:             f.FilePath,
		FileName:             f.FileName,
		FileSize:             f.FileSize,
		Checksum:             f.Checksum,
		CurrentVersionVector: f.CurrentVersionVector,
		CreatedAt:            f.CreatedAt,
		ModifiedAt:           f.ModifiedAt,
		SyncStatus:           wire.SyncStatus(f.SyncStatus),
		ConflictStatus:       wire.ConflictStatus(f.ConflictStatus),
	}
}

func versionToWire(v *metastore.FileVersion) wire.FileVersion {
	return wire.FileVersion{
		VersionID:        v.VersionID,
		FileID:           v.FileID,
		VersionNumber:    v.VersionNumber,
		Checksum:         v.Checksum,
		FileSize:         v.FileSize,
		CreatedAt:        v.CreatedAt,
		IsCurrentVersion: v.IsCurrentVersion,
		VersionVector:    v.VersionVector,
		CreatedByClient:  v.CreatedByClient,
	}
}

func eventToWire(e *metastore.SyncEvent) wire.SyncEvent {
	return wire.SyncEvent{
		EventID:      e.EventID,
		UserID:       e.UserID,
		FileID:       e.FileID,
		EventType:    wire.EventType(e.EventType),
		Timestamp:    e.Timestamp,
		ClientID:     e.ClientID,
		SyncStatus:   wire.EventSyncStatus(e.SyncStatus),
		ErrorMessage: e.ErrorMessage,
		FilePath:     e.FilePath,
		FileSize:     e.FileSize,
		Checksum:     e.Checksum,
	}
}

func sessionToWire(s *metastore.ChunkSession) wire.ChunkSession {
	return wire.ChunkSession{
		SessionID:      s.SessionID,
		FileID:         s.FileID,
		FilePath:       s.FilePath,
		TotalChunks:    s.TotalChunks,
		ReceivedChunks: s.ReceivedChunks,
		TotalFileSize:  s.TotalFileSize,
		ReceivedSize:   s.ReceivedSize,
		Status:         wire.UploadSessionStatus(s.Status),
		StoragePath:    s.StoragePath,
		FinalChecksum:  s.FinalChecksum,
		CreatedAt:      s.CreatedAt,
		CompletedAt:    s.CompletedAt,
		ExpiresAt:      s.ExpiresAt,
		ErrorMessage:   s.ErrorMessage,
	}
}
