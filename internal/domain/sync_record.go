package domain

import "time"

type SyncState string

const (
	SyncStateClean    SyncState = "clean"
	SyncStateDirty    SyncState = "dirty"
	SyncStateSyncing  SyncState = "syncing"
	SyncStateConflict SyncState = "conflict"
)

// SyncRecord is the local durable copy of one key.
type SyncRecord struct {
	Key   string `json:"key"`
	Token string `json:"token"`
	// Version counts local changes to the state.
	Version int64 `json:"version"`
	// BaseVersion is the remote version this record was last reconciled
	// against. Pushes expect the remote to still be at BaseVersion.
	BaseVersion int64     `json:"base_version"`
	UpdatedAt   time.Time `json:"updated_at"`
	Dirty       bool      `json:"dirty"`
	State       SyncState `json:"state"`
	// Revision changes on every local write and detects writes that land
	// while a sync is in flight.
	Revision  uint64 `json:"revision"`
	Persisted bool   `json:"persisted"`

	RemoteToken     string    `json:"remote_token,omitempty"`
	RemoteVersion   int64     `json:"remote_version,omitempty"`
	RemoteUpdatedAt time.Time `json:"remote_updated_at,omitempty"`

	ContentHash string `json:"content_hash"`
}

func (r *SyncRecord) Clone() *SyncRecord {
	clone := *r
	return &clone
}

func (r *SyncRecord) InConflict() bool {
	return r.State == SyncStateConflict
}

// ClearRemote drops the remote copy kept while a conflict is open.
func (r *SyncRecord) ClearRemote() {
	r.RemoteToken = ""
	r.RemoteVersion = 0
	r.RemoteUpdatedAt = time.Time{}
}

// Status is the engine-wide view published to subscribers.
type Status struct {
	Online         bool      `json:"online"`
	Syncing        bool      `json:"syncing"`
	PendingChanges int       `json:"pending_changes"`
	Conflicts      bool      `json:"conflicts"`
	ConflictCount  int       `json:"conflict_count"`
	LastSync       time.Time `json:"last_sync"`
	LastError      string    `json:"last_error,omitempty"`
}
