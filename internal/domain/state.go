package domain

import "time"

const DocTypeState = "state"

// StoredState is the server-side document for one user's key. The token
// is stored opaquely.
type StoredState struct {
	ID          string    `json:"_id,omitempty"`
	Rev         string    `json:"_rev,omitempty"`
	Type        string    `json:"type"`
	UserID      string    `json:"user_id"`
	Key         string    `json:"key"`
	Token       string    `json:"token"`
	Version     int64     `json:"version"`
	ContentHash string    `json:"content_hash"`
	UpdatedAt   time.Time `json:"updated_at"`
	DeviceID    string    `json:"device_id"`
}

func (s *StoredState) Remote() *RemoteState {
	return &RemoteState{
		Key:         s.Key,
		Token:       s.Token,
		Version:     s.Version,
		ContentHash: s.ContentHash,
		UpdatedAt:   s.UpdatedAt,
		DeviceID:    s.DeviceID,
	}
}

// RemoteState is a key as the server last accepted it.
type RemoteState struct {
	Key         string    `json:"key"`
	Token       string    `json:"token"`
	Version     int64     `json:"version"`
	ContentHash string    `json:"content_hash"`
	UpdatedAt   time.Time `json:"updated_at"`
	DeviceID    string    `json:"device_id,omitempty"`
}

type PushRequest struct {
	Token           string    `json:"token" validate:"required"`
	ExpectedVersion int64     `json:"expected_version" validate:"gte=0"`
	UpdatedAt       time.Time `json:"updated_at"`
	DeviceID        string    `json:"device_id"`
}

// PushAck reports whether a push was accepted. A rejected push carries
// the current remote state, or nil when the key no longer exists.
type PushAck struct {
	Accepted bool         `json:"accepted"`
	Version  int64        `json:"version"`
	Current  *RemoteState `json:"current,omitempty"`
}

type ManifestEntry struct {
	Key         string    `json:"key"`
	Version     int64     `json:"version"`
	ContentHash string    `json:"content_hash"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Manifest struct {
	Entries  []ManifestEntry `json:"entries"`
	SyncTime time.Time       `json:"sync_time"`
}
