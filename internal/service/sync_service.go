package service

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"slugstate/internal/domain"
	"slugstate/internal/repository"
	"slugstate/internal/websocket"
	"slugstate/pkg/codec"
)

// Broadcaster fans a message out to a user's connected devices.
type Broadcaster interface {
	BroadcastToUser(userID string, message *websocket.Message, excludeDeviceID string) error
}

var ErrTokenTooLarge = errors.New("token exceeds the maximum length")

// SyncService is the server side of state sync. Tokens are stored
// opaquely; the server never decodes them.
type SyncService struct {
	stateRepo      repository.StateRepository
	broadcaster    Broadcaster
	devices        DeviceTracker
	maxTokenLength int
	now            func() time.Time
}

func NewSyncService(stateRepo repository.StateRepository, broadcaster Broadcaster, maxTokenLength int) *SyncService {
	return &SyncService{
		stateRepo:      stateRepo,
		broadcaster:    broadcaster,
		maxTokenLength: maxTokenLength,
		now:            time.Now,
	}
}

// SetDeviceTracker makes pushes register the pushing device and refuses
// pushes from revoked ones.
func (s *SyncService) SetDeviceTracker(devices DeviceTracker) {
	s.devices = devices
}

func (s *SyncService) Get(ctx context.Context, userID, key string) (*domain.RemoteState, error) {
	state, err := s.stateRepo.Get(ctx, userID, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrStateNotFound
		}
		return nil, err
	}
	return state.Remote(), nil
}

// Push stores req.Token as the next version of key when the caller's
// expected version matches the stored one (0 for a new key). Otherwise
// the push is rejected and the ack carries the current state.
func (s *SyncService) Push(ctx context.Context, userID, key string, req *domain.PushRequest) (*domain.PushAck, error) {
	if s.maxTokenLength > 0 && len(req.Token) > s.maxTokenLength {
		return nil, ErrTokenTooLarge
	}

	if s.devices != nil && req.DeviceID != "" {
		if err := s.devices.Touch(ctx, userID, req.DeviceID); err != nil {
			return nil, err
		}
	}

	current, err := s.stateRepo.Get(ctx, userID, key)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	var version int64
	if current != nil {
		version = current.Version
	}
	if req.ExpectedVersion != version {
		return rejected(current), nil
	}

	state := current
	if state == nil {
		state = &domain.StoredState{UserID: userID, Key: key}
	}

	updatedAt := req.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}

	state.Token = req.Token
	state.Version = version + 1
	state.ContentHash = codec.Fingerprint(req.Token)
	state.UpdatedAt = updatedAt.UTC()
	state.DeviceID = req.DeviceID

	if err := s.stateRepo.Save(ctx, state); err != nil {
		if !errors.Is(err, repository.ErrRevisionConflict) {
			return nil, err
		}
		// Another device wrote between our read and write.
		latest, getErr := s.stateRepo.Get(ctx, userID, key)
		if getErr != nil && !errors.Is(getErr, repository.ErrNotFound) {
			return nil, getErr
		}
		return rejected(latest), nil
	}

	if err := s.BroadcastStateUpdate(userID, req.DeviceID, state); err != nil {
		log.Printf("[Sync] Failed to broadcast update of %s: %v", key, err)
	}

	return &domain.PushAck{Accepted: true, Version: state.Version}, nil
}

func rejected(current *domain.StoredState) *domain.PushAck {
	if current == nil {
		return &domain.PushAck{Accepted: false}
	}
	return &domain.PushAck{
		Accepted: false,
		Version:  current.Version,
		Current:  current.Remote(),
	}
}

func (s *SyncService) Delete(ctx context.Context, userID, key, deviceID string) error {
	state, err := s.stateRepo.Get(ctx, userID, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrStateNotFound
		}
		return err
	}

	if err := s.stateRepo.Delete(ctx, state); err != nil {
		return err
	}

	if err := s.BroadcastStateDelete(userID, deviceID, key); err != nil {
		log.Printf("[Sync] Failed to broadcast delete of %s: %v", key, err)
	}
	return nil
}

// GetManifest returns every key of the user with its version and hash,
// sorted by key, so clients can compare without downloading tokens.
func (s *SyncService) GetManifest(ctx context.Context, userID string) (*domain.Manifest, error) {
	states, err := s.stateRepo.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.ManifestEntry, 0, len(states))
	for _, state := range states {
		entries = append(entries, domain.ManifestEntry{
			Key:         state.Key,
			Version:     state.Version,
			ContentHash: state.ContentHash,
			UpdatedAt:   state.UpdatedAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	return &domain.Manifest{
		Entries:  entries,
		SyncTime: s.now(),
	}, nil
}

func (s *SyncService) BroadcastStateUpdate(userID, deviceID string, state *domain.StoredState) error {
	if s.broadcaster == nil {
		return nil
	}

	msg, err := websocket.NewMessage(websocket.TypeStateUpdate, &websocket.StateUpdatePayload{
		Key:         state.Key,
		Version:     state.Version,
		ContentHash: state.ContentHash,
		UpdatedAt:   state.UpdatedAt,
		DeviceID:    deviceID,
	})
	if err != nil {
		return err
	}

	return s.broadcaster.BroadcastToUser(userID, msg, deviceID)
}

func (s *SyncService) BroadcastStateDelete(userID, deviceID, key string) error {
	if s.broadcaster == nil {
		return nil
	}

	msg, err := websocket.NewMessage(websocket.TypeStateDelete, &websocket.StateDeletePayload{
		Key:      key,
		DeviceID: deviceID,
	})
	if err != nil {
		return err
	}

	return s.broadcaster.BroadcastToUser(userID, msg, deviceID)
}
