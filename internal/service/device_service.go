package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"slugstate/internal/domain"
	"slugstate/internal/repository"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrDeviceRevoked  = errors.New("device has been revoked")
)

// touchInterval limits how often activity is written for one device.
const touchInterval = time.Minute

// DeviceTracker records device activity and refuses revoked devices.
type DeviceTracker interface {
	Touch(ctx context.Context, userID, deviceID string) error
}

type DeviceService struct {
	repo repository.DeviceRepository
	now  func() time.Time
}

func NewDeviceService(repo repository.DeviceRepository) *DeviceService {
	return &DeviceService{
		repo: repo,
		now:  time.Now,
	}
}

// Touch registers deviceID on first sight and refreshes its activity
// time afterwards. A revoked device gets ErrDeviceRevoked.
func (s *DeviceService) Touch(ctx context.Context, userID, deviceID string) error {
	now := s.now().UTC()

	device, err := s.repo.Get(ctx, userID, deviceID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		device = &domain.Device{
			DeviceID:  deviceID,
			UserID:    userID,
			CreatedAt: now,
		}
	case err != nil:
		return fmt.Errorf("failed to load device: %w", err)
	case device.Revoked:
		return ErrDeviceRevoked
	case now.Sub(device.LastActive) < touchInterval:
		return nil
	}

	device.LastActive = now
	if err := s.repo.Save(ctx, device); err != nil {
		if errors.Is(err, repository.ErrRevisionConflict) {
			// Another request touched the device first.
			return nil
		}
		return fmt.Errorf("failed to save device: %w", err)
	}
	return nil
}

// List returns the user's devices, most recently active first.
func (s *DeviceService) List(ctx context.Context, userID string) ([]*domain.DeviceResponse, error) {
	devices, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].LastActive.After(devices[j].LastActive)
	})

	responses := make([]*domain.DeviceResponse, 0, len(devices))
	for _, d := range devices {
		responses = append(responses, d.Response())
	}
	return responses, nil
}

// Revoke blocks deviceID from logging in and pushing state.
func (s *DeviceService) Revoke(ctx context.Context, userID, deviceID string) error {
	device, err := s.repo.Get(ctx, userID, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrDeviceNotFound
		}
		return err
	}
	if device.Revoked {
		return nil
	}

	device.Revoked = true
	if err := s.repo.Save(ctx, device); err != nil {
		return fmt.Errorf("failed to revoke device: %w", err)
	}

	log.Printf("[Sync] Device %s of user %s revoked", deviceID, userID)
	return nil
}
