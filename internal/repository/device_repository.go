package repository

import (
	"context"
	"fmt"

	"slugstate/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

type DeviceRepository interface {
	Get(ctx context.Context, userID, deviceID string) (*domain.Device, error)
	Save(ctx context.Context, device *domain.Device) error
	List(ctx context.Context, userID string) ([]*domain.Device, error)
}

type deviceRepository struct {
	client *kivik.Client
	dbName string
}

func NewDeviceRepository(client *kivik.Client, dbName string) DeviceRepository {
	return &deviceRepository{
		client: client,
		dbName: dbName,
	}
}

// Device ids are chosen by clients, so documents are scoped per user.
func deviceDocID(userID, deviceID string) string {
	return fmt.Sprintf("device:%s:%s", userID, deviceID)
}

func (r *deviceRepository) Get(ctx context.Context, userID, deviceID string) (*domain.Device, error) {
	db := r.client.DB(r.dbName)

	var device domain.Device
	if err := db.Get(ctx, deviceDocID(userID, deviceID)).ScanDoc(&device); err != nil {
		return nil, translateKivikError(err)
	}

	return &device, nil
}

func (r *deviceRepository) Save(ctx context.Context, device *domain.Device) error {
	db := r.client.DB(r.dbName)

	device.ID = deviceDocID(device.UserID, device.DeviceID)
	device.Type = domain.DocTypeDevice

	rev, err := db.Put(ctx, device.ID, device)
	if err != nil {
		return translateKivikError(err)
	}
	device.Rev = rev

	return nil
}

func (r *deviceRepository) List(ctx context.Context, userID string) ([]*domain.Device, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"type":    domain.DocTypeDevice,
			"user_id": userID,
		},
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []*domain.Device
	for rows.Next() {
		var device domain.Device
		if err := rows.ScanDoc(&device); err != nil {
			continue // Skip malformed docs
		}
		devices = append(devices, &device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate devices: %w", err)
	}

	return devices, nil
}
