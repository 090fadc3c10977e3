package domain

import "time"

const DocTypeDevice = "device"

// Device is a client installation that has logged in or pushed state.
type Device struct {
	ID         string    `json:"_id,omitempty"`
	Rev        string    `json:"_rev,omitempty"`
	Type       string    `json:"type"`
	DeviceID   string    `json:"device_id"`
	UserID     string    `json:"user_id"`
	LastActive time.Time `json:"last_active"`
	CreatedAt  time.Time `json:"created_at"`
	Revoked    bool      `json:"revoked"`
}

type DeviceResponse struct {
	ID         string    `json:"id"`
	LastActive time.Time `json:"last_active"`
	CreatedAt  time.Time `json:"created_at"`
	Revoked    bool      `json:"revoked"`
}

func (d *Device) Response() *DeviceResponse {
	return &DeviceResponse{
		ID:         d.DeviceID,
		LastActive: d.LastActive,
		CreatedAt:  d.CreatedAt,
		Revoked:    d.Revoked,
	}
}
