package domain

import "time"

const DocTypeUser = "user"

type User struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Username  string    `json:"username" validate:"required,min=3,max=30,alphanum"`
	Email     string    `json:"email" validate:"required,email"`
	Password  string    `json:"password,omitempty"` // bcrypt hash; cleared before responses
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=30,alphanum"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"` // hash.MinPasswordLength, hash.MaxPasswordLength
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	DeviceID string `json:"device_id" validate:"omitempty,max=64"`
}

// LoginResponse carries the device id the client should use for pushes
// and the websocket; one is assigned when the request had none.
type LoginResponse struct {
	User         *User  `json:"user"`
	DeviceID     string `json:"device_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Account is the profile returned by /users/me.
type Account struct {
	User       *User `json:"user"`
	Keys       int   `json:"keys"`
	TokenBytes int   `json:"token_bytes"`
	Devices    int   `json:"devices"`
	Revoked    int   `json:"revoked_devices"`
}
