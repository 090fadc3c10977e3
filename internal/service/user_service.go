package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slugstate/internal/domain"
	"slugstate/internal/repository"
)

var ErrUserNotFound = errors.New("user not found")

type UserService struct {
	userRepo   repository.UserRepository
	stateRepo  repository.StateRepository
	deviceRepo repository.DeviceRepository
}

func NewUserService(userRepo repository.UserRepository, stateRepo repository.StateRepository, deviceRepo repository.DeviceRepository) *UserService {
	return &UserService{
		userRepo:   userRepo,
		stateRepo:  stateRepo,
		deviceRepo: deviceRepo,
	}
}

func (s *UserService) GetByID(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, ErrUserNotFound
	}

	user.Password = ""
	return user, nil
}

// Account summarizes what the server holds for a user.
func (s *UserService) Account(ctx context.Context, id string) (*domain.Account, error) {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	states, err := s.stateRepo.List(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}
	devices, err := s.deviceRepo.List(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	account := &domain.Account{User: user, Keys: len(states), Devices: len(devices)}
	for _, state := range states {
		account.TokenBytes += len(state.Token)
	}
	for _, device := range devices {
		if device.Revoked {
			account.Revoked++
		}
	}
	return account, nil
}

func (s *UserService) UpdateUsername(ctx context.Context, userID, newUsername string) (*domain.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	usernameExists, err := s.userRepo.UsernameExists(ctx, newUsername)
	if err != nil {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if usernameExists && user.Username != newUsername {
		return nil, ErrUsernameTaken
	}

	user.Username = newUsername
	user.UpdatedAt = time.Now()

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	user.Password = ""
	return user, nil
}
