package repository

import (
	"context"
	"fmt"

	"slugstate/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// StateRepository stores the server copy of each user's keys.
type StateRepository interface {
	Get(ctx context.Context, userID, key string) (*domain.StoredState, error)
	// Save writes state. A state read through Get carries its revision,
	// so a concurrent writer makes Save fail with ErrRevisionConflict.
	Save(ctx context.Context, state *domain.StoredState) error
	Delete(ctx context.Context, state *domain.StoredState) error
	List(ctx context.Context, userID string) ([]*domain.StoredState, error)
}

type stateRepository struct {
	client *kivik.Client
	dbName string
}

func NewStateRepository(client *kivik.Client, dbName string) StateRepository {
	return &stateRepository{
		client: client,
		dbName: dbName,
	}
}

func StateDocID(userID, key string) string {
	return fmt.Sprintf("state:%s:%s", userID, key)
}

func (r *stateRepository) Get(ctx context.Context, userID, key string) (*domain.StoredState, error) {
	db := r.client.DB(r.dbName)

	var state domain.StoredState
	if err := db.Get(ctx, StateDocID(userID, key)).ScanDoc(&state); err != nil {
		return nil, translateKivikError(err)
	}

	return &state, nil
}

func (r *stateRepository) Save(ctx context.Context, state *domain.StoredState) error {
	db := r.client.DB(r.dbName)

	state.ID = StateDocID(state.UserID, state.Key)
	state.Type = domain.DocTypeState

	rev, err := db.Put(ctx, state.ID, state)
	if err != nil {
		return translateKivikError(err)
	}
	state.Rev = rev

	return nil
}

func (r *stateRepository) Delete(ctx context.Context, state *domain.StoredState) error {
	db := r.client.DB(r.dbName)

	if _, err := db.Delete(ctx, StateDocID(state.UserID, state.Key), state.Rev); err != nil {
		return translateKivikError(err)
	}

	return nil
}

func (r *stateRepository) List(ctx context.Context, userID string) ([]*domain.StoredState, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"type":    domain.DocTypeState,
			"user_id": userID,
		},
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}
	defer rows.Close()

	var states []*domain.StoredState
	for rows.Next() {
		var state domain.StoredState
		if err := rows.ScanDoc(&state); err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		states = append(states, &state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate states: %w", err)
	}

	return states, nil
}
