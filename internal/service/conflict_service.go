package service

import (
	"errors"
	"fmt"

	"slugstate/internal/domain"
)

// CustomResolver settles a conflict between two decoded values.
type CustomResolver func(local, remote any) (any, error)

var errNoCustomResolver = errors.New("custom strategy requires a resolver")

// ConflictResolver applies a resolution strategy to conflicts. It is
// pure: the same conflict and strategy always give the same resolution.
type ConflictResolver struct {
	custom CustomResolver
}

func NewConflictResolver(custom CustomResolver) *ConflictResolver {
	return &ConflictResolver{custom: custom}
}

func (r *ConflictResolver) Resolve(conflict *domain.Conflict, strategy domain.ResolutionStrategy) (*domain.Resolution, error) {
	switch strategy {
	case domain.ResolutionClientWins:
		return &domain.Resolution{Value: conflict.Local, Dirty: true}, nil

	case domain.ResolutionServerWins:
		return &domain.Resolution{Value: conflict.Remote, TakeRemote: true}, nil

	case domain.ResolutionTimestamp:
		if conflict.LocalUpdatedAt.After(conflict.RemoteUpdatedAt) {
			return &domain.Resolution{Value: conflict.Local, Dirty: true}, nil
		}
		return &domain.Resolution{Value: conflict.Remote, TakeRemote: true}, nil

	case domain.ResolutionMerge, "":
		return settle(conflict, deepMerge(conflict.Local, conflict.Remote)), nil

	case domain.ResolutionCustom:
		if r.custom == nil {
			return nil, &ConflictUnresolvedError{Key: conflict.Key, Strategy: string(strategy), Err: errNoCustomResolver}
		}
		value, err := r.custom(conflict.Local, conflict.Remote)
		if err != nil {
			return nil, &ConflictUnresolvedError{Key: conflict.Key, Strategy: string(strategy), Err: err}
		}
		return settle(conflict, value), nil

	default:
		return nil, fmt.Errorf("unknown resolution strategy: %s", strategy)
	}
}

// settle marks a computed value clean when it is exactly the remote
// value, so nothing needs to be pushed.
func settle(conflict *domain.Conflict, value any) *domain.Resolution {
	if equalValues(value, conflict.Remote) {
		return &domain.Resolution{Value: conflict.Remote, TakeRemote: true}
	}
	return &domain.Resolution{Value: value, Dirty: true}
}
