package domain

import (
	"fmt"
	"time"
)

type ResolutionStrategy string

const (
	ResolutionMerge      ResolutionStrategy = "merge"
	ResolutionClientWins ResolutionStrategy = "client-wins"
	ResolutionServerWins ResolutionStrategy = "server-wins"
	ResolutionTimestamp  ResolutionStrategy = "timestamp"
	ResolutionCustom     ResolutionStrategy = "custom"
)

func ParseResolutionStrategy(s string) (ResolutionStrategy, error) {
	switch strategy := ResolutionStrategy(s); strategy {
	case ResolutionMerge, ResolutionClientWins, ResolutionServerWins, ResolutionTimestamp, ResolutionCustom:
		return strategy, nil
	case "":
		return ResolutionMerge, nil
	default:
		return "", fmt.Errorf("unknown resolution strategy: %q", s)
	}
}

// Conflict is a dirty local value meeting a newer remote value for the
// same key. Values are decoded state, not tokens.
type Conflict struct {
	Key             string
	Local           any
	Remote          any
	LocalVersion    int64
	RemoteVersion   int64
	LocalUpdatedAt  time.Time
	RemoteUpdatedAt time.Time
}

// Resolution is the outcome of applying a strategy to a Conflict.
type Resolution struct {
	Value any
	// TakeRemote means the remote token is adopted unchanged and the
	// record becomes clean.
	TakeRemote bool
	// Dirty means the resolved value still has to be pushed.
	Dirty bool
}
