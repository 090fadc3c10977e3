package service

import (
	"errors"
	"fmt"
)

var (
	ErrStateNotFound = errors.New("state not found")
	ErrNoConflict    = errors.New("record is not in conflict")
	ErrNoTransport   = errors.New("no remote configured")
)

// SyncError is a failed exchange with the remote for one key. The local
// record is left dirty and retried on the next sync.
type SyncError struct {
	Key string
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// ConflictUnresolvedError means the resolver could not settle a conflict.
// The record stays in the conflict state until Resolve succeeds.
type ConflictUnresolvedError struct {
	Key      string
	Strategy string
	Err      error
}

func (e *ConflictUnresolvedError) Error() string {
	return fmt.Sprintf("conflict on %q not resolved by %s: %v", e.Key, e.Strategy, e.Err)
}

func (e *ConflictUnresolvedError) Unwrap() error {
	return e.Err
}
