package model

import "github.com/Laisky/errors/v2"

// ErrValidation indicates a malformed or oversized answer; the caller
// re-prompts the same intake stage and no state is mutated.
var ErrValidation = errors.New("invalid input")

// ErrConflict indicates the event is not permitted in the current state,
// including replays of already-applied events.
var ErrConflict = errors.New("conflicting request state")

// ErrNotFound indicates the record is missing for the given channel or message.
var ErrNotFound = errors.New("help request not found")
