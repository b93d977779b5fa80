package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and collaborator clients
// return these (optionally wrapped) so services can translate them into coded
// domain errors without leaking store internals.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in the store or directory
// - ErrConflict: a uniqueness constraint rejected the write
// - ErrExpired: the referenced run is past its due date
// - ErrInvalidState: entity in wrong lifecycle state for the operation
// - ErrUnavailable: collaborator or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
