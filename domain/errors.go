package domain

import "errors"

var (
	// ErrNotFound indicates that a referenced category or todo does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates rejected input such as an empty title.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidIndex indicates a source index outside the current list.
	ErrInvalidIndex = errors.New("index out of range")
	// ErrPersistence indicates that the remote store rejected or failed a call.
	ErrPersistence = errors.New("persistence failure")
	// ErrTransactionConflict indicates that an atomic multi-document write was aborted.
	ErrTransactionConflict = errors.New("transaction conflict")
)
