package errors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrEmptyKey     = errors.New("empty key")
	ErrInvalidData  = errors.New("invalid data type")
	ErrEntityExists = errors.New("entity already exists")

	// ErrInvalidConfig and ErrCorruptState are the only errors allowed to
	// terminate the master process.
	ErrInvalidConfig = errors.New("invalid experiment configuration")
	ErrCorruptState  = errors.New("corrupt optimization state")

	ErrMalformedMessage = errors.New("malformed message")
	ErrStaleGeneration  = errors.New("stale generation")
)
