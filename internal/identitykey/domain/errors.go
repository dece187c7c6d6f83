package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidKeyFormat  = errors.New("invalid_key_format")
	ErrInvalidKeyPrefix  = errors.New("invalid_key_prefix")
	ErrNotFound          = errors.New("not_found")
	ErrExpired           = errors.New("key_expired")
	ErrRevoked           = errors.New("key_revoked")
	ErrKeyCreationFailed = errors.New("key_creation_failed")
	ErrKeyCollision      = errors.New("key_collision")
	// ErrKeyGenerationExhausted means every generated candidate collided.
	ErrKeyGenerationExhausted = errors.New("key_generation_exhausted")
	ErrInvalidNature          = errors.New("invalid_nature")
	ErrInvalidOwner           = errors.New("invalid_owner_reference")
	ErrInvalidKeyID           = errors.New("invalid_key_id")
)

// KeyCreationError matches both ErrKeyCreationFailed and its cause.
type KeyCreationError struct {
	Cause error
}

func NewKeyCreationError(cause error) error {
	return &KeyCreationError{Cause: cause}
}

func (e *KeyCreationError) Error() string {
	if e.Cause == nil {
		return ErrKeyCreationFailed.Error()
	}
	return fmt.Sprintf("%s: %v", ErrKeyCreationFailed, e.Cause)
}

func (e *KeyCreationError) Is(target error) bool {
	return target == ErrKeyCreationFailed
}

func (e *KeyCreationError) Unwrap() error {
	return e.Cause
}
