package types

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// VoterID identifies a member casting votes. Supplied by the identity provider.
type VoterID string

// ProjectID identifies a project record.
type ProjectID string

// ItemKey names one field of a project record that accepts proposals.
type ItemKey string

// Errors
var (
	ErrEmptyID        = errors.New("empty identifier")
	ErrEmptyValue     = errors.New("empty value payload")
	ErrInvalidValue   = errors.New("invalid value payload")
	ErrInvalidWeight  = errors.New("weight must be positive")
	ErrUnknownKind    = errors.New("unknown candidate kind")
	ErrInvalidItemKey = errors.New("invalid item key")
)

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}

// ValidateItemKey checks that a key is usable as a column value and as a
// NATS subject token.
func ValidateItemKey(k ItemKey) error {
	s := string(k)
	if s == "" {
		return ErrInvalidItemKey
	}
	if strings.ContainsAny(s, " \t\r\n.*>") {
		return ErrInvalidItemKey
	}
	return nil
}
