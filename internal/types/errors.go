package types

import "errors"

// Shared sentinel errors crossing package boundaries. Packages wrap these
// with context via fmt.Errorf("…: %w", …); HTTP handlers map them to status
// codes with errors.Is.
var (
	// ErrNotFound reports a missing book, chapter, or audio artifact.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRange reports edit bounds outside the canonical duration.
	ErrInvalidRange = errors.New("invalid range")
	// ErrUnknownVoice reports a voice id no configured provider offers.
	ErrUnknownVoice = errors.New("unknown voice")
	// ErrBusy reports a synchronous mutation racing a running job on the same key.
	ErrBusy = errors.New("operation in progress for key")
)
