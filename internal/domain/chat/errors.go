package chat

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation is returned for empty content or malformed ids. It is
	// always raised before any store call.
	ErrValidation = errors.New("chat: validation failed")
	// ErrNotFound is returned when a conversation does not belong to the caller.
	ErrNotFound = errors.New("chat: not found")
	// ErrStore classifies transport or remote failures, timeouts included.
	ErrStore = errors.New("chat: store unavailable")
)

// StoreError wraps a failure of the remote message store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("chat: store %s failed", e.Op)
	}
	return fmt.Sprintf("chat: store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStore) match every StoreError.
func (e *StoreError) Is(target error) bool { return target == ErrStore }

// WrapStore turns err into a StoreError unless it already carries a
// domain classification.
func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrStore) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// NormalizeContent trims content and rejects empty text.
func NormalizeContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", fmt.Errorf("%w: message content is empty", ErrValidation)
	}
	return trimmed, nil
}

// NormalizeID trims an identifier and rejects empty or multi-line values.
func NormalizeID(kind, id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", fmt.Errorf("%w: %s id is required", ErrValidation, kind)
	}
	if strings.ContainsAny(trimmed, " \t\r\n/") {
		return "", fmt.Errorf("%w: malformed %s id %q", ErrValidation, kind, trimmed)
	}
	return trimmed, nil
}
