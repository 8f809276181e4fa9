package chat

import "fmt"

// Status is the client-visible delivery state of a message.
type Status int

const (
	// StatusPending marks an optimistic message whose send is in flight.
	StatusPending Status = iota
	// StatusSent marks a store-confirmed message the recipient has not read.
	StatusSent
	// StatusRead marks a confirmed message with a recipient read time.
	StatusRead
	// StatusFailed marks an optimistic message whose send was rejected.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	case StatusRead:
		return "read"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// CanTransition reports whether next is a legal successor of s.
//
//	pending -> sent | failed
//	sent    -> read
//	failed  -> pending (retry)
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusSent || next == StatusFailed
	case StatusSent:
		return next == StatusRead
	case StatusFailed:
		return next == StatusPending
	default:
		return false
	}
}

// Confirmed reports whether the store has acknowledged the message.
func (s Status) Confirmed() bool {
	return s == StatusSent || s == StatusRead
}

// StatusOf derives the status of a store-confirmed message.
func StatusOf(m Message) Status {
	if m.IsRead() {
		return StatusRead
	}
	return StatusSent
}
