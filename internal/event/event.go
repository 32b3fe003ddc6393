// Package event defines the domain events emitted by the lending
// coordinator and the in-process broker that fans them out to observers
// (the WebSocket feed and the message-queue relay).
package event

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Action identifies the kind of state change an event describes.
type Action string

const (
	ActionBorrow Action = "borrow"
	ActionReturn Action = "return"
)

// Event is emitted after a borrow or return has committed. It carries the
// full internal context; external observers receive the reduced Wire
// shape.
type Event struct {
	ID        string    // unique event id
	Action    Action    // borrow or return
	BookID    uint64    // book whose inventory changed
	UserID    uint64    // user who triggered the change
	LoanID    uint64    // loan that was opened or closed
	Timestamp time.Time // when the change committed (UTC)
}

// New builds an Event stamped with a fresh UUID and the current UTC time.
func New(action Action, bookID, userID, loanID uint64) Event {
	return Event{
		ID:        uuid.NewString(),
		Action:    action,
		BookID:    bookID,
		UserID:    userID,
		LoanID:    loanID,
		Timestamp: time.Now().UTC(),
	}
}

// Wire is the JSON payload pushed to connected clients. IDs are rendered
// as decimal strings so clients can treat them as opaque.
type Wire struct {
	Action    string `json:"action"`
	BookID    string `json:"bookId"`
	Timestamp string `json:"timestamp"`
}

// Wire converts the event to its external shape.
func (e Event) Wire() Wire {
	return Wire{
		Action:    string(e.Action),
		BookID:    strconv.FormatUint(e.BookID, 10),
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
	}
}
