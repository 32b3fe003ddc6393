// Package queue defines message payloads exchanged over the message
// broker and the background consumer that audits them.
package queue

// LoanEvent is published to the lending.events queue for every committed
// borrow or return. It carries enough context for downstream consumers to
// audit or notify without querying the primary database.
type LoanEvent struct {
	EventID    string `json:"event_id"`
	Action     string `json:"action"` // "borrow" or "return"
	BookID     uint64 `json:"book_id"`
	UserID     uint64 `json:"user_id"`
	LoanID     uint64 `json:"loan_id"`
	OccurredAt string `json:"occurred_at"`
}
