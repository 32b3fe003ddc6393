package model

import "time"

// Loan status values stored in loans.status.
const (
	LoanStatusActive   = "active"
	LoanStatusReturned = "returned"
)

// Loan records one borrowing of one book by one user. A loan is created
// with status "active" and transitions to "returned" exactly once; loans
// are never deleted so the table doubles as the borrowing history. For a
// given (user, book) pair at most one loan may be active at any time.
//
// Fields:
//  ID         – primary key identifier.
//  UserID     – user who borrowed the book.
//  BookID     – book that was borrowed.
//  Status     – "active" or "returned".
//  BorrowedAt – when the loan was opened.
//  ReturnedAt – when the loan was closed (nil while active).
//  CreatedAt  – timestamp of creation.
//  UpdatedAt  – timestamp of last update.
type Loan struct {
	ID         uint64     `json:"id"`
	UserID     uint64     `json:"user_id"`
	BookID     uint64     `json:"book_id"`
	Status     string     `json:"status"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Active reports whether the loan has not been returned yet.
func (l Loan) Active() bool { return l.Status == LoanStatusActive }
