// Package repository defines the error taxonomy shared by the data access
// layer and the lending core. These sentinel values let higher layers such
// as handlers distinguish failure scenarios without parsing messages; all
// human-readable wording belongs to the HTTP boundary, never to the core.
package repository

import "errors"

// ErrBookNotFound is returned when the referenced book does not exist.
var ErrBookNotFound = errors.New("book not found")

// ErrLoanNotFound is returned when the referenced loan does not exist.
var ErrLoanNotFound = errors.New("loan not found")

// ErrOutOfStock is returned by the ledger when a borrow is attempted with
// zero available copies.
var ErrOutOfStock = errors.New("no copies available")

// ErrExceedsTotal is returned by the ledger when an increment would push
// available copies above total copies. It signals a return without a
// matching active loan, i.e. a bug in the serialization discipline, and
// must never be clamped away inside the core.
var ErrExceedsTotal = errors.New("available copies would exceed total")

// ErrAlreadyBorrowed is returned when a user already holds an active loan
// on the requested book.
var ErrAlreadyBorrowed = errors.New("book already borrowed by user")

// ErrAlreadyReturned is returned when a return targets a loan that is
// already closed.
var ErrAlreadyReturned = errors.New("loan already returned")

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own. Handlers should translate this into an HTTP
// 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrISBNExists is returned when a create or update would violate the
// unique ISBN constraint.
var ErrISBNExists = errors.New("isbn already exists")

// ErrUsernameExists and ErrEmailExists are returned on registration when
// the respective unique constraint is violated.
var (
	ErrUsernameExists = errors.New("username already exists")
	ErrEmailExists    = errors.New("email already exists")
)
