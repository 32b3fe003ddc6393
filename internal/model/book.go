package model

import "time"

// Book represents a catalog entry in the `books` table. The copy counts
// are the authoritative inventory state: AvailableCopies must always equal
// TotalCopies minus the number of active loans on this book, and must stay
// within [0, TotalCopies]. Both counters are mutated only through the
// inventory ledger under the lending coordinator's per-book key.
//
// Fields:
//  ID              – primary key identifier.
//  Title           – book title.
//  Author          – author name.
//  ISBN            – globally unique ISBN.
//  Description     – free-form description, may be empty.
//  TotalCopies     – number of copies owned by the library (>= 1).
//  AvailableCopies – copies currently on the shelf (0 <= n <= TotalCopies).
//  CreatedAt       – timestamp of creation.
//  UpdatedAt       – timestamp of last update.
type Book struct {
	ID              uint64    `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	ISBN            string    `json:"isbn"`
	Description     string    `json:"description"`
	TotalCopies     int       `json:"total_copies"`
	AvailableCopies int       `json:"available_copies"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
