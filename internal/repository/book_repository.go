package repository

import (
	"context"
	"database/sql"
	"strings"

	"library-lending/internal/model"
)

// BookRepo provides data access to the books table. The catalog methods
// (Create, GetByID, List, UpdateMeta, Delete) are plain CRUD; the ledger
// methods (TryDecrement, Increment, SetTotalCopies) mutate the copy
// counters and are only ever called by the lending coordinator while it
// holds the per-book key. Each ledger method is a single statement, so it
// is atomic at the row level and durable once it returns.
type BookRepo struct {
	DB *sql.DB
}

// NewBookRepo returns a BookRepo bound to the provided database.
func NewBookRepo(db *sql.DB) *BookRepo { return &BookRepo{DB: db} }

const bookColumns = "id,title,author,isbn,description,total_copies,available_copies,created_at,updated_at"

func scanBook(row interface{ Scan(...any) error }) (model.Book, error) {
	var b model.Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Description,
		&b.TotalCopies, &b.AvailableCopies, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

// Create inserts a new book with available_copies equal to total_copies
// and returns its ID. A duplicate ISBN yields ErrISBNExists.
func (r *BookRepo) Create(ctx context.Context, title, author, isbn, description string, totalCopies int) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO books (title, author, isbn, description, total_copies, available_copies) VALUES (?,?,?,?,?,?)",
		title, author, isbn, description, totalCopies, totalCopies)
	if err != nil {
		if isDuplicate(err) {
			return 0, ErrISBNExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByID fetches a single book.
func (r *BookRepo) GetByID(ctx context.Context, id uint64) (model.Book, error) {
	b, err := scanBook(r.DB.QueryRowContext(ctx,
		"SELECT "+bookColumns+" FROM books WHERE id=? LIMIT 1", id))
	if err == sql.ErrNoRows {
		return model.Book{}, ErrBookNotFound
	}
	return b, err
}

// List returns one page of the catalog, newest first, together with the
// total number of matching rows. When search is non-empty it is matched
// as a substring against title, author and ISBN.
func (r *BookRepo) List(ctx context.Context, search string, page, limit int) ([]model.Book, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}
	where := ""
	args := []any{}
	if search != "" {
		where = " WHERE title LIKE ? OR author LIKE ? OR isbn LIKE ?"
		pat := "%" + search + "%"
		args = append(args, pat, pat, pat)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM books"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, (page-1)*limit)
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+bookColumns+" FROM books"+where+" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?", args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	books := make([]model.Book, 0, limit)
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, 0, err
		}
		books = append(books, b)
	}
	return books, total, rows.Err()
}

// UpdateMeta updates the descriptive fields of a book. Copy counters are
// out of scope here; they change only through the ledger methods. A
// duplicate ISBN yields ErrISBNExists.
func (r *BookRepo) UpdateMeta(ctx context.Context, id uint64, title, author, isbn, description string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE books SET title=?, author=?, isbn=?, description=? WHERE id=?",
		title, author, isbn, description, id)
	if err != nil {
		if isDuplicate(err) {
			return ErrISBNExists
		}
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either the row is missing or the values were unchanged; probe.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a book row. The caller (the coordinator) is responsible
// for guarding against active loans before calling this.
func (r *BookRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM books WHERE id=?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBookNotFound
	}
	return nil
}

// TryDecrement takes one copy off the shelf. It succeeds only when a copy
// is available; the availability check and the decrement are one
// conditional UPDATE, so two concurrent callers racing on the last copy
// resolve to exactly one success even without the coordinator's key.
// Returns the new available count, or ErrOutOfStock / ErrBookNotFound.
func (r *BookRepo) TryDecrement(ctx context.Context, bookID uint64) (int, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE books SET available_copies = available_copies - 1 WHERE id=? AND available_copies > 0", bookID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, bookID); err != nil {
			return 0, err
		}
		return 0, ErrOutOfStock
	}
	return r.availableCopies(ctx, bookID)
}

// Increment puts one copy back on the shelf. The guard refuses to exceed
// total_copies: that would mean a return without a matching active loan,
// which the caller must surface as an invariant violation, not clamp.
// Returns the new available count, or ErrExceedsTotal / ErrBookNotFound.
func (r *BookRepo) Increment(ctx context.Context, bookID uint64) (int, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE books SET available_copies = available_copies + 1 WHERE id=? AND available_copies < total_copies", bookID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		if _, err := r.GetByID(ctx, bookID); err != nil {
			return 0, err
		}
		return 0, ErrExceedsTotal
	}
	return r.availableCopies(ctx, bookID)
}

// SetTotalCopies resizes the inventory. The delta between the new and old
// totals is applied to available_copies, floored at zero when the library
// shrinks below the number of outstanding loans; those loans stay valid
// and the shortfall is absorbed as copies come back. Read-compute-write is
// safe here because the coordinator holds the book's key. Returns the new
// available count.
func (r *BookRepo) SetTotalCopies(ctx context.Context, bookID uint64, newTotal int) (int, error) {
	b, err := r.GetByID(ctx, bookID)
	if err != nil {
		return 0, err
	}
	newAvail := b.AvailableCopies + (newTotal - b.TotalCopies)
	if newAvail < 0 {
		newAvail = 0
	}
	if _, err := r.DB.ExecContext(ctx,
		"UPDATE books SET total_copies=?, available_copies=? WHERE id=?",
		newTotal, newAvail, bookID); err != nil {
		return 0, err
	}
	return newAvail, nil
}

func (r *BookRepo) availableCopies(ctx context.Context, bookID uint64) (int, error) {
	var avail int
	err := r.DB.QueryRowContext(ctx,
		"SELECT available_copies FROM books WHERE id=? LIMIT 1", bookID).Scan(&avail)
	if err == sql.ErrNoRows {
		return 0, ErrBookNotFound
	}
	return avail, err
}

// isDuplicate reports whether err is a MySQL duplicate-key error (1062).
func isDuplicate(err error) bool {
	return err != nil && strings.Contains(err.Error(), "1062")
}
