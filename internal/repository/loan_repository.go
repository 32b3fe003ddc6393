package repository

import (
	"context"
	"database/sql"

	"library-lending/internal/model"
)

// LoanDetail is a loan joined with the descriptive fields of its book,
// used for listing a user's borrowing history without a second query.
type LoanDetail struct {
	model.Loan
	BookTitle  string `json:"book_title"`
	BookAuthor string `json:"book_author"`
	BookISBN   string `json:"book_isbn"`
}

// LoanRepo provides data access to the loans table. It owns the
// "at most one active loan per (user, book)" check: Open evaluates the
// uniqueness condition and the insert in a single statement, so the check
// holds at the instant of commit rather than at an earlier read.
type LoanRepo struct {
	DB *sql.DB
}

// NewLoanRepo returns a LoanRepo bound to the provided database.
func NewLoanRepo(db *sql.DB) *LoanRepo { return &LoanRepo{DB: db} }

const loanColumns = "id,user_id,book_id,status,borrowed_at,returned_at,created_at,updated_at"

func scanLoan(row interface{ Scan(...any) error }) (model.Loan, error) {
	var (
		l   model.Loan
		ret sql.NullTime
	)
	err := row.Scan(&l.ID, &l.UserID, &l.BookID, &l.Status, &l.BorrowedAt, &ret, &l.CreatedAt, &l.UpdatedAt)
	if ret.Valid {
		t := ret.Time
		l.ReturnedAt = &t
	}
	return l, err
}

// HasActiveLoan reports whether the user currently holds an active loan
// on the book.
func (r *LoanRepo) HasActiveLoan(ctx context.Context, userID, bookID uint64) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM loans WHERE user_id=? AND book_id=? AND status=?)",
		userID, bookID, model.LoanStatusActive).Scan(&exists)
	return exists, err
}

// Open creates an active loan and returns its ID. The insert only happens
// when no active loan exists for the pair; when one does, zero rows are
// affected and ErrAlreadyBorrowed is returned.
func (r *LoanRepo) Open(ctx context.Context, userID, bookID uint64) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO loans (user_id, book_id, status, borrowed_at)
		 SELECT ?, ?, ?, UTC_TIMESTAMP() FROM DUAL
		 WHERE NOT EXISTS (SELECT 1 FROM loans WHERE user_id=? AND book_id=? AND status=?)`,
		userID, bookID, model.LoanStatusActive, userID, bookID, model.LoanStatusActive)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrAlreadyBorrowed
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByID fetches a single loan.
func (r *LoanRepo) GetByID(ctx context.Context, id uint64) (model.Loan, error) {
	l, err := scanLoan(r.DB.QueryRowContext(ctx,
		"SELECT "+loanColumns+" FROM loans WHERE id=? LIMIT 1", id))
	if err == sql.ErrNoRows {
		return model.Loan{}, ErrLoanNotFound
	}
	return l, err
}

// Close marks a loan as returned and stamps returned_at. It fails with
// ErrLoanNotFound when the loan does not exist, ErrForbidden when
// byUserID does not own it, and ErrAlreadyReturned when it is already
// closed. On success the updated loan is returned.
func (r *LoanRepo) Close(ctx context.Context, loanID, byUserID uint64) (model.Loan, error) {
	l, err := r.GetByID(ctx, loanID)
	if err != nil {
		return model.Loan{}, err
	}
	if l.UserID != byUserID {
		return model.Loan{}, ErrForbidden
	}
	if l.Status != model.LoanStatusActive {
		return model.Loan{}, ErrAlreadyReturned
	}
	res, err := r.DB.ExecContext(ctx,
		"UPDATE loans SET status=?, returned_at=UTC_TIMESTAMP() WHERE id=? AND status=?",
		model.LoanStatusReturned, loanID, model.LoanStatusActive)
	if err != nil {
		return model.Loan{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Loan{}, ErrAlreadyReturned
	}
	return r.GetByID(ctx, loanID)
}

// CountActive returns the number of active loans on a book. Used by the
// coordinator's delete-book guard.
func (r *LoanRepo) CountActive(ctx context.Context, bookID uint64) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM loans WHERE book_id=? AND status=?",
		bookID, model.LoanStatusActive).Scan(&n)
	return n, err
}

// ListByUser returns the user's full borrowing history, newest first,
// with book title, author and ISBN populated.
func (r *LoanRepo) ListByUser(ctx context.Context, userID uint64) ([]LoanDetail, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT l.id,l.user_id,l.book_id,l.status,l.borrowed_at,l.returned_at,l.created_at,l.updated_at,
		        b.title,b.author,b.isbn
		 FROM loans l JOIN books b ON b.id = l.book_id
		 WHERE l.user_id=? ORDER BY l.borrowed_at DESC, l.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []LoanDetail{}
	for rows.Next() {
		var (
			d   LoanDetail
			ret sql.NullTime
		)
		if err := rows.Scan(&d.ID, &d.UserID, &d.BookID, &d.Status, &d.BorrowedAt, &ret,
			&d.CreatedAt, &d.UpdatedAt, &d.BookTitle, &d.BookAuthor, &d.BookISBN); err != nil {
			return nil, err
		}
		if ret.Valid {
			t := ret.Time
			d.ReturnedAt = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
