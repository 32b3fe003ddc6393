package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"library-lending/internal/lending"
	"library-lending/internal/repository"
)

// LoanHandler serves the borrowing endpoints. Borrow and return go
// through the coordinator; the list endpoint reads the registry directly.
type LoanHandler struct {
	Loans *repository.LoanRepo
	Coord *lending.Coordinator
}

func NewLoanHandler(loans *repository.LoanRepo, coord *lending.Coordinator) *LoanHandler {
	return &LoanHandler{Loans: loans, Coord: coord}
}

type borrowReq struct {
	BookID uint64 `json:"book_id"`
}

// List returns the caller's borrowing history, newest first.
func (h *LoanHandler) List(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	loans, err := h.Loans.ListByUser(ctx, uid)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"loans": loans})
}

// Borrow lends one copy of a book to the caller.
func (h *LoanHandler) Borrow(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req borrowReq
	if err := c.Bind(&req); err != nil || req.BookID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "book_id required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	res, err := h.Coord.Borrow(ctx, uid, req.BookID)
	if err != nil {
		return loanError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"loan": res.Loan, "book": res.Book})
}

// Return closes the caller's loan and puts the copy back on the shelf.
func (h *LoanHandler) Return(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	loanID, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	loan, err := h.Coord.Return(ctx, loanID, uid)
	if err != nil {
		return loanError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"loan": loan})
}

// loanError maps coordinator and repository errors onto HTTP statuses.
// Conflicting state is 409, missing records 404, ownership 403, a
// contended key 503, and a tripped inventory invariant 500.
func loanError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrAlreadyBorrowed):
		return c.JSON(http.StatusConflict, echo.Map{"error": "book already borrowed by this user"})
	case errors.Is(err, repository.ErrOutOfStock):
		return c.JSON(http.StatusConflict, echo.Map{"error": "no copies available"})
	case errors.Is(err, repository.ErrAlreadyReturned):
		return c.JSON(http.StatusConflict, echo.Map{"error": "loan already returned"})
	case errors.Is(err, repository.ErrBookNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "book not found"})
	case errors.Is(err, repository.ErrLoanNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "loan not found"})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "loan belongs to another user"})
	case errors.Is(err, lending.ErrBusy):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "book is busy, try again"})
	case errors.Is(err, repository.ErrExceedsTotal):
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "inventory inconsistency detected"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusRequestTimeout, echo.Map{"error": "request cancelled"})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "operation failed"})
}
