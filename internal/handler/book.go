package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"library-lending/internal/lending"
	"library-lending/internal/model"
	"library-lending/internal/repository"
)

// BookHandler serves the catalog endpoints. Reads go straight to the
// repository; anything that touches copy counters or removes a book goes
// through the coordinator so it runs under the book's serialization key.
type BookHandler struct {
	Books *repository.BookRepo
	Coord *lending.Coordinator
}

func NewBookHandler(books *repository.BookRepo, coord *lending.Coordinator) *BookHandler {
	return &BookHandler{Books: books, Coord: coord}
}

type createBookReq struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	ISBN        string `json:"isbn"`
	Description string `json:"description"`
	TotalCopies int    `json:"total_copies"`
}

type updateBookReq struct {
	Title       *string `json:"title"`
	Author      *string `json:"author"`
	ISBN        *string `json:"isbn"`
	Description *string `json:"description"`
	TotalCopies *int    `json:"total_copies"`
}

type bookListResp struct {
	Books []model.Book `json:"books"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
	Total int          `json:"total"`
}

// List returns one page of the catalog. Query params: page, limit,
// search.
func (h *BookHandler) List(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}
	search := strings.TrimSpace(c.QueryParam("search"))

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	books, total, err := h.Books.List(ctx, search, page, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, bookListResp{Books: books, Page: page, Limit: limit, Total: total})
}

// Get returns a single book by id.
func (h *BookHandler) Get(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	b, err := h.Books.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrBookNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "book not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, b)
}

// Create adds a book to the catalog (admin only). Available copies start
// equal to total copies.
func (h *BookHandler) Create(c echo.Context) error {
	var req createBookReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Author = strings.TrimSpace(req.Author)
	req.ISBN = strings.TrimSpace(req.ISBN)
	if req.Title == "" || req.Author == "" || req.ISBN == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "title/author/isbn required"})
	}
	if req.TotalCopies < 1 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "total_copies must be at least 1"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id, err := h.Books.Create(ctx, req.Title, req.Author, req.ISBN, req.Description, req.TotalCopies)
	if err != nil {
		if errors.Is(err, repository.ErrISBNExists) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "isbn already exists"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create failed"})
	}
	b, err := h.Books.GetByID(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusCreated, b)
}

// Update modifies a book (admin only). Metadata fields update in place;
// a total_copies change is an inventory resize and runs through the
// coordinator under the book's key.
func (h *BookHandler) Update(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}
	var req updateBookReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	b, err := h.Books.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrBookNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "book not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}

	if req.Title != nil || req.Author != nil || req.ISBN != nil || req.Description != nil {
		title, author, isbn, desc := b.Title, b.Author, b.ISBN, b.Description
		if req.Title != nil {
			title = strings.TrimSpace(*req.Title)
		}
		if req.Author != nil {
			author = strings.TrimSpace(*req.Author)
		}
		if req.ISBN != nil {
			isbn = strings.TrimSpace(*req.ISBN)
		}
		if req.Description != nil {
			desc = *req.Description
		}
		if title == "" || author == "" || isbn == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "title/author/isbn must not be empty"})
		}
		if err := h.Books.UpdateMeta(ctx, id, title, author, isbn, desc); err != nil {
			switch {
			case errors.Is(err, repository.ErrISBNExists):
				return c.JSON(http.StatusConflict, echo.Map{"error": "isbn already exists"})
			case errors.Is(err, repository.ErrBookNotFound):
				return c.JSON(http.StatusNotFound, echo.Map{"error": "book not found"})
			}
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
		}
	}

	if req.TotalCopies != nil {
		b, err = h.Coord.ResizeInventory(ctx, id, *req.TotalCopies)
		if err != nil {
			switch {
			case errors.Is(err, lending.ErrInvalidTotalCopies):
				return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
			case errors.Is(err, repository.ErrBookNotFound):
				return c.JSON(http.StatusNotFound, echo.Map{"error": "book not found"})
			case errors.Is(err, lending.ErrBusy):
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "book is busy, try again"})
			}
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
		}
		return c.JSON(http.StatusOK, b)
	}

	b, err = h.Books.GetByID(ctx, id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	return c.JSON(http.StatusOK, b)
}

// Delete removes a book from the catalog (admin only). A book with
// outstanding loans is refused with a 409 carrying the active-loan count.
func (h *BookHandler) Delete(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	if err := h.Coord.DeleteBook(ctx, id); err != nil {
		var activeErr *lending.HasActiveLoansError
		switch {
		case errors.As(err, &activeErr):
			return c.JSON(http.StatusConflict, echo.Map{
				"error":        "book has active loans",
				"active_loans": activeErr.Count,
			})
		case errors.Is(err, repository.ErrBookNotFound):
			return c.JSON(http.StatusNotFound, echo.Map{"error": "book not found"})
		case errors.Is(err, lending.ErrBusy):
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "book is busy, try again"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "delete failed"})
	}
	return c.NoContent(http.StatusNoContent)
}
