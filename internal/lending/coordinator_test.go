package lending

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"library-lending/internal/event"
	"library-lending/internal/model"
	"library-lending/internal/repository"
)

// memBooks is an in-memory stand-in for the book repository, implementing
// both the Ledger and Catalog interfaces with the same error semantics.
type memBooks struct {
	mu    sync.Mutex
	books map[uint64]*model.Book
}

func newMemBooks(books ...model.Book) *memBooks {
	m := &memBooks{books: make(map[uint64]*model.Book)}
	for i := range books {
		b := books[i]
		m.books[b.ID] = &b
	}
	return m
}

func (m *memBooks) TryDecrement(ctx context.Context, bookID uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[bookID]
	if !ok {
		return 0, repository.ErrBookNotFound
	}
	if b.AvailableCopies <= 0 {
		return 0, repository.ErrOutOfStock
	}
	b.AvailableCopies--
	return b.AvailableCopies, nil
}

func (m *memBooks) Increment(ctx context.Context, bookID uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[bookID]
	if !ok {
		return 0, repository.ErrBookNotFound
	}
	if b.AvailableCopies >= b.TotalCopies {
		return 0, repository.ErrExceedsTotal
	}
	b.AvailableCopies++
	return b.AvailableCopies, nil
}

func (m *memBooks) SetTotalCopies(ctx context.Context, bookID uint64, newTotal int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[bookID]
	if !ok {
		return 0, repository.ErrBookNotFound
	}
	b.AvailableCopies += newTotal - b.TotalCopies
	if b.AvailableCopies < 0 {
		b.AvailableCopies = 0
	}
	b.TotalCopies = newTotal
	return b.AvailableCopies, nil
}

func (m *memBooks) GetByID(ctx context.Context, id uint64) (model.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return model.Book{}, repository.ErrBookNotFound
	}
	return *b, nil
}

func (m *memBooks) Delete(ctx context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[id]; !ok {
		return repository.ErrBookNotFound
	}
	delete(m.books, id)
	return nil
}

func (m *memBooks) available(t *testing.T, id uint64) int {
	t.Helper()
	b, err := m.GetByID(context.Background(), id)
	require.NoError(t, err)
	return b.AvailableCopies
}

// memLoans is an in-memory loan registry.
type memLoans struct {
	mu    sync.Mutex
	loans map[uint64]*model.Loan
	next  uint64
}

func newMemLoans() *memLoans {
	return &memLoans{loans: make(map[uint64]*model.Loan)}
}

func (m *memLoans) HasActiveLoan(ctx context.Context, userID, bookID uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked(userID, bookID), nil
}

func (m *memLoans) activeLocked(userID, bookID uint64) bool {
	for _, l := range m.loans {
		if l.UserID == userID && l.BookID == bookID && l.Status == model.LoanStatusActive {
			return true
		}
	}
	return false
}

func (m *memLoans) Open(ctx context.Context, userID, bookID uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeLocked(userID, bookID) {
		return 0, repository.ErrAlreadyBorrowed
	}
	m.next++
	m.loans[m.next] = &model.Loan{
		ID:         m.next,
		UserID:     userID,
		BookID:     bookID,
		Status:     model.LoanStatusActive,
		BorrowedAt: time.Now().UTC(),
	}
	return m.next, nil
}

func (m *memLoans) Close(ctx context.Context, loanID, byUserID uint64) (model.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[loanID]
	if !ok {
		return model.Loan{}, repository.ErrLoanNotFound
	}
	if l.UserID != byUserID {
		return model.Loan{}, repository.ErrForbidden
	}
	if l.Status != model.LoanStatusActive {
		return model.Loan{}, repository.ErrAlreadyReturned
	}
	now := time.Now().UTC()
	l.Status = model.LoanStatusReturned
	l.ReturnedAt = &now
	return *l, nil
}

func (m *memLoans) GetByID(ctx context.Context, loanID uint64) (model.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[loanID]
	if !ok {
		return model.Loan{}, repository.ErrLoanNotFound
	}
	return *l, nil
}

func (m *memLoans) CountActive(ctx context.Context, bookID uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.loans {
		if l.BookID == bookID && l.Status == model.LoanStatusActive {
			n++
		}
	}
	return n, nil
}

// recorder captures published events in order.
type recorder struct {
	mu  sync.Mutex
	evs []event.Event
}

func (r *recorder) Publish(ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
}

func (r *recorder) events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Event, len(r.evs))
	copy(out, r.evs)
	return out
}

func newTestCoordinator(books *memBooks) (*Coordinator, *memLoans, *recorder) {
	loans := newMemLoans()
	rec := &recorder{}
	return NewCoordinator(books, loans, books, rec, time.Second), loans, rec
}

func book(id uint64, total, avail int) model.Book {
	return model.Book{ID: id, Title: "t", Author: "a", ISBN: "i", TotalCopies: total, AvailableCopies: avail}
}

func TestBorrowReturnRoundTrip(t *testing.T) {
	books := newMemBooks(book(1, 3, 3))
	coord, _, rec := newTestCoordinator(books)
	ctx := context.Background()

	res, err := coord.Borrow(ctx, 10, 1)
	require.NoError(t, err)
	require.Equal(t, model.LoanStatusActive, res.Loan.Status)
	require.Equal(t, 2, res.Book.AvailableCopies)

	closed, err := coord.Return(ctx, res.Loan.ID, 10)
	require.NoError(t, err)
	require.Equal(t, model.LoanStatusReturned, closed.Status)
	require.NotNil(t, closed.ReturnedAt)
	require.Equal(t, 3, books.available(t, 1))

	evs := rec.events()
	require.Len(t, evs, 2)
	require.Equal(t, event.ActionBorrow, evs[0].Action)
	require.Equal(t, event.ActionReturn, evs[1].Action)
	require.Equal(t, uint64(1), evs[0].BookID)
}

func TestConcurrentBorrowsLastCopy(t *testing.T) {
	books := newMemBooks(book(1, 1, 1))
	coord, _, _ := newTestCoordinator(books)
	ctx := context.Background()

	const callers = 10
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		userID := uint64(100 + i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coord.Borrow(ctx, userID, 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok, outOfStock := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		default:
			require.ErrorIs(t, err, repository.ErrOutOfStock)
			outOfStock++
		}
	}
	require.Equal(t, 1, ok, "exactly one borrow must win the last copy")
	require.Equal(t, callers-1, outOfStock)
	require.Equal(t, 0, books.available(t, 1))
}

func TestBorrowOutOfStock(t *testing.T) {
	books := newMemBooks(book(1, 2, 0))
	coord, _, rec := newTestCoordinator(books)

	// All from the same user: each attempt must fail, whether it trips
	// the stock check or the duplicate-loan check first.
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coord.Borrow(context.Background(), 200, 1)
			if !errors.Is(err, repository.ErrOutOfStock) && !errors.Is(err, repository.ErrAlreadyBorrowed) {
				t.Errorf("unexpected borrow outcome: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 0, books.available(t, 1))
	require.Empty(t, rec.events(), "failed borrows must not emit events")
}

func TestBorrowSameBookTwice(t *testing.T) {
	books := newMemBooks(book(1, 5, 5))
	coord, _, _ := newTestCoordinator(books)
	ctx := context.Background()

	_, err := coord.Borrow(ctx, 10, 1)
	require.NoError(t, err)

	_, err = coord.Borrow(ctx, 10, 1)
	require.ErrorIs(t, err, repository.ErrAlreadyBorrowed)
	require.Equal(t, 4, books.available(t, 1), "rejected borrow must not consume a copy")

	// A different user is unaffected by the first user's loan.
	_, err = coord.Borrow(ctx, 11, 1)
	require.NoError(t, err)
}

func TestReturnByNonOwner(t *testing.T) {
	books := newMemBooks(book(1, 2, 2))
	coord, _, rec := newTestCoordinator(books)
	ctx := context.Background()

	res, err := coord.Borrow(ctx, 10, 1)
	require.NoError(t, err)

	_, err = coord.Return(ctx, res.Loan.ID, 11)
	require.ErrorIs(t, err, repository.ErrForbidden)
	require.Equal(t, 1, books.available(t, 1), "refused return must not touch inventory")

	// The owner can still return normally afterwards.
	_, err = coord.Return(ctx, res.Loan.ID, 10)
	require.NoError(t, err)
	require.Equal(t, 2, books.available(t, 1))
	require.Len(t, rec.events(), 2)
}

func TestReturnTwice(t *testing.T) {
	books := newMemBooks(book(1, 2, 2))
	coord, _, _ := newTestCoordinator(books)
	ctx := context.Background()

	res, err := coord.Borrow(ctx, 10, 1)
	require.NoError(t, err)
	_, err = coord.Return(ctx, res.Loan.ID, 10)
	require.NoError(t, err)

	_, err = coord.Return(ctx, res.Loan.ID, 10)
	require.ErrorIs(t, err, repository.ErrAlreadyReturned)
	require.Equal(t, 2, books.available(t, 1), "second return must not change the count")
}

func TestReturnUnknownLoan(t *testing.T) {
	books := newMemBooks(book(1, 2, 2))
	coord, _, _ := newTestCoordinator(books)

	_, err := coord.Return(context.Background(), 999, 10)
	require.ErrorIs(t, err, repository.ErrLoanNotFound)
}

func TestDeleteBookGuardedByActiveLoans(t *testing.T) {
	books := newMemBooks(book(1, 3, 3))
	coord, _, _ := newTestCoordinator(books)
	ctx := context.Background()

	r1, err := coord.Borrow(ctx, 10, 1)
	require.NoError(t, err)
	_, err = coord.Borrow(ctx, 11, 1)
	require.NoError(t, err)

	err = coord.DeleteBook(ctx, 1)
	var active *HasActiveLoansError
	require.ErrorAs(t, err, &active)
	require.Equal(t, 2, active.Count)

	_, err = coord.Return(ctx, r1.Loan.ID, 10)
	require.NoError(t, err)
	err = coord.DeleteBook(ctx, 1)
	require.ErrorAs(t, err, &active)
	require.Equal(t, 1, active.Count)
}

func TestDeleteBookWithoutLoans(t *testing.T) {
	books := newMemBooks(book(1, 3, 3))
	coord, _, _ := newTestCoordinator(books)
	ctx := context.Background()

	require.NoError(t, coord.DeleteBook(ctx, 1))
	err := coord.DeleteBook(ctx, 1)
	require.ErrorIs(t, err, repository.ErrBookNotFound)
}

func TestResizeInventory(t *testing.T) {
	books := newMemBooks(book(1, 3, 3))
	coord, _, _ := newTestCoordinator(books)
	ctx := context.Background()

	// Growing adds the delta to the shelf.
	b, err := coord.ResizeInventory(ctx, 1, 5)
	require.NoError(t, err)
	require.Equal(t, 5, b.TotalCopies)
	require.Equal(t, 5, b.AvailableCopies)

	// Two copies out on loan, then shrink below the outstanding count:
	// available floors at zero and the loans stay valid.
	_, err = coord.Borrow(ctx, 10, 1)
	require.NoError(t, err)
	_, err = coord.Borrow(ctx, 11, 1)
	require.NoError(t, err)

	b, err = coord.ResizeInventory(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, 1, b.TotalCopies)
	require.Equal(t, 0, b.AvailableCopies)

	_, err = coord.ResizeInventory(ctx, 1, 0)
	require.ErrorIs(t, err, ErrInvalidTotalCopies)
}

func TestBorrowBusyWhenKeyHeld(t *testing.T) {
	books := newMemBooks(book(1, 1, 1))
	loans := newMemLoans()
	rec := &recorder{}
	coord := NewCoordinator(books, loans, books, rec, 30*time.Millisecond)

	require.NoError(t, coord.keys.Lock(context.Background(), 1))
	defer coord.keys.Unlock(1)

	_, err := coord.Borrow(context.Background(), 10, 1)
	require.ErrorIs(t, err, ErrBusy)
	require.Equal(t, 1, books.available(t, 1), "a busy borrow must not mutate anything")
}

func TestBorrowCallerCancelledWhileWaiting(t *testing.T) {
	books := newMemBooks(book(1, 1, 1))
	loans := newMemLoans()
	coord := NewCoordinator(books, loans, books, &recorder{}, time.Second)

	require.NoError(t, coord.keys.Lock(context.Background(), 1))
	defer coord.keys.Unlock(1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := coord.Borrow(ctx, 10, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestEventsFollowCommitOrderPerBook(t *testing.T) {
	books := newMemBooks(book(1, 2, 2))
	coord, _, rec := newTestCoordinator(books)
	ctx := context.Background()

	r1, err := coord.Borrow(ctx, 10, 1)
	require.NoError(t, err)
	r2, err := coord.Borrow(ctx, 11, 1)
	require.NoError(t, err)
	_, err = coord.Return(ctx, r1.Loan.ID, 10)
	require.NoError(t, err)
	_, err = coord.Return(ctx, r2.Loan.ID, 11)
	require.NoError(t, err)

	evs := rec.events()
	require.Len(t, evs, 4)
	want := []struct {
		action event.Action
		userID uint64
	}{
		{event.ActionBorrow, 10},
		{event.ActionBorrow, 11},
		{event.ActionReturn, 10},
		{event.ActionReturn, 11},
	}
	for i, w := range want {
		require.Equal(t, w.action, evs[i].Action)
		require.Equal(t, w.userID, evs[i].UserID)
		require.Equal(t, uint64(1), evs[i].BookID)
		require.NotEmpty(t, evs[i].ID)
	}
}

func TestConcurrentTrafficKeepsInvariant(t *testing.T) {
	books := newMemBooks(book(1, 4, 4), book(2, 2, 2))
	coord, loans, _ := newTestCoordinator(books)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		userID := uint64(500 + i)
		bookID := uint64(1 + i%2)
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := coord.Borrow(context.Background(), userID, bookID)
			if err != nil {
				return
			}
			_, err = coord.Return(context.Background(), res.Loan.ID, userID)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, id := range []uint64{1, 2} {
		b, err := books.GetByID(context.Background(), id)
		require.NoError(t, err)
		n, err := loans.CountActive(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, b.TotalCopies-n, b.AvailableCopies,
			"available must equal total minus active loans for book %d", id)
	}
}
