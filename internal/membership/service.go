package membership

import (
	"context"

	"github.com/google/uuid"

	"librarium/internal/library"
)

// Service defines the interface for the membership service: borrower
// registration plus the borrow and return workflow.
type Service interface {
	RegisterBorrower(ctx context.Context, req RegisterBorrowerRequest) (*library.Borrower, error)
	BorrowBook(ctx context.Context, borrowerID, bookID uuid.UUID) (*library.Book, error)
	ReturnBook(ctx context.Context, borrowerID, bookID uuid.UUID) (*library.Book, error)
	GetAllBorrowers(ctx context.Context) ([]*library.Borrower, error)
	GetBorrowerByID(ctx context.Context, id uuid.UUID) (*library.Borrower, error)
	GetBorrowedBooks(ctx context.Context, borrowerID uuid.UUID) ([]*library.Book, error)
}

type transitionFunc func(ctx context.Context, borrowerID, bookID uuid.UUID) (*library.Book, error)
