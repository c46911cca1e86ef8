package catalog

import (
	"context"

	"github.com/google/uuid"

	"librarium/internal/library"
	"librarium/pkg/eventstore"
)

// Service defines the interface for the catalog service.
type Service interface {
	RegisterBook(ctx context.Context, req RegisterBookRequest) (*library.Book, error)
	GetAllBooks(ctx context.Context) ([]*library.Book, error)
	GetBookByID(ctx context.Context, id uuid.UUID) (*library.Book, error)
	GetBookHistory(ctx context.Context, id uuid.UUID) ([]eventstore.Event, error)
}
