package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"librarium/internal/auth"
	"librarium/internal/library"
	"librarium/internal/store"
	"librarium/pkg/eventstore"
)

// service implements the Service interface.
type service struct {
	db         *store.DB
	books      *store.BookRepository
	borrowers  *store.BorrowerRepository
	eventStore *eventstore.EventStore
	logger     *slog.Logger
	tracer     trace.Tracer
	registered metric.Int64Counter
	now        func() time.Time
}

// NewService creates a new catalog service instance.
func NewService(db *store.DB, es *eventstore.EventStore, logger *slog.Logger) Service {
	registered, err := otel.Meter("librarium/catalog").Int64Counter(
		"library.books.registered",
		metric.WithDescription("Book copies added to the catalog"),
	)
	if err != nil {
		registered = noop.Int64Counter{}
	}

	return &service{
		db:         db,
		books:      store.NewBookRepository(db),
		borrowers:  store.NewBorrowerRepository(db),
		eventStore: es,
		logger:     logger.With("component", "catalog"),
		tracer:     otel.Tracer("librarium/catalog"),
		registered: registered,
		now:        time.Now,
	}
}

// RegisterBook adds a copy to the catalog. Copies may share an ISBN only if
// title and author match exactly; a supplied borrower must exist and the copy
// is created already lent to them.
func (s *service) RegisterBook(ctx context.Context, req RegisterBookRequest) (*library.Book, error) {
	req = req.normalize()

	ctx, span := s.tracer.Start(ctx, "catalog.register_book",
		trace.WithAttributes(attribute.String("book.isbn", req.ISBN)),
	)
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, s.fail(ctx, span, "book registration rejected", err)
	}

	now := s.now().UTC()
	book := &library.Book{
		ID:        uuid.New(),
		ISBN:      req.ISBN,
		Title:     req.Title,
		Author:    req.Author,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.Transact(ctx, func(tx *sqlx.Tx) error {
		books := s.books.WithTx(tx)

		existing, err := books.FindByISBN(ctx, book.ISBN)
		if err != nil {
			return err
		}
		for _, other := range existing {
			if other.Title != book.Title || other.Author != book.Author {
				return fmt.Errorf("ISBN %s is registered as %q by %s: %w",
					book.ISBN, other.Title, other.Author, library.ErrISBNConflict)
			}
		}

		registered, err := eventstore.NewEvent(library.EventBookRegistered, library.BookRegisteredEvent{
			ID:     book.ID,
			ISBN:   book.ISBN,
			Title:  book.Title,
			Author: book.Author,
		})
		if err != nil {
			return err
		}
		events := []eventstore.Event{registered}

		if req.BorrowerID != nil {
			borrower, err := s.borrowers.WithTx(tx).Get(ctx, *req.BorrowerID)
			if err != nil {
				return err
			}
			book.BorrowerID = &borrower.ID

			borrowed, err := eventstore.NewEvent(library.EventBookBorrowed, library.BookBorrowedEvent{
				BookID:     book.ID,
				BorrowerID: borrower.ID,
				BorrowedAt: now,
			})
			if err != nil {
				return err
			}
			events = append(events, borrowed)
		}
		book.Version = len(events)
		actor := auth.EventMetadata(ctx)
		for i := range events {
			events[i].Metadata = actor
		}

		if err := books.Create(ctx, book); err != nil {
			return err
		}
		return s.eventStore.WithTx(tx).AppendEvents(ctx, book.ID, library.AggregateBook, 0, events)
	})
	if err != nil {
		return nil, s.fail(ctx, span, "book registration rejected", err, "isbn", book.ISBN)
	}

	span.SetAttributes(attribute.String("book.id", book.ID.String()))
	s.registered.Add(ctx, 1)
	s.logger.InfoContext(ctx, "book registered",
		"book_id", book.ID,
		"isbn", book.ISBN,
		"lent", book.BorrowerID != nil,
	)
	return book, nil
}

// GetAllBooks returns the whole catalog.
func (s *service) GetAllBooks(ctx context.Context) ([]*library.Book, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.get_all_books")
	defer span.End()

	books, err := s.books.List(ctx)
	if err != nil {
		return nil, s.fail(ctx, span, "listing books failed", err)
	}
	span.SetAttributes(attribute.Int("books.count", len(books)))
	return books, nil
}

// GetBookByID retrieves a book from the catalog by its ID.
func (s *service) GetBookByID(ctx context.Context, id uuid.UUID) (*library.Book, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.get_book",
		trace.WithAttributes(attribute.String("book.id", id.String())),
	)
	defer span.End()

	book, err := s.books.Get(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, span, "book lookup failed", err, "book_id", id)
	}
	return book, nil
}

// GetBookHistory returns the recorded events of a book, oldest first.
func (s *service) GetBookHistory(ctx context.Context, id uuid.UUID) ([]eventstore.Event, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.get_book_history",
		trace.WithAttributes(attribute.String("book.id", id.String())),
	)
	defer span.End()

	if _, err := s.books.Get(ctx, id); err != nil {
		return nil, s.fail(ctx, span, "book lookup failed", err, "book_id", id)
	}

	events, err := s.eventStore.LoadEvents(ctx, id, 0, 0)
	if err != nil {
		return nil, s.fail(ctx, span, "loading book history failed", err, "book_id", id)
	}
	return events, nil
}

func (s *service) fail(ctx context.Context, span trace.Span, msg string, err error, attrs ...any) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.WarnContext(ctx, msg, append(attrs, "error", err)...)
	return err
}
