package membership

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
	"golang.org/x/time/rate"

	"librarium/internal/auth"
	"librarium/internal/library"
	"librarium/internal/store"
	"librarium/pkg/eventstore"
)

// Option configures the membership service.
type Option func(*service)

// WithRegistrationLimiter throttles RegisterBorrower. By default
// registrations are not limited.
func WithRegistrationLimiter(l *rate.Limiter) Option {
	return func(s *service) {
		s.rateLimiter = l
	}
}

// service implements the Service interface.
type service struct {
	db          *store.DB
	books       *store.BookRepository
	borrowers   *store.BorrowerRepository
	eventStore  *eventstore.EventStore
	rateLimiter *rate.Limiter
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time

	registeredCounter metric.Int64Counter
	borrowedCounter   metric.Int64Counter
	returnedCounter   metric.Int64Counter
}

// NewService creates a new membership service instance.
func NewService(db *store.DB, es *eventstore.EventStore, logger *slog.Logger, opts ...Option) Service {
	meter := otel.Meter("librarium/membership")
	s := &service{
		db:          db,
		books:       store.NewBookRepository(db),
		borrowers:   store.NewBorrowerRepository(db),
		eventStore:  es,
		rateLimiter: rate.NewLimiter(rate.Inf, 0),
		logger:      logger.With("component", "membership"),
		tracer:      otel.Tracer("librarium/membership"),
		now:         time.Now,

		registeredCounter: counter(meter, "library.borrowers.registered", "Borrowers registered"),
		borrowedCounter:   counter(meter, "library.books.borrowed", "Books lent to borrowers"),
		returnedCounter:   counter(meter, "library.books.returned", "Books returned by borrowers"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}

// RegisterBorrower creates a new borrower with a unique email.
func (s *service) RegisterBorrower(ctx context.Context, req RegisterBorrowerRequest) (*library.Borrower, error) {
	ctx, span := s.tracer.Start(ctx, "membership.register_borrower")
	defer span.End()

	if !s.rateLimiter.Allow() {
		return nil, s.fail(ctx, span, "borrower registration throttled", library.ErrRateLimited)
	}

	req = req.normalize()
	if err := req.validate(); err != nil {
		return nil, s.fail(ctx, span, "borrower registration rejected", err)
	}

	borrower := &library.Borrower{
		ID:        uuid.New(),
		Email:     req.Email,
		Name:      req.Name,
		CreatedAt: s.now().UTC(),
	}

	err := s.db.Transact(ctx, func(tx *sqlx.Tx) error {
		borrowers := s.borrowers.WithTx(tx)

		exists, err := borrowers.ExistsByEmail(ctx, borrower.Email)
		if err != nil {
			return err
		}
		if exists {
			return library.ErrDuplicateEmail
		}

		if err := borrowers.Create(ctx, borrower); err != nil {
			return err
		}

		event, err := eventstore.NewEvent(library.EventBorrowerRegistered, library.BorrowerRegisteredEvent{
			ID:    borrower.ID,
			Email: borrower.Email,
			Name:  borrower.Name,
		})
		if err != nil {
			return err
		}
		event.Metadata = auth.EventMetadata(ctx)
		return s.eventStore.WithTx(tx).AppendEvents(ctx, borrower.ID, library.AggregateBorrower, 0, []eventstore.Event{event})
	})
	if err != nil {
		return nil, s.fail(ctx, span, "borrower registration rejected", err)
	}

	span.SetAttributes(attribute.String("borrower.id", borrower.ID.String()))
	s.registeredCounter.Add(ctx, 1)
	s.logger.InfoContext(ctx, "borrower registered", "borrower_id", borrower.ID)
	return borrower, nil
}

// BorrowBook lends an available book to the borrower.
func (s *service) BorrowBook(ctx context.Context, borrowerID, bookID uuid.UUID) (*library.Book, error) {
	ctx, span := s.tracer.Start(ctx, "membership.borrow_book", trace.WithAttributes(
		attribute.String("borrower.id", borrowerID.String()),
		attribute.String("book.id", bookID.String()),
	))
	defer span.End()

	var book *library.Book
	err := s.db.Transact(ctx, func(tx *sqlx.Tx) error {
		var err error
		book, err = s.transition(ctx, tx, borrowerID, bookID, func(b *library.Book, now time.Time) (*uuid.UUID, eventstore.Event, error) {
			if !b.Available() {
				return nil, eventstore.Event{}, library.ErrAlreadyBorrowed
			}
			event, err := eventstore.NewEvent(library.EventBookBorrowed, library.BookBorrowedEvent{
				BookID:     b.ID,
				BorrowerID: borrowerID,
				BorrowedAt: now,
			})
			return &borrowerID, event, err
		})
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, span, "borrow rejected", err, "borrower_id", borrowerID, "book_id", bookID)
	}

	s.borrowedCounter.Add(ctx, 1)
	s.logger.InfoContext(ctx, "book borrowed", "borrower_id", borrowerID, "book_id", bookID)
	return book, nil
}

// ReturnBook takes a book back from the borrower currently holding it.
func (s *service) ReturnBook(ctx context.Context, borrowerID, bookID uuid.UUID) (*library.Book, error) {
	ctx, span := s.tracer.Start(ctx, "membership.return_book", trace.WithAttributes(
		attribute.String("borrower.id", borrowerID.String()),
		attribute.String("book.id", bookID.String()),
	))
	defer span.End()

	var book *library.Book
	err := s.db.Transact(ctx, func(tx *sqlx.Tx) error {
		var err error
		book, err = s.transition(ctx, tx, borrowerID, bookID, func(b *library.Book, now time.Time) (*uuid.UUID, eventstore.Event, error) {
			if !b.HeldBy(borrowerID) {
				return nil, eventstore.Event{}, library.ErrNotBorrowed
			}
			event, err := eventstore.NewEvent(library.EventBookReturned, library.BookReturnedEvent{
				BookID:     b.ID,
				BorrowerID: borrowerID,
				ReturnedAt: now,
			})
			return nil, event, err
		})
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, span, "return rejected", err, "borrower_id", borrowerID, "book_id", bookID)
	}

	s.returnedCounter.Add(ctx, 1)
	s.logger.InfoContext(ctx, "book returned", "borrower_id", borrowerID, "book_id", bookID)
	return book, nil
}

// decideFunc inspects the current book and returns its next borrower along
// with the event recording the change at now, or an error refusing it.
type decideFunc func(book *library.Book, now time.Time) (*uuid.UUID, eventstore.Event, error)

// transition loads borrower then book, applies decide, and persists the new
// borrower reference together with its event at the book's current version.
// A borrower-kind caller may only act on their own account.
func (s *service) transition(ctx context.Context, tx *sqlx.Tx, borrowerID, bookID uuid.UUID, decide decideFunc) (*library.Book, error) {
	borrower, err := s.borrowers.WithTx(tx).Get(ctx, borrowerID)
	if err != nil {
		return nil, err
	}
	if p, ok := auth.FromContext(ctx); ok && !p.ActsFor(borrower.Email) {
		return nil, fmt.Errorf("%w: %s may not act for borrower %s", library.ErrForbidden, p.Name, borrowerID)
	}

	books := s.books.WithTx(tx)
	book, err := books.Get(ctx, bookID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	next, event, err := decide(book, now)
	if err != nil {
		return nil, err
	}
	event.Metadata = auth.EventMetadata(ctx)

	if err := books.SetBorrower(ctx, book.ID, next, book.Version, now); err != nil {
		return nil, err
	}
	if err := s.eventStore.WithTx(tx).AppendEvents(ctx, book.ID, library.AggregateBook, book.Version, []eventstore.Event{event}); err != nil {
		return nil, fmt.Errorf("record %s: %w", event.EventType, err)
	}

	book.BorrowerID = next
	book.Version++
	book.UpdatedAt = now
	return book, nil
}

// GetAllBorrowers returns every registered borrower.
func (s *service) GetAllBorrowers(ctx context.Context) ([]*library.Borrower, error) {
	ctx, span := s.tracer.Start(ctx, "membership.get_all_borrowers")
	defer span.End()

	borrowers, err := s.borrowers.List(ctx)
	if err != nil {
		return nil, s.fail(ctx, span, "listing borrowers failed", err)
	}
	return borrowers, nil
}

// GetBorrowerByID retrieves a borrower by their ID.
func (s *service) GetBorrowerByID(ctx context.Context, id uuid.UUID) (*library.Borrower, error) {
	ctx, span := s.tracer.Start(ctx, "membership.get_borrower",
		trace.WithAttributes(attribute.String("borrower.id", id.String())),
	)
	defer span.End()

	borrower, err := s.borrowers.Get(ctx, id)
	if err != nil {
		return nil, s.fail(ctx, span, "borrower lookup failed", err, "borrower_id", id)
	}
	return borrower, nil
}

// GetBorrowedBooks lists the books the borrower currently holds.
func (s *service) GetBorrowedBooks(ctx context.Context, borrowerID uuid.UUID) ([]*library.Book, error) {
	ctx, span := s.tracer.Start(ctx, "membership.get_borrowed_books",
		trace.WithAttributes(attribute.String("borrower.id", borrowerID.String())),
	)
	defer span.End()

	if _, err := s.borrowers.Get(ctx, borrowerID); err != nil {
		return nil, s.fail(ctx, span, "borrower lookup failed", err, "borrower_id", borrowerID)
	}

	books, err := s.books.FindByBorrower(ctx, borrowerID)
	if err != nil {
		return nil, s.fail(ctx, span, "listing borrowed books failed", err, "borrower_id", borrowerID)
	}
	return books, nil
}

func (s *service) fail(ctx context.Context, span trace.Span, msg string, err error, attrs ...any) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.WarnContext(ctx, msg, append(attrs, "error", err)...)
	return err
}
