// Package library holds the domain model shared by the catalog and membership
// services: books, borrowers, the events they emit and the errors they return.
package library

import (
	"time"

	"github.com/google/uuid"
)

// Book is a single physical copy in the catalog. Several books may share an
// ISBN as long as they agree on title and author.
type Book struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	ISBN       string     `json:"isbn" db:"isbn"`
	Title      string     `json:"title" db:"title"`
	Author     string     `json:"author" db:"author"`
	BorrowerID *uuid.UUID `json:"borrower_id,omitempty" db:"-"`
	Version    int        `json:"version" db:"version"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// Available reports whether nobody currently holds the book.
func (b *Book) Available() bool {
	return b.BorrowerID == nil
}

// HeldBy reports whether the given borrower currently holds the book.
func (b *Book) HeldBy(borrowerID uuid.UUID) bool {
	return b.BorrowerID != nil && *b.BorrowerID == borrowerID
}

// Borrower represents a library patron.
type Borrower struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Aggregate types recorded in the event store.
const (
	AggregateBook     = "book"
	AggregateBorrower = "borrower"
)

// Event types recorded in the event store.
const (
	EventBookRegistered     = "BookRegistered"
	EventBookBorrowed       = "BookBorrowed"
	EventBookReturned       = "BookReturned"
	EventBorrowerRegistered = "BorrowerRegistered"
)

// BookRegisteredEvent is recorded when a new copy enters the catalog.
type BookRegisteredEvent struct {
	ID     uuid.UUID `json:"id"`
	ISBN   string    `json:"isbn"`
	Title  string    `json:"title"`
	Author string    `json:"author"`
}

// BookBorrowedEvent is recorded when a borrower takes a book.
type BookBorrowedEvent struct {
	BookID     uuid.UUID `json:"book_id"`
	BorrowerID uuid.UUID `json:"borrower_id"`
	BorrowedAt time.Time `json:"borrowed_at"`
}

// BookReturnedEvent is recorded when a borrower hands a book back.
type BookReturnedEvent struct {
	BookID     uuid.UUID `json:"book_id"`
	BorrowerID uuid.UUID `json:"borrower_id"`
	ReturnedAt time.Time `json:"returned_at"`
}

// BorrowerRegisteredEvent is recorded when a new borrower signs up.
type BorrowerRegisteredEvent struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"name"`
}
