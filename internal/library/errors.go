package library

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateEmail  = errors.New("a borrower with this email already exists")
	ErrISBNConflict    = errors.New("a book with this ISBN already exists with a different title or author")
	ErrAlreadyBorrowed = errors.New("book is already borrowed")
	ErrNotBorrowed     = errors.New("book was not borrowed by this borrower")
	ErrInvalidInput    = errors.New("invalid input")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrUnauthorized    = errors.New("missing or invalid credentials")
	ErrForbidden       = errors.New("operation not permitted for this caller")

	// ErrConcurrentModification means the record changed between read and
	// write; the caller may retry.
	ErrConcurrentModification = errors.New("record was modified concurrently")
)
