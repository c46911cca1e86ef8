package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"librarium/internal/library"
)

const booksTable = "books"

var bookColumns = []interface{}{
	"id", "isbn", "title", "author", "borrower_id", "version", "created_at", "updated_at",
}

type bookRow struct {
	ID         uuid.UUID     `db:"id"`
	ISBN       string        `db:"isbn"`
	Title      string        `db:"title"`
	Author     string        `db:"author"`
	BorrowerID uuid.NullUUID `db:"borrower_id"`
	Version    int           `db:"version"`
	CreatedAt  time.Time     `db:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at"`
}

func (r bookRow) toBook() *library.Book {
	book := &library.Book{
		ID:        r.ID,
		ISBN:      r.ISBN,
		Title:     r.Title,
		Author:    r.Author,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.BorrowerID.Valid {
		id := r.BorrowerID.UUID
		book.BorrowerID = &id
	}
	return book
}

// nullableID renders an optional id as a driver value.
func nullableID(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return id.String()
}

// BookRepository reads and writes the books table.
type BookRepository struct {
	ext     sqlx.ExtContext
	dialect goqu.DialectWrapper
}

func NewBookRepository(db *DB) *BookRepository {
	return &BookRepository{ext: db.DB, dialect: db.dialect}
}

// WithTx returns a repository bound to tx.
func (r *BookRepository) WithTx(tx *sqlx.Tx) *BookRepository {
	return &BookRepository{ext: tx, dialect: r.dialect}
}

// Create inserts a new book.
func (r *BookRepository) Create(ctx context.Context, book *library.Book) error {
	query, args, err := r.dialect.Insert(booksTable).Prepared(true).Rows(goqu.Record{
		"id":          book.ID.String(),
		"isbn":        book.ISBN,
		"title":       book.Title,
		"author":      book.Author,
		"borrower_id": nullableID(book.BorrowerID),
		"version":     book.Version,
		"created_at":  book.CreatedAt,
		"updated_at":  book.UpdatedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build book insert: %w", err)
	}

	if _, err := r.ext.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

// Get returns the book with the given id or an error wrapping
// library.ErrNotFound.
func (r *BookRepository) Get(ctx context.Context, id uuid.UUID) (*library.Book, error) {
	query, args, err := r.dialect.From(booksTable).Prepared(true).
		Select(bookColumns...).
		Where(goqu.C("id").Eq(id.String())).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build book query: %w", err)
	}

	var row bookRow
	if err := sqlx.GetContext(ctx, r.ext, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("book with ID %s: %w", id, library.ErrNotFound)
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return row.toBook(), nil
}

// List returns every book in registration order.
func (r *BookRepository) List(ctx context.Context) ([]*library.Book, error) {
	return r.list(ctx, nil)
}

// FindByISBN returns every copy registered under isbn.
func (r *BookRepository) FindByISBN(ctx context.Context, isbn string) ([]*library.Book, error) {
	return r.list(ctx, goqu.C("isbn").Eq(isbn))
}

// FindByBorrower returns the books currently held by borrowerID.
func (r *BookRepository) FindByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]*library.Book, error) {
	return r.list(ctx, goqu.C("borrower_id").Eq(borrowerID.String()))
}

func (r *BookRepository) list(ctx context.Context, where exp.Expression) ([]*library.Book, error) {
	ds := r.dialect.From(booksTable).Prepared(true).
		Select(bookColumns...).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc())
	if where != nil {
		ds = ds.Where(where)
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build books query: %w", err)
	}

	var rows []bookRow
	if err := sqlx.SelectContext(ctx, r.ext, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}

	books := make([]*library.Book, 0, len(rows))
	for _, row := range rows {
		books = append(books, row.toBook())
	}
	return books, nil
}

// SetBorrower points the book at borrowerID (nil clears it) provided the row
// is still at expectedVersion, and bumps the version. A stale version yields
// library.ErrConcurrentModification.
func (r *BookRepository) SetBorrower(ctx context.Context, id uuid.UUID, borrowerID *uuid.UUID, expectedVersion int, at time.Time) error {
	query, args, err := r.dialect.Update(booksTable).Prepared(true).
		Set(goqu.Record{
			"borrower_id": nullableID(borrowerID),
			"version":     expectedVersion + 1,
			"updated_at":  at,
		}).
		Where(
			goqu.C("id").Eq(id.String()),
			goqu.C("version").Eq(expectedVersion),
		).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build book update: %w", err)
	}

	res, err := r.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update book borrower: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update book borrower: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("book with ID %s at version %d: %w", id, expectedVersion, library.ErrConcurrentModification)
	}
	return nil
}
