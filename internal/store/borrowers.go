package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"librarium/internal/library"
	"librarium/pkg/sqldb"
)

const borrowersTable = "borrowers"

var borrowerColumns = []interface{}{"id", "email", "name", "created_at"}

// BorrowerRepository reads and writes the borrowers table.
type BorrowerRepository struct {
	ext     sqlx.ExtContext
	dialect goqu.DialectWrapper
}

func NewBorrowerRepository(db *DB) *BorrowerRepository {
	return &BorrowerRepository{ext: db.DB, dialect: db.dialect}
}

// WithTx returns a repository bound to tx.
func (r *BorrowerRepository) WithTx(tx *sqlx.Tx) *BorrowerRepository {
	return &BorrowerRepository{ext: tx, dialect: r.dialect}
}

// Create inserts a new borrower. A clash on the unique email index is
// reported as library.ErrDuplicateEmail.
func (r *BorrowerRepository) Create(ctx context.Context, borrower *library.Borrower) error {
	query, args, err := r.dialect.Insert(borrowersTable).Prepared(true).Rows(goqu.Record{
		"id":         borrower.ID.String(),
		"email":      borrower.Email,
		"name":       borrower.Name,
		"created_at": borrower.CreatedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build borrower insert: %w", err)
	}

	if _, err := r.ext.ExecContext(ctx, query, args...); err != nil {
		if sqldb.IsUniqueViolation(err) {
			return library.ErrDuplicateEmail
		}
		return fmt.Errorf("insert borrower: %w", err)
	}
	return nil
}

// Get returns the borrower with the given id or an error wrapping
// library.ErrNotFound.
func (r *BorrowerRepository) Get(ctx context.Context, id uuid.UUID) (*library.Borrower, error) {
	query, args, err := r.dialect.From(borrowersTable).Prepared(true).
		Select(borrowerColumns...).
		Where(goqu.C("id").Eq(id.String())).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build borrower query: %w", err)
	}

	var borrower library.Borrower
	if err := sqlx.GetContext(ctx, r.ext, &borrower, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("borrower with ID %s: %w", id, library.ErrNotFound)
		}
		return nil, fmt.Errorf("get borrower: %w", err)
	}
	return &borrower, nil
}

// ExistsByEmail reports whether a borrower already uses email.
func (r *BorrowerRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	query, args, err := r.dialect.From(borrowersTable).Prepared(true).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C("email").Eq(email)).
		ToSQL()
	if err != nil {
		return false, fmt.Errorf("build email query: %w", err)
	}

	var n int
	if err := sqlx.GetContext(ctx, r.ext, &n, query, args...); err != nil {
		return false, fmt.Errorf("count borrowers by email: %w", err)
	}
	return n > 0, nil
}

// List returns every borrower in registration order.
func (r *BorrowerRepository) List(ctx context.Context) ([]*library.Borrower, error) {
	query, args, err := r.dialect.From(borrowersTable).Prepared(true).
		Select(borrowerColumns...).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build borrowers query: %w", err)
	}

	var borrowers []*library.Borrower
	if err := sqlx.SelectContext(ctx, r.ext, &borrowers, query, args...); err != nil {
		return nil, fmt.Errorf("list borrowers: %w", err)
	}
	if borrowers == nil {
		borrowers = []*library.Borrower{}
	}
	return borrowers, nil
}
