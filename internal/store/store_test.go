package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarium/internal/library"
	"librarium/internal/store"
	"librarium/internal/testutil"
)

func newBorrower(email string) *library.Borrower {
	return &library.Borrower{ID: uuid.New(), Email: email, Name: "Reader", CreatedAt: time.Now().UTC()}
}

func newBook(isbn string) *library.Book {
	now := time.Now().UTC()
	return &library.Book{
		ID:        uuid.New(),
		ISBN:      isbn,
		Title:     "Dune",
		Author:    "Frank Herbert",
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestBorrowerRepository(t *testing.T) {
	db := testutil.OpenInMemoryDB(t)
	repo := store.NewBorrowerRepository(db)
	ctx := context.Background()

	b := newBorrower("reader@example.com")
	require.NoError(t, repo.Create(ctx, b))

	got, err := repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, b.Email, got.Email)
	assert.WithinDuration(t, b.CreatedAt, got.CreatedAt, time.Second)

	exists, err := repo.ExistsByEmail(ctx, "reader@example.com")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = repo.ExistsByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, exists)

	err = repo.Create(ctx, newBorrower("reader@example.com"))
	assert.ErrorIs(t, err, library.ErrDuplicateEmail)

	_, err = repo.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, library.ErrNotFound)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestBorrowerRepositoryListEmpty(t *testing.T) {
	db := testutil.OpenInMemoryDB(t)

	all, err := store.NewBorrowerRepository(db).List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestBookRepository(t *testing.T) {
	db := testutil.OpenInMemoryDB(t)
	books := store.NewBookRepository(db)
	borrowers := store.NewBorrowerRepository(db)
	ctx := context.Background()

	reader := newBorrower("reader@example.com")
	require.NoError(t, borrowers.Create(ctx, reader))

	first := newBook("9780441172719")
	second := newBook("9780441172719")
	other := newBook("9780141439518")
	for _, b := range []*library.Book{first, second, other} {
		require.NoError(t, books.Create(ctx, b))
	}

	sameISBN, err := books.FindByISBN(ctx, "9780441172719")
	require.NoError(t, err)
	assert.Len(t, sameISBN, 2)

	all, err := books.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, books.SetBorrower(ctx, first.ID, &reader.ID, 1, time.Now().UTC()))
	got, err := books.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.HeldBy(reader.ID))
	assert.Equal(t, 2, got.Version)

	held, err := books.FindByBorrower(ctx, reader.ID)
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, first.ID, held[0].ID)

	err = books.SetBorrower(ctx, first.ID, nil, 1, time.Now().UTC())
	assert.ErrorIs(t, err, library.ErrConcurrentModification)

	require.NoError(t, books.SetBorrower(ctx, first.ID, nil, 2, time.Now().UTC()))
	got, err = books.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.Available())

	_, err = books.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, library.ErrNotFound)
}

func TestBookRequiresExistingBorrower(t *testing.T) {
	db := testutil.OpenInMemoryDB(t)
	book := newBook("9780441172719")
	missing := uuid.New()
	book.BorrowerID = &missing

	assert.Error(t, store.NewBookRepository(db).Create(context.Background(), book))
}

func TestTransactRollsBack(t *testing.T) {
	db := testutil.OpenInMemoryDB(t)
	repo := store.NewBorrowerRepository(db)
	ctx := context.Background()

	err := db.Transact(ctx, func(tx *sqlx.Tx) error {
		if err := repo.WithTx(tx).Create(ctx, newBorrower("ghost@example.com")); err != nil {
			return err
		}
		return library.ErrInvalidInput
	})
	assert.ErrorIs(t, err, library.ErrInvalidInput)

	exists, err := repo.ExistsByEmail(ctx, "ghost@example.com")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRollbackLastMigration(t *testing.T) {
	db := testutil.OpenInMemoryDB(t)
	ctx := context.Background()

	require.NoError(t, db.RollbackLast(ctx))
	_, err := store.NewBorrowerRepository(db).List(ctx)
	assert.Error(t, err, "borrowers table should be gone")

	// nothing left to roll back
	assert.NoError(t, db.RollbackLast(ctx))
}
