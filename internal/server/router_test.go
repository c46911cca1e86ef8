package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarium/internal/auth"
	"librarium/internal/catalog"
	"librarium/internal/clients"
	"librarium/internal/httpx"
	"librarium/internal/library"
	"librarium/internal/membership"
	"librarium/internal/store"
	"librarium/internal/testutil"
	"librarium/pkg/eventstore"
	"librarium/pkg/sqldb"
)

type testServer struct {
	*httptest.Server
	catalog    *clients.CatalogClient
	membership *clients.MembershipClient
}

func newTestServer(t *testing.T, secret string, token string) *testServer {
	t.Helper()
	return newTestServerOn(t, testutil.OpenInMemoryDB(t), secret, token)
}

func newTestServerOn(t *testing.T, db *store.DB, secret string, token string) *testServer {
	t.Helper()
	es := eventstore.NewEventStore(db.DB)
	logger := testutil.Logger()

	srv := httptest.NewServer(NewRouter(Deps{
		Catalog:    catalog.NewService(db, es, logger),
		Membership: membership.NewService(db, es, logger),
		Events:     es,
		Auth:       auth.NewAuthenticator(secret, logger),
		DB:         db,
		Logger:     logger,
	}))
	t.Cleanup(srv.Close)

	opts := []clients.Option{clients.WithHTTPClient(srv.Client())}
	if token != "" {
		opts = append(opts, clients.WithToken(token))
	}
	return &testServer{
		Server:     srv,
		catalog:    clients.NewCatalogClient(srv.URL, opts...),
		membership: clients.NewMembershipClient(srv.URL, opts...),
	}
}

func TestBorrowReturnFlow(t *testing.T) {
	ts := newTestServer(t, "", "")
	ctx := context.Background()

	borrower, err := ts.membership.RegisterBorrower(ctx, membership.RegisterBorrowerRequest{
		Email: "test@example.com",
		Name:  "Test User",
	})
	require.NoError(t, err)

	book, err := ts.catalog.RegisterBook(ctx, catalog.RegisterBookRequest{
		ISBN:   "9780141439518",
		Title:  "Pride and Prejudice",
		Author: "Jane Austen",
	})
	require.NoError(t, err)
	assert.Nil(t, book.BorrowerID)

	borrowed, err := ts.membership.BorrowBook(ctx, borrower.ID, book.ID)
	require.NoError(t, err)
	require.NotNil(t, borrowed.BorrowerID)
	assert.Equal(t, borrower.ID, *borrowed.BorrowerID)

	_, err = ts.membership.BorrowBook(ctx, borrower.ID, book.ID)
	assert.ErrorIs(t, err, library.ErrAlreadyBorrowed)

	held, err := ts.membership.GetBorrowedBooks(ctx, borrower.ID)
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, book.ID, held[0].ID)

	returned, err := ts.membership.ReturnBook(ctx, borrower.ID, book.ID)
	require.NoError(t, err)
	assert.Nil(t, returned.BorrowerID)

	_, err = ts.membership.ReturnBook(ctx, borrower.ID, book.ID)
	assert.ErrorIs(t, err, library.ErrNotBorrowed)

	got, err := ts.catalog.GetBookByID(ctx, book.ID)
	require.NoError(t, err)
	assert.True(t, got.Available())

	history, err := ts.catalog.GetBookHistory(ctx, book.ID)
	require.NoError(t, err)
	var types []string
	for _, e := range history {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{library.EventBookRegistered, library.EventBookBorrowed, library.EventBookReturned}, types)
}

func TestClientErrors(t *testing.T) {
	ts := newTestServer(t, "", "")
	ctx := context.Background()

	_, err := ts.membership.RegisterBorrower(ctx, membership.RegisterBorrowerRequest{Email: "dup@example.com", Name: "One"})
	require.NoError(t, err)
	_, err = ts.membership.RegisterBorrower(ctx, membership.RegisterBorrowerRequest{Email: "dup@example.com", Name: "Two"})
	assert.ErrorIs(t, err, library.ErrDuplicateEmail)

	_, err = ts.catalog.RegisterBook(ctx, catalog.RegisterBookRequest{ISBN: "1", Title: "A", Author: "B"})
	require.NoError(t, err)
	_, err = ts.catalog.RegisterBook(ctx, catalog.RegisterBookRequest{ISBN: "1", Title: "Other", Author: "B"})
	assert.ErrorIs(t, err, library.ErrISBNConflict)

	_, err = ts.catalog.GetBookByID(ctx, uuid.New())
	require.ErrorIs(t, err, library.ErrNotFound)
	assert.Contains(t, err.Error(), "book with ID")

	_, err = ts.membership.GetBorrowerByID(ctx, uuid.New())
	assert.ErrorIs(t, err, library.ErrNotFound)

	_, err = ts.catalog.RegisterBook(ctx, catalog.RegisterBookRequest{ISBN: "2"})
	assert.ErrorIs(t, err, library.ErrInvalidInput)
}

func TestListEndpoints(t *testing.T) {
	ts := newTestServer(t, "", "")
	ctx := context.Background()

	books, err := ts.catalog.GetAllBooks(ctx)
	require.NoError(t, err)
	assert.Empty(t, books)

	borrowers, err := ts.membership.GetAllBorrowers(ctx)
	require.NoError(t, err)
	assert.Empty(t, borrowers)

	for i := 0; i < 3; i++ {
		_, err := ts.membership.RegisterBorrower(ctx, membership.RegisterBorrowerRequest{
			Email: fmt.Sprintf("member%d@example.com", i),
			Name:  fmt.Sprintf("Member %d", i),
		})
		require.NoError(t, err)
	}
	borrowers, err = ts.membership.GetAllBorrowers(ctx)
	require.NoError(t, err)
	assert.Len(t, borrowers, 3)
}

func TestStatusCodes(t *testing.T) {
	ts := newTestServer(t, "", "")

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"bad book id", http.MethodGet, "/books/not-a-uuid", "", http.StatusBadRequest, httpx.CodeInvalidInput},
		{"unknown book", http.MethodGet, "/books/" + uuid.NewString(), "", http.StatusNotFound, httpx.CodeNotFound},
		{"malformed body", http.MethodPost, "/books", "{", http.StatusBadRequest, httpx.CodeInvalidInput},
		{"bad email", http.MethodPost, "/borrowers", `{"email":"nope","name":"x"}`, http.StatusBadRequest, httpx.CodeInvalidInput},
		{"bad borrower id", http.MethodPost, "/borrowers/x/borrow/" + uuid.NewString(), "", http.StatusBadRequest, httpx.CodeInvalidInput},
		{"unknown borrower", http.MethodPost, "/borrowers/" + uuid.NewString() + "/return/" + uuid.NewString(), "", http.StatusNotFound, httpx.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, ts.URL+tc.path, strings.NewReader(tc.body))
			require.NoError(t, err)
			resp, err := ts.Client().Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.status, resp.StatusCode)
			var body httpx.ErrorResponse
			require.NoError(t, httpx.JSON.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tc.code, body.Code)
		})
	}
}

func TestCreatedStatus(t *testing.T) {
	ts := newTestServer(t, "", "")

	resp, err := ts.Client().Post(ts.URL+"/books", "application/json",
		strings.NewReader(`{"isbn":"1234567890","title":"Test Book","author":"Test Author"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, "", "")

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	const secret = "router-secret"
	ctx := context.Background()

	anon := newTestServer(t, secret, "")
	_, err := anon.catalog.RegisterBook(ctx, catalog.RegisterBookRequest{ISBN: "1", Title: "A", Author: "B"})
	assert.ErrorIs(t, err, library.ErrUnauthorized)

	books, err := anon.catalog.GetAllBooks(ctx)
	require.NoError(t, err, "reads stay public")
	assert.Empty(t, books)

	borrowerToken := testutil.GenerateJWTHS256(t, secret, "reader@example.com", auth.KindBorrower)
	reader := clients.NewMembershipClient(anon.URL, clients.WithToken(borrowerToken))
	_, err = reader.RegisterBorrower(ctx, membership.RegisterBorrowerRequest{Email: "reader@example.com", Name: "Reader"})
	assert.ErrorIs(t, err, library.ErrForbidden)

	librarianToken := testutil.GenerateJWTHS256(t, secret, "alice", auth.KindLibrarian)
	staff := newTestServer(t, secret, librarianToken)
	borrower, err := staff.membership.RegisterBorrower(ctx, membership.RegisterBorrowerRequest{Email: "reader@example.com", Name: "Reader"})
	require.NoError(t, err)
	book, err := staff.catalog.RegisterBook(ctx, catalog.RegisterBookRequest{ISBN: "1", Title: "A", Author: "B"})
	require.NoError(t, err)

	reader = clients.NewMembershipClient(staff.URL, clients.WithToken(borrowerToken))
	_, err = reader.BorrowBook(ctx, borrower.ID, book.ID)
	assert.NoError(t, err)
}

func TestConcurrentBorrowPreventsDoubleLending(t *testing.T) {
	ts := newTestServer(t, "", "")
	ctx := context.Background()

	book, err := ts.catalog.RegisterBook(ctx, catalog.RegisterBookRequest{
		ISBN:   "9780743273565",
		Title:  "The Great Gatsby",
		Author: "F. Scott Fitzgerald",
	})
	require.NoError(t, err)

	var borrowers []*library.Borrower
	for i := 0; i < 10; i++ {
		b, err := ts.membership.RegisterBorrower(ctx, membership.RegisterBorrowerRequest{
			Email: fmt.Sprintf("member%d@test.com", i),
			Name:  fmt.Sprintf("Member %d", i),
		})
		require.NoError(t, err)
		borrowers = append(borrowers, b)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		refusals  int
	)
	for _, b := range borrowers {
		wg.Add(1)
		go func(b *library.Borrower) {
			defer wg.Done()
			_, err := ts.membership.BorrowBook(ctx, b.ID, book.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, library.ErrAlreadyBorrowed), errors.Is(err, library.ErrConcurrentModification):
				refusals++
			}
		}(b)
	}
	wg.Wait()

	assert.Equal(t, 1, successes, "only one concurrent borrow should succeed")
	assert.Equal(t, len(borrowers)-1, refusals)

	got, err := ts.catalog.GetBookByID(ctx, book.ID)
	require.NoError(t, err)
	assert.False(t, got.Available())
}

func TestBorrowerTokenActsOnlyForItsOwner(t *testing.T) {
	const secret = "router-secret"
	ctx := context.Background()

	staff := newTestServer(t, secret, testutil.GenerateJWTHS256(t, secret, "staff", auth.KindLibrarian))
	alice, err := staff.membership.RegisterBorrower(ctx, membership.RegisterBorrowerRequest{Email: "alice@x.com", Name: "Alice"})
	require.NoError(t, err)
	bob, err := staff.membership.RegisterBorrower(ctx, membership.RegisterBorrowerRequest{Email: "bob@x.com", Name: "Bob"})
	require.NoError(t, err)
	book, err := staff.catalog.RegisterBook(ctx, catalog.RegisterBookRequest{ISBN: "1", Title: "A", Author: "B"})
	require.NoError(t, err)

	asAlice := clients.NewMembershipClient(staff.URL, clients.WithToken(testutil.GenerateJWTHS256(t, secret, "alice@x.com", auth.KindBorrower)))

	_, err = asAlice.BorrowBook(ctx, bob.ID, book.ID)
	assert.ErrorIs(t, err, library.ErrForbidden)

	got, err := staff.catalog.GetBookByID(ctx, book.ID)
	require.NoError(t, err)
	assert.True(t, got.Available())

	_, err = asAlice.BorrowBook(ctx, alice.ID, book.ID)
	require.NoError(t, err)

	history, err := staff.catalog.GetBookHistory(ctx, book.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, map[string]interface{}{"actor": "staff", "actor_kind": auth.KindLibrarian}, history[0].Metadata)
	assert.Equal(t, map[string]interface{}{"actor": "alice@x.com", "actor_kind": auth.KindBorrower}, history[1].Metadata)
}

func TestEventFeed(t *testing.T) {
	const secret = "router-secret"
	ctx := context.Background()
	token := testutil.GenerateJWTHS256(t, secret, "staff", auth.KindLibrarian)
	ts := newTestServer(t, secret, token)

	borrower, err := ts.membership.RegisterBorrower(ctx, membership.RegisterBorrowerRequest{Email: "reader@example.com", Name: "Reader"})
	require.NoError(t, err)
	book, err := ts.catalog.RegisterBook(ctx, catalog.RegisterBookRequest{ISBN: "1", Title: "A", Author: "B"})
	require.NoError(t, err)
	_, err = ts.membership.BorrowBook(ctx, borrower.ID, book.ID)
	require.NoError(t, err)

	feed := func(t *testing.T, query, bearer string) (int, []eventstore.Event) {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/events"+query, nil)
		require.NoError(t, err)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, nil
		}
		var events []eventstore.Event
		require.NoError(t, httpx.JSON.NewDecoder(resp.Body).Decode(&events))
		return resp.StatusCode, events
	}

	status, all := feed(t, "", token)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, all, 3)
	assert.Equal(t, library.EventBorrowerRegistered, all[0].EventType)
	assert.Equal(t, library.EventBookRegistered, all[1].EventType)
	assert.Equal(t, library.EventBookBorrowed, all[2].EventType)
	assert.Equal(t, "staff", all[2].Metadata["actor"])

	_, page := feed(t, fmt.Sprintf("?after=%d&limit=1", all[0].ID), token)
	require.Len(t, page, 1)
	assert.Equal(t, all[1].ID, page[0].ID)

	_, rest := feed(t, fmt.Sprintf("?after=%d", all[2].ID), token)
	assert.Empty(t, rest)

	for _, query := range []string{"?after=x", "?after=-1", "?limit=0", "?limit=1001"} {
		status, _ := feed(t, query, token)
		assert.Equal(t, http.StatusBadRequest, status, query)
	}

	status, _ = feed(t, "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = feed(t, "", testutil.GenerateJWTHS256(t, secret, "reader@example.com", auth.KindBorrower))
	assert.Equal(t, http.StatusForbidden, status)
}

func TestBorrowReturnFlowOnPostgres(t *testing.T) {
	for _, driver := range []string{sqldb.DriverPostgres, sqldb.DriverPgx} {
		t.Run(driver, func(t *testing.T) {
			ts := newTestServerOn(t, testutil.OpenPostgresDB(t, driver), "", "")
			ctx := context.Background()

			borrower, err := ts.membership.RegisterBorrower(ctx, membership.RegisterBorrowerRequest{Email: "pg@example.com", Name: "Pg Reader"})
			require.NoError(t, err)
			book, err := ts.catalog.RegisterBook(ctx, catalog.RegisterBookRequest{ISBN: "9780441172719", Title: "Dune", Author: "Frank Herbert"})
			require.NoError(t, err)

			borrowed, err := ts.membership.BorrowBook(ctx, borrower.ID, book.ID)
			require.NoError(t, err)
			assert.True(t, borrowed.HeldBy(borrower.ID))

			_, err = ts.membership.BorrowBook(ctx, borrower.ID, book.ID)
			assert.ErrorIs(t, err, library.ErrAlreadyBorrowed)

			returned, err := ts.membership.ReturnBook(ctx, borrower.ID, book.ID)
			require.NoError(t, err)
			assert.True(t, returned.Available())
			assert.Equal(t, 3, returned.Version)

			_, err = ts.membership.RegisterBorrower(ctx, membership.RegisterBorrowerRequest{Email: "PG@example.com", Name: "Dup"})
			assert.ErrorIs(t, err, library.ErrDuplicateEmail)

			history, err := ts.catalog.GetBookHistory(ctx, book.ID)
			require.NoError(t, err)
			require.Len(t, history, 3)
			assert.Equal(t, library.EventBookReturned, history[2].EventType)
		})
	}
}
