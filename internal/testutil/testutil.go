package testutil

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	jwt "github.com/golang-jwt/jwt/v5"

	"librarium/internal/store"
	"librarium/pkg/sqldb"
)

var dbSeq atomic.Int64

// OpenInMemoryDB opens a private in-memory SQLite database with migrations
// applied. The database is closed via t.Cleanup.
func OpenInMemoryDB(t testing.TB) *store.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:librarium_test_%d?mode=memory&cache=shared&_foreign_keys=on", dbSeq.Add(1))
	d, err := store.Open(context.Background(), sqldb.DriverSQLite, dsn, store.Options{})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// OpenPostgresDB opens the database named by DATABASE_URL through the given
// postgres driver and empties every table before and after the test. The test
// is skipped when DATABASE_URL does not point at postgres.
func OpenPostgresDB(t testing.TB, driver string) *store.DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if !strings.HasPrefix(dsn, "postgres") {
		t.Skip("DATABASE_URL is not a postgres URL")
	}

	ctx := context.Background()
	d, err := store.Open(ctx, driver, dsn, store.Options{MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	truncate := func() {
		if _, err := d.ExecContext(ctx, "TRUNCATE events, books, borrowers RESTART IDENTITY CASCADE"); err != nil {
			t.Fatalf("truncate: %v", err)
		}
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		_ = d.Close()
	})
	return d
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// GenerateJWTHS256 returns a signed JWT string with the claims the API expects.
func GenerateJWTHS256(t testing.TB, secret, name, kind string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"name": name,
		"kind": kind,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

// AssertExportedDocumented fails the test for every exported top-level type or
// function in the named Go source file that lacks a doc comment.
func AssertExportedDocumented(t testing.TB, filename string) {
	t.Helper()
	f, err := parser.ParseFile(token.NewFileSet(), filename, nil, parser.ParseComments)
	if err != nil {
		t.Fatalf("parse %s: %v", filename, err)
	}
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Name.IsExported() && d.Doc == nil {
				t.Errorf("%s: func %s has no doc comment", filename, d.Name.Name)
			}
		case *ast.GenDecl:
			for _, s := range d.Specs {
				ts, ok := s.(*ast.TypeSpec)
				if ok && ts.Name.IsExported() && d.Doc == nil && ts.Doc == nil {
					t.Errorf("%s: type %s has no doc comment", filename, ts.Name.Name)
				}
			}
		}
	}
}
