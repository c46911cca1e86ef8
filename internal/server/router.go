// Package server assembles the HTTP surface of the library: routes, the
// middleware stack and the health check.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"librarium/internal/auth"
	"librarium/internal/catalog"
	"librarium/internal/httpx"
	"librarium/internal/membership"
	"librarium/pkg/eventstore"
)

// Pinger is satisfied by *store.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the collaborators the router dispatches to.
type Deps struct {
	Catalog    catalog.Service
	Membership membership.Service
	Events     *eventstore.EventStore
	Auth       *auth.Authenticator
	DB         Pinger
	Logger     *slog.Logger
}

// NewRouter returns the HTTP handler for the whole API.
func NewRouter(d Deps) http.Handler {
	books := catalog.NewHandler(d.Catalog, d.Logger)
	borrowers := membership.NewHandler(d.Membership, d.Logger)

	librarian := d.Auth.Require(auth.KindLibrarian)
	anyone := d.Auth.Require()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpx.AccessLog(d.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthz(d.DB, d.Logger))
	r.With(librarian).Get("/events", eventFeed(d.Events, d.Logger))

	r.Route("/books", func(r chi.Router) {
		r.With(librarian).Post("/", books.HandleRegisterBook)
		r.Get("/", books.HandleListBooks)
		r.Get("/{id}", books.HandleGetBook)
		r.Get("/{id}/history", books.HandleBookHistory)
	})

	r.Route("/borrowers", func(r chi.Router) {
		r.With(librarian).Post("/", borrowers.HandleRegisterBorrower)
		r.Get("/", borrowers.HandleListBorrowers)
		r.Get("/{id}", borrowers.HandleGetBorrower)
		r.Get("/{id}/books", borrowers.HandleBorrowedBooks)
		r.With(anyone).Post("/{borrowerID}/borrow/{bookID}", borrowers.HandleBorrow)
		r.With(anyone).Post("/{borrowerID}/return/{bookID}", borrowers.HandleReturn)
	})

	return r
}

func healthz(db Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			logger.ErrorContext(ctx, "health check failed", "error", err)
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
