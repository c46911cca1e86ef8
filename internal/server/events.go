package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"librarium/internal/httpx"
	"librarium/internal/library"
	"librarium/pkg/eventstore"
)

const (
	defaultFeedLimit = 100
	maxFeedLimit     = 1000
)

// eventFeed serves GET /events?after=&limit=, the global event log in
// append order. Clients page by passing the last seen id as after.
func eventFeed(es *eventstore.EventStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		after, limit, err := feedWindow(r)
		if err != nil {
			httpx.WriteError(w, r, logger, err)
			return
		}

		events, err := es.StreamEvents(r.Context(), after, limit)
		if err != nil {
			httpx.WriteError(w, r, logger, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, events)
	}
}

func feedWindow(r *http.Request) (int64, int, error) {
	q := r.URL.Query()

	var after int64
	if raw := q.Get("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return 0, 0, fmt.Errorf("%w: after %q is not a valid event id", library.ErrInvalidInput, raw)
		}
		after = v
	}

	limit := defaultFeedLimit
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxFeedLimit {
			return 0, 0, fmt.Errorf("%w: limit must be between 1 and %d", library.ErrInvalidInput, maxFeedLimit)
		}
		limit = v
	}
	return after, limit, nil
}
