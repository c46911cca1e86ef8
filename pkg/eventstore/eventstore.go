package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"librarium/pkg/sqldb"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
)

const eventsTable = "events"

var eventColumns = []interface{}{
	"id", "aggregate_id", "aggregate_type", "event_type", "event_data", "metadata", "version", "created_at",
}

// Event represents a domain event with full metadata
type Event struct {
	ID            int64                  `json:"id"`
	AggregateID   uuid.UUID              `json:"aggregate_id"`
	AggregateType string                 `json:"aggregate_type"`
	EventType     string                 `json:"event_type"`
	EventData     json.RawMessage        `json:"event_data"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Version       int                    `json:"version"`
	CreatedAt     time.Time              `json:"created_at"`
}

// NewEvent marshals data into an event of the given type. Versions are
// assigned by AppendEvents.
func NewEvent(eventType string, data interface{}) (Event, error) {
	raw, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s event data: %w", eventType, err)
	}
	return Event{EventType: eventType, EventData: raw}, nil
}

type eventRow struct {
	ID            int64     `db:"id"`
	AggregateID   uuid.UUID `db:"aggregate_id"`
	AggregateType string    `db:"aggregate_type"`
	EventType     string    `db:"event_type"`
	EventData     []byte    `db:"event_data"`
	Metadata      []byte    `db:"metadata"`
	Version       int       `db:"version"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r eventRow) toEvent() Event {
	event := Event{
		ID:            r.ID,
		AggregateID:   r.AggregateID,
		AggregateType: r.AggregateType,
		EventType:     r.EventType,
		EventData:     json.RawMessage(r.EventData),
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
	}
	if len(r.Metadata) > 0 {
		_ = jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(r.Metadata, &event.Metadata)
	}
	return event
}

// EventStore is an append-only log of domain events per aggregate with
// optimistic concurrency control.
type EventStore struct {
	db      *sqlx.DB
	tx      *sqlx.Tx
	dialect goqu.DialectWrapper
	tracer  trace.Tracer
}

// NewEventStore creates a new event store on top of db.
func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{
		db:      db,
		dialect: sqldb.Dialect(db.DriverName()),
		tracer:  otel.Tracer("librarium/eventstore"),
	}
}

// WithTx returns a copy of the store whose reads and writes run inside tx.
// AppendEvents then joins tx instead of opening its own transaction.
func (es *EventStore) WithTx(tx *sqlx.Tx) *EventStore {
	cp := *es
	cp.tx = tx
	return &cp
}

func (es *EventStore) ext() sqlx.ExtContext {
	if es.tx != nil {
		return es.tx
	}
	return es.db
}

// AppendEvents atomically appends events with optimistic concurrency control
func (es *EventStore) AppendEvents(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if expectedVersion < 0 {
		return ErrInvalidVersion
	}

	if es.tx != nil {
		return es.append(ctx, span, es.tx, aggregateID, aggregateType, expectedVersion, events)
	}

	tx, err := es.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := es.append(ctx, span, tx, aggregateID, aggregateType, expectedVersion, events); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (es *EventStore) append(ctx context.Context, span trace.Span, tx *sqlx.Tx, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error {
	currentVersion, err := es.currentVersion(ctx, tx, aggregateID)
	if err != nil {
		return err
	}

	// Optimistic concurrency check
	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	for i, event := range events {
		version := expectedVersion + i + 1

		var metadata interface{}
		if len(event.Metadata) > 0 {
			metadataJSON, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(event.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata for event %d: %w", i, err)
			}
			metadata = string(metadataJSON)
		}

		query, args, err := es.dialect.Insert(eventsTable).Prepared(true).Rows(goqu.Record{
			"aggregate_id":   aggregateID.String(),
			"aggregate_type": aggregateType,
			"event_type":     event.EventType,
			"event_data":     string(event.EventData),
			"metadata":       metadata,
			"version":        version,
			"created_at":     time.Now().UTC(),
		}).ToSQL()
		if err != nil {
			return fmt.Errorf("build insert for event %d: %w", i, err)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			// A unique (aggregate_id, version) violation means we lost a race.
			if sqldb.IsUniqueViolation(err) {
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int("event.version", version),
			attribute.String("event.type", event.EventType),
		))
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

func (es *EventStore) currentVersion(ctx context.Context, q sqlx.QueryerContext, aggregateID uuid.UUID) (int, error) {
	query, args, err := es.dialect.From(eventsTable).Prepared(true).
		Select(goqu.COALESCE(goqu.MAX("version"), 0)).
		Where(goqu.C("aggregate_id").Eq(aggregateID.String())).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build version query: %w", err)
	}

	var version int
	if err := sqlx.GetContext(ctx, q, &version, query, args...); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("query current version: %w", err)
	}
	return version, nil
}

// LoadEvents retrieves all events for an aggregate with optional version range
func (es *EventStore) LoadEvents(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.Int("from.version", fromVersion),
			attribute.Int("to.version", toVersion),
		),
	)
	defer span.End()

	ds := es.dialect.From(eventsTable).Prepared(true).
		Select(eventColumns...).
		Where(
			goqu.C("aggregate_id").Eq(aggregateID.String()),
			goqu.C("version").Gte(fromVersion),
		)
	if toVersion > 0 {
		ds = ds.Where(goqu.C("version").Lte(toVersion))
	}

	events, err := es.query(ctx, ds.Order(goqu.C("version").Asc()))
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// StreamEvents provides a cursor-based event stream for projections
func (es *EventStore) StreamEvents(ctx context.Context, fromID int64, batchSize int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.stream",
		trace.WithAttributes(
			attribute.Int64("from.id", fromID),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	ds := es.dialect.From(eventsTable).Prepared(true).
		Select(eventColumns...).
		Where(goqu.C("id").Gt(fromID)).
		Order(goqu.C("id").Asc()).
		Limit(uint(batchSize))

	events, err := es.query(ctx, ds)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("events.streamed", len(events)))
	return events, nil
}

func (es *EventStore) query(ctx context.Context, ds *goqu.SelectDataset) ([]Event, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build events query: %w", err)
	}

	var rows []eventRow
	if err := sqlx.SelectContext(ctx, es.ext(), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toEvent())
	}
	return events, nil
}
