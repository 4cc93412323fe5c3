package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

// PostgresEventStore appends to the events table. (aggregate_id, version) is
// unique, so two writers racing on one aggregate cannot interleave.
type PostgresEventStore struct {
	db        *sql.DB
	publisher Publisher
}

func NewPostgresEventStore(db *sql.DB, publisher Publisher) *PostgresEventStore {
	return &PostgresEventStore{db: db, publisher: publisher}
}

const (
	insertEvent = `INSERT INTO events (id, aggregate_id, aggregate_type, event_type, data, version, created_at)
SELECT $1, $2, $3, $4, $5::jsonb, COALESCE(MAX(version), 0) + 1, $6 FROM events WHERE aggregate_id = $2
RETURNING version`

	selectEvents = `SELECT id, aggregate_id, aggregate_type, event_type, data, version, created_at FROM events`
)

func (es *PostgresEventStore) Append(ctx context.Context, aggregateID, aggregateType, eventType string, data any) (*Event, error) {
	event, err := newEvent(aggregateID, aggregateType, eventType, data)
	if err != nil {
		return nil, err
	}

	err = es.db.QueryRowContext(ctx, insertEvent,
		event.ID, event.AggregateID, event.AggregateType, event.EventType, string(event.Data), event.Timestamp,
	).Scan(&event.Version)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return nil, ErrConcurrentAppend
		}
		return nil, fmt.Errorf("append %s to %s: %w", eventType, aggregateID, err)
	}

	if err := publish(ctx, es.publisher, event); err != nil {
		return nil, err
	}
	return &event, nil
}

func (es *PostgresEventStore) GetEvents(ctx context.Context, aggregateID string) ([]Event, error) {
	return es.query(ctx, selectEvents+` WHERE aggregate_id = $1 ORDER BY version`, aggregateID)
}

// GetAllEvents orders by commit time; ties keep each aggregate's versions in
// order.
func (es *PostgresEventStore) GetAllEvents(ctx context.Context) ([]Event, error) {
	return es.query(ctx, selectEvents+` ORDER BY created_at, aggregate_id, version`)
}

func (es *PostgresEventStore) query(ctx context.Context, q string, args ...any) ([]Event, error) {
	rows, err := es.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var data []byte
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &data, &e.Version, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Data = data
		events = append(events, e)
	}
	return events, rows.Err()
}

// ConnectPostgres opens a pooled connection and checks it within five
// seconds.
func ConnectPostgres(ctx context.Context, connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
