package submission

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/agedcare/go-nqip/internal/infrastructure/postgres"
	"github.com/agedcare/go-nqip/internal/infrastructure/redpanda"
)

// EventStore persists submission domain events and, in the same
// transaction, writes outbox entries so the audit trail reaches Kafka
// exactly when the events are durable.
type EventStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewEventStore creates a new event store
func NewEventStore(pool *pgxpool.Pool, logger *zap.Logger) *EventStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventStore{pool: pool, logger: logger}
}

// Append persists a submission's uncommitted events atomically with
// their outbox entries, then clears them from the aggregate.
func (s *EventStore) Append(ctx context.Context, sub *Submission) error {
	if len(sub.Changes()) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, event := range sub.Changes() {
		if err := s.insertEvent(ctx, tx, event); err != nil {
			return err
		}
		// Publish the full envelope so consumers can rebuild
		// idempotency keys from facility, period and version.
		envelope, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		entry := &postgres.OutboxEntry{
			AggregateID:   event.AggregateID,
			AggregateType: event.AggregateType,
			EventType:     string(event.EventType),
			Payload:       envelope,
			KafkaTopic:    redpanda.TopicAuditTrail,
			KafkaKey:      event.AggregateID,
		}
		if err := postgres.WriteEntry(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	sub.ClearChanges()
	return nil
}

func (s *EventStore) insertEvent(ctx context.Context, tx pgx.Tx, event *Event) error {
	query := `
		INSERT INTO submission_events
		(event_id, aggregate_id, event_type, event_data, version, facility_id, period, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.Exec(ctx, query,
		event.ID,
		event.AggregateID,
		event.EventType,
		event.EventData,
		event.Version,
		event.FacilityID,
		event.Period,
		event.CorrelationID,
	)
	return err
}

// GetEvents retrieves all events for a submission in insertion order.
func (s *EventStore) GetEvents(ctx context.Context, aggregateID string) ([]*Event, error) {
	query := `
		SELECT event_id, aggregate_id, event_type, event_data, version, timestamp,
		       facility_id, period, correlation_id
		FROM submission_events
		WHERE aggregate_id = $1
		ORDER BY timestamp ASC
	`

	rows, err := s.pool.Query(ctx, query, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		err := rows.Scan(
			&e.ID, &e.AggregateID, &e.EventType, &e.EventData, &e.Version,
			&e.Timestamp, &e.FacilityID, &e.Period, &e.CorrelationID,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetEventsByType retrieves recent events of one type across submissions.
func (s *EventStore) GetEventsByType(ctx context.Context, eventType EventType, limit int) ([]*Event, error) {
	query := `
		SELECT event_id, aggregate_id, event_type, event_data, version, timestamp
		FROM submission_events
		WHERE event_type = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, eventType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.EventData, &e.Version, &e.Timestamp)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// AuditingRepository decorates a Repository so every save also appends
// the aggregate's uncommitted events to the durable audit store.
type AuditingRepository struct {
	inner  Repository
	store  *EventStore
	logger *zap.Logger
}

// NewAuditingRepository wraps a repository with event-store auditing.
func NewAuditingRepository(inner Repository, store *EventStore, logger *zap.Logger) *AuditingRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditingRepository{inner: inner, store: store, logger: logger}
}

// Get retrieves a submission by id.
func (r *AuditingRepository) Get(ctx context.Context, id string) (*Submission, error) {
	return r.inner.Get(ctx, id)
}

// GetByPeriod retrieves a submission by facility and period label.
func (r *AuditingRepository) GetByPeriod(ctx context.Context, facilityID, period string) (*Submission, error) {
	return r.inner.GetByPeriod(ctx, facilityID, period)
}

// Save stores the submission and appends its events to the audit store.
func (r *AuditingRepository) Save(ctx context.Context, sub *Submission) error {
	if err := r.inner.Save(ctx, sub); err != nil {
		return err
	}
	if err := r.store.Append(ctx, sub); err != nil {
		return fmt.Errorf("append audit events: %w", err)
	}
	return nil
}
