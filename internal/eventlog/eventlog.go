// Package eventlog appends grading events to a PostgreSQL audit table.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/felixgeelhaar/aula/internal/domain"
)

// appendTimeout bounds one fire-and-forget write.
const appendTimeout = 5 * time.Second

// Entry is one row of the audit table
type Entry struct {
	ID          uuid.UUID
	Type        string
	AggregateID domain.RecordID
	StudentID   domain.RecordID
	InstanceID  domain.RecordID
	FinalScore  *int
	Tags        []string
	Payload     pqtype.NullRawMessage
	OccurredAt  time.Time
}

// Log writes events through database/sql and lib/pq.
type Log struct {
	db *sql.DB
}

// Open connects to the audit database.
func Open(url string) (*Log, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping event log: %w", err)
	}
	return New(db), nil
}

// New wraps an existing connection.
func New(db *sql.DB) *Log {
	return &Log{db: db}
}

// Close closes the underlying connection
func (l *Log) Close() error {
	return l.db.Close()
}

// Append stores one event.
func (l *Log) Append(ctx context.Context, event domain.Event) error {
	e, err := entryFor(event)
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO grade_events (id, event_type, aggregate_id, student_id, instance_id,
			final_score, tags, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Type, string(e.AggregateID), nullString(e.StudentID), nullString(e.InstanceID),
		nullInt(e.FinalScore), pq.Array(e.Tags), e.Payload, e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("append event %s: %w", e.Type, err)
	}
	return nil
}

// ListByAggregate returns the events of one record, oldest first.
func (l *Log) ListByAggregate(ctx context.Context, id domain.RecordID) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, event_type, aggregate_id, student_id, instance_id, final_score, tags, payload, occurred_at
		FROM grade_events WHERE aggregate_id = $1 ORDER BY occurred_at`, string(id))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var aggregate string
		var student, instance sql.NullString
		var score sql.NullInt64
		if err := rows.Scan(&e.ID, &e.Type, &aggregate, &student, &instance, &score,
			pq.Array(&e.Tags), &e.Payload, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.AggregateID = domain.RecordID(aggregate)
		e.StudentID = domain.RecordID(student.String)
		e.InstanceID = domain.RecordID(instance.String)
		if score.Valid {
			e.FinalScore = domain.IntPtr(int(score.Int64))
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Handler returns an event handler that appends in the background and
// only logs failures.
func (l *Log) Handler() domain.EventHandler {
	return func(event domain.Event) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
			defer cancel()
			if err := l.Append(ctx, event); err != nil {
				slog.Warn("event log append failed", "event", event.EventType(), "error", err)
			}
		}()
	}
}

// entryFor flattens an event into an audit row.
func entryFor(event domain.Event) (Entry, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal event: %w", err)
	}
	e := Entry{
		ID:          event.EventID(),
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Tags:        strings.Split(event.EventType(), "."),
		Payload:     pqtype.NullRawMessage{RawMessage: payload, Valid: true},
		OccurredAt:  event.OccurredAt(),
	}

	switch ev := event.(type) {
	case domain.GradePublishedEvent:
		e.StudentID = ev.StudentID
		e.InstanceID = ev.InstanceID
		e.FinalScore = domain.IntPtr(ev.FinalScore)
	case domain.SubmissionReceivedEvent:
		e.StudentID = ev.StudentID
		e.InstanceID = ev.InstanceID
		if ev.Fallback {
			e.Tags = append(e.Tags, "fallback")
		}
	case domain.ContentGeneratedEvent:
		e.InstanceID = ev.AggregateID()
	}
	return e, nil
}

func nullString(id domain.RecordID) sql.NullString {
	return sql.NullString{String: string(id), Valid: !id.IsZero()}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
