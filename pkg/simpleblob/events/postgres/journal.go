package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-blob/pkg/simpleblob"
)

// Event types recorded in blob_events.event_type
const (
	EventBlobUploaded = "blob_uploaded"
	EventBlobDeleted  = "blob_deleted"
	EventTagsUpdated  = "tags_updated"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Event is one row of the journal
type Event struct {
	ID        uuid.UUID       `json:"id"`
	BlobName  string          `json:"blob_name"`
	Type      string          `json:"event_type"`
	Detail    json.RawMessage `json:"detail"`
	CreatedAt time.Time       `json:"created_at"`
}

// Journal implements simpleblob.EventSink by appending to a Postgres table
type Journal struct {
	db  DBTX
	now func() time.Time
}

// New creates a journal on top of a connection, pool or transaction
func New(db DBTX) *Journal {
	return &Journal{db: db, now: time.Now}
}

// NewWithPool creates a journal with a connection pool
func NewWithPool(pool *pgxpool.Pool) *Journal {
	return New(pool)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS blob_events (
	id         UUID PRIMARY KEY,
	blob_name  TEXT NOT NULL,
	event_type TEXT NOT NULL,
	detail     JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS blob_events_blob_name_idx ON blob_events (blob_name, created_at DESC);`

// EnsureSchema creates the journal table when it does not exist
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, schemaSQL); err != nil {
		return j.handlePostgresError("ensure_schema", err)
	}
	return nil
}

func (j *Journal) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01": // undefined_table
			return fmt.Errorf("table blob_events does not exist - run EnsureSchema")
		case "3F000": // invalid_schema_name
			return fmt.Errorf("schema for blob_events does not exist: %s", pgErr.Message)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

func (j *Journal) record(ctx context.Context, name, eventType string, detail any) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("failed to encode event detail: %w", err)
	}

	query := `
		INSERT INTO blob_events (id, blob_name, event_type, detail, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)`
	_, err = j.db.Exec(ctx, query, uuid.New(), name, eventType, string(payload), j.now().UTC())
	if err != nil {
		return j.handlePostgresError("record_"+eventType, err)
	}
	return nil
}

func (j *Journal) BlobUploaded(ctx context.Context, blob *simpleblob.Blob) error {
	return j.record(ctx, blob.Name, EventBlobUploaded, map[string]any{
		"size":         blob.Size,
		"content_type": blob.ContentType,
		"etag":         blob.ETag,
	})
}

func (j *Journal) BlobDeleted(ctx context.Context, name string) error {
	return j.record(ctx, name, EventBlobDeleted, map[string]any{})
}

func (j *Journal) TagsUpdated(ctx context.Context, name string, result *simpleblob.SetTagsResult) error {
	return j.record(ctx, name, EventTagsUpdated, result)
}

// ListEvents returns the newest events for a blob, newest first
func (j *Journal) ListEvents(ctx context.Context, name string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, blob_name, event_type, detail, created_at
		FROM blob_events
		WHERE blob_name = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := j.db.Query(ctx, query, name, limit)
	if err != nil {
		return nil, j.handlePostgresError("list_events", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var detail []byte
		if err := rows.Scan(&e.ID, &e.BlobName, &e.Type, &detail, &e.CreatedAt); err != nil {
			return nil, j.handlePostgresError("list_events", err)
		}
		e.Detail = json.RawMessage(detail)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, j.handlePostgresError("list_events", err)
	}
	return events, nil
}

var _ simpleblob.EventSink = (*Journal)(nil)
