package simpleblob

import (
	"context"
	"log/slog"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) BlobUploaded(ctx context.Context, blob *Blob) error {
	return nil
}

func (n *NoopEventSink) BlobDeleted(ctx context.Context, name string) error {
	return nil
}

func (n *NoopEventSink) TagsUpdated(ctx context.Context, name string, result *SetTagsResult) error {
	return nil
}

// LogEventSink writes every event to a structured logger
type LogEventSink struct {
	logger *slog.Logger
}

// NewLogEventSink creates an event sink backed by logger, or slog.Default()
// when logger is nil.
func NewLogEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEventSink{logger: logger}
}

func (l *LogEventSink) BlobUploaded(ctx context.Context, blob *Blob) error {
	l.logger.InfoContext(ctx, "event", "type", "blob_uploaded", "name", blob.Name, "size", blob.Size)
	return nil
}

func (l *LogEventSink) BlobDeleted(ctx context.Context, name string) error {
	l.logger.InfoContext(ctx, "event", "type", "blob_deleted", "name", name)
	return nil
}

func (l *LogEventSink) TagsUpdated(ctx context.Context, name string, result *SetTagsResult) error {
	l.logger.InfoContext(ctx, "event", "type", "tags_updated", "name", name, "method", result.Method)
	return nil
}
