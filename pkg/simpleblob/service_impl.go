package simpleblob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultListConcurrency = 8

// service implements the Service interface
type service struct {
	opener          ContainerOpener
	uploadFolder    string
	client          *Client
	tags            *tagReconciler
	eventSink       EventSink
	logger          *slog.Logger
	now             func() time.Time
	listConcurrency int
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithContainer uses an already opened container.
func WithContainer(c Container) Option {
	return func(s *service) {
		s.opener = StaticOpener(c)
	}
}

// WithContainerOpener sets the lazy container factory.
func WithContainerOpener(open ContainerOpener) Option {
	return func(s *service) {
		s.opener = open
	}
}

// WithUploadFolder sets the key prefix for application objects.
func WithUploadFolder(folder string) Option {
	return func(s *service) {
		s.uploadFolder = folder
	}
}

// WithEventSink sets the event sink for the service
func WithEventSink(sink EventSink) Option {
	return func(s *service) {
		s.eventSink = sink
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithClock overrides the time source used for upload metadata.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// WithListConcurrency bounds the concurrent per-object lookups of ListBlobs.
func WithListConcurrency(n int) Option {
	return func(s *service) {
		s.listConcurrency = n
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		logger:          slog.Default(),
		now:             time.Now,
		listConcurrency: defaultListConcurrency,
	}

	for _, option := range options {
		option(s)
	}

	client, err := NewClient(s.opener, s.uploadFolder)
	if err != nil {
		return nil, err
	}
	s.client = client

	if s.eventSink == nil {
		s.eventSink = NewNoopEventSink()
	}
	if s.listConcurrency <= 0 {
		s.listConcurrency = 1
	}
	s.tags = newTagReconciler(s.logger)

	return s, nil
}

func (s *service) ResolveBlobPath(fileName string) string {
	return s.client.ResolveBlobPath(fileName)
}

// Directory operations

func (s *service) ListBlobs(ctx context.Context) ([]*Blob, error) {
	c, err := s.client.Container(ctx)
	if err != nil {
		return nil, err
	}

	prefix := s.client.listPrefix()
	objects, err := c.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}

	var visible []*ObjectInfo
	for _, obj := range objects {
		if obj.Key == prefix || strings.HasSuffix(obj.Key, "/") {
			continue
		}
		visible = append(visible, obj)
	}

	blobs := make([]*Blob, len(visible))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.listConcurrency)
	for i, obj := range visible {
		g.Go(func() error {
			if obj.ContentType == "" {
				// Some listings do not carry content type or metadata.
				if head, err := c.Head(gctx, obj.Key); err == nil {
					obj = head
				} else {
					s.logger.Warn("failed to read blob properties", "key", obj.Key, "error", err)
				}
			}
			blobs[i] = s.toBlob(c, obj, s.tags.Get(gctx, c, obj.Key))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Debug("blobs listed", "prefix", prefix, "count", len(blobs))
	return blobs, nil
}

func (s *service) GetBlob(ctx context.Context, name string) (*Blob, error) {
	c, err := s.client.Container(ctx)
	if err != nil {
		return nil, err
	}

	info, err := c.Head(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get blob properties: %w", err)
	}
	return s.toBlob(c, info, s.tags.Get(ctx, c, name)), nil
}

// Upload/delete operations

func (s *service) UploadBlob(ctx context.Context, req UploadRequest) (*Blob, error) {
	fileName := baseFileName(req.FileName)
	if fileName == "" {
		return nil, ErrMissingFileName
	}
	if fileName == ReservedFileName {
		return nil, ErrReservedFileName
	}
	if !IsPDF(req.ContentType) {
		return nil, ErrInvalidContentType
	}
	// A negative size means the length is unknown; the body limit applies.
	if req.Size > MaxUploadSize {
		return nil, ErrFileTooLarge
	}
	if req.Body == nil {
		return nil, fmt.Errorf("%w: file body is required", ErrValidation)
	}

	c, err := s.client.Container(ctx)
	if err != nil {
		return nil, err
	}

	// Existing objects with the same name are overwritten.
	key := s.client.ResolveBlobPath(fileName)
	params := PutParams{
		ContentType: PDFContentType,
		Size:        req.Size,
		Metadata: map[string]string{
			MetadataUploadedAt:   s.now().UTC().Format(time.RFC3339),
			MetadataOriginalName: fileName,
		},
	}

	info, err := c.Put(ctx, key, &limitedBody{r: req.Body, max: MaxUploadSize}, params)
	if errors.Is(err, ErrFileTooLarge) {
		return nil, ErrFileTooLarge
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upload blob: %w", err)
	}

	blob := s.toBlob(c, info, map[string]string{})
	s.logger.Info("blob uploaded", "key", key, "size", blob.Size)

	if err := s.eventSink.BlobUploaded(ctx, blob); err != nil {
		s.logger.Warn("event sink failed", "event", "blob_uploaded", "key", key, "error", err)
	}
	return blob, nil
}

func (s *service) DeleteBlob(ctx context.Context, name string) (*DeleteResult, error) {
	c, err := s.client.Container(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := c.Head(ctx, name); err != nil {
		return nil, fmt.Errorf("failed to delete blob: %w", err)
	}
	if err := c.Delete(ctx, name); err != nil {
		return nil, fmt.Errorf("failed to delete blob: %w", err)
	}

	s.logger.Info("blob deleted", "key", name)
	if err := s.eventSink.BlobDeleted(ctx, name); err != nil {
		s.logger.Warn("event sink failed", "event", "blob_deleted", "key", name, "error", err)
	}

	return &DeleteResult{
		Name:    name,
		Deleted: true,
		Message: "Blob deleted successfully",
	}, nil
}

// Tag operations

func (s *service) GetTags(ctx context.Context, name string) (map[string]string, error) {
	c, err := s.client.Container(ctx)
	if err != nil {
		return nil, err
	}
	return s.tags.Get(ctx, c, name), nil
}

func (s *service) SetTags(ctx context.Context, name string, tags map[string]string) (*SetTagsResult, error) {
	if tags == nil {
		return nil, ErrInvalidTags
	}

	c, err := s.client.Container(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.tags.Set(ctx, c, name, tags)
	if err != nil {
		return nil, err
	}

	s.logger.Info("tags updated", "key", name, "method", result.Method, "count", len(result.Tags))
	if err := s.eventSink.TagsUpdated(ctx, name, result); err != nil {
		s.logger.Warn("event sink failed", "event", "tags_updated", "key", name, "error", err)
	}
	return result, nil
}

func (s *service) toBlob(c Container, info *ObjectInfo, tags map[string]string) *Blob {
	metadata := copyMap(info.Metadata)
	if tags == nil {
		tags = map[string]string{}
	}
	return &Blob{
		Name:         info.Key,
		DisplayName:  DisplayName(info.Key),
		URL:          c.URL(info.Key),
		Size:         info.Size,
		LastModified: info.LastModified,
		ContentType:  info.ContentType,
		ETag:         info.ETag,
		Tags:         tags,
		Metadata:     metadata,
	}
}

// limitedBody fails the read that would go past max bytes, so a container
// never commits an oversize object.
type limitedBody struct {
	r   io.Reader
	n   int64
	max int64
}

func (l *limitedBody) Read(p []byte) (int, error) {
	if room := l.max - l.n + 1; int64(len(p)) > room {
		p = p[:room]
	}
	n, err := l.r.Read(p)
	l.n += int64(n)
	if l.n > l.max {
		return 0, ErrFileTooLarge
	}
	return n, err
}
