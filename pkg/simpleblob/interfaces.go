package simpleblob

import (
	"context"
	"io"
)

// Container is one object-storage namespace (a bucket).
type Container interface {
	// List returns every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]*ObjectInfo, error)

	// Head returns the attributes of one object, or ErrBlobNotFound.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// Put stores body under key, replacing any existing object.
	Put(ctx context.Context, key string, body io.Reader, params PutParams) (*ObjectInfo, error)

	// Delete removes the object, or returns ErrBlobNotFound.
	Delete(ctx context.Context, key string) error

	// GetTags and SetTags use the backend's native tagging. They return
	// ErrTagsUnsupported when tagging is unavailable.
	GetTags(ctx context.Context, key string) (map[string]string, error)
	SetTags(ctx context.Context, key string, tags map[string]string) error

	// SetMetadata replaces the object's user metadata.
	SetMetadata(ctx context.Context, key string, metadata map[string]string) error

	// URL returns the addressable location of key.
	URL(key string) string
}

// ContainerOpener creates the container handle. It is called at most once
// per Client.
type ContainerOpener func(ctx context.Context) (Container, error)

// EventSink receives notifications after successful mutations.
// Errors are logged by the service and never fail the operation.
type EventSink interface {
	BlobUploaded(ctx context.Context, blob *Blob) error
	BlobDeleted(ctx context.Context, name string) error
	TagsUpdated(ctx context.Context, name string, result *SetTagsResult) error
}
