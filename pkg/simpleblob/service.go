package simpleblob

import "context"

// Service defines the main interface for the simple-blob library
type Service interface {
	// Directory operations
	ListBlobs(ctx context.Context) ([]*Blob, error)
	GetBlob(ctx context.Context, name string) (*Blob, error)

	// Upload/delete operations
	UploadBlob(ctx context.Context, req UploadRequest) (*Blob, error)
	DeleteBlob(ctx context.Context, name string) (*DeleteResult, error)

	// Tag operations
	GetTags(ctx context.Context, name string) (map[string]string, error)
	SetTags(ctx context.Context, name string, tags map[string]string) (*SetTagsResult, error)

	// ResolveBlobPath maps a file name to its storage key.
	ResolveBlobPath(fileName string) string
}
