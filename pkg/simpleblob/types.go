package simpleblob

import (
	"io"
	"time"
)

const (
	// PDFContentType is the only MIME type accepted for uploads.
	PDFContentType = "application/pdf"

	// MaxUploadSize is the largest accepted upload, 50 MiB.
	MaxUploadSize int64 = 50 << 20

	// MaxTagKeyLength and MaxTagValueLength bound tag entries in characters.
	MaxTagKeyLength   = 128
	MaxTagValueLength = 256

	// TagMetadataPrefix marks metadata entries that emulate tags.
	TagMetadataPrefix = "tag_"

	// ReservedFileName is the path segment that selects a blob's tags.
	ReservedFileName = "tags"

	// Metadata keys written on upload.
	MetadataUploadedAt   = "uploaded_at"
	MetadataOriginalName = "original_name"
)

// TagMethod names the strategy that persisted a tag set.
type TagMethod string

const (
	TagMethodNative   TagMethod = "native-tags"
	TagMethodMetadata TagMethod = "metadata"
)

// Blob is the application view of one stored file.
type Blob struct {
	Name         string            `json:"name"`
	DisplayName  string            `json:"displayName"`
	URL          string            `json:"url"`
	Size         int64             `json:"size"`
	LastModified time.Time         `json:"lastModified"`
	ContentType  string            `json:"contentType"`
	ETag         string            `json:"etag,omitempty"`
	Tags         map[string]string `json:"tags"`
	Metadata     map[string]string `json:"metadata"`
}

// ObjectInfo is what a Container reports about a stored object.
// ContentType and Metadata may be empty when the backend listing does not
// carry them; Head always fills them.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string
	Metadata     map[string]string
}

// PutParams carries the attributes written together with an object body.
type PutParams struct {
	ContentType string
	Size        int64
	Metadata    map[string]string
}

// UploadRequest describes an incoming file.
type UploadRequest struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// SetTagsResult reports the tags that were persisted and how.
type SetTagsResult struct {
	Tags   map[string]string `json:"tags"`
	Method TagMethod         `json:"method"`
}

// DeleteResult is returned by a successful delete.
type DeleteResult struct {
	Name    string `json:"name"`
	Deleted bool   `json:"deleted"`
	Message string `json:"message"`
}
