package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tendant/simple-blob/pkg/simpleblob"
)

type object struct {
	data        []byte
	contentType string
	modified    time.Time
	etag        string
	metadata    map[string]string
	tags        map[string]string
}

// Backend is an in-memory implementation of the simpleblob.Container interface
type Backend struct {
	mu         sync.RWMutex
	name       string
	objects    map[string]*object
	nativeTags bool
	now        func() time.Time
}

// Option configures the in-memory backend
type Option func(*Backend)

// WithoutNativeTags makes GetTags and SetTags report
// simpleblob.ErrTagsUnsupported, like a store without tagging permissions.
func WithoutNativeTags() Option {
	return func(b *Backend) {
		b.nativeTags = false
	}
}

// WithName sets the container name used in object URLs.
func WithName(name string) Option {
	return func(b *Backend) {
		b.name = name
	}
}

// WithClock overrides the modification time source.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// New creates a new in-memory storage backend
func New(opts ...Option) *Backend {
	b := &Backend{
		name:       "memory",
		objects:    make(map[string]*object),
		nativeTags: true,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func notFound(key string) error {
	return fmt.Errorf("%w: %s", simpleblob.ErrBlobNotFound, key)
}

func (o *object) info(key string) *simpleblob.ObjectInfo {
	metadata := make(map[string]string, len(o.metadata))
	for k, v := range o.metadata {
		metadata[k] = v
	}
	return &simpleblob.ObjectInfo{
		Key:          key,
		Size:         int64(len(o.data)),
		ContentType:  o.contentType,
		LastModified: o.modified,
		ETag:         o.etag,
		Metadata:     metadata,
	}
}

// List returns the objects under prefix ordered by key
func (b *Backend) List(ctx context.Context, prefix string) ([]*simpleblob.ObjectInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.objects))
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	infos := make([]*simpleblob.ObjectInfo, 0, len(keys))
	for _, key := range keys {
		infos = append(infos, b.objects[key].info(key))
	}
	return infos, nil
}

// Head retrieves the attributes of an object
func (b *Backend) Head(ctx context.Context, key string) (*simpleblob.ObjectInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[key]
	if !ok {
		return nil, notFound(key)
	}
	return obj.info(key), nil
}

// Put stores the object, replacing any previous one with the same key
func (b *Backend) Put(ctx context.Context, key string, body io.Reader, params simpleblob.PutParams) (*simpleblob.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &simpleblob.StorageError{Backend: "memory", Key: key, Op: "put", Err: err}
	}

	contentType := params.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	metadata := make(map[string]string, len(params.Metadata))
	for k, v := range params.Metadata {
		metadata[k] = v
	}
	sum := md5.Sum(data)

	obj := &object{
		data:        data,
		contentType: contentType,
		modified:    b.now().UTC(),
		etag:        hex.EncodeToString(sum[:]),
		metadata:    metadata,
		tags:        map[string]string{},
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = obj
	return obj.info(key), nil
}

// Delete removes an object
func (b *Backend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.objects[key]; !ok {
		return notFound(key)
	}
	delete(b.objects, key)
	return nil
}

// GetTags returns the native tags of an object
func (b *Backend) GetTags(ctx context.Context, key string) (map[string]string, error) {
	if !b.nativeTags {
		return nil, simpleblob.ErrTagsUnsupported
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[key]
	if !ok {
		return nil, notFound(key)
	}
	tags := make(map[string]string, len(obj.tags))
	for k, v := range obj.tags {
		tags[k] = v
	}
	return tags, nil
}

// SetTags replaces the native tags of an object
func (b *Backend) SetTags(ctx context.Context, key string, tags map[string]string) error {
	if !b.nativeTags {
		return simpleblob.ErrTagsUnsupported
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	obj, ok := b.objects[key]
	if !ok {
		return notFound(key)
	}
	obj.tags = make(map[string]string, len(tags))
	for k, v := range tags {
		obj.tags[k] = v
	}
	return nil
}

// SetMetadata replaces the user metadata of an object
func (b *Backend) SetMetadata(ctx context.Context, key string, metadata map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	obj, ok := b.objects[key]
	if !ok {
		return notFound(key)
	}
	obj.metadata = make(map[string]string, len(metadata))
	for k, v := range metadata {
		obj.metadata[k] = v
	}
	obj.modified = b.now().UTC()
	return nil
}

// URL returns a memory:// locator for the object
func (b *Backend) URL(key string) string {
	return fmt.Sprintf("memory://%s/%s", b.name, key)
}

// Data returns a copy of the stored bytes, for tests and tooling.
func (b *Backend) Data(key string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, ok := b.objects[key]
	if !ok {
		return nil, false
	}
	return bytes.Clone(obj.data), true
}

var _ simpleblob.Container = (*Backend)(nil)
