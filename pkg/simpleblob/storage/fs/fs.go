package fs

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tendant/simple-blob/pkg/simpleblob"
)

const (
	objectsDir = "objects"
	metaDir    = "meta"
	metaSuffix = ".json"
)

// Config options for the filesystem backend
type Config struct {
	BaseDir    string // Base directory for storing files
	URLPrefix  string // Optional URL prefix for object URLs
	NativeTags bool   // Keep tags in the sidecar instead of reporting them unsupported
}

// Backend is a filesystem implementation of the simpleblob.Container interface.
// Object bytes live under BaseDir/objects, and a JSON sidecar per object under
// BaseDir/meta holds its content type, etag, metadata and tags.
type Backend struct {
	mu         sync.RWMutex
	baseDir    string
	urlPrefix  string
	nativeTags bool
}

type sidecar struct {
	ContentType string            `json:"content_type"`
	ETag        string            `json:"etag"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, &simpleblob.ConfigError{Missing: []string{"FS_BASE_DIR"}}
	}

	for _, dir := range []string{objectsDir, metaDir} {
		if err := os.MkdirAll(filepath.Join(config.BaseDir, dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}

	return &Backend{
		baseDir:    config.BaseDir,
		urlPrefix:  strings.TrimSuffix(config.URLPrefix, "/"),
		nativeTags: config.NativeTags,
	}, nil
}

// paths maps a key to its data and sidecar paths, refusing keys that would
// escape the base directory.
func (b *Backend) paths(key string) (string, string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: invalid object key %q", simpleblob.ErrValidation, key)
	}
	return filepath.Join(b.baseDir, objectsDir, clean),
		filepath.Join(b.baseDir, metaDir, clean+metaSuffix),
		nil
}

func storageErr(op, key string, err error) error {
	return &simpleblob.StorageError{Backend: "fs", Key: key, Op: op, Err: err}
}

func (b *Backend) readSidecar(path string) (*sidecar, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &sidecar{}, nil
	}
	if err != nil {
		return nil, err
	}
	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("corrupt sidecar %s: %w", path, err)
	}
	return &sc, nil
}

func (b *Backend) writeSidecar(path string, sc *sidecar) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// info builds the object attributes; callers hold at least a read lock.
func (b *Backend) info(key, dataPath, metaPath string) (*simpleblob.ObjectInfo, error) {
	st, err := os.Stat(dataPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", simpleblob.ErrBlobNotFound, key)
	} else if err != nil {
		return nil, storageErr("head", key, err)
	}

	sc, err := b.readSidecar(metaPath)
	if err != nil {
		return nil, storageErr("head", key, err)
	}

	contentType := sc.ContentType
	if contentType == "" {
		contentType = detectContentType(dataPath)
	}

	metadata := make(map[string]string, len(sc.Metadata))
	for k, v := range sc.Metadata {
		metadata[k] = v
	}

	return &simpleblob.ObjectInfo{
		Key:          key,
		Size:         st.Size(),
		ContentType:  contentType,
		LastModified: st.ModTime().UTC(),
		ETag:         sc.ETag,
		Metadata:     metadata,
	}, nil
}

func detectContentType(path string) string {
	contentType := "application/octet-stream"
	if file, err := os.Open(path); err == nil {
		defer file.Close()
		buffer := make([]byte, 512)
		if n, err := file.Read(buffer); err == nil {
			contentType = http.DetectContentType(buffer[:n])
		}
	}
	return contentType
}

// List walks the objects directory and returns keys under prefix
func (b *Backend) List(ctx context.Context, prefix string) ([]*simpleblob.ObjectInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	root := filepath.Join(b.baseDir, objectsDir)
	var keys []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("list", prefix, err)
	}
	sort.Strings(keys)

	infos := make([]*simpleblob.ObjectInfo, 0, len(keys))
	for _, key := range keys {
		dataPath, metaPath, err := b.paths(key)
		if err != nil {
			continue
		}
		info, err := b.info(key, dataPath, metaPath)
		if err != nil {
			// Removed between the walk and the stat.
			if simpleblob.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Head retrieves the attributes of an object
func (b *Backend) Head(ctx context.Context, key string) (*simpleblob.ObjectInfo, error) {
	dataPath, metaPath, err := b.paths(key)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.info(key, dataPath, metaPath)
}

// Put writes the object and its sidecar, replacing previous content
func (b *Backend) Put(ctx context.Context, key string, body io.Reader, params simpleblob.PutParams) (*simpleblob.ObjectInfo, error) {
	dataPath, metaPath, err := b.paths(key)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(dataPath), 0755); err != nil {
		return nil, storageErr("put", key, fmt.Errorf("failed to create directory: %w", err))
	}

	tmp := dataPath + ".upload"
	file, err := os.Create(tmp)
	if err != nil {
		return nil, storageErr("put", key, fmt.Errorf("failed to create file: %w", err))
	}

	hash := md5.New()
	if _, err := io.Copy(io.MultiWriter(file, hash), body); err != nil {
		file.Close()
		os.Remove(tmp)
		return nil, storageErr("put", key, fmt.Errorf("failed to write file: %w", err))
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return nil, storageErr("put", key, err)
	}
	if err := os.Rename(tmp, dataPath); err != nil {
		os.Remove(tmp)
		return nil, storageErr("put", key, err)
	}

	sc := &sidecar{
		ContentType: params.ContentType,
		ETag:        hex.EncodeToString(hash.Sum(nil)),
		Metadata:    params.Metadata,
	}
	if err := b.writeSidecar(metaPath, sc); err != nil {
		return nil, storageErr("put", key, err)
	}

	return b.info(key, dataPath, metaPath)
}

// Delete removes the object and its sidecar
func (b *Backend) Delete(ctx context.Context, key string) error {
	dataPath, metaPath, err := b.paths(key)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Remove(dataPath); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", simpleblob.ErrBlobNotFound, key)
	} else if err != nil {
		return storageErr("delete", key, err)
	}
	if err := os.Remove(metaPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return storageErr("delete", key, err)
	}
	return nil
}

// GetTags returns sidecar tags when native tags are enabled
func (b *Backend) GetTags(ctx context.Context, key string) (map[string]string, error) {
	if !b.nativeTags {
		return nil, simpleblob.ErrTagsUnsupported
	}
	dataPath, metaPath, err := b.paths(key)
	if err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, err := os.Stat(dataPath); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", simpleblob.ErrBlobNotFound, key)
	}
	sc, err := b.readSidecar(metaPath)
	if err != nil {
		return nil, storageErr("get_tags", key, err)
	}
	tags := make(map[string]string, len(sc.Tags))
	for k, v := range sc.Tags {
		tags[k] = v
	}
	return tags, nil
}

// SetTags replaces sidecar tags when native tags are enabled
func (b *Backend) SetTags(ctx context.Context, key string, tags map[string]string) error {
	if !b.nativeTags {
		return simpleblob.ErrTagsUnsupported
	}
	return b.updateSidecar(ctx, "set_tags", key, func(sc *sidecar) {
		sc.Tags = tags
	})
}

// SetMetadata replaces the user metadata in the sidecar
func (b *Backend) SetMetadata(ctx context.Context, key string, metadata map[string]string) error {
	return b.updateSidecar(ctx, "set_metadata", key, func(sc *sidecar) {
		sc.Metadata = metadata
	})
}

func (b *Backend) updateSidecar(ctx context.Context, op, key string, update func(*sidecar)) error {
	dataPath, metaPath, err := b.paths(key)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := os.Stat(dataPath); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", simpleblob.ErrBlobNotFound, key)
	}
	sc, err := b.readSidecar(metaPath)
	if err != nil {
		return storageErr(op, key, err)
	}
	update(sc)
	if err := b.writeSidecar(metaPath, sc); err != nil {
		return storageErr(op, key, err)
	}
	return nil
}

// URL returns URLPrefix/key, or a file:// URL without a prefix
func (b *Backend) URL(key string) string {
	if b.urlPrefix != "" {
		return b.urlPrefix + "/" + escapeKey(key)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(b.baseDir, objectsDir, filepath.FromSlash(key)))}
	return u.String()
}

func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

var _ simpleblob.Container = (*Backend)(nil)
