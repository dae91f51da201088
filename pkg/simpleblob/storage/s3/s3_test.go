package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-blob/pkg/simpleblob"
)

type fakeObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
	tags        map[string]string
}

// fakeAPI is an in-process stand-in for the S3 client.
type fakeAPI struct {
	mu         sync.Mutex
	objects    map[string]*fakeObject
	taggingErr error
	copies     []*s3.CopyObjectInput
	puts       []*s3.PutObjectInput
	bucketErr  error
	created    []*s3.CreateBucketInput
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: map[string]*fakeObject{}}
}

func (f *fakeAPI) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	metadata := map[string]string{}
	for k, v := range in.Metadata {
		metadata[strings.ToLower(k)] = v
	}
	f.objects[aws.ToString(in.Key)] = &fakeObject{
		data:        data,
		contentType: aws.ToString(in.ContentType),
		metadata:    metadata,
	}
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{ETag: aws.String(fmt.Sprintf(`"etag-%d"`, len(data)))}, nil
}

func (f *fakeAPI) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("multipart not supported by fake")
}

func (f *fakeAPI) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported by fake")
}

func (f *fakeAPI) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("multipart not supported by fake")
}

func (f *fakeAPI) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeAPI) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(f.objects[k].data))),
			LastModified: aws.Time(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
			ETag:         aws.String(`"abc"`),
		})
	}
	return out, nil
}

func (f *fakeAPI) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		ContentType:   aws.String(obj.contentType),
		LastModified:  aws.Time(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		ETag:          aws.String(`"abc"`),
		Metadata:      obj.metadata,
	}, nil
}

func (f *fakeAPI) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeAPI) GetObjectTagging(ctx context.Context, in *s3.GetObjectTaggingInput, _ ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error) {
	if f.taggingErr != nil {
		return nil, f.taggingErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "The specified key does not exist."}
	}
	out := &s3.GetObjectTaggingOutput{}
	for k, v := range obj.tags {
		out.TagSet = append(out.TagSet, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out, nil
}

func (f *fakeAPI) PutObjectTagging(ctx context.Context, in *s3.PutObjectTaggingInput, _ ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error) {
	if f.taggingErr != nil {
		return nil, f.taggingErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey"}
	}
	obj.tags = map[string]string{}
	for _, tag := range in.Tagging.TagSet {
		obj.tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return &s3.PutObjectTaggingOutput{}, nil
}

func (f *fakeAPI) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies = append(f.copies, in)
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	obj.metadata = map[string]string{}
	for k, v := range in.Metadata {
		obj.metadata[strings.ToLower(k)] = v
	}
	obj.contentType = aws.ToString(in.ContentType)
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeAPI) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.bucketErr != nil {
		return nil, f.bucketErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeAPI) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created = append(f.created, in)
	return &s3.CreateBucketOutput{}, nil
}

func newTestBackend(t *testing.T, config Config) (*Backend, *fakeAPI) {
	t.Helper()
	api := newFakeAPI()
	if config.Bucket == "" {
		config.Bucket = "blobs"
	}
	b, err := NewWithClient(api, config)
	require.NoError(t, err)
	b.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return b, api
}

func TestConfig_Validate(t *testing.T) {
	t.Run("MissingSettings", func(t *testing.T) {
		err := Config{}.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, simpleblob.ErrConfig)

		var cfgErr *simpleblob.ConfigError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, []string{"S3_BUCKET", "S3_REGION", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY"}, cfgErr.Missing)
	})

	t.Run("InvalidSSE", func(t *testing.T) {
		err := Config{
			Bucket:          "b",
			Region:          "us-east-1",
			AccessKeyID:     "k",
			SecretAccessKey: "s",
			EnableSSE:       true,
			SSEAlgorithm:    "rot13",
		}.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid SSE algorithm")
	})

	t.Run("Valid", func(t *testing.T) {
		err := Config{Bucket: "b", Region: "eu-west-1", AccessKeyID: "k", SecretAccessKey: "s"}.Validate()
		assert.NoError(t, err)
	})
}

func TestNew_RejectsIncompleteConfig(t *testing.T) {
	_, err := New(context.Background(), Config{Bucket: "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, simpleblob.ErrConfig)
}

func TestBackend_PutHeadList(t *testing.T) {
	b, api := newTestBackend(t, Config{EnableSSE: true, SSEAlgorithm: "AES256"})
	ctx := context.Background()

	info, err := b.Put(ctx, "docs/report.pdf", bytes.NewReader([]byte("%PDF-1.4 test")), simpleblob.PutParams{
		ContentType: "application/pdf",
		Metadata:    map[string]string{"uploaded_at": "2024-05-01T12:00:00Z"},
	})
	require.NoError(t, err)
	assert.Equal(t, "docs/report.pdf", info.Key)
	assert.Equal(t, int64(13), info.Size)
	assert.Equal(t, "etag-13", info.ETag)
	assert.Equal(t, "application/pdf", info.ContentType)

	require.Len(t, api.puts, 1)
	assert.Equal(t, types.ServerSideEncryptionAes256, api.puts[0].ServerSideEncryption)

	head, err := b.Head(ctx, "docs/report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", head.ContentType)
	assert.Equal(t, "2024-05-01T12:00:00Z", head.Metadata["uploaded_at"])
	assert.Equal(t, "abc", head.ETag)

	_, err = b.Put(ctx, "other.pdf", strings.NewReader("x"), simpleblob.PutParams{ContentType: "application/pdf"})
	require.NoError(t, err)

	all, err := b.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "docs/report.pdf", all[0].Key)
	assert.Empty(t, all[0].ContentType)

	docs, err := b.List(ctx, "docs/")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(13), docs[0].Size)
}

func TestBackend_NotFound(t *testing.T) {
	b, _ := newTestBackend(t, Config{})
	ctx := context.Background()

	_, err := b.Head(ctx, "missing.pdf")
	assert.ErrorIs(t, err, simpleblob.ErrBlobNotFound)

	_, err = b.GetTags(ctx, "missing.pdf")
	assert.ErrorIs(t, err, simpleblob.ErrBlobNotFound)

	err = b.SetMetadata(ctx, "missing.pdf", map[string]string{"a": "b"})
	assert.ErrorIs(t, err, simpleblob.ErrBlobNotFound)
}

func TestBackend_Tags(t *testing.T) {
	b, _ := newTestBackend(t, Config{})
	ctx := context.Background()

	_, err := b.Put(ctx, "a.pdf", strings.NewReader("data"), simpleblob.PutParams{ContentType: "application/pdf"})
	require.NoError(t, err)

	require.NoError(t, b.SetTags(ctx, "a.pdf", map[string]string{"owner": "alice", "year": "2024"}))
	tags, err := b.GetTags(ctx, "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"owner": "alice", "year": "2024"}, tags)
}

func TestBackend_TaggingUnsupported(t *testing.T) {
	codes := []string{"NotImplemented", "XNotImplemented", "AccessDenied", "MethodNotAllowed"}
	for _, code := range codes {
		t.Run(code, func(t *testing.T) {
			b, api := newTestBackend(t, Config{})
			api.taggingErr = &smithy.GenericAPIError{Code: code, Message: "tagging disabled"}
			ctx := context.Background()

			_, err := b.GetTags(ctx, "a.pdf")
			assert.ErrorIs(t, err, simpleblob.ErrTagsUnsupported)

			err = b.SetTags(ctx, "a.pdf", map[string]string{"k": "v"})
			assert.ErrorIs(t, err, simpleblob.ErrTagsUnsupported)

			var storageErr *simpleblob.StorageError
			require.True(t, errors.As(err, &storageErr))
			assert.Equal(t, "set_tags", storageErr.Op)
		})
	}

	t.Run("OtherErrorsStayStorageErrors", func(t *testing.T) {
		b, api := newTestBackend(t, Config{})
		api.taggingErr = &smithy.GenericAPIError{Code: "InternalError"}

		_, err := b.GetTags(context.Background(), "a.pdf")
		require.Error(t, err)
		assert.NotErrorIs(t, err, simpleblob.ErrTagsUnsupported)
		assert.NotErrorIs(t, err, simpleblob.ErrBlobNotFound)
	})
}

func TestBackend_SetMetadataCopiesInPlace(t *testing.T) {
	b, api := newTestBackend(t, Config{EnableSSE: true, SSEAlgorithm: "aws:kms", SSEKMSKeyID: "key-1"})
	ctx := context.Background()

	_, err := b.Put(ctx, "folder/my file.pdf", strings.NewReader("data"), simpleblob.PutParams{
		ContentType: "application/pdf",
		Metadata:    map[string]string{"original_name": "my file.pdf"},
	})
	require.NoError(t, err)

	err = b.SetMetadata(ctx, "folder/my file.pdf", map[string]string{"original_name": "my file.pdf", "tag_owner": "bob"})
	require.NoError(t, err)

	require.Len(t, api.copies, 1)
	in := api.copies[0]
	assert.Equal(t, "blobs/folder/my%20file.pdf", aws.ToString(in.CopySource))
	assert.Equal(t, types.MetadataDirectiveReplace, in.MetadataDirective)
	assert.Equal(t, "application/pdf", aws.ToString(in.ContentType))
	assert.Equal(t, types.ServerSideEncryptionAwsKms, in.ServerSideEncryption)
	assert.Equal(t, "key-1", aws.ToString(in.SSEKMSKeyId))

	head, err := b.Head(ctx, "folder/my file.pdf")
	require.NoError(t, err)
	assert.Equal(t, "bob", head.Metadata["tag_owner"])
}

func TestBackend_MetadataTagFallbackRoundTrip(t *testing.T) {
	b, api := newTestBackend(t, Config{})
	api.taggingErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "tagging denied"}
	svc, err := simpleblob.New(simpleblob.WithContainer(b))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.UploadBlob(ctx, simpleblob.UploadRequest{
		FileName:    "Bericht-über.pdf",
		ContentType: "application/pdf",
		Size:        4,
		Body:        strings.NewReader("%PDF"),
	})
	require.NoError(t, err)

	tags := map[string]string{"Author": "alice", "Project": "X", "city": "Zürich"}
	result, err := svc.SetTags(ctx, "Bericht-über.pdf", tags)
	require.NoError(t, err)
	assert.Equal(t, simpleblob.TagMethodMetadata, result.Method)

	got, err := svc.GetTags(ctx, "Bericht-über.pdf")
	require.NoError(t, err)
	assert.Equal(t, tags, got)

	blob, err := svc.GetBlob(ctx, "Bericht-über.pdf")
	require.NoError(t, err)
	assert.Equal(t, "Bericht-über.pdf", blob.Metadata[simpleblob.MetadataOriginalName])

	// Header values sent to S3 are plain ASCII.
	require.NotEmpty(t, api.copies)
	for k, v := range api.copies[len(api.copies)-1].Metadata {
		assert.Equal(t, strings.ToLower(k), k)
		for _, r := range v {
			assert.Less(t, r, rune(0x80), "non-ASCII in %s=%q", k, v)
		}
	}
}

func TestBackend_Delete(t *testing.T) {
	b, _ := newTestBackend(t, Config{})
	ctx := context.Background()

	_, err := b.Put(ctx, "a.pdf", strings.NewReader("data"), simpleblob.PutParams{ContentType: "application/pdf"})
	require.NoError(t, err)
	require.NoError(t, b.Delete(ctx, "a.pdf"))

	_, err = b.Head(ctx, "a.pdf")
	assert.ErrorIs(t, err, simpleblob.ErrBlobNotFound)
}

func TestBackend_URL(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		key    string
		want   string
	}{
		{
			name:   "AWS default",
			config: Config{Bucket: "blobs", Region: "eu-west-1"},
			key:    "uploads/a b.pdf",
			want:   "https://blobs.s3.eu-west-1.amazonaws.com/uploads/a%20b.pdf",
		},
		{
			name:   "Path style endpoint",
			config: Config{Bucket: "blobs", Endpoint: "localhost:9000", UsePathStyle: true},
			key:    "a.pdf",
			want:   "http://localhost:9000/blobs/a.pdf",
		},
		{
			name:   "Virtual host endpoint",
			config: Config{Bucket: "blobs", Endpoint: "storage.example.com", UseSSL: true},
			key:    "a.pdf",
			want:   "https://blobs.storage.example.com/a.pdf",
		},
		{
			name:   "Public base URL",
			config: Config{Bucket: "blobs", PublicBaseURL: "https://cdn.example.com/files/"},
			key:    "x/y.pdf",
			want:   "https://cdn.example.com/files/x/y.pdf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBackend(t, tt.config)
			assert.Equal(t, tt.want, b.URL(tt.key))
		})
	}
}

func TestBackend_CreateBucketIfNotExists(t *testing.T) {
	t.Run("Exists", func(t *testing.T) {
		b, api := newTestBackend(t, Config{Region: "us-east-1"})
		require.NoError(t, b.createBucketIfNotExists(context.Background()))
		assert.Empty(t, api.created)
	})

	t.Run("Missing", func(t *testing.T) {
		b, api := newTestBackend(t, Config{Region: "eu-central-1"})
		api.bucketErr = &types.NotFound{}
		require.NoError(t, b.createBucketIfNotExists(context.Background()))
		require.Len(t, api.created, 1)
		assert.Equal(t, types.BucketLocationConstraint("eu-central-1"),
			api.created[0].CreateBucketConfiguration.LocationConstraint)
	})

	t.Run("Forbidden", func(t *testing.T) {
		b, api := newTestBackend(t, Config{})
		api.bucketErr = &smithy.GenericAPIError{Code: "Forbidden"}
		assert.Error(t, b.createBucketIfNotExists(context.Background()))
	})
}
