package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/tendant/simple-blob/pkg/simpleblob"
)

// Config options for the S3 backend
type Config struct {
	Region          string // AWS region
	Bucket          string // S3 bucket name
	AccessKeyID     string // AWS access key ID
	SecretAccessKey string // AWS secret access key
	Endpoint        string // Optional custom endpoint for S3-compatible services
	UseSSL          bool   // Scheme for endpoints given without one
	UsePathStyle    bool   // Use path-style addressing (default: false)
	PublicBaseURL   string // Optional base for object URLs, e.g. a CDN

	// Server-side encryption options
	EnableSSE    bool   // Enable server-side encryption
	SSEAlgorithm string // SSE algorithm (AES256 or aws:kms)
	SSEKMSKeyID  string // Optional KMS key ID for aws:kms algorithm

	// MinIO/S3-compatible service options
	CreateBucketIfNotExist bool // Create bucket if it doesn't exist
}

// API is the subset of the S3 client used by the backend.
type API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	GetObjectTagging(ctx context.Context, params *s3.GetObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error)
	PutObjectTagging(ctx context.Context, params *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Backend is an S3-compatible implementation of the simpleblob.Container interface
type Backend struct {
	client   API
	uploader *manager.Uploader
	bucket   string
	endpoint string
	config   Config
	now      func() time.Time
}

// Validate reports the settings required to reach the bucket.
func (c Config) Validate() error {
	var missing []string
	if c.Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if c.Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if c.AccessKeyID == "" {
		missing = append(missing, "S3_ACCESS_KEY_ID")
	}
	if c.SecretAccessKey == "" {
		missing = append(missing, "S3_SECRET_ACCESS_KEY")
	}
	if len(missing) > 0 {
		return &simpleblob.ConfigError{Missing: missing}
	}
	if c.EnableSSE && c.SSEAlgorithm != "AES256" && c.SSEAlgorithm != "aws:kms" {
		return &simpleblob.ConfigError{Reason: fmt.Sprintf("invalid SSE algorithm %q", c.SSEAlgorithm)}
	}
	return nil
}

// Opener returns a ContainerOpener that builds the backend on first use.
func Opener(config Config) simpleblob.ContainerOpener {
	return func(ctx context.Context) (simpleblob.Container, error) {
		return New(ctx, config)
	}
}

// New creates a new S3-compatible storage backend
func New(ctx context.Context, config Config) (*Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(config.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			config.AccessKeyID,
			config.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := normalizeEndpoint(config.Endpoint, config.UseSSL)

	var s3Options []func(*s3.Options)
	if endpoint != "" {
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = config.UsePathStyle
		})
	}

	backend, err := NewWithClient(s3.NewFromConfig(awsCfg, s3Options...), config)
	if err != nil {
		return nil, err
	}

	if config.CreateBucketIfNotExist {
		if err := backend.createBucketIfNotExists(ctx); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return backend, nil
}

// NewWithClient wraps an existing client. Only the bucket is required.
func NewWithClient(client API, config Config) (*Backend, error) {
	if config.Bucket == "" {
		return nil, &simpleblob.ConfigError{Missing: []string{"S3_BUCKET"}}
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}
	return &Backend{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   config.Bucket,
		endpoint: normalizeEndpoint(config.Endpoint, config.UseSSL),
		config:   config,
		now:      time.Now,
	}, nil
}

func normalizeEndpoint(endpoint string, useSSL bool) string {
	endpoint = strings.TrimSuffix(strings.TrimSpace(endpoint), "/")
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// createBucketIfNotExists creates the bucket if it doesn't exist
func (b *Backend) createBucketIfNotExists(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err == nil {
		return nil
	}

	// MinIO reports a missing bucket in several ways
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) &&
		!strings.Contains(err.Error(), "BadRequest") &&
		!strings.Contains(err.Error(), "NoSuchBucket") {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	createInput := &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	}
	if b.config.Region != "us-east-1" {
		createInput.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(b.config.Region),
		}
	}

	_, err = b.client.CreateBucket(ctx, createInput)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) &&
			(apiErr.ErrorCode() == "BucketAlreadyExists" || apiErr.ErrorCode() == "BucketAlreadyOwnedByYou") {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func (b *Backend) wrap(op, key string, err error) error {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return fmt.Errorf("%w: %s", simpleblob.ErrBlobNotFound, key)
	}
	switch errorCode(err) {
	case "NotFound", "NoSuchKey":
		return fmt.Errorf("%w: %s", simpleblob.ErrBlobNotFound, key)
	}
	return &simpleblob.StorageError{Backend: "s3", Key: key, Op: op, Err: err}
}

// wrapTagging marks errors that mean tagging is unavailable for these
// credentials or on this S3-compatible service.
func (b *Backend) wrapTagging(op, key string, err error) error {
	switch errorCode(err) {
	case "NotImplemented", "XNotImplemented", "AccessDenied", "MethodNotAllowed":
		return &simpleblob.StorageError{
			Backend: "s3",
			Key:     key,
			Op:      op,
			Err:     fmt.Errorf("%w: %w", simpleblob.ErrTagsUnsupported, err),
		}
	}
	return b.wrap(op, key, err)
}

func (b *Backend) applySSE(sse *types.ServerSideEncryption, kmsKeyID **string) {
	if !b.config.EnableSSE {
		return
	}
	switch b.config.SSEAlgorithm {
	case "AES256":
		*sse = types.ServerSideEncryptionAes256
	case "aws:kms":
		*sse = types.ServerSideEncryptionAwsKms
		if b.config.SSEKMSKeyID != "" {
			*kmsKeyID = aws.String(b.config.SSEKMSKeyID)
		}
	}
}

// List pages through ListObjectsV2 under prefix. Listings carry no content
// type or metadata; callers Head the objects that need them.
func (b *Backend) List(ctx context.Context, prefix string) ([]*simpleblob.ObjectInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
	}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var infos []*simpleblob.ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(b.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, b.wrap("list", prefix, err)
		}
		for _, obj := range page.Contents {
			infos = append(infos, &simpleblob.ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
			})
		}
	}
	return infos, nil
}

// Head retrieves metadata for an object in S3
func (b *Backend) Head(ctx context.Context, key string) (*simpleblob.ObjectInfo, error) {
	result, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, b.wrap("head", key, err)
	}

	contentType := "application/octet-stream"
	if result.ContentType != nil {
		contentType = *result.ContentType
	}

	metadata := decodeMetadata(result.Metadata)

	return &simpleblob.ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(result.ContentLength),
		ContentType:  contentType,
		LastModified: aws.ToTime(result.LastModified),
		ETag:         strings.Trim(aws.ToString(result.ETag), `"`),
		Metadata:     metadata,
	}, nil
}

// Put uploads content through the transfer manager
func (b *Backend) Put(ctx context.Context, key string, body io.Reader, params simpleblob.PutParams) (*simpleblob.ObjectInfo, error) {
	counter := &countingReader{r: body}
	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        counter,
		ContentType: aws.String(params.ContentType),
		Metadata:    encodeMetadata(params.Metadata),
	}
	b.applySSE(&input.ServerSideEncryption, &input.SSEKMSKeyId)

	out, err := b.uploader.Upload(ctx, input)
	if err != nil {
		return nil, b.wrap("put", key, err)
	}

	metadata := make(map[string]string, len(params.Metadata))
	for k, v := range params.Metadata {
		metadata[strings.ToLower(k)] = v
	}

	return &simpleblob.ObjectInfo{
		Key:          key,
		Size:         counter.n,
		ContentType:  params.ContentType,
		LastModified: b.now().UTC(),
		ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
		Metadata:     metadata,
	}, nil
}

// Delete deletes content from S3
func (b *Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return b.wrap("delete", key, err)
	}
	return nil
}

// GetTags reads the object's tag set
func (b *Backend) GetTags(ctx context.Context, key string) (map[string]string, error) {
	out, err := b.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, b.wrapTagging("get_tags", key, err)
	}

	tags := make(map[string]string, len(out.TagSet))
	for _, tag := range out.TagSet {
		tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return tags, nil
}

// SetTags replaces the object's tag set
func (b *Backend) SetTags(ctx context.Context, key string, tags map[string]string) error {
	tagSet := make([]types.Tag, 0, len(tags))
	for k, v := range tags {
		tagSet = append(tagSet, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	_, err := b.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:  aws.String(b.bucket),
		Key:     aws.String(key),
		Tagging: &types.Tagging{TagSet: tagSet},
	})
	if err != nil {
		return b.wrapTagging("set_tags", key, err)
	}
	return nil
}

// SetMetadata rewrites user metadata with an in-place copy. S3 stores
// metadata keys in lower case; values are encoded as in Put.
func (b *Backend) SetMetadata(ctx context.Context, key string, metadata map[string]string) error {
	head, err := b.Head(ctx, key)
	if err != nil {
		return err
	}

	input := &s3.CopyObjectInput{
		Bucket:            aws.String(b.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(b.bucket + "/" + escapeKey(key)),
		ContentType:       aws.String(head.ContentType),
		Metadata:          encodeMetadata(metadata),
		MetadataDirective: types.MetadataDirectiveReplace,
	}
	b.applySSE(&input.ServerSideEncryption, &input.SSEKMSKeyId)

	if _, err := b.client.CopyObject(ctx, input); err != nil {
		return b.wrap("set_metadata", key, err)
	}
	return nil
}

// URL returns the public location of key
func (b *Backend) URL(key string) string {
	escaped := escapeKey(key)
	if b.config.PublicBaseURL != "" {
		return strings.TrimSuffix(b.config.PublicBaseURL, "/") + "/" + escaped
	}
	if b.endpoint != "" {
		base, err := url.Parse(b.endpoint)
		if err == nil && !b.config.UsePathStyle {
			base.Host = b.bucket + "." + base.Host
			return strings.TrimSuffix(base.String(), "/") + "/" + escaped
		}
		return b.endpoint + "/" + b.bucket + "/" + escaped
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", b.bucket, b.config.Region, escaped)
}

func escapeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// encodeMetadata turns values that are not plain ASCII into RFC 2047
// encoded-words, the form S3 accepts in x-amz-meta-* headers.
func encodeMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return nil
	}
	encoded := make(map[string]string, len(metadata))
	for k, v := range metadata {
		encoded[k] = mime.BEncoding.Encode("UTF-8", v)
	}
	return encoded
}

func decodeMetadata(metadata map[string]string) map[string]string {
	var dec mime.WordDecoder
	decoded := make(map[string]string, len(metadata))
	for k, v := range metadata {
		if text, err := dec.DecodeHeader(v); err == nil {
			v = text
		}
		decoded[k] = v
	}
	return decoded
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

var _ simpleblob.Container = (*Backend)(nil)
