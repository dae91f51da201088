package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-blob/pkg/simpleblob"
	eventspg "github.com/tendant/simple-blob/pkg/simpleblob/events/postgres"
	fsstorage "github.com/tendant/simple-blob/pkg/simpleblob/storage/fs"
	memorystorage "github.com/tendant/simple-blob/pkg/simpleblob/storage/memory"
	s3storage "github.com/tendant/simple-blob/pkg/simpleblob/storage/s3"
)

// Storage backend names accepted by STORAGE_BACKEND
const (
	BackendMemory = "memory"
	BackendFS     = "fs"
	BackendS3     = "s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// ServerConfig represents server configuration for the simple-blob service
type ServerConfig struct {
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"` // development, production, testing

	// Storage configuration
	StorageBackend   string `env:"STORAGE_BACKEND" env-default:"memory"` // memory, fs, s3
	UploadFolder     string `env:"UPLOAD_FOLDER"`
	MemoryNativeTags bool   `env:"MEMORY_NATIVE_TAGS" env-default:"true"`
	ListConcurrency  int    `env:"LIST_CONCURRENCY" env-default:"8"`
	S3               S3Config
	FS               FSConfig

	// HTTP options
	RateLimitWindow      time.Duration `env:"RATE_LIMIT_WINDOW" env-default:"15m"`
	RateLimitMaxRequests int           `env:"RATE_LIMIT_MAX_REQUESTS" env-default:"100"`
	StaticDir            string        `env:"STATIC_DIR"`

	// Event journal; log only when DatabaseURL is empty
	DatabaseURL    string `env:"DATABASE_URL"`
	EventsDBSchema string `env:"EVENTS_DB_SCHEMA"`
}

// S3Config holds the S3 backend settings
type S3Config struct {
	Bucket                 string `env:"S3_BUCKET"`
	Region                 string `env:"S3_REGION"`
	AccessKeyID            string `env:"S3_ACCESS_KEY_ID"`
	SecretAccessKey        string `env:"S3_SECRET_ACCESS_KEY"`
	Endpoint               string `env:"S3_ENDPOINT"`
	UseSSL                 bool   `env:"S3_USE_SSL" env-default:"true"`
	UsePathStyle           bool   `env:"S3_USE_PATH_STYLE" env-default:"false"`
	EnableSSE              bool   `env:"S3_ENABLE_SSE" env-default:"false"`
	SSEAlgorithm           string `env:"S3_SSE_ALGORITHM" env-default:"AES256"`
	SSEKMSKeyID            string `env:"S3_SSE_KMS_KEY_ID"`
	CreateBucketIfNotExist bool   `env:"S3_CREATE_BUCKET_IF_NOT_EXIST" env-default:"false"`
	PublicBaseURL          string `env:"S3_PUBLIC_BASE_URL"`
}

// FSConfig holds the filesystem backend settings
type FSConfig struct {
	BaseDir    string `env:"FS_BASE_DIR"`
	URLPrefix  string `env:"FS_URL_PREFIX"`
	NativeTags bool   `env:"FS_NATIVE_TAGS" env-default:"false"`
}

func (c S3Config) backendConfig() s3storage.Config {
	return s3storage.Config{
		Region:                 c.Region,
		Bucket:                 c.Bucket,
		AccessKeyID:            c.AccessKeyID,
		SecretAccessKey:        c.SecretAccessKey,
		Endpoint:               c.Endpoint,
		UseSSL:                 c.UseSSL,
		UsePathStyle:           c.UsePathStyle,
		PublicBaseURL:          c.PublicBaseURL,
		EnableSSE:              c.EnableSSE,
		SSEAlgorithm:           c.SSEAlgorithm,
		SSEKMSKeyID:            c.SSEKMSKeyID,
		CreateBucketIfNotExist: c.CreateBucketIfNotExist,
	}
}

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:                 "8080",
		Environment:          "development",
		StorageBackend:       BackendMemory,
		MemoryNativeTags:     true,
		ListConcurrency:      8,
		RateLimitWindow:      15 * time.Minute,
		RateLimitMaxRequests: 100,
		S3: S3Config{
			UseSSL:       true,
			SSEAlgorithm: "AES256",
		},
	}
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return &simpleblob.ConfigError{Missing: []string{"PORT"}}
	}

	switch c.StorageBackend {
	case BackendMemory:
	case BackendFS:
		if c.FS.BaseDir == "" {
			return &simpleblob.ConfigError{Missing: []string{"FS_BASE_DIR"}}
		}
	case BackendS3:
		if err := c.S3.backendConfig().Validate(); err != nil {
			return err
		}
	default:
		return &simpleblob.ConfigError{
			Reason: fmt.Sprintf("unsupported STORAGE_BACKEND %q (use 'memory', 'fs' or 's3')", c.StorageBackend),
		}
	}

	if c.RateLimitWindow <= 0 || c.RateLimitMaxRequests <= 0 {
		return &simpleblob.ConfigError{Reason: "RATE_LIMIT_WINDOW and RATE_LIMIT_MAX_REQUESTS must be positive"}
	}

	if c.DatabaseURL != "" &&
		!strings.HasPrefix(c.DatabaseURL, "postgres://") &&
		!strings.HasPrefix(c.DatabaseURL, "postgresql://") {
		return &simpleblob.ConfigError{
			Reason: "unsupported DATABASE_URL format (use 'postgresql://...')",
		}
	}

	return nil
}

// IsProduction reports whether the server runs in production mode.
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// Opener returns the lazy container factory for the configured backend.
func (c *ServerConfig) Opener() (simpleblob.ContainerOpener, error) {
	switch c.StorageBackend {
	case BackendMemory:
		var opts []memorystorage.Option
		if !c.MemoryNativeTags {
			opts = append(opts, memorystorage.WithoutNativeTags())
		}
		return simpleblob.StaticOpener(memorystorage.New(opts...)), nil
	case BackendFS:
		fsConfig := fsstorage.Config{
			BaseDir:    c.FS.BaseDir,
			URLPrefix:  c.FS.URLPrefix,
			NativeTags: c.FS.NativeTags,
		}
		return func(context.Context) (simpleblob.Container, error) {
			return fsstorage.New(fsConfig)
		}, nil
	case BackendS3:
		return s3storage.Opener(c.S3.backendConfig()), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", c.StorageBackend)
	}
}

// BuildService creates a Service instance from the server configuration.
// Extra options are applied after the configured ones.
func (c *ServerConfig) BuildService(extra ...simpleblob.Option) (simpleblob.Service, error) {
	opener, err := c.Opener()
	if err != nil {
		return nil, fmt.Errorf("failed to build storage backend %s: %w", c.StorageBackend, err)
	}

	options := []simpleblob.Option{
		simpleblob.WithContainerOpener(opener),
		simpleblob.WithUploadFolder(c.UploadFolder),
		simpleblob.WithListConcurrency(c.ListConcurrency),
	}
	options = append(options, extra...)

	return simpleblob.New(options...)
}

// BuildEventSink returns the Postgres journal when DATABASE_URL is set and a
// log sink otherwise. The returned cleanup releases the connection pool.
func (c *ServerConfig) BuildEventSink(ctx context.Context, logger *slog.Logger) (simpleblob.EventSink, func(), error) {
	if c.DatabaseURL == "" {
		return simpleblob.NewLogEventSink(logger), func() {}, nil
	}

	cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema := c.EventsDBSchema; schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	journal := eventspg.NewWithPool(pool)
	if err := journal.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return journal, pool.Close, nil
}
