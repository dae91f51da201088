package config

import (
	"fmt"
	"time"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithUploadFolder sets the key prefix under which blobs are stored
func WithUploadFolder(folder string) Option {
	return func(c *ServerConfig) error {
		c.UploadFolder = folder
		return nil
	}
}

// WithMemoryStorage selects the in-memory backend
func WithMemoryStorage(nativeTags bool) Option {
	return func(c *ServerConfig) error {
		c.StorageBackend = BackendMemory
		c.MemoryNativeTags = nativeTags
		return nil
	}
}

// WithFilesystemStorage selects the filesystem backend
func WithFilesystemStorage(baseDir, urlPrefix string, nativeTags bool) Option {
	return func(c *ServerConfig) error {
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.StorageBackend = BackendFS
		c.FS = FSConfig{
			BaseDir:    baseDir,
			URLPrefix:  urlPrefix,
			NativeTags: nativeTags,
		}
		return nil
	}
}

// WithS3Storage selects the S3 backend
func WithS3Storage(s3 S3Config) Option {
	return func(c *ServerConfig) error {
		if s3.Bucket == "" {
			return fmt.Errorf("s3 bucket cannot be empty")
		}
		c.StorageBackend = BackendS3
		c.S3 = s3
		return nil
	}
}

// WithListConcurrency bounds concurrent per-blob lookups during listing
func WithListConcurrency(n int) Option {
	return func(c *ServerConfig) error {
		if n <= 0 {
			return fmt.Errorf("list concurrency must be positive, got: %d", n)
		}
		c.ListConcurrency = n
		return nil
	}
}

// WithRateLimit allows maxRequests per client IP in every window
func WithRateLimit(window time.Duration, maxRequests int) Option {
	return func(c *ServerConfig) error {
		if window <= 0 || maxRequests <= 0 {
			return fmt.Errorf("rate limit window and max requests must be positive")
		}
		c.RateLimitWindow = window
		c.RateLimitMaxRequests = maxRequests
		return nil
	}
}

// WithStaticDir serves files from dir at the root path
func WithStaticDir(dir string) Option {
	return func(c *ServerConfig) error {
		c.StaticDir = dir
		return nil
	}
}

// WithEventJournal records blob events in Postgres
func WithEventJournal(databaseURL, schema string) Option {
	return func(c *ServerConfig) error {
		if databaseURL == "" {
			return fmt.Errorf("database URL is required for the event journal")
		}
		c.DatabaseURL = databaseURL
		c.EventsDBSchema = schema
		return nil
	}
}
