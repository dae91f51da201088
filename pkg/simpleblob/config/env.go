package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// WithEnv reads ServerConfig from environment variables.
//
// Every field is replaced, with env-default values for unset variables, so
// WithEnv belongs first in the option list. Later options override it.
//
// Server:
//
//	PORT, ENVIRONMENT
//
// Storage:
//
//	STORAGE_BACKEND  - memory (default), fs or s3
//	UPLOAD_FOLDER    - key prefix for stored blobs
//	S3_*             - bucket, region, credentials, endpoint, SSE options
//	FS_*             - base directory, URL prefix, native tags
//
// HTTP:
//
//	RATE_LIMIT_WINDOW, RATE_LIMIT_MAX_REQUESTS, STATIC_DIR
//
// Events:
//
//	DATABASE_URL, EVENTS_DB_SCHEMA
func WithEnv() Option {
	return func(c *ServerConfig) error {
		var fromEnv ServerConfig
		if err := cleanenv.ReadEnv(&fromEnv); err != nil {
			return fmt.Errorf("failed to read configuration from environment: %w", err)
		}
		*c = fromEnv
		return nil
	}
}

// Usage returns a description of the supported environment variables.
func Usage() string {
	var cfg ServerConfig
	desc, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return err.Error()
	}
	return desc
}
