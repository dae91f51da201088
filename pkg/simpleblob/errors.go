package simpleblob

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfig indicates missing or invalid settings. It is fatal at startup.
	ErrConfig = errors.New("configuration error")

	// ErrBlobNotFound indicates the object is absent from the container
	ErrBlobNotFound = errors.New("blob not found")

	// ErrValidation is the parent of all user-correctable request errors.
	ErrValidation = errors.New("validation failed")

	ErrInvalidContentType = fmt.Errorf("%w: only PDF files are allowed", ErrValidation)
	ErrFileTooLarge       = fmt.Errorf("%w: file too large, maximum size is 50MB", ErrValidation)
	ErrMissingFileName    = fmt.Errorf("%w: file name is required", ErrValidation)
	ErrInvalidTags        = fmt.Errorf("%w: tags must be provided as an object", ErrValidation)

	// ErrReservedFileName rejects names that would collide with the
	// ".../tags" route of the HTTP API.
	ErrReservedFileName = fmt.Errorf("%w: file name %q is reserved", ErrValidation, ReservedFileName)

	// ErrTagsUnsupported is returned by containers whose native tagging is
	// unavailable or not authorized for the current credentials.
	ErrTagsUnsupported = errors.New("native tags unsupported")
)

// ConfigError lists the settings that prevented initialization.
type ConfigError struct {
	Missing []string
	Reason  string
}

func (e *ConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required settings: "+strings.Join(e.Missing, ", "))
	}
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	if len(parts) == 0 {
		return ErrConfig.Error()
	}
	return fmt.Sprintf("%s: %s", ErrConfig, strings.Join(parts, "; "))
}

func (e *ConfigError) Unwrap() error {
	return ErrConfig
}

// StorageError represents a failed call to a storage backend
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage operation %s failed on backend %s: %v", e.Op, e.Backend, e.Err)
	}
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a user-correctable request error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBlobNotFound)
}
