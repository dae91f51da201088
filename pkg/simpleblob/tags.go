package simpleblob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// TagStrategy reads and writes the tag set of one object.
type TagStrategy interface {
	Method() TagMethod
	GetTags(ctx context.Context, c Container, key string) (map[string]string, error)
	SetTags(ctx context.Context, c Container, key string, tags map[string]string) error
}

// NativeTagStrategy uses the container's own tagging API.
type NativeTagStrategy struct{}

func (NativeTagStrategy) Method() TagMethod { return TagMethodNative }

func (NativeTagStrategy) GetTags(ctx context.Context, c Container, key string) (map[string]string, error) {
	tags, err := c.GetTags(ctx, key)
	if err != nil {
		return nil, err
	}
	if tags == nil {
		tags = map[string]string{}
	}
	return tags, nil
}

func (NativeTagStrategy) SetTags(ctx context.Context, c Container, key string, tags map[string]string) error {
	return c.SetTags(ctx, key, tags)
}

// MetadataTagStrategy emulates tags with "tag_" prefixed user metadata.
type MetadataTagStrategy struct{}

func (MetadataTagStrategy) Method() TagMethod { return TagMethodMetadata }

func (MetadataTagStrategy) GetTags(ctx context.Context, c Container, key string) (map[string]string, error) {
	info, err := c.Head(ctx, key)
	if err != nil {
		return nil, err
	}
	return tagsFromMetadata(info.Metadata), nil
}

func (MetadataTagStrategy) SetTags(ctx context.Context, c Container, key string, tags map[string]string) error {
	info, err := c.Head(ctx, key)
	if err != nil {
		return err
	}
	return c.SetMetadata(ctx, key, mergeTagMetadata(info.Metadata, tags))
}

type tagCapability int32

const (
	capabilityUnknown tagCapability = iota
	capabilityNative
	capabilityMetadata
)

// tagReconciler tries the native strategy first and falls back to the
// metadata strategy. The first native outcome that says something about the
// backend's capability is cached: an ErrTagsUnsupported pins the fallback, a
// success pins native. Later native failures still fall back per call.
type tagReconciler struct {
	native     TagStrategy
	fallback   TagStrategy
	capability atomic.Int32
	logger     *slog.Logger
}

func newTagReconciler(logger *slog.Logger) *tagReconciler {
	return &tagReconciler{
		native:   NativeTagStrategy{},
		fallback: MetadataTagStrategy{},
		logger:   logger,
	}
}

func (r *tagReconciler) strategies() []TagStrategy {
	if tagCapability(r.capability.Load()) == capabilityMetadata {
		return []TagStrategy{r.fallback}
	}
	return []TagStrategy{r.native, r.fallback}
}

func (r *tagReconciler) observe(s TagStrategy, err error) {
	if s.Method() != TagMethodNative {
		return
	}
	switch {
	case err == nil:
		r.capability.CompareAndSwap(int32(capabilityUnknown), int32(capabilityNative))
	case errors.Is(err, ErrTagsUnsupported):
		if r.capability.CompareAndSwap(int32(capabilityUnknown), int32(capabilityMetadata)) {
			r.logger.Info("native tags unavailable, using metadata tags", "error", err)
		}
	}
}

// Get never fails: when every strategy fails the result is an empty map.
func (r *tagReconciler) Get(ctx context.Context, c Container, key string) map[string]string {
	var lastErr error
	for _, s := range r.strategies() {
		tags, err := s.GetTags(ctx, c, key)
		r.observe(s, err)
		if err == nil {
			return tags
		}
		r.logger.Debug("tag read failed", "key", key, "method", s.Method(), "error", err)
		lastErr = err
	}
	r.logger.Warn("tags unavailable, returning empty set", "key", key, "error", lastErr)
	return map[string]string{}
}

// Set reports the method that persisted the tags, or an error when every
// strategy failed.
func (r *tagReconciler) Set(ctx context.Context, c Container, key string, tags map[string]string) (*SetTagsResult, error) {
	valid := ValidateTags(tags)

	var errs []error
	for _, s := range r.strategies() {
		err := s.SetTags(ctx, c, key, valid)
		r.observe(s, err)
		if err == nil {
			return &SetTagsResult{Tags: valid, Method: s.Method()}, nil
		}
		r.logger.Debug("tag write failed", "key", key, "method", s.Method(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", s.Method(), err))
	}
	return nil, fmt.Errorf("failed to set tags for %s: %w", key, errors.Join(errs...))
}

// Method reports the cached capability decision, or "" before the first
// native call settled it.
func (r *tagReconciler) Method() TagMethod {
	switch tagCapability(r.capability.Load()) {
	case capabilityNative:
		return TagMethodNative
	case capabilityMetadata:
		return TagMethodMetadata
	}
	return ""
}
