package simpleblob

import (
	"encoding/hex"
	"mime"
	"path"
	"strings"
	"unicode/utf8"
)

// DisplayName returns the last path segment of a storage key.
func DisplayName(key string) string {
	trimmed := strings.TrimSuffix(key, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

// ValidateTags returns the entries of tags that fit the tag limits.
// Oversize keys or values and empty keys are dropped, never truncated.
func ValidateTags(tags map[string]string) map[string]string {
	valid := make(map[string]string, len(tags))
	for k, v := range tags {
		if k == "" {
			continue
		}
		if utf8.RuneCountInString(k) > MaxTagKeyLength || utf8.RuneCountInString(v) > MaxTagValueLength {
			continue
		}
		valid[k] = v
	}
	return valid
}

// IsPDF reports whether contentType names application/pdf. Media type
// parameters are ignored.
func IsPDF(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == PDFContentType
}

// baseFileName strips any directory part a client sent along with the name.
func baseFileName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

// encodedTagMarker follows TagMetadataPrefix on entries whose tag key is hex
// encoded. Metadata keys are case-insensitive on most stores.
const encodedTagMarker = "x-"

// tagMetadataKey returns the metadata key holding the tag key.
func tagMetadataKey(key string) string {
	return TagMetadataPrefix + encodedTagMarker + hex.EncodeToString([]byte(key))
}

// tagKeyFromMetadata reverses tagMetadataKey. Plain "tag_<key>" entries
// written before keys were encoded are still read as-is.
func tagKeyFromMetadata(metadataKey string) (string, bool) {
	rest, ok := strings.CutPrefix(metadataKey, TagMetadataPrefix)
	if !ok || rest == "" {
		return "", false
	}
	if encoded, ok := strings.CutPrefix(rest, encodedTagMarker); ok {
		if raw, err := hex.DecodeString(encoded); err == nil && len(raw) > 0 && utf8.Valid(raw) {
			return string(raw), true
		}
	}
	return rest, true
}

// tagsFromMetadata extracts emulated tags from user metadata.
func tagsFromMetadata(metadata map[string]string) map[string]string {
	tags := make(map[string]string)
	for k, v := range metadata {
		if key, ok := tagKeyFromMetadata(k); ok {
			tags[key] = v
		}
	}
	return tags
}

// mergeTagMetadata keeps the non-tag entries of metadata and replaces every
// emulated tag with the given set.
func mergeTagMetadata(metadata, tags map[string]string) map[string]string {
	merged := make(map[string]string, len(metadata)+len(tags))
	for k, v := range metadata {
		if strings.HasPrefix(k, TagMetadataPrefix) {
			continue
		}
		merged[k] = v
	}
	for k, v := range tags {
		merged[tagMetadataKey(k)] = v
	}
	return merged
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
