// Package simpleblob provides a small library for managing PDF files kept in
// an object-storage container: listing the objects under a configured prefix,
// uploading and deleting them, and reading or writing per-object tags.
//
// A Service is built from a Client that owns exactly one Container handle.
// Container implementations (memory, filesystem, S3) live under the storage
// subpackages. The handle is opened lazily on first use and memoized for the
// lifetime of the Client.
//
// Tags
//
// Tags are stored with the container's native tagging support when it is
// available. When native tagging is missing or not authorized, tags are
// emulated with user metadata entries prefixed with "tag_". The tag key is
// hex encoded after the prefix because stores such as S3 lower-case metadata
// keys. The decision is made the first time a native call settles it and is
// cached by the Service for its lifetime.
// Whichever path succeeds is authoritative; data written by the other path is
// left in place.
package simpleblob
