// This package contains only the types and interfaces shared by the storage
// adapters. The implementations should be in pkg/impl/storage/whatever. To
// avoid circular deps, this package should import nothing from pkg.
package api

import (
	"context"
	"io"
)

// StorageAdapter stores byte streams under backend-chosen identifiers. The
// catalog layer talks only to this interface, so it never knows which
// physical backend holds a given artifact.
type StorageAdapter interface {
	// Put streams r into the backend under a new storage ID. The checksum and
	// length in the returned metadata are computed from the bytes actually
	// written. If the artifact declares an expected checksum or length which
	// disagrees, a ChecksumMismatch or LengthMismatch error is returned; the
	// bytes have already been written by then.
	Put(ctx context.Context, art NewArtifact, r io.Reader) (*StorageMetadata, error)

	// Get writes the whole object to w.
	Get(ctx context.Context, loc StorageLocation, w io.Writer) error

	// GetCutout writes a header-only copy of the first unit of a structured
	// container to w. With no cutouts it behaves exactly like Get.
	GetCutout(ctx context.Context, loc StorageLocation, w io.Writer, cutouts []string) error

	// Head returns the metadata of a single object without transferring its
	// content.
	Head(ctx context.Context, loc StorageLocation) (*StorageMetadata, error)

	// Delete removes the object. Returns NotFound if it does not exist.
	Delete(ctx context.Context, loc StorageLocation) error

	// Iterator returns a single-pass sequence over the stored objects whose
	// storage bucket starts with bucket. Empty bucket means all objects.
	Iterator(ctx context.Context, bucket string) (MetadataIterator, error)

	// List drains Iterator into a slice sorted by storage ID, with no
	// duplicates. Meant for small result sets.
	List(ctx context.Context, bucket string) ([]*StorageMetadata, error)

	// Close releases the client handles held by the adapter.
	Close() error
}

// MetadataIterator is a forward-only sequence of StorageMetadata. It is not
// safe for concurrent use, and cannot be restarted.
type MetadataIterator interface {
	// Next advances the iterator and returns true if a value is available.
	Next(ctx context.Context) bool

	// Value returns the current metadata. Only valid after Next returns true.
	Value() *StorageMetadata

	// Err returns any error encountered during iteration.
	Err() error

	// Close releases resources associated with the iterator.
	Close() error
}
