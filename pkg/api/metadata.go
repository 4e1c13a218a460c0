package api

import (
	"cmp"
	"fmt"
	"strings"
)

// BucketLength is the number of characters of a storage ID's opaque part
// which make up its storage bucket.
const BucketLength = 5

// StorageLocation identifies a physical object. The StorageID is assigned by
// the adapter at write time and should be considered opaque.
type StorageLocation struct {
	StorageID string

	// StorageBucket is only used to scope enumeration.
	StorageBucket string
}

// NewStorageLocation returns the location for the given scheme and opaque
// token, with the bucket derived from the token.
func NewStorageLocation(scheme, token string) StorageLocation {
	return StorageLocation{
		StorageID:     scheme + ":" + token,
		StorageBucket: BucketOf(token),
	}
}

// Token returns the opaque part of the storage ID, i.e. everything after the
// first colon.
func (l StorageLocation) Token() string {
	_, after, ok := strings.Cut(l.StorageID, ":")
	if !ok {
		return l.StorageID
	}
	return after
}

// Scheme returns the backend scheme of the storage ID.
func (l StorageLocation) Scheme() string {
	before, _, ok := strings.Cut(l.StorageID, ":")
	if !ok {
		return ""
	}
	return before
}

func (l StorageLocation) String() string {
	return l.StorageID
}

// Compare orders locations by StorageID. The bucket is not part of the
// identity.
func (l StorageLocation) Compare(other StorageLocation) int {
	return cmp.Compare(l.StorageID, other.StorageID)
}

// BucketOf returns the storage bucket for an opaque token.
func BucketOf(token string) string {
	if len(token) <= BucketLength {
		return token
	}
	return token[:BucketLength]
}

// StorageMetadata describes an object as the backend holds it.
type StorageMetadata struct {
	Location StorageLocation

	// ContentChecksum is an algorithm-qualified digest, e.g. "md5:9e10...".
	ContentChecksum string

	ContentLength int64

	// ArtifactURI is the name under which the catalog tracks this content.
	// Empty until known.
	ArtifactURI string
}

// Compare orders metadata by storage ID.
func (m *StorageMetadata) Compare(other *StorageMetadata) int {
	return m.Location.Compare(other.Location)
}

func (m *StorageMetadata) String() string {
	return fmt.Sprintf("%s (%s, %d bytes, %s)", m.Location.StorageID, m.ContentChecksum, m.ContentLength, m.ArtifactURI)
}

// NewArtifact describes content that the catalog wants stored. It is consumed
// once, by Put.
type NewArtifact struct {
	// ArtifactURI is required.
	ArtifactURI string

	// ContentChecksum is optional. If set, it must equal the checksum of the
	// stored bytes, in the same "md5:<hex>" form.
	ContentChecksum string

	// ContentLength is optional. If set, it must equal the number of bytes
	// stored.
	ContentLength *int64
}
