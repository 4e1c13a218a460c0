package api

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStorageLocation(t *testing.T) {
	loc := NewStorageLocation("rados", "0f4c2a9e-1111-2222-3333-444455556666")

	assert.Equal(t, "rados:0f4c2a9e-1111-2222-3333-444455556666", loc.StorageID)
	assert.Equal(t, "0f4c2", loc.StorageBucket)
	assert.Equal(t, "rados", loc.Scheme())
	assert.Equal(t, "0f4c2a9e-1111-2222-3333-444455556666", loc.Token())
}

func TestBucketOfShortToken(t *testing.T) {
	assert.Equal(t, "abc", BucketOf("abc"))
	assert.Equal(t, "", BucketOf(""))
}

func TestTokenWithoutScheme(t *testing.T) {
	loc := StorageLocation{StorageID: "opaque"}
	assert.Equal(t, "opaque", loc.Token())
	assert.Equal(t, "", loc.Scheme())
}

func TestMetadataOrdering(t *testing.T) {
	ms := []*StorageMetadata{
		{Location: StorageLocation{StorageID: "s3:c"}},
		{Location: StorageLocation{StorageID: "s3:a", StorageBucket: "zzz"}},
		{Location: StorageLocation{StorageID: "s3:b"}},
	}

	slices.SortFunc(ms, (*StorageMetadata).Compare)

	ids := []string{}
	for _, m := range ms {
		ids = append(ids, m.Location.StorageID)
	}
	assert.Equal(t, []string{"s3:a", "s3:b", "s3:c"}, ids)

	// bucket is not part of identity
	a := StorageLocation{StorageID: "s3:a", StorageBucket: "x"}
	b := StorageLocation{StorageID: "s3:a", StorageBucket: "y"}
	assert.Equal(t, 0, a.Compare(b))
}

func TestChecksumURI(t *testing.T) {
	sum := []byte{0x00, 0x0f, 0xab}
	assert.Equal(t, "md5:000fab", ChecksumURI("MD5", sum))

	algo, digest, err := ParseChecksum("MD5:000fab")
	require.NoError(t, err)
	assert.Equal(t, "md5", algo)
	assert.Equal(t, "000fab", digest)

	for _, bad := range []string{"", "md5", "md5:", ":abc"} {
		_, _, err := ParseChecksum(bad)
		assert.Error(t, err, bad)
	}
}

func TestUnknownArtifactURI(t *testing.T) {
	assert.Equal(t, "UNKNOWN:0f4c2/0f4c2a9e", UnknownArtifactURI("0f4c2", "0f4c2a9e"))
	assert.Equal(t, "md5:UNKNOWN", UnknownChecksum)
}
