package integrationtest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adammck/depot/pkg/api"
	"github.com/adammck/depot/pkg/config"
	radosstore "github.com/adammck/depot/pkg/impl/storage/rados"
	"github.com/adammck/depot/pkg/rados"
)

// adapters returns one of each adapter. The rados one runs over the in-memory
// fake, and the s3 one over the minio container.
func adapters(t *testing.T) map[string]api.StorageAdapter {
	ctx := context.Background()
	out := map[string]api.StorageAdapter{}

	for _, backend := range []string{config.BackendMock, config.BackendS3} {
		cfg, err := config.FromEnv(config.WithBackend(backend), config.WithHeadCacheSize(16))
		require.NoError(t, err)

		a, err := cfg.Open(ctx, nil)
		require.NoError(t, err)
		t.Cleanup(func() { a.Close() })
		out[backend] = a
	}

	f := rados.NewFake(radosstore.DefaultPool)
	out[config.BackendRados] = radosstore.New(f, f, radosstore.WithPieceSize(4096), radosstore.WithPageSize(3))

	return out
}

func md5sum(b []byte) string {
	sum := md5.Sum(b)
	return "md5:" + hex.EncodeToString(sum[:])
}

func eachAdapter(t *testing.T, fn func(t *testing.T, ctx context.Context, a api.StorageAdapter)) {
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, context.Background(), a)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	eachAdapter(t, func(t *testing.T, ctx context.Context, a api.StorageAdapter) {
		for _, size := range []int{0, 1, 4096, 10000} {
			data := bytes.Repeat([]byte{'x'}, size)
			n := int64(size)

			m, err := a.Put(ctx, api.NewArtifact{
				ArtifactURI:     fmt.Sprintf("cadc:TEST/%d", size),
				ContentChecksum: md5sum(data),
				ContentLength:   &n,
			}, bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, md5sum(data), m.ContentChecksum)
			assert.Equal(t, n, m.ContentLength)
			assert.Equal(t, api.BucketOf(m.Location.Token()), m.Location.StorageBucket)

			var buf bytes.Buffer
			require.NoError(t, a.Get(ctx, m.Location, &buf))
			assert.Equal(t, size, buf.Len())

			h, err := a.Head(ctx, m.Location)
			require.NoError(t, err)
			assert.Equal(t, m, h)
		}
	})
}

func TestSameContentDistinctIDs(t *testing.T) {
	eachAdapter(t, func(t *testing.T, ctx context.Context, a api.StorageAdapter) {
		m1, err := a.Put(ctx, api.NewArtifact{ArtifactURI: "cadc:TEST/a"}, strings.NewReader("same"))
		require.NoError(t, err)
		m2, err := a.Put(ctx, api.NewArtifact{ArtifactURI: "cadc:TEST/a"}, strings.NewReader("same"))
		require.NoError(t, err)

		assert.NotEqual(t, m1.Location.StorageID, m2.Location.StorageID)
		assert.Equal(t, m1.ContentChecksum, m2.ContentChecksum)
	})
}

func TestDeleteThenNotFound(t *testing.T) {
	eachAdapter(t, func(t *testing.T, ctx context.Context, a api.StorageAdapter) {
		m, err := a.Put(ctx, api.NewArtifact{ArtifactURI: "cadc:TEST/a"}, strings.NewReader("doomed"))
		require.NoError(t, err)

		require.NoError(t, a.Delete(ctx, m.Location))
		assert.ErrorIs(t, a.Delete(ctx, m.Location), api.ErrNotFound)
		assert.ErrorIs(t, a.Get(ctx, m.Location, io.Discard), api.ErrNotFound)

		_, err = a.Head(ctx, m.Location)
		assert.ErrorIs(t, err, api.ErrNotFound)
	})
}

func TestMismatch(t *testing.T) {
	eachAdapter(t, func(t *testing.T, ctx context.Context, a api.StorageAdapter) {
		_, err := a.Put(ctx, api.NewArtifact{
			ArtifactURI:     "cadc:TEST/a",
			ContentChecksum: md5sum([]byte("something else")),
		}, strings.NewReader("hello"))
		require.ErrorIs(t, err, api.ErrChecksumMismatch)

		var e *api.Error
		require.ErrorAs(t, err, &e)
		assert.NotEmpty(t, e.StorageID)
	})
}

func TestListIsSortedAndScoped(t *testing.T) {
	eachAdapter(t, func(t *testing.T, ctx context.Context, a api.StorageAdapter) {
		var put []*api.StorageMetadata
		for i := 0; i < 7; i++ {
			m, err := a.Put(ctx, api.NewArtifact{ArtifactURI: fmt.Sprintf("cadc:TEST/list-%d", i)}, strings.NewReader("x"))
			require.NoError(t, err)
			put = append(put, m)
		}

		all, err := a.List(ctx, "")
		require.NoError(t, err)
		assert.True(t, slices.IsSortedFunc(all, (*api.StorageMetadata).Compare))
		assert.Len(t, slices.CompactFunc(slices.Clone(all), func(x, y *api.StorageMetadata) bool {
			return x.Compare(y) == 0
		}), len(all))

		for _, m := range put {
			assert.True(t, slices.ContainsFunc(all, func(o *api.StorageMetadata) bool {
				return o.Location.StorageID == m.Location.StorageID
			}), m.Location.StorageID)
		}

		prefix := put[0].Location.StorageBucket[:1]
		scoped, err := a.List(ctx, prefix)
		require.NoError(t, err)
		require.NotEmpty(t, scoped)
		for _, m := range scoped {
			assert.True(t, strings.HasPrefix(m.Location.StorageBucket, prefix))
		}
	})
}

func TestCutout(t *testing.T) {
	var unit bytes.Buffer
	for _, c := range []string{"SIMPLE  =                    T", "NAXIS   =                    1", "NAXIS1  =                   16", "END"} {
		unit.WriteString(fmt.Sprintf("%-80s", c))
	}
	unit.WriteString(strings.Repeat(" ", 2880-unit.Len()))
	unit.Write(bytes.Repeat([]byte{0xff}, 2880))
	src := append(slices.Clone(unit.Bytes()), unit.Bytes()...)

	eachAdapter(t, func(t *testing.T, ctx context.Context, a api.StorageAdapter) {
		m, err := a.Put(ctx, api.NewArtifact{ArtifactURI: "cadc:TEST/a.fits"}, bytes.NewReader(src))
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, a.GetCutout(ctx, m.Location, &buf, []string{"[0]"}))
		assert.Equal(t, 2880, buf.Len())
		assert.NotContains(t, buf.String(), "\xff")

		buf.Reset()
		require.NoError(t, a.GetCutout(ctx, m.Location, &buf, nil))
		assert.Equal(t, src, buf.Bytes())
	})
}
