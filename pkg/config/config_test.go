package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adammck/depot/pkg/impl/storage/mock"
	radosstore "github.com/adammck/depot/pkg/impl/storage/rados"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"DEPOT_BACKEND", "RADOS_POOL", "RADOS_CLUSTER", "RADOS_PAGE_SIZE", "DEPOT_HEAD_CACHE_SIZE"} {
		t.Setenv(k, "")
	}

	cfg, err := FromEnv()
	require.NoError(t, err)

	// empty is the same as unset
	assert.Equal(t, BackendRados, cfg.Backend)
	assert.Equal(t, radosstore.DefaultPool, cfg.RadosPool)
	assert.Equal(t, radosstore.DefaultCluster, cfg.Rados.Cluster)
	assert.Equal(t, radosstore.DefaultPageSize, cfg.RadosPageSize)
	assert.Equal(t, 0, cfg.HeadCacheSize)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("DEPOT_BACKEND", "s3")
	t.Setenv("S3_BUCKET", "artifacts")
	t.Setenv("S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("S3_PATH_STYLE", "true")
	t.Setenv("S3_MAX_KEYS", "50")
	t.Setenv("DEPOT_HEAD_CACHE_SIZE", "128")
	t.Setenv("DEPOT_DELETE_ON_MISMATCH", "1")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, BackendS3, cfg.Backend)
	assert.Equal(t, "artifacts", cfg.S3.Bucket)
	assert.Equal(t, "http://localhost:9000", cfg.S3.Endpoint)
	assert.True(t, cfg.S3.UsePathStyle)
	assert.Equal(t, int32(50), cfg.S3MaxKeys)
	assert.Equal(t, 128, cfg.HeadCacheSize)
	assert.True(t, cfg.DeleteOnMismatch)
}

func TestFromEnvOptionsOverride(t *testing.T) {
	t.Setenv("DEPOT_BACKEND", "s3")

	cfg, err := FromEnv(WithBackend(BackendMock), WithHeadCacheSize(7))
	require.NoError(t, err)
	assert.Equal(t, BackendMock, cfg.Backend)
	assert.Equal(t, 7, cfg.HeadCacheSize)
}

func TestFromEnvErrors(t *testing.T) {
	tests := map[string][2]string{
		"bad int":         {"RADOS_PAGE_SIZE", "lots"},
		"bad bool":        {"S3_PATH_STYLE", "maybe"},
		"unknown backend": {"DEPOT_BACKEND", "floppy"},
		"negative cache":  {"DEPOT_HEAD_CACHE_SIZE", "-1"},
	}

	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv("DEPOT_BACKEND", BackendMock)
			t.Setenv(kv[0], kv[1])
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestValidateS3NeedsBucket(t *testing.T) {
	err := Config{Backend: BackendS3}.Validate()
	assert.ErrorContains(t, err, "S3_BUCKET")
}

func TestOpenMock(t *testing.T) {
	a, err := Config{Backend: BackendMock}.Open(context.Background(), nil)
	require.NoError(t, err)
	defer a.Close()
	assert.IsType(t, &mock.Store{}, a)
}

func TestOpenUnknown(t *testing.T) {
	_, err := Config{Backend: "floppy"}.Open(context.Background(), nil)
	assert.Error(t, err)
}
