package testdeps

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/testcontainers/testcontainers-go"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
)

const (
	accessKey = "minioadmin"
	secretKey = "minioadmin"
	bucket    = "test-bucket"
	region    = "us-east-1"
)

type Env struct {
	t   *testing.T
	cfg *config

	S3URI    string
	S3Bucket string
	S3Key    string
	S3Secret string
	S3Region string

	minio      *minio.Client
	containers []testcontainers.Container
}

type Option func(*config)

type config struct {
	useMinio bool
}

func WithMinio() Option {
	return func(c *config) {
		c.useMinio = true
	}
}

func New(ctx context.Context, t *testing.T, opts ...Option) *Env {
	t.Helper()

	if os.Getenv("SKIP_INTEGRATION") == "1" {
		t.Skip("Skipping integration test")
	}

	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	env := &Env{
		cfg:      cfg,
		S3Bucket: bucket,
		S3Key:    accessKey,
		S3Secret: secretKey,
		S3Region: region,
		t:        t,
	}

	t.Cleanup(func() {
		for _, c := range env.containers {
			c.Terminate(ctx)
		}
	})

	if cfg.useMinio {
		env.startMinio(ctx)
	}

	return env
}

func (e *Env) startMinio(ctx context.Context) {
	minioC, err := tcminio.Run(ctx,
		"minio/minio:latest",
		tcminio.WithUsername(accessKey),
		tcminio.WithPassword(secretKey))
	if err != nil {
		e.t.Fatalf("tcminio.Run: %v", err)
	}
	e.containers = append(e.containers, minioC)

	url, err := minioC.ConnectionString(ctx)
	if err != nil {
		e.t.Fatalf("ConnectionString: %v", err)
	}
	e.S3URI = fmt.Sprintf("http://%s", url)

	e.minio, err = minio.New(url, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		e.t.Fatalf("minio.New: %v", err)
	}

	e.MakeBucket(ctx, bucket)
}

// MakeBucket creates another bucket in the minio server, or fails the test if
// minio is not enabled. Use WithMinio to enable it.
func (e *Env) MakeBucket(ctx context.Context, name string) {
	e.t.Helper()

	if !e.cfg.useMinio {
		e.t.Fatalf("minio is not enabled; use WithMinio to enable it")
	}

	err := e.minio.MakeBucket(ctx, name, minio.MakeBucketOptions{Region: region})
	if err != nil {
		e.t.Fatalf("MakeBucket(%s): %v", name, err)
	}
}

// PutRaw writes an object directly, bypassing any adapter. Useful to simulate
// objects which were never tagged.
func (e *Env) PutRaw(ctx context.Context, bucket, key string, data []byte) {
	e.t.Helper()

	_, err := e.minio.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		e.t.Fatalf("PutObject(%s): %v", key, err)
	}
}
