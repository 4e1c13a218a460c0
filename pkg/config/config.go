// Package config reads adapter configuration from the environment, and
// constructs the configured adapter.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/adammck/depot/pkg/api"
	"github.com/adammck/depot/pkg/headcache"
	"github.com/adammck/depot/pkg/impl/storage/mock"
	radosstore "github.com/adammck/depot/pkg/impl/storage/rados"
	s3store "github.com/adammck/depot/pkg/impl/storage/s3"
)

const (
	BackendRados = "rados"
	BackendS3    = "s3"
	BackendMock  = "mock"
)

type Config struct {
	// Backend is one of rados, s3, or mock. Default rados.
	Backend string

	Rados         radosstore.Config
	RadosPool     string
	RadosPageSize int

	S3        s3store.Config
	S3MaxKeys int32

	// HeadCacheSize is the number of Head results to cache. Zero disables the
	// cache.
	HeadCacheSize int

	DeleteOnMismatch bool

	LogLevel string
}

type Option func(*Config)

func WithBackend(b string) Option {
	return func(c *Config) {
		c.Backend = b
	}
}

func WithHeadCacheSize(n int) Option {
	return func(c *Config) {
		c.HeadCacheSize = n
	}
}

// FromEnv reads the config from DEPOT_*, RADOS_*, and S3_* variables. Options
// are applied afterwards, so override the environment.
func FromEnv(opts ...Option) (Config, error) {
	cfg := Config{
		Backend:   getEnv("DEPOT_BACKEND", BackendRados),
		LogLevel:  getEnv("DEPOT_LOG_LEVEL", ""),
		RadosPool: getEnv("RADOS_POOL", radosstore.DefaultPool),
		Rados: radosstore.Config{
			Cluster:    getEnv("RADOS_CLUSTER", radosstore.DefaultCluster),
			User:       getEnv("RADOS_USER", ""),
			ConfigFile: getEnv("RADOS_CONF", ""),
		},
		S3: s3store.Config{
			Bucket:          getEnv("S3_BUCKET", ""),
			Region:          getEnv("S3_REGION", ""),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY", ""),
			SecretAccessKey: getEnv("S3_SECRET_KEY", ""),
		},
	}

	var err error

	cfg.RadosPageSize, err = intEnv("RADOS_PAGE_SIZE", radosstore.DefaultPageSize)
	if err != nil {
		return Config{}, err
	}

	maxKeys, err := intEnv("S3_MAX_KEYS", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.S3MaxKeys = int32(maxKeys)

	cfg.S3.UsePathStyle, err = boolEnv("S3_PATH_STYLE", false)
	if err != nil {
		return Config{}, err
	}

	cfg.HeadCacheSize, err = intEnv("DEPOT_HEAD_CACHE_SIZE", 0)
	if err != nil {
		return Config{}, err
	}

	cfg.DeleteOnMismatch, err = boolEnv("DEPOT_DELETE_ON_MISMATCH", false)
	if err != nil {
		return Config{}, err
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendRados, BackendMock:
	case BackendS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for backend %s", c.Backend)
		}
	default:
		return fmt.Errorf("unknown backend: %q", c.Backend)
	}

	if c.HeadCacheSize < 0 {
		return fmt.Errorf("head cache size must not be negative: %d", c.HeadCacheSize)
	}

	return nil
}

// Open connects to the configured backend.
func (c Config) Open(ctx context.Context, logger *slog.Logger) (api.StorageAdapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cache := headcache.New(c.HeadCacheSize)

	switch c.Backend {
	case BackendRados:
		opts := []radosstore.Option{
			radosstore.WithPool(c.RadosPool),
			radosstore.WithPageSize(c.RadosPageSize),
			radosstore.WithLogger(logger),
			radosstore.WithHeadCache(cache),
		}
		if c.DeleteOnMismatch {
			opts = append(opts, radosstore.WithDeleteOnMismatch())
		}

		a, err := radosstore.Dial(c.Rados, opts...)
		if err != nil {
			return nil, fmt.Errorf("rados.Dial: %w", err)
		}
		return a, nil

	case BackendS3:
		opts := []s3store.Option{
			s3store.WithMaxKeys(c.S3MaxKeys),
			s3store.WithLogger(logger),
			s3store.WithHeadCache(cache),
		}
		if c.DeleteOnMismatch {
			opts = append(opts, s3store.WithDeleteOnMismatch())
		}

		a, err := s3store.Connect(ctx, c.S3, opts...)
		if err != nil {
			return nil, fmt.Errorf("s3.Connect: %w", err)
		}
		return a, nil

	case BackendMock:
		opts := []mock.Option{mock.WithLogger(logger)}
		if c.DeleteOnMismatch {
			opts = append(opts, mock.WithDeleteOnMismatch())
		}
		return mock.New(opts...), nil
	}

	return nil, fmt.Errorf("unknown backend: %q", c.Backend)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func intEnv(key string, defaultValue int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, defaultValue bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue, nil
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
