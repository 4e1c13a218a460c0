package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/adammck/depot/pkg/api"
	"github.com/adammck/depot/pkg/digest"
	"github.com/adammck/depot/pkg/fits"
	"github.com/adammck/depot/pkg/headcache"
	"github.com/adammck/depot/pkg/iterator"
)

const (
	Scheme = "s3"

	// BufferSize is the size of the copy buffer during Get.
	BufferSize = 1 << 20

	tagURI = "uri"
	tagMD5 = "md5"
)

// Client is the subset of *s3.Client used by the adapter.
type Client interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjects(ctx context.Context, params *s3.ListObjectsInput, optFns ...func(*s3.Options)) (*s3.ListObjectsOutput, error)
	PutObjectTagging(ctx context.Context, params *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error)
	GetObjectTagging(ctx context.Context, params *s3.GetObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

var _ Client = (*s3.Client)(nil)

// Adapter stores each object under a random key in a single S3 bucket. The
// artifact URI and checksum are stored as object tags, which are set after
// the upload completes.
type Adapter struct {
	bucket   string
	s3       Client
	uploader *manager.Uploader

	maxKeys          int32
	partSize         int64
	logger           *slog.Logger
	clock            clockwork.Clock
	cache            *headcache.Cache
	deleteOnMismatch bool
	newID            func() string
}

var _ api.StorageAdapter = (*Adapter)(nil) // Type check: implements interface

type Option func(*Adapter)

// WithMaxKeys sets the page size of listings. Zero means the server default.
func WithMaxKeys(n int32) Option {
	return func(a *Adapter) {
		a.maxKeys = n
	}
}

// WithPartSize sets the multipart upload part size.
func WithPartSize(n int64) Option {
	return func(a *Adapter) {
		a.partSize = n
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = l
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(a *Adapter) {
		a.clock = c
	}
}

// WithHeadCache caches the results of Head. A nil cache disables caching.
func WithHeadCache(c *headcache.Cache) Option {
	return func(a *Adapter) {
		a.cache = c
	}
}

// WithDeleteOnMismatch makes Put delete the object it uploaded when the
// content does not match the declared checksum or length.
func WithDeleteOnMismatch() Option {
	return func(a *Adapter) {
		a.deleteOnMismatch = true
	}
}

func New(client Client, bucket string, opts ...Option) *Adapter {
	a := &Adapter{
		bucket: bucket,
		s3:     client,
		logger: slog.Default(),
		clock:  clockwork.NewRealClock(),
		newID:  uuid.NewString,
	}

	for _, opt := range opts {
		opt(a)
	}

	a.uploader = manager.NewUploader(client, func(u *manager.Uploader) {
		if a.partSize > 0 {
			u.PartSize = a.partSize
		}
	})

	return a
}

// Config is how to reach the bucket. Empty fields fall back to the usual AWS
// environment and shared config.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Connect builds a client from cfg and returns an adapter over it. The bucket
// must already exist.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Adapter, error) {
	client, err := connectToS3(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := New(client, cfg.Bucket, opts...)

	err = a.Ping(ctx)
	if err != nil {
		return nil, err
	}

	return a, nil
}

func connectToS3(ctx context.Context, c Config) (*s3.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if c.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(c.Region))
	}
	if c.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("LoadDefaultConfig: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = c.UsePathStyle
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
	}), nil
}

// Ping checks that the bucket exists and is reachable. A missing bucket is a
// configuration problem, so is never NotFound.
func (a *Adapter) Ping(ctx context.Context) error {
	_, err := a.s3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: &a.bucket,
	})
	if err != nil {
		kind := kindOf(err)
		if kind == api.KindNotFound {
			kind = api.KindBackendEngagement
		}
		return api.NewError(kind, "Ping", "", fmt.Errorf("HeadBucket(%s): %w", a.bucket, err))
	}
	return nil
}

// Close releases nothing; the client holds no resources of its own.
func (a *Adapter) Close() error {
	a.logger.Debug("closing adapter", "cached", a.cache.Len())
	return nil
}

func (a *Adapter) Put(ctx context.Context, art api.NewArtifact, r io.Reader) (*api.StorageMetadata, error) {
	if art.ArtifactURI == "" {
		return nil, api.ErrInvalidArtifact
	}

	start := a.clock.Now()
	loc := api.NewStorageLocation(Scheme, a.newID())
	key := loc.Token()
	dr := digest.NewReader(r)

	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
		Body:   dr,
	})
	if err != nil {
		if dr.Err() != nil {
			return nil, api.NewError(api.KindWriteFailure, "Put", loc.StorageID, dr.Err())
		}
		return nil, classify("Put", loc.StorageID, fmt.Errorf("Upload: %w", err))
	}

	checksum := dr.Checksum()
	length := dr.Count()
	a.logger.Debug("uploaded object", "id", loc.StorageID, "bytes", length, "elapsed", a.clock.Since(start))

	err = digest.Verify("Put", loc.StorageID, art, checksum, length)
	if err != nil {
		a.mismatch(ctx, loc, err)
		return nil, err
	}

	uri := strings.TrimSpace(art.ArtifactURI)
	_, err = a.s3.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket: &a.bucket,
		Key:    &key,
		Tagging: &types.Tagging{
			TagSet: []types.Tag{
				{Key: aws.String(tagURI), Value: aws.String(uri)},
				{Key: aws.String(tagMD5), Value: aws.String(checksum)},
			},
		},
	})
	if err != nil {
		return nil, classify("Put", loc.StorageID, fmt.Errorf("PutObjectTagging: %w", err))
	}

	meta := &api.StorageMetadata{
		Location:        loc,
		ContentChecksum: checksum,
		ContentLength:   length,
		ArtifactURI:     uri,
	}
	a.cache.Put(meta)

	return meta, nil
}

func (a *Adapter) mismatch(ctx context.Context, loc api.StorageLocation, cause error) {
	if !a.deleteOnMismatch {
		a.logger.Warn("leaving orphaned object after mismatch", "id", loc.StorageID, "err", cause)
		return
	}

	key := loc.Token()
	_, err := a.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
	})
	if err != nil {
		a.logger.Warn("failed to delete object after mismatch", "id", loc.StorageID, "err", err)
		return
	}

	a.logger.Debug("deleted object after mismatch", "id", loc.StorageID)
}

func (a *Adapter) Get(ctx context.Context, loc api.StorageLocation, w io.Writer) error {
	if err := checkScheme("Get", loc); err != nil {
		return err
	}

	start := a.clock.Now()
	key := loc.Token()

	output, err := a.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
	})
	if err != nil {
		return classify("Get", loc.StorageID, fmt.Errorf("GetObject: %w", err))
	}
	defer output.Body.Close()

	sw := &sink{w: w}
	n, err := io.CopyBuffer(sw, output.Body, make([]byte, BufferSize))
	if err != nil {
		if sw.err != nil {
			return api.NewError(api.KindReadFailure, "Get", loc.StorageID, err)
		}
		return classify("Get", loc.StorageID, err)
	}

	a.logger.Debug("read object", "id", loc.StorageID, "bytes", n, "elapsed", a.clock.Since(start))
	return nil
}

func (a *Adapter) GetCutout(ctx context.Context, loc api.StorageLocation, w io.Writer, cutouts []string) error {
	if len(cutouts) == 0 {
		return a.Get(ctx, loc, w)
	}
	if err := checkScheme("GetCutout", loc); err != nil {
		return err
	}

	start := a.clock.Now()

	r, err := a.newRangeReader(ctx, loc.Token())
	if err != nil {
		return classify("GetCutout", loc.StorageID, err)
	}

	h, err := fits.Cutout(w, r)
	if err != nil {
		var se *fits.SinkError
		if errors.As(err, &se) || errors.Is(err, fits.ErrMalformed) {
			return api.NewError(api.KindReadFailure, "GetCutout", loc.StorageID, err)
		}
		return classify("GetCutout", loc.StorageID, err)
	}

	extname, ok := h.Value("EXTNAME")
	if !ok {
		extname = "N/A"
	}
	a.logger.Debug("wrote cutout header", "id", loc.StorageID, "extname", extname, "fetched", r.fetched, "elapsed", a.clock.Since(start))
	return nil
}

func (a *Adapter) Head(ctx context.Context, loc api.StorageLocation) (*api.StorageMetadata, error) {
	if err := checkScheme("Head", loc); err != nil {
		return nil, err
	}

	if m, ok := a.cache.Get(loc.StorageID); ok {
		return m, nil
	}

	m, err := a.head(ctx, loc.Token())
	if err != nil {
		return nil, err
	}

	a.cache.Put(m)
	return m, nil
}

// head reconstructs the metadata of one object from its size and tags. An
// untagged object gets placeholders.
func (a *Adapter) head(ctx context.Context, key string) (*api.StorageMetadata, error) {
	loc := api.NewStorageLocation(Scheme, key)

	output, err := a.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, classify("Head", loc.StorageID, fmt.Errorf("HeadObject: %w", err))
	}

	tagging, err := a.s3.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: &a.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, classify("Head", loc.StorageID, fmt.Errorf("GetObjectTagging: %w", err))
	}

	tags := map[string]string{}
	for _, t := range tagging.TagSet {
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}

	uri := tags[tagURI]
	if uri == "" {
		uri = api.UnknownArtifactURI(loc.StorageBucket, key)
	}

	checksum := tags[tagMD5]
	if checksum == "" {
		checksum = api.UnknownChecksum
	}

	return &api.StorageMetadata{
		Location:        loc,
		ContentChecksum: checksum,
		ContentLength:   aws.ToInt64(output.ContentLength),
		ArtifactURI:     uri,
	}, nil
}

// Delete removes the object. S3 does not report whether a deleted key existed,
// so it is checked first.
func (a *Adapter) Delete(ctx context.Context, loc api.StorageLocation) error {
	if err := checkScheme("Delete", loc); err != nil {
		return err
	}

	key := loc.Token()

	_, err := a.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
	})
	if err != nil {
		return classify("Delete", loc.StorageID, fmt.Errorf("HeadObject: %w", err))
	}

	a.cache.Remove(loc.StorageID)

	_, err = a.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
	})
	if err != nil {
		return classify("Delete", loc.StorageID, fmt.Errorf("DeleteObject: %w", err))
	}

	a.logger.Debug("deleted object", "id", loc.StorageID)
	return nil
}

// Iterator lists the bucket in key order, which is also storage ID order. The
// storage bucket is a prefix of the key, so it is passed to the server as the
// listing prefix.
func (a *Adapter) Iterator(ctx context.Context, bucket string) (api.MetadataIterator, error) {
	return &metadataIterator{
		a:      a,
		prefix: bucket,
	}, nil
}

func (a *Adapter) List(ctx context.Context, bucket string) ([]*api.StorageMetadata, error) {
	it, err := a.Iterator(ctx, bucket)
	if err != nil {
		return nil, err
	}

	return iterator.Collect(ctx, it)
}

// sink records write errors, to tell them apart from read errors after
// io.Copy.
type sink struct {
	w   io.Writer
	err error
}

func (s *sink) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil && s.err == nil {
		s.err = err
	}
	return n, err
}
