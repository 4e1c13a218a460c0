package rados

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/adammck/depot/pkg/api"
	"github.com/adammck/depot/pkg/digest"
	"github.com/adammck/depot/pkg/fits"
	"github.com/adammck/depot/pkg/headcache"
	"github.com/adammck/depot/pkg/iterator"
	"github.com/adammck/depot/pkg/rados"
)

const (
	Scheme = "rados"

	DefaultCluster  = "ceph"
	DefaultPool     = "default.rgw.buckets.non-ec"
	DefaultPageSize = 1000

	// BufferSize is the size of each chunk written during Put, and of the
	// copy buffer during Get.
	BufferSize = 1 << 20

	xattrURI = "uri"
	xattrMD5 = "md5"
)

// Adapter stores objects in a rados pool, striped across as many pieces as
// needed. It holds two connections: objects is used for stat, xattrs, and
// listing, and striped for everything which touches content.
type Adapter struct {
	objects rados.Conn
	striped rados.Conn

	pool             string
	pageSize         int
	pieceSize        uint64
	logger           *slog.Logger
	clock            clockwork.Clock
	cache            *headcache.Cache
	deleteOnMismatch bool
	newID            func() string
}

var _ api.StorageAdapter = (*Adapter)(nil) // Type check: implements interface

type Option func(*Adapter)

// WithPool sets the data pool.
func WithPool(pool string) Option {
	return func(a *Adapter) {
		a.pool = pool
	}
}

// WithPageSize sets the maximum number of object names fetched per listing
// page.
func WithPageSize(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.pageSize = n
		}
	}
}

// WithPieceSize sets the size of each piece of a striped object.
func WithPieceSize(n uint64) Option {
	return func(a *Adapter) {
		a.pieceSize = n
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

// WithDeleteOnMismatch makes Put remove the object it wrote when the content
// does not match the declared checksum or length. By default, the object is
// left in place and only a warning is logged.
func WithDeleteOnMismatch() Option {
	return func(a *Adapter) {
		a.deleteOnMismatch = true
	}
}

// New returns an adapter over two established connections, which it takes
// ownership of.
func New(objects, striped rados.Conn, opts ...Option) *Adapter {
	a := &Adapter{
		objects:   objects,
		striped:   striped,
		pool:      DefaultPool,
		pageSize:  DefaultPageSize,
		pieceSize: rados.DefaultPieceSize,
		logger:    slog.Default(),
		clock:     clockwork.NewRealClock(),
		newID:     uuid.NewString,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Config is how to reach the cluster.
type Config struct {
	// Cluster is the cluster name. Default "ceph".
	Cluster string

	// User is the cephx user, without the "client." prefix.
	User string

	// ConfigFile is the path to the cluster config. Default
	// $HOME/.ceph/<cluster>.conf.
	ConfigFile string
}

func (c Config) connConfig() (rados.ConnConfig, error) {
	cluster := c.Cluster
	if cluster == "" {
		cluster = DefaultCluster
	}

	path := c.ConfigFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return rados.ConnConfig{}, fmt.Errorf("UserHomeDir: %w", err)
		}
		path = filepath.Join(home, ".ceph", cluster+".conf")
	}

	return rados.ConnConfig{
		Cluster:    cluster,
		User:       "client." + c.User,
		ConfigFile: path,
	}, nil
}

// Dial connects both handles to the cluster described by cfg. If either
// connection fails, the other is closed and the error returned. There is no
// retry.
func Dial(cfg Config, opts ...Option) (*Adapter, error) {
	cc, err := cfg.connConfig()
	if err != nil {
		return nil, err
	}

	objects, err := rados.Dial(cc)
	if err != nil {
		return nil, fmt.Errorf("Dial(objects): %w", err)
	}

	striped, err := rados.Dial(cc)
	if err != nil {
		objects.Shutdown()
		return nil, fmt.Errorf("Dial(striped): %w", err)
	}

	a := New(objects, striped, opts...)
	a.logger.Debug("connected to cluster", "cluster", cc.Cluster, "user", cc.User, "conf", cc.ConfigFile)
	return a, nil
}

func (a *Adapter) Close() error {
	a.logger.Debug("closing adapter", "cached", a.cache.Len())
	a.objects.Shutdown()
	if a.striped != a.objects {
		a.striped.Shutdown()
	}
	return nil
}

// open returns a context on the data pool. Failure to open one is never
// NotFound, even if the pool is missing; that's a configuration problem.
func (a *Adapter) open(op string, conn rados.Conn) (rados.IOContext, error) {
	ioctx, err := conn.OpenIOContext(a.pool)
	if err != nil {
		kind := api.KindBackendEngagement
		if errors.Is(err, rados.ErrTransient) {
			kind = api.KindTransient
		}
		return nil, api.NewError(kind, op, "", err)
	}
	return ioctx, nil
}

func (a *Adapter) Put(ctx context.Context, art api.NewArtifact, r io.Reader) (*api.StorageMetadata, error) {
	if art.ArtifactURI == "" {
		return nil, api.ErrInvalidArtifact
	}

	start := a.clock.Now()
	loc := api.NewStorageLocation(Scheme, a.newID())
	oid := loc.Token()

	ioctx, err := a.open("Put", a.striped)
	if err != nil {
		return nil, err
	}
	defer ioctx.Destroy()

	s := rados.NewStriper(ioctx, a.pieceSize)
	err = s.Create(oid)
	if err != nil {
		return nil, classify("Put", loc.StorageID, err)
	}

	dr := digest.NewReader(r)
	buf := make([]byte, BufferSize)
	var offset uint64

	for {
		n, rerr := io.ReadFull(dr, buf)
		if n > 0 {
			err = s.Write(oid, buf[:n], offset)
			if err != nil {
				return nil, classify("Put", loc.StorageID, err)
			}
			offset += uint64(n)
		}

		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return nil, api.NewError(api.KindWriteFailure, "Put", loc.StorageID, rerr)
		}
	}

	checksum := dr.Checksum()
	length := dr.Count()
	a.logger.Debug("wrote object", "id", loc.StorageID, "bytes", length, "elapsed", a.clock.Since(start))

	err = digest.Verify("Put", loc.StorageID, art, checksum, length)
	if err != nil {
		a.mismatch(s, loc, err)
		return nil, err
	}

	err = s.SetXattr(oid, xattrURI, []byte(strings.TrimSpace(art.ArtifactURI)))
	if err != nil {
		return nil, classify("Put", loc.StorageID, err)
	}

	err = s.SetXattr(oid, xattrMD5, []byte(checksum))
	if err != nil {
		return nil, classify("Put", loc.StorageID, err)
	}

	meta := &api.StorageMetadata{
		Location:        loc,
		ContentChecksum: checksum,
		ContentLength:   length,
		ArtifactURI:     strings.TrimSpace(art.ArtifactURI),
	}
	a.cache.Put(meta)

	return meta, nil
}

// mismatch handles an object whose content contradicted the caller's
// expectations. It has no sidecar attributes yet, so is listed with
// placeholders unless removed.
func (a *Adapter) mismatch(s *rados.Striper, loc api.StorageLocation, cause error) {
	if !a.deleteOnMismatch {
		a.logger.Warn("leaving orphaned object after mismatch", "id", loc.StorageID, "err", cause)
		return
	}

	err := s.Remove(loc.Token())
	if err != nil {
		a.logger.Warn("failed to remove object after mismatch", "id", loc.StorageID, "err", err)
		return
	}

	a.logger.Debug("removed object after mismatch", "id", loc.StorageID)
}

// Get reads an object which fits in one piece directly with the object handle,
// and anything larger through the striper.
func (a *Adapter) Get(ctx context.Context, loc api.StorageLocation, w io.Writer) error {
	if err := checkScheme("Get", loc); err != nil {
		return err
	}

	start := a.clock.Now()
	oid := loc.Token()

	ioctx, err := a.open("Get", a.objects)
	if err != nil {
		return err
	}
	defer ioctx.Destroy()

	st, err := rados.NewStriper(ioctx, a.pieceSize).Stat(oid)
	if err != nil {
		return classify("Get", loc.StorageID, err)
	}

	var r *rados.Reader
	if st.Size <= a.pieceSize {
		r, err = rados.NewObjectReader(ioctx, oid)
	} else {
		sctx, serr := a.open("Get", a.striped)
		if serr != nil {
			return serr
		}
		defer sctx.Destroy()
		r, err = rados.NewStripedReader(rados.NewStriper(sctx, a.pieceSize), oid)
	}
	if err != nil {
		return classify("Get", loc.StorageID, err)
	}

	sw := &sink{w: w}
	n, err := io.CopyBuffer(sw, r, make([]byte, BufferSize))
	if err != nil {
		if sw.err != nil || errors.Is(err, io.ErrNoProgress) {
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

	ioctx, err := a.open("GetCutout", a.striped)
	if err != nil {
		return err
	}
	defer ioctx.Destroy()

	r, err := rados.NewStripedReader(rados.NewStriper(ioctx, a.pieceSize), loc.Token())
	if err != nil {
		return classify("GetCutout", loc.StorageID, err)
	}

	h, err := fits.Cutout(w, r)
	if err != nil {
		var se *fits.SinkError
		if errors.As(err, &se) || errors.Is(err, fits.ErrMalformed) || errors.Is(err, io.ErrNoProgress) {
			return api.NewError(api.KindReadFailure, "GetCutout", loc.StorageID, err)
		}
		return classify("GetCutout", loc.StorageID, err)
	}

	extname, ok := h.Value("EXTNAME")
	if !ok {
		extname = "N/A"
	}
	a.logger.Debug("wrote cutout header", "id", loc.StorageID, "extname", extname, "cards", h.Len(), "elapsed", a.clock.Since(start))
	return nil
}

func (a *Adapter) Head(ctx context.Context, loc api.StorageLocation) (*api.StorageMetadata, error) {
	if err := checkScheme("Head", loc); err != nil {
		return nil, err
	}

	if m, ok := a.cache.Get(loc.StorageID); ok {
		return m, nil
	}

	ioctx, err := a.open("Head", a.objects)
	if err != nil {
		return nil, err
	}
	defer ioctx.Destroy()

	bucket := loc.StorageBucket
	if bucket == "" {
		bucket = api.BucketOf(loc.Token())
	}

	m, err := a.head(ioctx, bucket, loc.Token())
	if err != nil {
		return nil, err
	}

	a.cache.Put(m)
	return m, nil
}

// head reconstructs the metadata of one object from its size and xattrs. An
// object which was never tagged gets placeholder values rather than an error,
// so that listings stay complete.
func (a *Adapter) head(ioctx rados.IOContext, bucket, oid string) (*api.StorageMetadata, error) {
	s := rados.NewStriper(ioctx, a.pieceSize)
	id := Scheme + ":" + oid

	st, err := s.Stat(oid)
	if err != nil {
		return nil, classify("Head", id, err)
	}

	attrs, err := s.ListXattrs(oid)
	if err != nil {
		return nil, classify("Head", id, err)
	}

	uri := strings.TrimSpace(string(attrs[xattrURI]))
	if uri == "" {
		uri = api.UnknownArtifactURI(bucket, oid)
	}

	return &api.StorageMetadata{
		Location:        api.StorageLocation{StorageID: id, StorageBucket: bucket},
		ContentChecksum: checksumAttr(attrs[xattrMD5]),
		ContentLength:   int64(st.Size),
		ArtifactURI:     uri,
	}, nil
}

// checksumAttr reads the md5 xattr, which holds a checksum URI. A bare hex
// digest is accepted too.
func checksumAttr(b []byte) string {
	v := strings.TrimSpace(string(b))
	switch {
	case v == "":
		return api.UnknownChecksum
	case strings.Contains(v, ":"):
		return v
	default:
		return "md5:" + v
	}
}

// Delete removes every piece of the object. Failures other than NotFound are
// returned unclassified.
func (a *Adapter) Delete(ctx context.Context, loc api.StorageLocation) error {
	if err := checkScheme("Delete", loc); err != nil {
		return err
	}

	ioctx, err := a.striped.OpenIOContext(a.pool)
	if err != nil {
		return fmt.Errorf("OpenIOContext: %w", err)
	}
	defer ioctx.Destroy()

	a.cache.Remove(loc.StorageID)

	err = rados.NewStriper(ioctx, a.pieceSize).Remove(loc.Token())
	if err != nil {
		if errors.Is(err, rados.ErrNotFound) {
			return api.NewError(api.KindNotFound, "Delete", loc.StorageID, err)
		}
		return fmt.Errorf("Remove: %w", err)
	}

	a.logger.Debug("deleted object", "id", loc.StorageID)
	return nil
}

// Iterator lists the pool in storage ID order.
func (a *Adapter) Iterator(ctx context.Context, bucket string) (api.MetadataIterator, error) {
	ioctx, err := a.open("Iterator", a.objects)
	if err != nil {
		return nil, err
	}

	cur, err := ioctx.List()
	if err != nil {
		ioctx.Destroy()
		return nil, classify("Iterator", "", err)
	}

	return &metadataIterator{
		a:      a,
		ioctx:  ioctx,
		cursor: cur,
		bucket: bucket,
	}, nil
}

func (a *Adapter) List(ctx context.Context, bucket string) ([]*api.StorageMetadata, error) {
	it, err := a.Iterator(ctx, bucket)
	if err != nil {
		return nil, err
	}

	return iterator.Collect(ctx, it)
}

// checkScheme rejects locations which belong to some other backend. They can't
// be here, so are NotFound.
func checkScheme(op string, loc api.StorageLocation) error {
	if loc.Scheme() != Scheme {
		return api.NewError(api.KindNotFound, op, loc.StorageID, fmt.Errorf("not a %s location", Scheme))
	}
	return nil
}

// classify maps an error from the rados layer to the adapter taxonomy.
func classify(op, storageID string, err error) error {
	kind := api.KindBackendEngagement
	switch {
	case errors.Is(err, rados.ErrNotFound):
		kind = api.KindNotFound
	case errors.Is(err, rados.ErrTransient):
		kind = api.KindTransient
	}
	return api.NewError(kind, op, storageID, err)
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
