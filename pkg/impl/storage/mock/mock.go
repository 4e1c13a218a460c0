// Package mock is an in-memory StorageAdapter, for the tests of callers which
// need a backend but don't care which.
package mock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/adammck/depot/pkg/api"
	"github.com/adammck/depot/pkg/digest"
	"github.com/adammck/depot/pkg/fits"
	"github.com/adammck/depot/pkg/iterator"
)

const Scheme = "mock"

type object struct {
	data []byte

	// meta is nil until the object is tagged.
	meta *api.StorageMetadata
}

type Store struct {
	mu      sync.RWMutex
	objects map[string]*object

	logger           *slog.Logger
	deleteOnMismatch bool
	newID            func() string
	closed           bool
}

var _ api.StorageAdapter = (*Store)(nil) // Type check: implements interface

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithDeleteOnMismatch makes Put discard content which does not match the
// declared checksum or length, rather than keep it untagged.
func WithDeleteOnMismatch() Option {
	return func(s *Store) {
		s.deleteOnMismatch = true
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		objects: make(map[string]*object),
		logger:  slog.Default(),
		newID:   uuid.NewString,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Store) Put(ctx context.Context, art api.NewArtifact, r io.Reader) (*api.StorageMetadata, error) {
	if art.ArtifactURI == "" {
		return nil, api.ErrInvalidArtifact
	}

	loc := api.NewStorageLocation(Scheme, s.newID())
	dr := digest.NewReader(r)

	data, err := io.ReadAll(dr)
	if err != nil {
		return nil, api.NewError(api.KindWriteFailure, "Put", loc.StorageID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	obj := &object{data: data}
	s.objects[loc.Token()] = obj

	err = digest.Verify("Put", loc.StorageID, art, dr.Checksum(), dr.Count())
	if err != nil {
		if s.deleteOnMismatch {
			delete(s.objects, loc.Token())
		} else {
			s.logger.Warn("leaving orphaned object after mismatch", "id", loc.StorageID, "err", err)
		}
		return nil, err
	}

	obj.meta = &api.StorageMetadata{
		Location:        loc,
		ContentChecksum: dr.Checksum(),
		ContentLength:   dr.Count(),
		ArtifactURI:     strings.TrimSpace(art.ArtifactURI),
	}

	m := *obj.meta
	return &m, nil
}

// Inject stores data under the given token without any sidecar metadata, as
// an orphan left by some other writer would be.
func (s *Store) Inject(token string, data []byte) api.StorageLocation {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[token] = &object{data: bytes.Clone(data)}
	return api.NewStorageLocation(Scheme, token)
}

// Len returns the number of objects stored, tagged or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *Store) lookup(op string, loc api.StorageLocation) (*object, error) {
	obj, ok := s.objects[loc.Token()]
	if !ok || loc.Scheme() != Scheme {
		return nil, api.NewError(api.KindNotFound, op, loc.StorageID, fmt.Errorf("no such object: %s", loc.Token()))
	}
	return obj, nil
}

func (s *Store) Get(ctx context.Context, loc api.StorageLocation, w io.Writer) error {
	s.mu.RLock()
	obj, err := s.lookup("Get", loc)
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	_, err = w.Write(obj.data)
	if err != nil {
		return api.NewError(api.KindReadFailure, "Get", loc.StorageID, err)
	}

	return nil
}

func (s *Store) GetCutout(ctx context.Context, loc api.StorageLocation, w io.Writer, cutouts []string) error {
	if len(cutouts) == 0 {
		return s.Get(ctx, loc, w)
	}

	s.mu.RLock()
	obj, err := s.lookup("GetCutout", loc)
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	_, err = fits.Cutout(w, bytes.NewReader(obj.data))
	if err != nil {
		return api.NewError(api.KindReadFailure, "GetCutout", loc.StorageID, err)
	}

	return nil
}

func (s *Store) Head(ctx context.Context, loc api.StorageLocation) (*api.StorageMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, err := s.lookup("Head", loc)
	if err != nil {
		return nil, err
	}

	return s.metaOf(loc.Token(), obj), nil
}

// metaOf returns a copy of the metadata of obj, with placeholders if it was
// never tagged.
func (s *Store) metaOf(token string, obj *object) *api.StorageMetadata {
	if obj.meta != nil {
		m := *obj.meta
		return &m
	}

	loc := api.NewStorageLocation(Scheme, token)
	return &api.StorageMetadata{
		Location:        loc,
		ContentChecksum: api.UnknownChecksum,
		ContentLength:   int64(len(obj.data)),
		ArtifactURI:     api.UnknownArtifactURI(loc.StorageBucket, token),
	}
}

func (s *Store) Delete(ctx context.Context, loc api.StorageLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.lookup("Delete", loc)
	if err != nil {
		return err
	}

	delete(s.objects, loc.Token())
	return nil
}

// Iterator returns a snapshot of the store, in storage ID order.
func (s *Store) Iterator(ctx context.Context, bucket string) (api.MetadataIterator, error) {
	if s.isClosed() {
		return nil, api.NewError(api.KindBackendEngagement, "Iterator", "", errors.New("store is closed"))
	}

	s.mu.RLock()
	ms := make([]*api.StorageMetadata, 0, len(s.objects))
	for token, obj := range s.objects {
		ms = append(ms, s.metaOf(token, obj))
	}
	s.mu.RUnlock()

	slices.SortFunc(ms, (*api.StorageMetadata).Compare)
	return iterator.NewFilter(iterator.NewSlice(ms), iterator.InBucket(bucket)), nil
}

func (s *Store) List(ctx context.Context, bucket string) ([]*api.StorageMetadata, error) {
	it, err := s.Iterator(ctx, bucket)
	if err != nil {
		return nil, err
	}

	return iterator.Collect(ctx, it)
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close marks the store closed. Only Iterator checks; the contents are kept.
func (s *Store) Close() error {
	s.logger.Debug("closing store", "objects", s.Len())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
