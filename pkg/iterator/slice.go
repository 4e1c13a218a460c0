package iterator

import (
	"context"
	"slices"
	"strings"

	"github.com/adammck/depot/pkg/api"
)

// Slice iterates over a fixed set of metadata, in the order given.
type Slice struct {
	values []*api.StorageMetadata
	pos    int
	closed bool
}

var _ api.MetadataIterator = (*Slice)(nil)

func NewSlice(values []*api.StorageMetadata) *Slice {
	return &Slice{values: values}
}

func (s *Slice) Next(ctx context.Context) bool {
	if s.closed || s.pos >= len(s.values) {
		return false
	}
	s.pos++
	return true
}

func (s *Slice) Value() *api.StorageMetadata {
	if s.closed || s.pos == 0 || s.pos > len(s.values) {
		return nil
	}
	return s.values[s.pos-1]
}

func (s *Slice) Err() error {
	return nil
}

func (s *Slice) Close() error {
	s.closed = true
	return nil
}

// Filter yields only the values of inner for which keep returns true.
type Filter struct {
	inner api.MetadataIterator
	keep  func(*api.StorageMetadata) bool
}

var _ api.MetadataIterator = (*Filter)(nil)

func NewFilter(inner api.MetadataIterator, keep func(*api.StorageMetadata) bool) *Filter {
	return &Filter{inner: inner, keep: keep}
}

// InBucket returns a predicate which keeps metadata whose storage bucket
// starts with prefix. An empty prefix keeps everything.
func InBucket(prefix string) func(*api.StorageMetadata) bool {
	return func(m *api.StorageMetadata) bool {
		return strings.HasPrefix(m.Location.StorageBucket, prefix)
	}
}

func (f *Filter) Next(ctx context.Context) bool {
	for f.inner.Next(ctx) {
		if f.keep(f.inner.Value()) {
			return true
		}
	}
	return false
}

func (f *Filter) Value() *api.StorageMetadata {
	return f.inner.Value()
}

func (f *Filter) Err() error {
	return f.inner.Err()
}

func (f *Filter) Close() error {
	return f.inner.Close()
}

// Collect drains it, then closes it, and returns the values sorted by storage
// ID with duplicates removed. The first of any duplicates is kept.
func Collect(ctx context.Context, it api.MetadataIterator) ([]*api.StorageMetadata, error) {
	defer it.Close()

	var out []*api.StorageMetadata
	for it.Next(ctx) {
		out = append(out, it.Value())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(out, (*api.StorageMetadata).Compare)
	out = slices.CompactFunc(out, func(a, b *api.StorageMetadata) bool {
		return a.Compare(b) == 0
	})

	return out, nil
}
