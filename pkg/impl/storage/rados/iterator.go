package rados

import (
	"context"
	"slices"
	"strings"

	"github.com/adammck/depot/pkg/api"
	"github.com/adammck/depot/pkg/rados"
)

// metadataIterator yields the objects of the pool in storage ID order. The
// cluster lists by hash, so on the first call to Next every page of names is
// drained from the cursor and sorted. Only names are held; each object is
// headed as it's yielded. It holds its own IOContext until closed.
type metadataIterator struct {
	a      *Adapter
	ioctx  rados.IOContext
	cursor rados.ListCursor
	bucket string

	names  []string
	pos    int
	listed bool

	current *api.StorageMetadata
	err     error
	closed  bool
}

var _ api.MetadataIterator = (*metadataIterator)(nil)

func (it *metadataIterator) Next(ctx context.Context) bool {
	if it.err != nil || it.closed {
		return false
	}

	if !it.listed && !it.drain(ctx) {
		return false
	}

	for it.pos < len(it.names) {
		if err := ctx.Err(); err != nil {
			it.err = err
			return false
		}

		oid := it.names[it.pos]
		it.pos++

		m, err := it.a.head(it.ioctx, api.BucketOf(oid), oid)
		if err != nil {
			if api.KindOf(err) == api.KindNotFound {
				// deleted since it was listed
				it.a.logger.Debug("skipping vanished object", "oid", oid)
				continue
			}
			it.err = err
			return false
		}

		it.current = m
		return true
	}

	return false
}

// drain reads every page from the cursor, keeping the names of logical
// objects in the bucket, then sorts them. Pages with nothing matching are
// fine; the loop just fetches another.
func (it *metadataIterator) drain(ctx context.Context) bool {
	pages := 0

	for more := true; more; {
		if err := ctx.Err(); err != nil {
			it.err = err
			return false
		}

		var names []string
		var err error
		names, more, err = it.cursor.NextObjects(it.a.pageSize)
		if err != nil {
			it.err = classify("Iterator", "", err)
			return false
		}
		pages++

		for _, name := range names {
			if rados.IsPieceName(name) {
				continue
			}
			if !strings.HasPrefix(api.BucketOf(name), it.bucket) {
				continue
			}
			it.names = append(it.names, name)
		}
	}

	slices.Sort(it.names)
	it.listed = true

	it.cursor.Close()
	it.cursor = nil

	it.a.logger.Debug("listed pool", "pages", pages, "objects", len(it.names), "bucket", it.bucket)
	return true
}

func (it *metadataIterator) Value() *api.StorageMetadata {
	return it.current
}

func (it *metadataIterator) Err() error {
	return it.err
}

func (it *metadataIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true

	if it.cursor != nil {
		it.cursor.Close()
	}
	it.ioctx.Destroy()
	return nil
}
