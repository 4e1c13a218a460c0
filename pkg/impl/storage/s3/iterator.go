package s3

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/adammck/depot/pkg/api"
)

// metadataIterator pages through ListObjects by marker, and heads each key as
// it's yielded.
type metadataIterator struct {
	a      *Adapter
	prefix string

	buf     []string
	pos     int
	marker  string
	started bool
	done    bool

	current *api.StorageMetadata
	err     error
	closed  bool
}

var _ api.MetadataIterator = (*metadataIterator)(nil)

func (it *metadataIterator) Next(ctx context.Context) bool {
	if it.err != nil || it.closed {
		return false
	}

	for {
		if err := ctx.Err(); err != nil {
			it.err = err
			return false
		}

		if it.pos < len(it.buf) {
			key := it.buf[it.pos]
			it.pos++

			m, err := it.a.head(ctx, key)
			if err != nil {
				if api.KindOf(err) == api.KindNotFound {
					// deleted since it was listed
					it.a.logger.Debug("skipping vanished object", "key", key)
					continue
				}
				it.err = err
				return false
			}

			it.current = m
			return true
		}

		if it.done {
			return false
		}

		if !it.fill(ctx) {
			return false
		}
	}
}

// fill fetches the next page.
func (it *metadataIterator) fill(ctx context.Context) bool {
	in := &s3.ListObjectsInput{
		Bucket: &it.a.bucket,
	}
	if it.prefix != "" {
		in.Prefix = aws.String(it.prefix)
	}
	if it.started {
		in.Marker = aws.String(it.marker)
	}
	if it.a.maxKeys > 0 {
		in.MaxKeys = aws.Int32(it.a.maxKeys)
	}

	out, err := it.a.s3.ListObjects(ctx, in)
	if err != nil {
		it.err = classify("Iterator", "", fmt.Errorf("ListObjects: %w", err))
		return false
	}
	it.started = true

	it.buf = it.buf[:0]
	it.pos = 0
	last := ""
	for _, obj := range out.Contents {
		last = aws.ToString(obj.Key)

		// the prefix may be longer than a bucket
		if !strings.HasPrefix(api.BucketOf(last), it.prefix) {
			continue
		}
		it.buf = append(it.buf, last)
	}

	// NextMarker is only returned when a delimiter is given, so fall back to
	// the last key of a truncated page.
	it.marker = ""
	if aws.ToBool(out.IsTruncated) {
		it.marker = aws.ToString(out.NextMarker)
		if it.marker == "" {
			it.marker = last
		}
	}

	if it.marker == "" {
		it.done = true
	}

	it.a.logger.Debug("listed page", "keys", len(it.buf), "marker", it.marker, "done", it.done)
	return true
}

func (it *metadataIterator) Value() *api.StorageMetadata {
	return it.current
}

func (it *metadataIterator) Err() error {
	return it.err
}

func (it *metadataIterator) Close() error {
	it.closed = true
	return nil
}
