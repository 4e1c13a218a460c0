package s3

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// rangeChunk is the most fetched by a single ranged GET. It's sixteen FITS
// blocks, so typical headers need one request.
const rangeChunk = 16 * 2880

// rangeReader reads an object in ranged GETs of up to rangeChunk bytes, which
// it buffers and hands out to Read. A consumer which stops early never causes
// the rest to be transferred.
type rangeReader struct {
	ctx    context.Context
	s3     Client
	bucket string
	key    string
	size   int64

	// offset is the position of the next byte to fetch, not to return.
	offset int64
	buf    []byte
	pos    int

	// fetched is the number of bytes transferred, for logging.
	fetched int64
}

func (a *Adapter) newRangeReader(ctx context.Context, key string) (*rangeReader, error) {
	head, err := a.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("HeadObject: %w", err)
	}

	return &rangeReader{
		ctx:    ctx,
		s3:     a.s3,
		bucket: a.bucket,
		key:    key,
		size:   aws.ToInt64(head.ContentLength),
	}, nil
}

func (r *rangeReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if r.pos >= len(r.buf) {
		if r.offset >= r.size {
			return 0, io.EOF
		}
		if err := r.fill(); err != nil {
			return 0, err
		}
	}

	n := copy(p, r.buf[r.pos:])
	r.pos += n
	return n, nil
}

// fill replaces the buffer with the next chunk of the object.
func (r *rangeReader) fill() error {
	n := min(rangeChunk, r.size-r.offset)
	rang := fmt.Sprintf("bytes=%d-%d", r.offset, r.offset+n-1)

	output, err := r.s3.GetObject(r.ctx, &s3.GetObjectInput{
		Bucket: &r.bucket,
		Key:    &r.key,
		Range:  aws.String(rang),
	})
	if err != nil {
		return fmt.Errorf("GetObject: %w", err)
	}
	defer output.Body.Close()

	if cap(r.buf) < int(n) {
		r.buf = make([]byte, rangeChunk)
	}
	r.buf = r.buf[:n]
	r.pos = 0

	read, err := io.ReadFull(output.Body, r.buf)
	r.buf = r.buf[:read]
	r.offset += int64(read)
	r.fetched += int64(read)
	if err != nil {
		return fmt.Errorf("reading %s: %w", rang, err)
	}

	return nil
}
