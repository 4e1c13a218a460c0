package rados

import (
	"fmt"
	"io"
)

// maxEmptyReads is how many consecutive zero-byte backend reads, short of the
// end of the object, are tolerated before giving up.
const maxEmptyReads = 100

// Reader is an io.Reader over a rados object. The size is fixed when the
// reader is opened, so a zero-byte backend read before that point is retried
// and not mistaken for the end.
type Reader struct {
	readAt func(data []byte, offset uint64) (int, error)
	size   uint64
	offset uint64
}

// NewObjectReader reads a single raw object.
func NewObjectReader(ioctx IOContext, oid string) (*Reader, error) {
	st, err := ioctx.Stat(oid)
	if err != nil {
		return nil, fmt.Errorf("Stat(%s): %w", oid, err)
	}

	return &Reader{
		readAt: func(data []byte, offset uint64) (int, error) {
			n, err := ioctx.Read(oid, data, offset)
			if err != nil {
				return n, fmt.Errorf("Read(%s): %w", oid, err)
			}
			return n, nil
		},
		size: st.Size,
	}, nil
}

// NewStripedReader reads a logical object through the striper, following its
// piece chain.
func NewStripedReader(s *Striper, oid string) (*Reader, error) {
	st, err := s.Stat(oid)
	if err != nil {
		return nil, err
	}

	return &Reader{
		readAt: func(data []byte, offset uint64) (int, error) {
			return s.Read(oid, data, offset)
		},
		size: st.Size,
	}, nil
}

// Size returns the size of the object when the reader was opened.
func (r *Reader) Size() uint64 {
	return r.size
}

// Read fills p as far as possible, with as many backend calls as that takes.
// It returns io.EOF only at the end of the object.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if r.offset >= r.size {
		return 0, io.EOF
	}

	want := min(uint64(len(p)), r.size-r.offset)
	filled := uint64(0)
	empty := 0

	for filled < want {
		n, err := r.readAt(p[filled:want], r.offset)
		if err != nil {
			return int(filled), err
		}

		if n == 0 {
			empty++
			if empty > maxEmptyReads {
				return int(filled), fmt.Errorf("reading at %d of %d: %w", r.offset, r.size, io.ErrNoProgress)
			}
			continue
		}

		empty = 0
		filled += uint64(n)
		r.offset += uint64(n)
	}

	return int(filled), nil
}
