// Package digest computes the checksum and length of a stream as it is read,
// so adapters never have to trust the caller's declared values.
package digest

import (
	"crypto/md5"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/adammck/depot/pkg/api"
)

// Algorithm is the digest algorithm used for content checksums.
const Algorithm = "MD5"

// Reader wraps another reader, accumulating a digest and byte count of
// everything read through it.
type Reader struct {
	r   io.Reader
	h   hash.Hash
	n   int64
	err error
}

func NewReader(r io.Reader) *Reader {
	return &Reader{
		r: r,
		h: md5.New(),
	}
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.h.Write(p[:n])
		r.n += int64(n)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		r.err = err
	}
	return n, err
}

// Count returns the number of bytes read so far.
func (r *Reader) Count() int64 {
	return r.n
}

// Checksum returns the checksum URI of the bytes read so far.
func (r *Reader) Checksum() string {
	return api.ChecksumURI(Algorithm, r.h.Sum(nil))
}

// Err returns the first error, other than EOF, returned by the underlying
// reader. Adapters use it to tell caller stream failures apart from backend
// failures.
func (r *Reader) Err() error {
	return r.err
}

// Writer is an io.Writer which only computes a checksum. Useful to verify
// the content of a stored object.
type Writer struct {
	h hash.Hash
	n int64
}

func NewWriter() *Writer {
	return &Writer{h: md5.New()}
}

func (w *Writer) Write(p []byte) (int, error) {
	w.h.Write(p)
	w.n += int64(len(p))
	return len(p), nil
}

func (w *Writer) Count() int64 {
	return w.n
}

func (w *Writer) Checksum() string {
	return api.ChecksumURI(Algorithm, w.h.Sum(nil))
}

// Verify checks the computed checksum and length against the expectations
// declared by the artifact, if any. The checksum is compared first. The
// storageID names the object which was written, and is attached to the error.
func Verify(op, storageID string, art api.NewArtifact, checksum string, length int64) error {
	if art.ContentChecksum != "" && !sameChecksum(art.ContentChecksum, checksum) {
		return api.NewError(api.KindChecksumMismatch, op, storageID,
			fmt.Errorf("expected %s but was %s", art.ContentChecksum, checksum))
	}

	if art.ContentLength != nil && *art.ContentLength != length {
		return api.NewError(api.KindLengthMismatch, op, storageID,
			fmt.Errorf("expected %d but was %d", *art.ContentLength, length))
	}

	return nil
}

// sameChecksum compares checksum URIs, ignoring the case of the algorithm and
// the hex digest. Unparseable expectations never match.
func sameChecksum(expected, actual string) bool {
	ea, ed, err := api.ParseChecksum(expected)
	if err != nil {
		return false
	}
	aa, ad, err := api.ParseChecksum(actual)
	if err != nil {
		return false
	}
	return ea == aa && strings.EqualFold(ed, ad)
}
