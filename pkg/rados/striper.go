package rados

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultPieceSize is the default osd_max_object_size.
const DefaultPieceSize = 128 << 20

// pieceSuffixLen is the length of ".%016x".
const pieceSuffixLen = 17

// Striper stores logical objects larger than a single rados object as a chain
// of pieces. Piece zero has the logical name and carries the xattrs, and
// piece i > 0 is named PieceName(oid, i). Every piece but the last is exactly
// PieceSize bytes, so an object no larger than one piece is just a plain
// object.
type Striper struct {
	ioctx     IOContext
	pieceSize uint64
}

// NewStriper wraps an IOContext. A pieceSize of zero means DefaultPieceSize.
func NewStriper(ioctx IOContext, pieceSize uint64) *Striper {
	if pieceSize == 0 {
		pieceSize = DefaultPieceSize
	}

	return &Striper{
		ioctx:     ioctx,
		pieceSize: pieceSize,
	}
}

// PieceName returns the name of the i'th piece of oid.
func PieceName(oid string, i uint64) string {
	if i == 0 {
		return oid
	}
	return fmt.Sprintf("%s.%016x", oid, i)
}

// IsPieceName reports whether name is a continuation piece, i.e. anything but
// piece zero, and so should not be listed as an object itself.
func IsPieceName(name string) bool {
	if len(name) <= pieceSuffixLen {
		return false
	}

	suffix := name[len(name)-pieceSuffixLen:]
	if suffix[0] != '.' {
		return false
	}

	return strings.Trim(suffix[1:], "0123456789abcdef") == ""
}

// Create creates piece zero of a new, empty logical object.
func (s *Striper) Create(oid string) error {
	err := s.ioctx.Create(oid)
	if err != nil {
		return fmt.Errorf("Create(%s): %w", oid, err)
	}
	return nil
}

// Write writes data to the logical object at the given offset, splitting it
// across piece boundaries as needed.
func (s *Striper) Write(oid string, data []byte, offset uint64) error {
	for len(data) > 0 {
		idx, within := offset/s.pieceSize, offset%s.pieceSize
		n := min(uint64(len(data)), s.pieceSize-within)

		err := s.ioctx.Write(PieceName(oid, idx), data[:n], within)
		if err != nil {
			return fmt.Errorf("Write(%s): %w", PieceName(oid, idx), err)
		}

		data = data[n:]
		offset += n
	}

	return nil
}

// Read reads from the logical object at the given offset. Like a raw object
// read, it returns fewer bytes than requested at a piece boundary or at the
// end of the object, and zero bytes past the end.
func (s *Striper) Read(oid string, data []byte, offset uint64) (int, error) {
	idx, within := offset/s.pieceSize, offset%s.pieceSize
	n := min(uint64(len(data)), s.pieceSize-within)

	read, err := s.ioctx.Read(PieceName(oid, idx), data[:n], within)
	if err != nil {
		if idx > 0 && errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("Read(%s): %w", PieceName(oid, idx), err)
	}

	return read, nil
}

// Stat returns the size of the logical object, which is the sum of its
// pieces. It returns ErrNotFound if piece zero does not exist.
func (s *Striper) Stat(oid string) (ObjectStat, error) {
	st, err := s.ioctx.Stat(oid)
	if err != nil {
		return ObjectStat{}, fmt.Errorf("Stat(%s): %w", oid, err)
	}

	size := st.Size
	for i := uint64(1); size == i*s.pieceSize; i++ {
		st, err := s.ioctx.Stat(PieceName(oid, i))
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return ObjectStat{}, fmt.Errorf("Stat(%s): %w", PieceName(oid, i), err)
		}
		size += st.Size
	}

	return ObjectStat{Size: size}, nil
}

func (s *Striper) SetXattr(oid, name string, data []byte) error {
	err := s.ioctx.SetXattr(oid, name, data)
	if err != nil {
		return fmt.Errorf("SetXattr(%s, %s): %w", oid, name, err)
	}
	return nil
}

func (s *Striper) ListXattrs(oid string) (map[string][]byte, error) {
	m, err := s.ioctx.ListXattrs(oid)
	if err != nil {
		return nil, fmt.Errorf("ListXattrs(%s): %w", oid, err)
	}
	return m, nil
}

// Remove deletes every piece of the logical object. It returns ErrNotFound if
// piece zero does not exist, in which case nothing is deleted.
func (s *Striper) Remove(oid string) error {
	err := s.ioctx.Delete(oid)
	if err != nil {
		return fmt.Errorf("Delete(%s): %w", oid, err)
	}

	for i := uint64(1); ; i++ {
		err := s.ioctx.Delete(PieceName(oid, i))
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("Delete(%s): %w", PieceName(oid, i), err)
		}
	}
}
