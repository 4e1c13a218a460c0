// Package rados contains the primitives the striped object store adapter is
// built on: a narrow view of a librados cluster connection, a striping layer
// that chains bounded-size pieces into one logical object, and the streaming
// readers over both.
//
// The real cluster binding requires cgo and librados, so it is only compiled
// with the ceph build tag. Without it, Dial fails and only the in-memory Fake
// is available.
package rados

import (
	"errors"
)

var (
	// ErrNotFound is returned (possibly wrapped) when an object or pool
	// does not exist.
	ErrNotFound = errors.New("rados: not found")

	// ErrExists is returned when creating an object which already exists.
	ErrExists = errors.New("rados: already exists")

	// ErrTransient marks errors which are likely to succeed on retry, like
	// timeouts.
	ErrTransient = errors.New("rados: transient failure")
)

// Conn is a connection to a cluster. It is long-lived; IOContexts opened from
// it are not.
type Conn interface {
	OpenIOContext(pool string) (IOContext, error)
	Shutdown()
}

// IOContext is a handle to one pool. Every method is blocking, and none can be
// cancelled.
type IOContext interface {
	// Create creates an empty object, failing with ErrExists if it's already
	// there.
	Create(oid string) error

	Write(oid string, data []byte, offset uint64) error
	Read(oid string, data []byte, offset uint64) (int, error)
	Stat(oid string) (ObjectStat, error)
	ListXattrs(oid string) (map[string][]byte, error)
	SetXattr(oid, name string, data []byte) error
	Delete(oid string) error

	// List starts a listing of every object in the pool, in the order the
	// cluster chooses (effectively by hash).
	List() (ListCursor, error)

	Destroy()
}

// ListCursor is a partial-listing cursor over a pool.
type ListCursor interface {
	// NextObjects returns up to max object names. more is false once the
	// listing is known to be complete. A page may be empty even if more is
	// true.
	NextObjects(max int) (names []string, more bool, err error)
	Close()
}

type ObjectStat struct {
	Size uint64
}

// ConnConfig is what's needed to connect to a cluster.
type ConnConfig struct {
	// Cluster is the cluster name, e.g. "ceph".
	Cluster string

	// User is the cephx id, e.g. "client.admin".
	User string

	// ConfigFile is the path to the ceph.conf.
	ConfigFile string
}
