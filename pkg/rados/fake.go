package rados

import (
	"cmp"
	"errors"
	"fmt"
	"hash/fnv"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Operation names passed to Fake.Fault.
const (
	OpOpen       = "open"
	OpCreate     = "create"
	OpWrite      = "write"
	OpRead       = "read"
	OpStat       = "stat"
	OpListXattrs = "listxattrs"
	OpSetXattr   = "setxattr"
	OpDelete     = "delete"
	OpList       = "list"
)

// Fake is an in-memory cluster, for tests. It lists objects in hash order, as
// a real cluster does, and is safe for concurrent use.
type Fake struct {
	mu       sync.Mutex
	pools    map[string]map[string]*fakeObject
	shutdown bool

	opened   int
	released int

	// Fault, if set, is called before every operation. A non-nil return is
	// returned from the operation, which then has no effect.
	Fault func(op, oid string) error

	// ListGap is the number of empty pages returned by list cursors between
	// each non-empty page.
	ListGap int
}

type fakeObject struct {
	data   []byte
	xattrs map[string][]byte
}

var _ Conn = (*Fake)(nil)

// NewFake returns a cluster containing the given (empty) pools.
func NewFake(pools ...string) *Fake {
	f := &Fake{
		pools: map[string]map[string]*fakeObject{},
	}
	for _, p := range pools {
		f.pools[p] = map[string]*fakeObject{}
	}
	return f
}

func (f *Fake) fault(op, oid string) error {
	if f.Fault == nil {
		return nil
	}
	return f.Fault(op, oid)
}

func (f *Fake) OpenIOContext(pool string) (IOContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.shutdown {
		return nil, errors.New("fake: connection is shut down")
	}
	if err := f.fault(OpOpen, pool); err != nil {
		return nil, err
	}

	objs, ok := f.pools[pool]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", pool, ErrNotFound)
	}

	f.opened++
	return &fakeIOContext{f: f, objs: objs}, nil
}

func (f *Fake) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
}

// IsShutdown reports whether Shutdown was called.
func (f *Fake) IsShutdown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdown
}

// Opened returns the number of IOContexts opened so far.
func (f *Fake) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// Outstanding returns the number of IOContexts which have not been destroyed.
func (f *Fake) Outstanding() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened - f.released
}

// Objects returns the names of every object in the pool, sorted.
func (f *Fake) Objects(pool string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Sorted(maps.Keys(f.pools[pool]))
}

// Put stores an object directly, bypassing Fault.
func (f *Fake) Put(pool, oid string, data []byte, xattrs map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pools[pool] == nil {
		f.pools[pool] = map[string]*fakeObject{}
	}

	obj := &fakeObject{data: slices.Clone(data), xattrs: map[string][]byte{}}
	for k, v := range xattrs {
		obj.xattrs[k] = []byte(v)
	}
	f.pools[pool][oid] = obj
}

type fakeIOContext struct {
	f         *Fake
	objs      map[string]*fakeObject
	destroyed bool
}

func (c *fakeIOContext) lock(op, oid string) error {
	c.f.mu.Lock()
	if c.destroyed {
		c.f.mu.Unlock()
		return errors.New("fake: ioctx is destroyed")
	}
	if err := c.f.fault(op, oid); err != nil {
		c.f.mu.Unlock()
		return err
	}
	return nil
}

func (c *fakeIOContext) get(oid string) (*fakeObject, error) {
	obj, ok := c.objs[oid]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", oid, ErrNotFound)
	}
	return obj, nil
}

func (c *fakeIOContext) Create(oid string) error {
	if err := c.lock(OpCreate, oid); err != nil {
		return err
	}
	defer c.f.mu.Unlock()

	if _, ok := c.objs[oid]; ok {
		return fmt.Errorf("object %s: %w", oid, ErrExists)
	}
	c.objs[oid] = &fakeObject{xattrs: map[string][]byte{}}
	return nil
}

func (c *fakeIOContext) Write(oid string, data []byte, offset uint64) error {
	if err := c.lock(OpWrite, oid); err != nil {
		return err
	}
	defer c.f.mu.Unlock()

	obj, ok := c.objs[oid]
	if !ok {
		obj = &fakeObject{xattrs: map[string][]byte{}}
		c.objs[oid] = obj
	}

	end := offset + uint64(len(data))
	if uint64(len(obj.data)) < end {
		obj.data = append(obj.data, make([]byte, end-uint64(len(obj.data)))...)
	}
	copy(obj.data[offset:], data)
	return nil
}

func (c *fakeIOContext) Read(oid string, data []byte, offset uint64) (int, error) {
	if err := c.lock(OpRead, oid); err != nil {
		return 0, err
	}
	defer c.f.mu.Unlock()

	obj, err := c.get(oid)
	if err != nil {
		return 0, err
	}
	if offset >= uint64(len(obj.data)) {
		return 0, nil
	}
	return copy(data, obj.data[offset:]), nil
}

func (c *fakeIOContext) Stat(oid string) (ObjectStat, error) {
	if err := c.lock(OpStat, oid); err != nil {
		return ObjectStat{}, err
	}
	defer c.f.mu.Unlock()

	obj, err := c.get(oid)
	if err != nil {
		return ObjectStat{}, err
	}
	return ObjectStat{Size: uint64(len(obj.data))}, nil
}

func (c *fakeIOContext) ListXattrs(oid string) (map[string][]byte, error) {
	if err := c.lock(OpListXattrs, oid); err != nil {
		return nil, err
	}
	defer c.f.mu.Unlock()

	obj, err := c.get(oid)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(obj.xattrs))
	for k, v := range obj.xattrs {
		out[k] = slices.Clone(v)
	}
	return out, nil
}

func (c *fakeIOContext) SetXattr(oid, name string, data []byte) error {
	if err := c.lock(OpSetXattr, oid); err != nil {
		return err
	}
	defer c.f.mu.Unlock()

	obj, err := c.get(oid)
	if err != nil {
		return err
	}
	obj.xattrs[name] = slices.Clone(data)
	return nil
}

func (c *fakeIOContext) Delete(oid string) error {
	if err := c.lock(OpDelete, oid); err != nil {
		return err
	}
	defer c.f.mu.Unlock()

	if _, err := c.get(oid); err != nil {
		return err
	}
	delete(c.objs, oid)
	return nil
}

func (c *fakeIOContext) List() (ListCursor, error) {
	if err := c.lock(OpList, ""); err != nil {
		return nil, err
	}
	defer c.f.mu.Unlock()

	names := slices.Collect(maps.Keys(c.objs))
	slices.SortFunc(names, func(a, b string) int {
		if c := cmp.Compare(hashName(a), hashName(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})

	return &fakeCursor{f: c.f, names: names, gap: c.f.ListGap}, nil
}

func (c *fakeIOContext) Destroy() {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()

	if c.destroyed {
		return
	}
	c.destroyed = true
	c.f.released++
}

func hashName(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// fakeCursor works from a snapshot of the names taken when the listing began.
type fakeCursor struct {
	f     *Fake
	names []string
	pos   int
	gap   int
	gaps  int
}

func (c *fakeCursor) NextObjects(max int) ([]string, bool, error) {
	c.f.mu.Lock()
	err := c.f.fault(OpList, "")
	c.f.mu.Unlock()
	if err != nil {
		return nil, false, err
	}

	if c.pos >= len(c.names) {
		return nil, false, nil
	}

	if c.gaps < c.gap {
		c.gaps++
		return []string{}, true, nil
	}
	c.gaps = 0

	end := min(c.pos+max, len(c.names))
	page := c.names[c.pos:end]
	c.pos = end

	return page, c.pos < len(c.names), nil
}

func (c *fakeCursor) Close() {}
