//go:build ceph

package rados

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/ceph/go-ceph/rados"
)

// Dial connects to a real cluster, via librados.
func Dial(cfg ConnConfig) (Conn, error) {
	conn, err := rados.NewConnWithClusterAndUser(cfg.Cluster, cfg.User)
	if err != nil {
		return nil, fmt.Errorf("NewConnWithClusterAndUser: %w", mapError(err))
	}

	err = conn.ReadConfigFile(cfg.ConfigFile)
	if err != nil {
		conn.Shutdown()
		return nil, fmt.Errorf("ReadConfigFile(%s): %w", cfg.ConfigFile, mapError(err))
	}

	err = conn.Connect()
	if err != nil {
		conn.Shutdown()
		return nil, fmt.Errorf("Connect: %w", mapError(err))
	}

	return &cephConn{conn: conn}, nil
}

type cephConn struct {
	conn *rados.Conn
}

func (c *cephConn) OpenIOContext(pool string) (IOContext, error) {
	ioctx, err := c.conn.OpenIOContext(pool)
	if err != nil {
		return nil, fmt.Errorf("OpenIOContext(%s): %w", pool, mapError(err))
	}
	return &cephIOContext{ioctx: ioctx}, nil
}

func (c *cephConn) Shutdown() {
	c.conn.Shutdown()
}

type cephIOContext struct {
	ioctx *rados.IOContext
}

func (c *cephIOContext) Create(oid string) error {
	return mapError(c.ioctx.Create(oid, rados.CreateExclusive))
}

func (c *cephIOContext) Write(oid string, data []byte, offset uint64) error {
	return mapError(c.ioctx.Write(oid, data, offset))
}

func (c *cephIOContext) Read(oid string, data []byte, offset uint64) (int, error) {
	n, err := c.ioctx.Read(oid, data, offset)
	return n, mapError(err)
}

func (c *cephIOContext) Stat(oid string) (ObjectStat, error) {
	st, err := c.ioctx.Stat(oid)
	if err != nil {
		return ObjectStat{}, mapError(err)
	}
	return ObjectStat{Size: st.Size}, nil
}

func (c *cephIOContext) ListXattrs(oid string) (map[string][]byte, error) {
	m, err := c.ioctx.ListXattrs(oid)
	return m, mapError(err)
}

func (c *cephIOContext) SetXattr(oid, name string, data []byte) error {
	return mapError(c.ioctx.SetXattr(oid, name, data))
}

func (c *cephIOContext) Delete(oid string) error {
	return mapError(c.ioctx.Delete(oid))
}

func (c *cephIOContext) List() (ListCursor, error) {
	iter, err := c.ioctx.Iter()
	if err != nil {
		return nil, mapError(err)
	}
	return &cephCursor{iter: iter}, nil
}

func (c *cephIOContext) Destroy() {
	c.ioctx.Destroy()
}

type cephCursor struct {
	iter *rados.Iter
}

func (c *cephCursor) NextObjects(max int) ([]string, bool, error) {
	names := make([]string, 0, max)
	for len(names) < max {
		if !c.iter.Next() {
			return names, false, mapError(c.iter.Err())
		}
		names = append(names, c.iter.Value())
	}
	return names, true, nil
}

func (c *cephCursor) Close() {
	c.iter.Close()
}

// mapError attaches ErrNotFound or ErrTransient to librados errors which
// warrant them, keeping the cause in the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, rados.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var coded interface{ ErrorCode() int }
	if errors.As(err, &coded) {
		switch syscall.Errno(-coded.ErrorCode()) {
		case syscall.ENOENT:
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case syscall.EEXIST:
			return fmt.Errorf("%w: %w", ErrExists, err)
		case syscall.ETIMEDOUT, syscall.EAGAIN, syscall.EINTR, syscall.ECONNRESET, syscall.ESHUTDOWN:
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
	}

	return err
}
