//go:build !ceph

package rados

import (
	"errors"
)

// Dial always fails, because this binary was built without the ceph tag.
func Dial(cfg ConnConfig) (Conn, error) {
	return nil, errors.New("rados: built without ceph support (rebuild with -tags ceph)")
}
