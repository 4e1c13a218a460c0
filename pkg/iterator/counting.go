package iterator

import (
	"context"

	"github.com/adammck/depot/pkg/api"
)

// Counting wraps another iterator and tracks the number of values returned.
type Counting struct {
	inner api.MetadataIterator
	n     int
}

var _ api.MetadataIterator = (*Counting)(nil)

// NewCounting creates a new counting iterator that wraps the given iterator.
func NewCounting(inner api.MetadataIterator) *Counting {
	return &Counting{
		inner: inner,
	}
}

// Count returns the number of values consumed via Next so far.
func (c *Counting) Count() int {
	return c.n
}

func (c *Counting) Next(ctx context.Context) bool {
	if c.inner == nil {
		return false
	}
	hasNext := c.inner.Next(ctx)
	if hasNext {
		c.n++
	}
	return hasNext
}

func (c *Counting) Value() *api.StorageMetadata {
	if c.inner == nil {
		return nil
	}
	return c.inner.Value()
}

func (c *Counting) Err() error {
	if c.inner == nil {
		return nil
	}
	return c.inner.Err()
}

func (c *Counting) Close() error {
	if c.inner == nil {
		return nil
	}
	return c.inner.Close()
}
