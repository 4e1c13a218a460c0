package iterator

import (
	"container/heap"
	"context"

	"github.com/adammck/depot/pkg/api"
)

// Merge combines several iterators, each of which must already be ordered by
// storage ID, into one ordered iterator. When more than one input yields the
// same storage ID, the value from the earliest input wins and the rest are
// dropped.
type Merge struct {
	heap        *iterHeap
	current     *api.StorageMetadata
	lastEmitted string
	emitted     bool
	err         error
	exhausted   bool
	all         []api.MetadataIterator
	closed      bool
}

type iterState struct {
	iter  api.MetadataIterator
	value *api.StorageMetadata

	// rank is the position of iter in the inputs, to break ties.
	rank int
}

type iterHeap []*iterState

func (h iterHeap) Len() int { return len(h) }

func (h iterHeap) Less(i, j int) bool {
	if c := h[i].value.Compare(h[j].value); c != 0 {
		return c < 0
	}
	return h[i].rank < h[j].rank
}

func (h iterHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *iterHeap) Push(x interface{}) {
	*h = append(*h, x.(*iterState))
}

func (h *iterHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[0 : n-1]
	return item
}

var _ api.MetadataIterator = (*Merge)(nil)

func NewMerge(ctx context.Context, iterators ...api.MetadataIterator) *Merge {
	m := &Merge{
		heap: &iterHeap{},
		all:  append([]api.MetadataIterator(nil), iterators...),
	}

	for i, iter := range iterators {
		state := &iterState{
			iter: iter,
			rank: i,
		}

		if m.advance(ctx, state) {
			heap.Push(m.heap, state)
		}
	}

	return m
}

// advance moves state to its next value. An error from any input stops the
// whole merge.
func (m *Merge) advance(ctx context.Context, state *iterState) bool {
	if !state.iter.Next(ctx) {
		if err := state.iter.Err(); err != nil && m.err == nil {
			m.err = err
		}
		return false
	}

	state.value = state.iter.Value()
	return true
}

func (m *Merge) Next(ctx context.Context) bool {
	if m.exhausted || m.err != nil || m.closed {
		return false
	}

	select {
	case <-ctx.Done():
		m.err = ctx.Err()
		return false
	default:
	}

	for {
		if m.err != nil {
			return false
		}

		if m.heap.Len() == 0 {
			m.exhausted = true
			return false
		}

		state := heap.Pop(m.heap).(*iterState)
		value := state.value

		if m.advance(ctx, state) {
			heap.Push(m.heap, state)
		}

		if m.emitted && value.Location.StorageID == m.lastEmitted {
			continue
		}

		m.current = value
		m.lastEmitted = value.Location.StorageID
		m.emitted = true
		return true
	}
}

func (m *Merge) Value() *api.StorageMetadata {
	if m.closed {
		return nil
	}
	return m.current
}

func (m *Merge) Err() error {
	return m.err
}

func (m *Merge) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	var first error
	for _, iter := range m.all {
		if err := iter.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
