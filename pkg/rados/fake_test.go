package rados

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeListing(t *testing.T) {
	f := NewFake(pool)
	for _, oid := range []string{"a", "b", "c", "d", "e"} {
		f.Put(pool, oid, []byte(oid), nil)
	}
	f.ListGap = 1

	ioctx, err := f.OpenIOContext(pool)
	require.NoError(t, err)
	defer ioctx.Destroy()

	cur, err := ioctx.List()
	require.NoError(t, err)
	defer cur.Close()

	var all []string
	empty := 0
	for {
		names, more, err := cur.NextObjects(2)
		require.NoError(t, err)
		if len(names) == 0 {
			empty++
		}
		all = append(all, names...)
		if !more {
			break
		}
	}

	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, all)
	assert.Equal(t, 3, empty)
}

func TestFakeLifecycle(t *testing.T) {
	f := NewFake(pool)

	_, err := f.OpenIOContext("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	a, err := f.OpenIOContext(pool)
	require.NoError(t, err)
	b, err := f.OpenIOContext(pool)
	require.NoError(t, err)
	assert.Equal(t, 2, f.Outstanding())

	a.Destroy()
	a.Destroy()
	assert.Equal(t, 1, f.Outstanding())
	b.Destroy()
	assert.Equal(t, 0, f.Outstanding())
	assert.Equal(t, 2, f.Opened())

	_, err = a.Stat("x")
	assert.Error(t, err)

	f.Shutdown()
	assert.True(t, f.IsShutdown())
	_, err = f.OpenIOContext(pool)
	assert.Error(t, err)
}
