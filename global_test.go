package refcon

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
)

func TestGlobalReplaceRefcounts(t *testing.T) {
	var g Global[string]
	assert.Nil(t, g.Ref())

	destroyed := map[string]int{}
	alloc := func(s string) *Object[string] {
		o, err := Alloc(s, func(p *string) { destroyed[*p]++ }, LockMutex, nil)
		require.NoError(t, err)
		return o
	}
	first := alloc("first")
	second := alloc("second")

	assert.Nil(t, g.Replace(first))
	assert.Equal(t, int32(2), first.RefCount())

	cur := g.Ref()
	assert.Same(t, first, cur)
	assert.Equal(t, int32(3), first.RefCount())
	cur.Release()

	old := g.Replace(second)
	assert.Same(t, first, old)
	assert.Equal(t, int32(2), first.RefCount())
	assert.Equal(t, int32(2), second.RefCount())
	old.Release()

	first.Release()
	assert.Equal(t, 1, destroyed["first"])

	assert.True(t, g.ReplaceUnref(nil))
	assert.Equal(t, int32(1), second.RefCount())
	assert.False(t, g.ReplaceUnref(nil))
	assert.Nil(t, g.Ref())

	second.Release()
	assert.Equal(t, 1, destroyed["second"])
}

func TestGlobalReleaseDropsReference(t *testing.T) {
	var g Global[int]
	o := New(7)
	assert.False(t, g.ReplaceUnref(o))
	assert.Equal(t, int32(2), o.RefCount())

	g.Release()
	assert.Equal(t, int32(1), o.RefCount())
	assert.Nil(t, g.Ref())
	g.Release()
	o.Release()
}

func TestGlobalConcurrentReaders(t *testing.T) {
	var g Global[int]
	objs := make([]*Object[int], 20)
	for i := range objs {
		objs[i] = New(i)
	}

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if o := g.Ref(); o != nil {
					assert.GreaterOrEqual(t, o.RefCount(), int32(2))
					o.Release()
				}
			}
		}()
	}
	for _, o := range objs {
		g.ReplaceUnref(o)
	}
	wg.Wait()
	g.Release()

	for _, o := range objs {
		assert.Equal(t, int32(1), o.RefCount())
		o.Release()
	}
}
