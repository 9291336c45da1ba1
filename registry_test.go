package refcon

import (
	"bytes"
	"fmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"testing"
)

func TestRegistry(t *testing.T) {
	tree, err := NewRBTree(itemSort, itemCmp)
	require.NoError(t, err)
	table, err := NewHash(3, itemHash, nil, itemCmp)
	require.NoError(t, err)

	objs := newItems(3, 1, 2)
	defer releaseAll(objs)
	linkAll(t, tree, objs)
	linkAll(t, table, objs)

	printer := func(w io.Writer, obj *Object[item]) {
		fmt.Fprintf(w, "key=%d", obj.Data().key)
	}
	require.NoError(t, RegisterContainer("test/Tree", tree, printer))
	require.NoError(t, RegisterContainer("test/table", table, nil))
	assert.Equal(t, int32(2), tree.RefCount())

	assert.ErrorIs(t, RegisterContainer("TEST/TREE", table, nil), ErrNameInUse)
	assert.Equal(t, int32(2), table.RefCount())
	assert.ErrorIs(t, RegisterContainer[item]("test/nil", nil, nil), ErrNilObject)

	assert.Equal(t, []string{"test/table", "test/Tree"}, RegisteredNames("test/"))
	assert.Equal(t, []string{"test/Tree"}, RegisteredNames("TEST/tr"))
	assert.Empty(t, RegisteredNames("nothing/"))
	assert.Subset(t, RegisteredNames(""), []string{"test/table", "test/Tree"})

	var buf bytes.Buffer
	require.NoError(t, DumpRegistered(&buf, "test/tree"))
	assert.Contains(t, buf.String(), "Container name: test/Tree")
	assert.Contains(t, buf.String(), "key=2")

	buf.Reset()
	require.NoError(t, StatsRegistered(&buf, "test/table"))
	assert.Contains(t, buf.String(), "Number of objects: 3")
	assert.Contains(t, buf.String(), "Number of buckets: 3")

	require.NoError(t, CheckRegistered("test/tree"))
	assert.ErrorIs(t, CheckRegistered("test/missing"), ErrNotRegistered)
	assert.ErrorIs(t, DumpRegistered(&buf, "test/missing"), ErrNotRegistered)
	assert.ErrorIs(t, StatsRegistered(&buf, "test/missing"), ErrNotRegistered)

	// The registry keeps the container alive after its creator lets go.
	tree.Release()
	assert.Equal(t, int32(1), tree.RefCount())
	assert.Equal(t, int32(3), objs[0].RefCount())

	require.NoError(t, UnregisterContainer("test/tree"))
	assert.Equal(t, []int32{2, 2, 2}, refCounts(objs))
	assert.ErrorIs(t, UnregisterContainer("test/tree"), ErrNotRegistered)

	require.NoError(t, UnregisterContainer("test/table"))
	assert.Equal(t, int32(1), table.RefCount())
	table.Release()
	assert.Empty(t, RegisteredNames("test/"))
}
