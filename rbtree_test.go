package refcon

import (
	"bytes"
	"github.com/stretchr/testify/suite"
	"strings"
	"testing"
)

type RBTreeTestSuite struct {
	suite.Suite
	c    *Container[item]
	objs []*Object[item]
}

func (s *RBTreeTestSuite) SetupTest() {
	c, err := NewRBTree(itemSort, itemCmp)
	s.Require().NoError(err)
	s.c = c
	s.objs = nil
}

func (s *RBTreeTestSuite) TearDownTest() {
	s.NoError(s.c.Check(0))
	s.c.Release()
	releaseAll(s.objs)
}

func TestRBTreeSuite(t *testing.T) {
	suite.Run(t, new(RBTreeTestSuite))
}

func (s *RBTreeTestSuite) link(keys ...int) {
	for _, k := range keys {
		o := New(item{key: k})
		s.objs = append(s.objs, o)
		s.Require().NoError(s.c.Link(o, 0))
	}
}

func (s *RBTreeTestSuite) order(flags SearchFlags) []int {
	var keys []int
	s.c.Callback(flags|ObjMultiple, func(obj *Object[item], _ any, _ SearchFlags) Match {
		keys = append(keys, obj.Data().key)
		return 0
	}, nil)
	return keys
}

func (s *RBTreeTestSuite) TestAscendingAfterDelete() {
	s.link(5, 3, 8, 1, 4)
	s.Equal([]int{1, 3, 4, 5, 8}, keysOf(s.c, 0))

	o := s.c.Find(3, ObjSearchKey|ObjUnlink)
	s.Require().NotNil(o)
	o.Release()

	s.Equal([]int{1, 4, 5, 8}, keysOf(s.c, 0))
	s.Equal([]int{8, 5, 4, 1}, keysOf(s.c, IterDescending))
	s.NoError(s.c.Check(0))
}

func (s *RBTreeTestSuite) TestTraversalOrders() {
	s.link(5, 3, 8, 1, 4)

	s.Equal([]int{1, 3, 4, 5, 8}, s.order(ObjOrderAscending))
	s.Equal([]int{8, 5, 4, 3, 1}, s.order(ObjOrderDescending))
	s.Equal([]int{5, 3, 1, 4, 8}, s.order(ObjOrderPre))
	s.Equal([]int{1, 4, 3, 8, 5}, s.order(ObjOrderPost))
}

func (s *RBTreeTestSuite) TestKeyedRangeStopsEarly() {
	s.link(1, 2, 2, 2, 3)

	visited := 0
	it := s.c.CallbackMulti(ObjSearchKey, func(obj *Object[item], arg any, flags SearchFlags) Match {
		visited++
		return itemCmp(obj, arg, flags)
	}, 2)
	n := 0
	for obj := range it.All() {
		s.Equal(2, obj.Data().key)
		obj.Release()
		n++
	}
	it.Destroy()

	s.Equal(3, n)
	s.Equal(3, visited)
}

func (s *RBTreeTestSuite) TestDuplicateOrder() {
	for _, name := range []string{"a", "b", "c"} {
		o := New(item{key: 1, name: name})
		s.objs = append(s.objs, o)
		s.Require().NoError(s.c.Link(o, 0))
	}
	s.link(0, 2)

	s.Equal([]string{"", "a", "b", "c", ""}, namesOf(s.c, 0))

	first := s.c.Find(1, ObjSearchKey)
	s.Equal("a", first.Data().name)
	first.Release()

	last := s.c.Find(1, ObjSearchKey|ObjOrderDescending)
	s.Equal("c", last.Data().name)
	last.Release()
}

func (s *RBTreeTestSuite) TestDuplicateInsertBegin() {
	c, err := NewRBTree(itemSort, itemCmp, WithInsertBegin())
	s.Require().NoError(err)
	defer c.Release()

	for _, name := range []string{"a", "b", "c"} {
		o := New(item{key: 1, name: name})
		s.Require().NoError(c.Link(o, 0))
		o.Release()
	}
	s.Equal([]string{"c", "b", "a"}, namesOf(c, 0))
	s.NoError(c.Check(0))
}

func (s *RBTreeTestSuite) TestDuplicatePolicies() {
	tests := []struct {
		dups     Duplicates
		linkErr  bool
		count    int
		survivor string
	}{
		{DupsReject, true, 1, "first"},
		{DupsReplace, false, 1, "second"},
		{DupsRejectObject, false, 2, "first"},
		{DupsAllow, false, 2, "first"},
	}

	for _, tt := range tests {
		s.Run(tt.dups.String(), func() {
			c, err := NewRBTree(itemSort, itemCmp, WithDuplicates(tt.dups))
			s.Require().NoError(err)
			defer c.Release()

			filler := newItems(0, 1, 2, 4, 5, 6)
			defer releaseAll(filler)
			for _, o := range filler {
				s.Require().NoError(c.Link(o, 0))
			}

			first := New(item{key: 3, name: "first"})
			second := New(item{key: 3, name: "second"})
			defer first.Release()
			defer second.Release()

			s.Require().NoError(c.Link(first, 0))
			err = c.Link(second, 0)
			if tt.linkErr {
				s.ErrorIs(err, ErrRejected)
				s.Equal(int32(1), second.RefCount())
			} else {
				s.NoError(err)
			}
			s.Equal(tt.count+len(filler), c.Count())

			found := c.Find(3, ObjSearchKey)
			s.Require().NotNil(found)
			s.Equal(tt.survivor, found.Data().name)
			found.Release()

			if tt.dups == DupsReplace {
				s.Equal(int32(1), first.RefCount())
			}
			s.NoError(c.Check(0))
		})
	}
}

func (s *RBTreeTestSuite) TestRejectSameObject() {
	c, err := NewRBTree(itemSort, itemCmp, WithDuplicates(DupsRejectObject))
	s.Require().NoError(err)
	defer c.Release()

	objs := newItems(7, 7, 7, 7, 3, 9)
	defer releaseAll(objs)
	for _, o := range objs {
		s.Require().NoError(c.Link(o, 0))
	}
	for _, o := range objs {
		s.ErrorIs(c.Link(o, 0), ErrRejected)
	}
	s.Equal(len(objs), c.Count())
	s.NoError(c.Check(0))
}

func (s *RBTreeTestSuite) TestEmptyNodesKeepSearchWorking() {
	s.link(10, 20, 30, 40, 50, 60, 70)

	// Park one iterator on every node, then unlink some objects and search
	// through the empty nodes they leave behind.
	var held []*Iterator[item]
	for i := 0; i < 7; i++ {
		h := s.c.Iterator(0)
		for j := 0; j <= i; j++ {
			o := h.Next()
			o.Release()
		}
		held = append(held, h)
	}

	for _, k := range []int{20, 40, 60} {
		o := s.c.Find(k, ObjSearchKey|ObjUnlink)
		s.Require().NotNil(o)
		o.Release()
	}
	s.Equal(4, s.c.Count())
	s.NoError(s.c.Check(0))

	for _, k := range []int{10, 30, 50, 70} {
		o := s.c.Find(k, ObjSearchKey)
		s.Require().NotNil(o, "key %d", k)
		o.Release()
	}
	s.Nil(s.c.Find(40, ObjSearchKey))

	o := New(item{key: 40})
	s.objs = append(s.objs, o)
	s.Require().NoError(s.c.Link(o, 0))
	s.Equal([]int{10, 30, 40, 50, 70}, keysOf(s.c, 0))
	s.NoError(s.c.Check(0))

	var buf bytes.Buffer
	s.c.Stats(&buf, 0, "")
	s.Contains(buf.String(), "Number of empty nodes: 3")

	for _, h := range held {
		h.Destroy()
	}
	buf.Reset()
	s.c.Stats(&buf, 0, "")
	s.Contains(buf.String(), "Number of empty nodes: 0")
}

func (s *RBTreeTestSuite) TestPartialKey() {
	words, err := NewRBTree(wordSort, wordCmp)
	s.Require().NoError(err)
	defer words.Release()

	for _, w := range []string{"banana", "apricot", "Apple", "avocado", "apex", "cherry"} {
		o := New(w)
		s.Require().NoError(words.Link(o, 0))
		o.Release()
	}

	var got []string
	it := words.FindAll("ap", ObjSearchPartialKey)
	for o := range it.All() {
		got = append(got, *o.Data())
		o.Release()
	}
	it.Destroy()
	s.Equal([]string{"apex", "Apple", "apricot"}, got)

	got = nil
	it = words.FindAll("AP", ObjSearchPartialKey|ObjOrderDescending)
	for o := range it.All() {
		got = append(got, *o.Data())
		o.Release()
	}
	it.Destroy()
	s.Equal([]string{"apricot", "Apple", "apex"}, got)

	s.Nil(words.Find("d", ObjSearchPartialKey))
}

func (s *RBTreeTestSuite) TestIntegrityDetectsCorruption() {
	s.link(1, 2, 3)
	tree := s.c.backend.(*rbBackend[item])

	tree.root.red = true
	s.ErrorIs(s.c.Check(0), ErrIntegrity)
	tree.root.red = false

	tree.root.left, tree.root.right = tree.root.right, tree.root.left
	s.ErrorIs(s.c.Check(0), ErrIntegrity)
	tree.root.left, tree.root.right = tree.root.right, tree.root.left
}

func (s *RBTreeTestSuite) TestStatsAndDump() {
	s.link(9, 8, 7, 6, 5, 4, 3, 2, 1)
	o := s.c.Find(5, ObjSearchKey|ObjUnlink)
	o.Release()

	var buf bytes.Buffer
	s.c.Stats(&buf, 0, "tree")
	out := buf.String()
	s.Contains(out, "Container name: tree")
	s.Contains(out, "Number of objects: 8")
	s.Contains(out, "insert fixups case")
	s.Contains(out, "Number of nodes deleted with")

	buf.Reset()
	s.c.Dump(&buf, 0, "tree", nil)
	out = buf.String()
	s.Contains(out, "Black")
	// Header lines plus one line per node.
	s.Equal(10, strings.Count(out, "\n"))
}

func (s *RBTreeTestSuite) TestFixupCounters() {
	s.link(1, 2, 3, 4, 5, 6, 7)
	tree := s.c.backend.(*rbBackend[item])

	sum := func(v []int) int {
		n := 0
		for _, x := range v {
			n += x
		}
		return n
	}
	s.Positive(sum(tree.counters.fixupInsertRight[:]))
	s.Zero(sum(tree.counters.fixupInsertLeft[:]))

	for _, k := range []int{1, 2, 3} {
		o := s.c.Find(k, ObjSearchKey|ObjUnlink)
		s.Require().NotNil(o)
		o.Release()
	}
	// Every removal ends with at most one child; two-child removals count twice.
	s.Equal(3, sum(tree.counters.deleteChildren[:2]))

	var buf bytes.Buffer
	s.c.Stats(&buf, 0, "")
	s.Contains(buf.String(), "insert fixups case")
}

func TestRBTreeNeedsSortFunc(t *testing.T) {
	_, err := NewRBTree[item](nil, itemCmp)
	if err != ErrNoSortFunc {
		t.Fatalf("expected ErrNoSortFunc, got %v", err)
	}
}

func wordSort(left *Object[string], right any, flags SearchFlags) int {
	switch flags & ObjSearchMask {
	case ObjSearchObject:
		return compareFold(*left.Data(), *right.(*Object[string]).Data())
	case ObjSearchKey:
		return compareFold(*left.Data(), right.(string))
	case ObjSearchPartialKey:
		prefix := right.(string)
		w := *left.Data()
		if len(w) > len(prefix) {
			w = w[:len(prefix)]
		}
		return compareFold(w, prefix)
	}
	return 0
}

func wordCmp(obj *Object[string], arg any, flags SearchFlags) Match {
	if wordSort(obj, arg, flags) == 0 {
		return CmpMatch
	}
	return 0
}
