package refcon

import (
	"errors"
	"fmt"
	"io"
)

type rbNode[T any] struct {
	nodeCore[T]
	parent *rbNode[T]
	left   *rbNode[T]
	right  *rbNode[T]
	red    bool
}

func (n *rbNode[T]) core() *nodeCore[T] {
	return &n.nodeCore
}

// bias picks which of several equal keys an insert or search lands on.
type bias int

const (
	biasFirst bias = iota
	biasEqual
	biasLast
)

type rbStats struct {
	fixupInsertLeft  [3]int
	fixupInsertRight [3]int
	fixupDeleteLeft  [4]int
	fixupDeleteRight [4]int
	deleteChildren   [3]int
}

type rbBackend[T any] struct {
	c     *Container[T]
	root  *rbNode[T]
	counters rbStats
}

// NewRBTree creates a container kept in sortFn order by a red-black tree.
func NewRBTree[T any](sortFn SortFunc[T], cmpFn CallbackFunc[T], options ...ContainerFunc) (*Container[T], error) {
	return newRBTree(fillContainerOpts(options...), sortFn, cmpFn)
}

func newRBTree[T any](opts ContainerOption, sortFn SortFunc[T], cmpFn CallbackFunc[T]) (*Container[T], error) {
	if sortFn == nil {
		return nil, ErrNoSortFunc
	}
	c, err := newContainer(opts, sortFn, cmpFn)
	if err != nil {
		return nil, err
	}
	c.backend = &rbBackend[T]{c: c}
	return c, nil
}

func (t *rbBackend[T]) emptyClone() (*Container[T], error) {
	return newRBTree(t.c.opts, t.c.sortFn, t.c.cmpFn)
}

func mostLeft[T any](n *rbNode[T]) *rbNode[T] {
	for n.left != nil {
		n = n.left
	}
	return n
}

func mostRight[T any](n *rbNode[T]) *rbNode[T] {
	for n.right != nil {
		n = n.right
	}
	return n
}

// nextNode is the in-order successor.
func nextNode[T any](n *rbNode[T]) *rbNode[T] {
	if n.right != nil {
		return mostLeft(n.right)
	}
	for n.parent != nil {
		if n.parent.left == n {
			return n.parent
		}
		n = n.parent
	}
	return nil
}

// prevNode is the in-order predecessor.
func prevNode[T any](n *rbNode[T]) *rbNode[T] {
	if n.left != nil {
		return mostRight(n.left)
	}
	for n.parent != nil {
		if n.parent.right == n {
			return n.parent
		}
		n = n.parent
	}
	return nil
}

// preNode visits a node, then its left subtree, then its right subtree.
func preNode[T any](n *rbNode[T]) *rbNode[T] {
	if n.left != nil {
		return n.left
	}
	if n.right != nil {
		return n.right
	}
	for n.parent != nil {
		if n.parent.left == n && n.parent.right != nil {
			return n.parent.right
		}
		n = n.parent
	}
	return nil
}

// postNode visits both subtrees before the node itself.
func postNode[T any](n *rbNode[T]) *rbNode[T] {
	if n.parent == nil {
		return nil
	}
	if n.parent.left == n {
		n = n.parent
		for n.right != nil {
			n = mostLeft(n.right)
		}
		return n
	}
	return n.parent
}

func nextFull[T any](n *rbNode[T]) *rbNode[T] {
	for {
		n = nextNode(n)
		if n == nil || n.obj != nil {
			return n
		}
	}
}

func prevFull[T any](n *rbNode[T]) *rbNode[T] {
	for {
		n = prevNode(n)
		if n == nil || n.obj != nil {
			return n
		}
	}
}

// goLeft decides on which side of an empty node a key belongs by looking
// at the closest non-empty neighbours inside its subtrees.
func (t *rbBackend[T]) goLeft(empty *rbNode[T], right any, flags SearchFlags, b bias) bool {
	if empty.left == nil {
		return false
	}

	rightMost := mostRight(empty.left)
	if rightMost.obj != nil {
		cmp := t.c.sortFn(rightMost.obj, right, flags)
		return !(cmp < 0 || cmp == 0 && b == biasLast)
	}

	if empty.right == nil {
		return true
	}

	leftMost := mostLeft(empty.right)
	if leftMost.obj != nil {
		cmp := t.c.sortFn(leftMost.obj, right, flags)
		return cmp > 0 || cmp == 0 && b == biasFirst
	}

	// Both neighbours are empty too. Walk back through the left subtree for
	// the first node with an object.
	cur := rightMost
	for {
		if cur.left != nil {
			cur = mostRight(cur.left)
		} else {
			for {
				if cur.parent == empty {
					// Nothing but empty nodes on the left.
					return false
				}
				if cur.parent.right == cur {
					cur = cur.parent
					break
				}
				cur = cur.parent
			}
		}
		if cur.obj != nil {
			cmp := t.c.sortFn(cur.obj, right, flags)
			return !(cmp < 0 || cmp == 0 && b == biasLast)
		}
	}
}

func (t *rbBackend[T]) rotateLeft(n *rbNode[T]) {
	child := n.right
	switch {
	case n.parent == nil:
		t.root = child
	case n.parent.left == n:
		n.parent.left = child
	default:
		n.parent.right = child
	}
	child.parent = n.parent
	n.right = child.left
	if n.right != nil {
		n.right.parent = n
	}
	n.parent = child
	child.left = n
}

func (t *rbBackend[T]) rotateRight(n *rbNode[T]) {
	child := n.left
	switch {
	case n.parent == nil:
		t.root = child
	case n.parent.right == n:
		n.parent.right = child
	default:
		n.parent.left = child
	}
	child.parent = n.parent
	n.left = child.right
	if n.left != nil {
		n.left.parent = n
	}
	n.parent = child
	child.right = n
}

func isRed[T any](n *rbNode[T]) bool {
	return n != nil && n.red
}

func (t *rbBackend[T]) newNode(obj *Object[T]) containerNode[T] {
	n := &rbNode[T]{}
	n.refs.Store(1)
	n.obj = obj.Retain()
	return n
}

func (t *rbBackend[T]) insertFixup(n *rbNode[T]) {
	for n.parent != nil && n.parent.red {
		g := n.parent.parent
		if n.parent == g.left {
			if isRed(g.right) {
				t.counters.fixupInsertLeft[0]++
				g.right.red = false
				g.left.red = false
				g.red = true
				n = g
				continue
			}
			if n.parent.right == n {
				t.counters.fixupInsertLeft[1]++
				n = n.parent
				t.rotateLeft(n)
			}
			t.counters.fixupInsertLeft[2]++
			n.parent.red = false
			g.red = true
			t.rotateRight(g)
		} else {
			if isRed(g.left) {
				t.counters.fixupInsertRight[0]++
				g.left.red = false
				g.right.red = false
				g.red = true
				n = g
				continue
			}
			if n.parent.left == n {
				t.counters.fixupInsertRight[1]++
				n = n.parent
				t.rotateRight(n)
			}
			t.counters.fixupInsertRight[2]++
			n.parent.red = false
			g.red = true
			t.rotateLeft(g)
		}
	}
	t.root.red = false
}

func (t *rbBackend[T]) attach(n, parent *rbNode[T], left bool) insertResult {
	if left {
		parent.left = n
	} else {
		parent.right = n
	}
	n.parent = parent
	t.insertFixup(n)
	return nodeInserted
}

func (t *rbBackend[T]) insertBias() bias {
	switch t.c.opts.dups {
	case DupsAllow:
		if t.c.opts.insertBegin {
			return biasFirst
		}
		return biasLast
	}
	return biasEqual
}

func (t *rbBackend[T]) insert(cn containerNode[T]) insertResult {
	n := cn.(*rbNode[T])
	if t.root == nil {
		t.root = n
		return nodeInserted
	}

	sortFn := t.c.sortFn
	b := t.insertBias()

	n.red = true
	cur := t.root
	for {
		if cur.obj == nil {
			if t.goLeft(cur, n.obj, ObjSearchObject, b) {
				if cur.left != nil {
					cur = cur.left
					continue
				}
				return t.attach(n, cur, true)
			}
			if cur.right != nil {
				cur = cur.right
				continue
			}
			return t.attach(n, cur, false)
		}

		cmp := sortFn(cur.obj, n.obj, ObjSearchObject)
		if cmp == 0 {
			switch b {
			case biasFirst:
				cmp = 1
			case biasLast:
				cmp = -1
			}
		}
		if cmp > 0 {
			if cur.left != nil {
				cur = cur.left
				continue
			}
			return t.attach(n, cur, true)
		}
		if cmp < 0 {
			if cur.right != nil {
				cur = cur.right
				continue
			}
			return t.attach(n, cur, false)
		}
		break
	}

	// biasEqual landed on an existing key.
	switch t.c.opts.dups {
	case DupsReject:
		return nodeRejected
	case DupsReplace:
		cur.obj, n.obj = n.obj, cur.obj
		return nodeObjReplaced
	case DupsRejectObject:
		return t.insertUnlessLinked(cur, n)
	}
	fatal("duplicate allowed insert landed on an equal slot")
	return nodeRejected
}

// insertUnlessLinked scans the whole run of keys equal to cur's and rejects
// n if its object is already among them; otherwise n goes at the start or
// end of the run.
func (t *rbBackend[T]) insertUnlessLinked(cur, n *rbNode[T]) insertResult {
	if cur.obj == n.obj {
		return nodeRejected
	}
	sortFn := t.c.sortFn

	if t.c.opts.insertBegin {
		for next := nextFull(cur); next != nil; next = nextFull(next) {
			if next.obj == n.obj {
				return nodeRejected
			}
			if sortFn(next.obj, n.obj, ObjSearchObject) != 0 {
				break
			}
		}
		for {
			prev := prevFull(cur)
			if prev == nil {
				break
			}
			if prev.obj == n.obj {
				return nodeRejected
			}
			if sortFn(prev.obj, n.obj, ObjSearchObject) != 0 {
				break
			}
			cur = prev
		}
		if cur.left == nil {
			return t.attach(n, cur, true)
		}
		return t.attach(n, mostRight(cur.left), false)
	}

	for prev := prevFull(cur); prev != nil; prev = prevFull(prev) {
		if prev.obj == n.obj {
			return nodeRejected
		}
		if sortFn(prev.obj, n.obj, ObjSearchObject) != 0 {
			break
		}
	}
	for {
		next := nextFull(cur)
		if next == nil {
			break
		}
		if next.obj == n.obj {
			return nodeRejected
		}
		if sortFn(next.obj, n.obj, ObjSearchObject) != 0 {
			break
		}
		cur = next
	}
	if cur.right == nil {
		return t.attach(n, cur, false)
	}
	return t.attach(n, mostLeft(cur.right), true)
}

func (t *rbBackend[T]) deleteFixup(child *rbNode[T]) {
	for t.root != child && !child.red {
		if child.parent.left == child {
			sibling := child.parent.right
			if sibling.red {
				t.counters.fixupDeleteLeft[0]++
				sibling.red = false
				child.parent.red = true
				t.rotateLeft(child.parent)
				sibling = child.parent.right
			}
			if !isRed(sibling.left) && !isRed(sibling.right) {
				t.counters.fixupDeleteLeft[1]++
				sibling.red = true
				child = child.parent
				continue
			}
			if !isRed(sibling.right) {
				t.counters.fixupDeleteLeft[2]++
				sibling.left.red = false
				sibling.red = true
				t.rotateRight(sibling)
				sibling = child.parent.right
			}
			t.counters.fixupDeleteLeft[3]++
			sibling.red = child.parent.red
			child.parent.red = false
			if sibling.right != nil {
				sibling.right.red = false
			}
			t.rotateLeft(child.parent)
			child = t.root
		} else {
			sibling := child.parent.left
			if sibling.red {
				t.counters.fixupDeleteRight[0]++
				sibling.red = false
				child.parent.red = true
				t.rotateRight(child.parent)
				sibling = child.parent.left
			}
			if !isRed(sibling.right) && !isRed(sibling.left) {
				t.counters.fixupDeleteRight[1]++
				sibling.red = true
				child = child.parent
				continue
			}
			if !isRed(sibling.left) {
				t.counters.fixupDeleteRight[2]++
				sibling.right.red = false
				sibling.red = true
				t.rotateLeft(sibling)
				sibling = child.parent.left
			}
			t.counters.fixupDeleteRight[3]++
			sibling.red = child.parent.red
			child.parent.red = false
			if sibling.left != nil {
				sibling.left.red = false
			}
			t.rotateRight(child.parent)
			child = t.root
		}
	}
	child.red = false
}

func (t *rbBackend[T]) removeNode(cn containerNode[T]) {
	doomed := cn.(*rbNode[T])
	var child *rbNode[T]

	if doomed.left != nil && doomed.right != nil {
		// Trade places with the in-order successor, which has no left
		// child, so the node removed below has at most one child.
		t.counters.deleteChildren[2]++
		next := mostLeft(doomed.right)
		doomed.parent, next.parent = next.parent, doomed.parent
		doomed.left, next.left = next.left, doomed.left
		doomed.right, next.right = next.right, doomed.right
		doomed.red, next.red = next.red, doomed.red

		switch {
		case next.parent == nil:
			t.root = next
		case next.parent.left == doomed:
			next.parent.left = next
		default:
			next.parent.right = next
		}
		next.left.parent = next
		if next.right == next {
			// The successor was doomed's right child.
			next.right = doomed
			doomed.parent = next
		} else {
			next.right.parent = next
			doomed.parent.left = doomed
		}
		child = doomed.right
	} else {
		child = doomed.left
		if child == nil {
			child = doomed.right
		}
	}
	if child != nil {
		t.counters.deleteChildren[1]++
	} else {
		t.counters.deleteChildren[0]++
	}

	// A destroyed tree is never looked at again, skip the rebalancing.
	needFixup := !doomed.red && !t.c.destroying
	if needFixup && child == nil {
		// doomed stands in for the missing child while rebalancing.
		t.deleteFixup(doomed)
	}

	switch {
	case doomed.parent == nil:
		t.root = child
	case doomed.parent.left == doomed:
		doomed.parent.left = child
	default:
		doomed.parent.right = child
	}
	if child != nil {
		child.parent = doomed.parent
		if needFixup {
			t.deleteFixup(child)
		}
	}
	doomed.parent = nil
	doomed.left = nil
	doomed.right = nil
}

func (t *rbBackend[T]) linkStat(containerNode[T]) {}
func (t *rbBackend[T]) unlinkStat(containerNode[T]) {}

// findInitial locates the first node matching arg under the given bias.
func (t *rbBackend[T]) findInitial(arg any, flags SearchFlags, b bias) *rbNode[T] {
	sortFlags := flags & ObjSearchMask
	sortFn := t.c.sortFn

	n := t.root
	if n == nil {
		return nil
	}
	for {
		var next *rbNode[T]
		if n.obj == nil {
			if t.goLeft(n, arg, sortFlags, b) {
				next = n.left
			} else {
				next = n.right
			}
			if next == nil {
				switch b {
				case biasFirst:
					next = nextFull(n)
				case biasLast:
					next = prevFull(n)
				}
				if next != nil && sortFn(next.obj, arg, sortFlags) == 0 {
					return next
				}
				return nil
			}
			n = next
			continue
		}

		cmp := sortFn(n.obj, arg, sortFlags)
		switch {
		case cmp > 0:
			next = n.left
		case cmp < 0:
			next = n.right
		default:
			switch b {
			case biasFirst:
				next = n.left
			case biasEqual:
				return n
			case biasLast:
				next = n.right
			}
			if next == nil {
				return n
			}
		}

		if next == nil {
			switch {
			case b == biasFirst && cmp < 0:
				next = nextFull(n)
			case b == biasLast && cmp > 0:
				next = prevFull(n)
			}
			if next != nil && sortFn(next.obj, arg, sortFlags) == 0 {
				return next
			}
			return nil
		}
		n = next
	}
}

type rbTraversal[T any] struct {
	t      *rbBackend[T]
	sortFn SortFunc[T]
	arg    any
	flags  SearchFlags
}

func (t *rbBackend[T]) traversal(flags SearchFlags, arg any) traverser[T] {
	if t.c.destroying {
		flags = ObjUnlink | ObjNoData | ObjMultiple | ObjOrderPost
	}
	s := &rbTraversal[T]{
		t:     t,
		arg:   arg,
		flags: flags,
	}
	if flags&ObjSearchMask != 0 {
		s.sortFn = t.c.sortFn
	}
	return s
}

// searchBias is biasEqual when at most one object can carry the key and
// the full key is known; otherwise the walk starts at the first (or, going
// down, the last) of a run of equal keys.
func (s *rbTraversal[T]) searchBias(edge bias) bias {
	switch s.t.c.opts.dups {
	case DupsReject, DupsReplace:
		if s.flags&ObjSearchMask != ObjSearchPartialKey {
			return biasEqual
		}
	}
	return edge
}

func (s *rbTraversal[T]) first() containerNode[T] {
	root := s.t.root
	if root == nil {
		return nil
	}

	var n *rbNode[T]
	switch s.flags & ObjOrderMask {
	case ObjOrderAscending:
		if s.sortFn == nil {
			n = mostLeft(root)
			if n.obj == nil {
				n = nextFull(n)
			}
		} else {
			n = s.t.findInitial(s.arg, s.flags, s.searchBias(biasFirst))
		}
	case ObjOrderDescending:
		if s.sortFn == nil {
			n = mostRight(root)
			if n.obj == nil {
				n = prevFull(n)
			}
		} else {
			n = s.t.findInitial(s.arg, s.flags, s.searchBias(biasLast))
		}
	case ObjOrderPre:
		s.sortFn = nil
		for n = root; n != nil && n.obj == nil; {
			n = preNode(n)
		}
	case ObjOrderPost:
		s.sortFn = nil
		n = root
		for {
			n = mostLeft(n)
			if n.right == nil {
				break
			}
			n = n.right
		}
		for n != nil && n.obj == nil {
			n = postNode(n)
		}
	}

	if n == nil {
		return nil
	}
	s.t.c.refNode(n)
	return n
}

func (s *rbTraversal[T]) step(n *rbNode[T]) *rbNode[T] {
	switch s.flags & ObjOrderMask {
	case ObjOrderDescending:
		return prevNode(n)
	case ObjOrderPre:
		return preNode(n)
	case ObjOrderPost:
		return postNode(n)
	}
	return nextNode(n)
}

func (s *rbTraversal[T]) next(cprev containerNode[T]) containerNode[T] {
	prev := cprev.(*rbNode[T])
	n := prev
	for {
		n = s.step(n)
		if n == nil {
			break
		}
		if n.obj == nil {
			continue
		}
		if s.sortFn != nil && s.sortFn(n.obj, s.arg, s.flags&ObjSearchMask) != 0 {
			// Sorted order, nothing further can match.
			break
		}

		// Releasing prev may cycle the lock; our reference keeps n in the
		// tree so the walk can continue from it even if it was emptied.
		s.t.c.refNode(n)
		s.t.c.releaseNode(prev)
		if n.obj != nil {
			return n
		}
		prev = n
	}
	s.t.c.releaseNode(prev)
	return nil
}

func (t *rbBackend[T]) iteratorNext(cprev containerNode[T], descending bool) containerNode[T] {
	var n *rbNode[T]
	if cprev != nil {
		n = cprev.(*rbNode[T])
	} else {
		if t.root == nil {
			return nil
		}
		if descending {
			n = mostRight(t.root)
		} else {
			n = mostLeft(t.root)
		}
		if n.obj != nil {
			return n
		}
	}

	if descending {
		n = prevFull(n)
	} else {
		n = nextFull(n)
	}
	if n == nil {
		return nil
	}
	return n
}

func (t *rbBackend[T]) destroy() {
	if t.root != nil {
		fatal("node ref leak, rbtree container still has nodes")
	}
}

func (t *rbBackend[T]) dump(w io.Writer, prnt ObjectPrinter[T]) {
	fmt.Fprintf(w, "%16s, %16s, %16s, %16s, %5s, %16s, %s\n", "Node", "Parent", "Left", "Right", "Color", "Obj", "Key")
	for n := t.root; n != nil; n = preNode(n) {
		color := "Black"
		if n.red {
			color = "Red"
		}
		fmt.Fprintf(w, "%16p, %16p, %16p, %16p, %5s, %16p, ", n, n.parent, n.left, n.right, color, n.obj)
		if n.obj != nil && prnt != nil {
			prnt(w, n.obj)
		}
		fmt.Fprintln(w)
	}
}

func (t *rbBackend[T]) stats(w io.Writer) {
	for i, v := range t.counters.fixupInsertLeft {
		fmt.Fprintf(w, "Number of left insert fixups case %d: %d\n", i+1, v)
	}
	for i, v := range t.counters.fixupInsertRight {
		fmt.Fprintf(w, "Number of right insert fixups case %d: %d\n", i+1, v)
	}
	for i, v := range t.counters.deleteChildren {
		fmt.Fprintf(w, "Number of nodes deleted with %d children: %d\n", i, v)
	}
	for i, v := range t.counters.fixupDeleteLeft {
		fmt.Fprintf(w, "Number of left delete fixups case %d: %d\n", i+1, v)
	}
	for i, v := range t.counters.fixupDeleteRight {
		fmt.Fprintf(w, "Number of right delete fixups case %d: %d\n", i+1, v)
	}
}

// blackHeight returns the number of black nodes on every path below n, or
// an error if two paths disagree.
func blackHeight[T any](n *rbNode[T]) (int, error) {
	if n == nil {
		return 0, nil
	}
	l, err := blackHeight(n.left)
	if err != nil {
		return 0, err
	}
	r, err := blackHeight(n.right)
	if err != nil {
		return 0, err
	}
	if l != r {
		return 0, fmt.Errorf("black height of children differs, left %d right %d", l, r)
	}
	if !n.red {
		l++
	}
	return l, nil
}

func (t *rbBackend[T]) integrity() error {
	var errs []error
	countNode := 0
	countObj := 0

	if t.root != nil {
		if t.root.parent != nil {
			if t.root.parent == t.root {
				return errors.New("tree root parent points to itself")
			}
			return errors.New("tree root is not a root node")
		}
		if t.root.red {
			errs = append(errs, errors.New("tree root is red"))
		}

		for n := t.root; n != nil; n = preNode(n) {
			if n.left != nil {
				if n.left == n {
					return errors.New("tree node left points to itself")
				}
				if n.left.parent != n {
					return errors.New("tree node left child does not link back")
				}
			}
			if n.right != nil {
				if n.right == n {
					return errors.New("tree node right points to itself")
				}
				if n.right.parent != n {
					return errors.New("tree node right child does not link back")
				}
			}

			if n.red {
				if n.left != nil && n.right != nil {
					if n.left.red {
						errs = append(errs, errors.New("tree node is red and its left child is red"))
					}
					if n.right.red {
						errs = append(errs, errors.New("tree node is red and its right child is red"))
					}
				} else if n.left != nil || n.right != nil {
					// A single child of a red node must be black, which
					// breaks the black height.
					errs = append(errs, errors.New("tree node is red and has only one child"))
				}
			} else if n.left != nil && n.right != nil {
				if n.left.red != n.right.red {
					// The red child must carry black nodes to balance
					// the black sibling.
					red := n.left
					if n.right.red {
						red = n.right
					}
					if red.left == nil || red.right == nil {
						errs = append(errs, errors.New("tree node is black and its red child does not have two children"))
					}
				}
			} else if (n.left != nil && !n.left.red) || (n.right != nil && !n.right.red) {
				errs = append(errs, errors.New("tree node is black and its only child is black"))
			}

			countNode++
			if n.obj != nil {
				countObj++
			}
		}

		var last *Object[T]
		for n := mostLeft(t.root); n != nil; n = nextNode(n) {
			if n.obj == nil {
				continue
			}
			if last != nil && t.c.sortFn(last, n.obj, ObjSearchObject) > 0 {
				return errors.New("tree nodes are out of sorted order")
			}
			last = n.obj
		}

		if len(errs) == 0 {
			if _, err := blackHeight(t.root); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if countObj != t.c.Count() {
		return fmt.Errorf("total object count %d does not match container count %d", countObj, t.c.Count())
	}
	if countNode != t.c.nodes {
		return fmt.Errorf("total node count %d does not match stat %d", countNode, t.c.nodes)
	}
	return errors.Join(errs...)
}
