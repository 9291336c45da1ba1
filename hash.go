package refcon

import (
	"fmt"
	"io"
)

// hashNode sits in exactly one bucket's doubly linked chain.
type hashNode[T any] struct {
	nodeCore[T]
	prev   *hashNode[T]
	nxt    *hashNode[T]
	bucket int
}

func (n *hashNode[T]) core() *nodeCore[T] {
	return &n.nodeCore
}

type hashBucket[T any] struct {
	head        *hashNode[T]
	tail        *hashNode[T]
	elements    int
	maxElements int
}

func (b *hashBucket[T]) pushFront(n *hashNode[T]) {
	n.prev = nil
	n.nxt = b.head
	if b.head != nil {
		b.head.prev = n
	} else {
		b.tail = n
	}
	b.head = n
}

func (b *hashBucket[T]) pushBack(n *hashNode[T]) {
	n.nxt = nil
	n.prev = b.tail
	if b.tail != nil {
		b.tail.nxt = n
	} else {
		b.head = n
	}
	b.tail = n
}

func (b *hashBucket[T]) insertBefore(n, at *hashNode[T]) {
	if at.prev == nil {
		b.pushFront(n)
		return
	}
	n.prev = at.prev
	n.nxt = at
	at.prev.nxt = n
	at.prev = n
}

func (b *hashBucket[T]) insertAfter(n, at *hashNode[T]) {
	if at.nxt == nil {
		b.pushBack(n)
		return
	}
	n.nxt = at.nxt
	n.prev = at
	at.nxt.prev = n
	at.nxt = n
}

func (b *hashBucket[T]) remove(n *hashNode[T]) {
	if n.prev != nil {
		n.prev.nxt = n.nxt
	} else {
		b.head = n.nxt
	}
	if n.nxt != nil {
		n.nxt.prev = n.prev
	} else {
		b.tail = n.prev
	}
	n.prev = nil
	n.nxt = nil
}

type hashBackend[T any] struct {
	c       *Container[T]
	hashFn  HashFunc
	buckets []hashBucket[T]
}

// NewHash creates a hash container with the given number of buckets. A nil
// hashFn gives a single bucket container, i.e. a list. sortFn is optional
// and keeps each bucket ordered, which lets keyed searches stop early and
// enables the duplicate policies.
func NewHash[T any](buckets int, hashFn HashFunc, sortFn SortFunc[T], cmpFn CallbackFunc[T], options ...ContainerFunc) (*Container[T], error) {
	return newHash(fillContainerOpts(options...), buckets, hashFn, sortFn, cmpFn)
}

// NewList creates an ordered list container: one bucket and no hash.
func NewList[T any](sortFn SortFunc[T], cmpFn CallbackFunc[T], options ...ContainerFunc) (*Container[T], error) {
	return newHash(fillContainerOpts(options...), 1, nil, sortFn, cmpFn)
}

func newHash[T any](opts ContainerOption, buckets int, hashFn HashFunc, sortFn SortFunc[T], cmpFn CallbackFunc[T]) (*Container[T], error) {
	if hashFn == nil {
		buckets = 1
		hashFn = hashZero
	}
	if buckets <= 0 {
		return nil, ErrInvalidBuckets
	}

	c, err := newContainer(opts, sortFn, cmpFn)
	if err != nil {
		return nil, err
	}
	c.backend = &hashBackend[T]{
		c:       c,
		hashFn:  hashFn,
		buckets: make([]hashBucket[T], buckets),
	}
	return c, nil
}

func hashZero(any, SearchFlags) int {
	return 0
}

func (h *hashBackend[T]) bucketOf(arg any, flags SearchFlags) int {
	// Modulo first so the most negative int cannot overflow on negation.
	i := h.hashFn(arg, flags) % len(h.buckets)
	if i < 0 {
		i = -i
	}
	return i
}

func (h *hashBackend[T]) emptyClone() (*Container[T], error) {
	return newHash(h.c.opts, len(h.buckets), h.hashFn, h.c.sortFn, h.c.cmpFn)
}

func (h *hashBackend[T]) newNode(obj *Object[T]) containerNode[T] {
	n := &hashNode[T]{bucket: h.bucketOf(obj, ObjSearchObject)}
	n.refs.Store(1)
	n.obj = obj.Retain()
	return n
}

func (h *hashBackend[T]) insert(cn containerNode[T]) insertResult {
	n := cn.(*hashNode[T])
	b := &h.buckets[n.bucket]
	sortFn := h.c.sortFn

	if h.c.opts.insertBegin {
		if sortFn != nil {
			for cur := b.tail; cur != nil; cur = cur.prev {
				if cur.obj == nil {
					continue
				}
				cmp := sortFn(cur.obj, n.obj, ObjSearchObject)
				if cmp > 0 {
					continue
				}
				if cmp < 0 {
					b.insertAfter(n, cur)
					return nodeInserted
				}
				if res, done := h.applyDups(cur, n); done {
					return res
				}
			}
		}
		b.pushFront(n)
		return nodeInserted
	}

	if sortFn != nil {
		for cur := b.head; cur != nil; cur = cur.nxt {
			if cur.obj == nil {
				continue
			}
			cmp := sortFn(cur.obj, n.obj, ObjSearchObject)
			if cmp < 0 {
				continue
			}
			if cmp > 0 {
				b.insertBefore(n, cur)
				return nodeInserted
			}
			if res, done := h.applyDups(cur, n); done {
				return res
			}
		}
	}
	b.pushBack(n)
	return nodeInserted
}

// applyDups handles an existing node cur whose key equals the new node's.
// It reports whether the insert is decided.
func (h *hashBackend[T]) applyDups(cur, n *hashNode[T]) (insertResult, bool) {
	switch h.c.opts.dups {
	case DupsReject:
		return nodeRejected, true
	case DupsRejectObject:
		if cur.obj == n.obj {
			return nodeRejected, true
		}
	case DupsReplace:
		cur.obj, n.obj = n.obj, cur.obj
		return nodeObjReplaced, true
	}
	return nodeInserted, false
}

func (h *hashBackend[T]) removeNode(cn containerNode[T]) {
	n := cn.(*hashNode[T])
	h.buckets[n.bucket].remove(n)
}

func (h *hashBackend[T]) linkStat(cn containerNode[T]) {
	b := &h.buckets[cn.(*hashNode[T]).bucket]
	b.elements++
	if b.maxElements < b.elements {
		b.maxElements = b.elements
	}
}

func (h *hashBackend[T]) unlinkStat(cn containerNode[T]) {
	h.buckets[cn.(*hashNode[T]).bucket].elements--
}

// hashTraversal is the state of one callback walk. A keyed search covers a
// single bucket; partial keys and full scans cover all of them.
type hashTraversal[T any] struct {
	h           *hashBackend[T]
	sortFn      SortFunc[T]
	arg         any
	flags       SearchFlags
	bucketStart int
	bucketLast  int
	descending  bool
}

func (h *hashBackend[T]) traversal(flags SearchFlags, arg any) traverser[T] {
	t := &hashTraversal[T]{
		h:     h,
		arg:   arg,
		flags: flags,
	}
	switch flags & ObjOrderMask {
	case ObjOrderPost, ObjOrderDescending:
		t.descending = true
	}

	bucket := -1
	switch flags & ObjSearchMask {
	case ObjSearchObject, ObjSearchKey:
		bucket = h.bucketOf(arg, flags&ObjSearchMask)
		t.sortFn = h.c.sortFn
	case ObjSearchPartialKey:
		t.sortFn = h.c.sortFn
	}

	// Descending bounds are inclusive, ascending ones exclusive.
	if t.descending {
		if bucket < 0 {
			bucket = len(h.buckets) - 1
			t.bucketLast = 0
		} else {
			t.bucketLast = bucket
		}
	} else {
		if bucket < 0 {
			bucket = 0
			t.bucketLast = len(h.buckets)
		} else {
			t.bucketLast = bucket + 1
		}
	}
	t.bucketStart = bucket
	return t
}

func (t *hashTraversal[T]) inRange(bucket int) bool {
	if t.descending {
		return bucket >= t.bucketLast
	}
	return bucket < t.bucketLast
}

func (t *hashTraversal[T]) bucketHead(bucket int) *hashNode[T] {
	if t.descending {
		return t.h.buckets[bucket].tail
	}
	return t.h.buckets[bucket].head
}

func (t *hashTraversal[T]) step(n *hashNode[T]) *hashNode[T] {
	if t.descending {
		return n.prev
	}
	return n.nxt
}

// scan returns the first candidate at or after n in walk order. A sorted
// bucket is left as soon as its keys have passed the search key.
func (t *hashTraversal[T]) scan(bucket int, n *hashNode[T]) *hashNode[T] {
	for t.inRange(bucket) {
		for ; n != nil; n = t.step(n) {
			if n.obj == nil {
				continue
			}
			if t.sortFn != nil {
				cmp := t.sortFn(n.obj, t.arg, t.flags&ObjSearchMask)
				if t.descending {
					cmp = -cmp
				}
				if cmp < 0 {
					continue
				}
				if cmp > 0 {
					break
				}
			}
			return n
		}

		if t.descending {
			bucket--
		} else {
			bucket++
		}
		if t.inRange(bucket) {
			n = t.bucketHead(bucket)
		}
	}
	return nil
}

func (t *hashTraversal[T]) first() containerNode[T] {
	n := t.scan(t.bucketStart, t.bucketHead(t.bucketStart))
	if n == nil {
		return nil
	}
	t.h.c.refNode(n)
	return n
}

func (t *hashTraversal[T]) next(cprev containerNode[T]) containerNode[T] {
	prev := cprev.(*hashNode[T])
	for {
		n := t.scan(prev.bucket, t.step(prev))
		if n == nil {
			t.h.c.releaseNode(prev)
			return nil
		}
		// Releasing prev may cycle the lock, n can be emptied meanwhile. Our
		// reference keeps it in its chain so the walk can continue from it.
		t.h.c.refNode(n)
		t.h.c.releaseNode(prev)
		if n.obj != nil {
			return n
		}
		prev = n
	}
}

func (h *hashBackend[T]) iteratorNext(cprev containerNode[T], descending bool) containerNode[T] {
	var bucket int
	if cprev != nil {
		n := cprev.(*hashNode[T])
		bucket = n.bucket
		for {
			if descending {
				n = n.prev
			} else {
				n = n.nxt
			}
			if n == nil {
				break
			}
			if n.obj != nil {
				return n
			}
		}
	} else if descending {
		bucket = len(h.buckets)
	} else {
		bucket = -1
	}

	if descending {
		for bucket--; bucket >= 0; bucket-- {
			for n := h.buckets[bucket].tail; n != nil; n = n.prev {
				if n.obj != nil {
					return n
				}
			}
		}
		return nil
	}
	for bucket++; bucket < len(h.buckets); bucket++ {
		for n := h.buckets[bucket].head; n != nil; n = n.nxt {
			if n.obj != nil {
				return n
			}
		}
	}
	return nil
}

func (h *hashBackend[T]) destroy() {
	for i := range h.buckets {
		if h.buckets[i].head != nil {
			fatal("node ref leak, hash container still has nodes")
		}
	}
}

func (h *hashBackend[T]) dump(w io.Writer, prnt ObjectPrinter[T]) {
	fmt.Fprintf(w, "Number of buckets: %d\n\n", len(h.buckets))
	fmt.Fprintf(w, "%6s, %16s, %16s, %16s, %16s, %s\n", "Bucket", "Node", "Prev", "Next", "Obj", "Key")
	suppressed := false
	for i := range h.buckets {
		n := h.buckets[i].head
		if n == nil {
			if !suppressed {
				suppressed = true
				fmt.Fprintln(w, "...")
			}
			continue
		}
		suppressed = false
		for ; n != nil; n = n.nxt {
			fmt.Fprintf(w, "%6d, %16p, %16p, %16p, %16p, ", i, n, n.prev, n.nxt, n.obj)
			if n.obj != nil && prnt != nil {
				prnt(w, n.obj)
			}
			fmt.Fprintln(w)
		}
	}
}

func (h *hashBackend[T]) stats(w io.Writer) {
	fmt.Fprintf(w, "Number of buckets: %d\n\n", len(h.buckets))
	fmt.Fprintf(w, "%10.10s %10.10s %10.10s\n", "Bucket", "Objects", "Max")
	suppressed := false
	for i := range h.buckets {
		b := &h.buckets[i]
		if b.maxElements == 0 {
			if !suppressed {
				suppressed = true
				fmt.Fprintln(w, "...")
			}
			continue
		}
		suppressed = false
		fmt.Fprintf(w, "%10d %10d %10d\n", i, b.elements, b.maxElements)
	}
}

func (h *hashBackend[T]) integrity() error {
	totalObj := 0
	totalNode := 0

	for i := range h.buckets {
		b := &h.buckets[i]
		if b.head == nil && b.tail == nil {
			if b.elements != 0 {
				return fmt.Errorf("bucket %d is empty but counts %d objects", i, b.elements)
			}
			continue
		}
		if b.head == nil || b.tail == nil {
			return fmt.Errorf("bucket %d has only one of head and tail", i)
		}
		if b.tail.nxt != nil {
			return fmt.Errorf("bucket %d tail node is not the last node", i)
		}
		if b.head.prev != nil {
			return fmt.Errorf("bucket %d head node is not the first node", i)
		}

		count := 0
		var last *Object[T]
		for n := b.head; n != nil; n = n.nxt {
			if n.prev != nil {
				if n.prev == n {
					return fmt.Errorf("bucket %d node prev points to itself", i)
				}
				if n.prev.nxt != n {
					return fmt.Errorf("bucket %d node prev does not link back", i)
				}
			} else if n != b.head {
				return fmt.Errorf("bucket %d backward chain is broken", i)
			}
			if n.nxt != nil {
				if n.nxt == n {
					return fmt.Errorf("bucket %d node next points to itself", i)
				}
				if n.nxt.prev != n {
					return fmt.Errorf("bucket %d node next does not link back", i)
				}
			} else if n != b.tail {
				return fmt.Errorf("bucket %d forward chain is broken", i)
			}
			if n.bucket != i {
				return fmt.Errorf("bucket %d node claims bucket %d", i, n.bucket)
			}

			totalNode++
			if n.obj == nil {
				continue
			}
			count++

			if exp := h.bucketOf(n.obj, ObjSearchObject); exp != i {
				return fmt.Errorf("bucket %d node hashes to bucket %d", i, exp)
			}
			if h.c.sortFn != nil {
				if last != nil && h.c.sortFn(last, n.obj, ObjSearchObject) > 0 {
					return fmt.Errorf("bucket %d nodes out of sorted order", i)
				}
				last = n.obj
			}
		}

		if count != b.elements {
			return fmt.Errorf("bucket %d object count %d does not match stat %d", i, count, b.elements)
		}
		totalObj += count
	}

	if totalObj != h.c.Count() {
		return fmt.Errorf("total object count %d does not match container count %d", totalObj, h.c.Count())
	}
	if totalNode != h.c.nodes {
		return fmt.Errorf("total node count %d does not match stat %d", totalNode, h.c.nodes)
	}
	return nil
}
