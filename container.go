package refcon

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
)

var (
	// ErrNoSortFunc is returned by NewRBTree without a sort function.
	ErrNoSortFunc = errors.New("refcon: rbtree container needs a sort function")
	// ErrInvalidBuckets is returned by NewHash for a bucket count below one.
	ErrInvalidBuckets = errors.New("refcon: hash container needs at least one bucket")
	// ErrRejected is returned by Link when the duplicate policy refuses the object.
	ErrRejected = errors.New("refcon: object rejected by duplicate policy")
	// ErrDuplicateFailed is returned by Dup and Clone when an object could not be copied.
	ErrDuplicateFailed = errors.New("refcon: could not duplicate container")
	// ErrIntegrity wraps every finding of Check.
	ErrIntegrity = errors.New("refcon: container integrity check failed")
)

// ObjectPrinter writes a short description of obj, typically its key.
type ObjectPrinter[T any] func(w io.Writer, obj *Object[T])

type insertResult int

const (
	nodeInserted insertResult = iota
	nodeObjReplaced
	nodeRejected
)

// nodeCore is the part of a node shared by every backend. A node holds one
// reference on obj while obj is set. The container holds one reference on
// the node while it is logically linked; iterators and traversals hold more.
type nodeCore[T any] struct {
	refs   atomic.Int32
	obj    *Object[T]
	linked bool
}

type containerNode[T any] interface {
	core() *nodeCore[T]
}

type traverser[T any] interface {
	// first returns the first matching node with a reference taken for the
	// caller, or nil.
	first() containerNode[T]
	// next releases prev and returns the following matching node with a
	// reference taken, or nil.
	next(prev containerNode[T]) containerNode[T]
}

// backend is implemented by the hash table and the red-black tree. Every
// method is called with the container lock held; insert and removeNode
// need it held for writing.
type backend[T any] interface {
	newNode(obj *Object[T]) containerNode[T]
	insert(n containerNode[T]) insertResult
	traversal(flags SearchFlags, arg any) traverser[T]
	iteratorNext(prev containerNode[T], descending bool) containerNode[T]
	removeNode(n containerNode[T])
	emptyClone() (*Container[T], error)
	destroy()
	integrity() error
	dump(w io.Writer, prnt ObjectPrinter[T])
	stats(w io.Writer)
	linkStat(n containerNode[T])
	unlinkStat(n containerNode[T])
}

// Container is a reference counted collection of objects. The creator owns
// the first reference; releasing the last one unlinks every object.
type Container[T any] struct {
	refs       refCount
	lock       locker
	backend    backend[T]
	sortFn     SortFunc[T]
	cmpFn      CallbackFunc[T]
	opts       ContainerOption
	elements   atomic.Int32
	destroying bool

	// under the write lock
	nodes    int
	maxEmpty int
}

func newContainer[T any](opts ContainerOption, sortFn SortFunc[T], cmpFn CallbackFunc[T]) (*Container[T], error) {
	l := newLocker(opts.lockPolicy, opts.delegate)
	if l == nil {
		return nil, ErrMissingDelegate
	}
	c := &Container[T]{
		lock:   l,
		sortFn: sortFn,
		cmpFn:  cmpFn,
		opts:   opts,
	}
	c.refs.n.Store(1)
	return c, nil
}

// Count returns the number of linked objects.
func (c *Container[T]) Count() int {
	return int(c.elements.Load())
}

// Retain takes one more reference on the container and returns it.
func (c *Container[T]) Retain() *Container[T] {
	c.refs.add(1)
	return c
}

// Release gives back one reference. The last release unlinks and releases
// every object still in the container.
func (c *Container[T]) Release() int32 {
	cur := c.refs.add(-1)
	if cur == 0 {
		c.destruct()
	}
	return cur
}

// RefCount returns the container's current count. It is a snapshot.
func (c *Container[T]) RefCount() int32 {
	return c.refs.n.Load()
}

// Lock acquires the container lock, for example to make several calls with
// ObjNoLock atomic.
func (c *Container[T]) Lock(how LockReq) {
	checkLockReq(how)
	c.lock.lock(how)
}

// Unlock releases the container lock.
func (c *Container[T]) Unlock() {
	c.lock.unlock()
}

// TryLock acquires the container lock without waiting and reports whether it did.
func (c *Container[T]) TryLock(how LockReq) bool {
	checkLockReq(how)
	return c.lock.tryLock(how)
}

func (c *Container[T]) adjustLock(how LockReq, keepStronger bool) LockReq {
	return c.lock.adjust(how, keepStronger)
}

func (c *Container[T]) destruct() {
	c.destroying = true
	c.traverse(ObjUnlink|ObjNoData|ObjMultiple, nil, nil)
	c.backend.destroy()
}

func (c *Container[T]) refNode(n containerNode[T]) {
	n.core().refs.Add(1)
}

// releaseNode drops one node reference. The last one physically removes a
// linked node, upgrading the container lock to write for good, and releases
// any object the node still holds.
func (c *Container[T]) releaseNode(n containerNode[T]) {
	nc := n.core()
	cur := nc.refs.Add(-1)
	if cur > 0 {
		return
	}
	if cur < 0 {
		fatal("invalid node refcount", slog.Int("refs", int(cur)))
	}

	if nc.linked {
		c.lock.adjust(LockReqWrite, true)
		if DebugIntegrity && !c.destroying {
			c.debugCheck("before node deletion")
		}
		c.backend.removeNode(n)
		nc.linked = false
		c.nodes--
		if DebugIntegrity && !c.destroying {
			c.debugCheck("after node deletion")
		}
	}

	if obj := nc.obj; obj != nil {
		nc.obj = nil
		obj.Release()
	}
}

type unlinkFlags int

const (
	unlinkObject unlinkFlags = 1 << iota
	noUnrefObject
	decCount
	unrefNode
)

func (c *Container[T]) unlinkNode(n containerNode[T], flags unlinkFlags) {
	nc := n.core()
	obj := nc.obj
	nc.obj = nil

	if flags&unlinkObject != 0 && flags&noUnrefObject == 0 && obj != nil {
		obj.Release()
	}

	if flags&decCount != 0 {
		c.elements.Add(-1)
		if empty := c.nodes - c.Count(); empty > c.maxEmpty {
			c.maxEmpty = empty
		}
		c.backend.unlinkStat(n)
	}

	if flags&unrefNode != 0 {
		c.releaseNode(n)
	}
}

// Link inserts obj. The container takes its own reference; the caller keeps
// the one it had. ErrRejected is returned when the duplicate policy refuses
// obj, in which case nothing changed.
func (c *Container[T]) Link(obj *Object[T], flags SearchFlags) error {
	if obj == nil {
		return ErrNilObject
	}

	g := acquire(c.lock, LockReqWrite, flags&ObjNoLock != 0)
	defer g.release()

	n := c.backend.newNode(obj)
	if DebugIntegrity {
		c.debugCheck("before insert")
	}

	switch c.backend.insert(n) {
	case nodeInserted:
		n.core().linked = true
		c.elements.Add(1)
		c.nodes++
		c.backend.linkStat(n)
	case nodeObjReplaced:
		// n now holds the replaced object.
		c.releaseNode(n)
	case nodeRejected:
		c.releaseNode(n)
		return ErrRejected
	}

	if DebugIntegrity {
		c.debugCheck("after insert or replace")
	}
	return nil
}

// Unlink removes obj if it is linked and releases the container's reference.
func (c *Container[T]) Unlink(obj *Object[T], flags SearchFlags) {
	if obj == nil {
		return
	}
	flags &^= ObjSearchMask
	flags |= ObjUnlink | ObjSearchObject | ObjNoData
	c.traverse(flags, MatchByAddr[T], obj)
}

// Callback visits objects in the order selected by flags and applies fn to
// each. Without ObjNoData the first match is returned with a reference the
// caller must release. With ObjMultiple nothing is returned; use
// CallbackMulti to collect several results. A nil fn matches everything.
func (c *Container[T]) Callback(flags SearchFlags, fn CallbackFunc[T], arg any) *Object[T] {
	if flags&ObjMultiple != 0 {
		flags |= ObjNoData
	}
	obj, _ := c.traverse(flags, fn, arg)
	return obj
}

// CallbackMulti is Callback collecting every match. The returned iterator
// owns a private snapshot of the results; Destroy releases whatever the
// caller did not take.
func (c *Container[T]) CallbackMulti(flags SearchFlags, fn CallbackFunc[T], arg any) *Iterator[T] {
	flags |= ObjMultiple
	flags &^= ObjNoData
	_, it := c.traverse(flags, fn, arg)
	return it
}

// Find returns the first object the container's compare function matches
// against arg, with a new reference, or nil.
func (c *Container[T]) Find(arg any, flags SearchFlags) *Object[T] {
	return c.Callback(flags&^ObjMultiple, c.cmpFn, arg)
}

// FindAll returns every object the compare function matches against arg.
func (c *Container[T]) FindAll(arg any, flags SearchFlags) *Iterator[T] {
	return c.CallbackMulti(flags, c.cmpFn, arg)
}

func (c *Container[T]) traverse(flags SearchFlags, fn CallbackFunc[T], arg any) (*Object[T], *Iterator[T]) {
	var multi *Container[T]
	if flags&(ObjMultiple|ObjNoData) == ObjMultiple {
		multi, _ = NewList[T](nil, nil, WithLockPolicy(LockNone))
	}
	if fn == nil {
		fn = matchAll[T]
	}

	how := LockReqRead
	if flags&ObjUnlink != 0 {
		how = LockReqWrite
	}
	g := acquire(c.lock, how, flags&ObjNoLock != 0)

	var ret *Object[T]
	t := c.backend.traversal(flags, arg)
	n := t.first()
	for ; n != nil; n = t.next(n) {
		nc := n.core()
		match := fn(nc.obj, arg, flags) & (CmpMatch | CmpStop)
		if match == 0 {
			continue
		}
		if match == CmpStop {
			break
		}

		if obj := nc.obj; obj != nil {
			if flags&ObjNoData == 0 {
				if multi != nil {
					if err := multi.Link(obj, ObjNoLock); err != nil {
						fatal("multi-result link failed", slog.Any("err", err))
					}
				} else {
					// Without unlink the container keeps its reference.
					ret = obj
					if flags&ObjUnlink == 0 {
						ret.Retain()
					}
				}
			}
			if flags&ObjUnlink != 0 {
				uf := unrefNode | decCount
				if multi != nil || flags&ObjNoData != 0 {
					uf |= unlinkObject
				}
				c.unlinkNode(n, uf)
			}
		}

		if match&CmpStop != 0 || flags&ObjMultiple == 0 {
			break
		}
	}
	if n != nil {
		c.releaseNode(n)
	}
	g.release()

	if multi != nil {
		it := multi.Iterator(IterUnlink)
		multi.Release()
		return nil, it
	}
	return ret, nil
}

// Dup links every object of src into c. On failure c is emptied again and
// ErrDuplicateFailed is returned. With ObjNoLock the caller holds both
// locks.
func (c *Container[T]) Dup(src *Container[T], flags SearchFlags) error {
	if flags&ObjNoLock == 0 {
		src.Lock(LockReqRead)
		c.Lock(LockReqWrite)
		defer func() {
			c.Unlock()
			src.Unlock()
		}()
	}

	failed := src.Callback(ObjNoLock, func(obj *Object[T], _ any, _ SearchFlags) Match {
		if err := c.Link(obj, ObjNoLock); err != nil {
			return CmpMatch | CmpStop
		}
		return 0
	}, nil)
	if failed == nil {
		return nil
	}

	failed.Release()
	c.Callback(ObjNoLock|ObjUnlink|ObjNoData|ObjMultiple, nil, nil)
	return ErrDuplicateFailed
}

// Clone returns a new container of the same kind and options holding every
// object of c.
func (c *Container[T]) Clone(flags SearchFlags) (*Container[T], error) {
	clone, err := c.backend.emptyClone()
	if err != nil {
		return nil, err
	}

	if flags&ObjNoLock != 0 {
		clone.Lock(LockReqWrite)
	}
	err = clone.Dup(c, flags)
	if flags&ObjNoLock != 0 {
		clone.Unlock()
	}
	if err != nil {
		clone.Release()
		return nil, err
	}
	return clone, nil
}

// Dump writes the backend structure, one node per line. prnt may be nil.
func (c *Container[T]) Dump(w io.Writer, flags SearchFlags, name string, prnt ObjectPrinter[T]) {
	if flags&ObjNoLock == 0 {
		c.Lock(LockReqRead)
		defer c.Unlock()
	}
	if name != "" {
		fmt.Fprintf(w, "Container name: %s\n", name)
	}
	c.backend.dump(w, prnt)
}

// Stats writes node counts and backend specific counters.
func (c *Container[T]) Stats(w io.Writer, flags SearchFlags, name string) {
	if flags&ObjNoLock == 0 {
		c.Lock(LockReqRead)
		defer c.Unlock()
	}
	if name != "" {
		fmt.Fprintf(w, "Container name: %s\n", name)
	}
	fmt.Fprintf(w, "Number of objects: %d\n", c.Count())
	fmt.Fprintf(w, "Number of nodes: %d\n", c.nodes)
	fmt.Fprintf(w, "Number of empty nodes: %d\n", c.nodes-c.Count())
	// A growing maximum usually means iterators are not destroyed.
	fmt.Fprintf(w, "Maximum empty nodes: %d\n", c.maxEmpty)
	c.backend.stats(w)
}

// Check re-derives counts, ordering and structure from scratch. A broken
// invariant is logged and returned wrapped in ErrIntegrity.
func (c *Container[T]) Check(flags SearchFlags) error {
	if flags&ObjNoLock == 0 {
		c.Lock(LockReqRead)
		defer c.Unlock()
	}
	if err := c.backend.integrity(); err != nil {
		slog.Error("container integrity", slog.Any("error", err))
		return fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	return nil
}

func (c *Container[T]) debugCheck(when string) {
	if err := c.backend.integrity(); err != nil {
		slog.Error("container integrity failed "+when, slog.Any("error", err))
	}
}
