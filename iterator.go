package refcon

import (
	"iter"
)

// Iterator walks a container without holding its lock between calls. It
// keeps a reference on the container and on the last visited node, so the
// walk stays valid while other goroutines link and unlink.
type Iterator[T any] struct {
	c        *Container[T]
	last     containerNode[T]
	flags    IteratorFlags
	complete bool
}

// Iterator starts a walk over c. Destroy must be called when done.
func (c *Container[T]) Iterator(flags IteratorFlags) *Iterator[T] {
	return &Iterator[T]{
		c:     c.Retain(),
		flags: flags,
	}
}

// Next returns the next object with a reference owned by the caller, or nil
// at the end. With IterUnlink the object is removed and the container's own
// reference is handed over.
func (it *Iterator[T]) Next() *Object[T] {
	if it.complete {
		return nil
	}

	how := LockReqRead
	if it.flags&IterUnlink != 0 {
		how = LockReqWrite
	}
	g := acquire(it.c.lock, how, it.flags&IterDontLock != 0)

	var ret *Object[T]
	n := it.c.backend.iteratorNext(it.last, it.flags&IterDescending != 0)
	if n != nil {
		ret = n.core().obj
		if it.flags&IterUnlink != 0 {
			// The container's node reference now belongs to the iterator.
			it.c.unlinkNode(n, decCount)
		} else {
			ret.Retain()
			it.c.refNode(n)
		}
	} else {
		it.complete = true
	}

	if it.last != nil {
		it.c.releaseNode(it.last)
	}
	it.last = n

	g.release()
	return ret
}

// Restart drops the position so the next call to Next begins again.
func (it *Iterator[T]) Restart() {
	if it.last != nil {
		// Read is enough unless the node goes away, then releaseNode
		// upgrades.
		g := acquire(it.c.lock, LockReqRead, it.flags&IterDontLock != 0)
		it.c.releaseNode(it.last)
		it.last = nil
		g.release()
	}
	it.complete = false
}

// Destroy releases the iterator's node and container references.
func (it *Iterator[T]) Destroy() {
	if it.c == nil {
		return
	}
	it.Restart()
	it.c.Release()
	it.c = nil
}

// Count returns the number of objects in the iterated container.
func (it *Iterator[T]) Count() int {
	return it.c.Count()
}

// All adapts the iterator to a range-over-func loop. Every yielded object
// carries a reference the loop body must release.
func (it *Iterator[T]) All() iter.Seq[*Object[T]] {
	return func(yield func(*Object[T]) bool) {
		for obj := it.Next(); obj != nil; obj = it.Next() {
			if !yield(obj) {
				return
			}
		}
	}
}
