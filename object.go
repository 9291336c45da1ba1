// Package refcon provides reference counted objects and the concurrent
// containers that hold them.
//
// An Object carries its payload, an atomic reference count, an optional
// destructor and a lock chosen at allocation time. A Container stores objects
// in a hash table or a red-black tree, supports keyed lookup, callback driven
// search and unlink, and iterators that stay valid while other goroutines
// mutate the container.
package refcon

import (
	"errors"
	"log/slog"
	"sync/atomic"
)

var (
	// ErrMissingDelegate is returned when LockObject is requested without
	// an object to borrow the lock from.
	ErrMissingDelegate = errors.New("refcon: LockObject policy needs a delegate lock")
	// ErrNilObject is returned when a nil object is passed where one is required.
	ErrNilObject = errors.New("refcon: nil object")
)

// refCount is the counter shared by objects and containers. A count of zero
// means destroyed; it never comes back.
type refCount struct {
	n atomic.Int32
}

// add applies delta and returns the new count.
func (r *refCount) add(delta int32) int32 {
	cur := r.n.Add(delta)
	if delta > 0 && cur-delta <= 0 {
		fatal("retain of a destroyed object", slog.Int("refs", int(cur-delta)), slog.Int("delta", int(delta)))
	}
	if cur < 0 {
		fatal("invalid refcount", slog.Int("refs", int(cur)), slog.Int("delta", int(delta)))
	}
	return cur
}

// Object is a reference counted holder of a T. The creator owns the first
// reference; every other holder takes its own with Retain and gives it back
// with Release exactly once.
type Object[T any] struct {
	refs       refCount
	lock       locker
	policy     LockPolicy
	destructor func(*T)
	weak       atomic.Pointer[weakRef]
	data       T
}

// Alloc creates an object holding data with a reference count of one. The
// destructor, if any, runs exactly once when the last reference is released.
// A delegate is required for LockObject and ignored otherwise.
func Alloc[T any](data T, destructor func(*T), policy LockPolicy, delegate Lockable) (*Object[T], error) {
	l := newLocker(policy, delegate)
	if l == nil {
		return nil, ErrMissingDelegate
	}
	o := &Object[T]{
		lock:       l,
		policy:     policy,
		destructor: destructor,
		data:       data,
	}
	o.refs.n.Store(1)
	return o, nil
}

// New creates a mutex protected object without a destructor.
func New[T any](data T) *Object[T] {
	o, _ := Alloc(data, nil, LockMutex, nil)
	return o
}

// Data returns the payload. Mutating it while others hold references requires
// the object's lock.
func (o *Object[T]) Data() *T {
	return &o.data
}

// Policy returns the lock policy fixed at allocation.
func (o *Object[T]) Policy() LockPolicy {
	return o.policy
}

// RefCount returns the current count. It is a snapshot.
func (o *Object[T]) RefCount() int32 {
	return o.refs.n.Load()
}

// Retain takes one more reference and returns o, so it can be used inline.
func (o *Object[T]) Retain() *Object[T] {
	o.Ref(1)
	return o
}

// Release gives back one reference and returns the new count. The destructor
// runs when it reaches zero.
func (o *Object[T]) Release() int32 {
	return o.Ref(-1)
}

// Ref adjusts the count by delta and returns the new count. A delta of zero
// only reads it.
func (o *Object[T]) Ref(delta int32) int32 {
	if delta == 0 {
		return o.refs.n.Load()
	}
	if delta < 0 {
		if w := o.weak.Load(); w != nil {
			return o.releaseBound(w, delta)
		}
	}
	return o.adjust(delta)
}

func (o *Object[T]) adjust(delta int32) int32 {
	cur := o.refs.add(delta)
	if cur == 0 {
		o.destroy()
	}
	return cur
}

// releaseBound handles a release on an object that has a weak proxy. The
// proxy lock is taken before the decrement so that only one releaser can see
// the count land on the reference the proxy holds.
func (o *Object[T]) releaseBound(w *weakRef, delta int32) int32 {
	w.b.lockProxy()
	if o.weak.Load() != w {
		// Detached while we waited for the proxy.
		w.b.unlockProxy()
		return o.Ref(delta)
	}

	cur := o.refs.add(delta)
	var notify func()
	if cur == 1 {
		notify = w.b.detach()
	} else if cur == 0 {
		w.b.unlockProxy()
		fatal("weak proxy reference lost", slog.Int("delta", int(delta)))
	}
	w.b.unlockProxy()

	if notify == nil {
		return cur
	}
	o.adjust(-1)
	notify()
	return 0
}

func (o *Object[T]) destroy() {
	if o.destructor != nil {
		o.destructor(&o.data)
	}
	var zero T
	o.data = zero
}

// Lock acquires the object's lock. Read and write only differ for LockRW.
func (o *Object[T]) Lock(how LockReq) {
	checkLockReq(how)
	o.lock.lock(how)
}

// Unlock releases the object's lock, whichever strength it is held with.
func (o *Object[T]) Unlock() {
	o.lock.unlock()
}

// TryLock acquires the lock without waiting and reports whether it did.
func (o *Object[T]) TryLock(how LockReq) bool {
	checkLockReq(how)
	return o.lock.tryLock(how)
}

func (o *Object[T]) adjustLock(how LockReq, keepStronger bool) LockReq {
	return o.lock.adjust(how, keepStronger)
}
