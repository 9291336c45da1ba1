package refcon

// Global is a slot holding at most one object for readers that come and go,
// such as a module's current configuration. The zero value is an empty slot.
// The slot owns one reference on the object it holds.
type Global[T any] struct {
	lock rwLock
	obj  *Object[T]
}

// Replace stores obj, taking a reference on it, and returns the previous
// object. The slot's reference on the previous object passes to the caller,
// who must release it. A nil obj empties the slot.
func (g *Global[T]) Replace(obj *Object[T]) *Object[T] {
	if obj != nil {
		obj.Retain()
	}
	g.lock.lock(LockReqWrite)
	old := g.obj
	g.obj = obj
	g.lock.unlock()
	return old
}

// ReplaceUnref is Replace followed by releasing the previous object. It
// reports whether there was one.
func (g *Global[T]) ReplaceUnref(obj *Object[T]) bool {
	old := g.Replace(obj)
	if old == nil {
		return false
	}
	old.Release()
	return true
}

// Ref returns the held object with a reference taken for the caller, or nil
// when the slot is empty.
func (g *Global[T]) Ref() *Object[T] {
	g.lock.lock(LockReqRead)
	defer g.lock.unlock()
	if g.obj == nil {
		return nil
	}
	return g.obj.Retain()
}

// Release empties the slot and drops its reference.
func (g *Global[T]) Release() {
	g.ReplaceUnref(nil)
}
