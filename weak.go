package refcon

import (
	"errors"
)

var (
	// ErrAlreadyBound is returned when binding a proxy that already points
	// to an object.
	ErrAlreadyBound = errors.New("refcon: weak proxy already has an object")
	// ErrTargetHasProxy is returned when the target already has a weak proxy.
	ErrTargetHasProxy = errors.New("refcon: object already has a weak proxy")
)

// Weak is the payload of a weak proxy object. The proxy points at a target
// object without keeping it alive: once every other reference to the target
// is gone the link is cleared and subscribers are told.
type Weak[T, P any] struct {
	// Payload is user data carried by the proxy, e.g. the name it is
	// registered under.
	Payload P
	target  *Object[T]
	subs    []weakSubscription[T, P]
	nextID  uint64
}

// WeakNotify is called once the proxy no longer points at its target.
type WeakNotify[T, P any] func(proxy *Object[Weak[T, P]], data any)

type weakSubscription[T, P any] struct {
	id   uint64
	fn   WeakNotify[T, P]
	data any
}

// weakRef is what a target stores to reach its proxy. It does not know the
// proxy's payload type.
type weakRef struct {
	b weakBinding
}

type weakBinding interface {
	lockProxy()
	unlockProxy()
	// detach clears both links with the proxy locked and returns the work
	// to run once the lock is released.
	detach() func()
}

type proxyBinding[T, P any] struct {
	proxy  *Object[Weak[T, P]]
	target *Object[T]
}

func (b *proxyBinding[T, P]) lockProxy()   { b.proxy.Lock(LockReqMutex) }
func (b *proxyBinding[T, P]) unlockProxy() { b.proxy.Unlock() }

func (b *proxyBinding[T, P]) detach() func() {
	w := b.proxy.Data()
	w.target = nil
	b.target.weak.Store(nil)
	subs := w.subs
	w.subs = nil

	return func() {
		for _, s := range subs {
			s.fn(b.proxy, s.data)
		}
		// The target held this reference on its proxy.
		b.proxy.Release()
	}
}

// NewWeakProxy creates an unbound weak proxy carrying payload. The proxy is a
// regular mutex protected object and can be stored in containers.
func NewWeakProxy[T, P any](payload P, destructor func(*P)) *Object[Weak[T, P]] {
	proxy, _ := Alloc(Weak[T, P]{Payload: payload}, func(w *Weak[T, P]) {
		if destructor != nil {
			destructor(&w.Payload)
		}
	}, LockMutex, nil)
	return proxy
}

// WeakBind links proxy and target. Each side gains one reference on the
// other; the target's reference is dropped again as soon as it is the only
// one left.
func WeakBind[T, P any](proxy *Object[Weak[T, P]], target *Object[T]) error {
	if proxy == nil || target == nil {
		return ErrNilObject
	}

	proxy.Lock(LockReqMutex)
	defer proxy.Unlock()

	w := proxy.Data()
	if w.target != nil {
		return ErrAlreadyBound
	}
	if !target.weak.CompareAndSwap(nil, &weakRef{b: &proxyBinding[T, P]{proxy: proxy, target: target}}) {
		return ErrTargetHasProxy
	}

	target.adjust(1)
	proxy.adjust(1)
	w.target = target
	return nil
}

// WeakGet returns a new reference to the proxy's target, or nil once the
// target is gone.
func WeakGet[T, P any](proxy *Object[Weak[T, P]]) *Object[T] {
	proxy.Lock(LockReqMutex)
	defer proxy.Unlock()

	t := proxy.Data().target
	if t != nil {
		t.adjust(1)
	}
	return t
}

// WeakAlive reports whether the proxy still points at its target.
func WeakAlive[T, P any](proxy *Object[Weak[T, P]]) bool {
	proxy.Lock(LockReqMutex)
	defer proxy.Unlock()
	return proxy.Data().target != nil
}

// WeakSubscribe registers fn to run when the target goes away. If the proxy
// is not bound fn runs right away and the returned id is zero.
//
// Subscribers run after the target's destructor has finished and without the
// proxy lock held, in subscription order. By then WeakGet already returns nil
// and fn may subscribe, unsubscribe or rebind the proxy.
func WeakSubscribe[T, P any](proxy *Object[Weak[T, P]], fn WeakNotify[T, P], data any) uint64 {
	proxy.Lock(LockReqMutex)
	w := proxy.Data()
	if w.target == nil {
		proxy.Unlock()
		fn(proxy, data)
		return 0
	}
	w.nextID++
	id := w.nextID
	w.subs = append(w.subs, weakSubscription[T, P]{id: id, fn: fn, data: data})
	proxy.Unlock()
	return id
}

// WeakUnsubscribe removes the subscription with the given id and reports
// whether it was found.
func WeakUnsubscribe[T, P any](proxy *Object[Weak[T, P]], id uint64) bool {
	proxy.Lock(LockReqMutex)
	defer proxy.Unlock()

	w := proxy.Data()
	for i, s := range w.subs {
		if s.id == id {
			w.subs = append(w.subs[:i], w.subs[i+1:]...)
			return true
		}
	}
	return false
}

// WeakUnsubscribeAll drops every subscription and returns how many there were.
func WeakUnsubscribeAll[T, P any](proxy *Object[Weak[T, P]]) int {
	proxy.Lock(LockReqMutex)
	defer proxy.Unlock()

	w := proxy.Data()
	n := len(w.subs)
	w.subs = nil
	return n
}

// ProxyOf returns a new reference to the weak proxy bound to target, or nil
// if it has none or the proxy carries a different payload type.
func ProxyOf[T, P any](target *Object[T]) *Object[Weak[T, P]] {
	ref := target.weak.Load()
	if ref == nil {
		return nil
	}
	b, ok := ref.b.(*proxyBinding[T, P])
	if !ok {
		return nil
	}

	b.lockProxy()
	defer b.unlockProxy()
	if target.weak.Load() != ref {
		return nil
	}
	return b.proxy.Retain()
}

// WeakFind looks a proxy up in c and returns a new reference to its target.
// It returns nil when no proxy matches or its target is already gone.
func WeakFind[T, P any](c *Container[Weak[T, P]], arg any, flags SearchFlags) *Object[T] {
	proxy := c.Find(arg, flags&^(ObjMultiple|ObjNoData))
	if proxy == nil {
		return nil
	}
	defer proxy.Release()
	return WeakGet(proxy)
}
