package refcon

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// LockPolicy selects the lock an object or container carries. It is fixed at
// construction.
type LockPolicy int

const (
	LockMutex LockPolicy = iota
	LockRW
	LockNone
	LockObject
)

func (p LockPolicy) String() string {
	switch p {
	case LockMutex:
		return "mutex"
	case LockRW:
		return "rwlock"
	case LockNone:
		return "nolock"
	case LockObject:
		return "lockobj"
	}
	return "invalid"
}

// LockReq is the strength a lock is requested with. Mutex and no-lock
// policies treat every request as exclusive.
type LockReq int

const (
	LockReqMutex LockReq = iota
	LockReqRead
	LockReqWrite
)

// Lockable is anything whose lock can be borrowed by another object through
// the LockObject policy. Objects and containers implement it.
type Lockable interface {
	Lock(how LockReq)
	Unlock()
	TryLock(how LockReq) bool
	adjustLock(how LockReq, keepStronger bool) LockReq
}

type locker interface {
	lock(how LockReq)
	unlock()
	tryLock(how LockReq) bool
	// adjust changes the strength of a lock the caller already holds and
	// returns the strength it had before.
	adjust(how LockReq, keepStronger bool) LockReq
}

func newLocker(policy LockPolicy, delegate Lockable) locker {
	switch policy {
	case LockMutex:
		return &mutexLock{}
	case LockRW:
		return &rwLock{}
	case LockNone:
		return noLock{}
	case LockObject:
		if delegate == nil {
			return nil
		}
		return delegateLock{target: delegate}
	}
	fatal("invalid lock policy", slog.Int("policy", int(policy)))
	return nil
}

func checkLockReq(how LockReq) {
	if how < LockReqMutex || how > LockReqWrite {
		fatal("invalid lock request", slog.Int("how", int(how)))
	}
}

type noLock struct{}

func (noLock) lock(LockReq) {}
func (noLock) unlock() {}
func (noLock) tryLock(LockReq) bool { return true }
func (noLock) adjust(LockReq, bool) LockReq { return LockReqMutex }

type mutexLock struct {
	mu sync.Mutex
}

func (l *mutexLock) lock(LockReq) { l.mu.Lock() }
func (l *mutexLock) unlock() { l.mu.Unlock() }
func (l *mutexLock) tryLock(LockReq) bool { return l.mu.TryLock() }
func (l *mutexLock) adjust(LockReq, bool) LockReq { return LockReqMutex }

// rwLock remembers how it is held so unlock and adjust know which side of
// the RWMutex to release.
type rwLock struct {
	mu      sync.RWMutex
	lockers atomic.Int32 // >0 readers, -1 writer
}

func (l *rwLock) lock(how LockReq) {
	switch how {
	case LockReqRead:
		l.mu.RLock()
		l.lockers.Add(1)
	case LockReqMutex, LockReqWrite:
		l.mu.Lock()
		l.lockers.Store(-1)
	default:
		checkLockReq(how)
	}
}

func (l *rwLock) unlock() {
	switch n := l.lockers.Load(); {
	case n < 0:
		l.lockers.Store(0)
		l.mu.Unlock()
	case n > 0:
		l.lockers.Add(-1)
		l.mu.RUnlock()
	default:
		fatal("unlock of an unlocked rwlock")
	}
}

func (l *rwLock) tryLock(how LockReq) bool {
	switch how {
	case LockReqRead:
		if !l.mu.TryRLock() {
			return false
		}
		l.lockers.Add(1)
	case LockReqMutex, LockReqWrite:
		if !l.mu.TryLock() {
			return false
		}
		l.lockers.Store(-1)
	default:
		checkLockReq(how)
	}
	return true
}

func (l *rwLock) adjust(how LockReq, keepStronger bool) LockReq {
	orig := LockReqRead
	if l.lockers.Load() < 0 {
		orig = LockReqWrite
	}

	switch how {
	case LockReqMutex, LockReqWrite:
		if orig != LockReqWrite {
			// Never upgrade in place, that would deadlock against a second
			// upgrading reader.
			l.unlock()
			l.lock(LockReqWrite)
		}
	case LockReqRead:
		if !keepStronger && orig != LockReqRead {
			l.unlock()
			l.lock(LockReqRead)
		}
	default:
		checkLockReq(how)
	}
	return orig
}

type delegateLock struct {
	target Lockable
}

func (l delegateLock) lock(how LockReq) { l.target.Lock(how) }
func (l delegateLock) unlock() { l.target.Unlock() }
func (l delegateLock) tryLock(how LockReq) bool { return l.target.TryLock(how) }
func (l delegateLock) adjust(how LockReq, keepStronger bool) LockReq {
	return l.target.adjustLock(how, keepStronger)
}

// lockGuard pairs an acquisition with its release. When the caller already
// holds the lock (ObjNoLock) the guard only adjusts its strength and restores
// the original strength on release.
type lockGuard struct {
	l        locker
	orig     LockReq
	adjusted bool
}

func acquire(l locker, how LockReq, held bool) lockGuard {
	if held {
		return lockGuard{l: l, orig: l.adjust(how, true), adjusted: true}
	}
	l.lock(how)
	return lockGuard{l: l}
}

func (g lockGuard) release() {
	if g.adjusted {
		g.l.adjust(g.orig, false)
		return
	}
	g.l.unlock()
}
