package refcon

// SearchFlags control how a container operation locks, matches, orders and
// returns what it finds.
type SearchFlags uint32

const (
	// ObjUnlink removes matched objects from the container.
	ObjUnlink SearchFlags = 1 << iota
	// ObjNoData discards matched objects instead of returning them.
	ObjNoData
	// ObjMultiple continues past the first match.
	ObjMultiple
	// ObjNoLock tells the container the caller already holds its lock.
	ObjNoLock
)

// The search kind tells hash, sort and compare functions what arg is:
// another object, a full key or a partial key. With none of them set the
// whole container is visited.
const (
	ObjSearchNone       SearchFlags = 0
	ObjSearchObject     SearchFlags = 1 << 5
	ObjSearchKey        SearchFlags = 2 << 5
	ObjSearchPartialKey SearchFlags = 4 << 5
	ObjSearchMask       SearchFlags = 7 << 5
)

// Traversal order. Pre and post order only mean something for trees; hash
// containers treat pre as ascending and post as descending.
const (
	ObjOrderAscending  SearchFlags = 0
	ObjOrderDescending SearchFlags = 1 << 8
	ObjOrderPre        SearchFlags = 2 << 8
	ObjOrderPost       SearchFlags = 3 << 8
	ObjOrderMask       SearchFlags = 3 << 8
)

// Match is what a callback returns for each visited object.
type Match int

const (
	CmpMatch Match = 1 << iota
	CmpStop
)

// HashFunc hashes arg, an *Object[T] or a key depending on the search kind
// in flags. Negative results are allowed.
type HashFunc func(arg any, flags SearchFlags) int

// SortFunc orders left against right, an *Object[T] or a (partial) key
// depending on flags. It returns <0, 0 or >0.
type SortFunc[T any] func(left *Object[T], right any, flags SearchFlags) int

// CallbackFunc decides whether obj matches arg and whether to stop.
type CallbackFunc[T any] func(obj *Object[T], arg any, flags SearchFlags) Match

// MatchByAddr matches the object that is arg itself.
func MatchByAddr[T any](obj *Object[T], arg any, _ SearchFlags) Match {
	if o, ok := arg.(*Object[T]); ok && o == obj {
		return CmpMatch | CmpStop
	}
	return 0
}

func matchAll[T any](*Object[T], any, SearchFlags) Match {
	return CmpMatch
}

// Duplicates is the policy applied when an object with an equal key is
// linked into a container that has a sort function.
type Duplicates int

const (
	// DupsAllow keeps every object, equal keys are ordered by insertion.
	DupsAllow Duplicates = iota
	// DupsReject refuses any object whose key is already present.
	DupsReject
	// DupsRejectObject refuses only an object that is already linked; other
	// objects with an equal key are allowed.
	DupsRejectObject
	// DupsReplace swaps the new object in place of the one with an equal key.
	DupsReplace
)

func (d Duplicates) String() string {
	switch d {
	case DupsAllow:
		return "allow"
	case DupsReject:
		return "reject"
	case DupsRejectObject:
		return "reject-object"
	case DupsReplace:
		return "replace"
	}
	return "invalid"
}

// IteratorFlags control a container iterator.
type IteratorFlags uint32

const (
	// IterDontLock tells the iterator the caller already holds the
	// container lock.
	IterDontLock IteratorFlags = 1 << iota
	// IterUnlink removes each returned object and hands over the
	// container's reference to the caller.
	IterUnlink
	// IterDescending walks the container backwards.
	IterDescending
)

type ContainerOption struct {
	lockPolicy  LockPolicy
	delegate    Lockable
	dups        Duplicates
	insertBegin bool
}

type ContainerFunc func(*ContainerOption)

// WithLockPolicy sets the container lock. The default is LockMutex.
func WithLockPolicy(policy LockPolicy) ContainerFunc {
	return func(c *ContainerOption) {
		c.lockPolicy = policy
	}
}

// WithDelegateLock makes the container borrow the lock of l.
func WithDelegateLock(l Lockable) ContainerFunc {
	return func(c *ContainerOption) {
		c.lockPolicy = LockObject
		c.delegate = l
	}
}

// WithDuplicates sets the duplicate key policy. The default is DupsAllow.
func WithDuplicates(d Duplicates) ContainerFunc {
	return func(c *ContainerOption) {
		c.dups = d
	}
}

// WithInsertBegin inserts equal or unsorted objects before existing ones
// instead of after them.
func WithInsertBegin() ContainerFunc {
	return func(c *ContainerOption) {
		c.insertBegin = true
	}
}

func fillContainerOpts(options ...ContainerFunc) ContainerOption {
	opts := ContainerOption{
		lockPolicy: LockMutex,
		dups:       DupsAllow,
	}
	for _, opt := range options {
		opt(&opts)
	}
	return opts
}
