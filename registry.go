package refcon

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

var (
	ErrNameInUse     = errors.New("refcon: container name already registered")
	ErrNotRegistered = errors.New("refcon: no container registered under that name")
)

// registration lets the registry reach a container without knowing its
// element type.
type registration struct {
	name    string
	dump    func(w io.Writer)
	stats   func(w io.Writer)
	check   func() error
	release func()
}

var registry = newRegistry()

func newRegistry() *Container[registration] {
	c, err := NewRBTree(registrationSort, registrationCmp, WithDuplicates(DupsReject))
	if err != nil {
		panic(err)
	}
	return c
}

// compareFold orders ASCII strings ignoring case.
func compareFold(a, b string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		ca, cb := toLower(a[i]), toLower(b[i])
		if ca != cb {
			return int(ca) - int(cb)
		}
	}
	return len(a) - len(b)
}

func registrationSort(left *Object[registration], right any, flags SearchFlags) int {
	name := left.Data().name
	switch flags & ObjSearchMask {
	case ObjSearchObject:
		return compareFold(name, right.(*Object[registration]).Data().name)
	case ObjSearchKey:
		return compareFold(name, right.(string))
	case ObjSearchPartialKey:
		prefix := right.(string)
		if len(name) > len(prefix) {
			name = name[:len(prefix)]
		}
		return compareFold(name, prefix)
	}
	return 0
}

func registrationCmp(obj *Object[registration], arg any, flags SearchFlags) Match {
	if registrationSort(obj, arg, flags) == 0 {
		return CmpMatch
	}
	return 0
}

// RegisterContainer makes c reachable by name for DumpRegistered,
// StatsRegistered and CheckRegistered. The registry keeps a reference on c
// until it is unregistered. Names are case insensitive.
func RegisterContainer[T any](name string, c *Container[T], prnt ObjectPrinter[T]) error {
	if c == nil {
		return ErrNilObject
	}

	reg, err := Alloc(registration{
		name: name,
		dump: func(w io.Writer) {
			c.Dump(w, 0, name, prnt)
		},
		stats: func(w io.Writer) {
			c.Stats(w, 0, name)
		},
		check: func() error {
			return c.Check(0)
		},
		release: func() {
			c.Release()
		},
	}, func(r *registration) {
		r.release()
	}, LockNone, nil)
	if err != nil {
		return err
	}
	c.Retain()
	defer reg.Release()

	if err := registry.Link(reg, 0); err != nil {
		if errors.Is(err, ErrRejected) {
			return fmt.Errorf("%w: %s", ErrNameInUse, name)
		}
		return err
	}
	slog.Debug("container registered", slog.String("name", name))
	return nil
}

// UnregisterContainer drops the registry's reference on the named container.
func UnregisterContainer(name string) error {
	reg := registry.Find(name, ObjSearchKey|ObjUnlink)
	if reg == nil {
		return fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	reg.Release()
	slog.Debug("container unregistered", slog.String("name", name))
	return nil
}

// RegisteredNames returns the names starting with prefix, in sorted order.
// An empty prefix lists everything.
func RegisteredNames(prefix string) []string {
	var it *Iterator[registration]
	if prefix == "" {
		it = registry.Iterator(0)
	} else {
		it = registry.FindAll(prefix, ObjSearchPartialKey)
	}
	defer it.Destroy()

	var names []string
	for reg := range it.All() {
		names = append(names, reg.Data().name)
		reg.Release()
	}
	return names
}

func findRegistered(name string) (*Object[registration], error) {
	reg := registry.Find(name, ObjSearchKey)
	if reg == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return reg, nil
}

// DumpRegistered writes the structure of the named container to w.
func DumpRegistered(w io.Writer, name string) error {
	reg, err := findRegistered(name)
	if err != nil {
		return err
	}
	defer reg.Release()
	reg.Data().dump(w)
	return nil
}

// StatsRegistered writes the statistics of the named container to w.
func StatsRegistered(w io.Writer, name string) error {
	reg, err := findRegistered(name)
	if err != nil {
		return err
	}
	defer reg.Release()
	reg.Data().stats(w)
	return nil
}

// CheckRegistered runs the integrity check of the named container.
func CheckRegistered(name string) error {
	reg, err := findRegistered(name)
	if err != nil {
		return err
	}
	defer reg.Release()
	return reg.Data().check()
}
