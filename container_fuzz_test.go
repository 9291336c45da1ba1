package refcon

import (
	"math/rand"
	"slices"
	"testing"
)

type operationFuzz int

const (
	opFuzzLink operationFuzz = iota
	opFuzzUnlinkKey
	opFuzzUnlinkAll
	opFuzzFind
)

// Links are weighted up so the container grows.
var fuzzOps = []operationFuzz{opFuzzLink, opFuzzLink, opFuzzLink, opFuzzUnlinkKey, opFuzzUnlinkKey, opFuzzUnlinkAll, opFuzzFind}

func FuzzRBTree(f *testing.F) {
	f.Add(int64(1), uint(10), uint(16))
	f.Add(int64(42), uint(1000), uint(64))
	f.Add(int64(7), uint(10000), uint(500))
	f.Add(int64(123), uint(10000), uint(10000))

	f.Fuzz(func(t *testing.T, seed int64, numOps uint, keyRange uint) {
		c, err := NewRBTree(itemSort, itemCmp)
		if err != nil {
			t.Fatal(err)
		}
		runRandomOps(t, c, seed, numOps, keyRange, true)
	})
}

func FuzzHash(f *testing.F) {
	f.Add(int64(1), uint(10), uint(16))
	f.Add(int64(42), uint(2000), uint(64))
	f.Add(int64(99), uint(5000), uint(1000))

	f.Fuzz(func(t *testing.T, seed int64, numOps uint, keyRange uint) {
		c, err := NewHash(31, itemHash, itemSort, itemCmp)
		if err != nil {
			t.Fatal(err)
		}
		runRandomOps(t, c, seed, numOps, keyRange, false)
	})
}

// runRandomOps applies a seeded mix of links and unlinks to c, checks it
// against a model and releases it. Unordered containers are compared as
// multisets.
func runRandomOps(t *testing.T, c *Container[item], seed int64, numOps uint, keyRange uint, ordered bool) {
	t.Helper()
	if numOps > 10000 {
		numOps = 10000
	}
	if keyRange == 0 || keyRange > 10000 {
		keyRange = 10000
	}

	rng := rand.New(rand.NewSource(seed))

	created, destroyed := 0, 0
	expected := make(map[int]int)
	total := 0

	validate := func(t *testing.T, op int) {
		t.Helper()
		if err := c.Check(0); err != nil {
			t.Fatalf("op %d: %v", op, err)
		}
		if c.Count() != total {
			t.Fatalf("op %d: count mismatch: expected %d, got %d", op, total, c.Count())
		}

		var want []int
		for k, n := range expected {
			for i := 0; i < n; i++ {
				want = append(want, k)
			}
		}
		slices.Sort(want)
		got := keysOf(c, 0)
		if !ordered {
			slices.Sort(got)
		}
		if !slices.Equal(want, got) {
			t.Fatalf("op %d: order mismatch: expected %v, got %v", op, want, got)
		}
	}

	for i := 0; i < int(numOps); i++ {
		k := rng.Intn(int(keyRange))
		switch fuzzOps[rng.Intn(len(fuzzOps))] {
		case opFuzzLink:
			o, _ := Alloc(item{key: k}, func(*item) { destroyed++ }, LockNone, nil)
			created++
			if err := c.Link(o, 0); err != nil {
				t.Fatalf("op %d: link %d: %v", i, k, err)
			}
			o.Release()
			expected[k]++
			total++
		case opFuzzUnlinkKey:
			o := c.Find(k, ObjSearchKey|ObjUnlink)
			if (o != nil) != (expected[k] > 0) {
				t.Fatalf("op %d: unlink %d: found %v, expected %d", i, k, o != nil, expected[k])
			}
			if o != nil {
				o.Release()
				expected[k]--
				total--
			}
		case opFuzzUnlinkAll:
			it := c.FindAll(k, ObjSearchKey|ObjUnlink)
			n := 0
			for o := range it.All() {
				o.Release()
				n++
			}
			it.Destroy()
			if n != expected[k] {
				t.Fatalf("op %d: unlink all %d: removed %d, expected %d", i, k, n, expected[k])
			}
			total -= n
			delete(expected, k)
		case opFuzzFind:
			o := c.Find(k, ObjSearchKey)
			if (o != nil) != (expected[k] > 0) {
				t.Fatalf("op %d: find %d: found %v, expected %d", i, k, o != nil, expected[k])
			}
			if o != nil {
				if o.Data().key != k {
					t.Fatalf("op %d: find %d returned %d", i, k, o.Data().key)
				}
				o.Release()
			}
		}

		if i%500 == 0 {
			validate(t, i)
		}
	}
	validate(t, int(numOps))

	if destroyed != created-total {
		t.Errorf("destroyed %d of %d objects with %d still linked", destroyed, created, total)
	}
	c.Release()
	if destroyed != created {
		t.Errorf("destroyed %d of %d objects after release", destroyed, created)
	}
}
