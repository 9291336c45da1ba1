package refcon

import (
	"encoding/binary"
	"golang.org/x/crypto/blake2b"
	"hash"
	"sync"
)

// StrHash is the classic h*33^c string hash, folded to a non-negative int.
func StrHash(s string) int {
	var h uint32 = 5381
	for i := 0; i < len(s); i++ {
		h = h*33 ^ uint32(s[i])
	}
	return int(h & 0x7fffffff)
}

// StrCaseHash is StrHash over the ASCII lower case form of s.
func StrCaseHash(s string) int {
	var h uint32 = 5381
	for i := 0; i < len(s); i++ {
		h = h*33 ^ uint32(toLower(s[i]))
	}
	return int(h & 0x7fffffff)
}

func toLower(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

// Blake2bHasher hashes strings with a keyed BLAKE2b. Containers indexed by
// names that come from outside the process use it so bucket placement
// cannot be predicted and flooded.
type Blake2bHasher struct {
	mu sync.Mutex
	h  hash.Hash
}

// NewBlake2bHasher returns a hasher keyed with key, at most 64 bytes.
func NewBlake2bHasher(key []byte) (*Blake2bHasher, error) {
	h, err := blake2b.New(8, key)
	if err != nil {
		return nil, err
	}
	return &Blake2bHasher{h: h}, nil
}

// Sum returns a non-negative hash of s.
func (b *Blake2bHasher) Sum(s string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.h.Reset()
	b.h.Write([]byte(s))
	var out [8]byte
	sum := b.h.Sum(out[:0])
	return int(binary.LittleEndian.Uint64(sum) & 0x7fffffffffffffff)
}
