// Package sigcache caches the verdict of expensive signature verifications
// so the same (sighash, signature, pubkey) triple is never checked twice
// across mempool acceptance and block connection.
package sigcache

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/dchest/siphash"

	"github.com/ubsv/validationcore/primitives"
)

const keySize = 16

// Cache implements a signature-verification cache with randomized eviction.
// Only known-valid signatures are stored; a miss never implies invalidity.
type Cache struct {
	mu         sync.RWMutex
	valid      map[primitives.Hash]entry
	maxEntries uint
	key        [keySize]byte
}

type entry struct {
	sig    []byte
	pubkey []byte
	short  uint64
}

func New(maxEntries uint) (*Cache, error) {
	var key [keySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, err
	}
	return &Cache{
		valid:      make(map[primitives.Hash]entry, maxEntries),
		maxEntries: maxEntries,
		key:        key,
	}, nil
}

// Exists reports whether sig over sigHash, under pubkey, is already known
// valid.
func (c *Cache) Exists(sigHash primitives.Hash, sig, pubkey []byte) bool {
	c.mu.RLock()
	e, ok := c.valid[sigHash]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	return bytesEqual(e.sig, sig) && bytesEqual(e.pubkey, pubkey)
}

// Add records a signature already verified valid. If the cache is full, one
// existing entry is evicted at random — relying on the non-adversarial
// starting point of Go map iteration is acceptable here since eviction
// choice has no security consequence.
func (c *Cache) Add(sigHash primitives.Hash, sig, pubkey []byte, txHash primitives.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxEntries == 0 {
		return
	}
	if uint(len(c.valid)+1) > c.maxEntries {
		for k := range c.valid {
			delete(c.valid, k)
			break
		}
	}
	c.valid[sigHash] = entry{sig: sig, pubkey: pubkey, short: c.shortTxHash(txHash)}
}

// EvictTx drops every cached entry whose short transaction hash matches txHash,
// used once a transaction's containing block is deep enough that its
// signatures will never be re-checked.
func (c *Cache) EvictTx(txHash primitives.Hash) {
	short := c.shortTxHash(txHash)
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.valid {
		if e.short == short {
			delete(c.valid, k)
		}
	}
}

func (c *Cache) shortTxHash(h primitives.Hash) uint64 {
	k0 := binary.LittleEndian.Uint64(c.key[0:8])
	k1 := binary.LittleEndian.Uint64(c.key[8:16])
	return siphash.Hash(k0, k1, h[:])
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
