// Package utxo implements the unspent-transaction-output set the connector
// validates blocks against: an outpoint-keyed map supporting get/insert
// (duplicate-rejecting, per BIP30)/remove (for undo)/snapshot, plus a
// canonical serialization used to compare sets across workers at chunk
// boundaries.
package utxo

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/ubsv/validationcore/errors"
	"github.com/ubsv/validationcore/wire"
)

// Coin is a single unspent output plus the metadata needed to enforce
// coinbase maturity and to reconstruct it on undo.
type Coin struct {
	Value         int64
	LockingScript []byte
	Height        int64
	IsCoinbase    bool
}

const shardCount = 64

type shard struct {
	mu sync.RWMutex
	m  map[wire.OutPoint]Coin
}

// Set is a sharded UTXO map. Sharding by the first byte of the outpoint hash
// lets concurrent chunk workers mutate disjoint regions of a very large set
// without a single global lock becoming a bottleneck; each shard itself is
// guarded so Get remains safe from concurrent Insert/Remove on the same
// shard. Shards are not shared copy-on-write: Snapshot copies every entry.
type Set struct {
	shards [shardCount]*shard
}

// New builds an empty UTXO set.
func New() *Set {
	s := &Set{}
	for i := range s.shards {
		s.shards[i] = &shard{m: make(map[wire.OutPoint]Coin)}
	}
	return s
}

func (s *Set) shardFor(op wire.OutPoint) *shard {
	return s.shards[op.Hash[0]%shardCount]
}

// Get returns the coin at outpoint, if unspent.
func (s *Set) Get(op wire.OutPoint) (Coin, bool) {
	sh := s.shardFor(op)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	c, ok := sh.m[op]
	return c, ok
}

// Insert adds a new unspent coin. Per BIP30, inserting over an existing,
// still-unspent outpoint is a consensus failure outside the two historical
// exception blocks, so this returns an error rather than silently
// overwriting.
func (s *Set) Insert(op wire.OutPoint, c Coin) error {
	sh := s.shardFor(op)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, exists := sh.m[op]; exists {
		return errors.NewConsensusInvalid(errors.SubKindDoubleSpend, "duplicate outpoint %v:%d", op.Hash, op.Index)
	}
	sh.m[op] = c
	return nil
}

// Remove deletes and returns the coin at outpoint, for building an undo log.
func (s *Set) Remove(op wire.OutPoint) (Coin, bool) {
	sh := s.shardFor(op)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	c, ok := sh.m[op]
	if ok {
		delete(sh.m, op)
	}
	return c, ok
}

// Len returns the total number of unspent outputs across all shards.
func (s *Set) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.m)
		sh.mu.RUnlock()
	}
	return total
}

// Snapshot returns an independent deep copy: mutating the returned Set never
// affects s, so it may be handed to another worker with no shared mutable
// aliasing.
func (s *Set) Snapshot() *Set {
	out := New()
	for i, sh := range s.shards {
		sh.mu.RLock()
		cp := make(map[wire.OutPoint]Coin, len(sh.m))
		for k, v := range sh.m {
			cp[k] = v
		}
		sh.mu.RUnlock()
		out.shards[i].m = cp
	}
	return out
}

// entry is the sortable (outpoint, coin) pair used by SerializeCanonical.
type entry struct {
	op wire.OutPoint
	c  Coin
}

// SerializeCanonical produces a deterministic byte representation of the
// set: entries sorted by (hash, index) so that two sets with the same
// members always serialize identically, letting the harness compare UTXO
// sets across chunk boundaries by straight byte equality. This package has
// no matching deserializer.
func (s *Set) SerializeCanonical() []byte {
	entries := make([]entry, 0, s.Len())
	for _, sh := range s.shards {
		sh.mu.RLock()
		for op, c := range sh.m {
			entries = append(entries, entry{op, c})
		}
		sh.mu.RUnlock()
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].op.Hash != entries[j].op.Hash {
			return bytes.Compare(entries[i].op.Hash[:], entries[j].op.Hash[:]) < 0
		}
		return entries[i].op.Index < entries[j].op.Index
	})

	var buf bytes.Buffer
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(entries)))
	buf.Write(n[:])

	for _, e := range entries {
		buf.Write(e.op.Hash[:])
		binary.LittleEndian.PutUint32(n[:4], e.op.Index)
		buf.Write(n[:4])
		binary.LittleEndian.PutUint64(n[:], uint64(e.c.Value))
		buf.Write(n[:])
		binary.LittleEndian.PutUint64(n[:], uint64(e.c.Height))
		buf.Write(n[:])
		if e.c.IsCoinbase {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		binary.LittleEndian.PutUint32(n[:4], uint32(len(e.c.LockingScript)))
		buf.Write(n[:4])
		buf.Write(e.c.LockingScript)
	}
	return buf.Bytes()
}

// Digest is a shorthand for comparing two sets cheaply: the SHA-256 of the
// canonical serialization, used at checkpoint boundaries where carrying the
// full set around would be wasteful.
func (s *Set) Digest() [32]byte {
	return sha256.Sum256(s.SerializeCanonical())
}
