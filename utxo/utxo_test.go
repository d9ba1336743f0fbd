package utxo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubsv/validationcore/wire"
)

func op(idx uint32) wire.OutPoint {
	var h [32]byte
	h[0] = byte(idx)
	return wire.OutPoint{Hash: h, Index: idx}
}

func TestInsertGetRemove(t *testing.T) {
	s := New()
	o := op(1)
	c := Coin{Value: 1000, Height: 10}

	require.NoError(t, s.Insert(o, c))

	got, ok := s.Get(o)
	require.True(t, ok)
	assert.Equal(t, int64(1000), got.Value)

	removed, ok := s.Remove(o)
	require.True(t, ok)
	assert.Equal(t, int64(1000), removed.Value)

	_, ok = s.Get(o)
	assert.False(t, ok, "expected outpoint gone after remove")
}

func TestInsertDuplicateRejected(t *testing.T) {
	s := New()
	o := op(2)
	require.NoError(t, s.Insert(o, Coin{Value: 1}))
	assert.Error(t, s.Insert(o, Coin{Value: 2}), "expected duplicate insert to be rejected")
}

func TestSnapshotIsIndependent(t *testing.T) {
	s := New()
	o := op(3)
	require.NoError(t, s.Insert(o, Coin{Value: 5}))

	snap := s.Snapshot()
	s.Remove(o)

	_, ok := snap.Get(o)
	assert.True(t, ok, "snapshot should be unaffected by later mutation of the source set")
}

func TestCanonicalSerializationDeterministic(t *testing.T) {
	s1 := New()
	s2 := New()
	for i := uint32(1); i <= 5; i++ {
		require.NoError(t, s1.Insert(op(i), Coin{Value: int64(i)}))
		require.NoError(t, s2.Insert(op(6-i), Coin{Value: int64(6 - i)}))
	}
	assert.Equal(t, s1.SerializeCanonical(), s2.SerializeCanonical(), "canonical serialization should be order-independent")
}

func TestUndoLogRestoresOriginalSet(t *testing.T) {
	s := New()
	spentOp := op(7)
	require.NoError(t, s.Insert(spentOp, Coin{Value: 100}))
	originalDigest := s.Digest()

	var log UndoLog
	removed, _ := s.Remove(spentOp)
	log = append(log, UndoEntry{OutPoint: spentOp, Coin: removed, Spent: true})

	createdOp := op(8)
	require.NoError(t, s.Insert(createdOp, Coin{Value: 50}))
	log = append(log, UndoEntry{OutPoint: createdOp, Spent: false})

	require.NoError(t, log.Apply(s))
	assert.Equal(t, originalDigest, s.Digest(), "undo log did not restore original set")
}
