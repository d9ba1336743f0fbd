package sigcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubsv/validationcore/primitives"
)

func TestAddAndExists(t *testing.T) {
	c, err := New(4)
	require.NoError(t, err)

	var h primitives.Hash
	h[0] = 1
	sig := []byte{1, 2, 3}
	pk := []byte{4, 5, 6}

	assert.False(t, c.Exists(h, sig, pk), "expected miss before Add")
	c.Add(h, sig, pk, primitives.Hash{})
	assert.True(t, c.Exists(h, sig, pk), "expected hit after Add")
	assert.False(t, c.Exists(h, []byte{9, 9, 9}, pk), "expected miss for different signature bytes")
}

func TestEvictionKeepsCacheBounded(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		var h primitives.Hash
		h[0] = byte(i)
		c.Add(h, []byte{byte(i)}, []byte{byte(i)}, primitives.Hash{})
	}
	assert.LessOrEqual(t, len(c.valid), 2)
}

func TestEvictTxRemovesMatchingEntries(t *testing.T) {
	c, err := New(4)
	require.NoError(t, err)

	var h primitives.Hash
	h[0] = 1
	var txHash primitives.Hash
	txHash[0] = 7
	c.Add(h, []byte{1}, []byte{2}, txHash)
	c.EvictTx(txHash)
	assert.False(t, c.Exists(h, []byte{1}, []byte{2}), "expected entry to be evicted")
}
