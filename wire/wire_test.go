package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubsv/validationcore/primitives"
)

func coinbaseTx() *Tx {
	return &Tx{
		Version: 1,
		Inputs: []*TxIn{{
			PreviousOutPoint: OutPoint{Index: 0xffffffff},
			UnlockingScript:  []byte{0x03, 0x01, 0x02, 0x03},
			Sequence:         0xffffffff,
		}},
		Outputs: []*TxOut{{
			Value:         5000000000,
			LockingScript: []byte{0x76, 0xa9, 0x14},
		}},
		LockTime: 0,
	}
}

func TestTxRoundTrip(t *testing.T) {
	tx := coinbaseTx()
	encoded := tx.Bytes()

	decoded, err := DecodeTx(bytes.NewReader(encoded))
	require.NoError(t, err)
	assert.Equal(t, tx.Version, decoded.Version)
	assert.Len(t, decoded.Inputs, 1)
	assert.Len(t, decoded.Outputs, 1)
	assert.True(t, decoded.IsCoinbase(), "expected coinbase detection")
}

func TestTxWitnessRoundTrip(t *testing.T) {
	tx := &Tx{
		Version:    2,
		HasWitness: true,
		Inputs: []*TxIn{{
			PreviousOutPoint: OutPoint{Index: 0},
			UnlockingScript:  nil,
			Sequence:         0xffffffff,
			Witness:          [][]byte{{0x30, 0x44}, {0x02, 0x21}},
		}},
		Outputs: []*TxOut{{Value: 1000, LockingScript: []byte{0x00, 0x14}}},
	}

	encoded := tx.Bytes()
	decoded, err := DecodeTx(bytes.NewReader(encoded))
	require.NoError(t, err)
	assert.True(t, decoded.HasWitness, "expected witness flag preserved")
	require.Len(t, decoded.Inputs[0].Witness, 2)

	// txid must use the legacy (witness-stripped) encoding, so it differs
	// from wtxid for a segwit transaction.
	assert.NotEqual(t, decoded.Txid(), decoded.Wtxid())
}

func TestDecodeTxTruncated(t *testing.T) {
	tx := coinbaseTx()
	encoded := tx.Bytes()
	_, err := DecodeTx(bytes.NewReader(encoded[:len(encoded)-2]))
	assert.Error(t, err, "expected malformed error on truncated tx")
}

func TestMerkleRootSingleTx(t *testing.T) {
	txid := primitives.Sha256d([]byte("tx"))
	root := MerkleRoot([]primitives.Hash{txid})
	assert.Equal(t, txid, root, "single-tx merkle root should equal the txid")
}

func TestMerkleRootOddCountDuplicatesLast(t *testing.T) {
	a := primitives.Sha256d([]byte("a"))
	b := primitives.Sha256d([]byte("b"))
	c := primitives.Sha256d([]byte("c"))

	withDup := MerkleRoot([]primitives.Hash{a, b, c, c})
	odd := MerkleRoot([]primitives.Hash{a, b, c})
	assert.Equal(t, odd, withDup, "odd-length merkle root should duplicate the last leaf")
}

func TestBlockRoundTrip(t *testing.T) {
	tx := coinbaseTx()
	header := BlockHeader{Version: 1, Timestamp: 1231006505, Bits: 0x1d00ffff}
	header.MerkleRoot = MerkleRoot([]primitives.Hash{tx.Txid()})

	var buf bytes.Buffer
	buf.Write(header.Bytes())
	require.NoError(t, primitives.WriteVarInt(&buf, 1))
	buf.Write(tx.Bytes())

	block, err := DecodeBlock(buf.Bytes())
	require.NoError(t, err)
	assert.Len(t, block.Transactions, 1)
	assert.False(t, block.Header.Hash().IsZero(), "expected non-zero block hash")
}

func TestDecodeBlockRejectsZeroTransactions(t *testing.T) {
	header := BlockHeader{}
	var buf bytes.Buffer
	buf.Write(header.Bytes())
	require.NoError(t, primitives.WriteVarInt(&buf, 0))

	_, err := DecodeBlock(buf.Bytes())
	assert.Error(t, err, "expected malformed error for zero-transaction block")
}
