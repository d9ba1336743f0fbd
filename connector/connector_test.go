package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubsv/validationcore/chaincfg"
	"github.com/ubsv/validationcore/primitives"
	"github.com/ubsv/validationcore/script"
	"github.com/ubsv/validationcore/settings"
	"github.com/ubsv/validationcore/utxo"
	"github.com/ubsv/validationcore/wire"
)

// trueLockingScript is OP_TRUE: it leaves a true value on the stack whatever
// the unlocking script pushed (here, dummyUnlockingScript's OP_1).
var trueLockingScript = []byte{byte(script.OP_1)}

func coinbaseWithHeight(height int64, reward int64) *wire.Tx {
	sig := []byte{0x03, byte(height), byte(height >> 8), byte(height >> 16)}
	return &wire.Tx{
		Version: 1,
		Inputs: []*wire.TxIn{{
			PreviousOutPoint: wire.OutPoint{Index: 0xffffffff},
			UnlockingScript:  sig,
			Sequence:         wire.SequenceFinal,
		}},
		Outputs:  []*wire.TxOut{{Value: reward, LockingScript: trueLockingScript}},
		LockTime: 0,
	}
}

// dummyUnlockingScript is a single push-only opcode: satisfies the
// push-only/non-empty policy check without needing a real signature, since
// trueLockingScript never runs a CHECKSIG.
var dummyUnlockingScript = []byte{byte(script.OP_1)}

func spendTx(op wire.OutPoint, value int64) *wire.Tx {
	return &wire.Tx{
		Version:  1,
		Inputs:   []*wire.TxIn{{PreviousOutPoint: op, UnlockingScript: dummyUnlockingScript, Sequence: wire.SequenceFinal}},
		Outputs:  []*wire.TxOut{{Value: value, LockingScript: trueLockingScript}},
		LockTime: 0,
	}
}

// regtestBits decodes to a target just under the regtest proof-of-work
// limit: roughly half of all nonces will produce a qualifying hash, so
// buildBlock mines a handful of nonces rather than assuming any one works.
const regtestBits = 0x207fffff

func buildBlock(t *testing.T, txs []*wire.Tx) *wire.Block {
	t.Helper()
	txids := make([]primitives.Hash, len(txs))
	for i, tx := range txs {
		txids[i] = tx.Txid()
	}
	b := &wire.Block{
		Header: wire.BlockHeader{
			Version:    1,
			Bits:       regtestBits,
			MerkleRoot: wire.MerkleRoot(txids),
		},
		Transactions: txs,
	}
	target := bitsToTarget(regtestBits)
	for nonce := uint32(0); ; nonce++ {
		b.Header.Nonce = nonce
		if hashToBigInt(b.Header.Hash()).Cmp(target) <= 0 {
			return b
		}
		if nonce > 10000 {
			t.Fatal("failed to mine a qualifying header within 10000 nonces")
		}
	}
}

func testConnector() *Connector {
	params := chaincfg.RegressionNetParams
	s := settings.Default()
	return New(&params, &s.Connector, &s.Policy)
}

func TestConnectGenesisLikeCoinbaseOnlyBlock(t *testing.T) {
	c := testConnector()
	set := utxo.New()
	cb := coinbaseWithHeight(1, c.params.Subsidy(1))
	block := buildBlock(t, []*wire.Tx{cb})

	result, err := c.Connect(block, 1, set)
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
	assert.Zero(t, result.Fees)
}

func TestConnectRejectsBadMerkleRoot(t *testing.T) {
	c := testConnector()
	set := utxo.New()
	cb := coinbaseWithHeight(1, c.params.Subsidy(1))
	block := buildBlock(t, []*wire.Tx{cb})
	block.Header.MerkleRoot = primitives.Hash{0xff}

	_, err := c.Connect(block, 1, set)
	assert.Error(t, err, "expected merkle root mismatch to be rejected")
}

func TestConnectRejectsBadCoinbaseHeight(t *testing.T) {
	c := testConnector()
	set := utxo.New()
	cb := coinbaseWithHeight(999, c.params.Subsidy(1))
	block := buildBlock(t, []*wire.Tx{cb})

	_, err := c.Connect(block, 1, set)
	assert.Error(t, err, "expected BIP34 height mismatch to be rejected")
}

func TestConnectRejectsOversizedCoinbase(t *testing.T) {
	c := testConnector()
	set := utxo.New()
	cb := coinbaseWithHeight(1, c.params.Subsidy(1)+1)
	block := buildBlock(t, []*wire.Tx{cb})

	_, err := c.Connect(block, 1, set)
	assert.Error(t, err, "expected coinbase paying more than subsidy+fees to be rejected")
}

func TestConnectSpendsPriorOutputAndCollectsFee(t *testing.T) {
	c := testConnector()
	set := utxo.New()
	cb := coinbaseWithHeight(1, c.params.Subsidy(1))
	block := buildBlock(t, []*wire.Tx{cb})
	_, err := c.Connect(block, 1, set)
	require.NoError(t, err)

	spendOp := wire.OutPoint{Hash: cb.Txid(), Index: 0}
	spend := spendTx(spendOp, cb.Outputs[0].Value-500)

	cb2 := coinbaseWithHeight(101, c.params.Subsidy(101))
	block2 := buildBlock(t, []*wire.Tx{cb2, spend})

	result, err := c.Connect(block2, 101, set)
	require.NoError(t, err)
	assert.EqualValues(t, 500, result.Fees)

	_, ok := set.Get(spendOp)
	assert.False(t, ok, "spent output should no longer be in the set")
}

func TestConnectRejectsImmatureCoinbaseSpend(t *testing.T) {
	c := testConnector()
	set := utxo.New()
	cb := coinbaseWithHeight(1, c.params.Subsidy(1))
	block := buildBlock(t, []*wire.Tx{cb})
	_, err := c.Connect(block, 1, set)
	require.NoError(t, err)

	spendOp := wire.OutPoint{Hash: cb.Txid(), Index: 0}
	spend := spendTx(spendOp, cb.Outputs[0].Value)
	cb2 := coinbaseWithHeight(2, c.params.Subsidy(2))
	block2 := buildBlock(t, []*wire.Tx{cb2, spend})

	_, err = c.Connect(block2, 2, set)
	assert.Error(t, err, "expected immature coinbase spend to be rejected")
	assert.Equal(t, 1, set.Len(), "rejected block must leave the UTXO set unmodified")
}

func TestConnectRejectsDoubleSpendWithinBlock(t *testing.T) {
	c := testConnector()
	set := utxo.New()
	cb := coinbaseWithHeight(1, c.params.Subsidy(1))
	block := buildBlock(t, []*wire.Tx{cb})
	_, err := c.Connect(block, 1, set)
	require.NoError(t, err)

	spendOp := wire.OutPoint{Hash: cb.Txid(), Index: 0}
	spendA := spendTx(spendOp, cb.Outputs[0].Value-500)
	spendB := spendTx(spendOp, cb.Outputs[0].Value-600)
	cb2 := coinbaseWithHeight(101, c.params.Subsidy(101))
	block2 := buildBlock(t, []*wire.Tx{cb2, spendA, spendB})

	_, err = c.Connect(block2, 101, set)
	assert.Error(t, err, "expected double spend within the same block to be rejected")
}

// witnessSpendTx is spendTx with the segwit marker set and a dummy witness
// item attached, without actually spending a witness program — it exercises
// checkWitnessCommitment's "block carries witness data" gate independent of
// the spent output's own script type.
func witnessSpendTx(op wire.OutPoint, value int64) *wire.Tx {
	tx := spendTx(op, value)
	tx.HasWitness = true
	tx.Inputs[0].Witness = [][]byte{{0x01}}
	return tx
}

func TestConnectRejectsMissingWitnessCommitment(t *testing.T) {
	c := testConnector()
	set := utxo.New()
	cb := coinbaseWithHeight(1, c.params.Subsidy(1))
	block := buildBlock(t, []*wire.Tx{cb})
	_, err := c.Connect(block, 1, set)
	require.NoError(t, err)

	spendOp := wire.OutPoint{Hash: cb.Txid(), Index: 0}
	spend := witnessSpendTx(spendOp, cb.Outputs[0].Value-500)
	// cb2's outputs carry no witness-commitment OP_RETURN, even though the
	// block now contains a transaction with witness data.
	cb2 := coinbaseWithHeight(101, c.params.Subsidy(101))
	block2 := buildBlock(t, []*wire.Tx{cb2, spend})

	_, err = c.Connect(block2, 101, set)
	assert.Error(t, err, "expected a block carrying witness data but no coinbase witness commitment to be rejected")
	assert.Equal(t, 1, set.Len(), "rejected block must leave the UTXO set unmodified")
}

func TestUndoLogReversesConnect(t *testing.T) {
	c := testConnector()
	set := utxo.New()
	cb := coinbaseWithHeight(1, c.params.Subsidy(1))
	block := buildBlock(t, []*wire.Tx{cb})
	preDigest := set.Digest()

	result, err := c.Connect(block, 1, set)
	require.NoError(t, err)
	require.NoError(t, result.Undo.Apply(set))
	assert.Equal(t, preDigest, set.Digest(), "undo log should restore the set to its pre-connect state")
}
