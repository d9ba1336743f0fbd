package mempool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubsv/validationcore/chaincfg"
	"github.com/ubsv/validationcore/primitives"
	"github.com/ubsv/validationcore/script"
	"github.com/ubsv/validationcore/settings"
	"github.com/ubsv/validationcore/utxo"
	"github.com/ubsv/validationcore/validator"
	"github.com/ubsv/validationcore/wire"
)

// p2shAnyoneCanSpendScript builds a standard P2SH locking script wrapping an
// OP_TRUE redeem script, and the scriptSig that satisfies it — a minimal
// fixture that exercises real script verification without a real signature.
func p2shAnyoneCanSpendScript() (locking, unlocking []byte) {
	redeem := []byte{byte(script.OP_1)}
	hash := primitives.Hash160(redeem)
	locking = append([]byte{byte(script.OP_HASH160), 0x14}, hash[:]...)
	locking = append(locking, byte(script.OP_EQUAL))
	unlocking = append([]byte{byte(len(redeem))}, redeem...)
	return locking, unlocking
}

func testValidator(policy *settings.PolicySettings) *validator.Validator {
	params := chaincfg.RegressionNetParams
	return validator.New(policy, &params)
}

func txSpending(op wire.OutPoint, seq uint32, outputValue int64) *wire.Tx {
	return &wire.Tx{
		Version:  1,
		Inputs:   []*wire.TxIn{{PreviousOutPoint: op, UnlockingScript: []byte{0x01, 0x02}, Sequence: seq}},
		Outputs:  []*wire.TxOut{{Value: outputValue, LockingScript: []byte{0x76}}},
		LockTime: 0,
	}
}

func TestAcceptNonConflicting(t *testing.T) {
	m := New(&settings.Default().Policy)
	op := wire.OutPoint{Hash: primitives.Hash{1}, Index: 0}
	tx := txSpending(op, wire.SequenceFinal, 900)
	var txid primitives.Hash
	txid[0] = 0xaa

	evicted, err := m.Accept(tx, txid, 100)
	require.NoError(t, err)
	assert.Empty(t, evicted)
	assert.Equal(t, 1, m.Len())
}

func TestAcceptToMemoryPoolRejectsNonStandardOutput(t *testing.T) {
	policy := settings.Default().Policy
	m := New(&policy)
	v := testValidator(&policy)
	set := utxo.New()

	op := wire.OutPoint{Hash: primitives.Hash{1}, Index: 0}
	tx := txSpending(op, wire.SequenceFinal, 900) // locking script []byte{0x76} matches no standard template

	_, err := m.AcceptToMemoryPool(tx, set, v)
	assert.Error(t, err, "expected rejection: output locking script is not a standard template")
	assert.Zero(t, m.Len())
}

func TestAcceptToMemoryPoolRejectsUnknownInput(t *testing.T) {
	policy := settings.Default().Policy
	m := New(&policy)
	v := testValidator(&policy)
	set := utxo.New()

	locking, unlocking := p2shAnyoneCanSpendScript()
	op := wire.OutPoint{Hash: primitives.Hash{2}, Index: 0}
	tx := &wire.Tx{
		Version:  1,
		Inputs:   []*wire.TxIn{{PreviousOutPoint: op, UnlockingScript: unlocking, Sequence: wire.SequenceFinal}},
		Outputs:  []*wire.TxOut{{Value: 900, LockingScript: locking}},
		LockTime: 0,
	}

	_, err := m.AcceptToMemoryPool(tx, set, v)
	assert.Error(t, err, "expected rejection: input is not present in the mempool or the UTXO set")
}

func TestAcceptToMemoryPoolValidatesScriptsAndFeerate(t *testing.T) {
	policy := settings.Default().Policy
	m := New(&policy)
	v := testValidator(&policy)
	set := utxo.New()

	locking, unlocking := p2shAnyoneCanSpendScript()
	op := wire.OutPoint{Hash: primitives.Hash{3}, Index: 0}
	require.NoError(t, set.Insert(op, utxo.Coin{Value: 10000, LockingScript: locking}))

	tx := &wire.Tx{
		Version:  1,
		Inputs:   []*wire.TxIn{{PreviousOutPoint: op, UnlockingScript: unlocking, Sequence: wire.SequenceFinal}},
		Outputs:  []*wire.TxOut{{Value: 9000, LockingScript: locking}},
		LockTime: 0,
	}

	evicted, err := m.AcceptToMemoryPool(tx, set, v)
	require.NoError(t, err)
	assert.Empty(t, evicted)
	assert.Equal(t, 1, m.Len())
}

func TestAcceptToMemoryPoolRejectsScriptFailure(t *testing.T) {
	policy := settings.Default().Policy
	m := New(&policy)
	v := testValidator(&policy)
	set := utxo.New()

	locking, _ := p2shAnyoneCanSpendScript()
	op := wire.OutPoint{Hash: primitives.Hash{4}, Index: 0}
	require.NoError(t, set.Insert(op, utxo.Coin{Value: 10000, LockingScript: locking}))

	wrongUnlocking := []byte{byte(script.OP_0)} // does not reproduce the OP_TRUE redeem script
	tx := &wire.Tx{
		Version:  1,
		Inputs:   []*wire.TxIn{{PreviousOutPoint: op, UnlockingScript: wrongUnlocking, Sequence: wire.SequenceFinal}},
		Outputs:  []*wire.TxOut{{Value: 9000, LockingScript: locking}},
		LockTime: 0,
	}

	_, err := m.AcceptToMemoryPool(tx, set, v)
	assert.Error(t, err, "expected rejection: scriptSig does not satisfy the P2SH redeem script")
}

func TestReplacementRejectedWithoutOptIn(t *testing.T) {
	m := New(&settings.Default().Policy)
	op := wire.OutPoint{Hash: primitives.Hash{1}, Index: 0}
	original := txSpending(op, wire.SequenceFinal, 900) // final, not replaceable
	var origID primitives.Hash
	origID[0] = 1
	_, err := m.Accept(original, origID, 100)
	require.NoError(t, err)

	replacement := txSpending(op, wire.SequenceFinal-2, 800)
	var replID primitives.Hash
	replID[0] = 2
	_, err = m.Accept(replacement, replID, 10000)
	assert.Error(t, err, "expected rejection: original did not opt into replacement")
}

func TestReplacementAcceptedWithHigherFee(t *testing.T) {
	m := New(&settings.Default().Policy)
	op := wire.OutPoint{Hash: primitives.Hash{1}, Index: 0}
	original := txSpending(op, wire.SequenceFinal-2, 900)
	var origID primitives.Hash
	origID[0] = 1
	_, err := m.Accept(original, origID, 100)
	require.NoError(t, err)

	replacement := txSpending(op, wire.SequenceFinal-2, 800)
	var replID primitives.Hash
	replID[0] = 2
	evicted, err := m.Accept(replacement, replID, 100000)
	require.NoError(t, err)
	require.Len(t, evicted, 1)
	assert.Equal(t, origID, evicted[0])

	_, ok := m.Get(origID)
	assert.False(t, ok, "expected original to be removed")
}

func TestReplacementRejectedWithLowerFee(t *testing.T) {
	m := New(&settings.Default().Policy)
	op := wire.OutPoint{Hash: primitives.Hash{1}, Index: 0}
	original := txSpending(op, wire.SequenceFinal-2, 900)
	var origID primitives.Hash
	origID[0] = 1
	_, err := m.Accept(original, origID, 10000)
	require.NoError(t, err)

	replacement := txSpending(op, wire.SequenceFinal-2, 800)
	var replID primitives.Hash
	replID[0] = 2
	_, err = m.Accept(replacement, replID, 100)
	assert.Error(t, err, "expected rejection: replacement pays a lower fee")
}
