package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubsv/validationcore/chaincfg"
	"github.com/ubsv/validationcore/primitives"
	"github.com/ubsv/validationcore/settings"
	"github.com/ubsv/validationcore/utxo"
	"github.com/ubsv/validationcore/wire"
)

func simpleTx() *wire.Tx {
	return &wire.Tx{
		Version: 1,
		Inputs: []*wire.TxIn{{
			PreviousOutPoint: wire.OutPoint{Hash: primitives.Hash{1}, Index: 0},
			UnlockingScript:  []byte{0x01, 0x02}, // push-only
			Sequence:         wire.SequenceFinal,
		}},
		Outputs: []*wire.TxOut{{Value: 900, LockingScript: []byte{0x76, 0xa9}}},
	}
}

func TestValidateTransactionAccepts(t *testing.T) {
	v := New(&settings.Default().Policy, &chaincfg.RegressionNetParams)
	tx := simpleTx()
	inputs := []utxo.Coin{{Value: 1000, LockingScript: []byte{0x76, 0xa9}}}
	require.NoError(t, v.ValidateTransaction(tx, inputs, Options{}))
}

func TestValidateTransactionRejectsEmptyInputsOutputs(t *testing.T) {
	v := New(&settings.Default().Policy, &chaincfg.RegressionNetParams)
	tx := &wire.Tx{}
	assert.Error(t, v.ValidateTransaction(tx, nil, Options{}), "expected rejection of empty transaction")
}

func TestValidateTransactionRejectsDuplicateInputs(t *testing.T) {
	v := New(&settings.Default().Policy, &chaincfg.RegressionNetParams)
	op := wire.OutPoint{Hash: primitives.Hash{1}, Index: 0}
	tx := &wire.Tx{
		Inputs: []*wire.TxIn{
			{PreviousOutPoint: op, UnlockingScript: []byte{0x01, 0x02}},
			{PreviousOutPoint: op, UnlockingScript: []byte{0x01, 0x02}},
		},
		Outputs: []*wire.TxOut{{Value: 100, LockingScript: []byte{0x76}}},
	}
	inputs := []utxo.Coin{{Value: 100}, {Value: 100}}
	assert.Error(t, v.ValidateTransaction(tx, inputs, Options{}), "expected rejection of duplicate inputs")
}

func TestValidateTransactionRejectsNonPushOnlyUnlockingScript(t *testing.T) {
	v := New(&settings.Default().Policy, &chaincfg.RegressionNetParams)
	tx := simpleTx()
	tx.Inputs[0].UnlockingScript = []byte{byte(0xac)} // OP_CHECKSIG, not push-only
	inputs := []utxo.Coin{{Value: 1000, LockingScript: []byte{0x76, 0xa9}}}
	assert.Error(t, v.ValidateTransaction(tx, inputs, Options{}), "expected rejection of non-push-only unlocking script")
}
