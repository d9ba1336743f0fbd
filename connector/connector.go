// Package connector implements block connection: the sequence that takes a
// parsed block and an existing UTXO set and either extends the set (and
// returns an undo log to reverse the extension) or rejects the block with a
// specific consensus-rule violation.
package connector

import (
	"bytes"
	"math/big"

	"github.com/ubsv/validationcore/chaincfg"
	"github.com/ubsv/validationcore/errors"
	"github.com/ubsv/validationcore/primitives"
	"github.com/ubsv/validationcore/script"
	"github.com/ubsv/validationcore/settings"
	"github.com/ubsv/validationcore/utxo"
	"github.com/ubsv/validationcore/validator"
	"github.com/ubsv/validationcore/wire"
)

// Connector validates and applies one block at a time against a UTXO set.
type Connector struct {
	params    *chaincfg.Params
	settings  *settings.ConnectorSettings
	policy    *settings.PolicySettings
	validator *validator.Validator
}

func New(params *chaincfg.Params, connSettings *settings.ConnectorSettings, policy *settings.PolicySettings) *Connector {
	v := validator.New(policy, params)
	if policy.SigCacheMaxEntries > 0 {
		// A failure here only means the entropy source for eviction
		// randomization is unavailable; signature verification still
		// proceeds correctly, just without memoization.
		_ = v.EnableSigCache(uint(policy.SigCacheMaxEntries))
	}
	return &Connector{params: params, settings: connSettings, policy: policy, validator: v}
}

// Validator exposes the connector's validator so callers sharing a mempool
// against the same chain state can reuse its signature cache.
func (c *Connector) Validator() *validator.Validator { return c.validator }

// Result reports the outcome of successfully connecting one block.
type Result struct {
	Undo  utxo.UndoLog
	Fees  int64
	Txids []primitives.Hash
}

// Connect validates block at height against set, mutating set in place on
// success and returning an undo log that reverses the mutation. On any
// consensus violation, set is left unmodified and an *errors.Error with
// KindConsensusInvalid is returned.
func (c *Connector) Connect(block *wire.Block, height int64, set *utxo.Set) (*Result, error) {
	if err := c.checkHeader(block, height); err != nil {
		return nil, err
	}
	if err := c.checkMerkleRoot(block); err != nil {
		return nil, err
	}
	if len(block.Transactions) == 0 {
		return nil, errors.NewConsensusInvalid(errors.SubKindEmptyBlock, "block has no transactions")
	}
	coinbase := block.Transactions[0]
	if !coinbase.IsCoinbase() {
		return nil, errors.NewConsensusInvalid(errors.SubKindBadCoinbaseHeight, "first transaction is not a coinbase")
	}
	if height >= int64(c.params.BIP0034Height) {
		if err := c.checkCoinbaseHeight(coinbase, height); err != nil {
			return nil, err
		}
	}
	if err := c.checkWeightAndSigops(block); err != nil {
		return nil, err
	}

	v := c.validator
	flags := script.ConsensusFlagsForHeight(height, int64(c.params.BIP0065Height), int64(c.params.BIP0066Height), int64(c.params.BIP0112Height), int64(c.params.BIP0141Height))

	var undo utxo.UndoLog
	var totalFees int64
	txids := make([]primitives.Hash, len(block.Transactions))

	seenInBlock := make(map[wire.OutPoint]struct{})

	for i, tx := range block.Transactions {
		txids[i] = tx.Txid()

		if i == 0 {
			if err := c.applyOutputs(tx, height, true, set, &undo); err != nil {
				c.undoAll(set, undo)
				return nil, err
			}
			continue
		}

		inputCoins := make([]utxo.Coin, len(tx.Inputs))
		for j, in := range tx.Inputs {
			if _, dup := seenInBlock[in.PreviousOutPoint]; dup {
				c.undoAll(set, undo)
				return nil, errors.NewConsensusInvalid(errors.SubKindDoubleSpend, "input spent twice within block at tx %d", i)
			}
			seenInBlock[in.PreviousOutPoint] = struct{}{}

			coin, ok := set.Get(in.PreviousOutPoint)
			if !ok {
				c.undoAll(set, undo)
				return nil, errors.NewConsensusInvalid(errors.SubKindMissingUTXO, "tx %d spends unknown output %s:%d", i, in.PreviousOutPoint.Hash, in.PreviousOutPoint.Index)
			}
			if coin.IsCoinbase && height-coin.Height < c.params.CoinbaseMaturity {
				c.undoAll(set, undo)
				return nil, errors.NewConsensusInvalid(errors.SubKindCoinbaseImmature, "tx %d spends immature coinbase output (age %d, need %d)", i, height-coin.Height, c.params.CoinbaseMaturity)
			}
			inputCoins[j] = coin
		}

		if err := v.ValidateTransaction(tx, inputCoins, validator.Options{SkipPolicyChecks: true}); err != nil {
			c.undoAll(set, undo)
			return nil, err
		}
		if err := v.ValidateScripts(tx, inputCoins, flags); err != nil {
			c.undoAll(set, undo)
			return nil, err
		}

		var in, out int64
		for _, coin := range inputCoins {
			in += coin.Value
		}
		for _, o := range tx.Outputs {
			out += o.Value
		}
		totalFees += in - out

		for _, txIn := range tx.Inputs {
			coin, ok := set.Remove(txIn.PreviousOutPoint)
			if !ok {
				c.undoAll(set, undo)
				return nil, errors.NewInvariantViolation("spent output vanished from the UTXO set mid-connect")
			}
			undo = append(undo, utxo.UndoEntry{OutPoint: txIn.PreviousOutPoint, Coin: coin, Spent: true})
		}

		if err := c.applyOutputs(tx, height, false, set, &undo); err != nil {
			c.undoAll(set, undo)
			return nil, err
		}
	}

	if err := c.checkCoinbaseValue(coinbase, height, totalFees); err != nil {
		c.undoAll(set, undo)
		return nil, err
	}

	if height >= int64(c.params.BIP0141Height) {
		if err := c.checkWitnessCommitment(block); err != nil {
			c.undoAll(set, undo)
			return nil, err
		}
	}

	return &Result{Undo: undo, Fees: totalFees, Txids: txids}, nil
}

// applyOutputs inserts tx's outputs as new unspent coins. Insert rejects a
// collision with a still-unspent outpoint (BIP30), which surfaces here as a
// consensus failure rather than a silent overwrite.
func (c *Connector) applyOutputs(tx *wire.Tx, height int64, isCoinbase bool, set *utxo.Set, undo *utxo.UndoLog) error {
	txid := tx.Txid()
	for idx, out := range tx.Outputs {
		op := wire.OutPoint{Hash: txid, Index: uint32(idx)}
		if err := set.Insert(op, utxo.Coin{Value: out.Value, LockingScript: out.LockingScript, Height: height, IsCoinbase: isCoinbase}); err != nil {
			return err
		}
		*undo = append(*undo, utxo.UndoEntry{OutPoint: op, Spent: false})
	}
	return nil
}

func (c *Connector) undoAll(set *utxo.Set, undo utxo.UndoLog) {
	_ = undo.Apply(set)
}

func (c *Connector) checkHeader(block *wire.Block, height int64) error {
	target := bitsToTarget(block.Header.Bits)
	if target.Sign() <= 0 || target.Cmp(c.params.PowLimit) > 0 {
		return errors.NewConsensusInvalid(errors.SubKindBadProofOfWork, "block bits %08x exceed the network's proof-of-work limit", block.Header.Bits)
	}
	hash := block.Header.Hash()
	hashInt := hashToBigInt(hash)
	if hashInt.Cmp(target) > 0 {
		return errors.NewConsensusInvalid(errors.SubKindBadProofOfWork, "block hash %s does not meet target difficulty", hash)
	}
	return nil
}

// bitsToTarget expands the compact "nBits" difficulty encoding into a
// target threshold, per Bitcoin's custom base-256 floating-point format.
func bitsToTarget(bits uint32) *big.Int {
	exponent := bits >> 24
	mantissa := bits & 0x007fffff
	target := new(big.Int).SetUint64(uint64(mantissa))
	if exponent <= 3 {
		target.Rsh(target, uint(8*(3-exponent)))
	} else {
		target.Lsh(target, uint(8*(exponent-3)))
	}
	return target
}

// hashToBigInt interprets a hash's little-endian byte layout as reversed
// (big-endian) for numeric comparison against a target, matching the
// convention used everywhere difficulty is computed.
func hashToBigInt(h primitives.Hash) *big.Int {
	reversed := make([]byte, primitives.HashSize)
	for i := 0; i < primitives.HashSize; i++ {
		reversed[i] = h[primitives.HashSize-1-i]
	}
	return new(big.Int).SetBytes(reversed)
}

func (c *Connector) checkMerkleRoot(block *wire.Block) error {
	txids := make([]primitives.Hash, len(block.Transactions))
	for i, tx := range block.Transactions {
		txids[i] = tx.Txid()
	}
	got := wire.MerkleRoot(txids)
	if got != block.Header.MerkleRoot {
		return errors.NewConsensusInvalid(errors.SubKindBadMerkleRoot, "computed merkle root %s does not match header %s", got, block.Header.MerkleRoot)
	}
	return nil
}

// checkCoinbaseHeight implements BIP34: the coinbase's unlocking script
// must begin with a direct 1-to-8-byte little-endian push of the block's own
// height. Whether that push is minimally encoded is not checked.
func (c *Connector) checkCoinbaseHeight(coinbase *wire.Tx, height int64) error {
	sig := coinbase.Inputs[0].UnlockingScript
	if len(sig) < 1 {
		return errors.NewConsensusInvalid(errors.SubKindBadCoinbaseHeight, "coinbase unlocking script is empty")
	}
	pushLen := int(sig[0])
	if pushLen < 1 || pushLen > 8 || len(sig) < 1+pushLen {
		return errors.NewConsensusInvalid(errors.SubKindBadCoinbaseHeight, "coinbase does not begin with a minimal height push")
	}
	buf := make([]byte, 8)
	copy(buf, sig[1:1+pushLen])
	encodedHeight := int64(uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24 |
		uint64(buf[4])<<32 | uint64(buf[5])<<40 | uint64(buf[6])<<48 | uint64(buf[7])<<56)
	if encodedHeight != height {
		return errors.NewConsensusInvalid(errors.SubKindBadCoinbaseHeight, "coinbase height %d does not match connect height %d", encodedHeight, height)
	}
	return nil
}

func (c *Connector) checkCoinbaseValue(coinbase *wire.Tx, height int64, fees int64) error {
	var total int64
	for _, out := range coinbase.Outputs {
		total += out.Value
	}
	subsidy := c.params.Subsidy(height)
	if total > subsidy+fees {
		return errors.NewConsensusInvalid(errors.SubKindOverSubsidy, "coinbase pays %d, exceeds subsidy %d plus fees %d", total, subsidy, fees)
	}
	return nil
}

func (c *Connector) checkWeightAndSigops(block *wire.Block) error {
	var weight, sigops int64
	for _, tx := range block.Transactions {
		weight += txWeight(tx)
		for _, in := range tx.Inputs {
			sigops += countBlockSigops(in.UnlockingScript)
		}
		for _, out := range tx.Outputs {
			sigops += countBlockSigops(out.LockingScript)
		}
	}
	if weight > c.params.MaxBlockWeight {
		return errors.NewConsensusInvalid(errors.SubKindWeightExceeded, "block weight %d exceeds limit %d", weight, c.params.MaxBlockWeight)
	}
	if sigops > c.params.MaxBlockSigops {
		return errors.NewConsensusInvalid(errors.SubKindWeightExceeded, "block sigop count %d exceeds limit %d", sigops, c.params.MaxBlockSigops)
	}
	return nil
}

// countBlockSigops walks a script counting legacy signature-check opcodes,
// the same conservative accounting validator.countChecksigs uses for
// per-transaction policy: CHECKMULTISIG variants count as 20 absent
// preceding OP_N tracking.
func countBlockSigops(scr []byte) int64 {
	var n int64
	for i := 0; i < len(scr); {
		op := scr[i]
		switch {
		case op >= 0x01 && op <= 0x4b:
			i += 1 + int(op)
			continue
		case op == byte(script.OP_PUSHDATA1):
			if i+2 > len(scr) {
				return n
			}
			i += 2 + int(scr[i+1])
			continue
		case op == byte(script.OP_PUSHDATA2):
			if i+3 > len(scr) {
				return n
			}
			i += 3 + (int(scr[i+1]) | int(scr[i+2])<<8)
			continue
		}
		if op == byte(script.OP_CHECKSIG) || op == byte(script.OP_CHECKSIGVERIFY) {
			n++
		}
		if op == byte(script.OP_CHECKMULTISIG) || op == byte(script.OP_CHECKMULTISIGVERIFY) {
			n += 20
		}
		i++
	}
	return n
}

// txWeight computes BIP141 weight: 3x the non-witness serialization size
// plus 1x the total serialization size.
func txWeight(tx *wire.Tx) int64 {
	base := txNoWitness(tx)
	full := tx.Bytes()
	return int64(3*len(base) + len(full))
}

func txNoWitness(tx *wire.Tx) []byte {
	stripped := &wire.Tx{Version: tx.Version, LockTime: tx.LockTime}
	stripped.Inputs = make([]*wire.TxIn, len(tx.Inputs))
	for i, in := range tx.Inputs {
		stripped.Inputs[i] = &wire.TxIn{PreviousOutPoint: in.PreviousOutPoint, UnlockingScript: in.UnlockingScript, Sequence: in.Sequence}
	}
	stripped.Outputs = tx.Outputs
	return stripped.Bytes()
}

// witnessCommitmentHeader is the 4-byte magic of the BIP141 output template
// that carries the witness root commitment: OP_RETURN, a 36-byte push made
// of this header, then the 32-byte commitment hash.
var witnessCommitmentHeader = []byte{0xaa, 0x21, 0xa9, 0xed}

func (c *Connector) checkWitnessCommitment(block *wire.Block) error {
	hasWitness := false
	for _, tx := range block.Transactions {
		if tx.HasWitness {
			hasWitness = true
			break
		}
	}
	if !hasWitness {
		return nil
	}

	coinbase := block.Transactions[0]
	var commitment []byte
	for _, out := range coinbase.Outputs {
		s := out.LockingScript
		if len(s) == 38 && s[0] == 0x6a && s[1] == 0x24 && bytes.Equal(s[2:6], witnessCommitmentHeader) {
			commitment = s[6:38]
		}
	}
	if commitment == nil {
		return errors.NewConsensusInvalid(errors.SubKindBadWitnessCommitment, "block contains witness data but coinbase has no witness commitment output")
	}

	var reserved primitives.Hash
	if len(coinbase.Inputs[0].Witness) > 0 {
		copy(reserved[:], coinbase.Inputs[0].Witness[0])
	}

	wtxids := make([]primitives.Hash, len(block.Transactions))
	wtxids[0] = primitives.Hash{} // coinbase wtxid is defined as all-zero for this computation
	for i := 1; i < len(block.Transactions); i++ {
		wtxids[i] = block.Transactions[i].Wtxid()
	}
	witnessRoot := wire.MerkleRoot(wtxids)

	got := primitives.Sha256d(append(append([]byte{}, witnessRoot[:]...), reserved[:]...))
	if !bytes.Equal(got[:], commitment) {
		return errors.NewConsensusInvalid(errors.SubKindBadWitnessCommitment, "witness commitment does not match computed witness root")
	}
	return nil
}
