// Package validator implements the transaction acceptance checklist applied
// both to mempool candidates and to every transaction inside a connecting
// block: a fixed, ordered sequence of structural, value, sigop, and script
// checks, any one of which can reject the transaction.
package validator

import (
	"github.com/ubsv/validationcore/chaincfg"
	"github.com/ubsv/validationcore/errors"
	"github.com/ubsv/validationcore/script"
	"github.com/ubsv/validationcore/script/sigcache"
	"github.com/ubsv/validationcore/settings"
	"github.com/ubsv/validationcore/utxo"
	"github.com/ubsv/validationcore/wire"
)

// MaxMoneySatoshis is the maximum representable value of any single amount:
// the 21 million BTC supply cap expressed in satoshis.
const MaxMoneySatoshis = 21_000_000 * 100_000_000

// Options controls which checks ValidateTransaction runs. The zero value
// runs every check.
type Options struct {
	// SkipPolicyChecks disables standardness-only checks (size, push-only
	// scriptSig, and fee policy) for transactions already inside a
	// connecting block, where only consensus rules apply. A block
	// containing a historically-valid, non-push-only scriptSig must still
	// connect; push-only is a mempool relay rule, not a consensus one,
	// except where BIP16 narrows it to P2SH-shaped outputs.
	SkipPolicyChecks bool
	// DisableScriptVerify skips ValidateScripts; used by callers that
	// verify scripts separately (e.g. in parallel per input).
	DisableScriptVerify bool
}

// Validator checks transactions for structural and consensus validity
// against a UTXO set snapshot.
type Validator struct {
	policy *settings.PolicySettings
	params *chaincfg.Params
	cache  *sigcache.Cache
}

func New(policy *settings.PolicySettings, params *chaincfg.Params) *Validator {
	return &Validator{policy: policy, params: params}
}

// EnableSigCache attaches a signature-verification cache sized to hold up to
// maxEntries (sighash, sig, pubkey) triples, shared across every
// ValidateScripts call this Validator makes for the lifetime of a checkpoint
// regeneration run. A zero-value Validator (cache left nil) verifies every
// signature fresh.
func (v *Validator) EnableSigCache(maxEntries uint) error {
	c, err := sigcache.New(maxEntries)
	if err != nil {
		return err
	}
	v.cache = c
	return nil
}

// ValidateTransaction runs the ordered structural/value checklist. It does
// not verify scripts; call ValidateScripts separately once the caller has
// decided whether script verification should run inline or be parallelized.
func (v *Validator) ValidateTransaction(tx *wire.Tx, inputs []utxo.Coin, opts Options) error {
	if len(tx.Inputs) == 0 || len(tx.Outputs) == 0 {
		return errors.NewConsensusInvalid(errors.SubKindEmptyBlock, "transaction has no inputs or outputs")
	}
	if len(inputs) != len(tx.Inputs) {
		return errors.NewInvariantViolation("input coin count %d does not match tx input count %d", len(inputs), len(tx.Inputs))
	}

	if !opts.SkipPolicyChecks {
		if err := v.checkTxSize(tx); err != nil {
			return err
		}
	}

	if err := v.checkDuplicateInputs(tx); err != nil {
		return err
	}
	if err := v.checkInputValues(inputs); err != nil {
		return err
	}
	if err := v.checkOutputValues(tx); err != nil {
		return err
	}
	if err := v.sigOpsCheck(tx); err != nil {
		return err
	}
	if !opts.SkipPolicyChecks {
		if err := v.pushDataCheck(tx); err != nil {
			return err
		}
		if err := v.checkFee(tx, inputs); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) checkTxSize(tx *wire.Tx) error {
	max := v.policy.MaxTxSizePolicy
	if max == 0 {
		return nil
	}
	if len(tx.Bytes()) > max {
		return errors.NewConsensusInvalid(errors.SubKindWeightExceeded, "transaction size exceeds policy limit %d", max)
	}
	return nil
}

func (v *Validator) checkDuplicateInputs(tx *wire.Tx) error {
	seen := make(map[wire.OutPoint]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if _, ok := seen[in.PreviousOutPoint]; ok {
			return errors.NewConsensusInvalid(errors.SubKindDuplicateInput, "duplicate input outpoint %s:%d", in.PreviousOutPoint.Hash, in.PreviousOutPoint.Index)
		}
		seen[in.PreviousOutPoint] = struct{}{}
	}
	return nil
}

func (v *Validator) checkInputValues(inputs []utxo.Coin) error {
	var total int64
	for _, c := range inputs {
		if c.Value < 0 || c.Value > MaxMoneySatoshis {
			return errors.NewConsensusInvalid(errors.SubKindOverSubsidy, "input value %d out of range", c.Value)
		}
		total += c.Value
		if total > MaxMoneySatoshis {
			return errors.NewConsensusInvalid(errors.SubKindOverSubsidy, "total input value exceeds money supply")
		}
	}
	return nil
}

func (v *Validator) checkOutputValues(tx *wire.Tx) error {
	var total int64
	for i, out := range tx.Outputs {
		if out.Value < 0 || out.Value > MaxMoneySatoshis {
			return errors.NewConsensusInvalid(errors.SubKindOverSubsidy, "output %d value %d out of range", i, out.Value)
		}
		total += out.Value
		if total > MaxMoneySatoshis {
			return errors.NewConsensusInvalid(errors.SubKindOverSubsidy, "total output value exceeds money supply")
		}
		if out.Value == 0 && !isOpReturn(out.LockingScript) && v.policy.DustRelayFeeRate > 0 {
			if uint64(len(out.LockingScript)) > 0 { // zero-value non-data outputs are dust
				return errors.NewConsensusInvalid(errors.SubKindOverSubsidy, "output %d is below the dust threshold", i)
			}
		}
	}
	return nil
}

func isOpReturn(lockingScript []byte) bool {
	return len(lockingScript) > 0 && lockingScript[0] == 0x6a
}

func (v *Validator) sigOpsCheck(tx *wire.Tx) error {
	max := v.policy.MaxOpsPerScriptPolicy
	if max == 0 {
		return nil
	}
	var count int64
	for _, in := range tx.Inputs {
		count += countChecksigs(in.UnlockingScript)
		if count > max {
			return errors.NewConsensusInvalid(errors.SubKindWeightExceeded, "transaction sigop count exceeds policy limit %d", max)
		}
	}
	for _, out := range tx.Outputs {
		count += countChecksigs(out.LockingScript)
		if count > max {
			return errors.NewConsensusInvalid(errors.SubKindWeightExceeded, "transaction sigop count exceeds policy limit %d", max)
		}
	}
	return nil
}

func countChecksigs(scr []byte) int64 {
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
			n += 20 // conservative count absent prior OP_N tracking, matching legacy accounting
		}
		i++
	}
	return n
}

// pushDataCheck enforces the standardness rule that unlocking scripts may
// only push data (BIP62 rule 2), required once a network activates this
// check in its mempool policy.
func (v *Validator) pushDataCheck(tx *wire.Tx) error {
	for i, in := range tx.Inputs {
		if len(in.UnlockingScript) == 0 && len(in.Witness) == 0 {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "input %d has an empty unlocking script and no witness", i)
		}
		if !isPushOnlyScript(in.UnlockingScript) {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "input %d unlocking script is not push-only", i)
		}
	}
	return nil
}

func isPushOnlyScript(scr []byte) bool {
	for i := 0; i < len(scr); {
		op := scr[i]
		switch {
		case op >= 0x01 && op <= 0x4b:
			i += 1 + int(op)
		case op == byte(script.OP_PUSHDATA1):
			if i+2 > len(scr) {
				return false
			}
			i += 2 + int(scr[i+1])
		case op == byte(script.OP_PUSHDATA2):
			if i+3 > len(scr) {
				return false
			}
			i += 3 + (int(scr[i+1]) | int(scr[i+2])<<8)
		case op <= byte(script.OP_16) || op == byte(script.OP_1NEGATE):
			i++
		default:
			return false
		}
	}
	return true
}

// checkFee rejects transactions paying less than the policy's minimum relay
// fee rate, computed against the transaction's serialized size.
func (v *Validator) checkFee(tx *wire.Tx, inputs []utxo.Coin) error {
	if v.policy.MinRelayFeeRate <= 0 {
		return nil
	}
	var totalIn, totalOut int64
	for _, c := range inputs {
		totalIn += c.Value
	}
	for _, out := range tx.Outputs {
		totalOut += out.Value
	}
	fee := totalIn - totalOut
	if fee < 0 {
		return errors.NewConsensusInvalid(errors.SubKindOverSubsidy, "transaction outputs exceed inputs")
	}
	minFee := float64(v.policy.MinRelayFeeRate) * float64(len(tx.Bytes()))
	if float64(fee) < minFee {
		return errors.NewConsensusInvalid(errors.SubKindWeightExceeded, "transaction fee %d below minimum relay fee %f", fee, minFee)
	}
	return nil
}

// maxStandardVersion is the highest transaction version mempool policy will
// relay; consensus itself places no ceiling on the version field.
const maxStandardVersion = 2

// maxStandardScriptSigSize bounds an individual input's unlocking script,
// separate from the whole-transaction MaxTxSizePolicy budget.
const maxStandardScriptSigSize = 1650

// maxOpReturnRelaySize bounds the data payload of a relayed OP_RETURN output
// (the push itself, not counting the OP_RETURN opcode).
const maxOpReturnRelaySize = 80

// dustInputSize is the conservative serialized size (in bytes) assumed when
// pricing the cost of later spending a non-witness output, mirroring Bitcoin
// Core's GetDustThreshold estimate for a P2PKH spend.
const dustInputSize = 148

// dustInputSizeWitness is the same estimate for a spend of a segwit output,
// where the witness data it consumes is discounted.
const dustInputSizeWitness = 67

// IsStandardTx applies the mempool relay policy's standardness template: a
// narrower, node-local gate on top of ValidateTransaction's consensus
// checklist. A transaction failing this check is still consensus-valid and
// may appear in a block — it is merely unusual enough that a policy-enforcing
// node declines to relay or mine it. Call this before admitting a transaction
// to the mempool; connecting blocks never run it.
func (v *Validator) IsStandardTx(tx *wire.Tx) error {
	if tx.Version < 1 || tx.Version > maxStandardVersion {
		return errors.NewConsensusInvalid(errors.SubKindBadScript, "version %d is not a standard transaction version", tx.Version)
	}
	if err := v.checkTxSize(tx); err != nil {
		return err
	}
	if err := v.sigOpsCheck(tx); err != nil {
		return err
	}
	for i, in := range tx.Inputs {
		if len(in.UnlockingScript) > maxStandardScriptSigSize {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "input %d unlocking script exceeds standard size limit", i)
		}
	}
	for i, out := range tx.Outputs {
		if !isStandardLockingScript(out.LockingScript) {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "output %d locking script is not a standard template", i)
		}
		if isDustOutput(out, v.policy.DustRelayFeeRate) {
			return errors.NewConsensusInvalid(errors.SubKindOverSubsidy, "output %d value %d is below the dust threshold", i, out.Value)
		}
	}
	return nil
}

// isStandardLockingScript recognizes the handful of output templates a
// relay-policy node accepts: P2PKH, P2SH, P2PK, bare multisig (up to 3-of-3),
// the segwit v0 program shapes, and a single OP_RETURN data carrier.
func isStandardLockingScript(s []byte) bool {
	switch {
	case isP2PKH(s), isP2SHScript(s), isP2PK(s), isBareMultisig(s), isWitnessProgram(s):
		return true
	case isOpReturn(s):
		return len(s) <= 1+2+maxOpReturnRelaySize // OP_RETURN + push opcode/length overhead + payload
	default:
		return false
	}
}

func isP2PKH(s []byte) bool {
	return len(s) == 25 && s[0] == byte(script.OP_DUP) && s[1] == byte(script.OP_HASH160) &&
		s[2] == 0x14 && s[23] == byte(script.OP_EQUALVERIFY) && s[24] == byte(script.OP_CHECKSIG)
}

func isP2SHScript(s []byte) bool {
	return len(s) == 23 && s[0] == byte(script.OP_HASH160) && s[1] == 0x14 && s[22] == byte(script.OP_EQUAL)
}

func isP2PK(s []byte) bool {
	if len(s) == 35 && s[0] == 0x21 && s[34] == byte(script.OP_CHECKSIG) {
		return true // compressed pubkey
	}
	return len(s) == 67 && s[0] == 0x41 && s[66] == byte(script.OP_CHECKSIG) // uncompressed pubkey
}

// isBareMultisig recognizes OP_m <pubkeys...> OP_n OP_CHECKMULTISIG with
// n capped at 3, matching Bitcoin Core's relay policy (nMultisigLimit).
func isBareMultisig(s []byte) bool {
	if len(s) < 3 || s[len(s)-1] != byte(script.OP_CHECKMULTISIG) {
		return false
	}
	const maxStandardMultisigN = byte(script.OP_1) + 2 // 3-of-3 cap per relay policy
	m := s[0]
	n := s[len(s)-2]
	if m < byte(script.OP_1) || m > byte(script.OP_16) || n < byte(script.OP_1) || n > maxStandardMultisigN || m > n {
		return false
	}
	i := 1
	count := 0
	for i < len(s)-2 {
		pushLen := int(s[i])
		if pushLen != 33 && pushLen != 65 {
			return false
		}
		i += 1 + pushLen
		count++
	}
	return i == len(s)-2 && count == int(n)-int(byte(script.OP_1))+1
}

func isWitnessProgram(s []byte) bool {
	if len(s) < 4 || len(s) > 42 {
		return false
	}
	if s[0] != byte(script.OP_0) && (s[0] < byte(script.OP_1) || s[0] > byte(script.OP_16)) {
		return false
	}
	pushLen := int(s[1])
	return pushLen >= 2 && pushLen <= 40 && len(s) == 2+pushLen
}

func isDustOutput(out *wire.TxOut, dustRelayFeeRate int64) bool {
	if dustRelayFeeRate <= 0 || isOpReturn(out.LockingScript) {
		return false
	}
	spendSize := int64(dustInputSize)
	if isWitnessProgram(out.LockingScript) {
		spendSize = dustInputSizeWitness
	}
	threshold := dustRelayFeeRate * spendSize / 1000
	return out.Value < threshold
}

// ValidateScripts verifies every input's unlocking script against its
// previous output's locking script, using flags appropriate to height and
// policy (StandardFlags for mempool acceptance, ConsensusFlagsForHeight for
// block connection).
func (v *Validator) ValidateScripts(tx *wire.Tx, inputs []utxo.Coin, flags script.Flags) error {
	for i, in := range tx.Inputs {
		coin := inputs[i]
		checker := script.NewTxSignatureChecker(tx, i, coin.Value, len(in.Witness) > 0, flags).WithCache(v.cache)
		if err := script.VerifyScript(in.UnlockingScript, coin.LockingScript, in.Witness, flags, checker); err != nil {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "input %d script verification failed: %v", i, err)
		}
	}
	return nil
}
