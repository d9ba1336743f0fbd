package script

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"

	"github.com/ubsv/validationcore/primitives"
	"github.com/ubsv/validationcore/script/sigcache"
	"github.com/ubsv/validationcore/wire"
)

// TxSignatureChecker is the production SignatureChecker: it computes the
// appropriate sighash (legacy or BIP143, depending on whether the input
// being checked spends a witness program) for the transaction and input
// index it was built for, then verifies the supplied signature against it.
type TxSignatureChecker struct {
	Tx        *wire.Tx
	InputIdx  int
	Amount    int64 // value of the output this input spends, required for BIP143
	IsWitness bool
	Flags     Flags

	// Cache memoizes verified (sighash, sig, pubkey) triples across
	// repeated validation passes (checkpoint regeneration re-validates the
	// same signatures many times). Nil disables memoization.
	Cache *sigcache.Cache
}

func NewTxSignatureChecker(tx *wire.Tx, inputIdx int, amount int64, isWitness bool, flags Flags) *TxSignatureChecker {
	return &TxSignatureChecker{Tx: tx, InputIdx: inputIdx, Amount: amount, IsWitness: isWitness, Flags: flags}
}

// WithCache attaches a signature-verification cache and returns the same
// checker, for the common construct-then-configure call pattern.
func (c *TxSignatureChecker) WithCache(cache *sigcache.Cache) *TxSignatureChecker {
	c.Cache = cache
	return c
}

// CheckSig verifies sig against pubkey over subScript. When subScript is nil
// (the taproot key-path call site), sig is interpreted as a 64/65-byte
// Schnorr signature over the witness v1 sighash and pubkey as the 32-byte
// x-only output key; otherwise it's a DER-encoded ECDSA signature with a
// trailing sighash-type byte, verified per BIP143 or the legacy algorithm.
func (c *TxSignatureChecker) CheckSig(sig, pubkey, subScript []byte) (bool, error) {
	if subScript == nil {
		return c.checkSchnorr(sig, pubkey)
	}
	return c.checkECDSA(sig, pubkey, subScript)
}

func (c *TxSignatureChecker) checkECDSA(sig, pubkey, subScript []byte) (bool, error) {
	if len(sig) < 1 {
		return false, nil
	}
	hashType := sig[len(sig)-1]
	rawSig := sig[:len(sig)-1]

	if c.Flags.Has(ScriptVerifyStrictEnc) || c.Flags.Has(ScriptVerifyDERSig) {
		if !isStrictDER(rawSig) {
			return false, nil
		}
	}

	var sh primitives.Hash
	if c.IsWitness {
		sh = WitnessSighash(c.Tx, c.InputIdx, subScript, c.Amount, hashType)
	} else {
		sh = LegacySighash(c.Tx, c.InputIdx, subScript, hashType)
	}
	if c.Cache != nil && c.Cache.Exists(sh, sig, pubkey) {
		return true, nil
	}

	parsedSig, err := ecdsa.ParseDERSignature(rawSig)
	if err != nil {
		return false, nil
	}
	if c.Flags.Has(ScriptVerifyLowS) && !isLowS(parsedSig) {
		return false, nil
	}
	key, err := secp256k1.ParsePubKey(pubkey)
	if err != nil {
		return false, nil
	}

	ok := parsedSig.Verify(sh[:], key)
	if ok && c.Cache != nil {
		c.Cache.Add(sh, sig, pubkey, c.Tx.Txid())
	}
	return ok, nil
}

func (c *TxSignatureChecker) checkSchnorr(sig, xOnlyPubkey []byte) (bool, error) {
	rawSig := sig
	hashType := byte(SighashAll)
	if len(sig) == 65 {
		hashType = sig[64]
		rawSig = sig[:64]
	}
	sh := WitnessSighash(c.Tx, c.InputIdx, nil, c.Amount, hashType)
	if c.Cache != nil && c.Cache.Exists(sh, sig, xOnlyPubkey) {
		return true, nil
	}

	parsedSig, err := schnorr.ParseSignature(rawSig)
	if err != nil {
		return false, nil
	}
	key, err := schnorr.ParsePubKey(xOnlyPubkey)
	if err != nil {
		return false, nil
	}

	ok := parsedSig.Verify(sh[:], key)
	if ok && c.Cache != nil {
		c.Cache.Add(sh, sig, xOnlyPubkey, c.Tx.Txid())
	}
	return ok, nil
}

// CheckLockTime implements OP_CHECKLOCKTIMEVERIFY (BIP65): lockTime must be
// in the same domain (block height vs. Unix time) as the transaction's
// nLockTime, no greater than it, and the input must not be final.
func (c *TxSignatureChecker) CheckLockTime(lockTime int64) bool {
	const lockTimeThreshold = 500000000
	txLockTime := int64(c.Tx.LockTime)
	if (lockTime < lockTimeThreshold) != (txLockTime < lockTimeThreshold) {
		return false
	}
	if lockTime > txLockTime {
		return false
	}
	in := c.Tx.Inputs[c.InputIdx]
	return in.Sequence != wire.SequenceFinal
}

// CheckSequence implements OP_CHECKSEQUENCEVERIFY (BIP112).
func (c *TxSignatureChecker) CheckSequence(sequence int64) bool {
	const sequenceLockTimeDisableFlag = 1 << 31
	const sequenceLockTimeTypeFlag = 1 << 22
	const sequenceLockTimeMask = 0x0000ffff

	in := c.Tx.Inputs[c.InputIdx]
	txSeq := int64(in.Sequence)

	if c.Tx.Version < 2 {
		return false
	}
	if txSeq&sequenceLockTimeDisableFlag != 0 {
		return false
	}
	if sequence&sequenceLockTimeDisableFlag != 0 {
		return true
	}
	if (txSeq&sequenceLockTimeTypeFlag) != (sequence & sequenceLockTimeTypeFlag) {
		return false
	}
	return (sequence & sequenceLockTimeMask) <= (txSeq & sequenceLockTimeMask)
}

// isStrictDER checks BIP66's structural encoding (not signature validity):
// a correctly nested SEQUENCE of two non-negative, minimally-encoded
// INTEGERs with no trailing garbage besides the caller-stripped hash type.
func isStrictDER(sig []byte) bool {
	if len(sig) < 9 || len(sig) > 73 {
		return false
	}
	if sig[0] != 0x30 || int(sig[1]) != len(sig)-2 {
		return false
	}
	if sig[2] != 0x02 {
		return false
	}
	rLen := int(sig[3])
	if 4+rLen >= len(sig) || rLen == 0 {
		return false
	}
	if sig[4]&0x80 != 0 {
		return false
	}
	if rLen > 1 && sig[4] == 0 && sig[5]&0x80 == 0 {
		return false
	}
	sOff := 4 + rLen
	if sig[sOff] != 0x02 {
		return false
	}
	sLen := int(sig[sOff+1])
	if sOff+2+sLen != len(sig) || sLen == 0 {
		return false
	}
	if sig[sOff+2]&0x80 != 0 {
		return false
	}
	if sLen > 1 && sig[sOff+2] == 0 && sig[sOff+3]&0x80 == 0 {
		return false
	}
	return true
}

// isLowS reports whether the signature's S value is at most half the curve
// order (BIP62 rule 5 / BIP146), required for malleability-resistant
// signatures.
func isLowS(sig *ecdsa.Signature) bool {
	return !sig.S().IsOverHalfOrder()
}
