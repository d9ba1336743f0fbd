package script

// SignatureChecker decouples the interpreter from sighash computation and
// signature verification: OP_CHECKSIG and OP_CHECKMULTISIG call back into
// whatever implementation the caller supplied, so the interpreter itself
// never needs to know about transaction structure, sighash flags, or the
// difference between ECDSA and Schnorr.
type SignatureChecker interface {
	// CheckSig verifies sig against pubkey for the script being evaluated.
	// subScript is computed by the interpreter (the script from the last
	// executed code separator on) and is nil for a taproot key-path spend.
	CheckSig(sig, pubkey, subScript []byte) (bool, error)

	// CheckLockTime implements OP_CHECKLOCKTIMEVERIFY's comparison against
	// the spending transaction's nLockTime and this input's sequence.
	CheckLockTime(lockTime int64) bool

	// CheckSequence implements OP_CHECKSEQUENCEVERIFY's comparison against
	// this input's nSequence.
	CheckSequence(sequence int64) bool
}

// BaseSignatureChecker rejects every signature and every lock-time/sequence
// check. It is useful for evaluating scripts that provably never reach a
// CHECKSIG (e.g. fuzzing raw opcode sequences) without wiring a real
// transaction context.
type BaseSignatureChecker struct{}

func (BaseSignatureChecker) CheckSig(_, _, _ []byte) (bool, error) { return false, nil }
func (BaseSignatureChecker) CheckLockTime(int64) bool              { return false }
func (BaseSignatureChecker) CheckSequence(int64) bool              { return false }
