package script

// Flags is a bitmask of consensus/standardness rules active for a single
// script evaluation. Activating more flags must never turn a failure into a
// success (spec.md testable property 6): every flag is a new way to fail,
// never a new way to pass.
type Flags uint32

const (
	// ScriptVerifyP2SH activates BIP16 pay-to-script-hash evaluation.
	ScriptVerifyP2SH Flags = 1 << iota
	// ScriptVerifyStrictEnc requires strictly DER-encoded signatures.
	ScriptVerifyStrictEnc
	// ScriptVerifyDERSig is BIP66: reject non-DER signatures.
	ScriptVerifyDERSig
	// ScriptVerifyLowS requires signatures use the low-S form (BIP62/146).
	ScriptVerifyLowS
	// ScriptVerifyNullDummy requires the dummy CHECKMULTISIG element be
	// the empty byte string (BIP147).
	ScriptVerifyNullDummy
	// ScriptVerifyCheckLockTimeVerify activates BIP65 OP_CHECKLOCKTIMEVERIFY.
	ScriptVerifyCheckLockTimeVerify
	// ScriptVerifyCheckSequenceVerify activates BIP112 OP_CHECKSEQUENCEVERIFY.
	ScriptVerifyCheckSequenceVerify
	// ScriptVerifyWitness activates segwit v0 program evaluation (BIP141/143/147).
	ScriptVerifyWitness
	// ScriptVerifyMinimalData requires all push opcodes use their most
	// compact encoding and all script numbers be minimally encoded.
	ScriptVerifyMinimalData
	// ScriptVerifyCleanStack requires exactly one true element remain on
	// the stack after evaluation, applied only at the top level (not
	// inside a P2SH/segwit sub-evaluation).
	ScriptVerifyCleanStack
	// ScriptVerifyTaproot activates BIP341/342 taproot/tapscript spends.
	ScriptVerifyTaproot
)

// Has reports whether every bit in want is set in f.
func (f Flags) Has(want Flags) bool { return f&want == want }

// StandardFlags is the rule set applied to transactions entering the
// mempool: every consensus rule plus the standardness-only checks
// (low-S, null-dummy, minimal push, clean stack).
const StandardFlags = ScriptVerifyP2SH | ScriptVerifyDERSig | ScriptVerifyLowS |
	ScriptVerifyNullDummy | ScriptVerifyCheckLockTimeVerify | ScriptVerifyCheckSequenceVerify |
	ScriptVerifyWitness | ScriptVerifyMinimalData | ScriptVerifyCleanStack

// ConsensusFlagsForHeight returns the rule set applied to transactions already inside a
// block with valid proof-of-work: only rules active at the block's height,
// computed by the connector from chaincfg activation heights. It is always
// a subset of StandardFlags's bits (never adds a standardness-only rule).
func ConsensusFlagsForHeight(height int64, bip65, bip66, bip112, bip141 int64) Flags {
	var f Flags = ScriptVerifyP2SH
	if height >= bip66 {
		f |= ScriptVerifyDERSig
	}
	if height >= bip65 {
		f |= ScriptVerifyCheckLockTimeVerify
	}
	if height >= bip112 {
		f |= ScriptVerifyCheckSequenceVerify
	}
	if height >= bip141 {
		f |= ScriptVerifyWitness
	}
	return f
}
