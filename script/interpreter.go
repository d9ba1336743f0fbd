package script

import (
	"bytes"

	"github.com/ubsv/validationcore/errors"
	"github.com/ubsv/validationcore/primitives"
)

const (
	maxOpsPerScript  = 201
	maxStackSize     = 1000
	maxScriptElement = 520
	maxScriptSize    = 10000
)

// readOp parses a single opcode at scr[i], returning the opcode, its push
// data (nil for non-push opcodes), the number of bytes consumed, and
// whether parsing succeeded.
func readOp(scr []byte, i int) (op Opcode, data []byte, n int, ok bool) {
	op = Opcode(scr[i])
	switch {
	case op >= 0x01 && op <= 0x4b:
		end := i + 1 + int(op)
		if end > len(scr) {
			return 0, nil, 0, false
		}
		return op, scr[i+1 : end], 1 + int(op), true
	case op == OP_PUSHDATA1:
		if i+2 > len(scr) {
			return 0, nil, 0, false
		}
		l := int(scr[i+1])
		end := i + 2 + l
		if end > len(scr) {
			return 0, nil, 0, false
		}
		return op, scr[i+2 : end], 2 + l, true
	case op == OP_PUSHDATA2:
		if i+3 > len(scr) {
			return 0, nil, 0, false
		}
		l := int(scr[i+1]) | int(scr[i+2])<<8
		end := i + 3 + l
		if end > len(scr) {
			return 0, nil, 0, false
		}
		return op, scr[i+3 : end], 3 + l, true
	case op == OP_PUSHDATA4:
		if i+5 > len(scr) {
			return 0, nil, 0, false
		}
		l := int(scr[i+1]) | int(scr[i+2])<<8 | int(scr[i+3])<<16 | int(scr[i+4])<<24
		end := i + 5 + l
		if end > len(scr) {
			return 0, nil, 0, false
		}
		return op, scr[i+5 : end], 5 + l, true
	default:
		return op, nil, 1, true
	}
}

// minimalPushForm reports whether data, pushed with opcode op, used the
// shortest possible encoding (ScriptVerifyMinimalData).
func minimalPushForm(op Opcode, data []byte) bool {
	switch {
	case len(data) == 0:
		return op == OP_0
	case len(data) == 1 && data[0] >= 1 && data[0] <= 16:
		return op == Opcode(OP_1)+Opcode(data[0]-1)
	case len(data) == 1 && data[0] == 0x81:
		return op == OP_1NEGATE
	case len(data) <= 75:
		return int(op) == len(data)
	case len(data) <= 255:
		return op == OP_PUSHDATA1
	case len(data) <= 65535:
		return op == OP_PUSHDATA2
	default:
		return op == OP_PUSHDATA4
	}
}

type stack [][]byte

func (s *stack) push(v []byte) { *s = append(*s, v) }

func (s *stack) pop() ([]byte, error) {
	if len(*s) == 0 {
		return nil, errors.NewConsensusInvalid(errors.SubKindBadScript, "pop from empty stack")
	}
	v := (*s)[len(*s)-1]
	*s = (*s)[:len(*s)-1]
	return v, nil
}

func (s *stack) top(n int) ([]byte, error) {
	if len(*s) < n {
		return nil, errors.NewConsensusInvalid(errors.SubKindBadScript, "stack underflow")
	}
	return (*s)[len(*s)-n], nil
}

// branchFrame tracks one level of IF/NOTIF/ELSE/ENDIF nesting.
type branchFrame struct {
	executing bool // was the branch taken
	seenElse  bool
	parentOK  bool // was execution enabled before entering this branch
}

// Engine evaluates Bitcoin Script against a SignatureChecker and a set of
// active Flags. One Engine instance is not safe for concurrent use; build a
// fresh one per evaluation.
type Engine struct {
	flags   Flags
	checker SignatureChecker
}

func NewEngine(flags Flags, checker SignatureChecker) *Engine {
	if checker == nil {
		checker = BaseSignatureChecker{}
	}
	return &Engine{flags: flags, checker: checker}
}

// Eval executes scr against the given data stack, which is mutated in place
// and holds the final stack afterwards; only an error is returned. The
// subscript handed to the signature checker is the part of scr after the
// last executed CODESEPARATOR.
func (e *Engine) Eval(scr []byte, st *stack) error {
	if len(scr) > maxScriptSize {
		return errors.NewConsensusInvalid(errors.SubKindBadScript, "script exceeds %d bytes", maxScriptSize)
	}

	var branches []branchFrame
	var altStack stack
	opCount := 0
	codeSepIdx := 0

	executing := func() bool {
		for _, b := range branches {
			if !b.executing {
				return false
			}
		}
		return true
	}

	for i := 0; i < len(scr); {
		op, data, n, ok := readOp(scr, i)
		if !ok {
			return errors.NewMalformed("truncated push opcode at offset %d", i)
		}
		if len(data) > maxScriptElement {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "push exceeds %d bytes", maxScriptElement)
		}

		exec := executing()

		// Flow-control opcodes are evaluated even when not executing, so
		// nesting stays balanced.
		switch op {
		case OP_IF, OP_NOTIF:
			var branchExec bool
			if exec {
				v, err := st.pop()
				if err != nil {
					return err
				}
				branchExec = isTrue(v)
				if op == OP_NOTIF {
					branchExec = !branchExec
				}
			}
			branches = append(branches, branchFrame{executing: branchExec, parentOK: exec})
			i += n
			continue
		case OP_ELSE:
			if len(branches) == 0 {
				return errors.NewConsensusInvalid(errors.SubKindBadScript, "ELSE without IF")
			}
			top := &branches[len(branches)-1]
			if top.seenElse {
				return errors.NewConsensusInvalid(errors.SubKindBadScript, "duplicate ELSE")
			}
			top.seenElse = true
			if top.parentOK {
				top.executing = !top.executing
			}
			i += n
			continue
		case OP_ENDIF:
			if len(branches) == 0 {
				return errors.NewConsensusInvalid(errors.SubKindBadScript, "ENDIF without IF")
			}
			branches = branches[:len(branches)-1]
			i += n
			continue
		}

		if !exec {
			i += n
			continue
		}

		if budgeted(op) {
			opCount++
			if opCount > maxOpsPerScript {
				return errors.NewConsensusInvalid(errors.SubKindBadScript, "opcode budget exceeded (%d)", maxOpsPerScript)
			}
		}

		if data != nil || op == OP_0 {
			if e.flags.Has(ScriptVerifyMinimalData) && !minimalPushForm(op, data) {
				return errors.NewConsensusInvalid(errors.SubKindBadScript, "non-minimal push")
			}
			st.push(append([]byte(nil), data...))
			if len(*st)+len(altStack) > maxStackSize {
				return errors.NewConsensusInvalid(errors.SubKindBadScript, "stack exceeds %d elements", maxStackSize)
			}
			i += n
			continue
		}

		if op >= OP_1 && op <= OP_16 {
			st.push(encodeScriptNum(int64(op-OP_1+1)))
			if len(*st)+len(altStack) > maxStackSize {
				return errors.NewConsensusInvalid(errors.SubKindBadScript, "stack exceeds %d elements", maxStackSize)
			}
			i += n
			continue
		}
		if op == OP_1NEGATE {
			st.push(encodeScriptNum(-1))
			if len(*st)+len(altStack) > maxStackSize {
				return errors.NewConsensusInvalid(errors.SubKindBadScript, "stack exceeds %d elements", maxStackSize)
			}
			i += n
			continue
		}

		if err := e.step(op, st, &altStack, scr, &codeSepIdx, i); err != nil {
			return err
		}

		if len(*st)+len(altStack) > maxStackSize {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "stack exceeds %d elements", maxStackSize)
		}

		if op == OP_CODESEPARATOR {
			codeSepIdx = i + n
		}

		i += n
	}

	if len(branches) != 0 {
		return errors.NewConsensusInvalid(errors.SubKindBadScript, "unbalanced IF/ENDIF")
	}
	return nil
}

func (e *Engine) subScriptFrom(scr []byte, codeSepIdx int) []byte {
	if codeSepIdx <= 0 || codeSepIdx > len(scr) {
		return scr
	}
	return scr[codeSepIdx:]
}

// VerifyScript runs the standard two-stage (and, when the witness flag is
// set, three-stage) evaluation: unlocking script, then locking script, then
// — for P2SH — the redeem script recovered from the unlocking script's
// final element, and — for segwit v0 — the witness program evaluation.
func VerifyScript(unlocking, locking []byte, witness [][]byte, flags Flags, checker SignatureChecker) error {
	e := NewEngine(flags, checker)

	if flags.Has(ScriptVerifyMinimalData) && !isPushOnly(unlocking) {
		return errors.NewConsensusInvalid(errors.SubKindBadScript, "scriptSig is not push-only")
	}

	var st stack
	if err := e.Eval(unlocking, &st); err != nil {
		return err
	}

	stackCopy := append(stack(nil), st...)

	if err := e.Eval(locking, &st); err != nil {
		return err
	}
	if len(st) == 0 || !isTrue(st[len(st)-1]) {
		return errors.NewConsensusInvalid(errors.SubKindBadScript, "final stack element is false")
	}

	witnessProgram, witnessVersion, isWitness := decodeWitnessProgram(locking)

	if flags.Has(ScriptVerifyP2SH) && isP2SH(locking) {
		if len(stackCopy) == 0 {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "P2SH requires a redeem script on the stack")
		}
		if !isPushOnly(unlocking) {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "P2SH scriptSig is not push-only")
		}
		redeem := stackCopy[len(stackCopy)-1]
		redeemStack := append(stack(nil), stackCopy[:len(stackCopy)-1]...)

		if flags.Has(ScriptVerifyWitness) {
			if prog, ver, ok := decodeWitnessProgram(redeem); ok {
				return evalWitness(ver, prog, witness, flags, checker)
			}
		}

		e2 := NewEngine(flags, checker)
		if err := e2.Eval(redeem, &redeemStack); err != nil {
			return err
		}
		if len(redeemStack) == 0 || !isTrue(redeemStack[len(redeemStack)-1]) {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "P2SH redeem script returned false")
		}
		if flags.Has(ScriptVerifyCleanStack) && len(redeemStack) != 1 {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "clean-stack violation after P2SH")
		}
		return nil
	}

	if flags.Has(ScriptVerifyWitness) && isWitness {
		return evalWitness(witnessVersion, witnessProgram, witness, flags, checker)
	}

	if flags.Has(ScriptVerifyCleanStack) && len(st) != 1 {
		return errors.NewConsensusInvalid(errors.SubKindBadScript, "clean-stack violation")
	}
	return nil
}

func isPushOnly(scr []byte) bool {
	for i := 0; i < len(scr); {
		op, _, n, ok := readOp(scr, i)
		if !ok || !isPushOnlyOp(op) {
			return false
		}
		i += n
	}
	return true
}

// isP2SH reports whether locking matches BIP16's exact template:
// OP_HASH160 <20 bytes> OP_EQUAL.
func isP2SH(locking []byte) bool {
	return len(locking) == 23 && locking[0] == byte(OP_HASH160) && locking[1] == 0x14 && locking[22] == byte(OP_EQUAL)
}

// decodeWitnessProgram reports whether locking is a segwit program:
// a single minimal-push version opcode (OP_0 or OP_1..OP_16) followed by a
// 2-to-40-byte push, and nothing else.
func decodeWitnessProgram(locking []byte) (program []byte, version int, ok bool) {
	if len(locking) < 4 || len(locking) > 42 {
		return nil, 0, false
	}
	op, data, n, valid := readOp(locking, 0)
	if !valid || n != 1 {
		return nil, 0, false
	}
	if !(op == OP_0 || (op >= OP_1 && op <= OP_16)) {
		return nil, 0, false
	}
	ver := 0
	if op != OP_0 {
		ver = int(op - OP_1 + 1)
	}
	op2, data2, n2, valid2 := readOp(locking, 1)
	if !valid2 || 1+n2 != len(locking) || data2 == nil {
		return nil, 0, false
	}
	if len(data2) < 2 || len(data2) > 40 {
		return nil, 0, false
	}
	_ = data
	_ = op2
	return data2, ver, true
}

func evalWitness(version int, program []byte, witness [][]byte, flags Flags, checker SignatureChecker) error {
	switch version {
	case 0:
		return evalWitnessV0(program, witness, flags, checker)
	default:
		if flags.Has(ScriptVerifyTaproot) && version == 1 && len(program) == 32 {
			return evalTaprootKeyPath(program, witness, checker)
		}
		// Unknown witness versions are anyone-can-spend by design
		// (BIP141 future-proofing) unless taproot enforcement is active.
		return nil
	}
}

func evalWitnessV0(program []byte, witness [][]byte, flags Flags, checker SignatureChecker) error {
	switch len(program) {
	case 20: // P2WPKH
		if len(witness) != 2 {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "P2WPKH requires exactly 2 witness items")
		}
		pubkeyHash := primitives.Hash160(witness[1])
		if !bytes.Equal(pubkeyHash[:], program) {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "P2WPKH pubkey hash mismatch")
		}
		locking := p2pkhScript(program)
		var st stack
		for _, w := range witness {
			st.push(w)
		}
		e := NewEngine(flags, checker)
		if err := e.Eval(locking, &st); err != nil {
			return err
		}
		if len(st) != 1 || !isTrue(st[len(st)-1]) {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "P2WPKH script returned false")
		}
		return nil
	case 32: // P2WSH
		if len(witness) == 0 {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "P2WSH requires a witness script")
		}
		witnessScript := witness[len(witness)-1]
		h := sha256Sum(witnessScript)
		if !bytes.Equal(h[:], program) {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "P2WSH script hash mismatch")
		}
		var st stack
		for _, w := range witness[:len(witness)-1] {
			st.push(w)
		}
		e := NewEngine(flags, checker)
		if err := e.Eval(witnessScript, &st); err != nil {
			return err
		}
		if len(st) == 0 || !isTrue(st[len(st)-1]) {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "P2WSH script returned false")
		}
		if flags.Has(ScriptVerifyCleanStack) && len(st) != 1 {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "clean-stack violation in P2WSH")
		}
		return nil
	default:
		return errors.NewConsensusInvalid(errors.SubKindBadScript, "invalid witness program length %d", len(program))
	}
}

func p2pkhScript(pubkeyHash []byte) []byte {
	var b bytes.Buffer
	b.WriteByte(byte(OP_DUP))
	b.WriteByte(byte(OP_HASH160))
	b.WriteByte(0x14)
	b.Write(pubkeyHash)
	b.WriteByte(byte(OP_EQUALVERIFY))
	b.WriteByte(byte(OP_CHECKSIG))
	return b.Bytes()
}
