package script

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // OP_SHA1 is a consensus-mandated legacy opcode
	"crypto/sha256"

	"github.com/ubsv/validationcore/errors"
	"github.com/ubsv/validationcore/primitives"
)

func sha256Sum(b []byte) [32]byte { return sha256.Sum256(b) }

func num(b []byte) (int64, error) { return scriptNum(b, false, maxScriptNumLength) }

// step executes a single non-push, non-flow-control opcode.
func (e *Engine) step(op Opcode, st *stack, alt *stack, scr []byte, codeSepIdx *int, pos int) error {
	switch op {
	case OP_NOP:
		return nil

	case OP_VERIFY:
		v, err := st.pop()
		if err != nil {
			return err
		}
		if !isTrue(v) {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "OP_VERIFY failed")
		}
		return nil

	case OP_RETURN:
		return errors.NewConsensusInvalid(errors.SubKindBadScript, "OP_RETURN encountered")

	case OP_TOALTSTACK:
		v, err := st.pop()
		if err != nil {
			return err
		}
		alt.push(v)
		return nil
	case OP_FROMALTSTACK:
		v, err := alt.pop()
		if err != nil {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "alt stack underflow")
		}
		st.push(v)
		return nil

	case OP_DROP:
		_, err := st.pop()
		return err
	case OP_DUP:
		v, err := st.top(1)
		if err != nil {
			return err
		}
		st.push(append([]byte(nil), v...))
		return nil
	case OP_2DROP:
		if _, err := st.pop(); err != nil {
			return err
		}
		_, err := st.pop()
		return err
	case OP_2DUP:
		a, err := st.top(2)
		if err != nil {
			return err
		}
		b, err := st.top(1)
		if err != nil {
			return err
		}
		st.push(append([]byte(nil), a...))
		st.push(append([]byte(nil), b...))
		return nil
	case OP_SWAP:
		a, err := st.pop()
		if err != nil {
			return err
		}
		b, err := st.pop()
		if err != nil {
			return err
		}
		st.push(a)
		st.push(b)
		return nil
	case OP_OVER:
		v, err := st.top(2)
		if err != nil {
			return err
		}
		st.push(append([]byte(nil), v...))
		return nil
	case OP_NIP:
		v, err := st.pop()
		if err != nil {
			return err
		}
		if _, err := st.pop(); err != nil {
			return err
		}
		st.push(v)
		return nil
	case OP_TUCK:
		a, err := st.pop()
		if err != nil {
			return err
		}
		b, err := st.pop()
		if err != nil {
			return err
		}
		st.push(append([]byte(nil), a...))
		st.push(b)
		st.push(a)
		return nil
	case OP_DEPTH:
		st.push(encodeScriptNum(int64(len(*st))))
		return nil
	case OP_ROT:
		if len(*st) < 3 {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "stack underflow")
		}
		n := len(*st)
		v := (*st)[n-3]
		*st = append((*st)[:n-3], (*st)[n-2:]...)
		st.push(v)
		return nil
	case OP_PICK, OP_ROLL:
		nb, err := st.pop()
		if err != nil {
			return err
		}
		idx, err := num(nb)
		if err != nil {
			return err
		}
		if idx < 0 || int(idx) >= len(*st) {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "PICK/ROLL index out of range")
		}
		pos := len(*st) - 1 - int(idx)
		v := append([]byte(nil), (*st)[pos]...)
		if op == OP_ROLL {
			*st = append((*st)[:pos], (*st)[pos+1:]...)
		}
		st.push(v)
		return nil
	case OP_IFDUP:
		v, err := st.top(1)
		if err != nil {
			return err
		}
		if isTrue(v) {
			st.push(append([]byte(nil), v...))
		}
		return nil

	case OP_SIZE:
		v, err := st.top(1)
		if err != nil {
			return err
		}
		st.push(encodeScriptNum(int64(len(v))))
		return nil

	case OP_EQUAL, OP_EQUALVERIFY:
		a, err := st.pop()
		if err != nil {
			return err
		}
		b, err := st.pop()
		if err != nil {
			return err
		}
		eq := bytes.Equal(a, b)
		if op == OP_EQUALVERIFY {
			if !eq {
				return errors.NewConsensusInvalid(errors.SubKindBadScript, "OP_EQUALVERIFY failed")
			}
			return nil
		}
		st.push(boolBytes(eq))
		return nil

	case OP_1ADD, OP_1SUB, OP_NEGATE, OP_ABS, OP_NOT, OP_0NOTEQUAL:
		v, err := st.pop()
		if err != nil {
			return err
		}
		n, err := num(v)
		if err != nil {
			return err
		}
		switch op {
		case OP_1ADD:
			n++
		case OP_1SUB:
			n--
		case OP_NEGATE:
			n = -n
		case OP_ABS:
			if n < 0 {
				n = -n
			}
		case OP_NOT:
			st.push(boolBytes(n == 0))
			return nil
		case OP_0NOTEQUAL:
			st.push(boolBytes(n != 0))
			return nil
		}
		st.push(encodeScriptNum(n))
		return nil

	case OP_ADD, OP_SUB, OP_BOOLAND, OP_BOOLOR, OP_NUMEQUAL, OP_NUMEQUALVERIFY,
		OP_NUMNOTEQUAL, OP_LESSTHAN, OP_GREATERTHAN, OP_LESSTHANOREQUAL,
		OP_GREATERTHANOREQUAL, OP_MIN, OP_MAX:
		bb, err := st.pop()
		if err != nil {
			return err
		}
		ab, err := st.pop()
		if err != nil {
			return err
		}
		a, err := num(ab)
		if err != nil {
			return err
		}
		b, err := num(bb)
		if err != nil {
			return err
		}
		switch op {
		case OP_ADD:
			st.push(encodeScriptNum(a + b))
		case OP_SUB:
			st.push(encodeScriptNum(a - b))
		case OP_BOOLAND:
			st.push(boolBytes(a != 0 && b != 0))
		case OP_BOOLOR:
			st.push(boolBytes(a != 0 || b != 0))
		case OP_NUMEQUAL:
			st.push(boolBytes(a == b))
		case OP_NUMEQUALVERIFY:
			if a != b {
				return errors.NewConsensusInvalid(errors.SubKindBadScript, "OP_NUMEQUALVERIFY failed")
			}
		case OP_NUMNOTEQUAL:
			st.push(boolBytes(a != b))
		case OP_LESSTHAN:
			st.push(boolBytes(a < b))
		case OP_GREATERTHAN:
			st.push(boolBytes(a > b))
		case OP_LESSTHANOREQUAL:
			st.push(boolBytes(a <= b))
		case OP_GREATERTHANOREQUAL:
			st.push(boolBytes(a >= b))
		case OP_MIN:
			if a < b {
				st.push(encodeScriptNum(a))
			} else {
				st.push(encodeScriptNum(b))
			}
		case OP_MAX:
			if a > b {
				st.push(encodeScriptNum(a))
			} else {
				st.push(encodeScriptNum(b))
			}
		}
		return nil

	case OP_WITHIN:
		maxB, err := st.pop()
		if err != nil {
			return err
		}
		minB, err := st.pop()
		if err != nil {
			return err
		}
		xB, err := st.pop()
		if err != nil {
			return err
		}
		x, _ := num(xB)
		mn, _ := num(minB)
		mx, _ := num(maxB)
		st.push(boolBytes(x >= mn && x < mx))
		return nil

	case OP_RIPEMD160:
		v, err := st.pop()
		if err != nil {
			return err
		}
		h := primitives.Ripemd160(v)
		st.push(h[:])
		return nil
	case OP_SHA1:
		v, err := st.pop()
		if err != nil {
			return err
		}
		h := sha1.Sum(v)
		st.push(h[:])
		return nil
	case OP_SHA256:
		v, err := st.pop()
		if err != nil {
			return err
		}
		h := sha256Sum(v)
		st.push(h[:])
		return nil
	case OP_HASH160:
		v, err := st.pop()
		if err != nil {
			return err
		}
		h := primitives.Hash160(v)
		st.push(h[:])
		return nil
	case OP_HASH256:
		v, err := st.pop()
		if err != nil {
			return err
		}
		h := primitives.Sha256d(v)
		st.push(h[:])
		return nil

	case OP_CODESEPARATOR:
		return nil

	case OP_CHECKSIG, OP_CHECKSIGVERIFY:
		pubkey, err := st.pop()
		if err != nil {
			return err
		}
		sig, err := st.pop()
		if err != nil {
			return err
		}
		ok, err := e.checkSig(sig, pubkey, scr, *codeSepIdx)
		if err != nil {
			return err
		}
		if op == OP_CHECKSIGVERIFY {
			if !ok {
				return errors.NewConsensusInvalid(errors.SubKindBadScript, "OP_CHECKSIGVERIFY failed")
			}
			return nil
		}
		st.push(boolBytes(ok))
		return nil

	case OP_CHECKMULTISIG, OP_CHECKMULTISIGVERIFY:
		ok, err := e.checkMultisig(st, scr, *codeSepIdx)
		if err != nil {
			return err
		}
		if op == OP_CHECKMULTISIGVERIFY {
			if !ok {
				return errors.NewConsensusInvalid(errors.SubKindBadScript, "OP_CHECKMULTISIGVERIFY failed")
			}
			return nil
		}
		st.push(boolBytes(ok))
		return nil

	case OP_CHECKLOCKTIMEVERIFY:
		if !e.flags.Has(ScriptVerifyCheckLockTimeVerify) {
			return nil // treated as NOP when the rule isn't active
		}
		v, err := st.top(1)
		if err != nil {
			return err
		}
		lt, err := scriptNum(v, e.flags.Has(ScriptVerifyMinimalData), 5)
		if err != nil {
			return err
		}
		if lt < 0 || !e.checker.CheckLockTime(lt) {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "OP_CHECKLOCKTIMEVERIFY failed")
		}
		return nil

	case OP_CHECKSEQUENCEVERIFY:
		if !e.flags.Has(ScriptVerifyCheckSequenceVerify) {
			return nil
		}
		v, err := st.top(1)
		if err != nil {
			return err
		}
		seq, err := scriptNum(v, e.flags.Has(ScriptVerifyMinimalData), 5)
		if err != nil {
			return err
		}
		if seq < 0 || !e.checker.CheckSequence(seq) {
			return errors.NewConsensusInvalid(errors.SubKindBadScript, "OP_CHECKSEQUENCEVERIFY failed")
		}
		return nil

	case OP_RESERVED, OP_VER, OP_VERIF, OP_VERNOTIF:
		return errors.NewConsensusInvalid(errors.SubKindBadScript, "reserved opcode %d", op)

	default:
		return errors.NewConsensusInvalid(errors.SubKindBadScript, "unimplemented opcode %d", op)
	}
}

func boolBytes(b bool) []byte {
	if b {
		return []byte{1}
	}
	return nil
}

func (e *Engine) checkSig(sig, pubkey, scr []byte, codeSepIdx int) (bool, error) {
	if len(sig) == 0 {
		return false, nil
	}
	sub := e.subScriptFrom(scr, codeSepIdx)
	ok, err := e.checker.CheckSig(sig, pubkey, sub)
	if err != nil {
		return false, errors.NewConsensusInvalid(errors.SubKindBadScript, "signature check error: %v", err)
	}
	return ok, nil
}

// checkMultisig implements OP_CHECKMULTISIG's off-by-one-preserving
// original semantics: pop pubkey count, that many pubkeys, sig count, that
// many sigs, then a dummy element consumed for the historical bug. Each
// signature must match pubkeys in order, though not every pubkey need have
// a matching signature.
func (e *Engine) checkMultisig(st *stack, scr []byte, codeSepIdx int) (bool, error) {
	nKeysB, err := st.pop()
	if err != nil {
		return false, err
	}
	nKeys, err := num(nKeysB)
	if err != nil || nKeys < 0 || nKeys > 20 {
		return false, errors.NewConsensusInvalid(errors.SubKindBadScript, "invalid pubkey count in CHECKMULTISIG")
	}
	pubkeys := make([][]byte, nKeys)
	for i := range pubkeys {
		pubkeys[i], err = st.pop()
		if err != nil {
			return false, err
		}
	}

	nSigsB, err := st.pop()
	if err != nil {
		return false, err
	}
	nSigs, err := num(nSigsB)
	if err != nil || nSigs < 0 || nSigs > nKeys {
		return false, errors.NewConsensusInvalid(errors.SubKindBadScript, "invalid sig count in CHECKMULTISIG")
	}
	sigs := make([][]byte, nSigs)
	for i := range sigs {
		sigs[i], err = st.pop()
		if err != nil {
			return false, err
		}
	}

	dummy, err := st.pop()
	if err != nil {
		return false, err
	}
	if e.flags.Has(ScriptVerifyNullDummy) && len(dummy) != 0 {
		return false, errors.NewConsensusInvalid(errors.SubKindBadScript, "CHECKMULTISIG dummy element not null")
	}

	sub := e.subScriptFrom(scr, codeSepIdx)
	keyIdx := 0
	for _, sig := range sigs {
		if len(sig) == 0 {
			continue
		}
		matched := false
		for keyIdx < len(pubkeys) {
			ok, err := e.checker.CheckSig(sig, pubkeys[keyIdx], sub)
			keyIdx++
			if err != nil {
				return false, errors.NewConsensusInvalid(errors.SubKindBadScript, "signature check error: %v", err)
			}
			if ok {
				matched = true
				break
			}
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}
