package script

import (
	"bytes"
	"encoding/binary"

	"github.com/ubsv/validationcore/primitives"
	"github.com/ubsv/validationcore/wire"
)

// Sighash type bits (low byte of the signature's final byte).
const (
	SighashAll          = 0x01
	SighashNone         = 0x02
	SighashSingle       = 0x03
	SighashAnyoneCanPay = 0x80
)

// removeOpcode strips every occurrence of OP_CODESEPARATOR from script,
// used to build the subscript passed to the legacy sighash (signatures
// never need to be "found" in the script since Bitcoin doesn't support
// signature recovery from the subscript, but CODESEPARATOR still affects
// which bytes are hashed).
func removeOpcode(scr []byte, op Opcode) []byte {
	var out []byte
	for i := 0; i < len(scr); {
		opc, data, n, ok := readOp(scr, i)
		if !ok {
			return out
		}
		if Opcode(opc) != op {
			out = append(out, scr[i:i+n]...)
		}
		_ = data
		i += n
	}
	return out
}

// LegacySighash computes the pre-BIP143 sighash for inputIdx of tx, against
// subScript (the previous output's locking script with CODESEPARATOR data
// removed), per the original Bitcoin signature-hash algorithm.
func LegacySighash(tx *wire.Tx, inputIdx int, subScript []byte, hashType byte) primitives.Hash {
	subScript = removeOpcode(subScript, OP_CODESEPARATOR)

	txCopy := &wire.Tx{Version: tx.Version, LockTime: tx.LockTime}

	anyoneCanPay := hashType&SighashAnyoneCanPay != 0
	baseType := hashType &^ SighashAnyoneCanPay

	if anyoneCanPay {
		in := tx.Inputs[inputIdx]
		txCopy.Inputs = []*wire.TxIn{{
			PreviousOutPoint: in.PreviousOutPoint,
			UnlockingScript:  subScript,
			Sequence:         in.Sequence,
		}}
	} else {
		txCopy.Inputs = make([]*wire.TxIn, len(tx.Inputs))
		for i, in := range tx.Inputs {
			seq := in.Sequence
			scr := []byte{}
			if i == inputIdx {
				scr = subScript
			} else if baseType == SighashNone || baseType == SighashSingle {
				seq = 0
			}
			txCopy.Inputs[i] = &wire.TxIn{
				PreviousOutPoint: in.PreviousOutPoint,
				UnlockingScript:  scr,
				Sequence:         seq,
			}
		}
	}

	switch baseType {
	case SighashNone:
		txCopy.Outputs = nil
	case SighashSingle:
		if inputIdx >= len(tx.Outputs) {
			// Bitcoin Core's well-known bug: SIGHASH_SINGLE with no
			// corresponding output hashes the constant 0x00...01.
			var h primitives.Hash
			h[0] = 1
			return h
		}
		txCopy.Outputs = make([]*wire.TxOut, inputIdx+1)
		for i := 0; i < inputIdx; i++ {
			txCopy.Outputs[i] = &wire.TxOut{Value: -1}
		}
		txCopy.Outputs[inputIdx] = tx.Outputs[inputIdx]
	default:
		txCopy.Outputs = tx.Outputs
	}

	var buf bytes.Buffer
	buf.Write(txCopy.Bytes())
	var ht [4]byte
	binary.LittleEndian.PutUint32(ht[:], uint32(hashType))
	buf.Write(ht[:])

	return primitives.Sha256d(buf.Bytes())
}

// WitnessSighash computes the BIP143 sighash for a segwit v0 input:
// inputIdx of tx, spending an output worth amount with locking script
// subScript.
func WitnessSighash(tx *wire.Tx, inputIdx int, subScript []byte, amount int64, hashType byte) primitives.Hash {
	anyoneCanPay := hashType&SighashAnyoneCanPay != 0
	baseType := hashType &^ SighashAnyoneCanPay

	hashPrevouts := primitives.Hash{}
	hashSequence := primitives.Hash{}
	hashOutputs := primitives.Hash{}

	if !anyoneCanPay {
		var buf bytes.Buffer
		for _, in := range tx.Inputs {
			buf.Write(in.PreviousOutPoint.Hash[:])
			var idx [4]byte
			binary.LittleEndian.PutUint32(idx[:], in.PreviousOutPoint.Index)
			buf.Write(idx[:])
		}
		hashPrevouts = primitives.Sha256d(buf.Bytes())
	}

	if !anyoneCanPay && baseType != SighashSingle && baseType != SighashNone {
		var buf bytes.Buffer
		for _, in := range tx.Inputs {
			var seq [4]byte
			binary.LittleEndian.PutUint32(seq[:], in.Sequence)
			buf.Write(seq[:])
		}
		hashSequence = primitives.Sha256d(buf.Bytes())
	}

	if baseType != SighashSingle && baseType != SighashNone {
		var buf bytes.Buffer
		for _, out := range tx.Outputs {
			writeTxOut(&buf, out)
		}
		hashOutputs = primitives.Sha256d(buf.Bytes())
	} else if baseType == SighashSingle && inputIdx < len(tx.Outputs) {
		var buf bytes.Buffer
		writeTxOut(&buf, tx.Outputs[inputIdx])
		hashOutputs = primitives.Sha256d(buf.Bytes())
	}

	var buf bytes.Buffer
	var verBuf [4]byte
	binary.LittleEndian.PutUint32(verBuf[:], uint32(tx.Version))
	buf.Write(verBuf[:])
	buf.Write(hashPrevouts[:])
	buf.Write(hashSequence[:])

	in := tx.Inputs[inputIdx]
	buf.Write(in.PreviousOutPoint.Hash[:])
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], in.PreviousOutPoint.Index)
	buf.Write(idx[:])

	writeVarBytesTo(&buf, subScript)

	var amtBuf [8]byte
	binary.LittleEndian.PutUint64(amtBuf[:], uint64(amount))
	buf.Write(amtBuf[:])

	var seqBuf [4]byte
	binary.LittleEndian.PutUint32(seqBuf[:], in.Sequence)
	buf.Write(seqBuf[:])

	buf.Write(hashOutputs[:])

	var lockBuf [4]byte
	binary.LittleEndian.PutUint32(lockBuf[:], tx.LockTime)
	buf.Write(lockBuf[:])

	var htBuf [4]byte
	binary.LittleEndian.PutUint32(htBuf[:], uint32(hashType))
	buf.Write(htBuf[:])

	return primitives.Sha256d(buf.Bytes())
}

func writeTxOut(buf *bytes.Buffer, out *wire.TxOut) {
	var v [8]byte
	binary.LittleEndian.PutUint64(v[:], uint64(out.Value))
	buf.Write(v[:])
	writeVarBytesTo(buf, out.LockingScript)
}

func writeVarBytesTo(buf *bytes.Buffer, b []byte) {
	_ = primitives.WriteVarInt(buf, uint64(len(b)))
	buf.Write(b)
}
