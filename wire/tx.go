// Package wire implements Bitcoin's on-wire transaction and block encoding:
// legacy and witness-aware transaction parsing, block header framing, and
// the per-input witness stacks (carried on each TxIn) the script interpreter
// consults for segwit inputs.
package wire

import (
	"bytes"
	"io"

	"github.com/ubsv/validationcore/errors"
	"github.com/ubsv/validationcore/primitives"
)

const witnessMarker = 0x00
const witnessFlag = 0x01

// SequenceFinal marks an input as final: nLockTime has no effect when every
// input carries this sequence number, and BIP65's OP_CHECKLOCKTIMEVERIFY
// fails for an input that carries it.
const SequenceFinal = 0xffffffff

// OutPoint references a single previous output by transaction id and index.
type OutPoint struct {
	Hash  primitives.Hash
	Index uint32
}

// TxIn is a transaction input: the output it spends, its unlocking script,
// and its relative-lock-time sequence number.
type TxIn struct {
	PreviousOutPoint OutPoint
	UnlockingScript  []byte
	Sequence         uint32
	Witness          [][]byte // nil for non-segwit inputs
}

// TxOut is a transaction output: a value in satoshis and its locking script.
type TxOut struct {
	Value          int64
	LockingScript  []byte
}

// Tx is a fully parsed Bitcoin transaction.
type Tx struct {
	Version  int32
	Inputs   []*TxIn
	Outputs  []*TxOut
	LockTime uint32

	// HasWitness records whether the wire encoding carried the segwit
	// marker/flag; txid always uses the legacy encoding regardless.
	HasWitness bool
}

// IsCoinbase reports whether this is a coinbase transaction: exactly one
// input referencing the null outpoint.
func (t *Tx) IsCoinbase() bool {
	if len(t.Inputs) != 1 {
		return false
	}
	in := t.Inputs[0]
	return in.PreviousOutPoint.Hash.IsZero() && in.PreviousOutPoint.Index == 0xffffffff
}

// Txid is the double-SHA-256 of the legacy (witness-stripped) encoding.
func (t *Tx) Txid() primitives.Hash {
	return primitives.Sha256d(t.legacyBytes())
}

// Wtxid is the double-SHA-256 of the witness-aware encoding. For a
// non-witness transaction this equals Txid.
func (t *Tx) Wtxid() primitives.Hash {
	return primitives.Sha256d(t.witnessBytes())
}

func (t *Tx) legacyBytes() []byte {
	var buf bytes.Buffer
	_ = t.encode(&buf, false)
	return buf.Bytes()
}

func (t *Tx) witnessBytes() []byte {
	var buf bytes.Buffer
	_ = t.encode(&buf, t.HasWitness)
	return buf.Bytes()
}

// Bytes serializes the transaction using the witness-aware encoding when
// HasWitness is set, legacy encoding otherwise.
func (t *Tx) Bytes() []byte {
	return t.witnessBytes()
}

func (t *Tx) encode(w io.Writer, witness bool) error {
	var verBuf [4]byte
	primitives.PutUint32LE(verBuf[:], uint32(t.Version))
	if _, err := w.Write(verBuf[:]); err != nil {
		return err
	}

	if witness {
		if _, err := w.Write([]byte{witnessMarker, witnessFlag}); err != nil {
			return err
		}
	}

	if err := primitives.WriteVarInt(w, uint64(len(t.Inputs))); err != nil {
		return err
	}
	for _, in := range t.Inputs {
		if err := writeOutPoint(w, in.PreviousOutPoint); err != nil {
			return err
		}
		if err := writeVarBytes(w, in.UnlockingScript); err != nil {
			return err
		}
		var seqBuf [4]byte
		primitives.PutUint32LE(seqBuf[:], in.Sequence)
		if _, err := w.Write(seqBuf[:]); err != nil {
			return err
		}
	}

	if err := primitives.WriteVarInt(w, uint64(len(t.Outputs))); err != nil {
		return err
	}
	for _, out := range t.Outputs {
		var valBuf [8]byte
		primitives.PutUint64LE(valBuf[:], uint64(out.Value))
		if _, err := w.Write(valBuf[:]); err != nil {
			return err
		}
		if err := writeVarBytes(w, out.LockingScript); err != nil {
			return err
		}
	}

	if witness {
		for _, in := range t.Inputs {
			if err := primitives.WriteVarInt(w, uint64(len(in.Witness))); err != nil {
				return err
			}
			for _, item := range in.Witness {
				if err := writeVarBytes(w, item); err != nil {
					return err
				}
			}
		}
	}

	var lockBuf [4]byte
	primitives.PutUint32LE(lockBuf[:], t.LockTime)
	_, err := w.Write(lockBuf[:])
	return err
}

func writeOutPoint(w io.Writer, op OutPoint) error {
	if _, err := w.Write(op.Hash[:]); err != nil {
		return err
	}
	var idxBuf [4]byte
	primitives.PutUint32LE(idxBuf[:], op.Index)
	_, err := w.Write(idxBuf[:])
	return err
}

func writeVarBytes(w io.Writer, b []byte) error {
	if err := primitives.WriteVarInt(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// maxScriptLen guards against a compact-size length claim that would force
// an absurd allocation from a short malicious input.
const maxScriptLen = 10 * 1024 * 1024

// DecodeTx parses a single transaction from r, auto-detecting the segwit
// marker/flag. It returns Malformed-kind errors on truncated input,
// oversize varints, or a length mismatch between a declared and actual
// script/witness-item size.
func DecodeTx(r io.Reader) (*Tx, error) {
	br := asByteReader(r)
	t := &Tx{}

	var verBuf [4]byte
	if _, err := io.ReadFull(br, verBuf[:]); err != nil {
		return nil, errors.NewMalformed("read tx version: %v", err)
	}
	t.Version = int32(primitives.Uint32LE(verBuf[:]))

	inputCount, err := primitives.ReadVarInt(br)
	if err != nil {
		return nil, errors.NewMalformed("read input count: %v", err)
	}

	if inputCount == 0 {
		// Could be the segwit marker/flag: 0x00 0x01.
		var flag [1]byte
		if _, err := io.ReadFull(br, flag[:]); err != nil {
			return nil, errors.NewMalformed("read witness flag: %v", err)
		}
		if flag[0] != witnessFlag {
			return nil, errors.NewMalformed("transaction declares zero inputs without witness flag")
		}
		t.HasWitness = true
		inputCount, err = primitives.ReadVarInt(br)
		if err != nil {
			return nil, errors.NewMalformed("read input count after witness flag: %v", err)
		}
	}

	if inputCount > maxScriptLen {
		return nil, errors.NewMalformed("implausible input count %d", inputCount)
	}

	t.Inputs = make([]*TxIn, inputCount)
	for i := range t.Inputs {
		in, err := decodeTxIn(br)
		if err != nil {
			return nil, err
		}
		t.Inputs[i] = in
	}

	outputCount, err := primitives.ReadVarInt(br)
	if err != nil {
		return nil, errors.NewMalformed("read output count: %v", err)
	}
	if outputCount > maxScriptLen {
		return nil, errors.NewMalformed("implausible output count %d", outputCount)
	}

	t.Outputs = make([]*TxOut, outputCount)
	for i := range t.Outputs {
		out, err := decodeTxOut(br)
		if err != nil {
			return nil, err
		}
		t.Outputs[i] = out
	}

	if t.HasWitness {
		for _, in := range t.Inputs {
			itemCount, err := primitives.ReadVarInt(br)
			if err != nil {
				return nil, errors.NewMalformed("read witness item count: %v", err)
			}
			if itemCount > maxScriptLen {
				return nil, errors.NewMalformed("implausible witness item count %d", itemCount)
			}
			in.Witness = make([][]byte, itemCount)
			for i := range in.Witness {
				item, err := readVarBytes(br)
				if err != nil {
					return nil, err
				}
				in.Witness[i] = item
			}
		}
	}

	var lockBuf [4]byte
	if _, err := io.ReadFull(br, lockBuf[:]); err != nil {
		return nil, errors.NewMalformed("read locktime: %v", err)
	}
	t.LockTime = primitives.Uint32LE(lockBuf[:])

	return t, nil
}

func decodeTxIn(r io.Reader) (*TxIn, error) {
	in := &TxIn{}
	if err := readOutPoint(r, &in.PreviousOutPoint); err != nil {
		return nil, err
	}
	script, err := readVarBytes(r)
	if err != nil {
		return nil, err
	}
	in.UnlockingScript = script

	var seqBuf [4]byte
	if _, err := io.ReadFull(r, seqBuf[:]); err != nil {
		return nil, errors.NewMalformed("read sequence: %v", err)
	}
	in.Sequence = primitives.Uint32LE(seqBuf[:])
	return in, nil
}

func decodeTxOut(r io.Reader) (*TxOut, error) {
	out := &TxOut{}
	var valBuf [8]byte
	if _, err := io.ReadFull(r, valBuf[:]); err != nil {
		return nil, errors.NewMalformed("read output value: %v", err)
	}
	out.Value = int64(primitives.Uint64LE(valBuf[:]))

	script, err := readVarBytes(r)
	if err != nil {
		return nil, err
	}
	out.LockingScript = script
	return out, nil
}

func readOutPoint(r io.Reader, op *OutPoint) error {
	if _, err := io.ReadFull(r, op.Hash[:]); err != nil {
		return errors.NewMalformed("read outpoint hash: %v", err)
	}
	var idxBuf [4]byte
	if _, err := io.ReadFull(r, idxBuf[:]); err != nil {
		return errors.NewMalformed("read outpoint index: %v", err)
	}
	op.Index = primitives.Uint32LE(idxBuf[:])
	return nil
}

func readVarBytes(r io.Reader) ([]byte, error) {
	n, err := primitives.ReadVarInt(r)
	if err != nil {
		return nil, errors.NewMalformed("read var-bytes length: %v", err)
	}
	if n > maxScriptLen {
		return nil, errors.NewMalformed("var-bytes length %d exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.NewMalformed("var-bytes length mismatch: %v", err)
	}
	return buf, nil
}

// asByteReader adapts an io.Reader to io.Reader (kept as a seam so future
// buffered-reader-specific optimizations, e.g. peeking the witness flag,
// have a single place to change).
func asByteReader(r io.Reader) io.Reader { return r }
