package primitives

import (
	"encoding/binary"
	"io"

	"github.com/ubsv/validationcore/errors"
)

// MaxVarIntPayload bounds the decoded value of a VarInt to guard against
// pathological oversize-allocation attempts; it is far larger than any
// legitimate transaction/output count.
const MaxVarIntPayload = 1 << 32

// WriteVarInt writes n using Bitcoin's discriminated compact-size encoding:
// values below 0xfd are a single byte; 0xfd/0xfe/0xff prefix a 2/4/8-byte
// little-endian payload.
func WriteVarInt(w io.Writer, n uint64) error {
	switch {
	case n < 0xfd:
		_, err := w.Write([]byte{byte(n)})
		return err
	case n <= 0xffff:
		buf := make([]byte, 3)
		buf[0] = 0xfd
		binary.LittleEndian.PutUint16(buf[1:], uint16(n))
		_, err := w.Write(buf)
		return err
	case n <= 0xffffffff:
		buf := make([]byte, 5)
		buf[0] = 0xfe
		binary.LittleEndian.PutUint32(buf[1:], uint32(n))
		_, err := w.Write(buf)
		return err
	default:
		buf := make([]byte, 9)
		buf[0] = 0xff
		binary.LittleEndian.PutUint64(buf[1:], n)
		_, err := w.Write(buf)
		return err
	}
}

// ReadVarInt reads a compact-size integer, rejecting non-minimal encodings
// (a value that could fit in a shorter form but was written with a longer
// prefix) since they are a common malleability/ambiguity vector.
func ReadVarInt(r io.Reader) (uint64, error) {
	var prefix [1]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, errors.NewMalformed("read varint prefix: %v", err)
	}

	switch prefix[0] {
	case 0xfd:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, errors.NewMalformed("read varint payload (2): %v", err)
		}
		v := uint64(binary.LittleEndian.Uint16(buf[:]))
		if v < 0xfd {
			return 0, errors.NewMalformed("non-minimal varint encoding")
		}
		return v, nil
	case 0xfe:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, errors.NewMalformed("read varint payload (4): %v", err)
		}
		v := uint64(binary.LittleEndian.Uint32(buf[:]))
		if v <= 0xffff {
			return 0, errors.NewMalformed("non-minimal varint encoding")
		}
		return v, nil
	case 0xff:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, errors.NewMalformed("read varint payload (8): %v", err)
		}
		v := binary.LittleEndian.Uint64(buf[:])
		if v <= 0xffffffff {
			return 0, errors.NewMalformed("non-minimal varint encoding")
		}
		if v > MaxVarIntPayload {
			return 0, errors.NewMalformed("varint value %d exceeds %d", v, uint64(MaxVarIntPayload))
		}
		return v, nil
	default:
		return uint64(prefix[0]), nil
	}
}

// WriteCompactSize is an alias for WriteVarInt: Bitcoin uses the same
// discriminated encoding for script push lengths and item counts.
func WriteCompactSize(w io.Writer, n uint64) error { return WriteVarInt(w, n) }

// ReadCompactSize is an alias for ReadVarInt.
func ReadCompactSize(r io.Reader) (uint64, error) { return ReadVarInt(r) }

func PutUint32LE(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func Uint32LE(b []byte) uint32       { return binary.LittleEndian.Uint32(b) }
func PutUint64LE(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }
func Uint64LE(b []byte) uint64       { return binary.LittleEndian.Uint64(b) }
