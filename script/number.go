package script

import "github.com/ubsv/validationcore/errors"

// maxScriptNumLength is the maximum byte length of a CScriptNum operand per
// legacy consensus rules (4 bytes, i.e. values up to ~2^31).
const maxScriptNumLength = 4

// scriptNum decodes Bitcoin Script's signed, minimally-encoded,
// little-endian integer representation: the high bit of the last byte is
// the sign, magnitude otherwise little-endian.
func scriptNum(b []byte, requireMinimal bool, maxLen int) (int64, error) {
	if len(b) > maxLen {
		return 0, errors.NewConsensusInvalid(errors.SubKindBadScript, "script number overflow: %d bytes", len(b))
	}
	if len(b) == 0 {
		return 0, nil
	}
	if requireMinimal {
		last := b[len(b)-1]
		if last&0x7f == 0 {
			if len(b) == 1 || b[len(b)-2]&0x80 == 0 {
				return 0, errors.NewConsensusInvalid(errors.SubKindBadScript, "non-minimally encoded script number")
			}
		}
	}

	var v int64
	for i, bb := range b {
		v |= int64(bb) << uint(8*i)
	}
	if b[len(b)-1]&0x80 != 0 {
		v &^= int64(0x80) << uint(8*(len(b)-1))
		v = -v
	}
	return v, nil
}

// encodeScriptNum is the inverse of scriptNum: minimal little-endian
// magnitude with a trailing sign bit/byte as needed.
func encodeScriptNum(v int64) []byte {
	if v == 0 {
		return nil
	}

	neg := v < 0
	abs := v
	if neg {
		abs = -abs
	}

	var result []byte
	for abs > 0 {
		result = append(result, byte(abs&0xff))
		abs >>= 8
	}

	if result[len(result)-1]&0x80 != 0 {
		if neg {
			result = append(result, 0x80)
		} else {
			result = append(result, 0x00)
		}
	} else if neg {
		result[len(result)-1] |= 0x80
	}
	return result
}

// isTrue implements Bitcoin Script's boolean interpretation of a stack
// item: false iff it is empty or consists entirely of zero bytes, with the
// single exception of a trailing 0x80 (negative zero is still false).
func isTrue(b []byte) bool {
	for i, v := range b {
		if v != 0 {
			if i == len(b)-1 && v == 0x80 {
				return false
			}
			return true
		}
	}
	return false
}
