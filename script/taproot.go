package script

import "github.com/ubsv/validationcore/errors"

// annexTag marks the optional final witness item (BIP341) that carries no
// spending authority and is excluded from key-path signature verification.
const annexTag = 0x50

// evalTaprootKeyPath implements BIP341 key-path spending only: a single
// Schnorr signature over the 32-byte x-only output key. Script-path spends
// (control block + tapscript, BIP342's OP_CHECKSIGADD family) are not
// implemented.
func evalTaprootKeyPath(program []byte, witness [][]byte, checker SignatureChecker) error {
	items := witness
	if len(items) > 0 && len(items[len(items)-1]) > 0 && items[len(items)-1][0] == annexTag {
		items = items[:len(items)-1]
	}
	if len(items) != 1 {
		return errors.NewConsensusInvalid(errors.SubKindBadScript, "taproot key-path spend requires exactly one signature item")
	}
	sig := items[0]
	if len(sig) != 64 && len(sig) != 65 {
		return errors.NewConsensusInvalid(errors.SubKindBadScript, "invalid taproot signature length %d", len(sig))
	}
	ok, err := checker.CheckSig(sig, program, nil)
	if err != nil {
		return errors.NewConsensusInvalid(errors.SubKindBadScript, "taproot signature check error: %v", err)
	}
	if !ok {
		return errors.NewConsensusInvalid(errors.SubKindBadScript, "taproot key-path signature verification failed")
	}
	return nil
}
