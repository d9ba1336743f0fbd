package wire

import (
	"bytes"
	"io"

	"github.com/ubsv/validationcore/errors"
	"github.com/ubsv/validationcore/primitives"
)

// HeaderSize is the fixed wire size of a block header.
const HeaderSize = 80

// BlockHeader is the 80-byte fixed-size block header.
type BlockHeader struct {
	Version        int32
	PrevBlock      primitives.Hash
	MerkleRoot     primitives.Hash
	Timestamp      uint32
	Bits           uint32
	Nonce          uint32
}

// Bytes serializes the header to its canonical 80-byte wire form.
func (h *BlockHeader) Bytes() []byte {
	buf := make([]byte, HeaderSize)
	primitives.PutUint32LE(buf[0:4], uint32(h.Version))
	copy(buf[4:36], h.PrevBlock[:])
	copy(buf[36:68], h.MerkleRoot[:])
	primitives.PutUint32LE(buf[68:72], h.Timestamp)
	primitives.PutUint32LE(buf[72:76], h.Bits)
	primitives.PutUint32LE(buf[76:80], h.Nonce)
	return buf
}

// Hash is the block hash: double-SHA-256 of the serialized header.
func (h *BlockHeader) Hash() primitives.Hash {
	return primitives.Sha256d(h.Bytes())
}

func decodeHeader(r io.Reader) (*BlockHeader, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.NewMalformed("read block header: %v", err)
	}
	h := &BlockHeader{
		Version:   int32(primitives.Uint32LE(buf[0:4])),
		Timestamp: primitives.Uint32LE(buf[68:72]),
		Bits:      primitives.Uint32LE(buf[72:76]),
		Nonce:     primitives.Uint32LE(buf[76:80]),
	}
	copy(h.PrevBlock[:], buf[4:36])
	copy(h.MerkleRoot[:], buf[36:68])
	return h, nil
}

// Block is a parsed block: its header plus every transaction in order.
// Witnesses live inline on each Tx's inputs, addressable by
// (tx_index, input_index) via Transactions[i].Inputs[j].Witness.
type Block struct {
	Header       BlockHeader
	Transactions []*Tx
}

// maxTxCount guards against a compact-size transaction count claim that
// would force an absurd allocation from a short malicious input.
const maxTxCount = 1 << 24

// DecodeBlock parses a full block: header, transaction count, then each
// transaction (legacy or witness-aware, auto-detected per transaction).
// Fails with a Malformed error on truncated input, oversize varint, or
// trailing bytes after the declared transaction count.
func DecodeBlock(data []byte) (*Block, error) {
	r := bytes.NewReader(data)

	header, err := decodeHeader(r)
	if err != nil {
		return nil, err
	}

	txCount, err := primitives.ReadVarInt(r)
	if err != nil {
		return nil, errors.NewMalformed("read tx count: %v", err)
	}
	if txCount == 0 {
		return nil, errors.NewMalformed("block declares zero transactions")
	}
	if txCount > maxTxCount {
		return nil, errors.NewMalformed("implausible tx count %d", txCount)
	}

	b := &Block{Header: *header, Transactions: make([]*Tx, txCount)}
	for i := range b.Transactions {
		tx, err := DecodeTx(r)
		if err != nil {
			return nil, err
		}
		b.Transactions[i] = tx
	}

	if r.Len() != 0 {
		return nil, errors.NewMalformed("%d trailing bytes after block", r.Len())
	}

	return b, nil
}

// Bytes serializes the block to its canonical wire form: the 80-byte
// header, the transaction count, then each transaction in order
// (witness-encoded when it carries one). The inverse of DecodeBlock.
func (b *Block) Bytes() []byte {
	var buf bytes.Buffer
	buf.Write(b.Header.Bytes())
	_ = primitives.WriteVarInt(&buf, uint64(len(b.Transactions)))
	for _, tx := range b.Transactions {
		buf.Write(tx.Bytes())
	}
	return buf.Bytes()
}

// MerkleRoot computes the merkle root over this block's txids, using
// Bitcoin's duplicate-last-element rule at each odd-width level.
func MerkleRoot(txids []primitives.Hash) primitives.Hash {
	if len(txids) == 0 {
		return primitives.Hash{}
	}
	level := make([]primitives.Hash, len(txids))
	copy(level, txids)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]primitives.Hash, len(level)/2)
		for i := range next {
			var buf [64]byte
			copy(buf[:32], level[2*i][:])
			copy(buf[32:], level[2*i+1][:])
			next[i] = primitives.Sha256d(buf[:])
		}
		level = next
	}
	return level[0]
}
