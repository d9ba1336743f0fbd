package harness

import (
	"bytes"
	"context"
	"encoding/binary"
	"math/big"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ubsv/validationcore/chaincfg"
	"github.com/ubsv/validationcore/chunkreader"
	"github.com/ubsv/validationcore/connector"
	"github.com/ubsv/validationcore/observer"
	"github.com/ubsv/validationcore/primitives"
	"github.com/ubsv/validationcore/reference"
	"github.com/ubsv/validationcore/script"
	"github.com/ubsv/validationcore/settings"
	"github.com/ubsv/validationcore/utxo"
	"github.com/ubsv/validationcore/wire"
)

const regtestBits = 0x207fffff

var trueLockingScript = []byte{byte(script.OP_1)}

func coinbaseWithHeight(height int64, reward int64) *wire.Tx {
	sig := []byte{0x03, byte(height), byte(height >> 8), byte(height >> 16)}
	return &wire.Tx{
		Version: 1,
		Inputs: []*wire.TxIn{{
			PreviousOutPoint: wire.OutPoint{Index: 0xffffffff},
			UnlockingScript:  sig,
			Sequence:         wire.SequenceFinal,
		}},
		Outputs:  []*wire.TxOut{{Value: reward, LockingScript: trueLockingScript}},
		LockTime: 0,
	}
}

// bitsToTarget and hashToBigInt duplicate the connector package's own
// unexported helpers: test-only proof-of-work mining needs the same
// compact-bits expansion, and the two packages aren't allowed to share
// unexported symbols across a package boundary.
func bitsToTarget(bits uint32) *big.Int {
	exponent := int(bits >> 24)
	mantissa := int64(bits & 0x007fffff)
	target := big.NewInt(mantissa)
	if exponent <= 3 {
		return target.Rsh(target, uint(8*(3-exponent)))
	}
	return target.Lsh(target, uint(8*(exponent-3)))
}

func hashToBigInt(h primitives.Hash) *big.Int {
	reversed := make([]byte, len(h))
	for i, b := range h {
		reversed[len(h)-1-i] = b
	}
	return new(big.Int).SetBytes(reversed)
}

func mineBlock(t *testing.T, txs []*wire.Tx) *wire.Block {
	t.Helper()
	txids := make([]primitives.Hash, len(txs))
	for i, tx := range txs {
		txids[i] = tx.Txid()
	}
	b := &wire.Block{
		Header: wire.BlockHeader{
			Version:    1,
			Bits:       regtestBits,
			MerkleRoot: wire.MerkleRoot(txids),
		},
		Transactions: txs,
	}
	target := bitsToTarget(regtestBits)
	for nonce := uint32(0); ; nonce++ {
		b.Header.Nonce = nonce
		if hashToBigInt(b.Header.Hash()).Cmp(target) <= 0 {
			return b
		}
		if nonce > 10000 {
			t.Fatal("failed to mine a qualifying header within 10000 nonces")
		}
	}
}

func testConnector() *connector.Connector {
	params := chaincfg.RegressionNetParams
	s := settings.Default()
	return connector.New(&params, &s.Connector, &s.Policy)
}

// chainOfHeights mines a simple coinbase-only chain of n blocks (heights
// 0..n-1) and returns each block's raw wire bytes, in height order. Each
// block is independently minimal (no prev-hash linkage is enforced by the
// connector, which validates one block at a time against a UTXO set) so
// the fixture stays simple while still exercising real consensus checks.
func chainOfHeights(t *testing.T, n int) [][]byte {
	t.Helper()
	params := chaincfg.RegressionNetParams
	raws := make([][]byte, n)
	for height := 0; height < n; height++ {
		cb := coinbaseWithHeight(int64(height), params.Subsidy(int64(height)))
		block := mineBlock(t, []*wire.Tx{cb})
		raws[height] = block.Bytes()
	}
	return raws
}

// writeChunkedCache splits raws into chunk files of blocksPerChunk blocks
// each, compresses them with the in-process zstd encoder (mirroring
// chunkreader's own test fixtures), and writes chunks.meta alongside them.
func writeChunkedCache(t *testing.T, dir string, raws [][]byte, blocksPerChunk int) *chunkreader.Metadata {
	t.Helper()
	numChunks := (len(raws) + blocksPerChunk - 1) / blocksPerChunk
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()

	for chunkIdx := 0; chunkIdx < numChunks; chunkIdx++ {
		start := chunkIdx * blocksPerChunk
		end := start + blocksPerChunk
		if end > len(raws) {
			end = len(raws)
		}
		var raw bytes.Buffer
		for _, block := range raws[start:end] {
			var lenBuf [4]byte
			binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(block)))
			raw.Write(lenBuf[:])
			raw.Write(block)
		}
		compressed := enc.EncodeAll(raw.Bytes(), nil)
		path := chunkreader.ChunkPath(dir, chunkIdx)
		if err := os.WriteFile(path, compressed, 0o644); err != nil {
			t.Fatalf("write chunk %d: %v", chunkIdx, err)
		}
	}

	meta := &chunkreader.Metadata{
		TotalBlocks:    uint64(len(raws)),
		NumChunks:      numChunks,
		BlocksPerChunk: uint64(blocksPerChunk),
		Compression:    "zstd",
	}
	content := "total_blocks=" + strconv.FormatUint(meta.TotalBlocks, 10) + "\n" +
		"num_chunks=" + strconv.Itoa(meta.NumChunks) + "\n" +
		"blocks_per_chunk=" + strconv.FormatUint(meta.BlocksPerChunk, 10) + "\n" +
		"compression=zstd\n"
	if err := os.WriteFile(filepath.Join(dir, "chunks.meta"), []byte(content), 0o644); err != nil {
		t.Fatalf("write chunks.meta: %v", err)
	}
	return meta
}

func requireZstdBinary(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("zstd"); err != nil {
		t.Skip("zstd binary not available on PATH")
	}
}

func TestForEachBlockStreamsAcrossChunkBoundaries(t *testing.T) {
	requireZstdBinary(t)
	dir := t.TempDir()
	raws := chainOfHeights(t, 6)
	meta := writeChunkedCache(t, dir, raws, 3)
	source := NewSource(dir, meta, 0)

	var seen []int64
	err := source.ForEachBlock(context.Background(), 1, 4, func(height int64, raw []byte) error {
		seen = append(seen, height)
		assert.Equal(t, raws[height], raw, "height %d: raw mismatch", height)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, seen)
}

func TestGenerateCheckpointsSavesAtChunkBoundariesAndEnd(t *testing.T) {
	requireZstdBinary(t)
	dir := t.TempDir()
	raws := chainOfHeights(t, 6)
	meta := writeChunkedCache(t, dir, raws, 6)
	source := NewSource(dir, meta, 0)
	conn := testConnector()

	checkpoints, err := GenerateCheckpoints(context.Background(), source, conn, 0, 5, 3)
	require.NoError(t, err)
	require.Len(t, checkpoints, 2, "expected 2 checkpoints (height 2 and height 5)")
	assert.Equal(t, int64(2), checkpoints[0].Height)
	assert.Equal(t, int64(5), checkpoints[1].Height)
	assert.Equal(t, 3, checkpoints[0].Snapshot.Len(), "expected 3 unspent coinbase outputs at height 2")
	assert.Equal(t, 6, checkpoints[1].Snapshot.Len(), "expected 6 unspent coinbase outputs at height 5")
}

func TestBuildChunksSeedsFromPriorCheckpoint(t *testing.T) {
	checkpoints := []Checkpoint{{Height: 2, Snapshot: utxo.New()}, {Height: 5, Snapshot: utxo.New()}}
	chunks := BuildChunks(0, 5, 3, checkpoints)
	require.Len(t, chunks, 2)
	assert.Equal(t, int64(0), chunks[0].StartHeight)
	assert.Equal(t, int64(2), chunks[0].EndHeight)
	assert.NotNil(t, chunks[0].CheckpointUTXO, "first chunk should seed from an empty UTXO set, not nil")
	assert.Equal(t, int64(3), chunks[1].StartHeight)
	assert.Equal(t, int64(5), chunks[1].EndHeight)
	assert.NotNil(t, chunks[1].CheckpointUTXO, "second chunk should seed from the first checkpoint")
}

func TestRunEndToEndMatchesUnderAssumeValidPolicy(t *testing.T) {
	requireZstdBinary(t)
	dir := t.TempDir()
	raws := chainOfHeights(t, 6)
	meta := writeChunkedCache(t, dir, raws, 3)
	source := NewSource(dir, meta, 0)
	conn := testConnector()

	result, err := Run(context.Background(), source, conn, reference.AssumeValidReferenceNode{},
		Config{NumWorkers: 2, ChunkSize: 3}, 0, 5, observer.Noop{})
	require.NoError(t, err)
	assert.Equal(t, 6, result.TotalTested)
	assert.Equal(t, 6, result.TotalMatched)
	assert.Zero(t, result.TotalDivergences)
	assert.NotEmpty(t, result.RunID, "expected a non-empty run ID")
}

func TestValidateChunkRecordsDivergenceOnLocalRejection(t *testing.T) {
	requireZstdBinary(t)
	dir := t.TempDir()
	params := chaincfg.RegressionNetParams

	good := mineBlock(t, []*wire.Tx{coinbaseWithHeight(0, params.Subsidy(0))})
	bad := mineBlock(t, []*wire.Tx{coinbaseWithHeight(1, params.Subsidy(1))})
	bad.Header.MerkleRoot = primitives.Hash{0xff}

	meta := writeChunkedCache(t, dir, [][]byte{good.Bytes(), bad.Bytes()}, 2)
	source := NewSource(dir, meta, 0)
	conn := testConnector()

	result, err := ValidateChunk(context.Background(), source, conn, reference.AssumeValidReferenceNode{},
		BlockChunk{StartHeight: 0, EndHeight: 1}, observer.Noop{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Tested)
	assert.Equal(t, 1, result.Matched)
	require.Len(t, result.Divergences, 1)
	assert.Equal(t, int64(1), result.Divergences[0].Height)
}

func TestValidateChunkWithNullReferenceNodeIsIndeterminate(t *testing.T) {
	requireZstdBinary(t)
	dir := t.TempDir()
	raws := chainOfHeights(t, 2)
	meta := writeChunkedCache(t, dir, raws, 2)
	source := NewSource(dir, meta, 0)
	conn := testConnector()

	result, err := ValidateChunk(context.Background(), source, conn, reference.NullReferenceNode{},
		BlockChunk{StartHeight: 0, EndHeight: 1}, observer.Noop{})
	require.NoError(t, err)
	assert.Zero(t, result.Matched, "expected no matches when the reference is unreachable")
	assert.Empty(t, result.Divergences, "expected no divergences when the reference is unreachable")
	assert.Equal(t, 2, result.Indeterminate, "expected both blocks marked indeterminate")
	assert.Equal(t, 2, result.Tested)
}
