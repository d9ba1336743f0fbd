package chunkreader

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireZstdBinary(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("zstd"); err != nil {
		t.Skip("zstd binary not available on PATH")
	}
}

// writeChunkFixture builds a .zst file containing the given frames
// (length-prefixed the way a real chunk file is), using the in-process
// zstd encoder so the test never depends on a zstd binary to author
// fixtures — only Reader's decode path shells out.
func writeChunkFixture(t *testing.T, path string, frames [][]byte) {
	t.Helper()
	var raw bytes.Buffer
	for _, f := range frames {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(f)))
		raw.Write(lenBuf[:])
		raw.Write(f)
	}

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	compressed := enc.EncodeAll(raw.Bytes(), nil)

	require.NoError(t, os.WriteFile(path, compressed, 0o644))
}

func TestLoadMetadataParsesKeyValueFile(t *testing.T) {
	dir := t.TempDir()
	content := "# comment\ntotal_blocks=500\nnum_chunks=2\nblocks_per_chunk=250\ncompression=zstd\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chunks.meta"), []byte(content), 0o644))

	m, err := LoadMetadata(dir)
	require.NoError(t, err)
	assert.EqualValues(t, 500, m.TotalBlocks)
	assert.Equal(t, 2, m.NumChunks)
	assert.EqualValues(t, 250, m.BlocksPerChunk)
	assert.Equal(t, "zstd", m.Compression)
}

func TestLoadMetadataMissingFileReturnsNil(t *testing.T) {
	dir := t.TempDir()
	m, err := LoadMetadata(dir)
	require.NoError(t, err)
	assert.Nil(t, m, "expected nil metadata for missing chunks.meta")
}

func TestLoadMetadataRejectsIncompleteFile(t *testing.T) {
	dir := t.TempDir()
	content := "total_blocks=500\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chunks.meta"), []byte(content), 0o644))

	_, err := LoadMetadata(dir)
	assert.Error(t, err, "expected error for chunks.meta missing required keys")
}

func TestReaderStreamsFramesInOrder(t *testing.T) {
	requireZstdBinary(t)
	dir := t.TempDir()
	path := ChunkPath(dir, 0)

	frameA := bytes.Repeat([]byte{0xAA}, minFrameLen)
	frameB := bytes.Repeat([]byte{0xBB}, minFrameLen+10)
	writeChunkFixture(t, path, [][]byte{frameA, frameB})

	r, err := Open(context.Background(), path, 0)
	require.NoError(t, err)
	defer r.Close()

	got1, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, frameA, got1, "first frame mismatch")

	got2, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, frameB, got2, "second frame mismatch")

	_, err = r.Next()
	assert.Error(t, err, "expected EOF after the last frame")
}

func TestReaderRejectsUndersizedFrame(t *testing.T) {
	requireZstdBinary(t)
	dir := t.TempDir()
	path := ChunkPath(dir, 0)
	writeChunkFixture(t, path, [][]byte{{0x01, 0x02}})

	r, err := Open(context.Background(), path, 0)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	assert.Error(t, err, "expected rejection of a frame shorter than minFrameLen")
}

func TestReaderCloseReapsChildProcess(t *testing.T) {
	requireZstdBinary(t)
	dir := t.TempDir()
	path := ChunkPath(dir, 0)
	writeChunkFixture(t, path, [][]byte{bytes.Repeat([]byte{0xCC}, minFrameLen)})

	r, err := Open(context.Background(), path, 0)
	require.NoError(t, err)

	_, err = r.Next()
	require.NoError(t, err)
	assert.NoError(t, r.Close())
}
