// Package harness runs the parallel differential test: Phase A replays a
// height range sequentially to build UTXO checkpoints at chunk
// boundaries, Phase B re-validates every chunk concurrently (each worker
// seeded from its own checkpoint) and compares the local verdict against
// a reference collaborator, and a final pass checks that every chunk's
// ending UTXO state agrees with the checkpoint computed for the same
// height during Phase A.
//
// Translated from the Rust reference implementation's
// generate_checkpoints/validate_chunk/run_parallel_differential, with
// chunk dispatch reshaped onto golang.org/x/sync's errgroup+semaphore
// idiom in place of tokio::spawn plus a counting semaphore.
package harness

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ubsv/validationcore/chunkreader"
	"github.com/ubsv/validationcore/connector"
	"github.com/ubsv/validationcore/errors"
	"github.com/ubsv/validationcore/observer"
	"github.com/ubsv/validationcore/reference"
	"github.com/ubsv/validationcore/utxo"
	"github.com/ubsv/validationcore/wire"
)

// Config controls how a differential run is split across workers.
// ChunkSize is the storage unit for dispatch (how many blocks one worker
// validates before reporting back), independent of chunkreader's own
// on-disk chunk-file size.
type Config struct {
	NumWorkers int
	ChunkSize  int64
}

// Source streams raw blocks, in height order, out of a chunked cache
// directory. It hides chunkreader's chunk-file boundaries from callers
// that only care about a height range: blocks before the requested start
// height are read and discarded (a streaming decompressor has no
// random-access seek), never skipped at the file level.
type Source struct {
	dir      string
	meta     *chunkreader.Metadata
	bufBytes int
}

// NewSource builds a Source over a chunked cache directory whose
// chunks.meta has already been loaded.
func NewSource(dir string, meta *chunkreader.Metadata, bufBytes int) *Source {
	return &Source{dir: dir, meta: meta, bufBytes: bufBytes}
}

// ForEachBlock calls fn once per block in [start, end], in height order,
// stopping at the first error fn returns. It opens exactly the chunk
// files the range touches, one at a time.
func (s *Source) ForEachBlock(ctx context.Context, start, end int64, fn func(height int64, raw []byte) error) error {
	lastHeight := int64(s.meta.TotalBlocks) - 1
	if end > lastHeight {
		end = lastHeight
	}
	perChunk := int64(s.meta.BlocksPerChunk)
	chunkIdx := start / perChunk
	height := chunkIdx * perChunk

	for height <= end {
		path := chunkreader.ChunkPath(s.dir, int(chunkIdx))
		r, err := chunkreader.Open(ctx, path, s.bufBytes)
		if err != nil {
			return err
		}
		readErr := s.drainChunk(r, &height, start, end, fn)
		closeErr := r.Close()
		if readErr != nil {
			return readErr
		}
		if closeErr != nil {
			return closeErr
		}
		chunkIdx++
	}
	return nil
}

func (s *Source) drainChunk(r *chunkreader.Reader, height *int64, start, end int64, fn func(height int64, raw []byte) error) error {
	for *height <= end {
		raw, err := r.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if *height >= start {
			if err := fn(*height, raw); err != nil {
				return err
			}
		}
		*height++
	}
	return nil
}

// Checkpoint is the UTXO state captured at the end of a chunk boundary
// during Phase A.
type Checkpoint struct {
	Height   int64
	Snapshot *utxo.Set
}

// GenerateCheckpoints replays [startHeight, endHeight] sequentially
// through conn, saving a UTXO snapshot after the block at every
// startHeight+k*chunkSize-1 boundary and at endHeight itself even if it doesn't land
// on one. It aborts on the first connect error of any kind: a checkpoint
// built on top of an invalid or malformed block is worthless to every
// worker seeded from it downstream.
func GenerateCheckpoints(ctx context.Context, source *Source, conn *connector.Connector, startHeight, endHeight, chunkSize int64) ([]Checkpoint, error) {
	set := utxo.New()
	estimated := int((endHeight-startHeight)/chunkSize + 1)
	checkpoints := make([]Checkpoint, 0, estimated)
	nextCheckpoint := startHeight + chunkSize

	err := source.ForEachBlock(ctx, startHeight, endHeight, func(height int64, raw []byte) error {
		block, derr := wire.DecodeBlock(raw)
		if derr != nil {
			return errors.NewMalformed("decode block at height %d: %v", height, derr)
		}
		if _, cerr := conn.Connect(block, height, set); cerr != nil {
			return cerr
		}
		if height == nextCheckpoint-1 || height == endHeight {
			checkpoints = append(checkpoints, Checkpoint{Height: height, Snapshot: set.Snapshot()})
			nextCheckpoint += chunkSize
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return checkpoints, nil
}

// BlockChunk is one unit of Phase B dispatch: a height range plus the
// UTXO state a worker should start from.
type BlockChunk struct {
	StartHeight    int64
	EndHeight      int64
	CheckpointUTXO *utxo.Set
}

// BuildChunks partitions [startHeight, endHeight] into chunkSize-sized
// ranges, seeding each from the checkpoint saved at the end of the
// previous range (the first range seeds from an empty UTXO set).
func BuildChunks(startHeight, endHeight, chunkSize int64, checkpoints []Checkpoint) []BlockChunk {
	var chunks []BlockChunk
	cur := startHeight
	checkpointIdx := 0

	for cur <= endHeight {
		end := cur + chunkSize - 1
		if end > endHeight {
			end = endHeight
		}

		var seed *utxo.Set
		switch {
		case checkpointIdx > 0 && checkpointIdx-1 < len(checkpoints):
			seed = checkpoints[checkpointIdx-1].Snapshot
		case cur == startHeight:
			seed = utxo.New()
		}

		chunks = append(chunks, BlockChunk{StartHeight: cur, EndHeight: end, CheckpointUTXO: seed})

		cur = end + 1
		if cur <= endHeight && checkpointIdx < len(checkpoints) {
			checkpointIdx++
		}
	}
	return chunks
}

// Verdict records, for one connected height, what the local connector
// decided versus what the reference collaborator reports.
type Verdict struct {
	Height    int64
	Local     string
	Reference string
}

// ChunkResult carries the Rust ChunkResult fields (the height range
// tested, how many blocks matched versus diverged, and how long the chunk
// took end to end) plus two more: Indeterminate, the number of heights
// whose reference verdict was unavailable, and FinalDigest, the digest of
// the chunk's ending UTXO set.
type ChunkResult struct {
	StartHeight   int64
	EndHeight     int64
	Tested        int
	Matched       int
	Divergences   []Verdict
	Indeterminate int
	Duration      time.Duration
	FinalDigest   [32]byte
}

const verdictValid = "valid"

func localVerdictString(err error) string {
	if err == nil {
		return verdictValid
	}
	return err.Error()
}

// ValidateChunk replays chunk's height range starting from its seed UTXO
// state, comparing the local connector's verdict against the reference
// collaborator for every height. Unlike GenerateCheckpoints, a divergent
// or invalid block does not abort the chunk — it's recorded and
// validation continues, since the point of Phase B is to enumerate every
// divergence in the range, not to stop at the first one.
func ValidateChunk(ctx context.Context, source *Source, conn *connector.Connector, ref reference.Node, chunk BlockChunk, obs observer.Observer) (*ChunkResult, error) {
	if obs == nil {
		obs = observer.Noop{}
	}
	// Work on a copy: the seed is a Phase A checkpoint that Run later
	// compares chunk results against, so it must stay unchanged.
	set := utxo.New()
	if chunk.CheckpointUTXO != nil {
		set = chunk.CheckpointUTXO.Snapshot()
	}
	assumeValid := false
	if p, ok := ref.(reference.AssumeValid); ok {
		assumeValid = p.AssumeValid()
	}

	result := &ChunkResult{StartHeight: chunk.StartHeight, EndHeight: chunk.EndHeight}
	started := time.Now()

	err := source.ForEachBlock(ctx, chunk.StartHeight, chunk.EndHeight, func(height int64, raw []byte) error {
		block, localErr := wire.DecodeBlock(raw)
		if localErr == nil {
			_, localErr = conn.Connect(block, height, set)
		}
		refVerdict, refErr := referenceVerdict(ctx, ref, assumeValid, height, block)

		result.Tested++
		switch {
		case refErr != nil:
			// Reference unreachable and not assumed valid: indeterminate,
			// neither a match nor a recorded divergence.
			result.Indeterminate++
		case (localErr == nil) == (refVerdict == verdictValid):
			result.Matched++
			obs.OnBlock(height, false)
		default:
			result.Divergences = append(result.Divergences, Verdict{
				Height:    height,
				Local:     localVerdictString(localErr),
				Reference: refVerdict,
			})
			obs.OnBlock(height, true)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(started)
	result.FinalDigest = set.Digest()
	obs.OnChunkComplete(result.StartHeight, result.EndHeight, result.Tested, result.Matched, len(result.Divergences), result.Duration)
	return result, nil
}

// referenceVerdict asks ref whether it agrees height's block is valid.
// Under the assume-valid policy the reference chain is never actually
// queried. Otherwise it is queried even when decoding already failed
// locally (block is nil), and such a block is reported as "invalid".
func referenceVerdict(ctx context.Context, ref reference.Node, assumeValid bool, height int64, block *wire.Block) (string, error) {
	if assumeValid {
		return verdictValid, nil
	}
	hash, err := ref.GetBlockHash(ctx, height)
	if err != nil {
		return "", err
	}
	raw, err := ref.GetBlockRaw(ctx, hash)
	if err != nil {
		return "", err
	}
	if block != nil && hash == block.Header.Hash() && len(raw) > 0 {
		return verdictValid, nil
	}
	return "invalid", nil
}

// DispatchChunks runs every chunk's validation concurrently, at most
// numWorkers at a time. conn is stateless beyond its arguments (spec.md
// §5) so every worker shares the same Connector safely.
func DispatchChunks(ctx context.Context, source *Source, conn *connector.Connector, ref reference.Node, chunks []BlockChunk, numWorkers int, obs observer.Observer) ([]*ChunkResult, error) {
	sem := semaphore.NewWeighted(int64(numWorkers))
	g, gctx := errgroup.WithContext(ctx)
	results := make([]*ChunkResult, len(chunks))

	for i, chunk := range chunks {
		i, chunk := i, chunk
		if err := sem.Acquire(gctx, 1); err != nil {
			return nil, err
		}
		g.Go(func() error {
			defer sem.Release(1)
			res, err := ValidateChunk(gctx, source, conn, ref, chunk, obs)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Result aggregates a complete differential run: its checkpoints, every
// chunk's outcome, and the totals rolled up across them.
type Result struct {
	RunID            string
	Checkpoints      []Checkpoint
	Chunks           []*ChunkResult
	TotalTested      int
	TotalMatched     int
	TotalDivergences int
	Duration         time.Duration
}

// Run executes the full two-phase differential test over [startHeight,
// endHeight] and checks the boundary-equality invariant: every chunk's
// ending UTXO digest must match the digest of the sequential checkpoint
// computed at that same height in Phase A. A mismatch means Phase B's
// concurrent, checkpoint-seeded replay diverged from the canonical
// sequential pass — an invariant violation, not a consensus verdict.
func Run(ctx context.Context, source *Source, conn *connector.Connector, ref reference.Node, cfg Config, startHeight, endHeight int64, obs observer.Observer) (*Result, error) {
	started := time.Now()

	checkpoints, err := GenerateCheckpoints(ctx, source, conn, startHeight, endHeight, cfg.ChunkSize)
	if err != nil {
		return nil, err
	}

	chunks := BuildChunks(startHeight, endHeight, cfg.ChunkSize, checkpoints)

	results, err := DispatchChunks(ctx, source, conn, ref, chunks, cfg.NumWorkers, obs)
	if err != nil {
		return nil, err
	}

	checkpointDigest := make(map[int64][32]byte, len(checkpoints))
	for _, cp := range checkpoints {
		checkpointDigest[cp.Height] = cp.Snapshot.Digest()
	}
	for _, res := range results {
		if want, ok := checkpointDigest[res.EndHeight]; ok && res.FinalDigest != want {
			return nil, errors.NewInvariantViolation(
				"chunk [%d-%d] final UTXO digest diverges from the sequential checkpoint at height %d",
				res.StartHeight, res.EndHeight, res.EndHeight)
		}
	}

	out := &Result{
		RunID:       uuid.New().String(),
		Checkpoints: checkpoints,
		Chunks:      results,
		Duration:    time.Since(started),
	}
	for _, res := range results {
		out.TotalTested += res.Tested
		out.TotalMatched += res.Matched
		out.TotalDivergences += len(res.Divergences)
	}
	return out, nil
}
