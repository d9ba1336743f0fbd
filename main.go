package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ubsv/validationcore/chaincfg"
	"github.com/ubsv/validationcore/chunkreader"
	"github.com/ubsv/validationcore/connector"
	"github.com/ubsv/validationcore/harness"
	"github.com/ubsv/validationcore/observer"
	"github.com/ubsv/validationcore/reference"
	"github.com/ubsv/validationcore/settings"
	"github.com/ubsv/validationcore/ulogger"
)

// progname is the command name, also passed to settings.Load (which does not
// use it as a namespace: every key is read from gocore's global config).
const progname = "validationcore"

var (
	chunkDir    string
	network     string
	startHeight int64
	endHeight   int64
	numWorkers  int
	chunkSize   int64
	assumeValid bool
	metricsAddr string
	logLevel    string
)

func main() {
	root := &cobra.Command{
		Use:   progname,
		Short: "validationcore runs the parallel differential test over a chunked block cache",
		Long: `validationcore replays a chunked on-disk block cache through the
consensus connector, twice: once sequentially to build UTXO checkpoints,
then again with concurrent workers seeded from those checkpoints, and
reports every height where the local verdict disagrees with a reference
collaborator.`,
		RunE: runDifferential,
	}

	root.Flags().StringVar(&chunkDir, "chunk-dir", "", "directory containing chunks.meta and chunk_<i>.bin.zst (required)")
	root.Flags().StringVar(&network, "network", "regtest", "network parameters: mainnet, testnet, or regtest")
	root.Flags().Int64Var(&startHeight, "start-height", 0, "first height to validate")
	root.Flags().Int64Var(&endHeight, "end-height", -1, "last height to validate (default: the cache's last block)")
	root.Flags().IntVar(&numWorkers, "workers", 0, "concurrent chunk workers (default: settings.HarnessWorkers)")
	root.Flags().Int64Var(&chunkSize, "chunk-size", 0, "blocks per dispatched chunk (default: settings.HarnessChunkSize)")
	root.Flags().BoolVar(&assumeValid, "assume-valid", true, "treat every locally-accepted block as matching the reference when none is configured")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090) for the run's duration")
	root.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, or error")
	_ = root.MarkFlagRequired("chunk-dir")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDifferential(cmd *cobra.Command, args []string) error {
	logger := ulogger.New(progname, logLevel, true)

	params, err := networkParams(network)
	if err != nil {
		return err
	}

	s := settings.Load(progname)
	if numWorkers > 0 {
		s.Connector.HarnessWorkers = numWorkers
	}
	if chunkSize > 0 {
		s.Connector.HarnessChunkSize = chunkSize
	}

	meta, err := chunkreader.LoadMetadata(chunkDir)
	if err != nil {
		return fmt.Errorf("load chunk metadata: %w", err)
	}
	if endHeight < 0 {
		endHeight = int64(meta.TotalBlocks) - 1
	}

	obs, stopMetrics := buildObserver(logger)
	defer stopMetrics()

	source := harness.NewSource(chunkDir, meta, s.Connector.ChunkReaderBufBytes)
	conn := connector.New(params, &s.Connector, &s.Policy)

	var ref reference.Node
	if assumeValid {
		ref = reference.AssumeValidReferenceNode{}
	} else {
		ref = reference.NullReferenceNode{}
	}

	logger.Infof("starting differential run: heights [%d, %d], %d workers, chunk size %d",
		startHeight, endHeight, s.Connector.HarnessWorkers, s.Connector.HarnessChunkSize)

	started := time.Now()
	result, err := harness.Run(context.Background(), source, conn, ref,
		harness.Config{NumWorkers: s.Connector.HarnessWorkers, ChunkSize: s.Connector.HarnessChunkSize},
		startHeight, endHeight, obs)
	if err != nil {
		return fmt.Errorf("differential run: %w", err)
	}

	logger.Infof("run %s complete in %s: %d/%d matched, %d divergences across %d chunks",
		result.RunID, time.Since(started), result.TotalMatched, result.TotalTested,
		result.TotalDivergences, len(result.Chunks))

	for _, chunk := range result.Chunks {
		for _, v := range chunk.Divergences {
			logger.Warnf("divergence at height %d: local=%q reference=%q", v.Height, v.Local, v.Reference)
		}
	}

	if result.TotalDivergences > 0 {
		os.Exit(1)
	}
	return nil
}

func networkParams(name string) (*chaincfg.Params, error) {
	switch name {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q (want mainnet, testnet, or regtest)", name)
	}
}

// buildObserver wires a Prometheus sink when --metrics-addr is set, or a
// Noop otherwise. The returned stop func shuts down the metrics server, if
// one was started.
func buildObserver(logger ulogger.Logger) (observer.Observer, func()) {
	if metricsAddr == "" {
		return observer.Noop{}, func() {}
	}

	reg := prometheus.NewRegistry()
	obs := observer.NewPrometheus(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("metrics server: %v", err)
		}
	}()

	return obs, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
