// Package settings provides struct-tag-driven configuration for the
// validation core, loaded from github.com/ordishs/gocore's config accessor.
package settings

import (
	"github.com/ordishs/gocore"
)

// PolicySettings holds the mempool-acceptance policy knobs. These are
// policy, not consensus: a block containing a transaction that violates
// one of these is still accepted if proof-of-work and consensus rules
// check out. Only the consensus rules enforced by connector/validator are
// non-configurable.
type PolicySettings struct {
	MaxTxSizePolicy       int   `key:"policy_max_tx_size" default:"100000" desc:"reject mempool transactions larger than this many bytes"`
	MaxScriptSizePolicy   int   `key:"policy_max_script_size" default:"10000" desc:"reject scripts larger than this many bytes"`
	MaxOpsPerScriptPolicy int64 `key:"policy_max_ops_per_script" default:"201" desc:"signature-operation budget per transaction (CHECKMULTISIG counts as 20)"`
	MaxOrphanTxSize       int   `key:"policy_max_orphan_tx_size" default:"100000" desc:"maximum size of a transaction held in the orphan pool"`
	MinRelayFeeRate       int64 `key:"policy_min_relay_fee_rate" default:"1" desc:"minimum fee in satoshis per byte accepted into the mempool"`
	MaxMempoolAncestors   int   `key:"policy_max_mempool_ancestors" default:"25" desc:"maximum number of in-mempool ancestors a transaction may have"`
	MaxMempoolDescendants int   `key:"policy_max_mempool_descendants" default:"25" desc:"maximum number of in-mempool descendants a transaction may have"`
	EnableReplacement     bool  `key:"policy_enable_replacement" default:"true" desc:"honor BIP125 opt-in replace-by-fee"`
	DustRelayFeeRate      int64 `key:"policy_dust_relay_fee_rate" default:"3" desc:"fee rate used to compute the dust threshold for an output"`
	SigCacheMaxEntries    uint  `key:"policy_sig_cache_max_entries" default:"100000" desc:"verified-signature cache size; 0 disables memoization"`
}

// ConnectorSettings controls resource limits used by the block connector
// and the harness, independent of consensus (these bound memory/CPU, they
// never change the accept/reject verdict). MaxBlockWeight, MaxBlockSigops
// and CoinbaseMaturity mirror the consensus values in chaincfg.Params; the
// connector enforces the chaincfg.Params values, not these.
type ConnectorSettings struct {
	MaxBlockWeight      int64 `key:"connector_max_block_weight" default:"4000000" desc:"consensus block weight limit (BIP141 units)"`
	MaxBlockSigops      int64 `key:"connector_max_block_sigops" default:"80000" desc:"consensus sigop budget per block"`
	CoinbaseMaturity    int64 `key:"connector_coinbase_maturity" default:"100" desc:"blocks before a coinbase output is spendable"`
	ChunkReaderBufBytes int   `key:"chunkreader_buf_bytes" default:"134217728" desc:"buffered reader size placed in front of the zstd child process stdout"`
	HarnessWorkers      int   `key:"harness_workers" default:"4" desc:"number of concurrent chunk validation workers"`
	HarnessChunkSize    int64 `key:"harness_chunk_size" default:"2000" desc:"number of blocks validated per dispatched chunk"`
}

// Settings aggregates every configurable knob consumed by this module.
type Settings struct {
	Policy    PolicySettings
	Connector ConnectorSettings
}

// Load reads every tagged field from gocore's process-wide config context,
// falling back to the struct-tag default when the key is absent. context is
// accepted but not used: keys are looked up without any namespace prefix.
func Load(context string) *Settings {
	s := &Settings{}
	loadStruct(context, &s.Policy)
	loadStruct(context, &s.Connector)
	return s
}

func loadStruct(context string, v interface{}) {
	switch p := v.(type) {
	case *PolicySettings:
		p.MaxTxSizePolicy = gocore.Config().GetInt("policy_max_tx_size", 100000)
		p.MaxScriptSizePolicy = gocore.Config().GetInt("policy_max_script_size", 10000)
		p.MaxOpsPerScriptPolicy = int64(gocore.Config().GetInt("policy_max_ops_per_script", 201))
		p.MaxOrphanTxSize = gocore.Config().GetInt("policy_max_orphan_tx_size", 100000)
		p.MinRelayFeeRate = int64(gocore.Config().GetInt("policy_min_relay_fee_rate", 1))
		p.MaxMempoolAncestors = gocore.Config().GetInt("policy_max_mempool_ancestors", 25)
		p.MaxMempoolDescendants = gocore.Config().GetInt("policy_max_mempool_descendants", 25)
		p.EnableReplacement = gocore.Config().GetBool("policy_enable_replacement", true)
		p.DustRelayFeeRate = int64(gocore.Config().GetInt("policy_dust_relay_fee_rate", 3))
		p.SigCacheMaxEntries = uint(gocore.Config().GetInt("policy_sig_cache_max_entries", 100000))
	case *ConnectorSettings:
		p.MaxBlockWeight = int64(gocore.Config().GetInt("connector_max_block_weight", 4000000))
		p.MaxBlockSigops = int64(gocore.Config().GetInt("connector_max_block_sigops", 80000))
		p.CoinbaseMaturity = int64(gocore.Config().GetInt("connector_coinbase_maturity", 100))
		p.ChunkReaderBufBytes = gocore.Config().GetInt("chunkreader_buf_bytes", 128*1024*1024)
		p.HarnessWorkers = gocore.Config().GetInt("harness_workers", 4)
		p.HarnessChunkSize = int64(gocore.Config().GetInt("harness_chunk_size", 2000))
	}
}

// Default returns a Settings populated purely from struct-tag defaults,
// bypassing gocore. Used by tests that don't want a config file on disk.
func Default() *Settings {
	return &Settings{
		Policy: PolicySettings{
			MaxTxSizePolicy:       100000,
			MaxScriptSizePolicy:   10000,
			MaxOpsPerScriptPolicy: 201,
			MaxOrphanTxSize:       100000,
			MinRelayFeeRate:       1,
			MaxMempoolAncestors:   25,
			MaxMempoolDescendants: 25,
			EnableReplacement:     true,
			DustRelayFeeRate:      3,
			SigCacheMaxEntries:    100000,
		},
		Connector: ConnectorSettings{
			MaxBlockWeight:      4000000,
			MaxBlockSigops:      80000,
			CoinbaseMaturity:    100,
			ChunkReaderBufBytes: 128 * 1024 * 1024,
			HarnessWorkers:      4,
			HarnessChunkSize:    2000,
		},
	}
}
