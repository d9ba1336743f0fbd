// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chaincfg carries the per-network consensus parameters the
// connector and validator are parameterized over: genesis hash, proof-of-work
// limit, subsidy schedule, and the soft-fork activation heights referenced
// throughout the connector's rule checks.
package chaincfg

import (
	"math/big"

	"github.com/ubsv/validationcore/primitives"
)

var bigOne = big.NewInt(1)

// mainPowLimit is 2^224 - 1, the loosest proof-of-work target on mainnet.
var mainPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 224), bigOne)

// regressionPowLimit is 2^255 - 1: regtest blocks are trivially mined.
var regressionPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 255), bigOne)

// Params defines the consensus parameters for a single network.
type Params struct {
	Name string

	GenesisHash primitives.Hash
	PowLimit    *big.Int

	// Soft-fork activation heights.
	BIP0034Height int32 // height-in-coinbase becomes mandatory
	BIP0065Height int32 // OP_CHECKLOCKTIMEVERIFY
	BIP0066Height int32 // strict DER signatures
	BIP0068Height int32 // relative lock-time (nSequence)
	BIP0112Height int32 // OP_CHECKSEQUENCEVERIFY
	BIP0113Height int32 // median-time-past for lock-time comparisons
	BIP0141Height int32 // segregated witness
	BIP0125Height int32 // opt-in replace-by-fee (mempool policy, not consensus)

	CoinbaseMaturity         int64
	SubsidyReductionInterval int64
	MaxSubsidySatoshis       int64 // subsidy at height 0, in satoshis
	MaxMoneySatoshis         int64 // total spendable supply ceiling

	// MaxBlockWeight/MaxBlockSigops are consensus, unlike the policy
	// knobs in settings.PolicySettings that bound accepted-into-mempool
	// transactions.
	MaxBlockWeight int64
	MaxBlockSigops int64
}

// MainNetParams are Bitcoin mainnet's consensus parameters.
var MainNetParams = Params{
	Name:     "mainnet",
	PowLimit: mainPowLimit,

	BIP0034Height: 227836,
	BIP0065Height: 388381,
	BIP0066Height: 363725,
	BIP0068Height: 419328,
	BIP0112Height: 419328,
	BIP0113Height: 419328,
	BIP0141Height: 481824,
	BIP0125Height: 0, // policy-only, active node-wide from genesis

	CoinbaseMaturity:         100,
	SubsidyReductionInterval: 210000,
	MaxSubsidySatoshis:       50 * 1e8,
	MaxMoneySatoshis:         21000000 * 1e8,

	MaxBlockWeight: 4000000,
	MaxBlockSigops: 80000,
}

// TestNetParams are testnet3's consensus parameters.
var TestNetParams = Params{
	Name:     "testnet3",
	PowLimit: mainPowLimit,

	BIP0034Height: 21111,
	BIP0065Height: 581885,
	BIP0066Height: 330776,
	BIP0068Height: 770112,
	BIP0112Height: 770112,
	BIP0113Height: 770112,
	BIP0141Height: 834624,

	CoinbaseMaturity:         100,
	SubsidyReductionInterval: 210000,
	MaxSubsidySatoshis:       50 * 1e8,
	MaxMoneySatoshis:         21000000 * 1e8,

	MaxBlockWeight: 4000000,
	MaxBlockSigops: 80000,
}

// RegressionNetParams activate every soft-fork from genesis, which is what
// the differential harness uses against locally generated fixture chains.
var RegressionNetParams = Params{
	Name:     "regtest",
	PowLimit: regressionPowLimit,

	BIP0034Height: 0,
	BIP0065Height: 0,
	BIP0066Height: 0,
	BIP0068Height: 0,
	BIP0112Height: 0,
	BIP0113Height: 0,
	BIP0141Height: 0,

	CoinbaseMaturity:         100,
	SubsidyReductionInterval: 150,
	MaxSubsidySatoshis:       50 * 1e8,
	MaxMoneySatoshis:         21000000 * 1e8,

	MaxBlockWeight: 4000000,
	MaxBlockSigops: 80000,
}

// Subsidy returns the block reward at height, applying the halving schedule.
// Mirrors Bitcoin Core's GetBlockSubsidy: the reward halves every
// SubsidyReductionInterval blocks and floors to zero after 64 halvings.
func (p *Params) Subsidy(height int64) int64 {
	halvings := height / p.SubsidyReductionInterval
	if halvings >= 64 {
		return 0
	}
	return p.MaxSubsidySatoshis >> uint(halvings)
}
