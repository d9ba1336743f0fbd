// Package mempool implements unconfirmed-transaction acceptance, including
// BIP125 opt-in replace-by-fee: a conflicting transaction may only replace
// the one(s) it conflicts with when each of those signals replaceability
// itself, and the replacement pays a higher absolute fee and feerate and
// doesn't pull in unconfirmed inputs the conflicts didn't already depend on.
// Replaceability inherited from an unconfirmed ancestor is not recognized.
package mempool

import (
	"sync"

	"github.com/ubsv/validationcore/errors"
	"github.com/ubsv/validationcore/primitives"
	"github.com/ubsv/validationcore/script"
	"github.com/ubsv/validationcore/settings"
	"github.com/ubsv/validationcore/utxo"
	"github.com/ubsv/validationcore/validator"
	"github.com/ubsv/validationcore/wire"
)

// maxReplacementConflicts bounds how many directly conflicting transactions
// a single replacement may evict (BIP125 rule 5). Only direct conflicts are
// counted; their in-mempool descendants are evicted along with them without
// counting toward this bound.
const maxReplacementConflicts = 100

// Entry is one transaction resident in the mempool.
type Entry struct {
	Tx       *wire.Tx
	Txid     primitives.Hash
	Fee      int64 // absolute fee in satoshis
	Size     int   // serialized size in bytes
	Children map[primitives.Hash]struct{}
}

func (e *Entry) feeRate() float64 { return float64(e.Fee) / float64(e.Size) }

// isReplaceable reports whether tx opts into BIP125 replacement: at least
// one of its inputs carries a sequence number below SequenceFinal-1.
func isReplaceable(tx *wire.Tx) bool {
	for _, in := range tx.Inputs {
		if in.Sequence < wire.SequenceFinal-1 {
			return true
		}
	}
	return false
}

// Mempool tracks unconfirmed transactions keyed by txid and indexes which
// outpoints they spend, to detect conflicts in O(1).
type Mempool struct {
	mu       sync.RWMutex
	byTxid   map[primitives.Hash]*Entry
	byOutput map[wire.OutPoint]primitives.Hash
	policy   *settings.PolicySettings
}

func New(policy *settings.PolicySettings) *Mempool {
	return &Mempool{
		byTxid:   make(map[primitives.Hash]*Entry),
		byOutput: make(map[wire.OutPoint]primitives.Hash),
		policy:   policy,
	}
}

func (m *Mempool) Get(txid primitives.Hash) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byTxid[txid]
	return e, ok
}

func (m *Mempool) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byTxid)
}

// AcceptToMemoryPool runs the full unconfirmed-transaction admission
// pipeline: standardness (IsStandardTx), inputs-available against the
// mempool-or-UTXO view, full script verification under the mempool's
// standard flag set, and the minimum relay feerate, before falling through
// to Accept's duplicate/conflict/BIP125-replacement handling. set is the
// confirmed UTXO view at the chain tip; v is the shared validator (reuse the
// connector's instance to share its signature cache across mempool and
// block-connection passes).
func (m *Mempool) AcceptToMemoryPool(tx *wire.Tx, set *utxo.Set, v *validator.Validator) ([]primitives.Hash, error) {
	txid := tx.Txid()

	if err := v.IsStandardTx(tx); err != nil {
		return nil, err
	}

	inputs := make([]utxo.Coin, len(tx.Inputs))
	for i, in := range tx.Inputs {
		coin, ok := m.resolveCoin(in.PreviousOutPoint, set)
		if !ok {
			return nil, errors.NewConsensusInvalid(errors.SubKindMissingUTXO, "tx %s spends unknown or already-spent output %s:%d", txid, in.PreviousOutPoint.Hash, in.PreviousOutPoint.Index)
		}
		inputs[i] = coin
	}

	if err := v.ValidateTransaction(tx, inputs, validator.Options{}); err != nil {
		return nil, err
	}
	if err := v.ValidateScripts(tx, inputs, script.StandardFlags); err != nil {
		return nil, err
	}

	var totalIn, totalOut int64
	for _, c := range inputs {
		totalIn += c.Value
	}
	for _, out := range tx.Outputs {
		totalOut += out.Value
	}

	return m.Accept(tx, txid, totalIn-totalOut)
}

// resolveCoin looks up the coin an input spends: first as an unconfirmed
// ancestor's output already resident in the mempool, falling back to the
// confirmed UTXO set.
func (m *Mempool) resolveCoin(op wire.OutPoint, set *utxo.Set) (utxo.Coin, bool) {
	if parent, ok := m.Get(op.Hash); ok {
		if int(op.Index) >= len(parent.Tx.Outputs) {
			return utxo.Coin{}, false
		}
		out := parent.Tx.Outputs[op.Index]
		return utxo.Coin{Value: out.Value, LockingScript: out.LockingScript}, true
	}
	return set.Get(op)
}

// Accept adds tx to the mempool, resolving any BIP125 replacement against
// conflicting transactions. fee is the already-computed absolute fee in
// satoshis. It assumes the caller has already established standardness,
// input availability, script validity, and feerate (AcceptToMemoryPool does
// this); Accept only arbitrates conflicts between already-valid candidates.
// Returns the txids of the directly conflicting transactions evicted to make
// room for tx (empty if tx simply occupied previously-unspent outpoints);
// their in-mempool descendants are removed as well but are not listed.
func (m *Mempool) Accept(tx *wire.Tx, txid primitives.Hash, fee int64) ([]primitives.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byTxid[txid]; exists {
		return nil, errors.NewConsensusInvalid(errors.SubKindDuplicateInput, "transaction %s already in mempool", txid)
	}

	conflicts := m.conflictsLocked(tx, txid)
	if len(conflicts) == 0 {
		m.insertLocked(tx, txid, fee)
		return nil, nil
	}

	if !m.policy.EnableReplacement {
		return nil, errors.NewConsensusInvalid(errors.SubKindDoubleSpend, "transaction conflicts with %d mempool transactions and replacement is disabled", len(conflicts))
	}

	if err := m.checkReplacementLocked(tx, txid, fee, conflicts); err != nil {
		return nil, err
	}

	evicted := make([]primitives.Hash, 0, len(conflicts))
	for id := range conflicts {
		m.removeLocked(id)
		evicted = append(evicted, id)
	}
	m.insertLocked(tx, txid, fee)
	return evicted, nil
}

// conflictsLocked returns every mempool transaction that spends an outpoint
// tx also spends, keyed by their own txid (callers must hold m.mu).
func (m *Mempool) conflictsLocked(tx *wire.Tx, txid primitives.Hash) map[primitives.Hash]struct{} {
	conflicts := make(map[primitives.Hash]struct{})
	for _, in := range tx.Inputs {
		if owner, ok := m.byOutput[in.PreviousOutPoint]; ok && owner != txid {
			conflicts[owner] = struct{}{}
		}
	}
	return conflicts
}

// checkReplacementLocked implements BIP125 rules 1-5.
func (m *Mempool) checkReplacementLocked(tx *wire.Tx, txid primitives.Hash, fee int64, conflicts map[primitives.Hash]struct{}) error {
	for id := range conflicts {
		if e, ok := m.byTxid[id]; ok && !isReplaceable(e.Tx) {
			return errors.NewConsensusInvalid(errors.SubKindDoubleSpend, "conflicting transaction %s did not signal replaceability", id)
		}
	}

	if len(conflicts) > maxReplacementConflicts {
		return errors.NewConsensusInvalid(errors.SubKindDoubleSpend, "replacement would evict more than %d transactions", maxReplacementConflicts)
	}

	conflictParents := make(map[primitives.Hash]struct{})
	var totalConflictFee int64
	for id := range conflicts {
		e := m.byTxid[id]
		totalConflictFee += e.Fee
		for _, in := range e.Tx.Inputs {
			conflictParents[in.PreviousOutPoint.Hash] = struct{}{}
		}
	}

	// Rule 3: the replacement must not introduce a new unconfirmed input
	// that none of the conflicting transactions already depended on.
	for _, in := range tx.Inputs {
		if _, unconfirmed := m.byTxid[in.PreviousOutPoint.Hash]; !unconfirmed {
			continue
		}
		if _, alreadyParent := conflictParents[in.PreviousOutPoint.Hash]; !alreadyParent {
			return errors.NewConsensusInvalid(errors.SubKindDoubleSpend, "replacement spends a new unconfirmed input")
		}
	}

	// Rule 4 & 2: absolute fee and feerate must both increase.
	if fee <= totalConflictFee {
		return errors.NewConsensusInvalid(errors.SubKindDoubleSpend, "replacement does not pay a higher absolute fee")
	}
	size := len(tx.Bytes())
	newFeeRate := float64(fee) / float64(size)
	for id := range conflicts {
		if newFeeRate <= m.byTxid[id].feeRate() {
			return errors.NewConsensusInvalid(errors.SubKindDoubleSpend, "replacement does not pay a higher feerate than %s", id)
		}
	}

	// Rule: the additional fee must cover the relay cost of the replacement
	// itself at the policy's minimum relay rate.
	extraFee := fee - totalConflictFee
	minIncrementalFee := float64(m.policy.MinRelayFeeRate) * float64(size)
	if float64(extraFee) < minIncrementalFee {
		return errors.NewConsensusInvalid(errors.SubKindDoubleSpend, "replacement fee increase does not cover relay cost")
	}

	return nil
}

func (m *Mempool) insertLocked(tx *wire.Tx, txid primitives.Hash, fee int64) {
	e := &Entry{Tx: tx, Txid: txid, Fee: fee, Size: len(tx.Bytes()), Children: make(map[primitives.Hash]struct{})}
	m.byTxid[txid] = e
	for _, in := range tx.Inputs {
		m.byOutput[in.PreviousOutPoint] = txid
		if parent, ok := m.byTxid[in.PreviousOutPoint.Hash]; ok {
			parent.Children[txid] = struct{}{}
		}
	}
}

func (m *Mempool) removeLocked(txid primitives.Hash) {
	e, ok := m.byTxid[txid]
	if !ok {
		return
	}
	for child := range e.Children {
		m.removeLocked(child)
	}
	for _, in := range e.Tx.Inputs {
		if owner, ok := m.byOutput[in.PreviousOutPoint]; ok && owner == txid {
			delete(m.byOutput, in.PreviousOutPoint)
		}
	}
	delete(m.byTxid, txid)
}

// Remove evicts txid and every mempool transaction descending from it (used
// when a block confirms a conflicting spend).
func (m *Mempool) Remove(txid primitives.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(txid)
}
