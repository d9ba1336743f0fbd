package utxo

import "github.com/ubsv/validationcore/wire"

// UndoEntry records one removed-or-added coin so a block's effect on a Set
// can be exactly reversed. Spent=true records a coin that Connector.Connect
// removed (undo must re-Insert it); Spent=false records an outpoint it added
// (undo must Remove it).
type UndoEntry struct {
	OutPoint wire.OutPoint
	Coin     Coin // only meaningful when Spent
	Spent    bool
}

// UndoLog is the ordered sequence of changes a single Connector.Connect call
// made to a Set, in application order.
type UndoLog []UndoEntry

// Apply reverses every entry in the log against s, in reverse order (last
// change undone first), restoring s to its pre-Connect state.
//
// Per the boundary-equality invariant, applying the full undo log of a
// successful Connect to the resulting set must reproduce the original
// set exactly under canonical serialization.
func (log UndoLog) Apply(s *Set) error {
	for i := len(log) - 1; i >= 0; i-- {
		e := log[i]
		if e.Spent {
			if err := s.Insert(e.OutPoint, e.Coin); err != nil {
				return err
			}
		} else {
			s.Remove(e.OutPoint)
		}
	}
	return nil
}
