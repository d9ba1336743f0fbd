package errors

import (
	"errors"
	"fmt"
	"reflect"
)

// Kind classifies an Error by the error-handling design in spec.md §7.
// Kinds are not type names: a ConsensusInvalid error always carries a
// SubKind describing which rule was violated.
type Kind int32

const (
	KindUnknown Kind = iota
	// KindMalformed is a structural parse failure in a block, transaction,
	// or chunk frame. The current unit is abandoned; the caller continues
	// with the next one.
	KindMalformed
	// KindConsensusInvalid means a block or transaction violates a
	// consensus rule. It is reported as the unit's verdict and never
	// aborts the harness.
	KindConsensusInvalid
	// KindResourceError covers decompressor failure, I/O error, or
	// exhausted file descriptors. Aborts the current chunk only.
	KindResourceError
	// KindInvariantViolation is a checkpoint mismatch or internal UTXO
	// corruption. Fatal to the harness: it represents a bug in the
	// connector, not bad input.
	KindInvariantViolation
	// KindReferenceUnavailable means the reference node could not be
	// reached. The affected heights continue with verdict comparison
	// disabled.
	KindReferenceUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "Malformed"
	case KindConsensusInvalid:
		return "ConsensusInvalid"
	case KindResourceError:
		return "ResourceError"
	case KindInvariantViolation:
		return "InvariantViolation"
	case KindReferenceUnavailable:
		return "ReferenceUnavailable"
	default:
		return "Unknown"
	}
}

// SubKind names the specific consensus rule behind a KindConsensusInvalid
// error. Zero value is used for kinds where no sub-classification applies.
type SubKind int32

const (
	SubKindNone SubKind = iota
	SubKindBadProofOfWork
	SubKindBadMerkleRoot
	SubKindBadScript
	SubKindDoubleSpend
	SubKindMissingUTXO
	SubKindCoinbaseImmature
	SubKindOverSubsidy
	SubKindWeightExceeded
	SubKindDuplicateInput
	SubKindEmptyBlock
	SubKindBadCoinbaseHeight
	SubKindBadWitnessCommitment
)

func (s SubKind) String() string {
	switch s {
	case SubKindBadProofOfWork:
		return "bad_proof_of_work"
	case SubKindBadMerkleRoot:
		return "bad_merkle_root"
	case SubKindBadScript:
		return "bad_script"
	case SubKindDoubleSpend:
		return "double_spend"
	case SubKindMissingUTXO:
		return "missing_utxo"
	case SubKindCoinbaseImmature:
		return "coinbase_immature"
	case SubKindOverSubsidy:
		return "over_subsidy"
	case SubKindWeightExceeded:
		return "weight_exceeded"
	case SubKindDuplicateInput:
		return "duplicate_input"
	case SubKindEmptyBlock:
		return "empty_block"
	case SubKindBadCoinbaseHeight:
		return "bad_coinbase_height"
	case SubKindBadWitnessCommitment:
		return "bad_witness_commitment"
	default:
		return "none"
	}
}

// Error is the coded error type used throughout this module. It carries a
// Kind (and, for ConsensusInvalid, a SubKind), a human message, and an
// optional wrapped cause.
type Error struct {
	Kind       Kind
	SubKind    SubKind
	Message    string
	WrappedErr error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Kind == KindConsensusInvalid && e.SubKind != SubKindNone {
		if e.WrappedErr == nil {
			return fmt.Sprintf("%s(%s): %s", e.Kind, e.SubKind, e.Message)
		}
		return fmt.Sprintf("%s(%s): %s: %v", e.Kind, e.SubKind, e.Message, e.WrappedErr)
	}
	if e.WrappedErr == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.WrappedErr)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.WrappedErr
}

// Is reports whether target is an *Error with the same Kind (and, when
// relevant, SubKind). Falls through to the wrapped error otherwise.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	var other *Error
	if errors.As(target, &other) {
		if e.Kind != other.Kind {
			return false
		}
		if e.Kind == KindConsensusInvalid && other.SubKind != SubKindNone {
			return e.SubKind == other.SubKind
		}
		return true
	}
	return false
}

func (e *Error) As(target interface{}) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(**Error); ok {
		*targetErr = e
		return true
	}
	if e.WrappedErr != nil {
		if reflect.ValueOf(e.WrappedErr).IsNil() {
			return false
		}
		return errors.As(e.WrappedErr, target)
	}
	return false
}

// New builds an Error of the given kind. The final element of params may be
// an error (wrapped as the cause); remaining params are passed to
// fmt.Sprintf against message.
func New(kind Kind, message string, params ...interface{}) *Error {
	var wrapped error
	if len(params) > 0 {
		if err, ok := params[len(params)-1].(error); ok {
			wrapped = err
			params = params[:len(params)-1]
		}
	}
	if len(params) > 0 {
		message = fmt.Sprintf(message, params...)
	}
	return &Error{Kind: kind, Message: message, WrappedErr: wrapped}
}

// NewConsensusInvalid builds a KindConsensusInvalid error for the given rule.
func NewConsensusInvalid(sub SubKind, message string, params ...interface{}) *Error {
	e := New(KindConsensusInvalid, message, params...)
	e.SubKind = sub
	return e
}

func NewMalformed(message string, params ...interface{}) *Error {
	return New(KindMalformed, message, params...)
}

func NewResourceError(message string, params ...interface{}) *Error {
	return New(KindResourceError, message, params...)
}

func NewInvariantViolation(message string, params ...interface{}) *Error {
	return New(KindInvariantViolation, message, params...)
}

func NewReferenceUnavailable(message string, params ...interface{}) *Error {
	return New(KindReferenceUnavailable, message, params...)
}

func Join(errs ...error) error {
	return errors.Join(errs...)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}
