// Package model holds the error taxonomy of the DAG consensus core.
// Benign protocol conditions (missing parents, stale nodes, insufficient
// voting power) are typed errors that callers handle locally; they never
// propagate through the public API as failures.
package model

import (
	"errors"
	"fmt"

	"github.com/dagbft/dagbft/model/dag"
)

var (
	// ErrInvalidSignature means a signature failed cryptographic verification.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrOrderedChannelClosed means the downstream execution sink is gone.
	// Fatal to the emitting task; the anchor's commit notification is lost.
	ErrOrderedChannelClosed = errors.New("ordered blocks channel is closed")
)

// MissingParentsError indicates a certified node cites parents that are not
// all present in the DAG store. Protocol-retryable: the caller schedules an
// asynchronous fetch of the missing history and retries insertion.
type MissingParentsError struct {
	Node    dag.NodeMetadata
	Missing dag.IdentifierList
}

func NewMissingParentsError(node dag.NodeMetadata, missing dag.IdentifierList) error {
	return MissingParentsError{Node: node, Missing: missing}
}

func (e MissingParentsError) Error() string {
	return fmt.Sprintf("node %v at round %d cites %d missing parents", e.Node.Digest, e.Node.Round, len(e.Missing))
}

// IsMissingParentsError returns whether err is a MissingParentsError.
func IsMissingParentsError(err error) bool {
	var e MissingParentsError
	return errors.As(err, &e)
}

// AsMissingParentsError performs a checked type cast to MissingParentsError.
func AsMissingParentsError(err error) (*MissingParentsError, bool) {
	var e MissingParentsError
	if errors.As(err, &e) {
		return &e, true
	}
	return nil, false
}

// StaleNodeError indicates a node's round has dropped below the retained
// window. The node is silently dropped; the next prune cycle cleans up any
// partial state.
type StaleNodeError struct {
	Round       uint64
	LowestRound uint64
}

func NewStaleNodeErrorf(round uint64, lowestRound uint64) error {
	return StaleNodeError{Round: round, LowestRound: lowestRound}
}

func (e StaleNodeError) Error() string {
	return fmt.Sprintf("node round %d is below the retained window (lowest round %d)", e.Round, e.LowestRound)
}

// IsStaleNodeError returns whether err is a StaleNodeError.
func IsStaleNodeError(err error) bool {
	var e StaleNodeError
	return errors.As(err, &e)
}

// InvalidSignerError indicates a vote or signature from an author that is not
// a member of the epoch's validator set.
type InvalidSignerError struct {
	err error
}

func NewInvalidSignerError(err error) error {
	return InvalidSignerError{err}
}

func NewInvalidSignerErrorf(msg string, args ...interface{}) error {
	return InvalidSignerError{fmt.Errorf(msg, args...)}
}

func (e InvalidSignerError) Error() string { return e.err.Error() }
func (e InvalidSignerError) Unwrap() error { return e.err }

// IsInvalidSignerError returns whether err is an InvalidSignerError.
func IsInvalidSignerError(err error) bool {
	var e InvalidSignerError
	return errors.As(err, &e)
}

// DuplicatedSignerError indicates that a signature from the same author has
// already been added to an aggregation.
type DuplicatedSignerError struct {
	err error
}

func NewDuplicatedSignerErrorf(msg string, args ...interface{}) error {
	return DuplicatedSignerError{err: fmt.Errorf(msg, args...)}
}

func (e DuplicatedSignerError) Error() string { return e.err.Error() }
func (e DuplicatedSignerError) Unwrap() error { return e.err }

// IsDuplicatedSignerError returns whether err is a DuplicatedSignerError.
func IsDuplicatedSignerError(err error) bool {
	var e DuplicatedSignerError
	return errors.As(err, &e)
}

// InsufficientSignaturesError indicates an aggregation was attempted below
// quorum voting power. A normal intermediate state, not a failure: the caller
// reports the accumulated power and keeps collecting.
type InsufficientSignaturesError struct {
	err error
}

func NewInsufficientSignaturesErrorf(msg string, args ...interface{}) error {
	return InsufficientSignaturesError{fmt.Errorf(msg, args...)}
}

func (e InsufficientSignaturesError) Error() string { return e.err.Error() }
func (e InsufficientSignaturesError) Unwrap() error { return e.err }

// IsInsufficientSignaturesError returns whether err is an InsufficientSignaturesError.
func IsInsufficientSignaturesError(err error) bool {
	var e InsufficientSignaturesError
	return errors.As(err, &e)
}

// InvalidSignatureIncludedError indicates the aggregate over the collected
// signatures failed post-verification, i.e. some signature added via the
// trusted path was invalid. The aggregation attempt is discarded.
type InvalidSignatureIncludedError struct {
	err error
}

func NewInvalidSignatureIncludedErrorf(msg string, args ...interface{}) error {
	return InvalidSignatureIncludedError{fmt.Errorf(msg, args...)}
}

func (e InvalidSignatureIncludedError) Error() string { return e.err.Error() }
func (e InvalidSignatureIncludedError) Unwrap() error { return e.err }

// IsInvalidSignatureIncludedError returns whether err is an InvalidSignatureIncludedError.
func IsInvalidSignatureIncludedError(err error) bool {
	var e InvalidSignatureIncludedError
	return errors.As(err, &e)
}

// InconsistentLedgerInfoError indicates a vote or decision referenced a
// different block than the one pending at the same round. Ignored and logged.
type InconsistentLedgerInfoError struct {
	Expected dag.Identifier
	Actual   dag.Identifier
}

func (e InconsistentLedgerInfoError) Error() string {
	return fmt.Sprintf("ledger info references block %v, expected %v", e.Actual, e.Expected)
}

// IsInconsistentLedgerInfoError returns whether err is an InconsistentLedgerInfoError.
func IsInconsistentLedgerInfoError(err error) bool {
	var e InconsistentLedgerInfoError
	return errors.As(err, &e)
}

// ByzantineThresholdExceededError is raised when the core observes evidence
// that cannot occur with fewer than 1/3 byzantine voting power, e.g. two
// conflicting certified nodes for the same (round, author). Continuing risks
// a safety violation, so this is propagated as irrecoverable.
type ByzantineThresholdExceededError struct {
	Evidence string
}

func (e ByzantineThresholdExceededError) Error() string {
	return e.Evidence
}

// IsByzantineThresholdExceededError returns whether err is a ByzantineThresholdExceededError.
func IsByzantineThresholdExceededError(err error) bool {
	var e ByzantineThresholdExceededError
	return errors.As(err, &e)
}
