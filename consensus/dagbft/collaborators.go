package dagbft

import (
	"context"
	"time"

	"github.com/dagbft/dagbft/model/dag"
)

// LedgerInfoProvider holds the latest quorum-certified commit proof. Updated
// exactly once per commit callback invocation, never rolled back.
type LedgerInfoProvider interface {
	// GetLatestLedgerInfo returns the latest commit proof, or nil before the
	// first commit of the epoch.
	GetLatestLedgerInfo() *dag.LedgerInfoWithSignatures

	// GetHighestCommittedAnchorRound returns the round of the most recently
	// committed anchor, or 0 before the first commit.
	GetHighestCommittedAnchorRound() uint64
}

// PayloadLimits bounds a payload pull.
type PayloadLimits struct {
	MaxTxns     uint64
	MaxBytes    uint64
	MaxPollTime time.Duration
}

// PayloadFilter reports whether a batch is already included in the causal
// history and must not be re-proposed.
type PayloadFilter func(batchID dag.Identifier) bool

// PayloadSource supplies a node's payload at round-advance time. On failure
// the caller substitutes an empty payload rather than failing round
// advancement.
type PayloadSource interface {
	PullPayload(ctx context.Context, limits PayloadLimits, exclude PayloadFilter) ([]dag.ValidatorTxn, dag.Payload, error)
}

// OrderedNotifier consumes a contiguous batch of certified nodes forming a
// newly ordered anchor: the anchor's not-yet-ordered causal history in causal
// order, anchor last.
type OrderedNotifier interface {
	SendOrderedNodes(orderedNodes []*dag.CertifiedNode) error
}

// ProofNotifier broadcasts commit proofs and epoch-change proofs to the rest
// of the system. Asynchronous and best-effort.
type ProofNotifier interface {
	SendCommitProof(ledgerInfo *dag.LedgerInfoWithSignatures)
	SendEpochChange(proof *dag.LedgerInfoWithSignatures)
}

// Signer signs consensus messages with this validator's key.
type Signer interface {
	Sign(message []byte) ([]byte, error)
}
