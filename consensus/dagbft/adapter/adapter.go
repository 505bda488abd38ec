// Package adapter converts ordered anchors into commit-ready blocks for the
// execution pipeline and closes the loop on commit: pruning the DAG store,
// updating the ledger-info provider and clearing stale consensus state. The
// commit callback registered here is the only path by which the DAG store is
// pruned.
package adapter

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/dagbft/dagbft/consensus/dagbft"
	"github.com/dagbft/dagbft/consensus/dagbft/model"
	"github.com/dagbft/dagbft/model/dag"
	"github.com/dagbft/dagbft/module"
	"github.com/dagbft/dagbft/storage"
)

// OrderedNotifierAdapter implements dagbft.OrderedNotifier: it receives a
// contiguous batch of certified nodes forming a newly ordered anchor (causal
// order, anchor last) and emits a synthetic block to the execution sink.
type OrderedNotifierAdapter struct {
	log        zerolog.Logger
	metrics    module.ConsensusMetrics
	store      dagbft.Store
	provider   *LedgerInfoProvider
	persistent storage.ConsensusStore
	validators *dag.ValidatorSet
	windowSize uint64
	sink       chan<- *dag.OrderedBlocks
	// onCommit lets the round driver clear round-broadcast bookkeeping and
	// vote state once a commit lands; may be nil until wired
	onCommit func(committedRound uint64)

	mu sync.Mutex
	// prevBlockTimestamp enforces strict timestamp monotonicity across
	// emitted blocks
	prevBlockTimestamp uint64
	// recentCommittedAuthors holds the parent author sets of the most recent
	// commits, oldest first, seeded from recovered commit events on restart
	recentCommittedAuthors []dag.IdentifierList
}

// committedAuthorsWindow bounds the parent-accounting window.
const committedAuthorsWindow = 16

var _ dagbft.OrderedNotifier = (*OrderedNotifierAdapter)(nil)

func New(
	log zerolog.Logger,
	metrics module.ConsensusMetrics,
	store dagbft.Store,
	provider *LedgerInfoProvider,
	persistent storage.ConsensusStore,
	validators *dag.ValidatorSet,
	windowSize uint64,
	sink chan<- *dag.OrderedBlocks,
) *OrderedNotifierAdapter {
	prevTimestamp := uint64(0)
	if latest := provider.GetLatestLedgerInfo(); latest != nil {
		prevTimestamp = latest.LedgerInfo.CommitInfo.Timestamp
	}
	return &OrderedNotifierAdapter{
		log:                log.With().Str("component", "ordered_notifier").Logger(),
		metrics:            metrics,
		store:              store,
		provider:           provider,
		persistent:         persistent,
		validators:         validators,
		windowSize:         windowSize,
		sink:               sink,
		prevBlockTimestamp: prevTimestamp,
	}
}

// OnCommit registers the round driver's commit hook.
func (a *OrderedNotifierAdapter) OnCommit(f func(committedRound uint64)) {
	a.onCommit = f
}

// SeedCommittedAuthors pre-populates the parent-accounting window from
// recovered commit events, oldest first.
func (a *OrderedNotifierAdapter) SeedCommittedAuthors(sets []dag.IdentifierList) {
	for _, authors := range sets {
		a.pushCommittedAuthors(authors)
	}
}

// RecentCommittedAuthors returns the parent author sets of the most recent
// commits, oldest first.
func (a *OrderedNotifierAdapter) RecentCommittedAuthors() []dag.IdentifierList {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]dag.IdentifierList, len(a.recentCommittedAuthors))
	copy(out, a.recentCommittedAuthors)
	return out
}

func (a *OrderedNotifierAdapter) pushCommittedAuthors(authors dag.IdentifierList) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recentCommittedAuthors = append(a.recentCommittedAuthors, authors)
	if len(a.recentCommittedAuthors) > committedAuthorsWindow {
		a.recentCommittedAuthors = a.recentCommittedAuthors[1:]
	}
}

func (a *OrderedNotifierAdapter) SendOrderedNodes(orderedNodes []*dag.CertifiedNode) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	anchor := orderedNodes[len(orderedNodes)-1]

	var validatorTxns []dag.ValidatorTxn
	var proofs []*dag.ProofOfStore
	digests := make(dag.IdentifierList, 0, len(orderedNodes))
	for _, node := range orderedNodes {
		validatorTxns = append(validatorTxns, node.ValidatorTxns...)
		proofs = append(proofs, node.Payload.Proofs...)
		digests = append(digests, node.Digest())
	}

	parentsBitVec, err := dag.EncodeSignersToIndices(a.validators, anchor.ParentAuthors())
	if err != nil {
		return err
	}

	// strict monotonicity across blocks, whatever the anchor claims
	timestamp := anchor.Timestamp
	if timestamp <= a.prevBlockTimestamp {
		timestamp = a.prevBlockTimestamp + 1
	}
	a.prevBlockTimestamp = timestamp

	block := &dag.Block{
		Epoch:         anchor.Epoch,
		Round:         anchor.Round,
		Author:        anchor.Author,
		Timestamp:     timestamp,
		ValidatorTxns: validatorTxns,
		Payload:       dag.Payload{Proofs: proofs},
		NodeDigests:   digests,
		ParentsBitVec: parentsBitVec,
	}
	blockID := block.ID()

	placeholder := &dag.LedgerInfoWithSignatures{
		LedgerInfo: dag.LedgerInfo{
			CommitInfo: dag.BlockInfo{
				Epoch:     anchor.Epoch,
				Round:     anchor.Round,
				BlockID:   blockID,
				Timestamp: timestamp,
			},
			ConsensusDataHash: dag.MakeID(digests),
		},
	}

	ordered := &dag.OrderedBlocks{
		Blocks: []*dag.Block{block},
		Proof:  placeholder,
		CommitCallback: func(signed *dag.LedgerInfoWithSignatures) {
			a.commit(blockID, parentsBitVec, signed)
		},
	}

	err = a.send(ordered)
	if err != nil {
		a.log.Error().Err(err).
			Uint64("anchor_round", anchor.Round).
			Str("block_id", blockID.String()).
			Msg("execution sink closed, abandoning ordered anchor")
		return err
	}
	a.log.Debug().
		Uint64("anchor_round", anchor.Round).
		Int("nodes", len(orderedNodes)).
		Str("block_id", blockID.String()).
		Msg("ordered block emitted")
	return nil
}

// send delivers to the execution sink, converting a closed channel into an
// error instead of a crash.
func (a *OrderedNotifierAdapter) send(ordered *dag.OrderedBlocks) (err error) {
	defer func() {
		if recover() != nil {
			err = model.ErrOrderedChannelClosed
		}
	}()
	a.sink <- ordered
	return nil
}

// commit is invoked by the execution layer once the block is executed and the
// commit proof is signed. It prunes the DAG store down to the retained
// window, persists the commit, and updates the ledger-info provider.
func (a *OrderedNotifierAdapter) commit(blockID dag.Identifier, parentsBitVec []byte, signed *dag.LedgerInfoWithSignatures) {
	if signed.LedgerInfo.CommitInfo.BlockID != blockID {
		err := model.InconsistentLedgerInfoError{
			Expected: blockID,
			Actual:   signed.LedgerInfo.CommitInfo.BlockID,
		}
		a.log.Warn().Err(err).Msg("ignoring commit decision for a different block")
		return
	}

	a.provider.update(signed)
	committedRound := signed.Round()

	authors, err := dag.DecodeSignerIndices(a.validators, parentsBitVec)
	if err != nil {
		a.log.Error().Err(err).Msg("could not decode committed parent authors")
	} else {
		a.pushCommittedAuthors(authors)
	}

	var pruneBound uint64
	if committedRound > a.windowSize {
		pruneBound = committedRound - a.windowSize
	}
	a.store.CommitCallback(pruneBound)

	err = a.persistent.SaveLedgerInfo(signed)
	if err != nil {
		a.log.Error().Err(err).Msg("could not persist commit proof")
	}
	err = a.persistent.SaveCommitEvent(&dag.CommitEvent{
		Epoch:         signed.Epoch(),
		Round:         committedRound,
		ParentsBitVec: parentsBitVec,
	})
	if err != nil {
		a.log.Error().Err(err).Msg("could not persist commit event")
	}
	err = a.persistent.DeleteVotes(pruneBound)
	if err != nil {
		a.log.Error().Err(err).Msg("could not prune persisted votes")
	}
	err = a.persistent.DeleteCertifiedNodes(pruneBound)
	if err != nil {
		a.log.Error().Err(err).Msg("could not prune persisted certified nodes")
	}

	if a.onCommit != nil {
		a.onCommit(committedRound)
	}
	a.metrics.AnchorCommitted(committedRound)
	a.log.Info().
		Uint64("committed_round", committedRound).
		Uint64("pruned_up_to", pruneBound).
		Msg("anchor committed")
}
