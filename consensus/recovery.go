// Package consensus provides the startup glue above the DAG consensus core:
// recovering persisted protocol state so a restarted validator resumes from
// its last committed anchor instead of rebuilding the DAG from genesis.
package consensus

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dagbft/dagbft/model/dag"
	"github.com/dagbft/dagbft/storage"
)

// RecoveredState holds everything a restarting node needs to reconstruct its
// consensus components: the DAG store's initial nodes and retention bound,
// the ledger-info provider's seed, the order rule's resume round, and the
// author sets of the most recent commits for parent accounting.
type RecoveredState struct {
	// LatestLedgerInfo is the newest persisted commit proof, nil on a fresh
	// start.
	LatestLedgerInfo *dag.LedgerInfoWithSignatures

	// HighestCommittedAnchorRound is 0 on a fresh start.
	HighestCommittedAnchorRound uint64

	// LowestRetainedRound bounds the recovered DAG store's window.
	LowestRetainedRound uint64

	// CertifiedNodes are the persisted nodes to replay into the DAG store, in
	// ascending round order.
	CertifiedNodes []*dag.CertifiedNode

	// CommittedAuthors holds, per recent commit event in ascending round
	// order, the decoded author set of the committed anchor's parents.
	CommittedAuthors []dag.IdentifierList
}

// Recover reads persisted consensus state and prepares the inputs for
// reconstructing the DAG store, ledger-info provider and order rule after a
// restart. A store without any persisted commit yields a fresh-start state.
func Recover(
	log zerolog.Logger,
	persistent storage.ConsensusStore,
	validators *dag.ValidatorSet,
	windowSize uint64,
) (*RecoveredState, error) {
	state := &RecoveredState{LowestRetainedRound: 1}

	latest, err := persistent.GetLatestLedgerInfo()
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("could not load latest ledger info: %w", err)
	}
	if err == nil {
		state.LatestLedgerInfo = latest
		state.HighestCommittedAnchorRound = latest.Round()
		if state.HighestCommittedAnchorRound > windowSize {
			state.LowestRetainedRound = state.HighestCommittedAnchorRound - windowSize
		}
	}

	state.CertifiedNodes, err = persistent.GetCertifiedNodes()
	if err != nil {
		return nil, fmt.Errorf("could not load certified nodes: %w", err)
	}

	events, err := persistent.GetLatestCommittedEvents(windowSize)
	if err != nil {
		return nil, fmt.Errorf("could not load commit events: %w", err)
	}
	for _, event := range events {
		authors, err := event.ParentAuthors(validators)
		if err != nil {
			return nil, fmt.Errorf("corrupt parent bit-vector in commit event at round %d: %w", event.Round, err)
		}
		state.CommittedAuthors = append(state.CommittedAuthors, authors)
	}

	log.Info().
		Uint64("committed_round", state.HighestCommittedAnchorRound).
		Uint64("lowest_round", state.LowestRetainedRound).
		Int("certified_nodes", len(state.CertifiedNodes)).
		Int("commit_events", len(events)).
		Msg("recovered consensus state")
	return state, nil
}
