// Package mempool holds the proof-of-store queue that fills node payloads.
// Batch proofs are bucketed by gas price so that a bounded pull drains the
// highest-paying buckets first, author-fairly within a bucket.
package mempool

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dagbft/dagbft/consensus/dagbft"
	"github.com/dagbft/dagbft/model/dag"
	"github.com/dagbft/dagbft/module"
)

// authorQueue is one author's FIFO of proofs within a single gas bucket.
type authorQueue struct {
	author dag.Identifier
	proofs []*dag.ProofOfStore
}

// bucket groups proofs sharing a gas bucket start, with per-author fairness
// inside the bucket.
type bucket struct {
	gasStart uint64
	queues   []*authorQueue
	byAuthor map[dag.Identifier]*authorQueue
}

// ProofQueue implements dagbft.PayloadSource over batch proofs submitted by
// the batch-dissemination layer. Pulls return proofs in non-increasing gas
// bucket order, round-robin across authors within a bucket, bounded by the
// given limits and filtered against batches already in the causal history.
type ProofQueue struct {
	mu  sync.Mutex
	log zerolog.Logger

	buckets  []*bucket // sorted by gasStart descending
	byBucket map[uint64]*bucket
	known    map[dag.Identifier]struct{}

	validatorTxns []dag.ValidatorTxn

	arrival module.Notifier
}

var _ dagbft.PayloadSource = (*ProofQueue)(nil)

func NewProofQueue(log zerolog.Logger) *ProofQueue {
	return &ProofQueue{
		log:      log.With().Str("component", "proof_queue").Logger(),
		byBucket: make(map[uint64]*bucket),
		known:    make(map[dag.Identifier]struct{}),
		arrival:  module.NewNotifier(),
	}
}

// AddProof enqueues a batch proof. Duplicate batch IDs are dropped.
func (q *ProofQueue) AddProof(proof *dag.ProofOfStore) {
	q.mu.Lock()
	if _, ok := q.known[proof.BatchID]; ok {
		q.mu.Unlock()
		return
	}
	q.known[proof.BatchID] = struct{}{}

	b, ok := q.byBucket[proof.GasBucketStart]
	if !ok {
		b = &bucket{
			gasStart: proof.GasBucketStart,
			byAuthor: make(map[dag.Identifier]*authorQueue),
		}
		q.byBucket[proof.GasBucketStart] = b
		q.buckets = append(q.buckets, b)
		sort.Slice(q.buckets, func(i, j int) bool {
			return q.buckets[i].gasStart > q.buckets[j].gasStart
		})
	}
	aq, ok := b.byAuthor[proof.Author]
	if !ok {
		aq = &authorQueue{author: proof.Author}
		b.byAuthor[proof.Author] = aq
		b.queues = append(b.queues, aq)
	}
	aq.proofs = append(aq.proofs, proof)
	q.mu.Unlock()

	q.arrival.Notify()
}

// AddValidatorTxn enqueues a validator-level transaction for inclusion ahead
// of the batch payload.
func (q *ProofQueue) AddValidatorTxn(txn dag.ValidatorTxn) {
	q.mu.Lock()
	q.validatorTxns = append(q.validatorTxns, txn)
	q.mu.Unlock()
	q.arrival.Notify()
}

// RemoveBatches drops the given batches, typically after their block
// committed. Batches not present are ignored; their IDs stay known so a late
// re-submission of a committed batch is still rejected.
func (q *ProofQueue) RemoveBatches(batchIDs dag.IdentifierList) {
	q.mu.Lock()
	defer q.mu.Unlock()
	drop := make(map[dag.Identifier]struct{}, len(batchIDs))
	for _, id := range batchIDs {
		drop[id] = struct{}{}
	}
	for _, b := range q.buckets {
		for _, aq := range b.queues {
			kept := aq.proofs[:0]
			for _, proof := range aq.proofs {
				if _, ok := drop[proof.BatchID]; !ok {
					kept = append(kept, proof)
				}
			}
			aq.proofs = kept
		}
	}
}

// PullPayload drains proofs within the given limits. If nothing is available
// it waits for an arrival until the context expires, then returns whatever is
// available; an empty payload is a valid result, not an error.
func (q *ProofQueue) PullPayload(
	ctx context.Context,
	limits dagbft.PayloadLimits,
	exclude dagbft.PayloadFilter,
) ([]dag.ValidatorTxn, dag.Payload, error) {
	for {
		validatorTxns, payload := q.pull(limits, exclude)
		if len(validatorTxns) > 0 || !payload.IsEmpty() {
			return validatorTxns, payload, nil
		}
		select {
		case <-ctx.Done():
			return nil, dag.EmptyPayload(), nil
		case <-q.arrival.Channel():
		}
	}
}

func (q *ProofQueue) pull(limits dagbft.PayloadLimits, exclude dagbft.PayloadFilter) ([]dag.ValidatorTxn, dag.Payload) {
	q.mu.Lock()
	defer q.mu.Unlock()

	validatorTxns := q.validatorTxns
	q.validatorTxns = nil

	var proofs []*dag.ProofOfStore
	var txns, bytes uint64
	for _, b := range q.buckets {
		if !q.drainBucket(b, limits, exclude, &proofs, &txns, &bytes) {
			break
		}
	}
	return validatorTxns, dag.Payload{Proofs: proofs}
}

// drainBucket pulls from one bucket round-robin across its author queues,
// honoring the limits. Returns false once a limit is reached.
func (q *ProofQueue) drainBucket(
	b *bucket,
	limits dagbft.PayloadLimits,
	exclude dagbft.PayloadFilter,
	proofs *[]*dag.ProofOfStore,
	txns *uint64,
	bytes *uint64,
) bool {
	cursors := make([]int, len(b.queues))
	for {
		progressed := false
		for i, aq := range b.queues {
			// skip excluded proofs without consuming budget
			for cursors[i] < len(aq.proofs) && exclude(aq.proofs[cursors[i]].BatchID) {
				cursors[i]++
			}
			if cursors[i] >= len(aq.proofs) {
				continue
			}
			proof := aq.proofs[cursors[i]]
			if *txns+proof.NumTxns > limits.MaxTxns || *bytes+proof.NumBytes > limits.MaxBytes {
				q.commitCursors(b, cursors)
				return false
			}
			cursors[i]++
			*proofs = append(*proofs, proof)
			*txns += proof.NumTxns
			*bytes += proof.NumBytes
			progressed = true
		}
		if !progressed {
			q.commitCursors(b, cursors)
			return true
		}
	}
}

// commitCursors removes the pulled prefix of each author queue.
func (q *ProofQueue) commitCursors(b *bucket, cursors []int) {
	for i, aq := range b.queues {
		if cursors[i] > 0 {
			aq.proofs = aq.proofs[cursors[i]:]
		}
	}
}

// Size returns the number of queued proofs.
func (q *ProofQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	size := 0
	for _, b := range q.buckets {
		for _, aq := range b.queues {
			size += len(aq.proofs)
		}
	}
	return size
}
