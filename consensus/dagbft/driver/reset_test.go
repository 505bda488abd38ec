package driver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/dagbft/dagbft/consensus/dagbft/adapter"
	"github.com/dagbft/dagbft/consensus/dagbft/dagstore"
	"github.com/dagbft/dagbft/consensus/dagbft/voteaggregator"
	"github.com/dagbft/dagbft/model/dag"
	"github.com/dagbft/dagbft/module/irrecoverable"
	"github.com/dagbft/dagbft/module/metrics"
	"github.com/dagbft/dagbft/network"
	"github.com/dagbft/dagbft/storage"
	"github.com/dagbft/dagbft/storage/inmem"
	"github.com/dagbft/dagbft/utils/unittest"
)

// slowCancelBroadcaster blocks every broadcast until cancellation, then takes
// a while to wind down before recording that its last write happened.
type slowCancelBroadcaster struct {
	lastWrite *atomic.Bool
}

func (b *slowCancelBroadcaster) Broadcast(ctx context.Context, _ interface{}, _ network.AckAggregator) error {
	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)
	b.lastWrite.Store(true)
	return ctx.Err()
}

func (b *slowCancelBroadcaster) Multicast(ctx context.Context, message interface{}, agg network.AckAggregator, _ dag.IdentifierList) error {
	return b.Broadcast(ctx, message, agg)
}

type proofRecorder struct {
	mu           sync.Mutex
	epochChanges []*dag.LedgerInfoWithSignatures
	commitProofs []*dag.LedgerInfoWithSignatures
}

func (r *proofRecorder) SendCommitProof(li *dag.LedgerInfoWithSignatures) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commitProofs = append(r.commitProofs, li)
}

func (r *proofRecorder) SendEpochChange(proof *dag.LedgerInfoWithSignatures) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epochChanges = append(r.epochChanges, proof)
}

// A reset acknowledgement promises that no task started before the reset will
// write again: Reset must not return while a cancelled broadcast task is
// still winding down.
func TestReset_JoinsInFlightBroadcasts(t *testing.T) {
	participants := unittest.ParticipantsFixture(t, 4)
	store := dagstore.NewStore(unittest.Logger(), metrics.NewNoopCollector(), participants.Validators, nil, 1)
	aggregator := voteaggregator.New(unittest.Logger(), metrics.NewNoopCollector(), participants.Validators)

	lastWrite := atomic.NewBool(false)
	broadcaster := &slowCancelBroadcaster{lastWrite: lastWrite}
	proofs := &proofRecorder{}
	latest := &dag.LedgerInfoWithSignatures{LedgerInfo: *unittest.LedgerInfoFixture(2)}
	persistent := inmem.NewConsensusStore()

	self := participants.Validators.All()[0]
	d, err := New(
		unittest.Logger(),
		metrics.NewNoopCollector(),
		Config{Epoch: 1, WindowSize: 10, Backoff: DefaultBackoffConfig()},
		self.NodeID,
		participants.Keys[self.NodeID],
		participants.Validators,
		store,
		aggregator,
		&countingOrderRule{},
		emptyPayloadSource{},
		persistent,
		broadcaster,
		&recordingFetcher{},
		adapter.NewLedgerInfoProvider(latest),
		proofs,
	)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(context.Background())
	signalerCtx, errCh := irrecoverable.WithSignaler(runCtx)
	d.Start(signalerCtx)
	defer func() {
		cancel()
		select {
		case <-d.Done():
		case <-time.After(time.Second):
			t.Error("driver did not stop")
		}
		select {
		case err := <-errCh:
			t.Errorf("unexpected irrecoverable error: %v", err)
		default:
		}
	}()
	select {
	case <-d.Ready():
	case <-time.After(time.Second):
		t.Fatal("driver did not start")
	}

	// the round-1 proposal broadcast is now blocked inside the broadcaster
	require.Eventually(t, func() bool {
		_, err := persistent.GetPendingNode()
		return err == nil
	}, time.Second, time.Millisecond, "no pending proposal broadcast launched")

	resetCtx, resetCancel := context.WithTimeout(context.Background(), time.Second)
	defer resetCancel()
	require.NoError(t, d.Reset(resetCtx))

	assert.True(t, lastWrite.Load(), "reset acknowledged before the cancelled broadcast finished")

	// the pending node was cleared and the epoch change announced
	_, err = persistent.GetPendingNode()
	require.ErrorIs(t, err, storage.ErrNotFound)
	proofs.mu.Lock()
	defer proofs.mu.Unlock()
	require.Len(t, proofs.epochChanges, 1)
	assert.Equal(t, latest, proofs.epochChanges[0])
}
