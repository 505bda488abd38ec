// Package driver implements the active protocol loop of the DAG consensus
// core. For every round it proposes a node, broadcasts it, collects a quorum
// certificate over it, re-broadcasts the certified node, and advances to the
// next round once the DAG reports quorum strong links — paced by a health
// backoff so degraded networks slow the protocol down instead of drowning it.
package driver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/dagbft/dagbft/consensus/dagbft"
	"github.com/dagbft/dagbft/consensus/dagbft/model"
	"github.com/dagbft/dagbft/model/dag"
	"github.com/dagbft/dagbft/module"
	"github.com/dagbft/dagbft/module/component"
	"github.com/dagbft/dagbft/module/counters"
	"github.com/dagbft/dagbft/module/irrecoverable"
	"github.com/dagbft/dagbft/module/signature"
	"github.com/dagbft/dagbft/network"
	"github.com/dagbft/dagbft/storage"
)

// Config parameterizes one driver instance for one epoch.
type Config struct {
	Epoch         uint64
	WindowSize    uint64
	PayloadLimits dagbft.PayloadLimits
	Backoff       BackoffConfig
}

// votedKey guards one-vote-per-(round, author): an equivocating proposer
// receives our original vote again, never a second one.
type votedKey struct {
	Round  uint64
	Author dag.Identifier
}

const votedCacheSize = 4096

// OrderProcessor is the part of the order rule the driver drives.
type OrderProcessor interface {
	Process()
}

type resetRequest struct {
	done chan struct{}
}

// Driver is the round-driving state machine. The main loop is the only
// goroutine mutating round state; RPC handlers touch the DAG store and vote
// aggregator directly (both are concurrency safe) and wake the loop through
// a notifier.
type Driver struct {
	component.Component

	log     zerolog.Logger
	metrics module.ConsensusMetrics
	cfg     Config
	self    dag.Identifier
	signer  dagbft.Signer
	quorum  uint64

	validators  *dag.ValidatorSet
	store       dagbft.Store
	aggregator  dagbft.VoteAggregator
	orderRule   OrderProcessor
	payload     dagbft.PayloadSource
	persistent  storage.ConsensusStore
	broadcaster network.Broadcaster
	fetcher     Fetcher
	ledgerInfo  dagbft.LedgerInfoProvider
	proofs      dagbft.ProofNotifier

	backoff    *backoffController
	cancels    *cancelQueue
	votedCache *lru.Cache
	// tasks tracks in-flight broadcast goroutines; a reset joins them after
	// cancellation so no task writes once the reset is acknowledged
	tasks sync.WaitGroup

	currentRound counters.StrictMonotonicCounter
	roundCheck   module.Notifier
	resets       chan *resetRequest

	// loop-local state, touched only by the main worker
	roundEntered time.Time
	stalled      bool

	// runCtx carries the worker's signaler context to fetch tasks spawned
	// from RPC handlers; set once before ready
	runCtx irrecoverable.SignalerContext
}

var _ network.CertifiedNodeHandler = (*Driver)(nil)

func New(
	log zerolog.Logger,
	metrics module.ConsensusMetrics,
	cfg Config,
	self dag.Identifier,
	signer dagbft.Signer,
	validators *dag.ValidatorSet,
	store dagbft.Store,
	aggregator dagbft.VoteAggregator,
	orderRule OrderProcessor,
	payload dagbft.PayloadSource,
	persistent storage.ConsensusStore,
	broadcaster network.Broadcaster,
	fetcher Fetcher,
	ledgerInfo dagbft.LedgerInfoProvider,
	proofs dagbft.ProofNotifier,
) (*Driver, error) {
	votedCache, err := lru.New(votedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("could not create voted cache: %w", err)
	}
	d := &Driver{
		log:          log.With().Str("component", "round_driver").Logger(),
		metrics:      metrics,
		cfg:          cfg,
		self:         self,
		signer:       signer,
		quorum:       validators.QuorumThreshold(),
		validators:   validators,
		store:        store,
		aggregator:   aggregator,
		orderRule:    orderRule,
		payload:      payload,
		persistent:   persistent,
		broadcaster:  broadcaster,
		fetcher:      fetcher,
		ledgerInfo:   ledgerInfo,
		proofs:       proofs,
		backoff:      newBackoffController(cfg.Backoff),
		cancels:      newCancelQueue(int(cfg.WindowSize)),
		votedCache:   votedCache,
		currentRound: counters.NewMonotonicCounter(0),
		roundCheck:   module.NewNotifier(),
		resets:       make(chan *resetRequest),
	}
	d.Component = component.NewComponentManagerBuilder().
		AddWorker(d.runLoop).
		Build()
	return d, nil
}

// CurrentRound returns the round the driver is currently proposing in.
func (d *Driver) CurrentRound() uint64 {
	return d.currentRound.Value()
}

// runLoop is the single round-processing worker. All suspension happens in
// per-round broadcast tasks; the loop itself only reacts to wake-ups.
func (d *Driver) runLoop(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	d.runCtx = ctx
	d.recoverState(ctx)
	ready()

	for {
		d.tryAdvanceRound(ctx)

		timer := time.NewTimer(d.nextWake())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case req := <-d.resets:
			d.handleReset(req)
		case <-d.roundCheck.Channel():
		case <-timer.C:
			if !d.stalled && time.Since(d.roundEntered) >= d.cfg.Backoff.RoundTimeout {
				d.stalled = true
				d.backoff.OnStall()
				d.log.Debug().
					Uint64("round", d.currentRound.Value()).
					Msg("round stalled")
			}
		}
		timer.Stop()
	}
}

// nextWake returns the time until the nearest of the pacing deadline and the
// round timeout.
func (d *Driver) nextWake() time.Duration {
	elapsed := time.Since(d.roundEntered)
	wake := d.backoff.Delay() - elapsed
	if !d.stalled {
		if timeout := d.cfg.Backoff.RoundTimeout - elapsed; timeout < wake {
			wake = timeout
		}
	}
	if wake < time.Millisecond {
		wake = time.Millisecond
	}
	return wake
}

// recoverState replays persisted votes and resumes a persisted pending node,
// so a crash-restart continues the same round with the same payload instead
// of equivocating.
func (d *Driver) recoverState(ctx irrecoverable.SignalerContext) {
	votes, err := d.persistent.GetVotes()
	if err != nil {
		ctx.Throw(fmt.Errorf("could not load persisted votes: %w", err))
	}
	for _, vote := range votes {
		_, err := d.aggregator.ProcessVote(vote)
		if err != nil {
			d.log.Warn().Err(err).Msg("skipping recovered vote")
		}
	}

	pending, err := d.persistent.GetPendingNode()
	if err == nil && pending.Epoch == d.cfg.Epoch && pending.Round > d.store.HighestStrongLinksRound() {
		d.log.Info().
			Uint64("round", pending.Round).
			Msg("resuming pending node after restart")
		d.currentRound.Set(pending.Round)
		d.roundEntered = time.Now()
		d.stalled = false
		d.metrics.CurrentRound(pending.Round)
		d.launchBroadcast(ctx, pending)
		return
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		ctx.Throw(fmt.Errorf("could not load pending node: %w", err))
	}

	next := d.store.HighestStrongLinksRound() + 1
	d.enterRound(ctx, next)
}

// tryAdvanceRound enters round r+1 iff the DAG reports quorum strong links at
// the current round r and the backoff delay for the target round has elapsed.
func (d *Driver) tryAdvanceRound(ctx irrecoverable.SignalerContext) {
	round := d.currentRound.Value()
	if d.store.HighestStrongLinksRound() < round {
		return
	}
	if time.Since(d.roundEntered) < d.backoff.Delay() {
		return
	}
	if !d.stalled {
		d.backoff.OnProgress()
	}
	d.enterRound(ctx, round+1)
}

// enterRound builds, persists and broadcasts this validator's proposal for
// the given round.
func (d *Driver) enterRound(ctx irrecoverable.SignalerContext, round uint64) {
	if !d.currentRound.Set(round) {
		return
	}
	d.roundEntered = time.Now()
	d.stalled = false
	d.metrics.CurrentRound(round)

	node, err := d.buildNode(ctx, round)
	if err != nil {
		d.log.Warn().Err(err).
			Uint64("round", round).
			Msg("could not build proposal")
		return
	}
	// persist before broadcast: a crash-restart resumes this exact proposal
	err = d.persistent.SavePendingNode(node)
	if err != nil {
		ctx.Throw(fmt.Errorf("could not persist pending node: %w", err))
	}
	d.log.Debug().
		Uint64("round", round).
		Int("parents", len(node.Parents)).
		Int("proofs", node.Payload.Len()).
		Msg("entering round")
	d.launchBroadcast(ctx, node)
}

func (d *Driver) buildNode(ctx context.Context, round uint64) (*dag.Node, error) {
	parents, err := d.store.GetStrongLinksForRound(round - 1)
	if err != nil {
		return nil, fmt.Errorf("no strong links into round %d: %w", round-1, err)
	}

	validatorTxns, payload := d.pullPayload(ctx, parents)

	// monotone above every parent, whatever our clock says
	timestamp := uint64(time.Now().UnixMicro())
	for _, parent := range parents {
		if parent.Metadata.Timestamp >= timestamp {
			timestamp = parent.Metadata.Timestamp + 1
		}
	}

	return &dag.Node{
		Epoch:         d.cfg.Epoch,
		Round:         round,
		Author:        d.self,
		Timestamp:     timestamp,
		ValidatorTxns: validatorTxns,
		Payload:       payload,
		Parents:       parents,
	}, nil
}

// pullPayload asks the payload source for a bounded payload, excluding every
// batch already included in the causal history of the chosen parents. A
// failed pull yields an empty payload; round advancement never blocks on the
// payload source.
func (d *Driver) pullPayload(ctx context.Context, parents []dag.ParentCertificate) ([]dag.ValidatorTxn, dag.Payload) {
	lowest := d.store.LowestRound()
	if committed := d.ledgerInfo.GetHighestCommittedAnchorRound(); committed > d.cfg.WindowSize {
		if bound := committed - d.cfg.WindowSize; bound > lowest {
			lowest = bound
		}
	}
	roots := make([]dag.NodeMetadata, 0, len(parents))
	for _, parent := range parents {
		roots = append(roots, parent.Metadata)
	}
	included := make(map[dag.Identifier]struct{})
	walk := d.store.Reachable(roots, lowest, dagbft.AnyStatus())
	for node, ok := walk.Next(); ok; node, ok = walk.Next() {
		for _, batchID := range node.Payload.BatchIDs() {
			included[batchID] = struct{}{}
		}
	}
	exclude := func(batchID dag.Identifier) bool {
		_, ok := included[batchID]
		return ok
	}

	pullCtx, cancel := context.WithTimeout(ctx, d.cfg.PayloadLimits.MaxPollTime)
	defer cancel()
	validatorTxns, payload, err := d.payload.PullPayload(pullCtx, d.cfg.PayloadLimits, exclude)
	if err != nil {
		d.log.Warn().Err(err).Msg("payload pull failed, proposing empty payload")
		return nil, dag.EmptyPayload()
	}
	return validatorTxns, payload
}

// launchBroadcast spawns the cancellable per-round broadcast task. The
// cancellation handle joins the bounded round-ordered queue; on overflow the
// oldest, superseded broadcast is cancelled.
func (d *Driver) launchBroadcast(ctx context.Context, node *dag.Node) {
	taskCtx, cancel := context.WithCancel(ctx)
	d.cancels.Push(node.Round, cancel)
	d.tasks.Add(1)
	go func() {
		defer d.tasks.Done()
		d.broadcastRound(taskCtx, node)
	}()
}

// broadcastRound runs one round's gossip: node first, certificate after —
// the certificate cannot form before quorum votes on the node are in.
func (d *Driver) broadcastRound(ctx context.Context, node *dag.Node) {
	digest := node.Digest()
	log := d.log.With().
		Uint64("round", node.Round).
		Str("digest", digest.String()).
		Logger()

	// our own certification vote seeds the aggregation
	vote, err := d.signVote(node.Metadata())
	if err != nil {
		log.Error().Err(err).Msg("could not sign own proposal")
		return
	}
	_, err = d.aggregator.ProcessVote(vote)
	if err != nil {
		log.Error().Err(err).Msg("could not process own vote")
		return
	}

	collector := &voteCollector{driver: d, digest: digest}
	err = d.broadcaster.Broadcast(ctx, &network.NodeMessage{Node: node}, collector)
	if err != nil {
		return // cancelled
	}
	cert, ok := d.aggregator.GetCertificate(digest)
	if !ok {
		return
	}
	d.metrics.NodeCertified()

	certified := &dag.CertifiedNode{Node: *node, Signatures: *cert}
	err = d.store.AddNode(certified)
	if err != nil && !model.IsStaleNodeError(err) {
		log.Error().Err(err).Msg("could not insert own certified node")
		return
	}
	err = d.persistent.SaveCertifiedNode(certified)
	if err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		log.Error().Err(err).Msg("could not persist own certified node")
	}
	err = d.persistent.DeletePendingNode()
	if err != nil {
		log.Warn().Err(err).Msg("could not clear pending node")
	}
	d.orderRule.Process()
	d.roundCheck.Notify()

	if ctx.Err() != nil {
		return // reset or supersession: no gossip after cancellation
	}
	// the aggregate signature doubles as the node's certification proof for
	// gossip; keep re-broadcasting until a quorum has acknowledged
	acks := newAckCollector(d.validators)
	_ = d.broadcaster.Broadcast(ctx, &network.CertifiedNodeMessage{CertifiedNode: certified}, acks)
}

// signVote issues this validator's certification vote for the given node
// metadata. At most one vote is ever issued per (round, author): a second
// proposal by the same author gets the original vote back.
func (d *Driver) signVote(metadata dag.NodeMetadata) (*dag.Vote, error) {
	key := votedKey{Round: metadata.Round, Author: metadata.Author}
	if cached, ok := d.votedCache.Get(key); ok {
		return cached.(*dag.Vote), nil
	}
	sig, err := d.signer.Sign(metadata.Digest[:])
	if err != nil {
		return nil, fmt.Errorf("could not sign vote: %w", err)
	}
	vote := &dag.Vote{
		Epoch:     metadata.Epoch,
		Round:     metadata.Round,
		Author:    d.self,
		Digest:    metadata.Digest,
		Signature: sig,
	}
	err = d.persistent.SaveVote(vote)
	if err != nil {
		return nil, fmt.Errorf("could not persist vote: %w", err)
	}
	d.votedCache.Add(key, vote)
	return vote, nil
}

// ProcessNodeProposal handles a peer's unsigned round proposal and returns
// this validator's certification vote.
func (d *Driver) ProcessNodeProposal(ctx context.Context, node *dag.Node) (*dag.Vote, error) {
	if node.Epoch != d.cfg.Epoch {
		return nil, fmt.Errorf("proposal for epoch %d, this driver serves epoch %d", node.Epoch, d.cfg.Epoch)
	}
	if _, ok := d.validators.ByNodeID(node.Author); !ok {
		return nil, model.NewInvalidSignerErrorf("proposal author %v is not a member of the validator set", node.Author)
	}
	if err := node.CheckWellFormed(); err != nil {
		return nil, fmt.Errorf("malformed proposal: %w", err)
	}
	if node.Round > 1 {
		if weight := d.validators.WeightOf(node.ParentAuthors()); weight < d.quorum {
			return nil, fmt.Errorf("proposal cites parents with weight %d below quorum %d", weight, d.quorum)
		}
	}
	return d.signVote(node.Metadata())
}

// ProcessCertifiedNode handles certified-node gossip. Idempotent: a node
// already present in the DAG store is acknowledged immediately. A node with
// missing parents is acknowledged as well, with an asynchronous fetch
// scheduled; the node joins the DAG once its history is recovered.
func (d *Driver) ProcessCertifiedNode(ctx context.Context, node *dag.CertifiedNode) (*network.CertifiedNodeAck, error) {
	digest := node.Digest()
	ack := &network.CertifiedNodeAck{Digest: digest, Peer: d.self}

	if d.store.Exists(node.Metadata()) {
		return ack, nil
	}
	if node.Epoch != d.cfg.Epoch {
		return nil, fmt.Errorf("certified node for epoch %d, this driver serves epoch %d", node.Epoch, d.cfg.Epoch)
	}
	err := d.verifyCertificate(node, digest)
	if err != nil {
		return nil, err
	}

	err = d.store.AddNode(node)
	switch {
	case err == nil:
		d.afterInsert()
		return ack, nil
	case model.IsStaleNodeError(err):
		// below the retained window: drop silently, still acknowledge
		return ack, nil
	case model.IsMissingParentsError(err):
		missingErr, _ := model.AsMissingParentsError(err)
		d.metrics.MissingParentsRequested()
		d.log.Debug().
			Str("digest", digest.String()).
			Uint64("round", node.Round).
			Int("missing", len(missingErr.Missing)).
			Msg("fetching missing parents")
		d.fetcher.FetchMissing(d.fetchContext(), node, missingErr.Missing, d.afterInsert)
		return ack, nil
	default:
		d.log.Error().Err(err).
			Str("digest", digest.String()).
			Msg("could not insert certified node")
		return nil, err
	}
}

// afterInsert re-evaluates ordering and round advancement; also the fetch
// completion callback, so it must not block.
func (d *Driver) afterInsert() {
	d.orderRule.Process()
	d.roundCheck.Notify()
}

func (d *Driver) fetchContext() context.Context {
	if d.runCtx != nil {
		return d.runCtx
	}
	return context.Background()
}

// verifyCertificate checks the aggregate signature over the node's digest
// and that its signers carry quorum voting power.
func (d *Driver) verifyCertificate(node *dag.CertifiedNode, digest dag.Identifier) error {
	return verifyNodeCertificate(d.validators, d.quorum, node, digest)
}

// verifyNodeCertificate is the certificate check shared by every ingestion
// path: gossiped certified nodes and nodes fetched from peers alike.
func verifyNodeCertificate(validators *dag.ValidatorSet, quorum uint64, node *dag.CertifiedNode, digest dag.Identifier) error {
	signers, err := dag.DecodeSignerIndices(validators, node.Signatures.SignerIndices)
	if err != nil {
		return fmt.Errorf("invalid certificate signer indices: %w", err)
	}
	if weight := validators.WeightOf(signers); weight < quorum {
		return fmt.Errorf("certificate weight %d below quorum %d", weight, quorum)
	}
	err = signature.VerifyAggregate(validators, node.Signatures, digest[:])
	if err != nil {
		return fmt.Errorf("invalid certificate: %w", err)
	}
	return nil
}

// ProcessNodeRequest serves a peer's fetch of missing history: each
// requested node plus its causal history down to the retained window, in
// ascending round order.
func (d *Driver) ProcessNodeRequest(ctx context.Context, request *network.NodeRequestMessage) (*network.NodeResponseMessage, error) {
	collected := make(map[dag.Identifier]*dag.CertifiedNode)
	for _, digest := range request.Digests {
		node, ok := d.store.GetNode(digest)
		if !ok {
			continue
		}
		walk := d.store.Reachable([]dag.NodeMetadata{node.Metadata()}, d.store.LowestRound(), dagbft.AnyStatus())
		for reached, ok := walk.Next(); ok; reached, ok = walk.Next() {
			collected[reached.Digest()] = reached
		}
	}
	nodes := make([]*dag.CertifiedNode, 0, len(collected))
	for _, node := range collected {
		nodes = append(nodes, node)
	}
	sortNodesByRound(nodes)
	return &network.NodeResponseMessage{CertifiedNodes: nodes}, nil
}

// OnCommitted clears round bookkeeping made stale by a commit: superseded
// broadcast tasks, vote state at or below the committed round, and wakes the
// loop. Registered as the adapter's commit hook.
func (d *Driver) OnCommitted(committedRound uint64) {
	d.cancels.PruneUpToRound(committedRound)
	d.aggregator.PruneUpToRound(committedRound)
	if d.proofs != nil {
		if latest := d.ledgerInfo.GetLatestLedgerInfo(); latest != nil {
			d.proofs.SendCommitProof(latest)
		}
	}
	d.roundCheck.Notify()
}

// Reset cancels all in-flight broadcasts and clears the DAG store and vote
// aggregator, e.g. on epoch change. Returns once the loop has acknowledged:
// after that, no task started before the reset will write again.
func (d *Driver) Reset(ctx context.Context) error {
	req := &resetRequest{done: make(chan struct{})}
	select {
	case d.resets <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) handleReset(req *resetRequest) {
	d.cancels.CancelAll()
	// cancelled broadcast tasks may still be mid-write; the state clears
	// below and the acknowledgement must come after their last write
	d.tasks.Wait()
	d.aggregator.PruneUpToRound(math.MaxUint64)
	d.store.CommitCallback(d.store.HighestRound())
	d.votedCache.Purge()
	err := d.persistent.DeletePendingNode()
	if err != nil {
		d.log.Error().Err(err).Msg("could not clear pending node on reset")
	}
	if d.proofs != nil {
		if latest := d.ledgerInfo.GetLatestLedgerInfo(); latest != nil {
			d.proofs.SendEpochChange(latest)
		}
	}
	d.log.Info().Msg("protocol state reset")
	close(req.done)
}
