package network

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/dagbft/dagbft/model/dag"
	"github.com/dagbft/dagbft/module"
)

// RetryConfig governs the per-recipient retry schedule of a broadcast.
type RetryConfig struct {
	// InitialDelay is the delay before the first re-attempt; subsequent
	// delays grow exponentially.
	InitialDelay time.Duration
	// MaxDelay caps the delay between two attempts to the same peer.
	MaxDelay time.Duration
	// JitterPercent is the percentage jitter applied to each delay.
	JitterPercent uint64
}

// DefaultRetryConfig returns the retry schedule used in production.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		JitterPercent: 25,
	}
}

// RetryBroadcaster implements Broadcaster on top of a unicast Conduit: one
// goroutine per recipient, each retrying with capped exponential backoff
// until its response is delivered or the broadcast ends.
type RetryBroadcaster struct {
	log        zerolog.Logger
	metrics    module.ConsensusMetrics
	conduit    Conduit
	validators *dag.ValidatorSet
	cfg        RetryConfig
}

var _ Broadcaster = (*RetryBroadcaster)(nil)

func NewRetryBroadcaster(
	log zerolog.Logger,
	metrics module.ConsensusMetrics,
	conduit Conduit,
	validators *dag.ValidatorSet,
	cfg RetryConfig,
) *RetryBroadcaster {
	return &RetryBroadcaster{
		log:        log.With().Str("component", "broadcaster").Logger(),
		metrics:    metrics,
		conduit:    conduit,
		validators: validators,
		cfg:        cfg,
	}
}

func (b *RetryBroadcaster) Broadcast(ctx context.Context, message interface{}, agg AckAggregator) error {
	return b.Multicast(ctx, message, agg, b.validators.NodeIDs())
}

func (b *RetryBroadcaster) Multicast(ctx context.Context, message interface{}, agg AckAggregator, targets dag.IdentifierList) error {
	// broadcastCtx ends the per-recipient senders once the aggregator is
	// satisfied; the parent ctx cancels the whole broadcast
	broadcastCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, target := range targets {
		target := target
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.sendWithRetry(broadcastCtx, target, message, agg, cancel)
		}()
	}
	wg.Wait()

	// distinguish external cancellation from aggregator completion
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// sendWithRetry delivers the message to one peer, retrying with backoff until
// the peer responds. A response that completes the aggregation cancels the
// remaining senders via done.
func (b *RetryBroadcaster) sendWithRetry(ctx context.Context, target dag.Identifier, message interface{}, agg AckAggregator, done context.CancelFunc) {
	backoff := retry.NewExponential(b.cfg.InitialDelay)
	backoff = retry.WithCappedDuration(b.cfg.MaxDelay, backoff)
	backoff = retry.WithJitterPercent(b.cfg.JitterPercent, backoff)

	attempts := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			b.metrics.BroadcastRetry()
		}
		response, err := b.conduit.Unicast(ctx, target, message)
		if err != nil {
			return retry.RetryableError(err)
		}
		finished, err := agg.Add(target, response)
		if err != nil {
			// a malformed response is not retryable from this peer's side;
			// drop it and stop bothering the peer
			b.log.Warn().Err(err).
				Str("target", target.String()).
				Msg("discarding broadcast response")
			return nil
		}
		if finished {
			done()
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		b.log.Warn().Err(err).
			Str("target", target.String()).
			Int("attempts", attempts).
			Msg("broadcast to peer gave up")
	}
}
