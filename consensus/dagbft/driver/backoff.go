package driver

import (
	"math"
	"time"
)

// BackoffConfig parameterizes the health backoff pacing round entry.
type BackoffConfig struct {
	// MinRoundDelay is the minimum delay between entering two consecutive
	// rounds on the happy path.
	MinRoundDelay time.Duration
	// MaxRoundDelay caps the delay under sustained failures.
	MaxRoundDelay time.Duration
	// AdjustmentFactor is the base of the exponential growth/decay.
	AdjustmentFactor float64
	// HappyPathMaxRoundFailures is the number of failed rounds tolerated
	// before delays start growing.
	HappyPathMaxRoundFailures uint64
	// RoundTimeout is how long a round may stall before it counts as failed.
	RoundTimeout time.Duration
}

// DefaultBackoffConfig returns the production pacing parameters.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		MinRoundDelay:             50 * time.Millisecond,
		MaxRoundDelay:             10 * time.Second,
		AdjustmentFactor:          1.5,
		HappyPathMaxRoundFailures: 3,
		RoundTimeout:              3 * time.Second,
	}
}

// backoffController implements truncated exponential backoff over a failed
// rounds counter r:
//
//	delay = d_min * f ^ min(max(r-k, 0), c),  c = log_f(d_max / d_min)
//
// Observing progress before the round timeout decreases r, a stalled round
// increases it, so round pacing adapts exponentially in both directions.
type backoffController struct {
	cfg         BackoffConfig
	maxExponent float64
	r           uint64
}

func newBackoffController(cfg BackoffConfig) *backoffController {
	maxExponent := math.Log(float64(cfg.MaxRoundDelay)/float64(cfg.MinRoundDelay)) /
		math.Log(cfg.AdjustmentFactor)
	return &backoffController{
		cfg:         cfg,
		maxExponent: maxExponent,
	}
}

// Delay returns the minimum delay before the next round may be entered.
func (b *backoffController) Delay() time.Duration {
	if b.r <= b.cfg.HappyPathMaxRoundFailures {
		return b.cfg.MinRoundDelay
	}
	exp := float64(b.r - b.cfg.HappyPathMaxRoundFailures)
	if exp >= b.maxExponent {
		return b.cfg.MaxRoundDelay
	}
	return time.Duration(float64(b.cfg.MinRoundDelay) * math.Pow(b.cfg.AdjustmentFactor, exp))
}

// OnProgress records a round that advanced before its timeout.
func (b *backoffController) OnProgress() {
	if b.r > 0 {
		b.r--
	}
}

// OnStall records a round that hit its timeout without advancing.
func (b *backoffController) OnStall() {
	if float64(b.r) >= b.maxExponent+float64(b.cfg.HappyPathMaxRoundFailures) {
		return
	}
	b.r++
}
