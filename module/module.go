package module

import (
	"errors"

	"github.com/dagbft/dagbft/module/irrecoverable"
)

// ErrMultipleStartup is thrown when a component is started more than once.
var ErrMultipleStartup = errors.New("component may only be started once")

// ReadyDoneAware provides an interface for processing components which can be
// started and stopped, exposing channels that close when startup and shutdown
// have completed.
type ReadyDoneAware interface {
	// Ready returns a ready channel that is closed once startup has completed.
	Ready() <-chan struct{}

	// Done returns a done channel that is closed once shutdown has completed.
	Done() <-chan struct{}
}

// Startable provides an interface to start a component. Once started, the
// component can be stopped by cancelling the given context.
type Startable interface {
	// Start starts the component. Any irrecoverable errors encountered while
	// the component is running are thrown via the given SignalerContext.
	Start(irrecoverable.SignalerContext)
}
