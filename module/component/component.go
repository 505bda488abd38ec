// Package component provides the worker-based lifecycle used by all active
// subsystems: a component starts a fixed set of worker goroutines, is ready
// once all workers have signalled readiness, and is done once all workers
// have returned after context cancellation.
package component

import (
	"go.uber.org/atomic"

	"github.com/dagbft/dagbft/module"
	"github.com/dagbft/dagbft/module/irrecoverable"
)

// Component represents a component which can be started and stopped, and
// exposes channels that close when startup and shutdown have completed.
// Once Start has been called, the channel returned by Done must close
// eventually, whether because of a graceful shutdown or an irrecoverable
// error thrown via the SignalerContext.
type Component interface {
	module.Startable
	module.ReadyDoneAware
}

// ReadyFunc is called within a ComponentWorker to indicate that the worker is
// ready. The ComponentManager's Ready channel is closed once all workers have
// called their ReadyFunc.
type ReadyFunc func()

// ComponentWorker is one worker routine of a component. It escalates
// irrecoverable errors through the given SignalerContext and must return when
// the context is cancelled.
type ComponentWorker func(ctx irrecoverable.SignalerContext, ready ReadyFunc)

// ComponentManagerBuilder collects the worker routines of a component.
type ComponentManagerBuilder interface {
	// AddWorker adds a worker routine for the ComponentManager.
	AddWorker(ComponentWorker) ComponentManagerBuilder

	// Build builds and returns a new ComponentManager instance.
	Build() *ComponentManager
}

type componentManagerBuilder struct {
	workers []ComponentWorker
}

// NewComponentManagerBuilder returns a new ComponentManagerBuilder.
func NewComponentManagerBuilder() ComponentManagerBuilder {
	return &componentManagerBuilder{}
}

func (b *componentManagerBuilder) AddWorker(worker ComponentWorker) ComponentManagerBuilder {
	b.workers = append(b.workers, worker)
	return b
}

func (b *componentManagerBuilder) Build() *ComponentManager {
	return &ComponentManager{
		started: atomic.NewBool(false),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		workers: b.workers,
	}
}

var _ Component = (*ComponentManager)(nil)

// ComponentManager runs the worker routines of a component and implements the
// Component interface on their behalf. Ready() and Done() are idempotent and
// can be called immediately after instantiation.
type ComponentManager struct {
	started *atomic.Bool
	ready   chan struct{}
	done    chan struct{}
	workers []ComponentWorker
}

// Start launches all worker routines. Start must only be called once; a
// second call panics.
func (c *ComponentManager) Start(parent irrecoverable.SignalerContext) {
	if !c.started.CompareAndSwap(false, true) {
		panic(module.ErrMultipleStartup)
	}

	var pendingReady atomic.Int32
	var pendingDone atomic.Int32
	pendingReady.Store(int32(len(c.workers)))
	pendingDone.Store(int32(len(c.workers)))

	if len(c.workers) == 0 {
		close(c.ready)
		close(c.done)
		return
	}

	for _, worker := range c.workers {
		worker := worker
		go func() {
			defer func() {
				if pendingDone.Dec() == 0 {
					close(c.done)
				}
			}()
			var once atomic.Bool
			worker(parent, func() {
				if once.CompareAndSwap(false, true) {
					if pendingReady.Dec() == 0 {
						close(c.ready)
					}
				}
			})
		}()
	}
}

// Ready returns a channel which is closed once all workers have signalled
// that they are ready.
func (c *ComponentManager) Ready() <-chan struct{} {
	return c.ready
}

// Done returns a channel which is closed once all workers have returned.
func (c *ComponentManager) Done() <-chan struct{} {
	return c.done
}
