// Package irrecoverable provides the error escalation path for failures that
// must not be handled locally: invariant violations and infrastructure
// breakage where continuing risks a safety violation.
package irrecoverable

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
)

// Signaler sends the error out. Only the first thrown error is delivered;
// throwing terminates the calling goroutine.
type Signaler struct {
	errors chan error
	once   sync.Once
}

func NewSignaler() (*Signaler, <-chan error) {
	errors := make(chan error, 1)
	return &Signaler{errors: errors}, errors
}

// Throw delivers the error to the signaler's channel. It is a narrow drop-in
// replacement for panic anywhere a signaler is connected; it does not return.
func (s *Signaler) Throw(err error) {
	s.once.Do(func() {
		s.errors <- err
		close(s.errors)
	})
	runtime.Goexit()
}

// SignalerContext is a context.Context that can escalate irrecoverable
// errors. The interface is sealed so instances can only be built through
// WithSignaler.
type SignalerContext interface {
	context.Context
	Throw(err error)
	sealed()
}

type signalerCtx struct {
	context.Context
	*Signaler
}

func (*signalerCtx) sealed() {}

// WithSignaler derives a SignalerContext from the parent, returning the error
// channel on which at most one irrecoverable error will be delivered.
func WithSignaler(parent context.Context) (SignalerContext, <-chan error) {
	sig, errChan := NewSignaler()
	return &signalerCtx{parent, sig}, errChan
}

// Throw escalates through ctx if it supports it; a context without a signaler
// means the error is unhandled by construction, so we fail hard.
func Throw(ctx context.Context, err error) {
	signalerAbleContext, ok := ctx.(SignalerContext)
	if ok {
		signalerAbleContext.Throw(err)
	}
	log.Fatalf("irrecoverable error signaler not found for context, unhandled irrecoverable: %v", err)
}

// exception wraps an error to strip its type, so that benign typed errors
// from lower layers are not mistaken for expected conditions by callers
// further up.
type exception struct {
	err error
}

func (e exception) Error() string { return e.err.Error() + " (exception!)" }

// NewException wraps the error as an unexpected exception.
func NewException(err error) error {
	return exception{err: err}
}

// NewExceptionf constructs a new exception from a formatted message.
func NewExceptionf(msg string, args ...interface{}) error {
	return NewException(fmt.Errorf(msg, args...))
}
