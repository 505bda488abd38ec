package module

// Notifier is a concurrency primitive for informing worker routines about the
// arrival of new work unit(s). Notifiers behave like channels in that they
// can be passed by value and still allow concurrent updates of the same
// internal state.
type Notifier struct {
	// buffered with capacity 1: a pending notification is remembered, but
	// notifying an already-notified Notifier is a no-op
	notifier chan struct{}
}

// NewNotifier instantiates a Notifier.
func NewNotifier() Notifier {
	return Notifier{make(chan struct{}, 1)}
}

// Notify sends a notification, without ever blocking the caller.
func (n Notifier) Notify() {
	select {
	case n.notifier <- struct{}{}:
	default:
	}
}

// Channel returns a channel for receiving notifications.
func (n Notifier) Channel() <-chan struct{} {
	return n.notifier
}
