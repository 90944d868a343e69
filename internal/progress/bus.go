// Package progress implements the Progress Bus described in spec.md
// §4.8: an ordered event stream to any number of subscribers that
// never back-pressures a worker. There is no teacher equivalent (the
// markdown crawler ran to completion and printed a summary once); this
// package is grounded directly in §4.8's delivery rules plus the
// Sink/channel-fan-out shape already established by
// internal/telemetry.Sink in this module.
package progress

import (
	"sync"

	"github.com/cantrace/crawlkit/internal/model"
)

const defaultBufferSize = 64

type subscriber struct {
	ch chan Event
}

// ProgressBus fans one Job's event stream out to any number of
// subscribers. Every method is safe for concurrent use; publishing
// never blocks on a slow subscriber.
type ProgressBus struct {
	mu          sync.Mutex
	subscribers map[int]*subscriber
	nextID      int
	bufferSize  int
	closed      bool
	terminal    *Event
}

// NewProgressBus builds a ProgressBus with the default per-subscriber
// buffer depth.
func NewProgressBus() *ProgressBus {
	return NewProgressBusWithBuffer(defaultBufferSize)
}

// NewProgressBusWithBuffer builds a ProgressBus with an explicit
// per-subscriber channel capacity, mainly for tests that want to force
// an overflow quickly.
func NewProgressBusWithBuffer(bufferSize int) *ProgressBus {
	return &ProgressBus{
		subscribers: make(map[int]*subscriber),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a new subscriber, immediately enqueuing an
// initial_status event carrying snapshot as §4.8 requires. The
// returned cancel func unsubscribes and closes the channel; callers
// should always call it (e.g. via defer) once done reading. Subscribing
// after a terminal event has already been published still delivers
// initial_status followed immediately by that same terminal event, then
// closes the channel — a late subscriber always learns the outcome.
func (b *ProgressBus) Subscribe(snapshot model.JobSnapshot) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, b.bufferSize)}
	id := b.nextID
	b.nextID++

	sub.ch <- Event{Kind: EventInitialStatus, Snapshot: snapshot}

	if b.closed {
		if b.terminal != nil {
			sub.ch <- *b.terminal
		}
		close(sub.ch)
		return sub.ch, func() {}
	}

	b.subscribers[id] = sub
	return sub.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.removeLocked(id)
	}
}

func (b *ProgressBus) removeLocked(id int) {
	sub, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(sub.ch)
}

// PublishStatusUpdate is best-effort: per §4.8 the bus "may drop
// intermediate status_update events per-subscriber", so a full buffer
// simply drops this one rather than blocking the publishing worker.
func (b *ProgressBus) PublishStatusUpdate(snapshot model.JobSnapshot) {
	b.publish(Event{Kind: EventStatusUpdate, Snapshot: snapshot}, false)
}

// PublishPageComplete MUST reach every subscriber per §4.8. One whose
// buffer is already full is dropped instead: it receives a
// subscriber_overflow terminal in place of this page_complete, and is
// unsubscribed, rather than back-pressuring the worker that produced it.
func (b *ProgressBus) PublishPageComplete(page model.PageResult) {
	b.publish(Event{Kind: EventPageComplete, Page: &page}, true)
}

// PublishTerminal emits job_completed or job_failed to every live
// subscriber and then closes all subscriber channels; no event is ever
// published after this.
func (b *ProgressBus) PublishTerminal(kind EventKind, snapshot model.JobSnapshot) {
	evt := Event{Kind: kind, Snapshot: snapshot}
	b.publish(evt, true)

	b.mu.Lock()
	defer b.mu.Unlock()
	for id := range b.subscribers {
		b.removeLocked(id)
	}
	b.closed = true
	b.terminal = &evt
}

// publish fans evt out to every subscriber without ever blocking. When
// mustDeliver is false (status_update) a full buffer just skips that
// subscriber. When mustDeliver is true (page_complete, terminal events)
// a full buffer instead gets a subscriber_overflow event and is
// unsubscribed — evt itself is never force-fit into a full channel.
func (b *ProgressBus) publish(evt Event, mustDeliver bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		select {
		case sub.ch <- evt:
			continue
		default:
		}

		if !mustDeliver {
			continue
		}

		select {
		case sub.ch <- Event{Kind: EventSubscriberOverflow}:
		default:
		}
		b.removeLocked(id)
	}
}
