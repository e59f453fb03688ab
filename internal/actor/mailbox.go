// Package actor provides the cooperative runtime the replication workers
// are built on: each worker owns a Mailbox whose messages run serially on
// a single goroutine, so all state inside a worker is confined to it.
// Callbacks arriving from other goroutines (transport events, timers) are
// asynchronized: re-enqueued so their bodies run on the owning goroutine.
package actor

import (
	"sync"
	"time"
)

// Mailbox is an unbounded single-consumer message queue with a dedicated
// consumer goroutine. Messages run in enqueue order.
type Mailbox struct {
	name string

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	idle    func() // runs on the consumer when the queue drains
	stopped chan struct{}
}

// NewMailbox starts a mailbox. onIdle, if non-nil, runs on the consumer
// goroutine every time the queue drains; workers use it to recompute their
// status once a burst of messages has been processed.
func NewMailbox(name string, onIdle func()) *Mailbox {
	m := &Mailbox{
		name:    name,
		idle:    onIdle,
		stopped: make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	go m.run()
	return m
}

// Name identifies the mailbox in logs.
func (m *Mailbox) Name() string { return m.name }

// Enqueue schedules fn on the consumer goroutine. It reports false when
// the mailbox is already closed and the message was dropped.
func (m *Mailbox) Enqueue(fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.queue = append(m.queue, fn)
	m.cond.Signal()
	return true
}

// EnqueueAfter schedules fn on the consumer goroutine once d elapses.
// The returned timer can cancel the delivery; timers set for the same
// instant all fire.
func (m *Mailbox) EnqueueAfter(d time.Duration, fn func()) *Timer {
	t := &Timer{}
	t.timer = time.AfterFunc(d, func() {
		m.Enqueue(fn)
	})
	return t
}

// Asynchronize wraps fn so that invoking the wrapper from any goroutine
// runs fn on this mailbox's goroutine.
func (m *Mailbox) Asynchronize(fn func()) func() {
	return func() { m.Enqueue(fn) }
}

// Asynchronize1 is Asynchronize for single-argument callbacks such as
// message-progress notifications.
func Asynchronize1[T any](m *Mailbox, fn func(T)) func(T) {
	return func(v T) { m.Enqueue(func() { fn(v) }) }
}

// Pending reports how many messages are queued but not yet run.
func (m *Mailbox) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close stops accepting messages, lets already queued ones finish, and
// waits for the consumer goroutine to exit.
func (m *Mailbox) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		<-m.stopped
		return
	}
	m.closed = true
	m.cond.Signal()
	m.mu.Unlock()
	<-m.stopped
}

func (m *Mailbox) run() {
	defer close(m.stopped)
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.cond.Wait()
		}
		if len(m.queue) == 0 && m.closed {
			m.mu.Unlock()
			return
		}
		fn := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		m.mu.Unlock()

		fn()

		if m.idle != nil && m.Pending() == 0 {
			m.idle()
		}
	}
}

// Timer cancels a deferred enqueue.
type Timer struct {
	timer *time.Timer
}

// Stop cancels the timer if it has not fired. Safe on nil.
func (t *Timer) Stop() {
	if t != nil && t.timer != nil {
		t.timer.Stop()
	}
}
