// Package events implements the in-process event bus with a durability
// boundary: outbound events are written to a disk outbox before any
// subscriber hears about them, so a crash between generation and
// delivery never loses a reply.
package events

import (
	"fmt"
	"sync"

	"github.com/ferrovax/ironclaw/pkg/logger"
)

// Handler processes one event. Handlers on the same subscription see
// events in publish order; distinct subscriptions run independently.
type Handler func(Event)

// subscription owns an unbounded per-subscriber queue drained by a
// dedicated goroutine, so one slow or failing handler never blocks the
// publisher or its siblings.
type subscription struct {
	id      int
	typ     Type
	handler Handler

	mu     sync.Mutex
	queue  []Event
	signal chan struct{}
	done   chan struct{}
}

func (s *subscription) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	for {
		s.mu.Lock()
		var ev Event
		var ok bool
		if len(s.queue) > 0 {
			ev = s.queue[0]
			s.queue = s.queue[1:]
			ok = true
		}
		s.mu.Unlock()

		if !ok {
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}
		s.invoke(ev)
	}
}

func (s *subscription) invoke(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("events", "Subscriber panicked", map[string]interface{}{
				"subscription": s.id,
				"event_type":   string(ev.Type),
				"panic":        fmt.Sprint(r),
			})
		}
	}()
	s.handler(ev)
}

// Bus is the central event dispatcher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
	outbox *Outbox
	closed bool
}

// NewBus creates a bus backed by the given outbox.
func NewBus(outbox *Outbox) *Bus {
	return &Bus{
		subs:   make(map[int]*subscription),
		outbox: outbox,
	}
}

// Subscribe registers a handler for an event type and returns a
// subscription id for Unsubscribe.
func (b *Bus) Subscribe(typ Type, handler Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &subscription{
		id:      b.nextID,
		typ:     typ,
		handler: handler,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	b.subs[sub.id] = sub
	go sub.run()
	return sub.id
}

// Unsubscribe removes a subscription and stops its dispatcher.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.done)
		delete(b.subs, id)
	}
}

// Publish dispatches an event. For outbound events the record is written
// to the outbox first; once Publish returns the event survives a crash.
// Notification is fire-and-forget: Publish never waits for handlers.
// The returned name is the outbox record for outbound events, "" for
// inbound and status events.
func (b *Bus) Publish(ev Event) (string, error) {
	if ev.Type == TypeOutbound {
		name, err := b.outbox.Write(ev)
		if err != nil {
			return "", fmt.Errorf("persist outbound event: %w", err)
		}
		ev.Record = name
	}
	b.notify(ev)
	return ev.Record, nil
}

func (b *Bus) notify(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.typ == ev.Type {
			sub.push(ev)
		}
	}
}

// Ack deletes the outbox record after confirmed delivery.
func (b *Bus) Ack(name string) error { return b.outbox.Ack(name) }

// Fail dead-letters the outbox record to failed/.
func (b *Bus) Fail(name string) error { return b.outbox.Fail(name) }

// Recover re-notifies subscribers of every pending outbox record, oldest
// first, without re-persisting. Called once at startup, after delivery
// subscribers are registered, to close the crash window between persist
// and delivery. Corrupt records are dead-lettered.
func (b *Bus) Recover() (int, error) {
	names, err := b.outbox.List()
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, name := range names {
		ev, err := b.outbox.Read(name)
		if err != nil {
			logger.WarnCF("events", "Dead-lettering unreadable record", map[string]interface{}{
				"record": name,
				"error":  err.Error(),
			})
			if ferr := b.outbox.Fail(name); ferr != nil {
				logger.ErrorCF("events", "Failed to dead-letter record", map[string]interface{}{
					"record": name,
					"error":  ferr.Error(),
				})
			}
			continue
		}
		b.notify(ev)
		recovered++
	}
	if recovered > 0 {
		logger.InfoCF("events", "Recovered undelivered events", map[string]interface{}{
			"count": recovered,
		})
	}
	return recovered, nil
}

// Close stops dispatching. Pending outbox records are untouched: they
// are the recovery mechanism's job, not the shutdown path's.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.done)
	}
	b.subs = make(map[int]*subscription)
}
