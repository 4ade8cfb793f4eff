package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ferrovax/ironclaw/pkg/bus"
	"github.com/ferrovax/ironclaw/pkg/events"
	"github.com/ferrovax/ironclaw/pkg/logger"
)

// DeliveryError is a typed error for routing failures.
type DeliveryError string

func (e DeliveryError) Error() string { return string(e) }

// ErrInvalidDestination marks a permanent routing failure: the record is
// dead-lettered immediately, no retries. Adapters wrap it when a
// destination cannot exist (bad chat id, no default target).
const ErrInvalidDestination DeliveryError = "invalid delivery destination"

// DefaultMaxAttempts bounds transient-failure retries per event.
const DefaultMaxAttempts = 5

// Sender is the slice of a platform adapter the delivery worker needs.
type Sender interface {
	Name() string
	// Reply sends into the chat implied by the delivery context.
	Reply(ctx context.Context, content string, dctx bus.DeliveryContext) error
	// Post sends to the platform's configured default destination.
	Post(ctx context.Context, content string) error
	// Limit is the platform's per-message character limit.
	Limit() int
}

// Router resolves a session's home platform and chat when an event
// carries no routing metadata (recovered cron or trigger replies).
type Router interface {
	Route(sessionID string) (platform, chatID string, ok bool, err error)
}

// Worker subscribes to outbound events and drives them to the wire.
// Events are processed strictly one at a time, so the chunks of one
// message never interleave with another's.
type Worker struct {
	bus         *events.Bus
	adapters    map[string]Sender
	fallback    Sender // used when no route is known; may be nil
	router      Router
	maxAttempts int

	ctxMu   sync.Mutex
	runCtx  context.Context
	subOnce sync.Once
	subID   int

	// backoff is swappable so tests do not sleep for real.
	backoff func(attempt int) time.Duration
}

// NewWorker wires the delivery worker. fallback may be nil; maxAttempts
// <= 0 selects the default.
func NewWorker(eventBus *events.Bus, adapters map[string]Sender, fallback Sender, router Router, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Worker{
		bus:         eventBus,
		adapters:    adapters,
		fallback:    fallback,
		router:      router,
		maxAttempts: maxAttempts,
		backoff:     Backoff,
	}
}

// Attach subscribes to outbound events under ctx. Callers that need
// recovery to replay into this worker call Attach before Bus.Recover;
// Run attaches implicitly otherwise.
func (w *Worker) Attach(ctx context.Context) {
	w.setRunCtx(ctx)
	w.subOnce.Do(func() {
		w.subID = w.bus.Subscribe(events.TypeOutbound, w.handle)
	})
}

func (w *Worker) setRunCtx(ctx context.Context) {
	w.ctxMu.Lock()
	w.runCtx = ctx
	w.ctxMu.Unlock()
}

func (w *Worker) currentCtx() context.Context {
	w.ctxMu.Lock()
	defer w.ctxMu.Unlock()
	if w.runCtx == nil {
		return context.Background()
	}
	return w.runCtx
}

// Run blocks until ctx is cancelled. Cancellation never touches pending
// records; recovery republishes them on the next start.
func (w *Worker) Run(ctx context.Context) error {
	w.Attach(ctx)
	logger.InfoC("delivery", "Delivery worker started")
	<-ctx.Done()
	w.bus.Unsubscribe(w.subID)
	logger.InfoC("delivery", "Delivery worker stopping")
	return ctx.Err()
}

func (w *Worker) handle(ev events.Event) {
	ctx := w.currentCtx()
	if ctx.Err() != nil {
		return
	}

	if err := w.deliver(ctx, ev); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Shutdown mid-delivery: the record stays pending so
			// recovery redelivers it on the next start.
			return
		}
		w.deadLetter(ev, err)
		return
	}
	if ev.Record != "" {
		if err := w.bus.Ack(ev.Record); err != nil {
			logger.ErrorCF("delivery", "Ack failed", map[string]interface{}{
				"record": ev.Record,
				"error":  err.Error(),
			})
		}
	}
}

// deliver resolves the destination and sends every chunk, retrying the
// whole remainder on transient errors. Returns nil once the platform
// accepted all chunks.
func (w *Worker) deliver(ctx context.Context, ev events.Event) error {
	sender, dctx, direct, err := w.resolve(ev)
	if err != nil {
		return err
	}

	chunks := Chunk(ev.Content, sender.Limit())

	for attempt := 1; ; attempt++ {
		err := w.sendChunks(ctx, sender, chunks, dctx, direct)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrInvalidDestination) {
			return err
		}
		if attempt >= w.maxAttempts {
			return fmt.Errorf("retries exhausted after %d attempts: %w", attempt, err)
		}

		delay := w.backoff(attempt)
		logger.WarnCF("delivery", "Send failed, backing off", map[string]interface{}{
			"channel": sender.Name(),
			"session": ev.SessionID,
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// resolve picks the adapter and addressing for an event: routing
// metadata first, then the identity map, then the fallback channel.
func (w *Worker) resolve(ev events.Event) (Sender, bus.DeliveryContext, bool, error) {
	channel := ev.Metadata["channel"]
	chatID := ev.Metadata["chat_id"]

	if channel == "" && w.router != nil {
		platform, mapped, ok, err := w.router.Route(ev.SessionID)
		if err != nil {
			logger.WarnCF("delivery", "Route lookup failed", map[string]interface{}{
				"session": ev.SessionID,
				"error":   err.Error(),
			})
		} else if ok {
			channel, chatID = platform, mapped
		}
	}

	if channel == "" {
		if w.fallback == nil {
			return nil, bus.DeliveryContext{}, false, fmt.Errorf("session %s has no route and no fallback channel: %w", ev.SessionID, ErrInvalidDestination)
		}
		return w.fallback, bus.DeliveryContext{}, false, nil
	}

	sender, ok := w.adapters[channel]
	if !ok {
		return nil, bus.DeliveryContext{}, false, fmt.Errorf("unknown channel %q: %w", channel, ErrInvalidDestination)
	}
	return sender, bus.DeliveryContext{Channel: channel, ChatID: chatID}, true, nil
}

func (w *Worker) sendChunks(ctx context.Context, sender Sender, chunks []string, dctx bus.DeliveryContext, direct bool) error {
	for _, chunk := range chunks {
		var err error
		if direct {
			err = sender.Reply(ctx, chunk, dctx)
		} else {
			err = sender.Post(ctx, chunk)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) deadLetter(ev events.Event, cause error) {
	logger.ErrorCF("delivery", "Dead-lettering event", map[string]interface{}{
		"record":  ev.Record,
		"session": ev.SessionID,
		"error":   cause.Error(),
	})
	if ev.Record == "" {
		return
	}
	if err := w.bus.Fail(ev.Record); err != nil {
		logger.ErrorCF("delivery", "Failed to dead-letter record", map[string]interface{}{
			"record": ev.Record,
			"error":  err.Error(),
		})
	}
}
