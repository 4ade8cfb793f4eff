package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrovax/ironclaw/pkg/bus"
	"github.com/ferrovax/ironclaw/pkg/events"
	"github.com/ferrovax/ironclaw/pkg/session"
)

// fakeEngine answers every message with a canned reply, optionally
// failing the first failN chats.
type fakeEngine struct {
	mu       sync.Mutex
	reply    string
	failN    int
	chats    int
	messages []string
	unknown  bool
}

func (f *fakeEngine) Load(agentID string) (Definition, error) {
	if f.unknown {
		return Definition{}, ErrAgentNotFound
	}
	return Definition{ID: agentID, Name: agentID}, nil
}

func (f *fakeEngine) Chat(_ context.Context, _ *session.Session, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats++
	f.messages = append(f.messages, message)
	if f.failN > 0 {
		f.failN--
		return "", errors.New("engine blew up")
	}
	return f.reply, nil
}

func (f *fakeEngine) chatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chats
}

func (f *fakeEngine) seenMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.messages))
	copy(out, f.messages)
	return out
}

type workerFixture struct {
	queue    *bus.Queue
	sessions *session.Store
	bus      *events.Bus
	outbox   *events.Outbox
	worker   *Worker
	cancel   context.CancelFunc
}

func newWorkerFixture(t *testing.T, engine Agent, maxAttempts int) *workerFixture {
	t.Helper()
	sessions, err := session.NewStore(t.TempDir(), 10, 0)
	require.NoError(t, err)
	outbox, err := events.NewOutbox(t.TempDir())
	require.NoError(t, err)
	eventBus := events.NewBus(outbox)
	queue := bus.NewQueue()

	w := NewWorker(queue, sessions, engine, eventBus, maxAttempts)
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	t.Cleanup(func() {
		cancel()
		eventBus.Close()
	})
	return &workerFixture{
		queue:    queue,
		sessions: sessions,
		bus:      eventBus,
		outbox:   outbox,
		worker:   w,
		cancel:   cancel,
	}
}

func collectOutbound(fx *workerFixture) <-chan events.Event {
	ch := make(chan events.Event, 16)
	fx.bus.Subscribe(events.TypeOutbound, func(ev events.Event) { ch <- ev })
	return ch
}

func nextEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func TestWorkerProcessesJobEndToEnd(t *testing.T) {
	engine := &fakeEngine{reply: "hi"}
	fx := newWorkerFixture(t, engine, 0)
	outbound := collectOutbound(fx)

	fx.queue.Enqueue(bus.Job{
		SessionID: "s1",
		AgentID:   "default",
		Message:   "hello",
		Mode:      bus.ModeInteractive,
		Delivery:  &bus.DeliveryContext{Channel: "telegram", ChatID: "42"},
	})

	ev := nextEvent(t, outbound)
	assert.Equal(t, "hi", ev.Content)
	assert.Equal(t, "s1", ev.SessionID)
	assert.Equal(t, "telegram", ev.Metadata["channel"])
	assert.Equal(t, "42", ev.Metadata["chat_id"])
	assert.NotEmpty(t, ev.Record, "reply must be durable before notification")
	assert.Equal(t, 1, fx.outbox.PendingCount())

	// History was persisted with both turns.
	resumed, err := fx.sessions.Resume("s1")
	require.NoError(t, err)
	window := resumed.Window()
	require.Len(t, window, 2)
	assert.Equal(t, "hello", window[0].Content)
	assert.Equal(t, "hi", window[1].Content)
}

func TestWorkerEmitsStatusTransitions(t *testing.T) {
	engine := &fakeEngine{reply: "ok"}
	fx := newWorkerFixture(t, engine, 0)

	statuses := make(chan events.Event, 8)
	fx.bus.Subscribe(events.TypeStatus, func(ev events.Event) { statuses <- ev })

	fx.queue.Enqueue(bus.Job{SessionID: "s1", AgentID: "default", Message: "go"})

	assert.Equal(t, "executing", nextEvent(t, statuses).Content)
	assert.Equal(t, "done", nextEvent(t, statuses).Content)
}

func TestWorkerRequeuesWithContinuationSentinel(t *testing.T) {
	engine := &fakeEngine{reply: "recovered", failN: 1}
	fx := newWorkerFixture(t, engine, 3)
	outbound := collectOutbound(fx)

	fx.queue.Enqueue(bus.Job{SessionID: "s1", AgentID: "default", Message: "hello"})

	ev := nextEvent(t, outbound)
	assert.Equal(t, "recovered", ev.Content)

	messages := engine.seenMessages()
	require.Len(t, messages, 2)
	assert.Equal(t, "hello", messages[0])
	assert.Equal(t, ContinuationSentinel, messages[1])
}

func TestWorkerGivesUpAfterRetryCeiling(t *testing.T) {
	engine := &fakeEngine{reply: "never", failN: 100}
	fx := newWorkerFixture(t, engine, 2)
	outbound := collectOutbound(fx)

	fx.queue.Enqueue(bus.Job{
		SessionID: "s1",
		AgentID:   "default",
		Message:   "hello",
		Delivery:  &bus.DeliveryContext{Channel: "telegram", ChatID: "42"},
	})

	ev := nextEvent(t, outbound)
	assert.Equal(t, friendlyFailure, ev.Content)
	assert.Equal(t, "telegram", ev.Metadata["channel"])
	assert.Equal(t, 2, engine.chatCount())
}

func TestWorkerDropsUnknownAgent(t *testing.T) {
	engine := &fakeEngine{unknown: true}
	fx := newWorkerFixture(t, engine, 0)
	outbound := collectOutbound(fx)

	fx.queue.Enqueue(bus.Job{SessionID: "s1", AgentID: "ghost", Message: "hello"})

	select {
	case ev := <-outbound:
		t.Fatalf("unexpected outbound event %q", ev.Content)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 0, engine.chatCount())
}

func TestWorkerStartsFreshSessionWhenHistoryMissing(t *testing.T) {
	engine := &fakeEngine{reply: "fresh"}
	fx := newWorkerFixture(t, engine, 0)
	outbound := collectOutbound(fx)

	// No Create beforehand: the worker must not fail the job.
	fx.queue.Enqueue(bus.Job{SessionID: "never-seen", AgentID: "default", Message: "hi"})

	ev := nextEvent(t, outbound)
	assert.Equal(t, "fresh", ev.Content)

	resumed, err := fx.sessions.Resume("never-seen")
	require.NoError(t, err)
	assert.Equal(t, 2, resumed.WindowLen())
}

func TestWorkerSerializesJobs(t *testing.T) {
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	engine := &fakeEngine{reply: "ok"}
	slow := chatFuncEngine(func(ctx context.Context, sess *session.Session, message string) (string, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return engine.reply, nil
	})
	fx := newWorkerFixture(t, slow, 0)
	outbound := collectOutbound(fx)

	for i := 0; i < 4; i++ {
		fx.queue.Enqueue(bus.Job{SessionID: "s1", AgentID: "default", Message: "m"})
	}
	for i := 0; i < 4; i++ {
		nextEvent(t, outbound)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxInFlight)
}

// chatFuncEngine adapts a bare function into an Agent with a universal
// Load.
type chatFuncEngine func(ctx context.Context, sess *session.Session, message string) (string, error)

func (f chatFuncEngine) Load(agentID string) (Definition, error) {
	return Definition{ID: agentID}, nil
}

func (f chatFuncEngine) Chat(ctx context.Context, sess *session.Session, message string) (string, error) {
	return f(ctx, sess, message)
}
