package channels

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrovax/ironclaw/pkg/bus"
	"github.com/ferrovax/ironclaw/pkg/events"
	"github.com/ferrovax/ironclaw/pkg/identity"
)

func TestAllowList(t *testing.T) {
	cases := []struct {
		name   string
		list   AllowList
		userID string
		want   bool
	}{
		{"empty list admits everyone", nil, "anyone", true},
		{"member passes", AllowList{"alice", "bob"}, "bob", true},
		{"non-member blocked", AllowList{"alice"}, "mallory", false},
		{"empty user against non-empty list", AllowList{"alice"}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.list.Allows(tc.userID))
		})
	}
}

// stubAdapter is a controllable in-memory Adapter.
type stubAdapter struct {
	name  string
	allow AllowList
}

func (s *stubAdapter) Name() string { return s.name }
func (s *stubAdapter) Start(ctx context.Context, _ OnMessage) error {
	<-ctx.Done()
	return nil
}
func (s *stubAdapter) Allows(userID string) bool { return s.allow.Allows(userID) }
func (s *stubAdapter) Reply(context.Context, string, bus.DeliveryContext) error {
	return nil
}
func (s *stubAdapter) Post(context.Context, string) error { return nil }
func (s *stubAdapter) Limit() int                         { return 0 }
func (s *stubAdapter) Stop(context.Context) error         { return nil }

func newTestManager(t *testing.T, adapter Adapter) (*Manager, *bus.Queue, *identity.Map) {
	t.Helper()
	ids, err := identity.Open(filepath.Join(t.TempDir(), "ids.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ids.Close() })

	outbox, err := events.NewOutbox(t.TempDir())
	require.NoError(t, err)
	eventBus := events.NewBus(outbox)
	t.Cleanup(eventBus.Close)

	queue := bus.NewQueue()
	m := NewManager([]Adapter{adapter}, queue, ids, eventBus, "default")
	return m, queue, ids
}

func TestInboundBecomesJob(t *testing.T) {
	adapter := &stubAdapter{name: "telegram"}
	m, queue, ids := newTestManager(t, adapter)

	m.handleInbound(context.Background(), "hello", bus.DeliveryContext{
		Channel: "telegram", ChatID: "42", UserID: "u1",
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job, ok := queue.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, "hello", job.Message)
	assert.Equal(t, "default", job.AgentID)
	assert.Equal(t, bus.ModeInteractive, job.Mode)
	require.NotNil(t, job.Delivery)
	assert.Equal(t, "telegram", job.Delivery.Channel)
	assert.Equal(t, "42", job.Delivery.ChatID)

	// The identity binding was persisted for reply routing.
	sessionID, found, err := ids.Resolve("telegram", "u1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, job.SessionID, sessionID)
}

func TestSessionStableAcrossMessages(t *testing.T) {
	adapter := &stubAdapter{name: "telegram"}
	m, queue, ids := newTestManager(t, adapter)

	dctx := bus.DeliveryContext{Channel: "telegram", ChatID: "42", UserID: "u1"}
	m.handleInbound(context.Background(), "first", dctx)
	dctx.ChatID = "99" // user moved to another chat
	m.handleInbound(context.Background(), "second", dctx)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	first, ok := queue.Dequeue(ctx)
	require.True(t, ok)
	second, ok := queue.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, first.SessionID, second.SessionID)

	// The route follows the user to the newest chat.
	_, chatID, found, err := ids.Route(first.SessionID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "99", chatID)
}

func TestDisallowedSenderDroppedSilently(t *testing.T) {
	adapter := &stubAdapter{name: "telegram", allow: AllowList{"alice"}}
	m, queue, ids := newTestManager(t, adapter)

	m.handleInbound(context.Background(), "let me in", bus.DeliveryContext{
		Channel: "telegram", ChatID: "42", UserID: "mallory",
	})

	assert.Equal(t, 0, queue.Len())
	n, err := ids.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n, "disallowed sender must not be bound")
}

func TestUnmanagedChannelDropped(t *testing.T) {
	adapter := &stubAdapter{name: "telegram"}
	m, queue, _ := newTestManager(t, adapter)

	m.handleInbound(context.Background(), "hi", bus.DeliveryContext{
		Channel: "pager", ChatID: "1", UserID: "u1",
	})

	assert.Equal(t, 0, queue.Len())
}

func TestRunStopsOnCancel(t *testing.T) {
	adapter := &stubAdapter{name: "telegram"}
	m, _, _ := newTestManager(t, adapter)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop on cancel")
	}
}
