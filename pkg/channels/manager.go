package channels

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ferrovax/ironclaw/pkg/bus"
	"github.com/ferrovax/ironclaw/pkg/events"
	"github.com/ferrovax/ironclaw/pkg/identity"
	"github.com/ferrovax/ironclaw/pkg/logger"
)

// Manager supervises the platform adapters: it starts them, funnels
// their inbound messages through the allow-list into jobs, and keeps the
// identity map current so replies can be routed back.
type Manager struct {
	adapters     map[string]Adapter
	queue        *bus.Queue
	ids          *identity.Map
	bus          *events.Bus
	defaultAgent string
}

// NewManager wires the channel manager.
func NewManager(adapters []Adapter, queue *bus.Queue, ids *identity.Map, eventBus *events.Bus, defaultAgent string) *Manager {
	byName := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &Manager{
		adapters:     byName,
		queue:        queue,
		ids:          ids,
		bus:          eventBus,
		defaultAgent: defaultAgent,
	}
}

// Adapters returns the managed adapters keyed by name.
func (m *Manager) Adapters() map[string]Adapter { return m.adapters }

// Run starts every adapter and blocks until ctx is cancelled or any
// adapter dies. An adapter failure propagates so the supervisor restarts
// the whole listener set with fresh connections.
func (m *Manager) Run(ctx context.Context) error {
	if len(m.adapters) == 0 {
		logger.WarnC("channels", "No channels configured")
		<-ctx.Done()
		return ctx.Err()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, len(m.adapters))
	for name, adapter := range m.adapters {
		go func(name string, a Adapter) {
			logger.InfoCF("channels", "Channel starting", map[string]interface{}{"channel": name})
			err := a.Start(runCtx, m.handleInbound)
			if err != nil && runCtx.Err() == nil {
				errs <- fmt.Errorf("channel %s died: %w", name, err)
				return
			}
			errs <- nil
		}(name, adapter)
	}

	var firstErr error
	select {
	case <-ctx.Done():
		firstErr = ctx.Err()
	case err := <-errs:
		if err != nil {
			firstErr = err
		} else {
			// An adapter returned nil while the context is live; treat
			// as a dead listener and restart via the supervisor.
			firstErr = fmt.Errorf("channel listener exited unexpectedly")
		}
	}

	cancel()
	m.stopAll()
	return firstErr
}

func (m *Manager) stopAll() {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for name, adapter := range m.adapters {
		if err := adapter.Stop(stopCtx); err != nil {
			logger.WarnCF("channels", "Channel stop failed", map[string]interface{}{
				"channel": name, "error": err.Error(),
			})
		}
	}
}

// handleInbound is the shared adapter callback: allow-list check,
// session resolution, then enqueue. Disallowed senders are dropped
// silently; no error surfaces to the platform.
func (m *Manager) handleInbound(ctx context.Context, content string, dctx bus.DeliveryContext) {
	adapter, ok := m.adapters[dctx.Channel]
	if !ok {
		logger.WarnCF("channels", "Inbound from unmanaged channel", map[string]interface{}{
			"channel": dctx.Channel,
		})
		return
	}
	if !adapter.Allows(dctx.UserID) {
		logger.DebugCF("channels", "Sender not on allow-list, dropping", map[string]interface{}{
			"channel": dctx.Channel,
			"user":    dctx.UserID,
		})
		return
	}

	sessionID, err := m.resolveSession(dctx)
	if err != nil {
		logger.ErrorCF("channels", "Session resolution failed", map[string]interface{}{
			"channel": dctx.Channel,
			"user":    dctx.UserID,
			"error":   err.Error(),
		})
		return
	}

	if _, err := m.bus.Publish(events.NewEvent(events.TypeInbound, sessionID, content, dctx.Channel, map[string]string{
		"chat_id": dctx.ChatID,
	})); err != nil {
		logger.WarnCF("channels", "Inbound event publish failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	delivery := dctx
	m.queue.Enqueue(bus.Job{
		SessionID:  sessionID,
		AgentID:    m.defaultAgent,
		Message:    content,
		Mode:       bus.ModeInteractive,
		Delivery:   &delivery,
		EnqueuedAt: time.Now().UTC(),
	})
}

// resolveSession looks up the persistent session for an external
// identity, creating and persisting a new binding on first contact. The
// chat route is refreshed every message so replies follow the user.
func (m *Manager) resolveSession(dctx bus.DeliveryContext) (string, error) {
	sessionID, found, err := m.ids.Resolve(dctx.Channel, dctx.UserID)
	if err != nil {
		return "", err
	}
	if !found {
		sessionID = uuid.NewString()
		logger.InfoCF("channels", "New identity bound", map[string]interface{}{
			"channel": dctx.Channel,
			"user":    dctx.UserID,
			"session": sessionID,
		})
	}
	if err := m.ids.Bind(dctx.Channel, dctx.UserID, sessionID, dctx.ChatID); err != nil {
		return "", err
	}
	return sessionID, nil
}
