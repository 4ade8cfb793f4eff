package cron

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"github.com/ferrovax/ironclaw/pkg/bus"
	"github.com/ferrovax/ironclaw/pkg/logger"
)

// DefaultTick is how often definitions are polled for dueness.
const DefaultTick = time.Minute

// Service is the schedule poller. On each tick it enqueues one job per
// due definition and returns to sleep; agent execution time never delays
// the next tick.
type Service struct {
	store *Store
	queue *bus.Queue
	tick  time.Duration
}

// NewService wires the poller. tick <= 0 selects the default.
func NewService(store *Store, queue *bus.Queue, tick time.Duration) *Service {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Service{store: store, queue: queue, tick: tick}
}

// Run polls until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	logger.InfoCF("cron", "Scheduler started", map[string]interface{}{
		"schedules": len(s.store.All()),
		"tick":      s.tick.String(),
	})
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.poll(now)
		case <-ctx.Done():
			logger.InfoC("cron", "Scheduler stopping")
			return ctx.Err()
		}
	}
}

// poll fires every enabled definition whose last scheduled time falls
// inside the tick window and has not already fired.
func (s *Service) poll(now time.Time) {
	for _, def := range s.store.All() {
		if !def.Enabled {
			continue
		}
		prev, err := gronx.PrevTickBefore(def.Expr, now, true)
		if err != nil {
			logger.ErrorCF("cron", "Due check failed", map[string]interface{}{
				"schedule": def.ID, "error": err.Error(),
			})
			continue
		}
		if now.Sub(prev) >= s.tick || !prev.After(def.LastRun) {
			continue
		}
		s.fire(def, now)
	}
}

func (s *Service) fire(def *Definition, now time.Time) {
	var dctx *bus.DeliveryContext
	if def.Channel != "" {
		dctx = &bus.DeliveryContext{Channel: def.Channel, ChatID: def.ChatID}
	}

	s.queue.Enqueue(bus.Job{
		SessionID:  def.SessionID(now),
		AgentID:    def.AgentID,
		Message:    def.Message,
		Mode:       bus.ModeUnattended,
		Delivery:   dctx,
		EnqueuedAt: now,
	})

	def.LastRun = now
	s.store.markRan(def)

	logger.InfoCF("cron", "Schedule fired", map[string]interface{}{
		"schedule": def.ID,
		"agent":    def.AgentID,
	})
}
