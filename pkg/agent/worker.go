package agent

import (
	"context"
	"errors"

	"github.com/ferrovax/ironclaw/pkg/bus"
	"github.com/ferrovax/ironclaw/pkg/events"
	"github.com/ferrovax/ironclaw/pkg/logger"
	"github.com/ferrovax/ironclaw/pkg/session"
)

const (
	// ContinuationSentinel replaces a crashed job's message on requeue so
	// the agent resumes instead of re-running the original request.
	ContinuationSentinel = "[continue] the previous run was interrupted; pick up where you left off"

	// DefaultMaxAttempts bounds crash requeues. A deterministic failure
	// must not loop forever.
	DefaultMaxAttempts = 3

	friendlyFailure = "Sorry, I ran into a problem handling that and had to give up. Please try again."
)

// Worker is the sole consumer of the job queue. At most one agent
// invocation runs at any instant, so session state never needs
// per-session locking at this scale.
type Worker struct {
	queue       *bus.Queue
	sessions    *session.Store
	engine      Agent
	bus         *events.Bus
	maxAttempts int
}

// NewWorker wires the worker. maxAttempts <= 0 selects the default.
func NewWorker(queue *bus.Queue, sessions *session.Store, engine Agent, eventBus *events.Bus, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Worker{
		queue:       queue,
		sessions:    sessions,
		engine:      engine,
		bus:         eventBus,
		maxAttempts: maxAttempts,
	}
}

// Run consumes jobs until ctx is cancelled. Other workers keep making
// progress while a Chat call is in flight; job consumption does not.
func (w *Worker) Run(ctx context.Context) error {
	logger.InfoC("agent", "Agent worker started")
	for {
		job, ok := w.queue.Dequeue(ctx)
		if !ok {
			logger.InfoC("agent", "Agent worker stopping")
			return ctx.Err()
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job bus.Job) {
	if _, err := w.engine.Load(job.AgentID); err != nil {
		if errors.Is(err, ErrAgentNotFound) {
			logger.ErrorCF("agent", "Dropping job for unknown agent", map[string]interface{}{
				"agent":   job.AgentID,
				"session": job.SessionID,
			})
			return
		}
		logger.ErrorCF("agent", "Agent definition load failed", map[string]interface{}{
			"agent": job.AgentID,
			"error": err.Error(),
		})
		w.requeueOrDrop(job)
		return
	}

	sess, err := w.sessions.Resume(job.SessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		// Lost or never-written history must not fail the job: start a
		// fresh session under the same id and carry on.
		logger.WarnCF("agent", "Session history missing, starting fresh", map[string]interface{}{
			"session": job.SessionID,
		})
		sess, err = w.sessions.Create(job.SessionID, job.AgentID, job.Mode)
	}
	if err != nil {
		logger.ErrorCF("agent", "Session resume failed", map[string]interface{}{
			"session": job.SessionID,
			"error":   err.Error(),
		})
		w.requeueOrDrop(job)
		return
	}

	w.publishStatus(job, "executing")

	sess.Append(session.RoleUser, job.Message)
	reply, err := w.engine.Chat(ctx, sess, job.Message)
	if err != nil {
		logger.ErrorCF("agent", "Agent execution failed", map[string]interface{}{
			"session": job.SessionID,
			"attempt": job.Attempts + 1,
			"error":   err.Error(),
		})
		w.publishStatus(job, "failed")
		w.requeueOrDrop(job)
		return
	}

	sess.Append(session.RoleAssistant, reply)
	if err := w.sessions.Save(sess); err != nil {
		logger.ErrorCF("agent", "History save failed", map[string]interface{}{
			"session": job.SessionID,
			"error":   err.Error(),
		})
		// The reply still goes out; history is best effort past this point.
	}

	w.publishReply(job, reply)
	w.publishStatus(job, "done")
}

// requeueOrDrop implements the bounded crash-retry path: the job goes
// back on the queue with the continuation sentinel until the ceiling,
// then the sender gets a friendly failure reply and the job is dropped.
func (w *Worker) requeueOrDrop(job bus.Job) {
	if job.Attempts+1 >= w.maxAttempts {
		logger.ErrorCF("agent", "Job exhausted retries, dropping", map[string]interface{}{
			"session":  job.SessionID,
			"attempts": job.Attempts + 1,
		})
		w.publishReply(job, friendlyFailure)
		return
	}
	job.Attempts++
	job.Message = ContinuationSentinel
	w.queue.Enqueue(job)
}

// publishReply emits the durable outbound event carrying the reply and
// the routing metadata the delivery worker needs.
func (w *Worker) publishReply(job bus.Job, content string) {
	metadata := map[string]string{}
	if job.Delivery != nil {
		metadata["channel"] = job.Delivery.Channel
		metadata["chat_id"] = job.Delivery.ChatID
	}
	ev := events.NewEvent(events.TypeOutbound, job.SessionID, content, "agent", metadata)
	if _, err := w.bus.Publish(ev); err != nil {
		logger.ErrorCF("agent", "Failed to publish reply", map[string]interface{}{
			"session": job.SessionID,
			"error":   err.Error(),
		})
	}
}

func (w *Worker) publishStatus(job bus.Job, state string) {
	ev := events.NewEvent(events.TypeStatus, job.SessionID, state, "agent", map[string]string{
		"agent": job.AgentID,
	})
	if _, err := w.bus.Publish(ev); err != nil {
		logger.WarnCF("agent", "Failed to publish status", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
