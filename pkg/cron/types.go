// Package cron polls schedule definitions and enqueues agent jobs when
// they come due. It never executes anything itself and never blocks on
// the agent: firing is just an enqueue.
package cron

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// MinInterval is the finest schedule granularity accepted. Definitions
// firing more often are rejected at load time, not at tick time.
const MinInterval = 5 * time.Minute

// Definition is one schedule: a cron expression plus the message and
// agent it triggers. Continuity reuses one session across runs; the
// default is a fresh session per run so scheduled jobs carry no memory.
type Definition struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	AgentID    string `json:"agent_id"`
	Expr       string `json:"expr"`
	Message    string `json:"message"`
	Channel    string `json:"channel,omitempty"`
	ChatID     string `json:"chat_id,omitempty"`
	Continuity bool   `json:"continuity,omitempty"`
	Enabled    bool   `json:"enabled"`

	// LastRun is runtime state, persisted so a restart within a slot
	// does not double-fire.
	LastRun time.Time `json:"last_run,omitempty"`
}

// Validate checks the expression and enforces the minimum granularity by
// probing successive ticks.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("schedule missing id")
	}
	if d.AgentID == "" {
		return fmt.Errorf("schedule %s missing agent_id", d.ID)
	}
	if d.Message == "" {
		return fmt.Errorf("schedule %s missing message", d.ID)
	}
	// Probe a handful of future ticks; an invalid expression errors out
	// here and any gap under the floor rejects the definition.
	ref := time.Now()
	prev, err := gronx.NextTickAfter(d.Expr, ref, false)
	if err != nil {
		return fmt.Errorf("schedule %s has invalid cron expression %q: %w", d.ID, d.Expr, err)
	}
	for i := 0; i < 4; i++ {
		next, err := gronx.NextTickAfter(d.Expr, prev, false)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", d.ID, err)
		}
		if gap := next.Sub(prev); gap < MinInterval {
			return fmt.Errorf("schedule %s fires every %s, below the %s minimum", d.ID, gap, MinInterval)
		}
		prev = next
	}
	return nil
}

// SessionID derives the session a run executes in. Fresh per run unless
// the definition asks for continuity.
func (d *Definition) SessionID(now time.Time) string {
	if d.Continuity {
		return "cron:" + d.ID
	}
	return fmt.Sprintf("cron:%s:%d", d.ID, now.UnixNano())
}
