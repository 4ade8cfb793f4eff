package bus

import "time"

// Mode selects how the agent treats a job's session.
type Mode string

const (
	// ModeInteractive jobs belong to a live conversation with a user.
	ModeInteractive Mode = "interactive"
	// ModeUnattended jobs run without anyone watching (cron, triggers).
	ModeUnattended Mode = "unattended"
)

// DeliveryContext carries the addressing needed to route a reply back to
// the channel a job came from. UserID is the identity checked against
// allow-lists; ChatID is where the reply goes. They are distinct on
// purpose: a whitelisted user can write from a group chat.
type DeliveryContext struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	UserID  string `json:"user_id,omitempty"`
}

// Job is one unit of agent work tied to a session. Producers (channel
// manager, cron service, programmatic triggers) create jobs; the agent
// worker is the only consumer. Attempts counts crash requeues.
type Job struct {
	SessionID  string           `json:"session_id"`
	AgentID    string           `json:"agent_id"`
	Message    string           `json:"message"`
	Mode       Mode             `json:"mode"`
	Delivery   *DeliveryContext `json:"delivery,omitempty"`
	Attempts   int              `json:"attempts"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
}
