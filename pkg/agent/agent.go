// Package agent defines the contract for the conversation engine and
// runs the single worker that feeds it jobs.
package agent

import (
	"context"

	"github.com/ferrovax/ironclaw/pkg/session"
)

// AgentError is a typed error for agent lookup and execution failures.
type AgentError string

func (e AgentError) Error() string { return string(e) }

// ErrAgentNotFound means no definition exists for the requested id.
// Jobs referencing unknown agents are dropped, never retried.
const ErrAgentNotFound AgentError = "agent not found"

// Definition describes a configured agent persona. The on-disk format
// and tool wiring live behind the Agent implementation.
type Definition struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// Agent is the conversation engine collaborator. Chat may take
// arbitrarily long; it is the only blocking step in job processing and
// the worker deliberately serializes on it.
type Agent interface {
	// Load resolves an agent definition. Returns ErrAgentNotFound for
	// unknown ids.
	Load(agentID string) (Definition, error)
	// Chat produces a reply to message within the session's context.
	// The session window is the engine's working context; the engine
	// must not persist it; that is the worker's job.
	Chat(ctx context.Context, sess *session.Session, message string) (string, error)
}
