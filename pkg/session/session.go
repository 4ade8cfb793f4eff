// Package session manages persistent conversations: a bounded in-memory
// message window for prompt context, backed by a full chunked on-disk
// history that survives restarts.
package session

import (
	"sync"
	"time"

	"github.com/ferrovax/ironclaw/pkg/bus"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single conversation entry. Immutable once appended.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one conversation thread. The window holds at most
// windowMax recent messages; older ones stay on disk in history chunks
// but are excluded from the next execution's context.
type Session struct {
	ID      string   `json:"id"`
	AgentID string   `json:"agent_id"`
	Mode    bus.Mode `json:"mode"`

	mu        sync.Mutex
	window    []Message
	windowMax int
	unsaved   []Message
}

// Append records a message in the window and marks it for persistence.
func (s *Session) Append(role Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := Message{Role: role, Content: content, Timestamp: time.Now().UTC()}
	s.window = append(s.window, msg)
	if len(s.window) > s.windowMax {
		s.window = s.window[len(s.window)-s.windowMax:]
	}
	s.unsaved = append(s.unsaved, msg)
}

// Window returns a copy of the in-memory message window.
func (s *Session) Window() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.window))
	copy(out, s.window)
	return out
}

// WindowLen reports the current window size.
func (s *Session) WindowLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.window)
}

// drainUnsaved returns and clears messages awaiting persistence.
func (s *Session) drainUnsaved() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.unsaved
	s.unsaved = nil
	return out
}

// restoreUnsaved puts messages back after a failed save, preserving
// order ahead of anything appended meanwhile.
func (s *Session) restoreUnsaved(msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsaved = append(msgs, s.unsaved...)
}
