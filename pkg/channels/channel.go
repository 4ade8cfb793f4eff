// Package channels binds external chat platforms to the job queue. Each
// adapter speaks one platform; the Manager owns them all, enforces
// allow-lists, and maps external identities to persistent sessions.
package channels

import (
	"context"

	"github.com/ferrovax/ironclaw/pkg/bus"
)

// OnMessage is the inbound callback an adapter invokes for every message
// it receives, before any allow-list filtering.
type OnMessage func(ctx context.Context, content string, dctx bus.DeliveryContext)

// Adapter is the contract a platform binding must satisfy. One instance
// per configured channel.
type Adapter interface {
	// Name is the stable channel identifier ("telegram", "discord", ...).
	Name() string

	// Start begins listening and blocks until ctx is cancelled (returns
	// nil) or the underlying connection dies (returns the error; fail
	// fast, never a silent swallow, the supervisor restarts).
	Start(ctx context.Context, onMessage OnMessage) error

	// Allows reports whether a sender passes the channel's allow-list.
	// An empty list means public mode: everyone passes.
	Allows(userID string) bool

	// Reply sends into the chat implied by the delivery context.
	Reply(ctx context.Context, content string, dctx bus.DeliveryContext) error

	// Post sends to the channel's configured default destination, for
	// proactive messages. Errors when no default is configured.
	Post(ctx context.Context, content string) error

	// Limit is the platform's per-message character limit; 0 means
	// unlimited.
	Limit() int

	// Stop cleanly releases connections.
	Stop(ctx context.Context) error
}

// AllowList is a set of permitted sender ids. Empty means public.
type AllowList []string

// Allows implements the allow-list truth table: empty list admits
// everyone, otherwise strict membership.
func (a AllowList) Allows(userID string) bool {
	if len(a) == 0 {
		return true
	}
	for _, id := range a {
		if id == userID {
			return true
		}
	}
	return false
}
