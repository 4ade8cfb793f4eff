package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/ferrovax/ironclaw/pkg/bus"
)

// CLI is the local terminal channel: an interactive readline loop for
// talking to the agent without any platform, and the delivery worker's
// fallback destination for sessions with no known route.
type CLI struct {
	rl *readline.Instance
}

// NewCLI builds the readline channel.
func NewCLI() (*CLI, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		InterruptPrompt: "^C",
	})
	if err != nil {
		return nil, fmt.Errorf("readline init: %w", err)
	}
	return &CLI{rl: rl}, nil
}

func (c *CLI) Name() string { return "cli" }

// Allows is always true: the terminal's owner is trusted.
func (c *CLI) Allows(string) bool { return true }

// Limit is 0: the terminal has no message size limit.
func (c *CLI) Limit() int { return 0 }

// Start reads lines until ctx is cancelled or stdin closes.
func (c *CLI) Start(ctx context.Context, onMessage OnMessage) error {
	go func() {
		<-ctx.Done()
		c.rl.Close()
	}()

	for {
		line, err := c.rl.Readline()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, readline.ErrInterrupt):
				continue
			case errors.Is(err, io.EOF):
				// Detached stdin (daemon mode): the listener is done but
				// the channel stays up so fallback replies keep printing.
				<-ctx.Done()
				return nil
			default:
				return fmt.Errorf("cli read: %w", err)
			}
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		onMessage(ctx, line, bus.DeliveryContext{
			Channel: c.Name(),
			ChatID:  "local",
			UserID:  "local",
		})
	}
}

func (c *CLI) Reply(ctx context.Context, content string, dctx bus.DeliveryContext) error {
	fmt.Fprintf(c.rl.Stdout(), "agent> %s\n", content)
	return nil
}

// Post writes to the terminal; the terminal is its own default
// destination.
func (c *CLI) Post(ctx context.Context, content string) error {
	return c.Reply(ctx, content, bus.DeliveryContext{Channel: c.Name(), ChatID: "local"})
}

func (c *CLI) Stop(ctx context.Context) error {
	return c.rl.Close()
}
