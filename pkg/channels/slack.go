package channels

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/ferrovax/ironclaw/pkg/bus"
	"github.com/ferrovax/ironclaw/pkg/delivery"
)

const slackLimit = 4000

// SlackConfig configures the Slack adapter. Socket Mode needs both a bot
// token (xoxb-) and an app-level token (xapp-).
type SlackConfig struct {
	BotToken  string   `yaml:"bot_token" env:"IRONCLAW_SLACK_BOT_TOKEN"`
	AppToken  string   `yaml:"app_token" env:"IRONCLAW_SLACK_APP_TOKEN"`
	AllowFrom []string `yaml:"allow_from"`
	// DefaultChannelID receives proactive posts; optional.
	DefaultChannelID string `yaml:"default_channel_id"`
}

// Slack is the Socket Mode Slack adapter.
type Slack struct {
	api        *slack.Client
	socket     *socketmode.Client
	allowList  AllowList
	defChannel string
}

// NewSlack builds the adapter; the socket connection belongs to Start.
func NewSlack(cfg SlackConfig) (*Slack, error) {
	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	return &Slack{
		api:        api,
		socket:     socketmode.New(api),
		allowList:  AllowList(cfg.AllowFrom),
		defChannel: cfg.DefaultChannelID,
	}, nil
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Allows(userID string) bool { return s.allowList.Allows(userID) }

func (s *Slack) Limit() int { return slackLimit }

// Start runs the socket client and consumes its event stream until ctx
// is cancelled or the socket dies.
func (s *Slack) Start(ctx context.Context, onMessage OnMessage) error {
	runErr := make(chan error, 1)
	go func() { runErr <- s.socket.RunContext(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-runErr:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("slack socket died: %w", err)
		case evt, ok := <-s.socket.Events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("slack event stream closed")
			}
			s.handleEvent(ctx, evt, onMessage)
		}
	}
}

func (s *Slack) handleEvent(ctx context.Context, evt socketmode.Event, onMessage OnMessage) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	if evt.Request != nil {
		s.socket.Ack(*evt.Request)
	}

	inner, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok || inner.BotID != "" || inner.Text == "" {
		return
	}
	onMessage(ctx, inner.Text, bus.DeliveryContext{
		Channel: s.Name(),
		ChatID:  inner.Channel,
		UserID:  inner.User,
	})
}

func (s *Slack) Reply(ctx context.Context, content string, dctx bus.DeliveryContext) error {
	if dctx.ChatID == "" {
		return fmt.Errorf("slack reply without channel id: %w", delivery.ErrInvalidDestination)
	}
	_, _, err := s.api.PostMessageContext(ctx, dctx.ChatID, slack.MsgOptionText(content, false))
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

func (s *Slack) Post(ctx context.Context, content string) error {
	if s.defChannel == "" {
		return fmt.Errorf("slack has no default channel configured: %w", delivery.ErrInvalidDestination)
	}
	return s.Reply(ctx, content, bus.DeliveryContext{Channel: s.Name(), ChatID: s.defChannel})
}

func (s *Slack) Stop(ctx context.Context) error {
	// The socket client shuts down with the start context.
	return nil
}
