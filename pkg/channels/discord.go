package channels

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/ferrovax/ironclaw/pkg/bus"
	"github.com/ferrovax/ironclaw/pkg/delivery"
)

const discordLimit = 2000

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Token     string   `yaml:"token" env:"IRONCLAW_DISCORD_TOKEN"`
	AllowFrom []string `yaml:"allow_from"`
	// DefaultChannelID receives proactive posts; optional.
	DefaultChannelID string `yaml:"default_channel_id"`
}

// Discord is the gateway-websocket Discord adapter.
type Discord struct {
	session    *discordgo.Session
	allowList  AllowList
	defChannel string
}

// NewDiscord builds the adapter without opening the gateway; the
// connection belongs to Start.
func NewDiscord(cfg DiscordConfig) (*Discord, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session init: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	return &Discord{
		session:    session,
		allowList:  AllowList(cfg.AllowFrom),
		defChannel: cfg.DefaultChannelID,
	}, nil
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Allows(userID string) bool { return d.allowList.Allows(userID) }

func (d *Discord) Limit() int { return discordLimit }

// Start opens the gateway and listens until ctx is cancelled. discordgo
// reconnects transient gateway drops internally; a failed open is fatal.
func (d *Discord) Start(ctx context.Context, onMessage OnMessage) error {
	remove := d.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot || m.Content == "" {
			return
		}
		onMessage(ctx, m.Content, bus.DeliveryContext{
			Channel: d.Name(),
			ChatID:  m.ChannelID,
			UserID:  m.Author.ID,
		})
	})
	defer remove()

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("discord gateway open: %w", err)
	}
	<-ctx.Done()
	return nil
}

func (d *Discord) Reply(ctx context.Context, content string, dctx bus.DeliveryContext) error {
	if dctx.ChatID == "" {
		return fmt.Errorf("discord reply without channel id: %w", delivery.ErrInvalidDestination)
	}
	if _, err := d.session.ChannelMessageSend(dctx.ChatID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

func (d *Discord) Post(ctx context.Context, content string) error {
	if d.defChannel == "" {
		return fmt.Errorf("discord has no default channel configured: %w", delivery.ErrInvalidDestination)
	}
	return d.Reply(ctx, content, bus.DeliveryContext{Channel: d.Name(), ChatID: d.defChannel})
}

func (d *Discord) Stop(ctx context.Context) error {
	if err := d.session.Close(); err != nil {
		return fmt.Errorf("discord close: %w", err)
	}
	return nil
}
