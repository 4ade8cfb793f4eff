// Command ironclaw runs the personal automation agent gateway: chat
// channels and schedules in, one serialized agent, durable delivery out.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ferrovax/ironclaw/pkg/agent"
	"github.com/ferrovax/ironclaw/pkg/bus"
	"github.com/ferrovax/ironclaw/pkg/channels"
	"github.com/ferrovax/ironclaw/pkg/config"
	"github.com/ferrovax/ironclaw/pkg/cron"
	"github.com/ferrovax/ironclaw/pkg/delivery"
	"github.com/ferrovax/ironclaw/pkg/events"
	"github.com/ferrovax/ironclaw/pkg/identity"
	"github.com/ferrovax/ironclaw/pkg/logger"
	"github.com/ferrovax/ironclaw/pkg/session"
	"github.com/ferrovax/ironclaw/pkg/supervisor"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:           "ironclaw",
		Short:         "Personal automation agent gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defaultCfg := ""
	if home, err := os.UserHomeDir(); err == nil {
		defaultCfg = filepath.Join(home, ".ironclaw", "config.yaml")
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", defaultCfg, "path to config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the gateway",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cfgPath)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show durable state counters",
			RunE: func(cmd *cobra.Command, args []string) error {
				return status(cfgPath)
			},
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serve(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	logger.SetJSON(cfg.LogJSON)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions, err := session.NewStore(cfg.HistoryDir(), cfg.Session.WindowSize, cfg.Session.ChunkMaxBytes)
	if err != nil {
		return err
	}
	ids, err := identity.Open(cfg.IdentityPath())
	if err != nil {
		return err
	}
	defer ids.Close()

	outbox, err := events.NewOutbox(cfg.OutboxDir())
	if err != nil {
		return err
	}
	eventBus := events.NewBus(outbox)
	defer eventBus.Close()

	queue := bus.NewQueue()
	defer queue.Close()

	engine, err := agent.NewDirectory(filepath.Join(cfg.StateDir, "agents"), agent.EchoChat)
	if err != nil {
		return err
	}

	adapters, err := buildAdapters(cfg)
	if err != nil {
		return err
	}
	manager := channels.NewManager(adapters, queue, ids, eventBus, cfg.DefaultAgent)

	senders := make(map[string]delivery.Sender, len(adapters))
	var fallback delivery.Sender
	for _, a := range adapters {
		senders[a.Name()] = a
		if a.Name() == "cli" {
			fallback = a
		}
	}
	deliveryWorker := delivery.NewWorker(eventBus, senders, fallback, ids, cfg.Retry.DeliveryMaxAttempts)
	agentWorker := agent.NewWorker(queue, sessions, engine, eventBus, cfg.Retry.AgentMaxAttempts)

	cronStore, err := cron.NewStore(cfg.CronDir)
	if err != nil {
		return err
	}
	if err := cronStore.Load(); err != nil {
		return err
	}
	cronService := cron.NewService(cronStore, queue, cfg.CronTick)

	// Delivery must be listening before recovery republishes, or
	// crash-window events would be republished into silence.
	deliveryWorker.Attach(ctx)
	if _, err := eventBus.Recover(); err != nil {
		return err
	}

	sup := supervisor.New(0)
	sup.Add("agent", agentWorker.Run)
	sup.Add("delivery", deliveryWorker.Run)
	sup.Add("channels", manager.Run)
	sup.Add("cron", cronService.Run)

	logger.InfoCF("main", "ironclaw gateway up", map[string]interface{}{
		"state_dir": cfg.StateDir,
		"channels":  len(adapters),
	})

	if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.InfoC("main", "Shutdown complete")
	return nil
}

func buildAdapters(cfg *config.Config) ([]channels.Adapter, error) {
	var adapters []channels.Adapter

	if cfg.Channels.Telegram.Enabled {
		a, err := channels.NewTelegram(cfg.Channels.Telegram.TelegramConfig)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	if cfg.Channels.Discord.Enabled {
		a, err := channels.NewDiscord(cfg.Channels.Discord.DiscordConfig)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	if cfg.Channels.Slack.Enabled {
		a, err := channels.NewSlack(cfg.Channels.Slack.SlackConfig)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	if cfg.Channels.WhatsApp.Enabled {
		a, err := channels.NewWhatsApp(cfg.Channels.WhatsApp.WhatsAppConfig)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	if cfg.Channels.CLI.Enabled {
		a, err := channels.NewCLI()
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

func status(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	outbox, err := events.NewOutbox(cfg.OutboxDir())
	if err != nil {
		return err
	}
	fmt.Printf("outbox pending: %d\n", outbox.PendingCount())
	fmt.Printf("outbox failed:  %d\n", outbox.FailedCount())

	ids, err := identity.Open(cfg.IdentityPath())
	if err != nil {
		return err
	}
	defer ids.Close()
	n, err := ids.Count()
	if err != nil {
		return err
	}
	fmt.Printf("identities:     %d\n", n)

	cronStore, err := cron.NewStore(cfg.CronDir)
	if err != nil {
		return err
	}
	if err := cronStore.Load(); err != nil {
		return err
	}
	fmt.Printf("schedules:      %d\n", len(cronStore.All()))
	return nil
}
