package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"meetbot/pkg/bot"
	"meetbot/pkg/bus"
	"meetbot/pkg/channel"
	"meetbot/pkg/config"
	"meetbot/pkg/logger"
	"meetbot/pkg/ui/monitor"
)

const monitorLogFile = "monitor.log"

var monitorMeeting string

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Show the live bot status",
	Long:  "Follows the broker in a terminal panel. With --meeting the panel can also start and stop the bot for that meeting.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		logFile, err := openMonitorLog()
		if err != nil {
			fmt.Printf("failed to open monitor log: %v\n", err)
			return
		}
		defer logFile.Close()

		appLogger, err := logger.NewWithWriter(cfg.Logging, logFile)
		if err != nil {
			fmt.Printf("failed to initialize logger: %v\n", err)
			return
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.monitor")

		runCtx, stop := runContext()
		defer stop()

		if err := runMonitor(runCtx, cfg, strings.TrimSpace(monitorMeeting), log); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			fmt.Printf("monitor failed: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVarP(&monitorMeeting, "meeting", "m", "", "meeting URL to control; read-only without it")
}

func openMonitorLog() (io.WriteCloser, error) {
	dir := config.ConfigDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return os.OpenFile(filepath.Join(dir, monitorLogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func runMonitor(ctx context.Context, cfg *config.Config, meetingURL string, log *slog.Logger) error {
	events := bus.New()
	defer events.Close()

	feed, unsubscribe := events.Subscribe(ctx, 32)
	defer unsubscribe()

	broker := brokerURL(cfg)
	link := channel.New(channel.WebsocketDialer{BaseURL: broker}, events, channel.Options{
		Name:       cfg.Broker.ChannelName,
		MaxRetries: cfg.Agent.MaxRetries,
		BaseDelay:  time.Duration(cfg.Agent.RetryDelayMillis) * time.Millisecond,
	}, log)
	if err := link.Open(ctx); err != nil {
		log.Warn("Broker not reachable yet", "broker", broker, "error", err)
	}
	defer link.Close()

	var ctrl monitor.Controller
	if meetingURL != "" {
		remote := apiClient(cfg, log)
		sessions, closeStore, err := openSession(cfg, remote, events, log)
		if err != nil {
			return err
		}
		defer closeStore()

		poller := bot.NewPoller(bot.NewClient(remote, sessions, cfg.Agent.Platform, log), bot.PollerOptions{
			Interval:  time.Duration(cfg.Agent.PollIntervalSeconds) * time.Second,
			Messenger: channel.HTTPMessenger{BaseURL: broker},
			Events:    events,
		}, log)
		defer poller.Halt()

		if _, err := poller.Refresh(ctx, meetingURL); err != nil {
			log.Warn("Initial status refresh failed", "meeting", meetingURL, "error", err)
		}
		ctrl = meetingController{poller: poller, meetingURL: meetingURL}
	}

	return monitor.Run(ctx, monitor.Info{BrokerAddr: broker, MeetingURL: meetingURL}, feed, ctrl)
}

// meetingController binds the monitor's start and stop keys to one meeting.
type meetingController struct {
	poller     *bot.Poller
	meetingURL string
}

func (c meetingController) Start(ctx context.Context) error {
	return c.poller.Start(ctx, c.meetingURL, nil)
}

func (c meetingController) Stop(ctx context.Context) error {
	return c.poller.Stop(ctx, c.meetingURL)
}

func (c meetingController) ActiveTime(now time.Time) time.Duration {
	return c.poller.ActiveTime(now)
}
