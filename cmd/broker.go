package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"meetbot/pkg/config"
	"meetbot/pkg/gateway"
	"meetbot/pkg/notify/telegram"
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Run the status broker",
	Long:  "Runs the single status authority that every content agent and monitor connects to, with health and readiness endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		_ = args

		cfg, log, err := loadRuntime("cmd.broker")
		if err != nil {
			fmt.Println(err)
			return
		}

		notifiers, err := enabledNotifiers(cfg, log)
		if err != nil {
			log.Error("Broker configuration invalid", "error", err)
			return
		}

		runCtx, stop := runContext()
		defer stop()

		svc := gateway.NewService(cfg.Broker, notifiers, log)

		log.Info("Broker starting", "address", cfg.Broker.BrokerAddr(), "notifiers", enabledNotifierNames(notifiers))
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error("Broker runtime failed", "error", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(brokerCmd)
}

func enabledNotifiers(cfg *config.Config, log *slog.Logger) ([]gateway.Notifier, error) {
	notifiers := make([]gateway.Notifier, 0, 1)

	if cfg.Notify.Telegram.Enabled {
		notifier, err := telegram.New(cfg.Notify.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure telegram notifier: %w", err)
		}
		notifiers = append(notifiers, notifier)
	}

	return notifiers, nil
}

func enabledNotifierNames(notifiers []gateway.Notifier) string {
	if len(notifiers) == 0 {
		return "none"
	}

	names := make([]string, 0, len(notifiers))
	for _, notifier := range notifiers {
		names = append(names, notifier.Name())
	}

	return strings.Join(names, ",")
}
