package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"meetbot/pkg/api"
	"meetbot/pkg/auth"
	"meetbot/pkg/bus"
	"meetbot/pkg/config"
	"meetbot/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "meetbot",
	Short: "Control a meeting notes bot from the terminal and the meeting tab",
	Long: "MeetBot runs the status broker, attaches a content agent to a meeting tab, " +
		"and starts or stops the remote notes bot.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = cmd
		_ = args
		loadDotEnv(".env")
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Printf("failed to load %s: %v\n", path, err)
	}
}

// loadRuntime loads config and installs the process logger.
func loadRuntime(component string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	return cfg, slog.Default().With("component", component), nil
}

func runContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func brokerURL(cfg *config.Config) string {
	return "http://" + cfg.Broker.BrokerAddr()
}

func apiClient(cfg *config.Config, log *slog.Logger) *api.Client {
	timeout := time.Duration(cfg.API.RequestTimeoutSeconds) * time.Second
	return api.New(cfg.API.BaseURL, timeout, log)
}

// openSession opens the configured session store and a manager over it. The
// returned func closes the store.
func openSession(cfg *config.Config, client *api.Client, events *bus.Bus, log *slog.Logger) (*auth.Manager, func(), error) {
	store, err := auth.OpenStore(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}

	closeStore := func() {
		if err := store.Close(); err != nil {
			log.Warn("Failed to close session store", "error", err)
		}
	}

	return auth.NewManager(store, client, events, log), closeStore, nil
}
