package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	envConfigPath        = "MEETBOT_CONFIG"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramChatID    = "TELEGRAM_CHAT_ID"
	defaultAPIBaseURL    = "https://ainotestakerbackend.trylenoxinstruments.com"
	defaultChannelName   = "meet-bot-port"
	defaultBrokerHost    = "127.0.0.1"
	defaultBrokerPort    = 18791
	defaultTargetURLPart = "meet.google.com"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	API     APIConfig     `json:"api"`
	Broker  BrokerConfig  `json:"broker"`
	Agent   AgentConfig   `json:"agent"`
	Storage StorageConfig `json:"storage"`
	Notify  NotifyConfig  `json:"notify,omitempty"`
	Logging LoggingConfig `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// APIConfig points at the remote notes-bot service.
type APIConfig struct {
	BaseURL               string `json:"base_url" split_words:"true"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" split_words:"true"`
}

// BrokerConfig configures the status broker listener and channel name.
type BrokerConfig struct {
	Host        string `json:"host" split_words:"true"`
	Port        int    `json:"port" split_words:"true"`
	ChannelName string `json:"channel_name" split_words:"true"`
}

// AgentConfig configures the content agent attached to a meeting tab.
type AgentConfig struct {
	CDPURL               string   `json:"cdp_url" split_words:"true"`
	TargetURLContains    string   `json:"target_url_contains" split_words:"true"`
	Platform             string   `json:"platform" split_words:"true"`
	PollIntervalSeconds  int      `json:"poll_interval_seconds" split_words:"true"`
	MaxRetries           int      `json:"max_retries" split_words:"true"`
	RetryDelayMillis     int      `json:"retry_delay_ms" split_words:"true"`
	InjectionRetryMillis int      `json:"injection_retry_delay_ms" split_words:"true"`
	MeetingSelectors     []string `json:"meeting_selectors,omitempty" split_words:"true"`
	ContainerSelectors   []string `json:"container_selectors,omitempty" split_words:"true"`
	ParticipantSelector  string   `json:"participant_selector,omitempty" split_words:"true"`
	PlaceholderEmailHost string   `json:"placeholder_email_domain,omitempty" split_words:"true"`
}

// StorageConfig selects the durable AuthSession backend.
type StorageConfig struct {
	Backend string `json:"backend" split_words:"true"`
	Path    string `json:"path" split_words:"true"`
}

// NotifyConfig groups optional status notifiers.
type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig configures the Telegram status notifier.
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chat_id"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:               defaultAPIBaseURL,
			RequestTimeoutSeconds: 15,
		},
		Broker: BrokerConfig{
			Host:        defaultBrokerHost,
			Port:        defaultBrokerPort,
			ChannelName: defaultChannelName,
		},
		Agent: AgentConfig{
			TargetURLContains:    defaultTargetURLPart,
			Platform:             "google_meet",
			PollIntervalSeconds:  3,
			MaxRetries:           5,
			RetryDelayMillis:     1000,
			InjectionRetryMillis: 1000,
		},
		Storage: StorageConfig{Backend: "badger"},
	}
}

// LoadConfig resolves config.json, unmarshals it over defaults, and applies environment overrides.
func LoadConfig() (*Config, error) {
	cfg := Default()

	configPath, err := findConfigPath()
	if err != nil && !errors.Is(err, errConfigNotFound) {
		return nil, err
	}

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := json.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// BrokerAddr returns host:port for the broker listener.
func (c BrokerConfig) BrokerAddr() string {
	host := strings.TrimSpace(c.Host)
	if host == "" {
		host = defaultBrokerHost
	}
	port := c.Port
	if port <= 0 {
		port = defaultBrokerPort
	}
	return host + ":" + strconv.Itoa(port)
}

// applyEnvOverrides injects env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	groups := []struct {
		prefix string
		spec   any
	}{
		{prefix: "MEETBOT_API", spec: &cfg.API},
		{prefix: "MEETBOT_BROKER", spec: &cfg.Broker},
		{prefix: "MEETBOT_AGENT", spec: &cfg.Agent},
		{prefix: "MEETBOT_STORAGE", spec: &cfg.Storage},
	}
	for _, group := range groups {
		if err := envconfig.Process(group.prefix, group.spec); err != nil {
			return fmt.Errorf("apply %s environment: %w", group.prefix, err)
		}
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Notify.Telegram.Token = token
	}

	if rawChatID := strings.TrimSpace(os.Getenv(envTelegramChatID)); rawChatID != "" {
		chatID, err := strconv.ParseInt(rawChatID, 10, 64)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envTelegramChatID, err)
		}
		cfg.Notify.Telegram.ChatID = chatID
	}

	cfg.Agent.MeetingSelectors = compact(cfg.Agent.MeetingSelectors)
	cfg.Agent.ContainerSelectors = compact(cfg.Agent.ContainerSelectors)

	return nil
}

// compact trims values and drops empty entries.
func compact(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	clean := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

var errConfigNotFound = errors.New("config.json not found")

// findConfigPath resolves the active config file location.
//
// Precedence is MEETBOT_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", errConfigNotFound
}

// ConfigDir returns the per-user directory for meetbot state, falling back
// to ./.meetbot when the platform has no user config directory.
func ConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".meetbot"
	}
	return filepath.Join(dir, "meetbot")
}
