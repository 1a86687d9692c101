package bot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"meetbot/pkg/api"
	"meetbot/pkg/bus"
	"meetbot/pkg/fault"
	"meetbot/pkg/logger"
)

const (
	msgStartFailed      = "Failed to start bot"
	msgStopFailed       = "Failed to stop bot"
	msgServerConnection = "Server connection failed"
	msgLoginRequired    = "Please log in to use the notes bot."
)

// Remote is the part of the API client the bot needs.
type Remote interface {
	BotStatusByURL(ctx context.Context, token, meetingURL string) (*api.BotStatus, error)
	StartBot(ctx context.Context, token string, req api.StartBotRequest) (*api.StartBotResponse, error)
	StopBot(ctx context.Context, token, meetingURL string) error
}

// Sessions hands out access tokens and drops the session on auth failures.
// auth.Manager satisfies it.
type Sessions interface {
	AccessToken(ctx context.Context) (string, error)
	CheckAuthFailure(ctx context.Context, err error) bool
}

// Snapshot is the reconciled remote state of one meeting's bot.
type Snapshot struct {
	Status    bus.Status
	StartTime time.Time
}

type Client struct {
	remote   Remote
	sessions Sessions
	platform string
	log      *slog.Logger
}

func NewClient(remote Remote, sessions Sessions, platform string, log *slog.Logger) *Client {
	if platform == "" {
		platform = "google_meet"
	}

	return &Client{
		remote:   remote,
		sessions: sessions,
		platform: platform,
		log:      logger.Component(log, "bot.client"),
	}
}

// Start asks the service to send the bot to meetingURL and returns the
// start time the server reported, or the zero time.
func (c *Client) Start(ctx context.Context, meetingURL string, emails []string) (time.Time, error) {
	token, err := c.token(ctx)
	if err != nil {
		return time.Time{}, err
	}

	resp, err := c.remote.StartBot(ctx, token, api.StartBotRequest{
		MeetingURL:        meetingURL,
		ParticipantEmails: emails,
		Platform:          c.platform,
	})
	if err != nil {
		c.log.Warn("Start command failed", "meeting_url", meetingURL, "error", err)
		return time.Time{}, c.commandError(ctx, err, msgStartFailed)
	}

	started, _ := ParseStartTime(resp.Bot.StartTime)
	c.log.Info("Bot start requested", "meeting_url", meetingURL, "participants", len(emails))
	return started, nil
}

func (c *Client) Stop(ctx context.Context, meetingURL string) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	if err := c.remote.StopBot(ctx, token, meetingURL); err != nil {
		c.log.Warn("Stop command failed", "meeting_url", meetingURL, "error", err)
		return c.commandError(ctx, err, msgStopFailed)
	}

	c.log.Info("Bot stop requested", "meeting_url", meetingURL)
	return nil
}

// Status reads the authoritative bot status. A 404 means no bot and maps
// to idle.
func (c *Client) Status(ctx context.Context, meetingURL string) (Snapshot, error) {
	token, err := c.token(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	resp, err := c.remote.BotStatusByURL(ctx, token, meetingURL)
	if errors.Is(err, api.ErrNotFound) {
		return Snapshot{Status: bus.StatusIdle}, nil
	}
	if err != nil {
		return Snapshot{}, c.commandError(ctx, err, msgServerConnection)
	}

	snapshot := Snapshot{Status: MapRemoteStatus(resp.BotStatus)}
	if started, ok := ParseStartTime(resp.StartTime); ok {
		snapshot.StartTime = started
	}
	return snapshot, nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	token, err := c.sessions.AccessToken(ctx)
	if err != nil {
		return "", fault.Wrap(fault.Auth, err, msgLoginRequired)
	}
	return token, nil
}

// commandError turns a failed call into user-facing text. Auth failures
// invalidate the session as a side effect.
func (c *Client) commandError(ctx context.Context, err error, fallback string) error {
	switch {
	case c.sessions.CheckAuthFailure(ctx, err):
		return fault.Wrap(fault.Auth, err, msgLoginRequired)
	case fault.Is(err, fault.Transport):
		return fault.Wrap(fault.Transport, err, msgServerConnection)
	}

	if message := api.ServerMessage(err); message != "" {
		return fault.Wrap(fault.Domain, err, message)
	}
	return fault.Wrap(fault.Domain, err, fallback)
}
