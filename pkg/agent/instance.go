// Package agent is the content agent: it watches the host page, keeps the
// panel mounted while a meeting is active and keeps its status replica in
// line with the broker and the remote service.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"meetbot/pkg/auth"
	"meetbot/pkg/bot"
	"meetbot/pkg/bus"
	"meetbot/pkg/channel"
	"meetbot/pkg/config"
	"meetbot/pkg/detector"
	"meetbot/pkg/dom"
	"meetbot/pkg/injector"
	"meetbot/pkg/logger"
	"meetbot/pkg/panel"
)

type Options struct {
	ChannelName         string
	PollInterval        time.Duration
	MaxRetries          int
	RetryDelay          time.Duration
	InjectionRetry      time.Duration
	MeetingSelectors    []string
	ContainerSelectors  []string
	ParticipantSelector string
	PlaceholderHost     string
}

// OptionsFromConfig maps the agent and broker config sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ChannelName:         cfg.Broker.ChannelName,
		PollInterval:        time.Duration(cfg.Agent.PollIntervalSeconds) * time.Second,
		MaxRetries:          cfg.Agent.MaxRetries,
		RetryDelay:          time.Duration(cfg.Agent.RetryDelayMillis) * time.Millisecond,
		InjectionRetry:      time.Duration(cfg.Agent.InjectionRetryMillis) * time.Millisecond,
		MeetingSelectors:    cfg.Agent.MeetingSelectors,
		ContainerSelectors:  cfg.Agent.ContainerSelectors,
		ParticipantSelector: cfg.Agent.ParticipantSelector,
		PlaceholderHost:     cfg.Agent.PlaceholderEmailHost,
	}
}

// Deps are the collaborators of an Instance. Events is created when nil.
type Deps struct {
	Document  dom.Document
	Dialer    channel.Dialer
	Messenger channel.Messenger
	Commands  bot.Commands
	Auth      *auth.Manager
	Events    *bus.Bus
}

type Instance struct {
	doc      dom.Document
	events   *bus.Bus
	ownsBus  bool
	detector *detector.Detector
	injector *injector.Injector
	channel  *channel.Channel
	poller   *bot.Poller
	auth     *auth.Manager
	opts     Options
	history  *History
	log      *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	status    bus.Status
	mounted   bool
	loading   bool
	errText   string
	notice    string
	collapsed bool
	authMode  panel.AuthMode
}

func New(deps Deps, opts Options, log *slog.Logger) *Instance {
	events := deps.Events
	ownsBus := events == nil
	if ownsBus {
		events = bus.New()
	}

	i := &Instance{
		doc:      deps.Document,
		events:   events,
		ownsBus:  ownsBus,
		auth:     deps.Auth,
		opts:     opts,
		history:  NewHistory(0),
		log:      logger.Component(log, "agent"),
		now:      time.Now,
		status:   bus.StatusIdle,
		authMode: panel.ModeLogin,
	}

	i.detector = detector.New(deps.Document, opts.MeetingSelectors, log)
	i.injector = injector.New(deps.Document, i.view, injector.Options{
		Containers: opts.ContainerSelectors,
		RetryDelay: opts.InjectionRetry,
	}, log)
	i.channel = channel.New(deps.Dialer, events, channel.Options{
		Name:       opts.ChannelName,
		MaxRetries: opts.MaxRetries,
		BaseDelay:  opts.RetryDelay,
	}, log)
	i.poller = bot.NewPoller(deps.Commands, bot.PollerOptions{
		Interval:  opts.PollInterval,
		Messenger: deps.Messenger,
		Events:    events,
	}, log)

	return i
}

// Status returns the cached replica.
func (i *Instance) Status() bus.Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

func (i *Instance) History() []StatusChange {
	return i.history.List()
}

func (i *Instance) Mounted() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.mounted
}

// HandleMessage answers one-shot messages from other surfaces: PING for
// liveness and GET_STATUS/SET_STATUS against the replica.
func (i *Instance) HandleMessage(ctx context.Context, msg bus.Message) bus.Response {
	switch msg.Type {
	case bus.TypePing:
		return bus.Response{Success: true, Status: i.Status()}
	case bus.TypeGetStatus:
		return bus.Response{Success: true, Status: i.Status()}
	case bus.TypeSetStatus:
		if !msg.Status.Valid() {
			return bus.Response{Error: fmt.Sprintf("invalid status %q", msg.Status)}
		}
		i.setStatus(ctx, msg.Status, bus.SourceAgent)
		return bus.Response{Success: true, Status: msg.Status}
	default:
		return bus.Response{Error: fmt.Sprintf("unknown message type %q", msg.Type)}
	}
}

// view builds the frame the injector renders.
func (i *Instance) view(ctx context.Context) panel.View {
	session, err := i.auth.Session(ctx)

	i.mu.Lock()
	v := panel.View{
		Authenticated: err == nil,
		Collapsed:     i.collapsed,
		Status:        i.status,
		Loading:       i.loading,
		Error:         i.errText,
		Notice:        i.notice,
		AuthMode:      i.authMode,
	}
	i.mu.Unlock()

	if session != nil && session.User != nil {
		v.User = panel.User{
			FullName:     session.User.FullName,
			Email:        session.User.Email,
			ProfileImage: session.User.ProfileImage,
		}
	}
	v.ActiveTime = i.poller.ActiveTime(i.now())
	return v
}

// setStatus writes the replica. The last writer wins regardless of source.
func (i *Instance) setStatus(ctx context.Context, status bus.Status, source bus.Source) {
	i.mu.Lock()
	changed := i.status != status
	i.status = status
	if status != bus.StatusError {
		i.loading = false
	}
	i.mu.Unlock()

	i.history.Append(status, source)
	if changed {
		i.log.Debug("Status replica updated", "status", status, "source", source)
	}

	if err := i.injector.Notify(ctx, status); err != nil {
		i.log.Debug("Status event not delivered", "error", err)
	}
	i.rerender(ctx)
}

func (i *Instance) rerender(ctx context.Context) {
	if err := i.injector.Rerender(ctx); err != nil {
		i.log.Warn("Panel re-render failed", "error", err)
	}
}

func (i *Instance) setError(text string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.errText = text
	i.loading = false
}
