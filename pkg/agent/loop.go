package agent

import (
	"context"
	"errors"
	"time"

	"meetbot/pkg/bot"
	"meetbot/pkg/bus"
	"meetbot/pkg/detector"
	"meetbot/pkg/dom"
	"meetbot/pkg/fault"
	"meetbot/pkg/panel"
)

const (
	activeTimeTick  = time.Second
	teardownTimeout = 2 * time.Second
)

// Run drives the agent until ctx is done. Detector verdicts, bus events,
// panel actions and the active-time tick are handled one at a time on the
// calling goroutine.
func (i *Instance) Run(ctx context.Context) error {
	events, unsubscribe := i.events.Subscribe(ctx, 64)
	defer unsubscribe()
	actions := i.doc.Actions(ctx)

	verdicts := make(chan detector.Verdict, 1)
	go i.detector.Watch(ctx, func(_ context.Context, v detector.Verdict) {
		// Only the latest verdict matters.
		select {
		case <-verdicts:
		default:
		}
		verdicts <- v
	})

	ticker := time.NewTicker(activeTimeTick)
	defer ticker.Stop()

	i.log.Info("Content agent started")
	for {
		select {
		case <-ctx.Done():
			i.teardown()
			return nil
		case v := <-verdicts:
			i.reconcile(ctx, v)
		case event, ok := <-events:
			if !ok {
				i.teardown()
				return nil
			}
			i.handleEvent(ctx, event)
		case action, ok := <-actions:
			if !ok {
				actions = nil
				continue
			}
			i.handleAction(ctx, action)
		case <-ticker.C:
			if i.Mounted() && i.Status() == bus.StatusJoined {
				i.rerender(ctx)
			}
		}
	}
}

// reconcile brings the mount in line with the meeting verdict. Every new
// mount opens a fresh channel and reconciles once against the service.
func (i *Instance) reconcile(ctx context.Context, v detector.Verdict) {
	created, err := i.injector.Reconcile(ctx, v.Active)
	if err != nil {
		i.log.Warn("Panel reconcile failed", "active", v.Active, "error", err)
	}

	mounted := v.Active && i.injector.Mounted(ctx)

	i.mu.Lock()
	wasMounted := i.mounted
	i.mounted = mounted
	i.mu.Unlock()

	switch {
	case created:
		i.log.Info("Meeting active, panel mounted", "selector", v.Selector)
		if err := i.channel.Open(ctx); err != nil {
			i.log.Warn("Channel open failed", "error", err)
		}
		i.refresh(ctx)
	case wasMounted && !mounted:
		i.log.Info("Meeting inactive, panel removed")
		i.channel.Close()
		i.poller.Halt()
	}
}

// refresh reconciles once against the service when logged in. A session
// without a cached profile fetches it first; a 401 there ends the session.
func (i *Instance) refresh(ctx context.Context) {
	session, err := i.auth.Session(ctx)
	if err != nil {
		return
	}

	if session.User == nil {
		if _, err := i.auth.Profile(ctx); err != nil {
			i.log.Warn("Profile fetch failed", "error", err)
			if !i.auth.HasSession(ctx) {
				return
			}
		}
		i.rerender(ctx)
	}

	meetingURL, err := i.doc.URL(ctx)
	if err != nil {
		i.log.Warn("Cannot read meeting URL", "error", err)
		return
	}
	if _, err := i.poller.Refresh(ctx, meetingURL); err != nil {
		i.log.Warn("Status refresh failed", "error", err)
	}
}

func (i *Instance) handleEvent(ctx context.Context, event bus.Event) {
	switch event.Type {
	case bus.EventStatusUpdate:
		if event.Error != "" {
			i.setError(event.Error)
		}
		i.setStatus(ctx, event.Status, event.Source)
	case bus.EventAuthChanged:
		if event.Error != "" {
			i.poller.Halt()
			i.mu.Lock()
			i.authMode = panel.ModeLogin
			i.notice = event.Error
			i.mu.Unlock()
		}
		i.rerender(ctx)
	case bus.EventCommandFailed:
		i.setError(event.Error)
		i.rerender(ctx)
	}
}

func (i *Instance) handleAction(ctx context.Context, action dom.Action) {
	i.log.Debug("Panel action", "action", action.Name)

	switch action.Name {
	case panel.ActionToggle:
		i.mu.Lock()
		i.collapsed = !i.collapsed
		i.mu.Unlock()
	case panel.ActionShowLogin, panel.ActionShowSignup:
		i.mu.Lock()
		i.authMode = panel.ModeLogin
		if action.Name == panel.ActionShowSignup {
			i.authMode = panel.ModeSignup
		}
		i.errText = ""
		i.notice = ""
		i.mu.Unlock()
	case panel.ActionLogin:
		i.login(ctx, action.Fields)
	case panel.ActionSignup:
		i.signup(ctx, action.Fields)
	case panel.ActionLogout:
		if err := i.auth.Logout(ctx); err != nil {
			i.log.Error("Logout failed", "error", err)
		}
		i.poller.Halt()
	case panel.ActionStart:
		i.start(ctx)
	case panel.ActionStop:
		i.stop(ctx)
	default:
		i.log.Debug("Ignoring unknown panel action", "action", action.Name)
		return
	}
	i.rerender(ctx)
}

func (i *Instance) login(ctx context.Context, fields map[string]string) {
	i.beginLoading()

	if _, err := i.auth.Login(ctx, fields["email"], fields["password"]); err != nil {
		i.setError(fault.Message(err))
		return
	}

	i.mu.Lock()
	i.loading = false
	i.errText = ""
	i.notice = ""
	i.mu.Unlock()
	i.refresh(ctx)
}

func (i *Instance) signup(ctx context.Context, fields map[string]string) {
	i.beginLoading()

	result, err := i.auth.Signup(ctx, fields["full_name"], fields["email"], fields["password"], fields["confirmPassword"])
	if err != nil {
		i.setError(fault.Message(err))
		return
	}

	i.mu.Lock()
	i.loading = false
	i.errText = ""
	i.notice = result.Message
	if result.VerificationRequired || result.Session == nil {
		i.authMode = panel.ModeLogin
	}
	i.mu.Unlock()

	if result.Session != nil {
		i.refresh(ctx)
	}
}

func (i *Instance) start(ctx context.Context) {
	meetingURL, err := i.doc.URL(ctx)
	if err != nil {
		i.setError("Could not read the meeting URL")
		return
	}

	participants, err := bot.ScrapeParticipants(ctx, i.doc, i.opts.ParticipantSelector, i.opts.PlaceholderHost)
	if err != nil {
		i.log.Warn("Participant scrape failed, starting without participants", "error", err)
		participants = nil
	}

	i.beginLoading()
	i.rerender(ctx)
	if err := i.poller.Start(ctx, meetingURL, participants); err != nil {
		i.commandFailed(ctx, err)
		return
	}
	i.setStatus(ctx, i.poller.Status(), bus.SourceCommand)
}

func (i *Instance) stop(ctx context.Context) {
	meetingURL, err := i.doc.URL(ctx)
	if err != nil {
		i.setError("Could not read the meeting URL")
		return
	}

	i.beginLoading()
	i.rerender(ctx)
	if err := i.poller.Stop(ctx, meetingURL); err != nil {
		i.commandFailed(ctx, err)
		return
	}
	i.setStatus(ctx, i.poller.Status(), bus.SourceCommand)
}

// commandFailed surfaces a start/stop failure without touching the status.
func (i *Instance) commandFailed(ctx context.Context, err error) {
	message := fault.Message(err)
	i.log.Warn("Bot command failed", "error", err)
	i.setError(message)
	i.events.Publish(ctx, bus.Event{Type: bus.EventCommandFailed, Source: bus.SourceCommand, Error: message})
}

func (i *Instance) beginLoading() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.loading = true
	i.errText = ""
}

// teardown cancels timers and destroys the mount when the agent exits.
func (i *Instance) teardown() {
	i.channel.Close()
	i.poller.Halt()

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := i.injector.Remove(ctx); err != nil && !errors.Is(err, context.Canceled) {
		i.log.Debug("Panel removal on shutdown failed", "error", err)
	}

	if i.ownsBus {
		i.events.Close()
	}
	i.log.Info("Content agent stopped")
}
