package bot

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"meetbot/pkg/bus"
	"meetbot/pkg/channel"
	"meetbot/pkg/fault"
	"meetbot/pkg/logger"
)

// DefaultInterval is the fixed delay between the end of one status request
// and the start of the next.
const DefaultInterval = 3 * time.Second

// Commands is the remote surface the poller reconciles against. Client
// satisfies it.
type Commands interface {
	Start(ctx context.Context, meetingURL string, emails []string) (time.Time, error)
	Stop(ctx context.Context, meetingURL string) error
	Status(ctx context.Context, meetingURL string) (Snapshot, error)
}

type PollerOptions struct {
	Interval time.Duration
	// Messenger receives a SET_STATUS after every reconciliation. Optional.
	Messenger channel.Messenger
	Events    *bus.Bus
}

// Poller keeps the local status replica in line with the remote service.
// At most one status request is in flight; the next is scheduled only after
// the previous one completed.
type Poller struct {
	commands  Commands
	messenger channel.Messenger
	events    *bus.Bus
	interval  time.Duration
	log       *slog.Logger
	now       func() time.Time

	mu           sync.Mutex
	status       bus.Status
	meetingURL   string
	startTime    time.Time
	participants []Participant
	timer        *time.Timer
	polling      bool
	generation   uint64
}

func NewPoller(commands Commands, opts PollerOptions, log *slog.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}

	return &Poller{
		commands:  commands,
		messenger: opts.Messenger,
		events:    opts.Events,
		interval:  opts.Interval,
		log:       logger.Component(log, "bot.poller"),
		now:       time.Now,
		status:    bus.StatusIdle,
	}
}

// Start sends the bot to meetingURL. On success the status becomes awaiting
// and polling begins. On failure nothing changes.
func (p *Poller) Start(ctx context.Context, meetingURL string, participants []Participant) error {
	started, err := p.commands.Start(ctx, meetingURL, Emails(participants))
	if err != nil {
		return err
	}
	if started.IsZero() {
		started = p.now()
	}

	p.mu.Lock()
	p.meetingURL = meetingURL
	p.startTime = started
	p.participants = slices.Clone(participants)
	p.status = bus.StatusAwaiting
	gen := p.restartLocked()
	p.mu.Unlock()

	p.log.Info("Bot starting, polling status", "meeting_url", meetingURL, "start_time", started)
	p.push(ctx, bus.StatusAwaiting)
	p.schedule(gen)
	return nil
}

// Stop recalls the bot. On success the status becomes stopped, the start
// time and participants are cleared and polling halts.
func (p *Poller) Stop(ctx context.Context, meetingURL string) error {
	if err := p.commands.Stop(ctx, meetingURL); err != nil {
		return err
	}

	p.mu.Lock()
	p.haltLocked()
	p.status = bus.StatusStopped
	p.startTime = time.Time{}
	p.participants = nil
	p.mu.Unlock()

	p.log.Info("Bot stopped", "meeting_url", meetingURL)
	p.push(ctx, bus.StatusStopped)
	return nil
}

// Refresh reconciles once against meetingURL. A bot still on its way in
// keeps being polled until it resolves.
func (p *Poller) Refresh(ctx context.Context, meetingURL string) (bus.Status, error) {
	p.mu.Lock()
	p.meetingURL = meetingURL
	gen := p.restartLocked()
	p.mu.Unlock()

	return p.reconcile(ctx, gen)
}

// Halt cancels any scheduled poll. Responses already in flight are ignored.
func (p *Poller) Halt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.haltLocked()
}

func (p *Poller) Status() bus.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) StartTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startTime
}

// ActiveTime is now minus the recorded start time while joined, else zero.
func (p *Poller) ActiveTime(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != bus.StatusJoined || p.startTime.IsZero() {
		return 0
	}
	return max(now.Sub(p.startTime), 0)
}

func (p *Poller) Polling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polling
}

func (p *Poller) Participants() []Participant {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.participants)
}

func (p *Poller) schedule(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.generation || !p.polling {
		return
	}
	p.timer = time.AfterFunc(p.interval, func() {
		if _, err := p.reconcile(context.Background(), gen); err != nil {
			p.log.Warn("Status poll failed", "error", err)
		}
	})
}

// reconcile fetches the remote status and applies it unless gen has been
// superseded while the request was in flight.
func (p *Poller) reconcile(ctx context.Context, gen uint64) (bus.Status, error) {
	p.mu.Lock()
	meetingURL := p.meetingURL
	p.mu.Unlock()

	snapshot, err := p.commands.Status(ctx, meetingURL)

	p.mu.Lock()
	if gen != p.generation {
		status := p.status
		p.mu.Unlock()
		return status, nil
	}

	if err != nil {
		status := p.status
		if fault.Is(err, fault.Auth) {
			p.haltLocked()
			p.mu.Unlock()
			return status, err
		}
		p.mu.Unlock()
		p.schedule(gen)
		return status, err
	}

	p.status = snapshot.Status
	switch snapshot.Status {
	case bus.StatusJoined:
		if !snapshot.StartTime.IsZero() {
			p.startTime = snapshot.StartTime
		}
		p.haltLocked()
	case bus.StatusStopped, bus.StatusIdle:
		p.startTime = time.Time{}
		p.participants = nil
		p.haltLocked()
	default:
		if !snapshot.StartTime.IsZero() {
			p.startTime = snapshot.StartTime
		}
	}
	p.mu.Unlock()

	p.log.Debug("Status reconciled", "meeting_url", meetingURL, "status", snapshot.Status)
	p.push(ctx, snapshot.Status)
	p.schedule(gen)
	return snapshot.Status, nil
}

// push forwards status to the broker and to local listeners.
func (p *Poller) push(ctx context.Context, status bus.Status) {
	if p.messenger != nil {
		if _, err := p.messenger.Send(ctx, bus.Message{Type: bus.TypeSetStatus, Status: status}); err != nil {
			p.log.Warn("Failed to push status to broker", "status", status, "error", err)
		}
	}
	if p.events != nil {
		p.events.Publish(ctx, bus.Event{Type: bus.EventStatusUpdate, Source: bus.SourcePoller, Status: status})
	}
}

// restartLocked supersedes any pending poll and marks polling active.
func (p *Poller) restartLocked() uint64 {
	p.haltLocked()
	p.polling = true
	return p.generation
}

func (p *Poller) haltLocked() {
	p.generation++
	p.polling = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
